package queue

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	sqsTypes "github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

const (
	// receiveWaitSeconds enables SQS long polling.
	receiveWaitSeconds = 20
	// receiveBatchSize is the max messages fetched per ReceiveMessage call.
	receiveBatchSize = 10
	// receiveErrorBackoff is the pause after a failed receive before retrying.
	receiveErrorBackoff = 5 * time.Second
	// visibilityTimeout is how long a received message stays hidden while the
	// handler runs.
	visibilityTimeout = 60
)

// SQSReceiver abstracts the SQS receive/delete operations for testability.
// Production code passes the *sqs.Client from aws-sdk-go-v2.
type SQSReceiver interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// EventHandler processes one decoded engine event. A nil return deletes the
// message; an error leaves it on the queue for redelivery after the
// visibility timeout.
type EventHandler interface {
	HandleEngineEvent(ctx context.Context, envelope types.EventEnvelope, ev types.EngineEvent) error
}

// Consumer is the long-polling SQS receive loop feeding the notification
// worker.
type Consumer struct {
	client   SQSReceiver
	queueURL string
	handler  EventHandler
	logger   *slog.Logger
}

// NewConsumer creates the notification-queue consumer.
func NewConsumer(client SQSReceiver, awsCfg config.AWSConfig, handler EventHandler, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		client:   client,
		queueURL: awsCfg.NotificationQueue,
		handler:  handler,
		logger:   logger,
	}
}

// Run polls the queue until the context is cancelled. Receive failures are
// logged and retried after a backoff; they never terminate the loop.
func (c *Consumer) Run(ctx context.Context) error {
	c.logger.InfoContext(ctx, "notification consumer started",
		slog.String("queue_url", c.queueURL))

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            aws.String(c.queueURL),
			MaxNumberOfMessages: receiveBatchSize,
			WaitTimeSeconds:     receiveWaitSeconds,
			VisibilityTimeout:   visibilityTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.ErrorContext(ctx, "receiving from notification queue",
				slog.String("error", err.Error()))
			select {
			case <-time.After(receiveErrorBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		for _, m := range out.Messages {
			c.process(ctx, m)
		}
	}
}

// process decodes and handles one message. Messages that cannot decode are
// deleted immediately; redelivering them would fail identically forever.
func (c *Consumer) process(ctx context.Context, m sqsTypes.Message) {
	var envelope types.EventEnvelope
	if err := json.Unmarshal([]byte(aws.ToString(m.Body)), &envelope); err != nil {
		c.logger.WarnContext(ctx, "deleting undecodable queue message",
			slog.String("error", err.Error()))
		c.delete(ctx, m)
		return
	}

	var ev types.EngineEvent
	if err := json.Unmarshal(envelope.Payload, &ev); err != nil {
		c.logger.WarnContext(ctx, "deleting envelope with undecodable payload",
			slog.String("event_id", envelope.EventID),
			slog.String("error", err.Error()))
		c.delete(ctx, m)
		return
	}

	if err := c.handler.HandleEngineEvent(ctx, envelope, ev); err != nil {
		c.logger.ErrorContext(ctx, "handling engine event",
			slog.String("event_id", envelope.EventID),
			slog.String("event_type", envelope.EventType),
			slog.String("error", err.Error()),
		)
		// Leave on the queue; visibility timeout drives the retry.
		return
	}

	c.delete(ctx, m)
}

func (c *Consumer) delete(ctx context.Context, m sqsTypes.Message) {
	_, err := c.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.queueURL),
		ReceiptHandle: m.ReceiptHandle,
	})
	if err != nil {
		c.logger.ErrorContext(ctx, "deleting queue message",
			slog.String("error", err.Error()))
	}
}
