// Package queue provides the SQS producer and consumer for engine events,
// and the NATS subscription carrying inbound sensor telemetry.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/google/uuid"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// engineEventVersion is the schema version stamped on published envelopes.
const engineEventVersion = "1"

// SQSSender abstracts the SQS SendMessage operation for testability.
// Production code passes the *sqs.Client from aws-sdk-go-v2.
type SQSSender interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Publisher sends engine events to the notification queue wrapped in the
// standard EventEnvelope.
type Publisher struct {
	client   SQSSender
	queueURL string
	source   string
	logger   *slog.Logger
}

// NewPublisher creates the engine-event publisher. source names the
// publishing component ("engine", "ingest", "dispatch") in the envelope.
func NewPublisher(client SQSSender, awsCfg config.AWSConfig, source string, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		client:   client,
		queueURL: awsCfg.NotificationQueue,
		source:   source,
		logger:   logger,
	}
}

// PublishEngineEvent wraps the event in an envelope and sends it. Failures
// map to upstream_queue_unavailable; callers treat publish failures as
// non-fatal since the notification pipeline is advisory.
func (p *Publisher) PublishEngineEvent(ctx context.Context, ev types.EngineEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"encoding engine event", err)
	}

	envelope := types.EventEnvelope{
		EventID:   "evt_" + uuid.New().String(),
		EventType: eventType(ev.Type),
		Timestamp: ev.OccurredAt,
		Source:    p.source,
		Version:   engineEventVersion,
		Payload:   payload,
	}
	body, err := json.Marshal(envelope)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			"encoding event envelope", err)
	}

	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			fmt.Sprintf("sending event to %s", p.queueURL), err)
	}

	p.logger.InfoContext(ctx, "engine event published",
		slog.String("event_id", envelope.EventID),
		slog.String("event_type", envelope.EventType),
		slog.String("plot_id", ev.PlotID),
	)
	return nil
}

// eventType maps a notification type to the dot-namespaced envelope type.
func eventType(t types.NotificationType) string {
	switch t {
	case types.NotifyWateringSkipped:
		return "watering.skipped"
	case types.NotifyWateringAborted:
		return "watering.aborted"
	case types.NotifyWateringDone:
		return "watering.completed"
	case types.NotifyLeakDetected:
		return "anomaly.leak"
	case types.NotifyLowBattery:
		return "anomaly.low_battery"
	case types.NotifySensorDropout:
		return "anomaly.sensor_dropout"
	case types.NotifyThresholdBreach:
		return "anomaly.threshold_breach"
	case types.NotifyConnectivityLost:
		return "anomaly.connectivity"
	default:
		return "event.unknown"
	}
}
