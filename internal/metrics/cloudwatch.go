// Package metrics publishes operational telemetry to CloudWatch.
package metrics

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/cloudwatch"
	cwtypes "github.com/aws/aws-sdk-go-v2/service/cloudwatch/types"

	"miraqua/internal/config"
)

const (
	// flushInterval is how often buffered datums are shipped.
	flushInterval = 30 * time.Second
	// maxBatch is the CloudWatch PutMetricData limit per call.
	maxBatch = 1000
)

// CloudWatchClient abstracts the CloudWatch PutMetricData operation for
// testability. Production code passes the *cloudwatch.Client.
type CloudWatchClient interface {
	PutMetricData(ctx context.Context, params *cloudwatch.PutMetricDataInput, optFns ...func(*cloudwatch.Options)) (*cloudwatch.PutMetricDataOutput, error)
}

// Collector buffers metric datums and flushes them to CloudWatch on a fixed
// interval. Recording is lock-cheap and never blocks the request path on a
// network call. It implements core.MetricsCollector.
type Collector struct {
	client    CloudWatchClient
	namespace string
	logger    *slog.Logger

	mu     sync.Mutex
	buffer []cwtypes.MetricDatum

	stop chan struct{}
	done chan struct{}
}

// NewCollector creates a collector publishing to the configured namespace.
// Call Run in a goroutine to start the flush loop and Close on shutdown.
func NewCollector(client CloudWatchClient, cfg config.ObservabilityConfig, logger *slog.Logger) *Collector {
	if logger == nil {
		logger = slog.Default()
	}
	return &Collector{
		client:    client,
		namespace: cfg.MetricNamespace,
		logger:    logger,
		stop:      make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// RecordRequest buffers a request count and latency datum for the endpoint.
func (c *Collector) RecordRequest(method, endpoint, status string, duration time.Duration) {
	dims := []cwtypes.Dimension{
		{Name: aws.String("Method"), Value: aws.String(method)},
		{Name: aws.String("Endpoint"), Value: aws.String(endpoint)},
		{Name: aws.String("Status"), Value: aws.String(status)},
	}
	c.add(
		cwtypes.MetricDatum{
			MetricName: aws.String("RequestCount"),
			Value:      aws.Float64(1),
			Unit:       cwtypes.StandardUnitCount,
			Dimensions: dims,
		},
		cwtypes.MetricDatum{
			MetricName: aws.String("RequestLatency"),
			Value:      aws.Float64(float64(duration.Milliseconds())),
			Unit:       cwtypes.StandardUnitMilliseconds,
			Dimensions: dims,
		},
	)
}

// RecordDecision buffers a decision-engine outcome datum. outcome is the
// terminal state of a slot evaluation ("dispatched", "skipped") and reason
// carries the skip reason when present.
func (c *Collector) RecordDecision(outcome, reason string) {
	dims := []cwtypes.Dimension{
		{Name: aws.String("Outcome"), Value: aws.String(outcome)},
	}
	if reason != "" {
		dims = append(dims, cwtypes.Dimension{
			Name: aws.String("Reason"), Value: aws.String(reason),
		})
	}
	c.add(cwtypes.MetricDatum{
		MetricName: aws.String("DecisionCount"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: dims,
	})
}

// RecordIngest buffers a telemetry ingest outcome datum.
func (c *Collector) RecordIngest(result string) {
	c.add(cwtypes.MetricDatum{
		MetricName: aws.String("IngestCount"),
		Value:      aws.Float64(1),
		Unit:       cwtypes.StandardUnitCount,
		Dimensions: []cwtypes.Dimension{
			{Name: aws.String("Result"), Value: aws.String(result)},
		},
	})
}

func (c *Collector) add(datums ...cwtypes.MetricDatum) {
	now := time.Now().UTC()
	for i := range datums {
		datums[i].Timestamp = aws.Time(now)
	}
	c.mu.Lock()
	c.buffer = append(c.buffer, datums...)
	// Drop oldest under sustained backpressure rather than grow unbounded.
	if len(c.buffer) > 4*maxBatch {
		c.buffer = c.buffer[len(c.buffer)-4*maxBatch:]
	}
	c.mu.Unlock()
}

// Run flushes the buffer on a fixed interval until Close is called.
func (c *Collector) Run(ctx context.Context) {
	defer close(c.done)
	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.flush(ctx)
		case <-c.stop:
			c.flush(ctx)
			return
		case <-ctx.Done():
			return
		}
	}
}

// Close stops the flush loop after a final flush.
func (c *Collector) Close() {
	close(c.stop)
	<-c.done
}

func (c *Collector) flush(ctx context.Context) {
	c.mu.Lock()
	pending := c.buffer
	c.buffer = nil
	c.mu.Unlock()

	for len(pending) > 0 {
		n := len(pending)
		if n > maxBatch {
			n = maxBatch
		}
		batch := pending[:n]
		pending = pending[n:]

		_, err := c.client.PutMetricData(ctx, &cloudwatch.PutMetricDataInput{
			Namespace:  aws.String(c.namespace),
			MetricData: batch,
		})
		if err != nil {
			c.logger.ErrorContext(ctx, "publishing metrics batch",
				slog.Int("datum_count", len(batch)),
				slog.String("error", err.Error()),
			)
		}
	}
}
