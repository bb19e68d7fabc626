package queue

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"miraqua/internal/config"
	"miraqua/internal/types"
)

// drainTimeout bounds how long Close waits for in-flight telemetry handlers
// during shutdown.
const drainTimeout = 10 * time.Second

// TelemetryAcceptor is the ingest entry point the subscriber feeds.
// Satisfied by ingest.Service.
type TelemetryAcceptor interface {
	Accept(ctx context.Context, msg types.TelemetryMessage) (*types.SensorReading, error)
}

// TelemetrySubscriber consumes sensor telemetry from NATS and feeds each
// message to Sensor Ingest. Workers in the same queue group share the
// subject, so running multiple telemetry workers load-balances rather than
// duplicates delivery.
type TelemetrySubscriber struct {
	cfg      config.TelemetryConfig
	acceptor TelemetryAcceptor
	logger   *slog.Logger

	conn *nats.Conn
	sub  *nats.Subscription
}

// NewTelemetrySubscriber creates a subscriber bound to the configured
// subject and queue group. Start must be called to begin consuming.
func NewTelemetrySubscriber(cfg config.TelemetryConfig, acceptor TelemetryAcceptor, logger *slog.Logger) *TelemetrySubscriber {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetrySubscriber{
		cfg:      cfg,
		acceptor: acceptor,
		logger:   logger,
	}
}

// Start connects to NATS and subscribes. Telemetry is fire-and-forget from
// the gateway's perspective; rejected readings are logged and dropped, never
// redelivered.
func (s *TelemetrySubscriber) Start(ctx context.Context) error {
	conn, err := nats.Connect(s.cfg.NATSURL,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				s.logger.Warn("nats disconnected", slog.String("error", err.Error()))
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			s.logger.Info("nats reconnected", slog.String("url", nc.ConnectedUrl()))
		}),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			"connecting to telemetry bus", err)
	}
	s.conn = conn

	sub, err := conn.QueueSubscribe(s.cfg.Subject, s.cfg.QueueGroup, func(m *nats.Msg) {
		s.handle(ctx, m)
	})
	if err != nil {
		conn.Close()
		return types.NewAppError(types.ErrCodeUpstreamQueue,
			"subscribing to telemetry subject", err)
	}
	if err := sub.SetPendingLimits(s.cfg.PendingMsgs, -1); err != nil {
		s.logger.Warn("setting pending limits", slog.String("error", err.Error()))
	}
	s.sub = sub

	s.logger.InfoContext(ctx, "telemetry subscription active",
		slog.String("subject", s.cfg.Subject),
		slog.String("queue_group", s.cfg.QueueGroup),
	)
	return nil
}

// handle decodes and ingests one telemetry message. Malformed payloads and
// rejected readings are dropped with a log line; there is no retry path for
// sensor data that failed validation.
func (s *TelemetrySubscriber) handle(ctx context.Context, m *nats.Msg) {
	var msg types.TelemetryMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		s.logger.WarnContext(ctx, "dropping malformed telemetry",
			slog.String("subject", m.Subject),
			slog.String("error", err.Error()),
		)
		return
	}

	if _, err := s.acceptor.Accept(ctx, msg); err != nil {
		var appErr *types.AppError
		if types.HasCode(err, types.ErrCodeReadingStale) {
			// Out-of-order delivery is routine during gateway retries.
			s.logger.DebugContext(ctx, "stale telemetry dropped",
				slog.String("plot_id", msg.PlotID),
				slog.String("metric", string(msg.Metric)),
			)
			return
		}
		if errors.As(err, &appErr) {
			s.logger.WarnContext(ctx, "telemetry rejected",
				slog.String("plot_id", msg.PlotID),
				slog.String("metric", string(msg.Metric)),
				slog.String("code", string(appErr.Code)),
			)
			return
		}
		s.logger.ErrorContext(ctx, "telemetry ingest failed",
			slog.String("plot_id", msg.PlotID),
			slog.String("error", err.Error()),
		)
	}
}

// Close drains the subscription so in-flight handlers finish, then closes
// the connection.
func (s *TelemetrySubscriber) Close() {
	if s.sub != nil {
		if err := s.sub.Drain(); err != nil {
			s.logger.Warn("draining telemetry subscription", slog.String("error", err.Error()))
		}
	}
	if s.conn != nil {
		deadline := time.Now().Add(drainTimeout)
		for !s.conn.IsClosed() && time.Now().Before(deadline) {
			time.Sleep(100 * time.Millisecond)
		}
		s.conn.Close()
	}
}
