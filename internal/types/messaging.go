package types

import (
	"encoding/json"
	"time"
)

// TelemetryMessage is the wire format of inbound sensor telemetry as published
// by the field gateway (NATS). The telemetry worker decodes this and feeds it
// to Sensor Ingest.
type TelemetryMessage struct {
	PlotID     string       `json:"plot_id"`
	Metric     Metric       `json:"metric"`
	Value      float64      `json:"value"`
	RecordedAt time.Time    `json:"timestamp"`
	Health     SensorHealth `json:"health,omitempty"`
}

// CommandMessage is the actuation payload sent to the irrigation controller.
type CommandMessage struct {
	CommandID   string        `json:"command_id"`
	PlotID      string        `json:"plot_id"`
	Action      CommandAction `json:"action"`
	DurationMin int           `json:"duration_minutes,omitempty"`
	IssuedAt    time.Time     `json:"issued_at"`
}

// CommandAck is the controller's confirmation of a CommandMessage.
type CommandAck struct {
	CommandID  string    `json:"command_id"`
	Accepted   bool      `json:"accepted"`
	ReceivedAt time.Time `json:"received_at"`
	Detail     string    `json:"detail,omitempty"`
}

// EventEnvelope is the standard wrapper for all internal events published to
// the notification queue.
type EventEnvelope struct {
	EventID   string          `json:"event_id"`   // "evt_..." unique ID for deduplication
	EventType string          `json:"event_type"` // Dot-namespaced (e.g., "watering.skipped")
	Timestamp time.Time       `json:"timestamp"`  // ISO 8601 UTC
	Source    string          `json:"source"`     // Component name
	Version   string          `json:"version"`    // Schema version
	Payload   json.RawMessage `json:"payload"`
}

// EngineEvent is the payload carried by an EventEnvelope for decision-engine
// state transitions. This is the contract between the engine and the
// notification worker.
type EngineEvent struct {
	PlotID     string           `json:"plot_id"`
	PlotName   string           `json:"plot_name"`
	Type       NotificationType `json:"type"`
	Severity   Severity         `json:"severity"`
	Message    string           `json:"message"`
	EventID    string           `json:"watering_event_id,omitempty"`
	AnomalyID  string           `json:"anomaly_id,omitempty"`
	OccurredAt time.Time        `json:"occurred_at"`
}
