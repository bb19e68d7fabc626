package types

// PlotStatus represents the lifecycle state of a Plot.
type PlotStatus string

const (
	PlotStatusActive   PlotStatus = "active"
	PlotStatusPaused   PlotStatus = "paused"
	PlotStatusArchived PlotStatus = "archived"
)

// Metric identifies a sensor telemetry channel.
type Metric string

const (
	MetricMoisture    Metric = "moisture"
	MetricTemperature Metric = "temperature"
	MetricBattery     Metric = "battery"
	MetricSignal      Metric = "signal"
)

// AllMetrics is the complete set of accepted telemetry metrics.
// Used by the ingest validator to reject unknown channels.
var AllMetrics = []Metric{MetricMoisture, MetricTemperature, MetricBattery, MetricSignal}

// SensorHealth describes the reported health of the sensor that produced
// a reading.
type SensorHealth string

const (
	SensorHealthOK       SensorHealth = "ok"
	SensorHealthDegraded SensorHealth = "degraded"
	SensorHealthFailing  SensorHealth = "failing"
)

// OverrideAction describes what a ScheduleOverride does to the rule-derived
// event on its date.
type OverrideAction string

const (
	OverrideSkip       OverrideAction = "skip"
	OverrideReschedule OverrideAction = "reschedule"
	OverrideAdjust     OverrideAction = "adjust"
)

// OverrideReason records the origin of a ScheduleOverride.
type OverrideReason string

const (
	OverrideReasonManual  OverrideReason = "manual"
	OverrideReasonWeather OverrideReason = "weather"
	OverrideReasonEngine  OverrideReason = "engine"
)

// Trigger identifies what initiated a WateringEvent.
type Trigger string

const (
	TriggerScheduled Trigger = "scheduled"
	TriggerManual    Trigger = "manual"
	TriggerEngine    Trigger = "engine"
)

// Outcome is the terminal (or pending) state of a WateringEvent.
type Outcome string

const (
	OutcomePending   Outcome = "pending"
	OutcomeCompleted Outcome = "completed"
	OutcomeAborted   Outcome = "aborted"
	OutcomeSkipped   Outcome = "skipped"
)

// SkipReason is the mandatory human-readable justification recorded whenever
// a watering is skipped or aborted. Skipping without a reason is a defect.
type SkipReason string

const (
	ReasonMoistureSufficient SkipReason = "moisture-sufficient"
	ReasonRainExpected       SkipReason = "rain-expected"
	ReasonUserCancelled      SkipReason = "user-cancelled"
	ReasonDispatchFailed     SkipReason = "dispatch-failed"
	ReasonUserOverride       SkipReason = "user-override"
	ReasonWatchdogTimeout    SkipReason = "watchdog-timeout"
)

// AnomalyType identifies the kind of abnormal condition detected.
type AnomalyType string

const (
	AnomalyLeak             AnomalyType = "leak"
	AnomalySensorDropout    AnomalyType = "sensor_dropout"
	AnomalyTemperatureSpike AnomalyType = "temperature_spike"
	AnomalyLowBattery       AnomalyType = "low_battery"
	AnomalyConnectivity     AnomalyType = "connectivity"
)

// Severity determines anomaly priority and notification behavior.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// CommandAction is the actuation verb sent to the irrigation controller.
type CommandAction string

const (
	CommandStart CommandAction = "start"
	CommandStop  CommandAction = "stop"
)

// SoilType classifies a plot's soil for crop-profile defaults.
type SoilType string

const (
	SoilLoam  SoilType = "loam"
	SoilClay  SoilType = "clay"
	SoilSand  SoilType = "sand"
	SoilSilt  SoilType = "silt"
	SoilPeat  SoilType = "peat"
	SoilChalk SoilType = "chalk"
)

// NotificationType identifies the kind of user-facing notification.
type NotificationType string

const (
	NotifyWateringSkipped  NotificationType = "watering_skipped"
	NotifyWateringAborted  NotificationType = "watering_aborted"
	NotifyWateringDone     NotificationType = "watering_completed"
	NotifyLeakDetected     NotificationType = "leak_detected"
	NotifyLowBattery       NotificationType = "low_battery"
	NotifySensorDropout    NotificationType = "sensor_dropout"
	NotifyThresholdBreach  NotificationType = "threshold_breach"
	NotifyConnectivityLost NotificationType = "connectivity_lost"
)

// Physical plausibility bounds enforced by Sensor Ingest.
// Readings outside these ranges are rejected with reading_out_of_bounds.
const (
	MoistureMinPct   = 0.0
	MoistureMaxPct   = 100.0
	TemperatureMinF  = -40.0
	TemperatureMaxF  = 150.0
	BatteryMinPct    = 0.0
	BatteryMaxPct    = 100.0
	SignalMinDBm     = -130.0
	SignalMaxDBm     = 0.0
	LowBatteryCutoff = 15.0
)
