package telemetry

import "time"

// OutcomeEvent is published for every terminal webhook outcome so operators
// can alert on fraud blocks and signature failures in near real time.
type OutcomeEvent struct {
	Timestamp  time.Time `json:"@timestamp"`
	DeliveryID string    `json:"delivery_id"`
	EventType  string    `json:"event_type,omitempty"`
	Reference  string    `json:"reference,omitempty"`
	Outcome    string    `json:"outcome"` // applied, no-op, blocked, conflict, not-found, rejected, malformed, errored
	Status     int       `json:"status"`  // HTTP status returned to the gateway
	DurationMs int64     `json:"duration_ms"`
	RiskScore  *int      `json:"risk_score,omitempty"`
	Decision   string    `json:"decision,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}
