package webhook

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
)

// ErrMalformedPayload covers undecodable JSON, missing required fields and
// unmapped provider statuses. Deliveries failing here never reach
// reconciliation.
var ErrMalformedPayload = errors.New("webhook: malformed payload")

// Event is the canonical, provider-agnostic form of a delivery.
type Event struct {
	Type           string
	Reference      string
	Amount         int64
	Currency       string
	ExternalStatus string // provider vocabulary, kept for audit
	ExternalID     string
	TargetStatus   models.PaymentStatus
	OccurredAt     time.Time
	RawMetadata    json.RawMessage
}

// SeeksSettlement reports whether applying the event would move the payment
// toward completed. Only these events pass through risk evaluation.
func (e *Event) SeeksSettlement() bool {
	return e.TargetStatus == models.PaymentStatusCompleted
}

// envelope is the gateway's wire shape: {event, data: {...}, created_at}.
type envelope struct {
	Event     string    `json:"event"`
	Data      eventData `json:"data"`
	CreatedAt time.Time `json:"created_at"`
}

type eventData struct {
	Status          string          `json:"status"`
	Reference       string          `json:"reference"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	ID              json.Number     `json:"id"`
	GatewayResponse string          `json:"gateway_response"`
	Metadata        json.RawMessage `json:"metadata"`
}

// statusMap is the total mapping from the provider's historically drifting
// status vocabulary onto the canonical payment statuses. Anything absent from
// this table is an error, never a silent coercion.
var statusMap = map[string]models.PaymentStatus{
	"success":    models.PaymentStatusCompleted,
	"failed":     models.PaymentStatusFailed,
	"reversed":   models.PaymentStatusFailed,
	"pending":    models.PaymentStatusPending,
	"processing": models.PaymentStatusPending,
	"queued":     models.PaymentStatusPending,
	"ongoing":    models.PaymentStatusPending,
	"cancelled":  models.PaymentStatusCancelled,
	"abandoned":  models.PaymentStatusCancelled,
}

// Normalize decodes a verified raw payload into a canonical Event.
func Normalize(raw []byte) (*Event, error) {
	var env envelope
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	if env.Event == "" {
		return nil, fmt.Errorf("%w: missing event type", ErrMalformedPayload)
	}
	if env.Data.Reference == "" {
		return nil, fmt.Errorf("%w: missing data.reference", ErrMalformedPayload)
	}
	if env.Data.Status == "" {
		return nil, fmt.Errorf("%w: missing data.status", ErrMalformedPayload)
	}

	target, ok := statusMap[env.Data.Status]
	if !ok {
		return nil, fmt.Errorf("%w: unmapped provider status %q", ErrMalformedPayload, env.Data.Status)
	}

	occurred := env.CreatedAt
	if occurred.IsZero() {
		return nil, fmt.Errorf("%w: missing created_at", ErrMalformedPayload)
	}

	return &Event{
		Type:           env.Event,
		Reference:      env.Data.Reference,
		Amount:         env.Data.Amount,
		Currency:       env.Data.Currency,
		ExternalStatus: env.Data.Status,
		ExternalID:     env.Data.ID.String(),
		TargetStatus:   target,
		OccurredAt:     occurred,
		RawMetadata:    env.Data.Metadata,
	}, nil
}

// Peek extracts the event type and reference from a payload that failed
// verification or full normalization, so the audit row can still carry them.
// Best effort.
func Peek(raw []byte) (eventType, reference string) {
	var probe struct {
		Event string `json:"event"`
		Data  struct {
			Reference string `json:"reference"`
		} `json:"data"`
	}
	_ = json.Unmarshal(raw, &probe)
	return probe.Event, probe.Data.Reference
}
