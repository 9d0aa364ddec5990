package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PaymentStatus is the canonical lifecycle status of a payment.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// IsTerminal reports whether the status permits no further transition.
func (s PaymentStatus) IsTerminal() bool {
	switch s {
	case PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled:
		return true
	}
	return false
}

// Payment is the durable payment record. The reference is assigned by the
// initiation path; this service only moves status out of pending, never back.
type Payment struct {
	ID                   uuid.UUID       `json:"id"`
	Reference            string          `json:"reference"`
	AccountID            string          `json:"account_id"`
	Status               PaymentStatus   `json:"status"`
	Amount               int64           `json:"amount"` // minor units
	Currency             string          `json:"currency"`
	GatewayTransactionID *string         `json:"gateway_transaction_id,omitempty"`
	GatewayResponse      json.RawMessage `json:"gateway_response,omitempty"` // JSONB
	RiskScore            *int            `json:"risk_score,omitempty"`
	PaidAt               *time.Time      `json:"paid_at,omitempty"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// DeliveryOutcome classifies what happened to a single webhook delivery.
type DeliveryOutcome string

const (
	DeliveryOutcomeProcessed  DeliveryOutcome = "processed"
	DeliveryOutcomeRejected   DeliveryOutcome = "rejected"
	DeliveryOutcomeConflicted DeliveryOutcome = "conflicted"
	DeliveryOutcomeErrored    DeliveryOutcome = "errored"
)

// WebhookDelivery is the append-only audit record. Exactly one row is written
// per delivery that enters the pipeline, verified or not.
type WebhookDelivery struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	Reference   string          `json:"reference"`
	Outcome     DeliveryOutcome `json:"outcome"`
	ErrorDetail *string         `json:"error_detail,omitempty"`
	RawPayload  json.RawMessage `json:"raw_payload"`
	ReceivedAt  time.Time       `json:"received_at"`
}

// RiskDecision is the risk evaluator's verdict on a settlement-bound event.
type RiskDecision string

const (
	RiskDecisionAllow RiskDecision = "allow"
	RiskDecisionFlag  RiskDecision = "flag"
	RiskDecisionBlock RiskDecision = "block"
)

// RiskAssessment records one evaluation of a transaction. Rows are written by
// the risk evaluator and only ever read afterwards.
type RiskAssessment struct {
	ID          uuid.UUID      `json:"id"`
	Reference   string         `json:"reference"`
	Score       int            `json:"score"` // 0..10
	Factors     map[string]int `json:"factors"`
	Decision    RiskDecision   `json:"decision"`
	EvaluatedAt time.Time      `json:"evaluated_at"`
}
