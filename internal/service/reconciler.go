package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
	"github.com/SettleWire/payment-webhook-service/internal/webhook"
)

// Outcome is the reconciliation result for one delivery.
type Outcome string

const (
	OutcomeApplied  Outcome = "applied"
	OutcomeNoop     Outcome = "no-op"
	OutcomeConflict Outcome = "conflict"
	OutcomeNotFound Outcome = "not-found"
	OutcomeBlocked  Outcome = "blocked"
)

// Result carries the outcome and the payment as observed under the lock.
type Result struct {
	Outcome Outcome
	Payment *models.Payment
}

// Reconciler applies canonical events to payment state with at-most-once
// semantics. The row lock taken inside the transaction is the only
// serialization point in the service: deliveries for different references
// proceed in parallel, duplicates for one reference queue up here and the
// late one observes the already-applied terminal state.
type Reconciler struct {
	payments repository.PaymentRepository
}

func NewReconciler(payments repository.PaymentRepository) *Reconciler {
	return &Reconciler{payments: payments}
}

// Apply runs the reconciliation protocol for a verified canonical event and
// appends the delivery's audit row inside the same transaction, so the state
// transition and its audit trail commit atomically.
//
// assessment is nil for events that don't seek settlement.
func (r *Reconciler) Apply(ctx context.Context, ev *webhook.Event, assessment *models.RiskAssessment, delivery *models.WebhookDelivery) (*Result, error) {
	var res *Result

	err := r.payments.WithinTx(ctx, func(tx repository.ReconciliationTx) error {
		p, err := tx.GetPaymentForUpdate(ctx, ev.Reference)
		if errors.Is(err, sql.ErrNoRows) {
			// A payment must already exist from the initiation path; a
			// webhook alone never creates one. Audited as rejected, not
			// errored: the caller answers 200 and the gateway must not
			// resend, so nothing here awaits a retry.
			res = &Result{Outcome: OutcomeNotFound}
			delivery.Outcome = models.DeliveryOutcomeRejected
			detail := "unknown reference"
			delivery.ErrorDetail = &detail
			return tx.InsertDelivery(ctx, delivery)
		}
		if err != nil {
			return fmt.Errorf("lock payment %s: %w", ev.Reference, err)
		}

		if p.Status.IsTerminal() {
			if p.Status == ev.TargetStatus {
				// Idempotent replay.
				res = &Result{Outcome: OutcomeNoop, Payment: p}
				delivery.Outcome = models.DeliveryOutcomeProcessed
				return tx.InsertDelivery(ctx, delivery)
			}
			// A different terminal state is never overwritten; surface it
			// for manual investigation instead.
			logger.Errorf("terminal conflict on %s: have %s, event wants %s (%s)",
				p.Reference, p.Status, ev.TargetStatus, ev.Type)
			res = &Result{Outcome: OutcomeConflict, Payment: p}
			delivery.Outcome = models.DeliveryOutcomeConflicted
			detail := fmt.Sprintf("payment is %s, event requested %s", p.Status, ev.TargetStatus)
			delivery.ErrorDetail = &detail
			return tx.InsertDelivery(ctx, delivery)
		}

		if ev.TargetStatus == models.PaymentStatusCompleted &&
			assessment != nil && assessment.Decision == models.RiskDecisionBlock {
			// Hold, not failure: the payment stays pending until an operator
			// clears it.
			if err := tx.RecordRiskHold(ctx, p.Reference, assessment.Score); err != nil {
				return fmt.Errorf("record risk hold on %s: %w", p.Reference, err)
			}
			res = &Result{Outcome: OutcomeBlocked, Payment: p}
			delivery.Outcome = models.DeliveryOutcomeProcessed
			detail := fmt.Sprintf("settlement blocked by risk score %d", assessment.Score)
			delivery.ErrorDetail = &detail
			return tx.InsertDelivery(ctx, delivery)
		}

		if ev.TargetStatus == models.PaymentStatusPending {
			// Provider heartbeat (processing/queued/...): nothing to apply.
			res = &Result{Outcome: OutcomeNoop, Payment: p}
			delivery.Outcome = models.DeliveryOutcomeProcessed
			return tx.InsertDelivery(ctx, delivery)
		}

		p.Status = ev.TargetStatus
		if ev.ExternalID != "" {
			p.GatewayTransactionID = &ev.ExternalID
		}
		if len(ev.RawMetadata) > 0 {
			p.GatewayResponse = ev.RawMetadata
		}
		if assessment != nil {
			score := assessment.Score
			p.RiskScore = &score
		}
		if ev.TargetStatus == models.PaymentStatusCompleted {
			paidAt := ev.OccurredAt.UTC()
			p.PaidAt = &paidAt
		}
		p.UpdatedAt = time.Now().UTC()

		if err := tx.ApplyTransition(ctx, p); err != nil {
			return fmt.Errorf("apply %s -> %s: %w", p.Reference, p.Status, err)
		}
		res = &Result{Outcome: OutcomeApplied, Payment: p}
		delivery.Outcome = models.DeliveryOutcomeProcessed
		return tx.InsertDelivery(ctx, delivery)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}
