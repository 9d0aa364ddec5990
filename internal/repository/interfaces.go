package repository

import (
	"context"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
)

// PaymentRepository handles payment rows and the reconciliation transaction.
type PaymentRepository interface {
	GetByReference(ctx context.Context, reference string) (*models.Payment, error)

	// CompletedAmountStats returns how many payments the account completed
	// since the cutoff and their mean amount, feeding the risk evaluator's
	// amount-deviation factor.
	CompletedAmountStats(ctx context.Context, accountID string, since time.Time) (count int, mean float64, err error)

	// WithinTx runs fn inside one database transaction. The payment state
	// transition and its audit write commit or roll back together, so a crash
	// between the two can never leave an un-audited mutation.
	WithinTx(ctx context.Context, fn func(tx ReconciliationTx) error) error
}

// ReconciliationTx is the transactional view the reconciler works against.
type ReconciliationTx interface {
	// GetPaymentForUpdate locks the row by reference (SELECT ... FOR UPDATE),
	// serializing concurrent deliveries for the same reference. Returns
	// sql.ErrNoRows when no payment exists.
	GetPaymentForUpdate(ctx context.Context, reference string) (*models.Payment, error)

	// ApplyTransition persists status, paid_at, gateway fields and risk score.
	ApplyTransition(ctx context.Context, p *models.Payment) error

	// RecordRiskHold attaches a risk score to a payment kept in pending.
	RecordRiskHold(ctx context.Context, reference string, score int) error

	// InsertDelivery appends the audit row inside the same transaction.
	InsertDelivery(ctx context.Context, d *models.WebhookDelivery) error
}

// DeliveryRepository handles the append-only webhook audit trail for
// deliveries that never open a reconciliation transaction (rejected,
// malformed, errored).
type DeliveryRepository interface {
	Insert(ctx context.Context, d *models.WebhookDelivery) error
	ListByReference(ctx context.Context, reference string, limit int) ([]models.WebhookDelivery, error)
}

// AssessmentRepository persists risk assessments, one row per evaluation.
type AssessmentRepository interface {
	Insert(ctx context.Context, a *models.RiskAssessment) error
}
