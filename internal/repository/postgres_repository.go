package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
)

// PostgresPaymentRepository implements PaymentRepository over database/sql.
type PostgresPaymentRepository struct {
	db *sql.DB
}

// NewPostgresPaymentRepository returns the PaymentRepository interface
func NewPostgresPaymentRepository(db *sql.DB) PaymentRepository {
	return &PostgresPaymentRepository{db: db}
}

const paymentColumns = `id, reference, account_id, status, amount, currency,
	gateway_transaction_id, gateway_response, risk_score, paid_at, created_at, updated_at`

func scanPayment(row interface{ Scan(...any) error }) (*models.Payment, error) {
	var p models.Payment
	var gatewayResponse []byte
	err := row.Scan(
		&p.ID, &p.Reference, &p.AccountID, &p.Status, &p.Amount, &p.Currency,
		&p.GatewayTransactionID, &gatewayResponse, &p.RiskScore, &p.PaidAt,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.GatewayResponse = gatewayResponse
	return &p, nil
}

func (r *PostgresPaymentRepository) GetByReference(ctx context.Context, reference string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1`
	return scanPayment(r.db.QueryRowContext(ctx, query, reference))
}

func (r *PostgresPaymentRepository) CompletedAmountStats(ctx context.Context, accountID string, since time.Time) (int, float64, error) {
	query := `SELECT COUNT(*), COALESCE(AVG(amount), 0)
	          FROM payments
	          WHERE account_id = $1 AND status = 'completed' AND updated_at >= $2`
	var count int
	var mean float64
	err := r.db.QueryRowContext(ctx, query, accountID, since).Scan(&count, &mean)
	if err != nil {
		return 0, 0, err
	}
	return count, mean, nil
}

func (r *PostgresPaymentRepository) WithinTx(ctx context.Context, fn func(tx ReconciliationTx) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := fn(&postgresReconTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit()
}

type postgresReconTx struct {
	tx *sql.Tx
}

func (t *postgresReconTx) GetPaymentForUpdate(ctx context.Context, reference string) (*models.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE reference = $1 FOR UPDATE`
	return scanPayment(t.tx.QueryRowContext(ctx, query, reference))
}

func (t *postgresReconTx) ApplyTransition(ctx context.Context, p *models.Payment) error {
	query := `UPDATE payments
	          SET status = $1, gateway_transaction_id = $2, gateway_response = $3,
	              risk_score = $4, paid_at = $5, updated_at = NOW()
	          WHERE reference = $6`
	_, err := t.tx.ExecContext(ctx, query,
		p.Status, p.GatewayTransactionID, []byte(p.GatewayResponse),
		p.RiskScore, p.PaidAt, p.Reference,
	)
	return err
}

func (t *postgresReconTx) RecordRiskHold(ctx context.Context, reference string, score int) error {
	query := `UPDATE payments SET risk_score = $1, updated_at = NOW() WHERE reference = $2`
	_, err := t.tx.ExecContext(ctx, query, score, reference)
	return err
}

func (t *postgresReconTx) InsertDelivery(ctx context.Context, d *models.WebhookDelivery) error {
	return insertDelivery(ctx, t.tx, d)
}

// PostgresDeliveryRepository implements DeliveryRepository.
type PostgresDeliveryRepository struct {
	db *sql.DB
}

// NewPostgresDeliveryRepository returns the DeliveryRepository interface
func NewPostgresDeliveryRepository(db *sql.DB) DeliveryRepository {
	return &PostgresDeliveryRepository{db: db}
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertDelivery(ctx context.Context, db execer, d *models.WebhookDelivery) error {
	query := `INSERT INTO webhook_deliveries (id, event_type, reference, outcome, error_detail, raw_payload, received_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)`
	_, err := db.ExecContext(ctx, query,
		d.ID, d.EventType, d.Reference, d.Outcome, d.ErrorDetail,
		[]byte(d.RawPayload), d.ReceivedAt,
	)
	return err
}

func (r *PostgresDeliveryRepository) Insert(ctx context.Context, d *models.WebhookDelivery) error {
	return insertDelivery(ctx, r.db, d)
}

func (r *PostgresDeliveryRepository) ListByReference(ctx context.Context, reference string, limit int) ([]models.WebhookDelivery, error) {
	query := `SELECT id, event_type, reference, outcome, error_detail, raw_payload, received_at
	          FROM webhook_deliveries
	          WHERE reference = $1
	          ORDER BY received_at DESC
	          LIMIT $2`
	rows, err := r.db.QueryContext(ctx, query, reference, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deliveries []models.WebhookDelivery
	for rows.Next() {
		var d models.WebhookDelivery
		var raw []byte
		err := rows.Scan(&d.ID, &d.EventType, &d.Reference, &d.Outcome, &d.ErrorDetail, &raw, &d.ReceivedAt)
		if err != nil {
			return nil, err
		}
		d.RawPayload = raw
		deliveries = append(deliveries, d)
	}
	return deliveries, rows.Err()
}

// PostgresAssessmentRepository implements AssessmentRepository.
type PostgresAssessmentRepository struct {
	db *sql.DB
}

// NewPostgresAssessmentRepository returns the AssessmentRepository interface
func NewPostgresAssessmentRepository(db *sql.DB) AssessmentRepository {
	return &PostgresAssessmentRepository{db: db}
}

func (r *PostgresAssessmentRepository) Insert(ctx context.Context, a *models.RiskAssessment) error {
	factors, err := json.Marshal(a.Factors)
	if err != nil {
		return err
	}
	query := `INSERT INTO risk_assessments (id, reference, score, factors, decision, evaluated_at)
	          VALUES ($1, $2, $3, $4, $5, $6)`
	_, err = r.db.ExecContext(ctx, query,
		a.ID, a.Reference, a.Score, factors, a.Decision, a.EvaluatedAt,
	)
	return err
}
