package service

import (
	"context"

	"github.com/SettleWire/payment-webhook-service/internal/models"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
)

// AuditService records WebhookDelivery rows for deliveries that never open a
// reconciliation transaction (rejected signatures, malformed payloads,
// transient failures). Deliveries that reach the reconciler get their row
// written inside its transaction instead, keeping exactly one row per
// inbound call either way.
type AuditService struct {
	deliveries repository.DeliveryRepository
}

func NewAuditService(deliveries repository.DeliveryRepository) *AuditService {
	return &AuditService{deliveries: deliveries}
}

// Record appends one delivery row. The table is append-only and this is the
// reconciliation source of truth against the gateway's own delivery logs, so
// a write failure is loud.
func (s *AuditService) Record(ctx context.Context, d *models.WebhookDelivery) error {
	if err := s.deliveries.Insert(ctx, d); err != nil {
		logger.Errorf("audit write failed for delivery %s (%s): %v", d.ID, d.Reference, err)
		return err
	}
	return nil
}

// History lists recent deliveries for a reference, newest first.
func (s *AuditService) History(ctx context.Context, reference string, limit int) ([]models.WebhookDelivery, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.deliveries.ListByReference(ctx, reference, limit)
}
