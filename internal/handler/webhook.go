package handler

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/models"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
	"github.com/SettleWire/payment-webhook-service/internal/service"
	"github.com/SettleWire/payment-webhook-service/internal/telemetry"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
	"github.com/SettleWire/payment-webhook-service/internal/webhook"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

const maxBodyBytes = 1 << 20 // gateway payloads are small; anything bigger is abuse

// OutcomePublisher receives a terminal outcome for every delivery.
type OutcomePublisher interface {
	Publish(telemetry.OutcomeEvent)
}

// WebhookHandler drives a delivery through verification, normalization, risk
// screening and reconciliation, and guarantees exactly one audit row and one
// published outcome per inbound call.
type WebhookHandler struct {
	verifier   *webhook.Verifier
	sigHeader  string
	tsHeader   string
	payments   repository.PaymentRepository
	risk       *service.RiskService
	reconciler *service.Reconciler
	audit      *service.AuditService
	outcomes   OutcomePublisher
}

func NewWebhookHandler(
	verifier *webhook.Verifier,
	sigHeader, tsHeader string,
	payments repository.PaymentRepository,
	risk *service.RiskService,
	reconciler *service.Reconciler,
	audit *service.AuditService,
	outcomes OutcomePublisher,
) *WebhookHandler {
	return &WebhookHandler{
		verifier:   verifier,
		sigHeader:  sigHeader,
		tsHeader:   tsHeader,
		payments:   payments,
		risk:       risk,
		reconciler: reconciler,
		audit:      audit,
		outcomes:   outcomes,
	}
}

func (h *WebhookHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/payments", h.HandlePaymentWebhook)
	r.Get("/deliveries/{reference}", h.ListDeliveries)
	return r
}

func (h *WebhookHandler) HandlePaymentWebhook(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	received := start.UTC()

	body, readErr := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))

	delivery := &models.WebhookDelivery{
		ID:         uuid.New(),
		RawPayload: body,
		ReceivedAt: received,
	}
	delivery.EventType, delivery.Reference = webhook.Peek(body)

	if readErr != nil {
		// Oversized or truncated body. Audit whatever arrived; resending
		// the same payload will never succeed, so this is a 400.
		detail := "unreadable body: " + readErr.Error()
		delivery.Outcome = models.DeliveryOutcomeRejected
		delivery.ErrorDetail = &detail
		if err := h.audit.Record(r.Context(), delivery); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "audit unavailable")
			return
		}
		h.publish(delivery, "unreadable", http.StatusBadRequest, nil, detail, start)
		writeJSONError(w, http.StatusBadRequest, "unreadable body")
		return
	}

	// 1. Authenticity and freshness, against the exact raw bytes.
	sigErr := h.verifier.Verify(body, r.Header.Get(h.sigHeader), r.Header.Get(h.tsHeader))
	if sigErr != nil {
		h.rejectDelivery(r.Context(), w, delivery, sigErr, start)
		return
	}

	// 2. Canonical event.
	ev, err := webhook.Normalize(body)
	if err != nil {
		h.rejectDelivery(r.Context(), w, delivery, err, start)
		return
	}
	delivery.EventType, delivery.Reference = ev.Type, ev.Reference

	// 3. Risk screening, only for events that would settle funds.
	var assessment *models.RiskAssessment
	if ev.SeeksSettlement() {
		assessment, err = h.screenRisk(r.Context(), ev)
		if err != nil {
			h.failDelivery(r.Context(), w, delivery, err, start)
			return
		}
	}

	// 4. Reconciliation; the audit row commits with the state transition.
	res, err := h.reconciler.Apply(r.Context(), ev, assessment, delivery)
	if err != nil {
		h.failDelivery(r.Context(), w, delivery, err, start)
		return
	}

	h.publish(delivery, string(res.Outcome), http.StatusOK, assessment, "", start)

	// 200 for every recorded business outcome, so the gateway stops
	// redelivering; its logs reconcile against our audit table.
	writeJSON(w, http.StatusOK, map[string]any{
		"delivery_id": delivery.ID,
		"outcome":     res.Outcome,
	})
}

// screenRisk loads the payment for its account context and evaluates the
// event. A missing payment skips screening; the reconciler will record the
// not-found outcome under the row lock.
func (h *WebhookHandler) screenRisk(ctx context.Context, ev *webhook.Event) (*models.RiskAssessment, error) {
	p, err := h.payments.GetByReference(ctx, ev.Reference)
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, err
	}
	return h.risk.Evaluate(ctx, p, ev.RawMetadata)
}

// rejectDelivery audits and answers a delivery that failed verification or
// decoding. No processing happened; the gateway should not blind-retry a 401
// and gets a 400 for payloads we will never accept.
func (h *WebhookHandler) rejectDelivery(ctx context.Context, w http.ResponseWriter, d *models.WebhookDelivery, cause error, start time.Time) {
	detail := cause.Error()
	d.Outcome = models.DeliveryOutcomeRejected
	d.ErrorDetail = &detail
	if err := h.audit.Record(ctx, d); err != nil {
		writeJSONError(w, http.StatusInternalServerError, "audit unavailable")
		return
	}

	status := http.StatusUnauthorized
	reason := "rejected"
	switch {
	case errors.Is(cause, webhook.ErrMalformedPayload):
		status = http.StatusBadRequest
		reason = "malformed"
	case errors.Is(cause, webhook.ErrReplayExpired):
		reason = "replay_expired"
	case errors.Is(cause, webhook.ErrSecretNotConfigured):
		// Fail closed, and make noise: every delivery is bouncing.
		logger.Errorf("webhook secret not configured, rejecting delivery %s", d.ID)
	}

	h.publish(d, reason, status, nil, detail, start)
	writeJSONError(w, status, detail)
}

// failDelivery audits a transient failure and answers 500 so the gateway
// redelivers. Redelivery is safe because reconciliation is idempotent.
func (h *WebhookHandler) failDelivery(ctx context.Context, w http.ResponseWriter, d *models.WebhookDelivery, cause error, start time.Time) {
	logger.Errorf("delivery %s (%s) errored: %v", d.ID, d.Reference, cause)
	detail := cause.Error()
	d.Outcome = models.DeliveryOutcomeErrored
	d.ErrorDetail = &detail
	_ = h.audit.Record(ctx, d)

	h.publish(d, "errored", http.StatusInternalServerError, nil, detail, start)
	writeJSONError(w, http.StatusInternalServerError, "internal error")
}

func (h *WebhookHandler) publish(d *models.WebhookDelivery, outcome string, status int, assessment *models.RiskAssessment, reason string, start time.Time) {
	ev := telemetry.OutcomeEvent{
		Timestamp:  time.Now().UTC(),
		DeliveryID: d.ID.String(),
		EventType:  d.EventType,
		Reference:  d.Reference,
		Outcome:    outcome,
		Status:     status,
		DurationMs: time.Since(start).Milliseconds(),
		Reason:     reason,
	}
	if assessment != nil {
		score := assessment.Score
		ev.RiskScore = &score
		ev.Decision = string(assessment.Decision)
	}
	h.outcomes.Publish(ev)
}

func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// ListDeliveries serves the audit read path for dashboards.
func (h *WebhookHandler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	reference := chi.URLParam(r, "reference")
	if reference == "" {
		writeJSONError(w, http.StatusBadRequest, "missing reference")
		return
	}

	deliveries, err := h.audit.History(r.Context(), reference, 50)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, "query failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"reference":  reference,
		"deliveries": deliveries,
	})
}
