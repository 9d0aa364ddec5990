package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/config"
	"github.com/SettleWire/payment-webhook-service/internal/models"
	"github.com/SettleWire/payment-webhook-service/internal/repository"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
	"github.com/google/uuid"
)

const (
	velocityKeyPrefix = "risk:vel:"
	deviceKeyPrefix   = "risk:dev:"
	geoKeyPrefix      = "risk:geo:"

	signalTTL = 180 * 24 * time.Hour
)

// maxScore caps the summed factor score.
const maxScore = 10

// SignalStore is the shared counter/record store behind the behavioral
// signals. client.RedisClient implements it; tests use an in-memory fake.
type SignalStore interface {
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)
	GetString(ctx context.Context, key string) (string, error)
	SetString(ctx context.Context, key, val string, ttl time.Duration) error
}

// eventSignals is what the gateway relays about the paying client inside the
// event metadata. All fields are optional; absent signals score conservatively.
type eventSignals struct {
	DeviceFingerprint string `json:"device_fingerprint"`
	IPCountry         string `json:"ip_country"`
}

// RiskService scores settlement-bound events from independent weighted
// factors and persists every assessment for audit, whatever the decision.
type RiskService struct {
	payments    repository.PaymentRepository
	assessments repository.AssessmentRepository
	signals     SignalStore
	cfg         config.RiskConfig
}

func NewRiskService(
	payments repository.PaymentRepository,
	assessments repository.AssessmentRepository,
	signals SignalStore,
	cfg config.RiskConfig,
) *RiskService {
	return &RiskService{
		payments:    payments,
		assessments: assessments,
		signals:     signals,
		cfg:         cfg,
	}
}

// Evaluate computes a RiskAssessment for a payment about to settle. Signal
// lookups run under the configured timeout; a timeout or store failure is an
// error the caller treats as a transient delivery failure.
func (s *RiskService) Evaluate(ctx context.Context, p *models.Payment, rawMetadata json.RawMessage) (*models.RiskAssessment, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.SignalTimeout)
	defer cancel()

	var sig eventSignals
	if len(rawMetadata) > 0 {
		// Metadata is gateway-controlled; a shape we don't recognize just
		// means no signals, not a malformed delivery.
		_ = json.Unmarshal(rawMetadata, &sig)
	}

	factors := map[string]int{}

	velocity, err := s.velocityFactor(ctx, p.AccountID)
	if err != nil {
		return nil, fmt.Errorf("risk: velocity signal: %w", err)
	}
	factors["velocity"] = velocity

	device, err := s.deviceFactor(ctx, p.AccountID, sig.DeviceFingerprint)
	if err != nil {
		return nil, fmt.Errorf("risk: device signal: %w", err)
	}
	factors["device_mismatch"] = device

	geo, err := s.geoFactor(ctx, p.AccountID, sig.IPCountry)
	if err != nil {
		return nil, fmt.Errorf("risk: geo signal: %w", err)
	}
	factors["geo_variance"] = geo

	amount, err := s.amountFactor(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("risk: amount signal: %w", err)
	}
	factors["amount_deviation"] = amount

	score := velocity + device + geo + amount
	if score > maxScore {
		score = maxScore
	}

	assessment := &models.RiskAssessment{
		ID:          uuid.New(),
		Reference:   p.Reference,
		Score:       score,
		Factors:     factors,
		Decision:    s.decide(score),
		EvaluatedAt: time.Now().UTC(),
	}

	if err := s.assessments.Insert(ctx, assessment); err != nil {
		return nil, fmt.Errorf("risk: persist assessment: %w", err)
	}

	if assessment.Decision != models.RiskDecisionAllow {
		logger.Warnf("risk %s for %s: score=%d factors=%v", assessment.Decision, p.Reference, score, factors)
	}
	return assessment, nil
}

func (s *RiskService) decide(score int) models.RiskDecision {
	switch {
	case score >= s.cfg.BlockThreshold:
		return models.RiskDecisionBlock
	case score >= s.cfg.FlagThreshold:
		return models.RiskDecisionFlag
	default:
		return models.RiskDecisionAllow
	}
}

// velocityFactor scales with today's settlement count for the account. The
// counter lives in the shared store so it is correct across instances.
func (s *RiskService) velocityFactor(ctx context.Context, accountID string) (int, error) {
	key := velocityKeyPrefix + accountID + ":" + time.Now().UTC().Format("20060102")
	count, err := s.signals.IncrWithTTL(ctx, key, 24*time.Hour)
	if err != nil {
		return 0, err
	}

	limit := int64(s.cfg.VelocityDailyLimit)
	if count >= limit {
		return s.cfg.VelocityMax, nil
	}
	return int(count * int64(s.cfg.VelocityMax) / limit), nil
}

// deviceFactor compares the relayed fingerprint against the one on record.
// First sight of an account records the fingerprint and scores zero; a
// missing fingerprint on an account with one on record scores one notch.
func (s *RiskService) deviceFactor(ctx context.Context, accountID, fingerprint string) (int, error) {
	key := deviceKeyPrefix + accountID

	known, err := s.signals.GetString(ctx, key)
	if err != nil {
		return 0, err
	}

	if fingerprint == "" {
		if known == "" {
			return 0, nil
		}
		return 1, nil
	}
	if known == "" {
		if err := s.signals.SetString(ctx, key, fingerprint, signalTTL); err != nil {
			return 0, err
		}
		return 0, nil
	}
	if known != fingerprint {
		return s.cfg.DeviceMismatchMax, nil
	}
	return 0, nil
}

// geoFactor scores a change of country against the last known location.
func (s *RiskService) geoFactor(ctx context.Context, accountID, country string) (int, error) {
	if country == "" {
		return 0, nil
	}
	key := geoKeyPrefix + accountID

	known, err := s.signals.GetString(ctx, key)
	if err != nil {
		return 0, err
	}

	if known != "" && known != country {
		// Update the record so a genuine relocation only scores once.
		if err := s.signals.SetString(ctx, key, country, signalTTL); err != nil {
			return 0, err
		}
		return s.cfg.GeoVarianceMax, nil
	}
	if known == "" {
		if err := s.signals.SetString(ctx, key, country, signalTTL); err != nil {
			return 0, err
		}
	}
	return 0, nil
}

// amountFactor compares the payment amount against the mean of the account's
// completed history over the lookback window. No history scores zero.
func (s *RiskService) amountFactor(ctx context.Context, p *models.Payment) (int, error) {
	since := time.Now().UTC().Add(-s.cfg.AmountHistoryLookback)
	count, mean, err := s.payments.CompletedAmountStats(ctx, p.AccountID, since)
	if err != nil {
		return 0, err
	}
	if count == 0 || mean <= 0 {
		return 0, nil
	}

	ratio := float64(p.Amount) / mean
	switch {
	case ratio >= 4:
		return s.cfg.AmountDeviationMax, nil
	case ratio >= 2:
		return s.cfg.AmountDeviationMax - 1, nil
	default:
		return 0, nil
	}
}
