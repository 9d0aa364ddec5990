package telemetry

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"time"

	"github.com/SettleWire/payment-webhook-service/internal/config"
	"github.com/SettleWire/payment-webhook-service/internal/util/logger"
	"github.com/segmentio/kafka-go"
)

// KafkaOutcomeShipper streams OutcomeEvents to Kafka asynchronously. When
// disabled it swallows events, so callers never branch on configuration.
type KafkaOutcomeShipper struct {
	cfg    config.KafkaOutcomeConfig
	writer *kafka.Writer
	ch     chan OutcomeEvent
	stop   chan struct{}
}

func NewKafkaOutcomeShipper(cfgIn config.KafkaOutcomeConfig) (*KafkaOutcomeShipper, error) {
	cfg := cfgIn
	if !cfg.Enabled {
		return &KafkaOutcomeShipper{cfg: cfg, ch: make(chan OutcomeEvent), stop: make(chan struct{})}, nil
	}
	if len(cfg.Brokers) == 0 {
		return nil, errors.New("kafka: no brokers configured")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 2 * time.Second
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = cfg.BatchSize * 4
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 5 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}

	tr := &kafka.Transport{DialTimeout: cfg.DialTimeout}
	if cfg.TLS {
		tr.TLS = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireAll,
		Transport:              tr,
		AllowAutoTopicCreation: false,
		Async:                  true,
		BatchTimeout:           cfg.FlushEvery,
		BatchSize:              cfg.BatchSize,
		WriteTimeout:           cfg.WriteTimeout,
	}

	return &KafkaOutcomeShipper{
		cfg:    cfg,
		writer: writer,
		ch:     make(chan OutcomeEvent, cfg.QueueCapacity),
		stop:   make(chan struct{}),
	}, nil
}

func (s *KafkaOutcomeShipper) Start() {
	if !s.cfg.Enabled {
		return
	}
	go s.loop()
}

// Publish enqueues an event without blocking the request path. A full queue
// drops the event; the audit table stays the system of record.
func (s *KafkaOutcomeShipper) Publish(ev OutcomeEvent) {
	if !s.cfg.Enabled {
		return
	}
	select {
	case s.ch <- ev:
	default:
		logger.Warnf("outcome shipper queue full, dropping event for %s", ev.Reference)
	}
}

func (s *KafkaOutcomeShipper) Stop(ctx context.Context) {
	if !s.cfg.Enabled {
		return
	}
	close(s.stop)
	drain := time.After(500 * time.Millisecond)
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-drain:
			_ = s.writer.Close()
			return
		case <-ctx.Done():
			_ = s.writer.Close()
			return
		}
	}
}

func (s *KafkaOutcomeShipper) loop() {
	for {
		select {
		case ev := <-s.ch:
			s.dispatch(ev)
		case <-s.stop:
			return
		}
	}
}

func (s *KafkaOutcomeShipper) dispatch(ev OutcomeEvent) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.WriteTimeout)
	defer cancel()
	err = s.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.Reference),
		Value: payload,
	})
	if err != nil {
		logger.Errorf("outcome shipper write failed: %v", err)
	}
}
