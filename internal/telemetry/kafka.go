package telemetry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/retry"
)

// KafkaChannel maps each pub/sub topic onto a Kafka topic. One consumer
// group reader per subscribed topic, one shared writer.
type KafkaChannel struct {
	cfg        config.KafkaConfig
	maxBackoff time.Duration
	opts       Options
	log        *logger.Logger

	writer *kafka.Writer

	mu        sync.Mutex
	connected bool
}

func NewKafkaChannel(cfg config.KafkaConfig, maxBackoff time.Duration, opts Options, log *logger.Logger) *KafkaChannel {
	if log == nil {
		log = logger.Nop()
	}
	return &KafkaChannel{
		cfg:        cfg,
		maxBackoff: maxBackoff,
		opts:       opts,
		log:        log,
		writer: &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			RequiredAcks: kafka.RequireOne,
			BatchTimeout: 10 * time.Millisecond,
		},
	}
}

var _ Channel = (*KafkaChannel)(nil)

// KafkaTopic converts an MQTT-style topic into a legal Kafka topic name.
func KafkaTopic(topic string) string {
	return strings.NewReplacer("/", ".", "+", "_", "#", "_").Replace(topic)
}

// Run probes the brokers until one answers, then consumes every subscribed
// topic until ctx is done.
func (k *KafkaChannel) Run(ctx context.Context) error {
	defer func() {
		if err := k.writer.Close(); err != nil {
			k.log.Debugw("kafka_writer_close_error", "error", err)
		}
		k.setStatus(models.StatusDisconnected, nil)
	}()

	policy := retry.Policy{
		MaxInterval: k.maxBackoff,
		Jitter:      true,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			k.setStatus(failureStatus(err), err)
			k.log.Warnw("kafka_connect_failed", "attempt", attempt, "retry_in", wait, "error", err)
		},
	}
	if err := policy.Do(ctx, k.probe); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	k.setStatus(models.StatusConnected, nil)

	var wg sync.WaitGroup
	for _, topic := range k.opts.Topics {
		wg.Add(1)
		go func(topic string) {
			defer wg.Done()
			k.consume(ctx, topic, policy)
		}(topic)
	}
	wg.Wait()
	return nil
}

func (k *KafkaChannel) probe(ctx context.Context) error {
	var errs []error
	for _, b := range k.cfg.Brokers {
		conn, err := kafka.DialContext(ctx, "tcp", b)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		_ = conn.Close()
		return nil
	}
	return fmt.Errorf("no kafka broker reachable: %w", errors.Join(errs...))
}

func (k *KafkaChannel) consume(ctx context.Context, topic string, policy retry.Policy) {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  k.cfg.Brokers,
		GroupID:  k.cfg.GroupID + "." + KafkaTopic(topic),
		Topic:    KafkaTopic(topic),
		MinBytes: 1,
		MaxBytes: 1 << 20,
		MaxWait:  200 * time.Millisecond,
	})
	defer r.Close()

	failures := 0
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			failures++
			k.setStatus(models.StatusDisconnected, err)
			wait := policy.Backoff(failures)
			k.log.Warnw("kafka_read_failed", "topic", topic, "retry_in", wait, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
			continue
		}
		if failures > 0 {
			failures = 0
			k.setStatus(models.StatusConnected, nil)
		}
		k.opts.deliver(Message{Topic: topic, Payload: m.Value})
	}
}

// Publish writes one message to the Kafka form of topic.
func (k *KafkaChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	k.mu.Lock()
	up := k.connected
	k.mu.Unlock()
	if !up {
		return ErrNotConnected
	}
	if err := k.writer.WriteMessages(ctx, kafka.Message{Topic: KafkaTopic(topic), Value: payload, Time: time.Now()}); err != nil {
		return fmt.Errorf("kafka publish %s: %w", topic, err)
	}
	return nil
}

func (k *KafkaChannel) setStatus(s models.Status, err error) {
	k.mu.Lock()
	k.connected = s == models.StatusConnected
	k.mu.Unlock()
	k.opts.status(s, err)
}
