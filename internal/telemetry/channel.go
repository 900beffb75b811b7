// Package telemetry carries device readings and operator commands over a
// publish/subscribe transport. MQTT is the default; Kafka is available for
// deployments that already run a cluster.
package telemetry

import (
	"context"
	"errors"
	"fmt"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
)

var (
	// ErrNotConnected is returned by Publish while the transport is down.
	ErrNotConnected = errors.New("telemetry transport not connected")
	// ErrRefused marks a broker that answered but rejected the session
	// (bad credentials, banned client id). Attempts keep going but the
	// status is Error rather than Disconnected.
	ErrRefused = errors.New("telemetry session refused by broker")
)

// Message is one inbound publication.
type Message struct {
	Topic   string
	Payload []byte
}

// Options configure a Channel. OnMessage is called from the transport's
// receive goroutine and must not block.
type Options struct {
	// ClientID identifies this connection to the broker. Empty means random.
	ClientID  string
	Topics    []string
	OnMessage func(Message)
	OnStatus  func(status models.Status, err error)
}

// Channel is a pub/sub connection that keeps itself connected.
type Channel interface {
	// Run connects, subscribes to Options.Topics and reconnects on loss
	// until ctx is done. It returns nil on cancellation.
	Run(ctx context.Context) error
	// Publish sends payload to topic once. Delivery is fire-and-forget.
	Publish(ctx context.Context, topic string, payload []byte) error
}

// New builds the channel selected by cfg.Kind.
func New(cfg config.TransportConfig, opts Options, log *logger.Logger) (Channel, error) {
	switch cfg.Kind {
	case "", "mqtt":
		return NewMQTTChannel(cfg.MQTT, cfg.MaxBackoff, opts, log), nil
	case "kafka":
		return NewKafkaChannel(cfg.Kafka, cfg.MaxBackoff, opts, log), nil
	default:
		return nil, fmt.Errorf("unknown transport kind %q", cfg.Kind)
	}
}

func (o Options) status(s models.Status, err error) {
	if o.OnStatus != nil {
		o.OnStatus(s, err)
	}
}

// failureStatus maps a failed connection attempt to the status it reports.
func failureStatus(err error) models.Status {
	if errors.Is(err, ErrRefused) {
		return models.StatusError
	}
	return models.StatusDisconnected
}

func (o Options) deliver(m Message) {
	if o.OnMessage != nil {
		o.OnMessage(m)
	}
}
