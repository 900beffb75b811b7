package telemetry

import (
	"fmt"
	"io"
	"log/slog"
	"net"
	"strconv"

	mochi "github.com/mochi-mqtt/server/v2"
	"github.com/mochi-mqtt/server/v2/hooks/auth"
	"github.com/mochi-mqtt/server/v2/listeners"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
)

// Broker is an in-process MQTT broker so the service can run without an
// external one.
type Broker struct {
	srv  *mochi.Server
	addr string
	log  *logger.Logger
}

// NewBroker prepares a broker listening on host:port from cfg. When cfg
// carries credentials only that user may connect.
func NewBroker(cfg config.MQTTConfig, log *logger.Logger) (*Broker, error) {
	if log == nil {
		log = logger.Nop()
	}
	srv := mochi.New(&mochi.Options{
		InlineClient: true,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	})

	var err error
	if cfg.Username != "" {
		err = srv.AddHook(new(auth.Hook), &auth.Options{
			Ledger: &auth.Ledger{
				Auth: auth.AuthRules{
					{Username: auth.RString(cfg.Username), Password: auth.RString(cfg.Password), Allow: true},
				},
			},
		})
	} else {
		err = srv.AddHook(new(auth.AllowHook), nil)
	}
	if err != nil {
		return nil, fmt.Errorf("add broker auth hook: %w", err)
	}

	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tcp := listeners.NewTCP(listeners.Config{Type: "tcp", ID: "embedded", Address: addr})
	if err := srv.AddListener(tcp); err != nil {
		return nil, fmt.Errorf("add broker listener %s: %w", addr, err)
	}
	return &Broker{srv: srv, addr: addr, log: log}, nil
}

// Start begins accepting connections. It does not block.
func (b *Broker) Start() error {
	if err := b.srv.Serve(); err != nil {
		return fmt.Errorf("serve broker: %w", err)
	}
	b.log.Infow("mqtt_broker_started", "addr", b.addr)
	return nil
}

// Publish injects a message directly, bypassing the network.
func (b *Broker) Publish(topic string, payload []byte) error {
	return b.srv.Publish(topic, payload, false, 0)
}

func (b *Broker) Close() error {
	b.log.Infow("mqtt_broker_stopped", "addr", b.addr)
	return b.srv.Close()
}
