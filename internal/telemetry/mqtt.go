package telemetry

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/google/uuid"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/retry"
)

const (
	defaultKeepAlive  = 30
	disconnectTimeout = 2 * time.Second
)

// MQTTChannel is an MQTT v5 Channel built on paho.golang.
type MQTTChannel struct {
	cfg        config.MQTTConfig
	maxBackoff time.Duration
	opts       Options
	log        *logger.Logger

	mu     sync.RWMutex
	client *paho.Client
}

func NewMQTTChannel(cfg config.MQTTConfig, maxBackoff time.Duration, opts Options, log *logger.Logger) *MQTTChannel {
	if opts.ClientID == "" {
		opts.ClientID = cfg.ClientID
	}
	if opts.ClientID == "" {
		opts.ClientID = "sensor-monitor-" + uuid.NewString()
	}
	if log == nil {
		log = logger.Nop()
	}
	return &MQTTChannel{cfg: cfg, maxBackoff: maxBackoff, opts: opts, log: log}
}

var _ Channel = (*MQTTChannel)(nil)

// Run keeps a session open until ctx is done. Every connection attempt is
// retried with capped exponential backoff and jitter.
func (c *MQTTChannel) Run(ctx context.Context) error {
	policy := retry.Policy{
		MaxInterval: c.maxBackoff,
		Jitter:      true,
		OnRetry: func(attempt int, wait time.Duration, err error) {
			c.opts.status(failureStatus(err), err)
			c.log.Warnw("mqtt_connect_failed", "attempt", attempt, "retry_in", wait, "error", err)
		},
	}

	for {
		var lost <-chan error
		err := policy.Do(ctx, func(ctx context.Context) error {
			l, err := c.connect(ctx)
			lost = l
			return err
		})
		if err != nil {
			c.opts.status(models.StatusDisconnected, nil)
			if ctx.Err() != nil {
				return nil
			}
			return err
		}

		c.opts.status(models.StatusConnected, nil)
		c.log.Infow("mqtt_connected", "host", c.cfg.Host, "port", c.cfg.Port, "client_id", c.opts.ClientID)

		select {
		case <-ctx.Done():
			c.disconnect()
			c.opts.status(models.StatusDisconnected, nil)
			return nil
		case err := <-lost:
			c.drop()
			c.opts.status(models.StatusDisconnected, err)
			c.log.Warnw("mqtt_connection_lost", "error", err)
		}

		// Pause before the next cycle so a flapping broker cannot spin us.
		select {
		case <-ctx.Done():
			c.opts.status(models.StatusDisconnected, nil)
			return nil
		case <-time.After(policy.Backoff(1)):
		}
	}
}

// Publish sends payload with QoS 0.
func (c *MQTTChannel) Publish(ctx context.Context, topic string, payload []byte) error {
	c.mu.RLock()
	cli := c.client
	c.mu.RUnlock()
	if cli == nil {
		return ErrNotConnected
	}
	if _, err := cli.Publish(ctx, &paho.Publish{Topic: topic, QoS: 0, Payload: payload}); err != nil {
		return fmt.Errorf("mqtt publish %s: %w", topic, err)
	}
	return nil
}

// connect performs one attempt: dial, CONNECT, SUBSCRIBE. The returned
// channel receives the error that ends the session.
func (c *MQTTChannel) connect(ctx context.Context) (<-chan error, error) {
	conn, err := c.dial(ctx)
	if err != nil {
		return nil, err
	}

	lost := make(chan error, 1)
	notify := func(err error) {
		select {
		case lost <- err:
		default:
		}
	}

	cli := paho.NewClient(paho.ClientConfig{
		ClientID: c.opts.ClientID,
		Conn:     conn,
		OnClientError: func(err error) {
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("server closed connection: %w", err)
			}
			notify(err)
		},
		OnServerDisconnect: func(d *paho.Disconnect) {
			notify(fmt.Errorf("server disconnect, reason code %d", d.ReasonCode))
		},
	})
	cli.AddOnPublishReceived(func(pr paho.PublishReceived) (bool, error) {
		c.opts.deliver(Message{Topic: pr.Packet.Topic, Payload: pr.Packet.Payload})
		return true, nil
	})

	keepAlive := c.cfg.KeepAlive
	if keepAlive == 0 {
		keepAlive = defaultKeepAlive
	}
	cp := &paho.Connect{
		ClientID:     c.opts.ClientID,
		KeepAlive:    keepAlive,
		CleanStart:   true,
		Username:     c.cfg.Username,
		UsernameFlag: c.cfg.Username != "",
		Password:     []byte(c.cfg.Password),
		PasswordFlag: c.cfg.Password != "",
	}
	// paho returns the CONNACK together with the error on refusal.
	ca, err := cli.Connect(ctx, cp)
	if ca != nil && ca.ReasonCode >= 0x80 {
		_ = conn.Close()
		return nil, fmt.Errorf("%w: reason code %d", ErrRefused, ca.ReasonCode)
	}
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	if len(c.opts.Topics) > 0 {
		subs := make([]paho.SubscribeOptions, 0, len(c.opts.Topics))
		for _, t := range c.opts.Topics {
			subs = append(subs, paho.SubscribeOptions{Topic: t, QoS: 0})
		}
		if _, err := cli.Subscribe(ctx, &paho.Subscribe{Subscriptions: subs}); err != nil {
			_ = cli.Disconnect(&paho.Disconnect{ReasonCode: 0})
			return nil, fmt.Errorf("mqtt subscribe %v: %w", c.opts.Topics, err)
		}
	}

	c.mu.Lock()
	c.client = cli
	c.mu.Unlock()
	return lost, nil
}

func (c *MQTTChannel) dial(ctx context.Context) (net.Conn, error) {
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	if c.cfg.TLS {
		d := tls.Dialer{Config: &tls.Config{ServerName: c.cfg.Host, MinVersion: tls.VersionTLS12}}
		conn, err := d.DialContext(ctx, "tcp", addr)
		if err != nil {
			return nil, fmt.Errorf("dial tls %s: %w", addr, err)
		}
		return packets.NewThreadSafeConn(conn), nil
	}
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial tcp %s: %w", addr, err)
	}
	return packets.NewThreadSafeConn(conn), nil
}

func (c *MQTTChannel) drop() *paho.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	cli := c.client
	c.client = nil
	return cli
}

func (c *MQTTChannel) disconnect() {
	cli := c.drop()
	if cli == nil {
		return
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := cli.Disconnect(&paho.Disconnect{ReasonCode: 0}); err != nil {
			c.log.Debugw("mqtt_disconnect_error", "error", err)
		}
	}()
	select {
	case <-done:
	case <-time.After(disconnectTimeout):
		c.log.Warnw("mqtt_disconnect_timeout")
	}
}
