package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/telemetry"
)

const readingFields = 6

// ChannelFactory builds a telemetry channel for the given options.
type ChannelFactory func(opts telemetry.Options) (telemetry.Channel, error)

// Ingester accepts parsed readings for persistence without blocking.
type Ingester interface {
	Enqueue(r models.Reading) bool
}

// PipelineService consumes device telemetry into the live window and
// publishes operator commands back to the device.
type PipelineService struct {
	telemetryTopic string
	commandTopic   string
	persist        bool

	window  *Window
	inbound chan telemetry.Message
	channel telemetry.Channel
	ingest  Ingester
	log     *logger.Logger
	now     func() time.Time

	statusMu sync.RWMutex
	status   models.Status

	received  atomic.Uint64
	malformed atomic.Uint64
	dropped   atomic.Uint64

	runMu   sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

func NewPipelineService(cfg config.PipelineConfig, transport config.TransportConfig, newChannel ChannelFactory, ingest Ingester, log *logger.Logger) (*PipelineService, error) {
	if log == nil {
		log = logger.Nop()
	}
	queue := cfg.InboundQueue
	if queue <= 0 {
		queue = 256
	}
	p := &PipelineService{
		telemetryTopic: transport.TelemetryTopic,
		commandTopic:   transport.CommandTopic,
		persist:        cfg.Persist && ingest != nil,
		window:         NewWindow(),
		inbound:        make(chan telemetry.Message, queue),
		ingest:         ingest,
		log:            log,
		now:            time.Now,
		status:         models.StatusDisconnected,
	}

	ch, err := newChannel(telemetry.Options{
		Topics:    []string{transport.TelemetryTopic},
		OnMessage: p.enqueue,
		OnStatus:  p.setStatus,
	})
	if err != nil {
		return nil, fmt.Errorf("build telemetry channel: %w", err)
	}
	p.channel = ch
	return p, nil
}

// Start launches the transport loop and the single consumer goroutine.
func (p *PipelineService) Start(ctx context.Context) error {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.running {
		return errors.New("pipeline already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	p.cancel = cancel
	p.running = true

	p.wg.Add(2)
	go func() {
		defer p.wg.Done()
		if err := p.channel.Run(ctx); err != nil {
			p.log.Errorw("pipeline_transport_stopped", "error", err)
			p.setStatus(models.StatusError, err)
		}
	}()
	go func() {
		defer p.wg.Done()
		p.consume(ctx)
	}()

	p.log.Infow("pipeline_started", "topic", p.telemetryTopic, "persist", p.persist)
	return nil
}

// Stop cancels the loops and waits for them to exit.
func (p *PipelineService) Stop() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if !p.running {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.running = false
	p.log.Infow("pipeline_stopped")
}

// enqueue is the transport callback. It must not block.
func (p *PipelineService) enqueue(m telemetry.Message) {
	select {
	case p.inbound <- m:
	default:
		p.dropped.Add(1)
		p.log.Debugw("pipeline_inbound_full", "topic", m.Topic)
	}
}

func (p *PipelineService) consume(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case m := <-p.inbound:
			if m.Topic != "" && m.Topic != p.telemetryTopic {
				continue
			}
			_ = p.handle(m.Payload)
		}
	}
}

// handle parses one payload into the window. Malformed payloads are counted
// and discarded.
func (p *PipelineService) handle(payload []byte) error {
	p.received.Add(1)
	raw := string(payload)

	r, err := ParseReading(raw)
	if err != nil {
		p.malformed.Add(1)
		p.log.Debugw("pipeline_malformed_message", "payload", raw, "error", err)
		return err
	}

	ts := p.now().UTC()
	r.Timestamp = ts
	p.window.Push(models.LiveSample{Timestamp: ts, Reading: r, Raw: raw})

	if p.persist {
		if !p.ingest.Enqueue(r) {
			p.log.Debugw("pipeline_ingest_queue_full")
		}
	}
	return nil
}

// ParseReading decodes "temperature,humidity,distance,manual,fanOutput,position".
func ParseReading(payload string) (models.Reading, error) {
	parts := strings.Split(strings.TrimSpace(payload), ",")
	if len(parts) != readingFields {
		return models.Reading{}, fmt.Errorf("%w: expected %d fields, got %d", ErrMalformedMessage, readingFields, len(parts))
	}

	var (
		r    models.Reading
		errs []error
	)
	parse := func(name, s string) float64 {
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, fmt.Errorf("%s %q", name, s))
		}
		return v
	}

	r.Temperature = parse("temperature", parts[0])
	r.Humidity = parse("humidity", parts[1])
	r.Distance = parse("distance", parts[2])

	manual, err := parseManual(parts[3])
	if err != nil {
		errs = append(errs, fmt.Errorf("manual %q", parts[3]))
	}
	r.ManualOverride = manual

	r.ActuatorOutput = parse("fan output", parts[4])

	pos := parse("position", parts[5])
	if pos != math.Trunc(pos) || math.Abs(pos) > math.MaxInt32 {
		errs = append(errs, fmt.Errorf("position %q", parts[5]))
	}
	r.Position = int(pos)

	if len(errs) > 0 {
		return models.Reading{}, fmt.Errorf("%w: %w", ErrMalformedMessage, errors.Join(errs...))
	}
	return r, nil
}

// parseManual accepts 0/1, true/false and the firmware's ON/OFF.
func parseManual(s string) (bool, error) {
	s = strings.TrimSpace(s)
	switch strings.ToUpper(s) {
	case "ON":
		return true, nil
	case "OFF":
		return false, nil
	}
	return strconv.ParseBool(s)
}

// SendCommand validates and publishes NAME=value on the command topic.
func (p *PipelineService) SendCommand(ctx context.Context, name, value string) error {
	cmd := models.Command{
		Name:  strings.TrimSpace(name),
		Value: strings.TrimSpace(value),
	}
	if !models.IsCommand(cmd.Name) {
		return fmt.Errorf("%w: unknown command %q", ErrInvalidCommand, name)
	}
	if cmd.Value == "" || strings.ContainsAny(cmd.Value, "\r\n") {
		return fmt.Errorf("%w: %s needs a value", ErrInvalidCommand, cmd.Name)
	}

	if err := p.channel.Publish(ctx, p.commandTopic, []byte(cmd.Payload())); err != nil {
		p.log.Warnw("pipeline_command_publish_failed", "command", cmd.Name, "error", err)
		return fmt.Errorf("%w: %w", ErrDependency, err)
	}
	p.log.Infow("pipeline_command_sent", "command", cmd.Name, "value", cmd.Value)
	return nil
}

func (p *PipelineService) Snapshot() []models.LiveSample {
	return p.window.Snapshot()
}

func (p *PipelineService) Status() models.PipelineStatus {
	p.statusMu.RLock()
	st := p.status
	p.statusMu.RUnlock()
	return models.PipelineStatus{
		Status:    st,
		Received:  p.received.Load(),
		Malformed: p.malformed.Load(),
		Dropped:   p.dropped.Load(),
		Window:    p.window.Len(),
	}
}

func (p *PipelineService) setStatus(s models.Status, err error) {
	p.statusMu.Lock()
	prev := p.status
	p.status = s
	p.statusMu.Unlock()

	if prev == s {
		return
	}
	if err != nil {
		p.log.Warnw("pipeline_status_changed", "from", prev, "to", s, "error", err)
		return
	}
	p.log.Infow("pipeline_status_changed", "from", prev, "to", s)
}
