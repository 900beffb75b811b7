package service

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/telemetry"
)

// ----------- Simulation constants -----------
const (
	AmbientC        = 32.0 // temperature the enclosure drifts toward with the fan off
	StartTempC      = 28.0
	DriftPerSec     = 0.02 // fraction of (ambient - temp) gained per second
	MaxCoolCPerSec  = 0.5  // cooling at full fan speed
	FanMaxPWM       = 255.0
	EncoderMaxSteps = 100.0
)

// Firmware defaults.
const (
	defaultSetpoint          = 25.0
	defaultTolerance         = 2.0
	defaultFanMinSpeed       = 50
	defaultKp                = 25.0
	defaultKi                = 0.2
	defaultKd                = 0.0
	defaultDistanceThreshold = 15.0
)

// DeviceState is the simulated controller state.
type DeviceState struct {
	Temperature float64
	Humidity    float64
	Distance    float64
	FanOutput   float64
	Position    int
	Manual      bool
	Alarm       bool

	Setpoint          float64
	Tolerance         float64
	Hysteresis        float64
	FanMinSpeed       int
	DistanceThreshold float64
	Kp, Ki, Kd        float64
}

// SimulatorService plays the device: it publishes readings on the telemetry
// topic and applies commands received on the command topic.
type SimulatorService struct {
	channel telemetry.Channel
	topic   string
	tick    time.Duration
	log     *logger.Logger

	mu       sync.Mutex
	st       DeviceState
	integral float64
	prevErr  float64
	steps    int
}

func NewSimulatorService(cfg config.SimulatorConfig, transport config.TransportConfig, newChannel ChannelFactory, log *logger.Logger) (*SimulatorService, error) {
	if log == nil {
		log = logger.Nop()
	}
	tick := cfg.Tick
	if tick <= 0 {
		tick = time.Second
	}
	s := &SimulatorService{
		topic: transport.TelemetryTopic,
		tick:  tick,
		log:   log,
		st: DeviceState{
			Temperature:       StartTempC,
			Humidity:          45,
			Distance:          40,
			Setpoint:          defaultSetpoint,
			Tolerance:         defaultTolerance,
			FanMinSpeed:       defaultFanMinSpeed,
			DistanceThreshold: defaultDistanceThreshold,
			Kp:                defaultKp,
			Ki:                defaultKi,
			Kd:                defaultKd,
		},
	}
	ch, err := newChannel(telemetry.Options{
		ClientID:  "sensor-device-" + uuid.NewString(),
		Topics:    []string{transport.CommandTopic},
		OnMessage: s.onCommand,
	})
	if err != nil {
		return nil, fmt.Errorf("build simulator channel: %w", err)
	}
	s.channel = ch
	return s, nil
}

// Run publishes a reading every tick until ctx is canceled.
func (s *SimulatorService) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := s.channel.Run(ctx); err != nil {
			s.log.Errorw("simulator_transport_stopped", "error", err)
		}
	}()
	defer wg.Wait()

	t := time.NewTicker(s.tick)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			payload := s.Step(s.tick.Seconds())
			if err := s.channel.Publish(ctx, s.topic, []byte(payload)); err != nil {
				if errors.Is(err, telemetry.ErrNotConnected) {
					continue
				}
				s.log.Debugw("simulator_publish_failed", "error", err)
			}
		}
	}
}

// Step advances the simulation by dt seconds and returns the payload the
// device would emit.
func (s *SimulatorService) Step(dt float64) string {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.steps++
	st := &s.st
	st.Humidity = 45 + 5*math.Sin(float64(s.steps)/30)
	st.Distance = 35 + 25*math.Sin(float64(s.steps)/17)

	switch {
	case st.Distance < st.DistanceThreshold:
		st.FanOutput = FanMaxPWM
	case st.Manual:
		st.FanOutput = clamp(float64(st.Position)*FanMaxPWM/EncoderMaxSteps, 0, FanMaxPWM)
	default:
		st.FanOutput = s.compute(dt)
	}

	st.Temperature += dt * (DriftPerSec*(AmbientC-st.Temperature) - MaxCoolCPerSec*st.FanOutput/FanMaxPWM)

	if st.Temperature > st.Setpoint+st.Tolerance && st.Alarm {
		s.log.Debugw("simulator_over_temperature", "temp_c", st.Temperature, "setpoint", st.Setpoint)
	}

	manual := "OFF"
	if st.Manual {
		manual = "ON"
	}
	return fmt.Sprintf("%.2f,%.2f,%.2f,%s,%.2f,%d",
		st.Temperature, st.Humidity, st.Distance, manual, st.FanOutput, st.Position)
}

// compute is a reverse-acting PID: the fan speeds up as the temperature
// rises above the setpoint. Output is clamped to [FanMinSpeed, 255].
func (s *SimulatorService) compute(dt float64) float64 {
	st := &s.st
	e := st.Temperature - st.Setpoint
	if math.Abs(e) <= st.Hysteresis {
		e = 0
	}
	s.integral += e * dt
	if st.Ki > 0 {
		s.integral = clamp(s.integral, 0, FanMaxPWM/st.Ki)
	}
	deriv := 0.0
	if dt > 0 {
		deriv = (e - s.prevErr) / dt
	}
	s.prevErr = e
	out := st.Kp*e + st.Ki*s.integral + st.Kd*deriv
	return clamp(out, float64(st.FanMinSpeed), FanMaxPWM)
}

func (s *SimulatorService) onCommand(m telemetry.Message) {
	if err := s.Apply(string(m.Payload)); err != nil {
		s.log.Warnw("simulator_command_ignored", "payload", string(m.Payload), "error", err)
	}
}

// Apply handles one NAME=value command the way the firmware does.
func (s *SimulatorService) Apply(command string) error {
	name, value, ok := strings.Cut(strings.TrimSpace(command), "=")
	if !ok {
		return fmt.Errorf("missing '=' in %q", command)
	}
	name = strings.TrimSpace(name)
	value = strings.TrimSpace(value)

	s.mu.Lock()
	defer s.mu.Unlock()
	st := &s.st

	switch name {
	case models.CommandSetpoint:
		return setFloat(&st.Setpoint, value)
	case models.CommandTolerance:
		return setFloat(&st.Tolerance, value)
	case models.CommandHysteresis:
		return setFloat(&st.Hysteresis, value)
	case models.CommandDistance:
		return setFloat(&st.DistanceThreshold, value)
	case models.CommandFanMinSpeed:
		v, err := strconv.Atoi(value)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		st.FanMinSpeed = int(clamp(float64(v), 0, FanMaxPWM))
	case models.CommandPID:
		parts := strings.Split(value, ",")
		if len(parts) != 3 {
			return fmt.Errorf("PID: expected format 'Kp,Ki,Kd', got %q", value)
		}
		var k [3]float64
		for i, p := range parts {
			v, err := strconv.ParseFloat(strings.TrimSpace(p), 64)
			if err != nil {
				return fmt.Errorf("PID: %w", err)
			}
			k[i] = v
		}
		st.Kp, st.Ki, st.Kd = k[0], k[1], k[2]
		s.integral = 0
	case models.CommandAlarm:
		st.Alarm = value == "1"
	case models.CommandManual:
		manual := value == "1"
		if manual && !st.Manual {
			// Hold the current fan speed by parking the encoder there.
			st.Position = int(math.Round(st.FanOutput * EncoderMaxSteps / FanMaxPWM))
		}
		st.Manual = manual
	default:
		return fmt.Errorf("unknown command %q", name)
	}
	return nil
}

// State returns a copy of the simulated device state.
func (s *SimulatorService) State() DeviceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.st
}

func setFloat(dst *float64, value string) error {
	v, err := strconv.ParseFloat(value, 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return fmt.Errorf("invalid number %q", value)
	}
	*dst = v
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
