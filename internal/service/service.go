package service

import (
	"context"
	"fmt"

	"sensor_monitor/internal/config"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/mail"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/repository"
)

// Authorization covers the account lifecycle and session checks.
type Authorization interface {
	Register(ctx context.Context, email string) (RegisterResult, error)
	Confirm(ctx context.Context, token string) error
	Login(ctx context.Context, email, password string) (string, error)
	ParseSession(accessToken string) (string, error)
}

// Live exposes the real-time pipeline: window, status and commands.
type Live interface {
	Start(ctx context.Context) error
	Stop()
	SendCommand(ctx context.Context, name, value string) error
	Snapshot() []models.LiveSample
	Status() models.PipelineStatus
}

// History answers range queries over persisted readings.
type History interface {
	Query(ctx context.Context, from, to string) ([]models.Reading, error)
}

// Ingest persists live readings in the background.
// Stop via context cancellation in main() for graceful shutdown.
type Ingest interface {
	Ingester
	Run(ctx context.Context)
	Stats() IngestStats
}

// Simulator plays the device role for local runs.
type Simulator interface {
	Run(ctx context.Context)
}

// Service aggregates all sub-services. Simulator is nil when disabled.
type Service struct {
	Authorization
	Live
	History
	Ingest
	Simulator
}

// NewService wires the repository layer, mailer and transport into the
// concrete services.
func NewService(cfg *config.Config, repos *repository.Repository, mailer mail.Mailer, channels ChannelFactory, log *logger.Logger) (*Service, error) {
	if log == nil {
		log = logger.Nop()
	}

	ingest := NewIngestService(repos.Readings, cfg.Pipeline.IngestQueue, log.Named("ingest"))
	pipeline, err := NewPipelineService(cfg.Pipeline, cfg.Transport, channels, ingest, log.Named("pipeline"))
	if err != nil {
		return nil, err
	}

	svc := &Service{
		Authorization: NewAuthService(repos.Accounts, mailer, cfg.Auth, cfg.Mail.SendAttempts, log.Named("auth")),
		Live:          pipeline,
		History:       NewHistoryService(repos.Readings, cfg.History.MaxRange),
		Ingest:        ingest,
	}

	if cfg.Simulator.Enabled {
		sim, err := NewSimulatorService(cfg.Simulator, cfg.Transport, channels, log.Named("simulator"))
		if err != nil {
			return nil, fmt.Errorf("simulator: %w", err)
		}
		svc.Simulator = sim
	}
	return svc, nil
}
