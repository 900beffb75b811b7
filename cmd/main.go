package main

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "sensor_monitor/docs"
	"sensor_monitor/internal/config"
	"sensor_monitor/internal/handlers"
	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/mail"
	"sensor_monitor/internal/repository"
	"sensor_monitor/internal/repository/db"
	"sensor_monitor/internal/server"
	"sensor_monitor/internal/service"
	"sensor_monitor/internal/telemetry"
)

const shutdownTimeout = 10 * time.Second

// @title                       Sensor Monitor API
// @version                     1.0
// @securityDefinitions.apikey  BearerAuth
// @in                          header
// @name                        Authorization
func main() {
	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		logger.Get(logger.InfoLevel).Fatalw("error reading config", "err", err)
	}
	log := logger.Get(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	sqlDB, err := db.InitDB(cfg.DB.Path)
	if err != nil {
		log.Fatalw("failed to init sqlite", "err", err)
	}
	defer func() {
		if cerr := sqlDB.Close(); cerr != nil {
			log.Errorw("failed to close sqlite", "err", cerr)
		}
	}()

	// context for background goroutines
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	repos := repository.NewRepository(sqlDB)
	if err := selectAccountStore(ctx, cfg, repos, log); err != nil {
		log.Fatalw("failed to init account store", "err", err)
	}

	if cfg.Transport.Kind == "mqtt" && cfg.Transport.MQTT.EmbeddedBroker {
		broker, err := startBroker(cfg.Transport.MQTT, log.Named("broker"))
		if err != nil {
			log.Fatalw("failed to start embedded broker", "err", err)
		}
		defer func() { _ = broker.Close() }()
	}

	transportLog := log.Named("transport")
	channels := func(opts telemetry.Options) (telemetry.Channel, error) {
		return telemetry.New(cfg.Transport, opts, transportLog)
	}

	services, err := service.NewService(cfg, repos, mail.New(cfg.Mail, log.Named("mail")), channels, log)
	if err != nil {
		log.Fatalw("failed to build services", "err", err)
	}

	var bg sync.WaitGroup
	startBackground(ctx, &bg, services, log)

	apiHandler := handlers.NewHandler(services, log.Named("http")).
		WithRateLimit(cfg.RateLimit.RPS, cfg.RateLimit.Burst).
		WithPushInterval(cfg.Pipeline.PushInterval)

	srv := &server.Server{}
	runHTTPServer(srv, cfg.Port, apiHandler, log)

	waitForShutdown(cancel, srv, log)

	services.Live.Stop()
	bg.Wait()
	log.Infow("stopped", "ingest", services.Ingest.Stats())
}

// selectAccountStore swaps the SQLite account store for DynamoDB when configured.
func selectAccountStore(ctx context.Context, cfg *config.Config, repos *repository.Repository, log *logger.Logger) error {
	if cfg.Accounts.Driver != "dynamodb" {
		return nil
	}
	client, err := repository.NewDynamoClient(ctx, cfg.Accounts.Dynamo)
	if err != nil {
		return err
	}
	repos.Accounts = repository.NewAccountDynamo(client, cfg.Accounts.Dynamo.Table)
	log.Infow("account store: dynamodb", "table", cfg.Accounts.Dynamo.Table, "endpoint", cfg.Accounts.Dynamo.EndpointURL)
	return nil
}

func startBroker(cfg config.MQTTConfig, log *logger.Logger) (*telemetry.Broker, error) {
	broker, err := telemetry.NewBroker(cfg, log)
	if err != nil {
		return nil, err
	}
	if err := broker.Start(); err != nil {
		return nil, err
	}
	return broker, nil
}

// startBackground launches the pipeline, the ingest writer and, if enabled,
// the device simulator. All of them stop when ctx is canceled.
func startBackground(ctx context.Context, wg *sync.WaitGroup, services *service.Service, log *logger.Logger) {
	if err := services.Live.Start(ctx); err != nil {
		log.Fatalw("failed to start pipeline", "err", err)
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		services.Ingest.Run(ctx)
	}()

	if services.Simulator != nil {
		wg.Add(1)
		go func() {
			defer wg.Done()
			services.Simulator.Run(ctx)
		}()
	}
}

// runHTTPServer runs the HTTP server in a separate goroutine.
func runHTTPServer(srv *server.Server, port string, handler *handlers.Handler, log *logger.Logger) {
	go func() {
		if err := srv.Run(port, handler.InitRoutes()); err != nil && !server.IsClosed(err) {
			log.Fatalw("error starting server", "err", err)
		}
	}()
	log.Infow("http server listening", "port", port)
}

// waitForShutdown listens for termination signals and performs graceful shutdown.
func waitForShutdown(cancel context.CancelFunc, srv *server.Server, log *logger.Logger) {
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Infow("shutting down server...")

	// allow in-flight requests to complete
	ctx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Errorw("server forced to shutdown", "err", err)
	}

	// stop background goroutines
	cancel()
}
