package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/client"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/patient"
	redisclient "github.com/hackgods/clinic-booking/internal/redis"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "text", "api-server").WithError(err).Fatal("config load error")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat, "api-server")
	log.WithField("env", cfg.Env).WithField("http_port", cfg.HTTPPort).Info("api-server starting up")

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	if err == nil {
		err = db.Migrate(pgCtx, pgPool)
	}
	cancelPg()
	if err != nil {
		log.WithError(err).Fatal("postgres setup error")
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	// Connect Redis
	rdb, err := redisclient.NewRedisClient(rootCtx, cfg.RedisAddr, cfg.RedisUsername, cfg.RedisPassword)
	if err != nil {
		log.WithError(err).Fatal("redis connection error")
	}
	defer func() {
		if err := rdb.Close(); err != nil {
			log.WithError(err).Warn("error closing redis")
		}
	}()
	log.Info("connected to Redis")

	sink, err := events.OpenSink(rootCtx, events.SinkConfig{
		Broker:       cfg.EventBroker,
		KafkaBrokers: cfg.KafkaBrokers,
		AMQPURL:      cfg.AMQPURL,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("event broker setup error")
	}
	dispatcher := events.NewDispatcher(sink, events.NewPgOutbox(pgPool), events.DispatcherOptions{}, log)

	inventoryClient := client.NewInventoryClient(cfg.InventoryBaseURL, cfg.UpstreamTimeout)
	doctors := redisclient.NewDoctorCache(rdb, inventoryClient, cfg.DoctorCacheTTL, log)

	patientRepo := patient.NewPgRepository(pgPool)
	projector := patient.NewProjector(patientRepo, log)

	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		inventoryClient,
		patient.NewDirectory(patientRepo),
		doctors,
		dispatcher,
		redisclient.NewAppointmentLocker(rdb, cfg.AppointmentLockTTL, log),
		appointment.Policy{
			BookingLeadTime:    cfg.BookingLeadTime,
			RescheduleLeadTime: cfg.RescheduleLeadTime,
			CancellationWindow: cfg.CancellationWindow,
			PendingStaleAfter:  cfg.PendingStaleAfter,
			Currency:           cfg.Currency,
		},
		log,
	)

	var wg sync.WaitGroup

	// Patient projection consumer
	worker := events.NewWorker[patient.Event](cfg.KafkaBrokers, cfg.PatientEventsGroup, []string{cfg.PatientEventsTopic}, 4, projector.Handle, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := worker.Run(rootCtx); err != nil {
			log.WithError(err).Error("patient event consumer stopped")
		}
	}()

	router := api.NewRouter(api.RouterConfig{
		Service:   svc,
		JWTSecret: cfg.JWTSecret,
		Checks: []api.Check{
			{Name: "postgres", Critical: true, Ping: pgPool.Ping},
			{Name: "redis", Ping: func(ctx context.Context) error { return rdb.Ping(ctx).Err() }},
		},
		Env:     cfg.Env,
		Version: version,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server error")
			stop()
		}
	}()
	log.WithField("addr", srv.Addr).Info("listening")

	<-rootCtx.Done()
	log.Info("shutting down api-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
	wg.Wait()
	if err := worker.Close(); err != nil {
		log.WithError(err).Warn("error closing patient consumer")
	}
	if err := dispatcher.Close(shutdownCtx); err != nil {
		log.WithError(err).Warn("event dispatcher did not drain")
	}
}
