package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"

	"github.com/hackgods/clinic-booking/internal/appointment"
	"github.com/hackgods/clinic-booking/internal/client"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/events"
	"github.com/hackgods/clinic-booking/internal/logging"
	"github.com/hackgods/clinic-booking/internal/patient"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "text", "worker").WithError(err).Fatal("config load error")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat, "worker")
	log.WithFields(logrus.Fields{
		"env":             cfg.Env,
		"sweep_schedule":  cfg.SweepSchedule,
		"outbox_interval": cfg.OutboxInterval,
	}).Info("worker starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Connect Postgres
	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN)
	cancelPg()
	if err != nil {
		log.WithError(err).Fatal("postgres connection error")
	}
	defer pgPool.Close()
	log.Info("connected to Postgres")

	sink, err := events.OpenSink(rootCtx, events.SinkConfig{
		Broker:       cfg.EventBroker,
		KafkaBrokers: cfg.KafkaBrokers,
		AMQPURL:      cfg.AMQPURL,
	}, log)
	if err != nil {
		log.WithError(err).Fatal("event broker setup error")
	}
	defer func() {
		if err := sink.Close(); err != nil {
			log.WithError(err).Warn("error closing event sink")
		}
	}()

	outbox := events.NewPgOutbox(pgPool)
	relay := events.NewRelay(outbox, sink, events.RelayOptions{
		BatchSize:  cfg.OutboxBatchSize,
		MaxRetries: cfg.OutboxMaxRetries,
	}, log)

	inventoryClient := client.NewInventoryClient(cfg.InventoryBaseURL, cfg.UpstreamTimeout)

	// The sweep never publishes or locks; it only needs the ledger and the rows.
	svc := appointment.NewService(
		appointment.NewPgRepository(pgPool),
		inventoryClient,
		patient.NewDirectory(patient.NewPgRepository(pgPool)),
		inventoryClient,
		events.NewDispatcher(sink, outbox, events.DispatcherOptions{Workers: 1}, log),
		nil,
		appointment.Policy{PendingStaleAfter: cfg.PendingStaleAfter, Currency: cfg.Currency},
		log,
	)

	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))

	if _, err := c.AddFunc(cfg.SweepSchedule, func() { sweep(rootCtx, svc, log) }); err != nil {
		log.WithError(err).Fatal("invalid SWEEP_SCHEDULE")
	}
	if _, err := c.AddFunc("@every "+cfg.OutboxInterval.String(), func() { relayOnce(rootCtx, relay, log) }); err != nil {
		log.WithError(err).Fatal("invalid OUTBOX_INTERVAL")
	}

	// Run once at startup
	sweep(rootCtx, svc, log)
	relayOnce(rootCtx, relay, log)

	c.Start()
	<-rootCtx.Done()
	log.Info("shutdown signal received, stopping worker")
	<-c.Stop().Done()
}

func sweep(ctx context.Context, svc *appointment.Service, log *logrus.Entry) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	start := time.Now()
	n, err := svc.SweepStalePending(runCtx)
	if err != nil {
		log.WithError(err).Error("sweep run error")
		return
	}
	log.WithFields(logrus.Fields{"failed": n, "took": time.Since(start)}).Debug("sweep run complete")
}

func relayOnce(ctx context.Context, relay *events.Relay, log *logrus.Entry) {
	runCtx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	n, err := relay.RunOnce(runCtx)
	if err != nil {
		log.WithError(err).Error("outbox relay error")
		return
	}
	if n > 0 {
		log.WithField("delivered", n).Info("outbox relay delivered events")
	}
}
