package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/clinic-booking/internal/api"
	"github.com/hackgods/clinic-booking/internal/config"
	"github.com/hackgods/clinic-booking/internal/db"
	"github.com/hackgods/clinic-booking/internal/inventory"
	"github.com/hackgods/clinic-booking/internal/logging"
)

const version = "0.3.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Setup("info", "text", "inventory-server").WithError(err).Fatal("config load error")
	}
	log := logging.Setup(cfg.LogLevel, cfg.LogFormat, "inventory-server")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		repo   inventory.Repository
		checks []api.Check
	)

	switch cfg.InventoryStore {
	case "memory":
		log.Warn("using in-memory slot store, data is lost on restart")
		repo = inventory.NewMemoryRepository()
	default:
		pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
		pgPool, err := db.ConnectPostgres(pgCtx, cfg.InventoryDSN)
		if err == nil {
			err = db.Migrate(pgCtx, pgPool)
		}
		cancelPg()
		if err != nil {
			log.WithError(err).Fatal("postgres setup error")
		}
		defer pgPool.Close()
		log.Info("connected to Postgres")

		repo = inventory.NewPgRepository(pgPool)
		checks = append(checks, api.Check{Name: "postgres", Critical: true, Ping: pgPool.Ping})
	}

	router := api.NewInventoryRouter(api.InventoryRouterConfig{
		Ledger:  inventory.NewLedger(repo, log),
		Checks:  checks,
		Env:     cfg.Env,
		Version: version,
		Log:     log,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.InventoryHTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Error("http server error")
			stop()
		}
	}()
	log.WithField("addr", srv.Addr).Info("inventory-server listening")

	<-rootCtx.Done()
	log.Info("shutting down inventory-server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("http shutdown error")
	}
}
