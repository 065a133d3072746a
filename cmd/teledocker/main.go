package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/anggakawa/teledocker/internal/admission"
	"github.com/anggakawa/teledocker/internal/api"
	"github.com/anggakawa/teledocker/internal/bridge"
	"github.com/anggakawa/teledocker/internal/config"
	"github.com/anggakawa/teledocker/internal/engine"
	"github.com/anggakawa/teledocker/internal/health"
	"github.com/anggakawa/teledocker/internal/scheduler"
	"github.com/anggakawa/teledocker/internal/session"
	"github.com/anggakawa/teledocker/internal/store"
)

var version = "dev"

func main() {
	cfgPath := flag.String("config", "", "path to teledocker.yaml")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println("teledocker", version)
		return
	}

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "load config:", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	if cfg.ServiceToken == "" {
		logger.Warn("no service token configured; running in open access mode")
	}

	st, err := store.New(cfg.DBPath, 0)
	if err != nil {
		logger.Error("open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	br := bridge.New(cfg.Sandbox.BridgePort, logger)

	eng, err := engine.New(cfg, logger, br)
	if err != nil {
		logger.Error("engine client", "error", err)
		os.Exit(1)
	}
	defer eng.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := eng.Ping(ctx); err != nil {
		logger.Error("engine ping failed; is Docker running?", "error", err)
		os.Exit(1)
	}
	logger.Info("engine connection OK")

	if err := eng.EnsureImage(ctx); err != nil {
		logger.Error("ensure sandbox image", "image", cfg.Sandbox.Image, "error", err)
		os.Exit(1)
	}
	if err := eng.EnsureNetwork(ctx); err != nil {
		logger.Error("ensure agent network", "network", cfg.Sandbox.Network, "error", err)
		os.Exit(1)
	}

	adm := admission.New(cfg.Quota.MaxSessions, cfg.Quota.MaxSessionsPerOwner)
	mgr := session.NewManager(cfg, st, eng, br, adm, logger)

	// Adopt whatever survived the last run before anything can race with it.
	if err := mgr.ReconcileStartup(ctx); err != nil {
		logger.Error("startup reconcile", "error", err)
		os.Exit(1)
	}
	global, perOwner, err := st.CountActive()
	if err != nil {
		logger.Error("count active sessions", "error", err)
		os.Exit(1)
	}
	adm.Seed(global, perOwner)
	logger.Info("admission seeded", "active", global, "owners", len(perOwner))

	sched := scheduler.New(st, mgr, cfg.Lifecycle, logger)
	go sched.Run(ctx)

	mon := health.New(st, eng, mgr, cfg.Health, logger)
	go mon.Run(ctx)

	srv := api.NewServer(cfg, mgr, adm, logger)

	httpServer := &http.Server{
		Addr:    cfg.Listen,
		Handler: srv.Handler(),
		// No WriteTimeout: prompt and shell responses stream for as long as
		// the agent works.
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	go func() {
		<-sigCh
		logger.Info("shutting down...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("listening", "addr", cfg.Listen, "version", version)

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}
