// Command calshared runs the shared calendar server.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"calshare/internal/auth"
	"calshare/internal/config"
	appLog "calshare/internal/log"
	"calshare/internal/settings"
	"calshare/internal/store"
	"calshare/internal/web"
)

type flagConfig struct {
	configPath    string
	listen        string
	adminUser     string
	adminPassword string
	adminName     string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("calshared starting",
		"listen", conf.Listen,
		"data_dir", conf.DataDir,
		"lock_max_age", conf.LockMaxAge(),
	)

	st, err := store.Open(conf.DataDir)
	if err != nil {
		appLog.Error("failed to open event store", err, "data_dir", conf.DataDir)
		os.Exit(1)
	}
	locks := store.NewLockManager(conf.DataDir, conf.LockMaxAge())
	authSvc := auth.New(conf.DataDir, conf.SessionTTL())
	set := settings.New(conf.DataDir)

	// First-run bootstrap: create the initial admin when requested and no
	// users exist yet.
	if flags.adminUser != "" && flags.adminPassword != "" {
		name := flags.adminName
		if name == "" {
			name = flags.adminUser
		}
		if err := authSvc.Bootstrap(flags.adminUser, flags.adminPassword, name); err != nil {
			appLog.Error("failed to bootstrap admin user", err)
			os.Exit(1)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	// Janitorial stale-lock sweep.
	sweeper := cron.New()
	if _, err := sweeper.AddFunc(conf.SweepCron, locks.Sweep); err != nil {
		appLog.Error("invalid sweep cron expression", err, "spec", conf.SweepCron)
		os.Exit(1)
	}
	sweeper.Start()
	defer sweeper.Stop()

	srv := &http.Server{
		Addr:    conf.Listen,
		Handler: web.NewServer(conf, st, locks, authSvc, set).Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("server shutdown failed", err)
	}
	appLog.Info("calshared exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/calshare/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.adminUser, "admin-user", "", "Bootstrap admin username (first run only)")
	flag.StringVar(&cfg.adminPassword, "admin-password", "", "Bootstrap admin password (first run only)")
	flag.StringVar(&cfg.adminName, "admin-name", "", "Bootstrap admin display name")

	flag.Parse()

	return cfg
}
