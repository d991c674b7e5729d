package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"rolltrack/config"
	"rolltrack/docstore"
	"rolltrack/engine"
	"rolltrack/logger"
	"rolltrack/messaging"
	"rolltrack/metrics"
	"rolltrack/store"
	"rolltrack/www"
)

var Version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "rolltrack.yaml", "path to config file")
	flag.Parse()

	if *showVersion {
		fmt.Println("rolltrack", Version)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}

	lg, err := logger.New(cfg.Log.Mode)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}
	defer lg.Sync()

	// Document store
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	db, err := docstore.Open(ctx, &cfg.Store)
	cancel()
	if err != nil {
		lg.Fatal("open store", "driver", cfg.Store.Driver, "err", err)
	}
	defer db.Close()
	lg.Info("store open", "driver", db.Kind())

	// Engine
	eng := engine.New(engine.Config{
		Store:         store.New(db),
		MaxTotalWidth: cfg.Inventory.MaxTotalWidth,
		LabelBaseURL:  cfg.Inventory.LabelBaseURL,
		Logger:        lg,
	})

	webOpts := www.Options{
		SessionSecret: cfg.Web.SessionSecret,
		PresetWidths:  cfg.Inventory.PresetWidths,
		Logger:        lg,
	}

	if cfg.Web.Metrics {
		collector := metrics.New()
		collector.Attach(eng.Events)
		webOpts.Metrics = collector.Handler()
	}

	// Messaging: engine events go through the outbox so a broker outage
	// never blocks a scan.
	if cfg.Messaging.Enabled {
		msgClient := messaging.NewClient(&cfg.Messaging, lg)
		if err := msgClient.Connect(); errors.Is(err, messaging.ErrConnectPending) {
			lg.Warn("broker unreachable, retrying in background; events stay in the outbox", "backend", msgClient.Backend(), "err", err)
		} else if err != nil {
			lg.Error("messaging misconfigured, events stay in the outbox", "backend", msgClient.Backend(), "err", err)
		} else {
			lg.Info("messaging connected", "backend", msgClient.Backend())
		}
		defer msgClient.Close()
		webOpts.Messaging = msgClient

		outbox := messaging.NewOutbox(db)
		bridge := messaging.NewBridge(outbox, cfg.Messaging.EventsTopic, cfg.Messaging.StationID, 0, lg)
		bridge.Attach(eng.Events)
		bridge.Start()
		defer bridge.Stop()

		drainer := messaging.NewOutboxDrainer(outbox, msgClient, cfg.Messaging.OutboxDrainInterval, cfg.Messaging.OutboxMaxRetries, lg)
		drainer.Start()
		defer drainer.Stop()

		if topic := cfg.Messaging.CommandsTopic; topic != "" {
			cmds := messaging.NewCommandHandler(eng, outbox, cfg.Messaging.EventsTopic, cfg.Messaging.StationID, lg)
			if err := cmds.Start(msgClient, topic); err != nil {
				lg.Warn("scanner command subscribe failed", "topic", topic, "err", err)
			} else {
				lg.Info("scanner commands listening", "topic", topic)
			}
		}
	}

	// Web server
	handler, stopWeb := www.NewRouter(eng, webOpts)

	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, cfg.Web.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		lg.Info("web server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			lg.Fatal("web server", "err", err)
		}
	}()

	lg.Info("rolltrack ready", "version", Version, "max_total_width", eng.MaxTotalWidth())

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	lg.Info("shutting down")
	stopWeb()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	lg.Info("stopped")
}
