package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quaygate/quaygate/internal/config"
	"github.com/quaygate/quaygate/internal/db"
	"github.com/quaygate/quaygate/internal/httpapi"
	"github.com/quaygate/quaygate/internal/logger"
	"github.com/quaygate/quaygate/internal/quaygate/client"
	"github.com/quaygate/quaygate/internal/quaygate/outbox"
	"github.com/quaygate/quaygate/internal/quaygate/portserver"
	sqlitestore "github.com/quaygate/quaygate/internal/quaygate/store/sqlite"
)

func main() {
	cfg, err := config.Port(".env")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New("quaygate-port", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	conn, err := db.Open(ctx, db.Config{Path: cfg.DBPath}, sqlitestore.PortMigrations())
	if err != nil {
		log.Error("open database", "err", err)
		os.Exit(1)
	}
	defer conn.Close()

	writer := db.NewWorker(conn)
	defer writer.Close()

	mirror := sqlitestore.NewWorkerStore(conn, writer)
	policies := sqlitestore.NewPolicyStore(conn, writer)
	queue := sqlitestore.NewOutboxStore(conn, writer)
	heartbeats := sqlitestore.NewHeartbeatStore(conn, writer)
	events := sqlitestore.NewAccessEventStore(conn, writer)

	var upstream portserver.DirectoryLookup
	if cfg.DirectoryURL != "" {
		upstream = client.NewDirectoryClient(cfg.DirectoryURL, client.Options{})
	}

	svc := portserver.NewService(portserver.Config{
		PortID:     cfg.PortID,
		Mirror:     mirror,
		Policies:   policies,
		Outbox:     queue,
		Heartbeats: heartbeats,
		Directory:  upstream,
		Logger:     log,
	})
	audit := portserver.NewAuditService(events, log)

	// Checkpoint push targets come from config; a checkpoint missing
	// here still accumulates outbox entries and is flagged stale.
	targets, err := config.ParseTargets(cfg.Checkpoints)
	if err != nil {
		log.Error("parse checkpoints", "err", err)
		os.Exit(1)
	}
	dispatcher := outbox.NewDispatcher(queue,
		client.NewPushClient(targets, client.Options{}),
		outbox.DispatcherConfig{Interval: cfg.OutboxInterval, Batch: cfg.OutboxBatch},
		log)
	dispatcher.Start(ctx)
	defer dispatcher.Stop()

	monitor := outbox.NewMonitor(queue,
		outbox.MonitorConfig{Bound: cfg.MaxStaleness}, log)
	monitor.Start(ctx)
	defer monitor.Stop()

	srv := httpapi.NewPortServer(httpapi.PortDependencies{
		Logger:  log,
		Addr:    cfg.HTTPAddr,
		Service: svc,
		Audit:   audit,
		Monitor: monitor,
	})

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "port_id", cfg.PortID)
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
