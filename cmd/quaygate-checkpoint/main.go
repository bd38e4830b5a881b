package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/quaygate/quaygate/internal/config"
	"github.com/quaygate/quaygate/internal/httpapi"
	"github.com/quaygate/quaygate/internal/logger"
	"github.com/quaygate/quaygate/internal/quaygate/checkpoint"
	"github.com/quaygate/quaygate/internal/quaygate/client"
	"github.com/quaygate/quaygate/internal/quaygate/types"
)

func main() {
	cfg, err := config.Checkpoint(".env")
	if err != nil {
		os.Stderr.WriteString("config: " + err.Error() + "\n")
		os.Exit(1)
	}
	log := logger.New("quaygate-checkpoint", logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sealed, err := checkpoint.OpenSealedStore(cfg.CachePath, cfg.CachePassphrase)
	if err != nil {
		log.Error("open sealed cache", "err", err)
		os.Exit(1)
	}
	cache, err := checkpoint.NewCache(sealed)
	if err != nil {
		// A corrupt cache is not silently reset: operators decide.
		log.Error("load cache", "err", err)
		os.Exit(1)
	}

	pol := types.CheckpointPolicy{
		CheckpointID: cfg.CheckpointID,
		PortID:       cfg.PortID,
		Location:     cfg.Location,
		AllowedRoles: cfg.AllowedRoles,
	}

	var (
		port     *client.PortClient
		resolver checkpoint.Resolver
		sink     checkpoint.EventSink
	)
	if cfg.PortServerURL != "" {
		port = client.NewPortClient(cfg.PortServerURL, cfg.CheckpointID, client.Options{})
		resolver = port
		sink = port

		if err := port.Register(ctx, pol); err != nil {
			// The lane still works from cache; registration is retried
			// implicitly by the next operator action.
			log.Warn("registration failed, continuing offline", "err", err)
		}
	}

	spool := checkpoint.NewSpool(checkpoint.SpoolConfig{
		CheckpointID:  cfg.CheckpointID,
		Sink:          sink,
		Logger:        log,
		FlushInterval: cfg.AuditInterval,
	})
	spool.Start(ctx)
	defer spool.Stop()

	machine := checkpoint.NewMachine(checkpoint.MachineConfig{
		Policy:        pol,
		Cache:         cache,
		Resolver:      resolver,
		Audit:         spool,
		Throttle:      checkpoint.NewThrottle(cfg.ThrottleAttempts, cfg.ThrottleWindow),
		Logger:        log,
		LookupTimeout: cfg.LookupTimeout,
	})
	srv := httpapi.NewCheckpointServer(httpapi.CheckpointDependencies{
		Logger:       log,
		Addr:         cfg.HTTPAddr,
		Cache:        cache,
		Machine:      machine,
		AuditHealthy: spool.Healthy,
	})

	if port != nil {
		go heartbeatLoop(ctx, cfg, port, cache, spool, log)
	}

	go func() {
		log.Info("listening", "addr", cfg.HTTPAddr, "checkpoint_id", cfg.CheckpointID)
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

func heartbeatLoop(ctx context.Context, cfg config.CheckpointConfig, port *client.PortClient, cache *checkpoint.Cache, spool *checkpoint.Spool, log *slog.Logger) {
	start := time.Now()
	ticker := time.NewTicker(cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, err := port.Heartbeat(ctx, types.HeartbeatRequest{
				CheckpointID:  cfg.CheckpointID,
				UptimeSeconds: uint64(time.Since(start).Seconds()),
				CacheEntries:  cache.Len(),
				AuditHealthy:  spool.Healthy(),
			})
			if err != nil {
				log.Warn("heartbeat failed", "err", err)
			}
		}
	}
}
