package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"opengrid/internal/api"
	"opengrid/internal/config"
	"opengrid/internal/db"
	"opengrid/internal/store"
	"opengrid/internal/universe"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.LoadAPIFromEnv()
	if err != nil {
		slog.Error("load config", "err", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	var st *store.Store
	if cfg.DatabaseURL != "" {
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error("db connect failed", "err", err)
			os.Exit(1)
		}
		defer pool.Close()
		st = store.New(pool, logger)
		if err := st.Migrate(ctx); err != nil {
			logger.Error("migrate failed", "err", err)
			os.Exit(1)
		}
	} else {
		logger.Warn("no database configured, universe state is memory-only")
	}

	hub := api.NewHub(logger)
	uni := universe.New(universe.Config{
		WorldSeed:         cfg.World.Seed,
		ChunkSize:         cfg.World.ChunkSize,
		Density:           cfg.World.Density,
		MaxAgents:         cfg.World.MaxAgents,
		InactivityTimeout: cfg.World.InactivityTimeout,
		Sink:              eventSink(logger, hub, st),
	}, logger)

	server := api.New(cfg, logger, uni, st, hub)
	if st != nil {
		if err := restoreState(ctx, st, uni, server); err != nil {
			logger.Error("restore state failed", "err", err)
			os.Exit(1)
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	logger.Info("opengrid api listening",
		"addr", cfg.Addr,
		"world", cfg.World.Name,
		"seed", cfg.World.Seed,
		"chunk_size", cfg.World.ChunkSize)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server failed", "err", err)
		os.Exit(1)
	}
}

// eventSink fans each committed mutation out to the observer hub and
// the journal. Journal failures are logged, never surfaced.
func eventSink(logger *slog.Logger, hub *api.Hub, st *store.Store) universe.EventSink {
	return func(ev universe.Event) {
		hub.Broadcast(ev)
		if st == nil {
			return
		}
		// Journal writes get their own deadline so a shutdown signal
		// cannot drop the tail of the event stream.
		writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := st.InsertEvent(writeCtx, ev); err != nil {
			logger.Error("journal event failed", "event", ev.ID, "err", err)
		}
		if ev.Kind == universe.EventEvict {
			if err := st.MarkDespawned(writeCtx, ev.Agent); err != nil {
				logger.Error("despawn write failed", "agent", ev.Agent, "err", err)
			}
		}
	}
}

func restoreState(ctx context.Context, st *store.Store, uni *universe.Universe, server *api.Server) error {
	agents, err := st.LoadAgents(ctx)
	if err != nil {
		return err
	}
	for _, row := range agents {
		server.RestoreRegistration(api.Registration{
			Identity: row.Identity,
			Name:     row.Name,
			Token:    row.Token,
		})
		if row.Spawned {
			uni.RestoreAgent(universe.Agent{
				Identity:   row.Identity,
				Name:       row.Name,
				X:          row.X,
				Y:          row.Y,
				Exp:        row.Exp,
				SpawnedAt:  row.SpawnedAt,
				LastActive: row.LastActive,
			})
		}
	}
	solves, err := st.LoadSolves(ctx)
	if err != nil {
		return err
	}
	for _, rec := range solves {
		uni.RestoreSolve(rec)
	}
	return nil
}
