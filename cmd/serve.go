package cmd

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/atenlabs/atenbot/internal/agents"
	"github.com/atenlabs/atenbot/internal/config"
	"github.com/atenlabs/atenbot/internal/dedup"
	"github.com/atenlabs/atenbot/internal/evolution"
	"github.com/atenlabs/atenbot/internal/gateway"
	"github.com/atenlabs/atenbot/internal/limiter"
	"github.com/atenlabs/atenbot/internal/providers"
	"github.com/atenlabs/atenbot/internal/queue"
	"github.com/atenlabs/atenbot/internal/store"
	"github.com/atenlabs/atenbot/internal/store/pg"
	"github.com/atenlabs/atenbot/internal/store/sqlite"
	"github.com/atenlabs/atenbot/internal/telemetry"
	"github.com/atenlabs/atenbot/internal/worker"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the auto-reply service",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	})))

	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		if _, statErr := os.Stat(cfgPath); os.IsNotExist(statErr) {
			fmt.Println("No configuration found. Run the setup wizard first:")
			fmt.Println()
			fmt.Println("  atenbot onboard")
			fmt.Println()
			os.Exit(1)
		}
		slog.Error("invalid config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("telemetry setup failed", "error", err)
		os.Exit(1)
	}
	defer shutdownTracing(context.Background())

	// Storage backend: sqlite standalone, Postgres managed.
	db, stores, dialect, err := openStorage(ctx, cfg)
	if err != nil {
		slog.Error("storage setup failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	q := queue.NewSQL(db, dialect)
	if err := q.InitSchema(ctx); err != nil {
		slog.Error("queue schema setup failed", "error", err)
		os.Exit(1)
	}
	defer q.Close()

	// Dedup cache with background expiry sweep.
	cache := dedup.New(cfg.Dedup.TTL())
	go cache.Start(ctx)

	// Rate-limited, credential-rotating generation client.
	genCfg := providers.DefaultGenerationConfig()
	if cfg.Gemini.Temperature > 0 {
		genCfg.Temperature = cfg.Gemini.Temperature
	}
	if cfg.Gemini.MaxTokens > 0 {
		genCfg.MaxOutputTokens = cfg.Gemini.MaxTokens
	}
	sched := limiter.NewScheduler(cfg.Gemini.RequestsPerMinute)
	client, err := limiter.NewClient(cfg.Gemini.Keys(), sched, func(apiKey string) providers.Provider {
		return providers.NewGemini(apiKey, cfg.Gemini.Model, genCfg)
	})
	if err != nil {
		slog.Error("generation client setup failed", "error", err)
		os.Exit(1)
	}

	pipeline := agents.NewPipeline(client, stores.Messages)
	evo := evolution.New(cfg.Evolution.BaseURL, cfg.Evolution.APIKey)
	pool := worker.NewPool(cfg, q, stores, pipeline, client, evo)
	server := gateway.NewServer(cfg, q, cache)

	// Config file changes update the reply defaults in place; listener
	// address, storage mode and pool sizing need a restart.
	go func() {
		err := config.Watch(ctx, cfgPath, func(updated *config.Config) {
			pool.UpdateBotDefaults(updated.Bot)
		})
		if err != nil {
			slog.Debug("config watch unavailable", "error", err)
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	g.Go(func() error { return pool.Run(ctx) })

	if cfg.Evolution.Websocket {
		ws := gateway.NewWebsocketConsumer(server, cfg.Evolution.BaseURL, cfg.Evolution.APIKey)
		g.Go(func() error { return ws.Start(ctx) })
		defer ws.Stop()
	}

	slog.Info("atenbot.started",
		"version", Version,
		"addr", cfg.Server.Addr(),
		"mode", dialect,
		"workers", cfg.Workers.Concurrency)

	if err := g.Wait(); err != nil && ctx.Err() == nil {
		slog.Error("service failed", "error", err)
		os.Exit(1)
	}
	slog.Info("atenbot.stopped")
}

// openStorage opens the configured backend and builds the store bundle.
func openStorage(ctx context.Context, cfg *config.Config) (*sql.DB, *store.Stores, string, error) {
	if cfg.IsManagedMode() {
		db, err := pg.OpenDB(cfg.Database.PostgresDSN)
		if err != nil {
			return nil, nil, "", err
		}
		return db, pg.NewStores(db), "postgres", nil
	}

	path := config.ExpandHome(cfg.Queue.SqlitePath)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, "", fmt.Errorf("create data dir: %w", err)
	}
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, nil, "", err
	}
	stores, err := sqlite.NewStores(ctx, db)
	if err != nil {
		db.Close()
		return nil, nil, "", err
	}
	return db, stores, "sqlite", nil
}
