package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/firesend/engine/internal/config"
	"github.com/firesend/engine/internal/events"
	"github.com/firesend/engine/internal/httpapi"
	"github.com/firesend/engine/internal/instagram"
	"github.com/firesend/engine/internal/pipeline"
	"github.com/firesend/engine/internal/providers"
	"github.com/firesend/engine/internal/rag"
	"github.com/firesend/engine/internal/scheduler"
	"github.com/firesend/engine/internal/store/pg"
	"github.com/firesend/engine/internal/telemetry"
	"github.com/firesend/engine/internal/triggers"
	"github.com/firesend/engine/internal/webhook"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the webhook listener, pipeline, and dashboard API",
		Run: func(cmd *cobra.Command, args []string) {
			runServe()
		},
	}
}

func runServe() {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	setupLogging(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := serve(ctx, cfg); err != nil {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	if cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("FIRESEND_POSTGRES_DSN environment variable is not set")
	}

	shutdownTelemetry, err := telemetry.Setup(ctx, cfg.Telemetry)
	if err != nil {
		return err
	}

	db, stores, err := pg.Open(ctx, cfg.Database.PostgresDSN)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer db.Close()

	base := providers.NewGeminiProvider(
		cfg.Providers.Gemini.APIKey,
		cfg.Providers.Gemini.Model,
		cfg.Providers.Gemini.EmbeddingModel,
	)
	providerFor := func(tenantKey string) providers.Provider {
		if tenantKey == "" {
			return base
		}
		return base.WithKey(tenantKey)
	}

	graph := instagram.NewClient(cfg.Instagram.GraphBaseURL, cfg.Instagram.SendRPS)
	searcher := rag.NewSearcher(stores.Knowledge, base, cfg.Pipeline.RAGTopK, cfg.Pipeline.RAGFloor)
	rules := triggers.NewEngine(stores.Triggers)
	hub := events.NewHub(cfg.Server.APIToken)

	responder := pipeline.NewResponder(stores, providerFor, searcher, graph, rules, hub, cfg.Pipeline.HistoryLimit)
	debouncer := pipeline.NewScheduler(cfg.Pipeline.Debounce(), func(tenantID, conversationID string) {
		responder.Run(context.Background(), tenantID, conversationID)
	})

	mux := http.NewServeMux()
	webhook.NewHandler(cfg, stores, debouncer, hub).Register(mux)
	httpapi.NewConversationsHandler(stores, graph, hub, cfg.Server.APIToken).RegisterRoutes(mux)
	hub.RegisterRoutes(mux)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"status":"ok","version":%q}`, Version)
	})

	var cron *scheduler.Scheduler
	if !cfg.Scheduler.Disabled {
		cron = scheduler.New(
			scheduler.Job{
				Name: "token_refresh",
				Expr: cfg.Scheduler.TokenRefresh,
				Run:  scheduler.TokenRefreshJob(stores.Tenants, graph, cfg.Instagram.AppID, cfg.Instagram.AppSecret),
			},
			scheduler.Job{
				Name: "stats_rollup",
				Expr: cfg.Scheduler.StatsRollup,
				Run:  scheduler.StatsRollupJob(stores.Tenants, stores.Stats, hub.Publish),
			},
		)
		cron.Start(ctx)
	}

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr, "version", Version)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("http shutdown incomplete", "error", err)
	}
	if cron != nil {
		cron.Stop()
	}
	if err := debouncer.Close(shutdownCtx); err != nil {
		slog.Warn("pipeline drain incomplete", "error", err)
	}
	hub.Close()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Warn("telemetry shutdown incomplete", "error", err)
	}
	return nil
}
