package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/jogman/bors-mq/internal/board"
	"github.com/jogman/bors-mq/internal/config"
	"github.com/jogman/bors-mq/internal/controller"
	"github.com/jogman/bors-mq/internal/discovery"
	"github.com/jogman/bors-mq/internal/forge"
	"github.com/jogman/bors-mq/internal/metrics"
	"github.com/jogman/bors-mq/internal/queue"
	"github.com/jogman/bors-mq/internal/state"
	"github.com/jogman/bors-mq/internal/web"
	"github.com/jogman/bors-mq/internal/webhook"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func slogLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slogLevel(cfg.LogLevel),
	})))

	slog.Info("starting bors-mq",
		"listen", cfg.ListenAddr,
		"repos", cfg.Repos,
		"topic", cfg.Topic,
		"check_timeout", cfg.CheckTimeout,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	forgeClient, err := buildForgeClient(cfg)
	if err != nil {
		return fmt.Errorf("build forge client: %w", err)
	}

	boardImpl := buildBoard(cfg, forgeClient)

	worktreeDir, err := os.MkdirTemp("", "bors-mq-worktrees-")
	if err != nil {
		return fmt.Errorf("create worktree base dir: %w", err)
	}
	defer os.RemoveAll(worktreeDir)

	var webhookURL string
	if cfg.ExternalURL != "" {
		webhookURL = cfg.ExternalURL + cfg.WebhookPath
	}

	remoteURL := func(owner, repoName string) string {
		return fmt.Sprintf("https://x-access-token:%s@github.com/%s/%s.git", cfg.GitHubToken, owner, repoName)
	}

	reg := controller.NewRegistry(ctx, controller.Deps{
		Forge:          forgeClient,
		Board:          boardImpl,
		Clock:          queue.RealClock{},
		WorktreeDir:    worktreeDir,
		RemoteURL:      remoteURL,
		WebhookURL:     webhookURL,
		WebhookSecret:  cfg.WebhookSecret,
		TickInterval:   cfg.DiscoveryInterval,
		CheckTimeout:   cfg.CheckTimeout,
		RequiredChecks: cfg.RequiredChecks,
		Labels: state.LabelNames{
			HighPriority: cfg.HighPriorityLabel,
			Squash:       cfg.SquashLabel,
		},
		MaintainerMode: cfg.MaintainerMode,
	})

	var registerErr error

	for _, ref := range cfg.Repos {
		if err := reg.Add(ctx, ref); err != nil {
			registerErr = multierr.Append(registerErr, fmt.Errorf("register repo %s: %w", ref, err))
		}
	}

	if registerErr != nil {
		return registerErr
	}

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.Topic != "" {
		discDeps := &discovery.Deps{
			Forge:         forgeClient,
			Registry:      reg,
			Topic:         cfg.Topic,
			ExplicitRepos: cfg.Repos,
		}

		if err := discovery.DiscoverOnce(ctx, discDeps); err != nil {
			slog.Warn("initial discovery failed, continuing with explicit repos", "error", err)
		}

		group.Go(func() error {
			discovery.Run(groupCtx, discDeps, cfg.DiscoveryInterval)
			return nil
		})
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.WebhookPath, webhook.Handler(cfg.WebhookSecret, reg))

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(metrics.NewCollector(reg))
	mux.Handle("/metrics", promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}))

	dashMux := web.NewMux(&web.Deps{
		Repos:           reg,
		Forge:           forgeClient,
		ExternalURL:     cfg.ExternalURL,
		RefreshInterval: int(cfg.RefreshInterval.Seconds()),
	})
	mux.Handle("/static/", dashMux)
	mux.Handle("/repo/", dashMux)
	mux.Handle("/", dashMux)

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	group.Go(func() error {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)

		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server: %w", err)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	slog.Info("shutdown complete")

	return nil
}

func buildForgeClient(cfg *config.Config) (*forge.GitHubClient, error) {
	if cfg.GitHubAppID != 0 {
		key, err := os.ReadFile(cfg.GitHubAppKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read GitHub App private key: %w", err)
		}

		return forge.NewWithApp(cfg.GitHubAppID, cfg.GitHubAppInstID, key)
	}

	return forge.NewWithToken(cfg.GitHubToken), nil
}

func buildBoard(cfg *config.Config, client *forge.GitHubClient) board.Board {
	if cfg.BoardLabel == "" {
		return board.NoOpBoard{}
	}

	return board.NewLabelBoard(client.Underlying(), cfg.BoardLabel)
}
