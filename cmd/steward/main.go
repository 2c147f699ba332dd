package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/basket/go-steward/internal/audit"
	"github.com/basket/go-steward/internal/config"
	"github.com/basket/go-steward/internal/coordinator"
	"github.com/basket/go-steward/internal/github"
	"github.com/basket/go-steward/internal/ideas"
	"github.com/basket/go-steward/internal/llm"
	"github.com/basket/go-steward/internal/maintainer"
	"github.com/basket/go-steward/internal/orchestrator"
	otelPkg "github.com/basket/go-steward/internal/otel"
	"github.com/basket/go-steward/internal/report"
	"github.com/basket/go-steward/internal/restclient"
	"github.com/basket/go-steward/internal/state"
	"github.com/basket/go-steward/internal/telemetry"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=..."
var Version = "v0.3-dev"

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage of %s:

DAEMON MODE (default):
  %s                          Run the scheduler loop until interrupted

FLAGS:
`, os.Args[0], os.Args[0])
	flag.PrintDefaults()
	fmt.Fprintf(os.Stderr, `
SUBCOMMANDS:
  %s status                   Show daemon health (/healthz)

ENVIRONMENT VARIABLES:
  STEWARD_HOME            Data directory (default: ~/.steward)
  GITHUB_TOKEN            Required for GitHub access
  GITHUB_ORG              Target organization
  GROQ_API_KEY            Required for planning and idea ranking
`, os.Args[0])
}

func main() {
	loadDotEnv(".env")
	loadDotEnv(filepath.Join(config.HomeDir(), ".env"))

	once := flag.Bool("once", false, "run a single cycle immediately, then exit")
	dryRun := flag.Bool("dry-run", false, "log intents without touching GitHub")
	flag.Usage = printUsage
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if args := flag.Args(); len(args) > 0 {
		switch strings.ToLower(strings.TrimSpace(args[0])) {
		case "help", "-h", "--help":
			printUsage()
			os.Exit(0)
		case "status":
			os.Exit(runStatusCommand(ctx, args[1:]))
		default:
			fmt.Fprintf(os.Stderr, "unknown command %q\n", args[0])
			printUsage()
			os.Exit(2)
		}
	}

	if err := run(ctx, *once, *dryRun); err != nil {
		fmt.Fprintf(os.Stderr, "steward: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, once, dryRun bool) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if dryRun {
		cfg.Executor.DryRun = true
	}
	if cfg.GitHub.Organization == "" {
		return errors.New("no GitHub organization configured (set GITHUB_ORG or github.organization)")
	}
	if cfg.GitHub.Token == "" {
		return errors.New("no GitHub token configured (set GITHUB_TOKEN)")
	}

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logCloser.Close()
	slog.SetDefault(logger)
	logger.Info("steward starting",
		"version", Version, "org", cfg.GitHub.Organization,
		"home", cfg.HomeDir, "dry_run", cfg.Executor.DryRun)

	metricsEnabled := cfg.Telemetry.MetricsEnabled
	otelProvider, err := otelPkg.Init(ctx, otelPkg.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Exporter:       cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		ServiceName:    cfg.Telemetry.ServiceName,
		SampleRate:     cfg.Telemetry.SampleRate,
		MetricsEnabled: &metricsEnabled,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = otelProvider.Shutdown(shutdownCtx)
	}()

	metrics, err := otelPkg.NewMetrics(otelProvider.Meter)
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}

	auditLog, err := audit.Open(cfg.HomeDir)
	if err != nil {
		return fmt.Errorf("open audit log: %w", err)
	}
	defer auditLog.Close()

	store := state.NewStore(cfg.StatePath(), logger)

	rc := restclient.New(logger, restclient.WithRetryHook(func(class restclient.ErrorClass, wait time.Duration) {
		metrics.APICallRetries.Add(ctx, 1)
		if class == restclient.ErrorClassRateLimited {
			metrics.RateLimitWaits.Add(ctx, 1)
		}
	}))

	gh := github.NewClient(rc, cfg.GitHub.BaseURL, cfg.GitHub.Organization, cfg.GitHub.Token, logger)

	model := llm.NewClient(rc, cfg.LLM.BaseURL, cfg.LLM.APIKey, cfg.LLM.Model, cfg.LLM.FallbackModels, logger)
	model.SetSampling(cfg.LLM.MaxTokens, cfg.LLM.Temperature)

	gatherer, err := ideas.NewGatherer(rc, model, store, logger)
	if err != nil {
		return fmt.Errorf("init gatherer: %w", err)
	}

	planner, err := coordinator.NewPlanner(model, store, cfg.Planner.NumContributions, logger)
	if err != nil {
		return fmt.Errorf("init planner: %w", err)
	}

	executor := coordinator.NewExecutor(gh, store, cfg.Executor.MaxInFlight, cfg.Executor.DryRun, logger)
	executor.SetHooks(
		func() { metrics.IntentsExecuted.Add(ctx, 1) },
		func() { metrics.IntentsFailed.Add(ctx, 1) },
	)

	sweeper := maintainer.NewSweeper(gh, model, store, cfg.Maintenance.StaleDays, cfg.Maintenance.PaceSeconds, logger)
	sweeper.SetRepoHook(func() { metrics.SweepRepos.Add(ctx, 1) })
	executor.SetSweepHook(func(ctx context.Context) error {
		_, err := sweeper.Sweep(ctx)
		return err
	})

	dispatcher := buildDispatcher(cfg, rc, store, logger)

	orch, err := orchestrator.New(orchestrator.Config{
		Planner:  planner,
		Executor: executor,
		Sweeper:  sweeper,
		Gatherer: gatherer,
		CollectStats: func(ctx context.Context) (state.OrgStats, error) {
			return gh.CollectStats(ctx)
		},
		SendDailyReport: func(ctx context.Context) error {
			summary := report.Build(cfg.GitHub.Organization, store.Load())
			return dispatcher.SendDaily(ctx, summary.Render())
		},
		Store:       store,
		Audit:       auditLog,
		PlansDir:    cfg.PlansDir(),
		KeepPlans:   cfg.Planner.KeepPlans,
		CronExpr:    cfg.Schedule.CronExpr,
		DailyHour:   cfg.Schedule.DailyHour,
		Logger:      logger,
		OnCycleDone: func(d time.Duration) { metrics.CycleDuration.Record(ctx, d.Seconds()) },
	})
	if err != nil {
		return err
	}

	healthSrv := startHealthServer(cfg, orch, logger)
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = healthSrv.Shutdown(shutdownCtx)
	}()

	watchConfig(ctx, cfg, logger)
	go retentionLoop(ctx, auditLog, cfg.RetentionAuditLogDays, logger)

	if err := dispatcher.SendStartup(ctx, fmt.Sprintf(
		"steward %s online, managing %s", Version, cfg.GitHub.Organization)); err != nil {
		logger.Warn("startup report failed", "error", err)
	}

	if once {
		orch.RunCycle(ctx)
		return nil
	}
	return orch.Run(ctx)
}

func buildDispatcher(cfg config.Config, rc *restclient.Client, store *state.Store, logger *slog.Logger) *report.Dispatcher {
	var notifiers []report.Notifier
	if cfg.Notify.Telegram.Enabled && cfg.Notify.Telegram.Token != "" {
		tg, err := report.NewTelegramNotifier(cfg.Notify.Telegram.Token, cfg.Notify.Telegram.ChatIDs, logger)
		if err != nil {
			logger.Warn("telegram notifier unavailable", "error", err)
		} else {
			notifiers = append(notifiers, tg)
		}
	}
	if cfg.Notify.Discord.Enabled && cfg.Notify.Discord.WebhookURL != "" {
		notifiers = append(notifiers, report.NewDiscordNotifier(rc, cfg.Notify.Discord.WebhookURL))
	}
	return report.NewDispatcher(store, logger, notifiers...)
}

func startHealthServer(cfg config.Config, orch *orchestrator.Orchestrator, logger *slog.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"version": Version,
			"phase":   string(orch.Phase()),
		})
	})
	mux.HandleFunc("/statusz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		var last, next string
		if t := orch.LastCycle(); !t.IsZero() {
			last = t.UTC().Format(time.RFC3339)
		}
		if t := orch.NextFire(); !t.IsZero() {
			next = t.UTC().Format(time.RFC3339)
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"version":    Version,
			"phase":      string(orch.Phase()),
			"org":        cfg.GitHub.Organization,
			"last_cycle": last,
			"next_fire":  next,
			"dry_run":    cfg.Executor.DryRun,
			"config":     cfg.Fingerprint(),
		})
	})

	srv := &http.Server{Addr: cfg.BindAddr, Handler: mux}
	go func() {
		logger.Info("health server listening", "addr", cfg.BindAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("health server failed", "error", err)
		}
	}()
	return srv
}

// watchConfig logs config file changes. Changes apply on restart; the
// watcher exists so operators can see their edits were noticed.
func watchConfig(ctx context.Context, cfg config.Config, logger *slog.Logger) {
	watcher := config.NewWatcher(cfg.HomeDir, logger)
	if err := watcher.Start(ctx); err != nil {
		logger.Warn("config watcher unavailable", "error", err)
		return
	}
	go func() {
		for range watcher.Events() {
			logger.Info("configuration changed on disk, restart to apply")
		}
	}()
}

func retentionLoop(ctx context.Context, auditLog *audit.Log, days int, logger *slog.Logger) {
	if days <= 0 {
		return
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			removed, err := auditLog.Prune(ctx, days)
			if err != nil {
				logger.Warn("audit retention failed", "error", err)
				continue
			}
			if removed > 0 {
				logger.Info("audit rows pruned", "removed", removed)
			}
		}
	}
}

// loadDotEnv applies KEY=VALUE lines from the file without overriding
// variables already set in the environment.
func loadDotEnv(path string) {
	f, err := os.Open(path)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.Trim(strings.TrimSpace(value), `"'`)
		if key == "" || os.Getenv(key) != "" {
			continue
		}
		_ = os.Setenv(key, value)
	}
}
