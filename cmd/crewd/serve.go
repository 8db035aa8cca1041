package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/haasonsaas/crew/internal/channels"
	"github.com/haasonsaas/crew/internal/config"
	"github.com/haasonsaas/crew/internal/credits"
	"github.com/haasonsaas/crew/internal/directory"
	"github.com/haasonsaas/crew/internal/httpapi"
	"github.com/haasonsaas/crew/internal/jobs"
	"github.com/haasonsaas/crew/internal/model"
	"github.com/haasonsaas/crew/internal/observability"
	"github.com/haasonsaas/crew/internal/pipeline"
	"github.com/haasonsaas/crew/internal/policy"
	"github.com/haasonsaas/crew/internal/sessions"
	"github.com/haasonsaas/crew/internal/team"
	"github.com/haasonsaas/crew/internal/tools"
	"github.com/haasonsaas/crew/internal/workers"
	"github.com/haasonsaas/crew/pkg/models"
)

func buildServeCmd() *cobra.Command {
	var (
		configPath string
		fleetPath  string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the harness daemon",
		Long: `Start the harness daemon with the configured stores and providers.

The daemon serves the inbound message webhook, operator takeover endpoints,
and fleet administration over HTTP, runs the session expiry sweep and ledger
cleanup on schedules, and exposes Prometheus metrics.

Graceful shutdown is handled on SIGINT/SIGTERM.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, fleetPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&fleetPath, "fleet", "", "Path to JSON fleet file seeding orgs and agents")
	return cmd
}

func buildMigrateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or update database tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			if cfg.Database.URL == "" {
				return fmt.Errorf("database.url is required for migrate")
			}
			db, err := openDB(cfg)
			if err != nil {
				return err
			}
			defer db.Close()
			return migrateAll(cmd.Context(), db)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	return cmd
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.Load(path)
}

func openDB(cfg *config.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.Database.MaxConnections)
	db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	return db, nil
}

func migrateAll(ctx context.Context, db *sql.DB) error {
	if err := sessions.NewSQLStore(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate sessions: %w", err)
	}
	creditStore, err := credits.NewSQLStore(db)
	if err != nil {
		return err
	}
	if err := creditStore.Migrate(ctx); err != nil {
		return fmt.Errorf("migrate credits: %w", err)
	}
	if err := channels.NewSQLDeadLetterStore(db).Migrate(ctx); err != nil {
		return fmt.Errorf("migrate dead letters: %w", err)
	}
	return nil
}

// thresholdNotifier routes credit sharing threshold notices to the parent
// organization's owner contact.
type thresholdNotifier struct {
	dir      *directory.Directory
	notifier *channels.Notifier
}

func (t *thresholdNotifier) NotifyThreshold(ctx context.Context, notice credits.ThresholdNotice) error {
	org, err := t.dir.Org(ctx, notice.ParentOrgID)
	if err != nil {
		return err
	}
	body := fmt.Sprintf("Credit sharing is at %d of %d for %s on %s.",
		notice.Consumed, notice.Cap, notice.Day, string(notice.Kind))
	if notice.ChildOrgID != "" {
		body = fmt.Sprintf("Credit sharing for child %s is at %d of %d on %s.",
			notice.ChildOrgID, notice.Consumed, notice.Cap, notice.Day)
	}
	t.notifier.Notify(ctx, org.OwnerContact, body)
	return nil
}

func runServe(ctx context.Context, configPath, fleetPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:          cfg.Logging.Level,
		Format:         cfg.Logging.Format,
		AddSource:      cfg.Logging.AddSource,
		RedactPatterns: cfg.Logging.Redact,
	})
	slog.SetDefault(logger)
	metrics := observability.NewMetrics(nil)

	dir := directory.New(workers.PoolConfig{
		MaxWorkers:  cfg.Workers.MaxPerTemplate,
		IdleTimeout: cfg.Workers.IdleTimeout,
		Logger:      logger,
	})
	if fleetPath != "" {
		if err := dir.LoadFile(fleetPath); err != nil {
			return err
		}
		logger.Info("fleet loaded", "path", fleetPath,
			"orgs", len(dir.Orgs()), "agents", len(dir.Agents()))
	}

	var (
		sessionStore sessions.Store
		locker       sessions.Locker
		balances     credits.BalanceStore
		ledger       credits.LedgerStore
		deadLetters  channels.DeadLetterStore
	)
	if cfg.Database.URL != "" {
		db, err := openDB(cfg)
		if err != nil {
			return err
		}
		defer db.Close()
		if err := migrateAll(ctx, db); err != nil {
			return err
		}
		sqlSessions := sessions.NewSQLStore(db)
		sqlCredits, err := credits.NewSQLStore(db)
		if err != nil {
			return err
		}
		sessionStore = sqlSessions
		locker = sessions.NewDBLocker(db, sessions.DefaultDBLockerConfig())
		balances = sqlCredits
		ledger = sqlCredits
		deadLetters = channels.NewSQLDeadLetterStore(db)
		logger.Info("using sql stores")
	} else {
		sessionStore = sessions.NewMemoryStore()
		locker = sessions.NewLocalLocker()
		balances = credits.NewMemoryBalanceStore()
		ledger = credits.NewMemoryLedgerStore()
		deadLetters = channels.NewMemoryDeadLetterStore()
		logger.Warn("no database configured, using in-memory stores")
	}

	failover, defaultModel, err := buildProviders(cfg)
	if err != nil {
		return err
	}

	registry := channels.NewRegistry()
	for _, channel := range []models.ChannelType{
		models.ChannelWhatsApp, models.ChannelInstagram, models.ChannelWebchat,
		models.ChannelSMS, models.ChannelEmail,
	} {
		registry.Register(channels.NewLogAdapter(channel, logger))
	}
	delivery := channels.NewDelivery(registry, deadLetters, channels.DeliveryConfig{
		MaxAttempts:    cfg.Channels.SendMaxAttempts,
		InitialBackoff: cfg.Channels.SendBackoff,
		OnRetry:        metrics.DeliveryRetries.Inc,
		OnDeadLetter: func(channel models.ChannelType) {
			metrics.DeadLetters.WithLabelValues(string(channel)).Inc()
		},
	})
	notifier := channels.NewNotifier(registry, logger)

	var pipe *pipeline.Pipeline
	manager := sessions.NewManager(sessionStore, locker,
		sessions.WithSummarizer(sessions.NewModelSummarizer(failover, cfg.Session.SummaryModel)),
		sessions.WithCloseHook(func(session *models.Session, reason models.CloseReason) {
			metrics.SessionsClosed.WithLabelValues(string(reason)).Inc()
			if pipe != nil {
				pipe.ForgetSession(session.ID)
			}
		}),
		sessions.WithLogger(logger))

	accountant := credits.NewAccountant(balances, ledger, dir,
		credits.WithNotifier(&thresholdNotifier{dir: dir, notifier: notifier}),
		credits.WithLogger(logger))

	harness := team.NewHarness(sessionStore, dir, dir,
		team.WithPolicy(team.Policy{
			MaxHandoffs: cfg.Team.MaxHandoffs,
			Cooldown:    cfg.Team.HandoffCooldown,
		}),
		team.WithDelivery(delivery),
		team.WithNotifier(notifier),
		team.WithLogger(logger))

	toolRegistry := tools.NewRegistry()
	if err := tools.RegisterCatalog(toolRegistry, unconfiguredToolExecutor); err != nil {
		return err
	}

	pipe = pipeline.New(manager,
		policy.NewResolver(tools.CatalogDefinitions()),
		accountant, harness, failover, toolRegistry, delivery,
		dir, dir,
		pipeline.Config{
			DefaultModel: defaultModel,
			Triggers: team.TriggerConfig{
				BlockedTopics:     cfg.Team.Triggers.BlockedTopics,
				ToolLoopThreshold: cfg.Team.Triggers.ToolLoopThreshold,
				UncertaintyRun:    cfg.Team.Triggers.UncertaintyRun,
			},
		},
		pipeline.WithMetrics(metrics),
		pipeline.WithNotifier(notifier),
		pipeline.WithLogger(logger))

	scheduler := jobs.NewScheduler(jobs.SchedulerConfig{Logger: logger})
	sweeper := sessions.NewSweeper(manager, dir, sessions.SweeperConfig{Logger: logger})
	if err := scheduler.Register(jobs.SweepJob(sweeper, cfg.Jobs.SweepSchedule, logger, func(n int) {
		metrics.SweepClosures.Add(float64(n))
	})); err != nil {
		return err
	}
	if err := scheduler.Register(jobs.PruneJob(ledger, cfg.Jobs.PruneSchedule, logger)); err != nil {
		return err
	}
	if err := scheduler.Register(jobs.Job{
		Name:     "worker-eviction",
		Schedule: "@every 5m",
		Run: func(context.Context) error {
			if evicted := dir.EvictIdleWorkers(); evicted > 0 {
				logger.Info("evicted idle workers", "count", evicted)
			}
			return nil
		},
	}); err != nil {
		return err
	}
	if err := scheduler.Start(); err != nil {
		return err
	}
	defer scheduler.Stop()

	mux := http.NewServeMux()
	httpapi.NewHandler(pipe, harness, sessionStore, dir, logger).Mount(mux)
	apiServer, err := httpapi.NewServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.HTTPPort), mux, logger)
	if err != nil {
		return err
	}
	apiServer.Start()
	defer apiServer.Stop(context.Background())

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer, err := httpapi.NewServer(
		fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.MetricsPort), metricsMux, logger)
	if err != nil {
		return err
	}
	metricsServer.Start()
	defer metricsServer.Stop(context.Background())

	logger.Info("crewd started",
		"http_port", cfg.Server.HTTPPort,
		"metrics_port", cfg.Server.MetricsPort,
		"default_model", defaultModel)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", ctx.Err())
	}
	return nil
}

// buildProviders assembles the ordered failover chain: the default provider
// first, then the configured fallbacks.
func buildProviders(cfg *config.Config) (*model.Failover, string, error) {
	order := append([]string{cfg.Models.DefaultProvider}, cfg.Models.Fallbacks...)
	var providers []model.Provider
	defaultModel := ""

	for _, name := range order {
		pc := cfg.Models.Providers[name]
		switch name {
		case "anthropic":
			apiKey := pc.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("ANTHROPIC_API_KEY")
			}
			if apiKey == "" {
				continue
			}
			provider, err := model.NewAnthropicProvider(model.AnthropicConfig{
				APIKey:       apiKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, "", err
			}
			providers = append(providers, provider)
		case "openai":
			apiKey := pc.APIKey
			if apiKey == "" {
				apiKey = os.Getenv("OPENAI_API_KEY")
			}
			if apiKey == "" {
				continue
			}
			provider, err := model.NewOpenAIProvider(model.OpenAIConfig{
				APIKey:       apiKey,
				BaseURL:      pc.BaseURL,
				DefaultModel: pc.DefaultModel,
			})
			if err != nil {
				return nil, "", err
			}
			providers = append(providers, provider)
		default:
			return nil, "", fmt.Errorf("unknown model provider %q", name)
		}
		if defaultModel == "" && pc.DefaultModel != "" {
			defaultModel = pc.DefaultModel
		}
	}
	if len(providers) == 0 {
		return nil, "", fmt.Errorf("no model provider configured; set an api key for %q", cfg.Models.DefaultProvider)
	}
	return model.NewFailover(model.DefaultFailoverConfig(), providers...), defaultModel, nil
}

// unconfiguredToolExecutor is the business-tool seam. Deployments bind real
// backends per tool; until then every call reports the tool as unbound so
// the model can answer without it.
func unconfiguredToolExecutor(_ context.Context, name string, _ json.RawMessage) (*tools.Result, error) {
	return tools.ErrorResult(fmt.Sprintf("tool %s has no backend bound in this deployment", name)), nil
}
