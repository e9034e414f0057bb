// Orchestrad server: runs the agent executor, the HITL queue and
// escalation engine, the continuous-learning feedback loop, and the
// administrative HTTP API.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/supportstack/orchestrad/pkg/api"
	"github.com/supportstack/orchestrad/pkg/cleanup"
	"github.com/supportstack/orchestrad/pkg/config"
	"github.com/supportstack/orchestrad/pkg/database"
	"github.com/supportstack/orchestrad/pkg/events"
	"github.com/supportstack/orchestrad/pkg/executor"
	"github.com/supportstack/orchestrad/pkg/feedback"
	"github.com/supportstack/orchestrad/pkg/hitl"
	"github.com/supportstack/orchestrad/pkg/masking"
	"github.com/supportstack/orchestrad/pkg/notify"
	"github.com/supportstack/orchestrad/pkg/registry"
	"github.com/supportstack/orchestrad/pkg/resilience"
	"github.com/supportstack/orchestrad/pkg/store"
	"github.com/supportstack/orchestrad/pkg/stream"
	"github.com/supportstack/orchestrad/pkg/tenant"
	"github.com/supportstack/orchestrad/pkg/version"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	httpPort := getEnv("HTTP_PORT", "8080")

	slog.Info("Starting orchestrad",
		"version", version.Full(),
		"http_port", httpPort,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. State store. DB_HOST selects PostgreSQL; without it the
	// process runs on the in-memory store (single replica, no
	// durability across restarts).
	var (
		stateStore store.StateStore
		golden     store.GoldenPathStore
		janitor    cleanup.StateJanitor
		auditJan   cleanup.AuditJanitor
	)
	if os.Getenv("DB_HOST") != "" {
		dbConfig, err := database.LoadConfigFromEnv()
		if err != nil {
			slog.Error("Failed to load database config", "error", err)
			os.Exit(1)
		}
		dbClient, err := database.NewClient(ctx, dbConfig)
		if err != nil {
			slog.Error("Failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := dbClient.Close(); err != nil {
				slog.Error("Error closing database client", "error", err)
			}
		}()
		pg := store.NewPostgresStateStore(dbClient.DB())
		stateStore, golden, janitor, auditJan = pg, pg, pg, pg
		slog.Info("Connected to PostgreSQL database")
	} else {
		mem := store.NewMemoryStateStore()
		stateStore, golden, janitor, auditJan = mem, mem, mem, mem
		slog.Warn("DB_HOST not set, using in-memory state store")
	}

	// 3. Event bus and core services
	bus := events.NewBus(events.DefaultRingSize)
	reg := registry.New()
	tenants := tenant.NewManager(cfg.Tenant, stateStore, bus)
	if err := tenants.LoadFromStore(ctx); err != nil {
		slog.Error("Failed to load tenants", "error", err)
		os.Exit(1)
	}

	// 4. HITL queue, reviewer pool, escalation, resume bridge
	queue := hitl.NewQueue(cfg.Queue, stateStore, bus)
	pool := hitl.NewReviewerPool(cfg.Reviewer.MaxWorkload)
	manager := hitl.NewManager(queue, pool, stateStore, bus)

	var notifier hitl.Notifier
	if svc := notify.NewService(cfg.Slack); svc != nil {
		notifier = svc
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
	}
	engine := hitl.NewEngine(cfg.EscalationPolicies, queue, notifier, bus)
	manager.SetEngine(engine)

	// 5. Learning loop
	collector := feedback.NewCollector(cfg.Feedback, store.NewMemoryVectorStore(), bus)
	collector.SetStore(golden)
	if count, err := collector.Load(ctx); err != nil {
		slog.Error("Failed to load golden path catalog", "error", err)
		os.Exit(1)
	} else {
		slog.Info("Golden path catalog loaded", "count", count)
	}
	manager.SetOutcomeRecorder(collector)

	// 6. Executor. The masker scrubs credentials from audit payloads
	// and, below, from the outbound activity stream.
	masker := masking.NewService([]string{
		os.Getenv("DB_PASSWORD"),
		os.Getenv(cfg.Slack.TokenEnv),
		cfg.Redis.Password,
	})
	exec := executor.New(cfg.Executor, reg, tenants, manager, stateStore, bus)
	exec.SetMasker(masker)
	manager.SetResumer(exec)

	// 7. Activity stream (optional)
	var (
		activity *stream.ActivityStream
		bridge   *stream.Bridge
		trimmer  cleanup.StreamTrimmer
	)
	if cfg.Redis.Addr != "" {
		activity = stream.New(cfg.Redis)
		if err := activity.Ping(ctx); err != nil {
			slog.Warn("Redis unreachable, activity stream disabled",
				"addr", cfg.Redis.Addr, "error", err)
			activity = nil
		} else {
			activity.SetMasker(masker)
			bridge = stream.NewBridge(ctx, activity, bus, 0)
			trimmer = activity
			slog.Info("Activity stream connected", "addr", cfg.Redis.Addr)
		}
	}

	// 8. Background tasks
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go tenants.Run(runCtx)
	go manager.RunSweeper(runCtx)

	retention := cleanup.NewService(cfg.Retention, janitor, auditJan, tenants, trimmer, cfg.Redis.StreamMaxLen)
	retention.Start(runCtx)

	// 9. HTTP server
	server := api.NewServer(api.Deps{
		Store:      stateStore,
		Registry:   reg,
		Tenants:    tenants,
		Executor:   exec,
		HITL:       manager,
		Escalation: engine,
		Collector:  collector,
		Stream:     activity,
		Breakers:   resilience.NewBreakerRegistry(cfg.Circuit),
		Masker:     masker,
	})

	serverCtx, cancelServer := context.WithCancel(ctx)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Run(serverCtx, ":"+httpPort); err != nil {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("Orchestrad started successfully")

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		if err != nil {
			slog.Error("Server error triggered shutdown", "error", err)
		}
	}

	// 11. Graceful shutdown: stop the HTTP surface, drain in-flight
	// runs, then tear down the background tasks.
	cancelServer()
	if err := exec.Shutdown(ctx); err != nil {
		slog.Warn("Executor drain incomplete", "error", err)
	}

	retention.Stop()
	cancelRun()
	if bridge != nil {
		bridge.Close()
	}
	if activity != nil {
		if err := activity.Close(); err != nil {
			slog.Error("Error closing activity stream", "error", err)
		}
	}

	slog.Info("Orchestrad stopped")
}
