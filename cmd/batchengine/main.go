package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/pesio-ai/be-mfg-batch-approvals/internal/client"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/config"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/conflict"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/database"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/lock"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/logger"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/metrics"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/repository/memory"
	"github.com/pesio-ai/be-mfg-batch-approvals/internal/service"
)

const usage = `usage: batchengine [-config file] [-metrics-out file] <command> [flags]

commands:
  detect          detect (and optionally resolve) conflicts for a date
  group           create optimal approval groups for a date
  approve         approve every batch of a group
  reject          reject a group
  copy            copy approved batches from one date to another
  apply-template  apply a template to machines for a date
  ready           mark a machine ready for a date
  metrics         print approval, utilization and template statistics
`

// app holds the wired services for one invocation.
type app struct {
	log       *logger.Logger
	readiness *service.ReadinessService
	groups    *service.ApprovalGroupService
	templates *service.TemplateService
	analytics *service.AnalyticsService
	recorder  *metrics.PrometheusRecorder
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	metricsOut := flag.String("metrics-out", "", "write Prometheus metrics to this textfile on exit")
	flag.Usage = func() { fmt.Fprint(os.Stderr, usage) }
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	log := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Environment: cfg.Service.Environment,
		ServiceName: cfg.Service.Name,
		Version:     cfg.Service.Version,
		Output:      os.Stderr,
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialise engine")
	}

	cmd, args := flag.Arg(0), flag.Args()[1:]
	runErr := run(ctx, a, cmd, args)

	if *metricsOut != "" {
		if err := a.recorder.WriteTextfile(*metricsOut); err != nil {
			log.Error().Err(err).Str("path", *metricsOut).Msg("Failed to write metrics textfile")
		}
	}
	a.Close()

	if runErr != nil {
		log.Error().Err(runErr).Str("command", cmd).Msg("Command failed")
		os.Exit(1)
	}
}

func newApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{log: log, recorder: metrics.NewPrometheusRecorder("batchengine")}

	log.Info().
		Str("service", cfg.Service.Name).
		Str("version", cfg.Service.Version).
		Str("environment", cfg.Service.Environment).
		Msg("Starting batch approval engine")

	var (
		batches     repository.BatchRepository
		groups      repository.ApprovalGroupRepository
		readiness   repository.ReadinessRepository
		resolutions repository.ResolutionRepository
		templates   repository.TemplateRepository
		auditLog    repository.AuditLog
	)

	// Initialize storage
	if cfg.Database.Host != "" {
		db, err := database.New(ctx, database.Config{
			Host:        cfg.Database.Host,
			Port:        cfg.Database.Port,
			User:        cfg.Database.User,
			Password:    cfg.Database.Password,
			Database:    cfg.Database.Database,
			SSLMode:     cfg.Database.SSLMode,
			MaxConns:    cfg.Database.MaxConns,
			MinConns:    cfg.Database.MinConns,
			MaxConnTime: cfg.Database.MaxConnTime,
			MaxIdleTime: cfg.Database.MaxIdleTime,
			HealthCheck: cfg.Database.HealthCheck,
		})
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		log.Info().Str("host", cfg.Database.Host).Msg("Database connection established")

		batches = repository.NewBatchRepository(db)
		groups = repository.NewApprovalGroupRepository(db)
		readiness = repository.NewReadinessRepository(db)
		resolutions = repository.NewResolutionRepository(db)
		templates = repository.NewTemplateRepository(db)
		auditLog = repository.NewAuditRepository(db)
	} else {
		store := memory.New()
		batches, groups, readiness = store.Batches, store.Groups, store.Readiness
		resolutions, templates, auditLog = store.Resolutions, store.Templates, store.Audit
		log.Warn().Msg("No database configured; using the in-memory store")
	}

	c := service.Collaborators{
		Log:         log,
		Metrics:     a.recorder,
		AuditPolicy: service.AuditPolicy(cfg.Engine.AuditFailurePolicy),
	}

	// Initialize locking
	if cfg.Redis.Address != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		c.Locker = lock.NewRedis(rdb, lock.RedisConfig{Prefix: cfg.Service.Name + ":lock:", TTL: cfg.Engine.LockTTL}, log)
		log.Info().Str("address", cfg.Redis.Address).Msg("Distributed locking enabled")
	}

	// Initialize event publishing
	if cfg.NATS.URL != "" {
		nc, err := client.Connect(cfg.NATS.URL, cfg.Service.Name)
		if err != nil {
			return nil, fmt.Errorf("connect to nats: %w", err)
		}
		a.closers = append(a.closers, func() { drain(nc, log) })
		c.Events = client.NewNotificationPublisher(nc, cfg.NATS.SubjectPrefix, log)
		log.Info().Str("url", cfg.NATS.URL).Msg("Event publishing enabled")
	}

	// Initialize directory clients
	if cfg.Directories.MachinesURL != "" {
		c.Machines = client.NewMachinesClient(cfg.Directories.MachinesURL, cfg.Directories.Timeout)
	}
	if cfg.Directories.UsersURL != "" {
		c.Users = client.NewIdentityClient(cfg.Directories.UsersURL, cfg.Directories.Timeout)
	}

	settings := service.Settings{
		HealthThreshold:            cfg.Engine.HealthThreshold,
		HighPriorityGroupLimit:     cfg.Engine.HighPriorityGroupLimit,
		LargeGroupThreshold:        cfg.Engine.LargeGroupThreshold,
		DefaultExpectedOutput:      cfg.Engine.DefaultExpectedOutput,
		CompatibilityScope:         conflict.Scope(cfg.Engine.CompatibilityScope),
		CreateReadinessOnMarkInUse: cfg.Engine.CreateReadinessOnMarkInUse,
	}

	// Services must share one locker to serialise against each other.
	c = c.WithDefaults()

	a.readiness = service.NewReadinessService(readiness, auditLog, settings, c)
	a.groups = service.NewApprovalGroupService(batches, groups, resolutions, auditLog, a.readiness, settings, c)
	a.templates = service.NewTemplateService(templates, batches, auditLog, settings, c)
	a.analytics = service.NewAnalyticsService(batches, groups, readiness, templates, c)
	return a, nil
}

func drain(nc *nats.Conn, log *logger.Logger) {
	done := make(chan struct{})
	nc.SetClosedHandler(func(*nats.Conn) { close(done) })
	if err := nc.Drain(); err != nil {
		log.Warn().Err(err).Msg("Failed to drain NATS connection")
		nc.Close()
		return
	}
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		log.Warn().Msg("Timed out draining NATS connection")
		nc.Close()
	}
}
