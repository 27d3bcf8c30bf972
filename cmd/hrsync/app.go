package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	"github.com/openidx/hrsync/internal/common/database"
	"github.com/openidx/hrsync/internal/common/logger"
	"github.com/openidx/hrsync/internal/common/shutdown"
	"github.com/openidx/hrsync/internal/common/tracing"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/metrics"
	"github.com/openidx/hrsync/internal/operation"
	"github.com/openidx/hrsync/internal/provisioning"
	"github.com/openidx/hrsync/internal/remote"
	"github.com/openidx/hrsync/internal/transfer"
)

const serviceName = "hrsync"

// app holds what one command invocation opens. Everything is released by close.
type app struct {
	cfg      *config.Config
	log      *zap.Logger
	runID    string
	repo     operation.Repository
	recorder *metrics.Recorder
	service  *provisioning.Service
	shutdown *shutdown.ShutdownManager
}

func newApp(ctx context.Context, opts *rootOptions) (*app, error) {
	cfg, err := config.Load(serviceName, opts.configFile)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	log := logger.WithRunID(logger.NewWithLevel(cfg.Environment, cfg.LogLevel), runID)
	log.Debug("configuration loaded",
		zap.String("version", Version),
		zap.String("directory", cfg.LDAP.Type),
		zap.String("store", cfg.Store.Backend),
	)
	cfg.LogSecurityWarnings(log)

	a := &app{
		cfg:      cfg,
		log:      log,
		runID:    runID,
		recorder: metrics.NewRecorder(),
		shutdown: shutdown.NewShutdownManager(log, 30*time.Second),
	}
	a.shutdown.RegisterHook("logger", func(context.Context) error {
		_ = log.Sync()
		return nil
	})
	if cfg.Metrics.PushgatewayURL != "" {
		a.shutdown.RegisterHook("metrics", a.pushMetrics)
	}

	shutdownTracer, err := tracing.Init(ctx, cfg, log)
	if err != nil {
		log.Warn("Failed to initialize tracing", zap.Error(err))
	} else {
		a.shutdown.RegisterHook("tracing", shutdownTracer)
	}

	if err := a.openStore(ctx); err != nil {
		a.close()
		return nil, err
	}

	connector := directory.NewLDAPConnector(cfg.LDAP, log)
	dir, err := directory.New(cfg.LDAP, connector, log,
		directory.WithCommandRunner(remote.NewSSHRunner(cfg.SSH, log), cfg.SSH.KeyName),
	)
	if err != nil {
		a.close()
		return nil, err
	}

	var dialFTP provisioning.FTPDialer
	if cfg.FTP.Host != "" {
		dialFTP = func(ctx context.Context) (transfer.Client, error) {
			client, err := transfer.DialFTP(ctx, cfg.FTP, log)
			if err != nil {
				return nil, err
			}
			return client, nil
		}
	}

	a.service, err = provisioning.NewService(cfg, a.repo, dir, dialFTP, a.recorder, log)
	if err != nil {
		a.close()
		return nil, err
	}
	return a, nil
}

// openStore connects the configured pending-operation backend
func (a *app) openStore(ctx context.Context) error {
	switch a.cfg.Store.Backend {
	case config.StorePostgres:
		db, err := database.NewPostgres(ctx, a.cfg.Store.DatabaseURL)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.shutdown.RegisterHook("postgres", func(context.Context) error { return db.Close() })
		a.repo = operation.NewPostgresRepository(db)
	case config.StoreRedis:
		rc, err := database.NewRedis(ctx, a.cfg.Store.RedisURL)
		if err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.shutdown.RegisterHook("redis", func(context.Context) error { return rc.Close() })
		a.repo = operation.NewRedisRepository(rc, a.cfg.Store.KeyPrefix)
	default:
		a.log.Warn("pending operations are kept in memory and lost when the command exits")
		a.repo = operation.NewMemoryRepository()
	}
	return nil
}

func (a *app) pushMetrics(ctx context.Context) error {
	instance, _ := os.Hostname()
	if err := a.recorder.Push(ctx, a.cfg.Metrics.PushgatewayURL, a.cfg.Metrics.Job, instance); err != nil {
		return fmt.Errorf("failed to push metrics: %w", err)
	}
	return nil
}

func (a *app) close() {
	a.shutdown.Shutdown()
}

// runCommand opens the application, runs fn under a root span and prints its
// result
func runCommand(ctx context.Context, opts *rootOptions, name string, fn func(ctx context.Context, a *app) (any, error)) error {
	ctx, stop := shutdown.SignalContext(ctx)
	defer stop()

	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer a.close()

	ctx, span := tracing.Tracer().Start(ctx, "hrsync.command."+name,
		trace.WithAttributes(
			attribute.String("hrsync.run_id", a.runID),
			attribute.String("hrsync.command", name),
		),
	)
	defer span.End()

	started := time.Now()
	result, err := fn(ctx, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		a.log.Error("command failed", zap.String("command", name), zap.Error(err))
		return err
	}

	return writeJSON(runOutput{
		Command:    name,
		RunID:      a.runID,
		DurationMS: time.Since(started).Milliseconds(),
		Result:     result,
	})
}
