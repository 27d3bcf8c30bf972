// Package provisioning turns HR extracts into pending operations and applies
// them to the directory. A run fetches the extracts, ingests them and then
// reconciles the due operations; each phase uses its own directory session.
package provisioning

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/openidx/hrsync/internal/common/config"
	commonlog "github.com/openidx/hrsync/internal/common/logger"
	"github.com/openidx/hrsync/internal/common/tracing"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/feed"
	"github.com/openidx/hrsync/internal/metrics"
	"github.com/openidx/hrsync/internal/operation"
	"github.com/openidx/hrsync/internal/transfer"
)

// Phase names used in logs, spans and metrics
const (
	PhaseFetch     = "fetch"
	PhaseIngest    = "ingest"
	PhaseReconcile = "reconcile"
)

// FTPDialer opens a session on the export server
type FTPDialer func(ctx context.Context) (transfer.Client, error)

// Service runs the provisioning phases
type Service struct {
	directory  directory.Opener
	dialFTP    FTPDialer
	fetcher    *transfer.Fetcher
	ingester   *Ingester
	reconciler *Reconciler
	recorder   *metrics.Recorder
	location   *time.Location
	now        func() time.Time
	logger     *zap.Logger
}

// NewService wires the phases. dialFTP may be nil when extracts are dropped
// into the inbox by other means; recorder may be nil.
func NewService(cfg *config.Config, repo operation.Repository, dir directory.Opener, dialFTP FTPDialer, recorder *metrics.Recorder, logger *zap.Logger) (*Service, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	return &Service{
		directory: dir,
		dialFTP:   dialFTP,
		fetcher:   transfer.NewFetcher(cfg.FTP.ExportFolder, cfg.Feed.InboxDir, cfg.FTP.Cleanup, logger),
		ingester: NewIngester(repo, IngesterConfig{
			Inbox:        cfg.Feed.InboxDir,
			ProcessedDir: cfg.Feed.ProcessedDir,
			Mapping:      feed.Mapping(cfg.Feed.Columns),
			DateLayout:   cfg.Feed.DateLayout,
			Location:     loc,
		}, recorder, logger),
		reconciler: NewReconciler(repo, recorder, logger),
		recorder:   recorder,
		location:   loc,
		now:        time.Now,
		logger:     commonlog.WithComponent(logger, "provisioning"),
	}, nil
}

// Today returns the current calendar date in the configured time zone
func (s *Service) Today() time.Time {
	return operation.Day(s.now().In(s.location))
}

// Fetch downloads new extracts into the inbox
func (s *Service) Fetch(ctx context.Context) (fetched []string, err error) {
	started := time.Now()
	ctx, span := s.startPhase(ctx, PhaseFetch)
	defer func() { s.endPhase(span, PhaseFetch, started, err) }()

	if s.dialFTP == nil {
		s.logger.Info("no export server configured, skipping fetch")
		return nil, nil
	}

	client, err := s.dialFTP(ctx)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	fetched, err = s.fetcher.Fetch(ctx, client)
	span.SetAttributes(attribute.Int("hrsync.files", len(fetched)))
	return fetched, err
}

// Ingest parses the inbox into pending operations. The directory session is
// only opened when there is something to ingest.
func (s *Service) Ingest(ctx context.Context) (result IngestResult, err error) {
	started := time.Now()
	ctx, span := s.startPhase(ctx, PhaseIngest)
	defer func() { s.endPhase(span, PhaseIngest, started, err) }()

	files, err := s.ingester.Pending()
	if err != nil {
		return result, err
	}
	if len(files) == 0 {
		s.logger.Info("inbox is empty")
		return result, nil
	}

	session, err := s.directory.Open(ctx)
	if err != nil {
		return result, err
	}
	defer session.Close()

	result, err = s.ingester.Ingest(ctx, session, files)
	span.SetAttributes(
		attribute.Int("hrsync.files", result.Files),
		attribute.Int("hrsync.rows", result.Rows),
		attribute.Int("hrsync.rows_failed", result.Failed),
	)
	return result, err
}

// Reconcile applies the operations due on today
func (s *Service) Reconcile(ctx context.Context, today time.Time) (result RunResult, err error) {
	started := time.Now()
	ctx, span := s.startPhase(ctx, PhaseReconcile)
	defer func() { s.endPhase(span, PhaseReconcile, started, err) }()
	span.SetAttributes(attribute.String("hrsync.today", today.Format(time.DateOnly)))

	session, err := s.directory.Open(ctx)
	if err != nil {
		return result, err
	}
	defer session.Close()

	result, err = s.reconciler.Reconcile(ctx, session, today)
	span.SetAttributes(
		attribute.Int("hrsync.created", result.Created),
		attribute.Int("hrsync.deleted", result.Deleted),
		attribute.Int("hrsync.retained", result.Retained),
	)
	return result, err
}

// Run fetches, ingests and reconciles. Ingestion fully completes before
// reconciliation starts.
func (s *Service) Run(ctx context.Context) error {
	if _, err := s.Fetch(ctx); err != nil {
		return err
	}
	if _, err := s.Ingest(ctx); err != nil {
		return err
	}
	_, err := s.Reconcile(ctx, s.Today())
	return err
}

func (s *Service) startPhase(ctx context.Context, phase string) (context.Context, trace.Span) {
	ctx, span := tracing.Tracer().Start(ctx, "hrsync."+phase)
	commonlog.WithTraceContext(s.logger, ctx).Info("phase started", zap.String("phase", phase))
	return ctx, span
}

func (s *Service) endPhase(span trace.Span, phase string, started time.Time, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		s.logger.Error("phase failed", zap.String("phase", phase), zap.Duration("duration", time.Since(started)), zap.Error(err))
	} else {
		s.logger.Info("phase finished", zap.String("phase", phase), zap.Duration("duration", time.Since(started)))
	}
	span.End()
	if s.recorder != nil {
		s.recorder.RecordPhase(phase, started, err)
	}
}
