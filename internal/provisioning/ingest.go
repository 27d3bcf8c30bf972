package provisioning

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	apperrors "github.com/openidx/hrsync/internal/common/errors"
	"github.com/openidx/hrsync/internal/directory"
	"github.com/openidx/hrsync/internal/feed"
	"github.com/openidx/hrsync/internal/metrics"
	"github.com/openidx/hrsync/internal/operation"
)

// IngestResult summarizes one ingestion
type IngestResult struct {
	Files   int `json:"files"`
	Aborted int `json:"aborted"`
	Rows    int `json:"rows"`
	Failed  int `json:"failed"`
}

// Ingester reads the inbox, dispatches every row and archives the files
type Ingester struct {
	repo         operation.Repository
	mapping      feed.Mapping
	dateLayout   string
	inbox        string
	processedDir string
	location     *time.Location
	now          func() time.Time
	recorder     *metrics.Recorder
	base         *zap.Logger
	logger       *zap.Logger
}

// IngesterConfig holds the file locations and formats of the feed
type IngesterConfig struct {
	Inbox        string
	ProcessedDir string
	Mapping      feed.Mapping
	DateLayout   string
	Location     *time.Location
}

// NewIngester creates an ingester. recorder may be nil.
func NewIngester(repo operation.Repository, cfg IngesterConfig, recorder *metrics.Recorder, logger *zap.Logger) *Ingester {
	loc := cfg.Location
	if loc == nil {
		loc = time.Local
	}
	return &Ingester{
		repo:         repo,
		mapping:      cfg.Mapping,
		dateLayout:   cfg.DateLayout,
		inbox:        cfg.Inbox,
		processedDir: cfg.ProcessedDir,
		location:     loc,
		now:          time.Now,
		recorder:     recorder,
		base:         logger,
		logger:       logger.With(zap.String("component", "ingester")),
	}
}

// Pending lists the inbox extracts in processing order. Files that are not
// extracts are logged and counted as rejected, and left in the inbox.
func (i *Ingester) Pending() ([]string, error) {
	entries, err := os.ReadDir(i.inbox)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read inbox %s: %w", i.inbox, err)
	}
	var paths []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(i.inbox, e.Name())
		if _, err := feed.Classify(path); err != nil {
			i.skip(path, err)
			continue
		}
		paths = append(paths, path)
	}
	return feed.SortFiles(paths), nil
}

// Ingest processes the given files in order with client serving employee
// updates. Row errors are logged and skipped; a structural error skips the
// rest of the file. Processed files are archived. Transport, store and
// cancellation errors stop the ingestion and leave the current file in the
// inbox.
func (i *Ingester) Ingest(ctx context.Context, client directory.Client, files []string) (IngestResult, error) {
	var result IngestResult
	processor := NewProcessor(i.repo, client, i.dateLayout, i.base)

	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if _, err := feed.Classify(path); err != nil {
			i.skip(path, err)
			continue
		}
		if err := i.ingestFile(ctx, processor, path, &result); err != nil {
			return result, err
		}
		if err := i.archive(path); err != nil {
			return result, err
		}
	}

	i.logger.Info("ingestion finished",
		zap.Int("files", result.Files),
		zap.Int("aborted", result.Aborted),
		zap.Int("rows", result.Rows),
		zap.Int("failed", result.Failed),
	)
	return result, nil
}

func (i *Ingester) ingestFile(ctx context.Context, processor *Processor, path string, result *IngestResult) error {
	name := filepath.Base(path)
	kind := feed.KindOf(name)
	log := i.logger.With(zap.String("file", name), zap.String("kind", kind.String()))
	log.Debug("parsing file")

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	result.Files++
	reader := feed.NewReader(name, f, i.mapping)
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Aborted++
			i.recordFile(kind, metrics.OutcomeAborted)
			log.Error("file aborted", zap.Error(err))
			return nil
		}

		result.Rows++
		if err := processor.Dispatch(ctx, kind, rec); err != nil {
			if fatal(err) {
				return err
			}
			result.Failed++
			i.recordRow(kind, metrics.OutcomeFailed)
			log.Error("row rejected",
				zap.Int("line", rec.Line),
				zap.String("user_id", rec.UserID),
				zap.Error(err),
			)
			continue
		}
		i.recordRow(kind, metrics.OutcomeProcessed)
	}

	i.recordFile(kind, metrics.OutcomeProcessed)
	log.Info("processed file")
	return nil
}

// fatal reports errors that must stop the ingestion rather than skip a row
func fatal(err error) bool {
	return apperrors.IsTransport(err) ||
		apperrors.IsErrorCode(err, apperrors.ErrStore) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

// archive moves a processed file to <processed>/<YYYY>/<MM>/
func (i *Ingester) archive(path string) error {
	now := i.now().In(i.location)
	dir := filepath.Join(i.processedDir, now.Format("2006"), now.Format("01"))
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if err := os.Rename(path, dest); err != nil {
		return fmt.Errorf("failed to archive %s: %w", path, err)
	}
	i.logger.Debug("archived file", zap.String("file", filepath.Base(path)), zap.String("to", dest))
	return nil
}

func (i *Ingester) skip(path string, err error) {
	i.recordFile(feed.KindUnknown, metrics.OutcomeRejected)
	i.logger.Error("file skipped", zap.String("file", filepath.Base(path)), zap.Error(err))
}

func (i *Ingester) recordFile(kind feed.Kind, outcome string) {
	if i.recorder != nil {
		i.recorder.RecordFile(kind.String(), outcome)
	}
}

func (i *Ingester) recordRow(kind feed.Kind, outcome string) {
	if i.recorder != nil {
		i.recorder.RecordRow(kind.String(), outcome)
	}
}
