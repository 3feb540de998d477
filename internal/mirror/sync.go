package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/vault-mirror/internal/errors"
	"github.com/alexjbarnes/vault-mirror/internal/logging"
	"github.com/alexjbarnes/vault-mirror/internal/metrics"
	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/google/uuid"
)

const (
	DefaultConcurrency  = 5
	DefaultDismissAfter = 5 * time.Second
)

// Config holds the settings and collaborators of an Orchestrator.
type Config struct {
	Token            string
	RemoteRoot       string
	Concurrency      int
	DismissAfter     time.Duration
	AbortOnListError bool

	Remote  RemoteStore
	Vault   LocalVault
	Sink    ProgressSink
	History History // optional
}

// Result summarizes a finished run.
type Result struct {
	ID       string
	Planned  int
	Uploaded int
	Failed   int
	Outcome  models.RunOutcome
}

// Orchestrator runs one sync at a time: list both sides, plan, upload.
type Orchestrator struct {
	token            string
	remoteRoot       string
	concurrency      int
	dismissAfter     time.Duration
	abortOnListError bool

	remote  RemoteStore
	vault   LocalVault
	sink    ProgressSink
	history History
	cache   *DirCache
	logger  *slog.Logger

	running atomic.Bool
}

func NewOrchestrator(cfg Config, logger *slog.Logger) *Orchestrator {
	concurrency := cfg.Concurrency
	if concurrency < 1 {
		concurrency = DefaultConcurrency
	}

	dismiss := cfg.DismissAfter
	if dismiss <= 0 {
		dismiss = DefaultDismissAfter
	}

	return &Orchestrator{
		token:            strings.TrimSpace(cfg.Token),
		remoteRoot:       strings.TrimRight(cfg.RemoteRoot, "/"),
		concurrency:      concurrency,
		dismissAfter:     dismiss,
		abortOnListError: cfg.AbortOnListError,
		remote:           cfg.Remote,
		vault:            cfg.Vault,
		sink:             cfg.Sink,
		history:          cfg.History,
		cache:            NewDirCache(),
		logger:           logger,
	}
}

// Cache returns the run-scoped directory cache.
func (o *Orchestrator) Cache() *DirCache {
	return o.cache
}

// SyncAll performs one full run. A missing token fails before any
// network call. A call made while another run is active returns
// ErrSyncInProgress. Per-file failures are counted in the result, not
// returned.
func (o *Orchestrator) SyncAll(ctx context.Context) (*Result, error) {
	if o.token == "" {
		o.sink.Announce("Yandex Disk OAuth token is not set, open the settings to add it")
		return nil, apperrors.ErrMissingToken
	}

	if !o.running.CompareAndSwap(false, true) {
		return nil, apperrors.ErrSyncInProgress
	}
	defer o.running.Store(false)

	rec := models.RunRecord{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
	}

	logger := o.logger.With(slog.String("run", rec.ID))
	logger.Info("sync started",
		slog.String("remote_root", o.remoteRoot),
		slog.String("token", logging.Redact(o.token)),
	)

	err := o.run(ctx, logger, &rec)
	rec.FinishedAt = time.Now()

	if err != nil {
		rec.Outcome = models.RunFailed
		rec.Error = err.Error()

		logger.Error("sync failed", slog.String("error", err.Error()))
		o.sink.Announce("Sync failed, check the log for details")
	} else {
		logger.Info("sync finished",
			slog.String("outcome", string(rec.Outcome)),
			slog.Int("planned", rec.Planned),
			slog.Int("uploaded", rec.Uploaded),
			slog.Int("failed", rec.Failed),
			slog.Duration("duration", rec.Duration()),
		)
	}

	o.record(logger, rec)

	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperrors.ErrSyncFailed, err)
	}

	return &Result{
		ID:       rec.ID,
		Planned:  rec.Planned,
		Uploaded: rec.Uploaded,
		Failed:   rec.Failed,
		Outcome:  rec.Outcome,
	}, nil
}

func (o *Orchestrator) run(ctx context.Context, logger *slog.Logger, rec *models.RunRecord) error {
	o.sink.Announce("Sync started")

	remote, err := o.remote.ListFiles(ctx, o.remoteRoot)
	if err != nil {
		if o.abortOnListError {
			return fmt.Errorf("%w: %w", apperrors.ErrListing, err)
		}

		logger.Warn("remote listing failed, treating remote as empty", slog.String("error", err.Error()))

		remote = nil
	}

	metrics.SetRemoteFiles(len(remote))

	local, err := o.vault.ListFiles()
	if err != nil {
		return fmt.Errorf("listing vault: %w", err)
	}

	tasks := Plan(local, remote)
	total := len(tasks)
	rec.Planned = total
	metrics.SetPlannedUploads(total)

	logger.Debug("plan ready", slog.Int("local", len(local)), slog.Int("remote", len(remote)), slog.Int("tasks", total))

	if total == 0 {
		rec.Outcome = models.RunUpToDate
		o.sink.Announce("Vault is up to date")

		return nil
	}

	progress := o.sink.Pin(fmt.Sprintf("Uploading 0/%d", total))

	pool := NewPool(PoolConfig{
		Remote:     o.remote,
		Vault:      o.vault,
		Cache:      o.cache,
		Sink:       o.sink,
		Progress:   progress,
		RemoteRoot: o.remoteRoot,
	}, logger)

	uploaded := pool.Run(ctx, NewQueue(tasks), o.concurrency, total)

	rec.Uploaded = uploaded
	rec.Failed = total - uploaded
	rec.Outcome = models.RunUploaded

	progress.Update(SummaryMessage(uploaded, total))
	progress.DismissAfter(o.dismissAfter)

	o.cache.Clear()

	return nil
}

func (o *Orchestrator) record(logger *slog.Logger, rec models.RunRecord) {
	metrics.RecordRun(string(rec.Outcome), rec.Duration(), rec.FinishedAt)

	if o.history == nil {
		return
	}

	if err := o.history.RecordRun(rec); err != nil {
		logger.Warn("recording run history", slog.String("error", err.Error()))
	}
}

// SummaryMessage formats the final notice of a run that uploaded files.
func SummaryMessage(uploaded, total int) string {
	if uploaded == total {
		return fmt.Sprintf("Sync done, uploaded %d files", uploaded)
	}

	return fmt.Sprintf("Sync done, uploaded %d of %d files", uploaded, total)
}
