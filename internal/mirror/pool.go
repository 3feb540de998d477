package mirror

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/alexjbarnes/vault-mirror/internal/errors"
	"github.com/alexjbarnes/vault-mirror/internal/metrics"
	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/alexjbarnes/vault-mirror/internal/notice"
	"golang.org/x/sync/errgroup"
)

// PoolConfig holds the collaborators of an upload pool.
type PoolConfig struct {
	Remote     RemoteStore
	Vault      LocalVault
	Cache      *DirCache
	Sink       ProgressSink
	Progress   notice.Handle // optional
	RemoteRoot string
}

// Pool uploads queued tasks with a fixed number of workers.
type Pool struct {
	remote     RemoteStore
	vault      LocalVault
	cache      *DirCache
	sink       ProgressSink
	progress   notice.Handle
	remoteRoot string
	logger     *slog.Logger

	// progressMu orders finished-count increments with their updates so
	// the progress notice never moves backwards.
	progressMu sync.Mutex
	finished   int
}

func NewPool(cfg PoolConfig, logger *slog.Logger) *Pool {
	cache := cfg.Cache
	if cache == nil {
		cache = NewDirCache()
	}

	return &Pool{
		remote:     cfg.Remote,
		vault:      cfg.Vault,
		cache:      cache,
		sink:       cfg.Sink,
		progress:   cfg.Progress,
		remoteRoot: cfg.RemoteRoot,
		logger:     logger,
	}
}

// Run starts concurrency workers (at least one) that drain tasks and
// returns the number of successful uploads once every worker has
// exited. A failed task is reported and skipped; it never stops the
// other workers.
func (p *Pool) Run(ctx context.Context, tasks *Queue, concurrency, total int) int {
	if concurrency < 1 {
		concurrency = 1
	}

	var (
		uploaded atomic.Int64
		g        errgroup.Group
	)

	p.progressMu.Lock()
	p.finished = 0
	p.progressMu.Unlock()

	for range concurrency {
		g.Go(func() error {
			for {
				task, ok := tasks.Next()
				if !ok {
					return nil
				}

				if err := p.upload(ctx, task.File); err != nil {
					p.fail(task.File.Path, err)
				} else {
					uploaded.Add(1)
				}

				p.finish(total, task.File.Name())
			}
		})
	}

	_ = g.Wait()

	return int(uploaded.Load())
}

func (p *Pool) upload(ctx context.Context, f models.LocalFile) error {
	p.ensureDirs(ctx, f.Path)

	content, err := p.vault.ReadContent(f.Path)
	if err != nil {
		return &TaskError{Path: f.Path, Err: err}
	}

	target := p.remoteRoot + "/" + f.Path

	start := time.Now()
	created, err := p.remote.Upload(ctx, target, content)
	metrics.RecordUpload(len(content), time.Since(start), err == nil && created)

	if err != nil {
		return &TaskError{Path: f.Path, Err: err}
	}

	if !created {
		return &TaskError{Path: f.Path, Err: apperrors.ErrUploadRejected}
	}

	p.logger.Debug("uploaded", slog.String("path", f.Path), slog.Int("bytes", len(content)))

	return nil
}

// ensureDirs creates each ancestor directory of relPath under the remote
// root, outermost first. Failures are logged and otherwise ignored: if a
// directory really is missing, the upload into it fails on its own.
func (p *Pool) ensureDirs(ctx context.Context, relPath string) {
	dir := path.Dir(relPath)
	if dir == "." {
		return
	}

	current := p.remoteRoot

	for _, seg := range strings.Split(dir, "/") {
		current = current + "/" + seg

		if err := p.cache.Ensure(ctx, current, p.createFolder); err != nil {
			p.logger.Warn("creating remote folder",
				slog.String("path", current),
				slog.String("error", err.Error()),
				slog.Bool("transient", apperrors.IsTransient(err)),
			)
		}
	}
}

func (p *Pool) createFolder(ctx context.Context, dir string) error {
	err := p.remote.CreateFolder(ctx, dir)
	metrics.RecordFolderCreate(err == nil)

	return err
}

func (p *Pool) fail(relPath string, err error) {
	p.logger.Warn("upload failed",
		slog.String("path", relPath),
		slog.String("error", err.Error()),
		slog.Bool("transient", apperrors.IsTransient(err)),
	)

	if p.sink != nil {
		p.sink.Failed(relPath, err)
	}
}

// finish counts one more finished task and pushes the new count.
func (p *Pool) finish(total int, name string) {
	p.progressMu.Lock()
	defer p.progressMu.Unlock()

	p.finished++

	if p.progress == nil || total <= 0 {
		return
	}

	p.progress.Update(ProgressMessage(p.finished, total, name))
}

// ProgressMessage formats a progress line for finished of total files.
func ProgressMessage(finished, total int, name string) string {
	return fmt.Sprintf("Uploading %d/%d (%d%%) %s", finished, total, Percent(finished, total), name)
}

// Percent returns finished/total as a rounded percentage.
func Percent(finished, total int) int {
	if total <= 0 {
		return 0
	}

	return int(math.Round(float64(finished) / float64(total) * 100))
}
