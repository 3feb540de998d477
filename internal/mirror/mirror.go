// Package mirror computes which vault files are missing or stale on the
// remote side and uploads them with bounded parallelism.
package mirror

import (
	"context"
	"fmt"
	"time"

	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/alexjbarnes/vault-mirror/internal/notice"
)

//go:generate mockgen -destination=mock_store_test.go -package=mirror github.com/alexjbarnes/vault-mirror/internal/mirror RemoteStore,LocalVault

// RemoteStore is the remote side of the mirror.
type RemoteStore interface {
	// ListFiles returns remote files under root keyed by path relative
	// to root.
	ListFiles(ctx context.Context, root string) (map[string]time.Time, error)
	// CreateFolder creates one directory. An existing directory is not
	// an error.
	CreateFolder(ctx context.Context, path string) error
	// Upload writes content to target and reports whether the remote
	// confirmed creation.
	Upload(ctx context.Context, target string, content []byte) (bool, error)
}

// LocalVault is the local side of the mirror.
type LocalVault interface {
	ListFiles() ([]models.LocalFile, error)
	ReadContent(path string) ([]byte, error)
}

// ProgressSink shows run progress to the user.
type ProgressSink interface {
	Announce(msg string) notice.Handle
	Pin(msg string) notice.Handle
	Failed(path string, err error)
}

// History stores finished run records.
type History interface {
	RecordRun(r models.RunRecord) error
}

// TaskError is a per-file upload failure.
type TaskError struct {
	Path string
	Err  error
}

func (e *TaskError) Error() string { return fmt.Sprintf("%s: %v", e.Path, e.Err) }
func (e *TaskError) Unwrap() error { return e.Err }
