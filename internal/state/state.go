package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	apperrors "github.com/alexjbarnes/vault-mirror/internal/errors"
	"github.com/alexjbarnes/vault-mirror/internal/models"
	bolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"
)

const (
	// stateDirPerm is the permission mode for the state directory (~/.vault-mirror/).
	stateDirPerm = fs.FileMode(0o700)

	// stateFilePerm is the permission mode for the state database file.
	stateFilePerm = fs.FileMode(0o600)

	// stateOpenTimeout is the maximum time to wait for the bolt database lock.
	stateOpenTimeout = 5 * time.Second

	// DefaultHistoryLimit is how many run records are retained.
	DefaultHistoryLimit = 100
)

var runsBucket = []byte("runs")

// runKey orders records chronologically: bbolt iterates keys in byte
// order, and RFC 3339 with fixed nanosecond width sorts the same way as
// time for UTC instants. The run ID suffix keeps same-instant runs apart.
func runKey(r models.RunRecord) []byte {
	return []byte(r.StartedAt.UTC().Format("2006-01-02T15:04:05.000000000Z") + "/" + r.ID)
}

// State is the sync run history stored in a bbolt database. The file is
// opened for each operation and closed again, so a long-running daemon
// and a `status` invocation can share it.
type State struct {
	path        string
	limit       int
	openTimeout time.Duration

	// mu serializes access from this process; bbolt's file lock is per
	// open file, so two opens in one process would block each other.
	mu sync.Mutex
}

// Option configures a State.
type Option func(*State)

// WithOpenTimeout bounds how long an operation waits for another
// process to release the database lock.
func WithOpenTimeout(d time.Duration) Option {
	return func(s *State) {
		if d > 0 {
			s.openTimeout = d
		}
	}
}

// Load prepares a state database at the given path, creating it and its
// directory if they do not exist.
func Load(path string, opts ...Option) (*State, error) {
	if err := os.MkdirAll(filepath.Dir(path), stateDirPerm); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	s := &State{path: path, limit: DefaultHistoryLimit, openTimeout: stateOpenTimeout}
	for _, opt := range opts {
		opt(s)
	}

	err := s.update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(runsBucket)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("initializing state db: %w", err)
	}

	return s, nil
}

// SetHistoryLimit changes how many run records RecordRun keeps. Values
// below 1 are ignored.
func (s *State) SetHistoryLimit(n int) {
	if n > 0 {
		s.limit = n
	}
}

// Close exists for symmetry with Load. The database is not held open
// between operations.
func (s *State) Close() error {
	return nil
}

func (s *State) open(readOnly bool) (*bolt.DB, error) {
	db, err := bolt.Open(s.path, stateFilePerm, &bolt.Options{Timeout: s.openTimeout, ReadOnly: readOnly})
	if err != nil {
		if errors.Is(err, berrors.ErrTimeout) {
			return nil, fmt.Errorf("opening state db %s: %w", s.path, apperrors.ErrStateLocked)
		}

		return nil, fmt.Errorf("opening state db: %w", err)
	}

	return db, nil
}

func (s *State) update(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(false)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(fn)
}

func (s *State) view(fn func(tx *bolt.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	db, err := s.open(true)
	if err != nil {
		return err
	}
	defer db.Close()

	return db.View(fn)
}

// RecordRun persists a finished run and prunes the oldest records past
// the history limit.
func (s *State) RecordRun(r models.RunRecord) error {
	if r.ID == "" {
		return fmt.Errorf("run record has no id")
	}

	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("encoding run record: %w", err)
	}

	return s.update(func(tx *bolt.Tx) error {
		b := tx.Bucket(runsBucket)

		if err := b.Put(runKey(r), data); err != nil {
			return err
		}

		// Count with a cursor: Stats does not see uncommitted writes.
		c := b.Cursor()
		count := 0

		for k, _ := c.First(); k != nil; k, _ = c.Next() {
			count++
		}

		excess := count - s.limit
		if excess <= 0 {
			return nil
		}

		var stale [][]byte

		for k, _ := c.First(); k != nil && len(stale) < excess; k, _ = c.Next() {
			stale = append(stale, append([]byte(nil), k...))
		}

		for _, k := range stale {
			if err := b.Delete(k); err != nil {
				return err
			}
		}

		return nil
	})
}

// LastRun returns the most recent run record, or nil if none exist.
func (s *State) LastRun() (*models.RunRecord, error) {
	var rec *models.RunRecord

	err := s.view(func(tx *bolt.Tx) error {
		_, v := tx.Bucket(runsBucket).Cursor().Last()
		if v == nil {
			return nil
		}

		rec = &models.RunRecord{}

		return json.Unmarshal(v, rec)
	})

	return rec, err
}

// Runs returns up to n of the most recent run records, newest first.
func (s *State) Runs(n int) ([]models.RunRecord, error) {
	var runs []models.RunRecord

	err := s.view(func(tx *bolt.Tx) error {
		c := tx.Bucket(runsBucket).Cursor()

		for k, v := c.Last(); k != nil && len(runs) < n; k, v = c.Prev() {
			var r models.RunRecord
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}

			runs = append(runs, r)
		}

		return nil
	})

	return runs, err
}

// RunCount returns the number of stored run records.
func (s *State) RunCount() int {
	count := 0
	_ = s.view(func(tx *bolt.Tx) error {
		count = tx.Bucket(runsBucket).Stats().KeyN
		return nil
	})

	return count
}
