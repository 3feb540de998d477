package mirror

import (
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/alexjbarnes/vault-mirror/internal/notice"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func file(path string, mtime int64) models.LocalFile {
	return models.LocalFile{Path: path, MTime: mtime}
}

func taskPaths(tasks []UploadTask) []string {
	out := make([]string, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.File.Path)
	}

	return out
}

// fakeHandle records what happened to one notice.
type fakeHandle struct {
	mu       sync.Mutex
	pinned   bool
	messages []string
	dismiss  time.Duration
}

func (h *fakeHandle) Update(msg string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.messages = append(h.messages, msg)
}

func (h *fakeHandle) DismissAfter(d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.dismiss = d
}

func (h *fakeHandle) Messages() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return append([]string(nil), h.messages...)
}

func (h *fakeHandle) last() string {
	msgs := h.Messages()
	if len(msgs) == 0 {
		return ""
	}

	return msgs[len(msgs)-1]
}

// fakeSink records notices and per-file failures.
type fakeSink struct {
	mu      sync.Mutex
	notices []*fakeHandle
	failed  map[string]error
}

func newFakeSink() *fakeSink {
	return &fakeSink{failed: make(map[string]error)}
}

func (s *fakeSink) Announce(msg string) notice.Handle {
	return s.open(msg, false)
}

func (s *fakeSink) Pin(msg string) notice.Handle {
	return s.open(msg, true)
}

func (s *fakeSink) Failed(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.failed[path] = err
}

func (s *fakeSink) open(msg string, pinned bool) *fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := &fakeHandle{pinned: pinned, messages: []string{msg}}
	s.notices = append(s.notices, h)

	return h
}

// announced returns the first message of every notice in order.
func (s *fakeSink) announced() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.notices))
	for _, h := range s.notices {
		out = append(out, h.Messages()[0])
	}

	return out
}

func (s *fakeSink) pinned() []*fakeHandle {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*fakeHandle

	for _, h := range s.notices {
		if h.pinned {
			out = append(out, h)
		}
	}

	return out
}

func (s *fakeSink) failures() map[string]error {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string]error, len(s.failed))
	for k, v := range s.failed {
		out[k] = v
	}

	return out
}

// memHistory is an in-memory History.
type memHistory struct {
	mu   sync.Mutex
	runs []models.RunRecord
	err  error
}

func (h *memHistory) RecordRun(r models.RunRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.err != nil {
		return h.err
	}

	h.runs = append(h.runs, r)

	return nil
}
