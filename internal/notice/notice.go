// Package notice renders user-facing sync notices as structured log
// records. A notice is either transient or pinned; pinned notices stay
// open until dismissed.
package notice

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

var nextID atomic.Uint64

// Handle is an open notice.
type Handle interface {
	Update(msg string)
	DismissAfter(d time.Duration)
}

// Logger is a notice surface backed by slog.
type Logger struct {
	logger *slog.Logger
}

// NewLogger creates a notice surface writing to logger.
func NewLogger(logger *slog.Logger) *Logger {
	return &Logger{logger: logger.With(slog.String("component", "notice"))}
}

// Announce shows a transient notice.
func (l *Logger) Announce(msg string) Handle {
	return l.open(msg, false)
}

// Pin shows a notice that stays open until DismissAfter fires.
func (l *Logger) Pin(msg string) Handle {
	return l.open(msg, true)
}

// Failed reports a per-file failure.
func (l *Logger) Failed(path string, err error) {
	l.logger.Warn("file not uploaded", slog.String("path", path), slog.String("error", err.Error()))
}

func (l *Logger) open(msg string, pinned bool) *Notice {
	n := &Notice{
		id:     nextID.Add(1),
		logger: l.logger,
		msg:    msg,
		pinned: pinned,
	}

	l.logger.Info(msg, slog.Uint64("notice", n.id), slog.Bool("pinned", pinned))

	return n
}

// Notice is one open notice.
type Notice struct {
	id     uint64
	logger *slog.Logger
	pinned bool

	mu        sync.Mutex
	msg       string
	dismissed bool
	timer     *time.Timer
}

// Update replaces the notice text. Updates after dismissal are dropped.
func (n *Notice) Update(msg string) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dismissed {
		return
	}

	n.msg = msg
	n.logger.Info(msg, slog.Uint64("notice", n.id))
}

// DismissAfter closes the notice once d has elapsed. A later call
// replaces the pending dismissal.
func (n *Notice) DismissAfter(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dismissed {
		return
	}

	if n.timer != nil {
		n.timer.Stop()
	}

	n.timer = time.AfterFunc(d, n.dismiss)
}

func (n *Notice) dismiss() {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.dismissed {
		return
	}

	n.dismissed = true
	n.logger.Debug("notice dismissed", slog.Uint64("notice", n.id))
}

// Message returns the current notice text.
func (n *Notice) Message() string {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.msg
}

// Pinned reports whether the notice was opened with Pin.
func (n *Notice) Pinned() bool {
	return n.pinned
}

// Dismissed reports whether the notice has been closed.
func (n *Notice) Dismissed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()

	return n.dismissed
}
