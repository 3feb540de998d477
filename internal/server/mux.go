// Package server provides the optional HTTP endpoint for metrics and run
// status.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alexjbarnes/vault-mirror/internal/models"
)

const shutdownTimeout = 10 * time.Second

// MuxConfig holds dependencies for building the HTTP mux.
type MuxConfig struct {
	Metrics http.Handler
	LastRun func() (*models.RunRecord, error)
	Logger  *slog.Logger
}

// statusResponse is the /status body.
type statusResponse struct {
	LastRun *runStatus `json:"last_run"`
}

type runStatus struct {
	models.RunRecord
	DurationMS int64 `json:"duration_ms"`
}

// NewMux builds the HTTP mux with /metrics, /healthz and /status.
func NewMux(cfg MuxConfig) *http.ServeMux {
	mux := http.NewServeMux()

	if cfg.Metrics != nil {
		mux.Handle("GET /metrics", cfg.Metrics)
	}

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("GET /status", handleStatus(cfg.LastRun, cfg.Logger))

	return mux
}

func handleStatus(lastRun func() (*models.RunRecord, error), logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var resp statusResponse

		if lastRun != nil {
			rec, err := lastRun()
			if err != nil {
				if logger != nil {
					logger.Warn("reading last run", slog.String("error", err.Error()))
				}

				writeJSONError(w, http.StatusInternalServerError, "state_unavailable")

				return
			}

			if rec != nil {
				resp.LastRun = &runStatus{RunRecord: *rec, DurationMS: rec.Duration().Milliseconds()}
			}
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func writeJSONError(w http.ResponseWriter, status int, errCode string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": errCode})
}

// Serve runs an HTTP server on addr until ctx is cancelled, then shuts
// it down gracefully.
func Serve(ctx context.Context, addr string, handler http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	logger.Info("starting metrics server", slog.String("listen", addr))

	go func() {
		<-ctx.Done()
		logger.Info("shutting down metrics server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		_ = srv.Shutdown(shutdownCtx)
	}()

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server error: %w", err)
	}

	return nil
}
