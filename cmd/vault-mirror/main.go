package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alexjbarnes/vault-mirror/internal/config"
	apperrors "github.com/alexjbarnes/vault-mirror/internal/errors"
	"github.com/alexjbarnes/vault-mirror/internal/logging"
	"github.com/alexjbarnes/vault-mirror/internal/metrics"
	"github.com/alexjbarnes/vault-mirror/internal/mirror"
	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/alexjbarnes/vault-mirror/internal/notice"
	"github.com/alexjbarnes/vault-mirror/internal/server"
	"github.com/alexjbarnes/vault-mirror/internal/state"
	"github.com/alexjbarnes/vault-mirror/internal/vault"
	"github.com/alexjbarnes/vault-mirror/internal/yandex"
	"golang.org/x/sync/errgroup"
)

var Version = "dev"

// statusRuns is how many runs `vault-mirror status` prints.
const statusRuns = 10

func main() {
	// Handle status subcommand before config loading.
	if len(os.Args) > 1 && os.Args[1] == "status" {
		if err := status(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func status(w io.Writer) error {
	path, err := config.StatePathFromEnv()
	if err != nil {
		return err
	}

	appState, err := state.Load(path)
	if err != nil {
		return statusError("loading state", err)
	}
	defer appState.Close()

	runs, err := appState.Runs(statusRuns)
	if err != nil {
		return statusError("reading run history", err)
	}

	printRuns(w, runs)

	return nil
}

// statusError adds a hint when another process is holding the database.
func statusError(op string, err error) error {
	if errors.Is(err, apperrors.ErrStateLocked) {
		return fmt.Errorf("%s: %w (a running daemon with METRICS_ADDR set also serves GET /status)", op, err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

func printRuns(w io.Writer, runs []models.RunRecord) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "no sync runs recorded")
		return
	}

	for _, r := range runs {
		fmt.Fprintf(w, "%s  %-10s  planned=%d uploaded=%d failed=%d  %s  %s\n",
			r.StartedAt.Local().Format(time.DateTime),
			r.Outcome,
			r.Planned,
			r.Uploaded,
			r.Failed,
			r.Duration().Round(time.Millisecond),
			r.ID,
		)

		if r.Error != "" {
			fmt.Fprintf(w, "    error: %s\n", r.Error)
		}
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := logging.NewLogger(cfg.Environment)
	logger.Info("vault-mirror starting",
		slog.String("version", Version),
		slog.String("vault_dir", cfg.VaultDir),
		slog.String("remote_path", cfg.RemotePath),
		slog.Int("concurrency", cfg.Concurrency),
		slog.Bool("watch", cfg.Watch),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	appState, err := state.Load(cfg.StatePath)
	if err != nil {
		return fmt.Errorf("loading state: %w", err)
	}
	defer appState.Close()

	v, err := vault.New(cfg.VaultDir, logger)
	if err != nil {
		return fmt.Errorf("opening vault: %w", err)
	}

	client := yandex.NewClient(cfg.OAuthToken, nil,
		yandex.WithRequestTimeout(cfg.RequestTimeout),
		yandex.WithPageSize(cfg.ListPageSize),
	)

	orch := mirror.NewOrchestrator(mirror.Config{
		Token:            cfg.OAuthToken,
		RemoteRoot:       cfg.RemotePath,
		Concurrency:      cfg.Concurrency,
		DismissAfter:     cfg.NoticeDismissAfter,
		AbortOnListError: cfg.AbortOnListError,
		Remote:           client,
		Vault:            v,
		Sink:             notice.NewLogger(logger),
		History:          appState,
	}, logger)

	if !cfg.Watch {
		if cfg.MetricsAddr != "" {
			logger.Debug("METRICS_ADDR is only served in watch mode")
		}

		_, err := orch.SyncAll(ctx)

		return err
	}

	return watch(ctx, cfg, v, orch, appState, logger)
}

// watch runs an initial sync, then resyncs whenever the vault settles
// after a change. Triggers that arrive during a run collapse into one
// follow-up run.
func watch(ctx context.Context, cfg *config.Config, v *vault.Vault, orch *mirror.Orchestrator, appState *state.State, logger *slog.Logger) error {
	g, gctx := errgroup.WithContext(ctx)

	if cfg.MetricsAddr != "" {
		mux := server.NewMux(server.MuxConfig{
			Metrics: metrics.Handler(),
			LastRun: appState.LastRun,
			Logger:  logger,
		})

		g.Go(func() error {
			return server.Serve(gctx, cfg.MetricsAddr, mux, logger)
		})
	}

	trigger := make(chan struct{}, 1)
	request := func() {
		select {
		case trigger <- struct{}{}:
		default:
		}
	}

	request()

	g.Go(func() error {
		err := v.Watch(gctx, cfg.WatchDebounce, request)
		if errors.Is(err, context.Canceled) {
			return nil
		}

		return err
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-trigger:
				_, err := orch.SyncAll(gctx)

				switch {
				case err == nil:
				case errors.Is(err, apperrors.ErrMissingToken):
					return err
				default:
					// Already reported; the next change retries.
					logger.Debug("run ended with error", slog.String("error", err.Error()))
				}
			}
		}
	})

	return g.Wait()
}
