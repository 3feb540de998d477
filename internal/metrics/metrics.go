// Package metrics provides Prometheus metrics for vault-mirror.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Run metrics
	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_mirror_runs_total",
			Help: "Total sync runs by outcome",
		},
		[]string{"outcome"},
	)

	runDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_mirror_run_duration_seconds",
			Help:    "Sync run duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	lastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_mirror_last_run_timestamp_seconds",
			Help: "Unix time the last sync run finished",
		},
	)

	// Plan metrics
	remoteFiles = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_mirror_remote_files",
			Help: "Files seen under the remote root in the last listing",
		},
	)

	plannedUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vault_mirror_planned_uploads",
			Help: "Files selected for upload in the last run",
		},
	)

	// Transfer metrics
	uploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_mirror_uploads_total",
			Help: "Total file uploads by status",
		},
		[]string{"status"},
	)

	uploadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vault_mirror_upload_bytes_total",
			Help: "Total bytes sent in successful uploads",
		},
	)

	uploadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vault_mirror_upload_duration_seconds",
			Help:    "Per-file upload duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	folderCreatesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vault_mirror_folder_creates_total",
			Help: "Total remote folder creation calls by status",
		},
		[]string{"status"},
	)
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

func status(success bool) string {
	if success {
		return "success"
	}

	return "error"
}

// RecordRun records a finished sync run.
func RecordRun(outcome string, duration time.Duration, finished time.Time) {
	runsTotal.WithLabelValues(outcome).Inc()
	runDuration.Observe(duration.Seconds())
	lastRunTimestamp.Set(float64(finished.Unix()))
}

// SetRemoteFiles sets the size of the last remote listing.
func SetRemoteFiles(n int) {
	remoteFiles.Set(float64(n))
}

// SetPlannedUploads sets the number of files planned in the last run.
func SetPlannedUploads(n int) {
	plannedUploads.Set(float64(n))
}

// RecordUpload records one file upload attempt.
func RecordUpload(bytes int, duration time.Duration, success bool) {
	uploadsTotal.WithLabelValues(status(success)).Inc()
	uploadDuration.Observe(duration.Seconds())

	if success {
		uploadBytes.Add(float64(bytes))
	}
}

// RecordFolderCreate records one remote folder creation call.
func RecordFolderCreate(success bool) {
	folderCreatesTotal.WithLabelValues(status(success)).Inc()
}
