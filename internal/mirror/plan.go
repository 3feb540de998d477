package mirror

import (
	"github.com/alexjbarnes/vault-mirror/internal/models"
	"github.com/alexjbarnes/vault-mirror/internal/vault"
)

// SkewToleranceMillis is added to the remote modification time before
// comparing it with the local one.
const SkewToleranceMillis = 2000

// UploadTask is one file scheduled for upload.
type UploadTask struct {
	File models.LocalFile
}

// Plan returns the local files that are absent from the remote listing
// or newer than their remote copy by more than the skew tolerance, in
// input order. Only modification times are compared.
func Plan(local []models.LocalFile, remote models.RemoteListing) []UploadTask {
	var tasks []UploadTask

	for _, f := range local {
		if vault.IsConfigPath(f.Path) {
			continue
		}

		modified, ok := remote[f.Path]
		if !ok || f.MTime > modified.UnixMilli()+SkewToleranceMillis {
			tasks = append(tasks, UploadTask{File: f})
		}
	}

	return tasks
}
