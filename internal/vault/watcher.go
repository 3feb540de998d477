package vault

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch monitors the vault directory and calls onChange once the vault
// has been quiet for the debounce interval after one or more relevant
// events. It blocks until the context is cancelled. onChange runs on the
// watch goroutine and should hand work off rather than block.
func (v *Vault) Watch(ctx context.Context, debounce time.Duration, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	if err := v.addRecursive(watcher); err != nil {
		return fmt.Errorf("adding vault to watcher: %w", err)
	}

	v.logger.Info("file watcher started", slog.String("dir", v.dir), slog.Duration("debounce", debounce))

	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case event, ok := <-watcher.Events:
			if !ok {
				return fmt.Errorf("fsnotify events channel closed")
			}

			if v.handleEvent(watcher, event) {
				timer.Reset(debounce)
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return fmt.Errorf("fsnotify errors channel closed")
			}

			// Non-fatal (e.g. too many watches); affected paths are
			// still picked up by the next full listing.
			v.logger.Warn("watcher error", slog.String("error", err.Error()))

		case <-timer.C:
			onChange()
		}
	}
}

// handleEvent reports whether the event should trigger a resync. New
// directories are added to the watch set.
func (v *Vault) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) bool {
	if v.shouldIgnore(event.Name) {
		return false
	}

	if event.Has(fsnotify.Create) {
		// Lstat so a symlink to a directory outside the vault is not followed.
		if info, err := os.Lstat(event.Name); err == nil && info.IsDir() && info.Mode()&os.ModeSymlink == 0 {
			if err := v.addTree(watcher, event.Name); err != nil {
				v.logger.Warn("watching new directory",
					slog.String("path", event.Name),
					slog.String("error", err.Error()),
				)
			}
		}
	}

	if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
		// Deletions are never mirrored, but a rename shows up as a
		// create on the new name which does need uploading.
		_ = watcher.Remove(event.Name)
		return false
	}

	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write)
}

// addRecursive adds the vault root and all non-hidden directories to the
// fsnotify watcher.
func (v *Vault) addRecursive(watcher *fsnotify.Watcher) error {
	return v.addTree(watcher, v.dir)
}

func (v *Vault) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}

		if !d.IsDir() {
			return nil
		}

		if path != v.dir && isHidden(d.Name()) {
			return filepath.SkipDir
		}

		return watcher.Add(path)
	})
}

// shouldIgnore returns true for paths whose changes never affect the
// mirror.
func (v *Vault) shouldIgnore(absPath string) bool {
	rel, err := filepath.Rel(v.dir, absPath)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return true
	}

	rel = filepath.ToSlash(rel)

	for _, seg := range strings.Split(rel, "/") {
		if isHidden(seg) {
			return true
		}
	}

	name := filepath.Base(absPath)

	// Temp files from editors.
	if strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return true
	}

	return IsConfigPath(rel)
}
