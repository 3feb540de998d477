package vault

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alexjbarnes/vault-mirror/internal/models"
	"golang.org/x/text/unicode/norm"
)

// configDir is Obsidian's own metadata directory. It is never mirrored.
const configDir = ".obsidian"

// Vault provides read access to the local vault directory.
type Vault struct {
	dir    string
	logger *slog.Logger

	// onDisk maps normalized paths from the last listing to the name as
	// stored on disk, which may be NFD on some filesystems.
	mu     sync.RWMutex
	onDisk map[string]string
}

// New opens the vault rooted at dir. The directory must exist.
func New(dir string, logger *slog.Logger) (*Vault, error) {
	if dir == "" {
		return nil, fmt.Errorf("vault directory must not be empty")
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolving vault directory: %w", err)
	}

	info, err := os.Stat(absDir)
	if err != nil {
		return nil, fmt.Errorf("opening vault directory %s: %w", absDir, err)
	}

	if !info.IsDir() {
		return nil, fmt.Errorf("vault path %s is not a directory", absDir)
	}

	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	return &Vault{dir: absDir, logger: logger, onDisk: make(map[string]string)}, nil
}

// Dir returns the root directory of the vault.
func (v *Vault) Dir() string {
	return v.dir
}

// ListFiles walks the vault and returns every regular file in lexical
// path order. The .obsidian directory, other hidden entries and symlinks
// are skipped.
func (v *Vault) ListFiles() ([]models.LocalFile, error) {
	var files []models.LocalFile

	onDisk := make(map[string]string)

	err := filepath.WalkDir(v.dir, func(absPath string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		relPath, err := filepath.Rel(v.dir, absPath)
		if err != nil {
			return err
		}

		if relPath == "." {
			return nil
		}

		if isHidden(d.Name()) {
			if d.IsDir() {
				return filepath.SkipDir
			}

			return nil
		}

		// Symlinks could point outside the vault or at special files.
		if d.Type()&os.ModeSymlink != 0 {
			v.logger.Debug("skipping symlink", slog.String("path", relPath))
			return nil
		}

		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			v.logger.Warn("stat failed during listing", slog.String("path", relPath), slog.String("error", err.Error()))
			return nil
		}

		slashPath := filepath.ToSlash(relPath)
		normPath := normalizePath(slashPath)

		if normPath != slashPath {
			onDisk[normPath] = slashPath
		}

		files = append(files, models.LocalFile{
			Path:  normPath,
			MTime: info.ModTime().UnixMilli(),
			Size:  info.Size(),
		})

		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walking vault directory: %w", err)
	}

	v.mu.Lock()
	v.onDisk = onDisk
	v.mu.Unlock()

	return files, nil
}

// ReadContent reads a file by the vault-relative path ListFiles reported.
func (v *Vault) ReadContent(relPath string) ([]byte, error) {
	v.mu.RLock()
	diskPath, ok := v.onDisk[relPath]
	v.mu.RUnlock()

	if !ok {
		diskPath = relPath
	}

	absPath, err := v.resolve(diskPath)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(absPath) //nolint:gosec // G304: absPath validated by Vault.resolve
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", relPath, err)
	}

	return data, nil
}

// IsConfigPath reports whether a vault-relative path lies inside
// Obsidian's metadata directory.
func IsConfigPath(relPath string) bool {
	relPath = normalizePath(relPath)
	return relPath == configDir || strings.HasPrefix(relPath, configDir+"/")
}

func isHidden(name string) bool {
	return strings.HasPrefix(name, ".")
}

// resolve converts a relative path to an absolute path within the vault
// directory, rejecting traversal attempts and symlinks that escape the
// vault.
func (v *Vault) resolve(relPath string) (string, error) {
	if relPath == "" {
		return "", fmt.Errorf("empty path")
	}

	if strings.ContainsRune(relPath, 0) {
		return "", fmt.Errorf("path contains null byte: %q", relPath)
	}

	relPath = strings.ReplaceAll(relPath, "\\", "/")

	for _, seg := range strings.Split(relPath, "/") {
		if seg == ".." {
			return "", fmt.Errorf("path contains ..: %q", relPath)
		}
	}

	absPath := filepath.Join(v.dir, filepath.FromSlash(relPath))
	if !strings.HasPrefix(absPath, v.dir+string(os.PathSeparator)) {
		return "", fmt.Errorf("path traversal blocked: %q resolves outside vault dir", relPath)
	}

	realPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		// Missing files surface from the read itself with a clearer error.
		if os.IsNotExist(err) {
			return absPath, nil
		}

		return "", fmt.Errorf("resolving symlinks for %q: %w", relPath, err)
	}

	realDir, err := filepath.EvalSymlinks(v.dir)
	if err != nil {
		return "", fmt.Errorf("resolving vault dir: %w", err)
	}

	if !strings.HasPrefix(realPath, realDir+string(os.PathSeparator)) {
		return "", fmt.Errorf("symlink traversal blocked: %q resolves to %q outside vault dir", relPath, realPath)
	}

	return absPath, nil
}

// normalizePath normalizes a vault-relative path: forward slashes,
// non-breaking spaces replaced, repeated slashes collapsed, leading and
// trailing slashes trimmed, and Unicode NFC. macOS reports decomposed
// names, Yandex Disk stores composed ones.
func normalizePath(path string) string {
	path = strings.ReplaceAll(path, "\\", "/")
	path = strings.ReplaceAll(path, "\u00A0", " ")
	path = strings.ReplaceAll(path, "\u202F", " ")

	var b strings.Builder

	prevSlash := false

	for _, r := range path {
		if r == '/' {
			if prevSlash {
				continue
			}

			prevSlash = true
		} else {
			prevSlash = false
		}

		b.WriteRune(r)
	}

	path = strings.Trim(b.String(), "/")

	return norm.NFC.String(path)
}
