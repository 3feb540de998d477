package e2e_test

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/alexjbarnes/vault-mirror/internal/mirror"
	"github.com/alexjbarnes/vault-mirror/internal/notice"
	"github.com/alexjbarnes/vault-mirror/internal/state"
	"github.com/alexjbarnes/vault-mirror/internal/vault"
	"github.com/alexjbarnes/vault-mirror/internal/yandex"
	"github.com/stretchr/testify/require"
)

const (
	testToken  = "y0_AgAAAABe2eTestTokenValue"
	remoteRoot = "ObsidianSync"
)

// remoteFile is one file stored on the fake disk.
type remoteFile struct {
	content  []byte
	modified time.Time
}

// fakeDisk is an in-memory stand-in for the Yandex Disk REST API. Paths
// are stored without the "disk:/" prefix.
type fakeDisk struct {
	t   *testing.T
	srv *httptest.Server

	mu       sync.Mutex
	files    map[string]remoteFile
	folders  map[string]bool
	pending  map[string]string // upload id -> path
	nextID   int
	requests []string

	folderCreates map[string]int
	failUpload    map[string]int // path -> status returned by the PUT
	failListing   bool
}

func newFakeDisk(t *testing.T) *fakeDisk {
	t.Helper()

	d := &fakeDisk{
		t:             t,
		files:         make(map[string]remoteFile),
		folders:       map[string]bool{remoteRoot: true},
		pending:       make(map[string]string),
		folderCreates: make(map[string]int),
		failUpload:    make(map[string]int),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /resources/files", d.authed(d.handleList))
	mux.HandleFunc("PUT /resources", d.authed(d.handleCreateFolder))
	mux.HandleFunc("GET /resources/upload", d.authed(d.handleUploadLink))
	mux.HandleFunc("PUT /upload/{id}", d.handleUpload)

	d.srv = httptest.NewServer(mux)
	t.Cleanup(d.srv.Close)

	return d
}

func (d *fakeDisk) authed(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		d.mu.Lock()
		d.requests = append(d.requests, r.Method+" "+r.URL.Path)
		d.mu.Unlock()

		if r.Header.Get("Authorization") != "OAuth "+testToken {
			writeAPIError(w, http.StatusUnauthorized, "UnauthorizedError")
			return
		}

		next(w, r)
	}
}

func writeAPIError(w http.ResponseWriter, status int, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"error":       code,
		"message":     code,
		"description": code,
	})
}

func (d *fakeDisk) handleList(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.failListing {
		writeAPIError(w, http.StatusServiceUnavailable, "ServiceUnavailable")
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	paths := make([]string, 0, len(d.files))
	for p := range d.files {
		paths = append(paths, p)
	}

	sort.Strings(paths)

	type item struct {
		Path     string `json:"path"`
		Modified string `json:"modified"`
	}

	items := []item{}

	for i := offset; i < len(paths) && i < offset+limit; i++ {
		items = append(items, item{
			Path:     "disk:/" + paths[i],
			Modified: d.files[paths[i]].modified.UTC().Format(time.RFC3339Nano),
		})
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"items":  items,
		"limit":  limit,
		"offset": offset,
	})
}

func (d *fakeDisk) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := r.URL.Query().Get("path")
	d.folderCreates[p]++

	if d.folders[p] {
		writeAPIError(w, http.StatusConflict, "DiskPathPointsToExistentDirectoryError")
		return
	}

	if !d.folders[path.Dir(p)] {
		writeAPIError(w, http.StatusConflict, "DiskPathDoesntExistsError")
		return
	}

	d.folders[p] = true
	w.WriteHeader(http.StatusCreated)
}

func (d *fakeDisk) handleUploadLink(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	defer d.mu.Unlock()

	p := r.URL.Query().Get("path")

	if r.URL.Query().Get("overwrite") != "true" {
		writeAPIError(w, http.StatusBadRequest, "OverwriteRequired")
		return
	}

	if !d.folders[path.Dir(p)] {
		writeAPIError(w, http.StatusConflict, "DiskPathDoesntExistsError")
		return
	}

	d.nextID++
	id := strconv.Itoa(d.nextID)
	d.pending[id] = p

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{
		"href":      fmt.Sprintf("%s/upload/%s?sign=secret", d.srv.URL, id),
		"method":    "PUT",
		"templated": "false",
	})
}

func (d *fakeDisk) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Authorization") != "" {
		d.t.Errorf("upload PUT carried an Authorization header")
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.pending[r.PathValue("id")]
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	delete(d.pending, r.PathValue("id"))

	if status, fail := d.failUpload[p]; fail {
		w.WriteHeader(status)
		return
	}

	d.files[p] = remoteFile{content: body, modified: time.Now()}
	w.WriteHeader(http.StatusCreated)
}

// content returns the stored bytes for a path relative to the remote root.
func (d *fakeDisk) content(rel string) ([]byte, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, ok := d.files[remoteRoot+"/"+rel]

	return f.content, ok
}

// fileCount returns how many files are stored.
func (d *fakeDisk) fileCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.files)
}

// createCount returns how often a folder create was requested for rel.
func (d *fakeDisk) createCount(rel string) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.folderCreates[remoteRoot+"/"+rel]
}

// requestCount returns the number of authenticated API calls made.
func (d *fakeDisk) requestCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.requests)
}

func (d *fakeDisk) setFailUpload(rel string, status int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failUpload[remoteRoot+"/"+rel] = status
}

func (d *fakeDisk) setFailListing(fail bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.failListing = fail
}

// harness holds the full e2e stack: a temp vault, the fake disk, a real
// state database and an orchestrator wired like the CLI wires it.
type harness struct {
	VaultDir string
	Disk     *fakeDisk
	State    *state.State

	vault *vault.Vault
}

// newHarness creates a temp vault with seed files and a fake disk.
func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	h := &harness{VaultDir: dir, Disk: newFakeDisk(t)}

	h.write(t, "readme.md", "# Vault Readme")
	h.write(t, "notes/hello.md", "# Hello\nThis is a test note.")
	h.write(t, "notes/daily/2024-03-01.md", "- standup")
	h.write(t, "attachments/diagram.png", "\x89PNG")
	h.write(t, ".obsidian/workspace.json", "{}")

	v, err := vault.New(dir, nil)
	require.NoError(t, err)
	h.vault = v

	st, err := state.Load(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	h.State = st

	return h
}

// write creates a vault file with an mtime a minute in the past so the
// fake disk's upload time is always later.
func (h *harness) write(t *testing.T, rel, content string) {
	t.Helper()

	abs := filepath.Join(h.VaultDir, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(abs), 0o755))
	require.NoError(t, os.WriteFile(abs, []byte(content), 0o644))

	past := time.Now().Add(-time.Minute)
	require.NoError(t, os.Chtimes(abs, past, past))
}

// touch moves a file's mtime into the future.
func (h *harness) touch(t *testing.T, rel string) {
	t.Helper()

	future := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(filepath.Join(h.VaultDir, filepath.FromSlash(rel)), future, future))
}

type options struct {
	noToken     bool
	pageSize    int
	concurrency int
	abortOnList bool
}

func (h *harness) orchestrator(opts options) *mirror.Orchestrator {
	token := testToken
	if opts.noToken {
		token = ""
	}

	if opts.pageSize == 0 {
		opts.pageSize = 1000
	}

	logger := slog.New(slog.DiscardHandler)

	client := yandex.NewClient(token, nil,
		yandex.WithBaseURL(h.Disk.srv.URL),
		yandex.WithPageSize(opts.pageSize),
		yandex.WithRequestTimeout(5*time.Second),
	)

	return mirror.NewOrchestrator(mirror.Config{
		Token:            token,
		RemoteRoot:       remoteRoot,
		Concurrency:      opts.concurrency,
		DismissAfter:     time.Millisecond,
		AbortOnListError: opts.abortOnList,
		Remote:           client,
		Vault:            h.vault,
		Sink:             notice.NewLogger(logger),
		History:          h.State,
	}, logger)
}
