package yandex

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	apperrors "github.com/alexjbarnes/vault-mirror/internal/errors"
	"github.com/tidwall/gjson"
)

const baseURL = "https://cloud-api.yandex.net/v1/disk"

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// defaultRequestTimeout bounds each API call when no timeout option
	// is given.
	defaultRequestTimeout = 60 * time.Second

	// defaultPageSize is the number of entries requested per listing page.
	defaultPageSize = 1000

	// maxAPIResponseBytes caps response body reads. A listing page of
	// 1000 entries with full metadata stays well below this.
	maxAPIResponseBytes = 32 * 1024 * 1024

	// maxListPages stops pagination against a server that never returns
	// a short page.
	maxListPages = 10_000

	uploadContentType = "application/octet-stream"
)

// Client talks to the Yandex Disk REST API.
type Client struct {
	httpClient     *http.Client
	baseURL        string
	token          string
	requestTimeout time.Duration
	pageSize       int
}

// Option configures a Client.
type Option func(*Client)

// WithRequestTimeout bounds every request made by the client.
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithPageSize sets how many entries ListFiles requests per page.
func WithPageSize(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pageSize = n
		}
	}
}

// WithBaseURL points the client at a different API root. Used by tests.
func WithBaseURL(u string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(u, "/")
	}
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host, so the OAuth header never reaches
// a third-party domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client authenticating with the given OAuth
// token. If httpClient is nil, a client with a same-host redirect policy
// is created. Timeouts are applied per request via context.
func NewClient(token string, httpClient *http.Client, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	c := &Client{
		httpClient:     httpClient,
		baseURL:        baseURL,
		token:          token,
		requestTimeout: defaultRequestTimeout,
		pageSize:       defaultPageSize,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// response is a fully read HTTP response.
type response struct {
	status int
	body   []byte
}

// do sends a request with the per-request timeout applied and reads the
// whole (capped) body. Network failures come back as TransientError.
func (c *Client) do(ctx context.Context, method, rawURL string, body []byte, header http.Header) (*response, error) {
	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	defer cancel()

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}

	if body != nil {
		req.ContentLength = int64(len(body))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &apperrors.TransientError{Err: fmt.Errorf("%w: %s %s: %w", apperrors.ErrAPIRequest, method, redactURL(rawURL), err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, &apperrors.TransientError{Err: fmt.Errorf("reading response from %s: %w", redactURL(rawURL), err)}
	}

	return &response{status: resp.StatusCode, body: respBody}, nil
}

// api sends an authenticated request to an API endpoint.
func (c *Client) api(ctx context.Context, method, endpoint string, query url.Values) (*response, error) {
	rawURL := c.baseURL + endpoint
	if len(query) > 0 {
		rawURL += "?" + query.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "OAuth "+c.token)
	header.Set("Accept", "application/json")

	return c.do(ctx, method, rawURL, nil, header)
}

// statusError builds an error for an unexpected status code. Yandex
// returns {"message","description","error"} bodies on failures.
func statusError(endpoint string, resp *response) error {
	var err error

	msg := gjson.GetBytes(resp.body, "message").String()
	if msg == "" {
		msg = gjson.GetBytes(resp.body, "description").String()
	}

	if msg != "" {
		err = fmt.Errorf("%w: %s (%d): %s", apperrors.ErrAPIResponse, endpoint, resp.status, sanitizeResponseBody([]byte(msg)))
	} else {
		err = fmt.Errorf("%w: %s returned status %d: %s", apperrors.ErrAPIResponse, endpoint, resp.status, sanitizeResponseBody(resp.body))
	}

	if isTransientStatus(resp.status) {
		return &apperrors.TransientError{Err: err}
	}

	return err
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		http.StatusInsufficientStorage:
		return true
	}

	return false
}

// redactURL drops the query string, which for upload hrefs carries a
// signed session.
func redactURL(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}

	return rawURL
}

// ListFiles returns every file under root keyed by its path relative to
// root, with the remote modification time. Pages of pageSize entries are
// requested until a short page comes back.
func (c *Client) ListFiles(ctx context.Context, root string) (map[string]time.Time, error) {
	result := make(map[string]time.Time)
	prefix := root + "/"

	for page := 0; page < maxListPages; page++ {
		query := url.Values{}
		query.Set("limit", strconv.Itoa(c.pageSize))
		query.Set("offset", strconv.Itoa(page*c.pageSize))
		query.Set("fields", "items.path,items.modified,limit,offset")

		resp, err := c.api(ctx, http.MethodGet, "/resources/files", query)
		if err != nil {
			return nil, fmt.Errorf("listing files: %w", err)
		}

		if resp.status != http.StatusOK {
			return nil, fmt.Errorf("listing files: %w", statusError("/resources/files", resp))
		}

		items := gjson.GetBytes(resp.body, "items")
		if !items.IsArray() {
			return nil, fmt.Errorf("listing files: %w: missing items array", apperrors.ErrAPIResponse)
		}

		count := 0

		items.ForEach(func(_, item gjson.Result) bool {
			count++

			rel, ok := relativePath(item.Get("path").String(), prefix)
			if !ok {
				return true
			}

			modified, err := time.Parse(time.RFC3339, item.Get("modified").String())
			if err != nil {
				return true
			}

			result[rel] = modified

			return true
		})

		if count < c.pageSize {
			return result, nil
		}
	}

	return result, nil
}

// relativePath strips everything up to and including the first
// occurrence of prefix ("<root>/") from an absolute remote path such as
// "disk:/ObsidianSync/notes/a.md".
func relativePath(remotePath, prefix string) (string, bool) {
	idx := strings.Index(remotePath, prefix)
	if idx < 0 {
		return "", false
	}

	rel := remotePath[idx+len(prefix):]
	if rel == "" {
		return "", false
	}

	return rel, true
}

// CreateFolder creates a single remote directory. The parent must
// already exist. An "already exists" conflict counts as success.
func (c *Client) CreateFolder(ctx context.Context, path string) error {
	resp, err := c.api(ctx, http.MethodPut, "/resources", url.Values{"path": {path}})
	if err != nil {
		return fmt.Errorf("creating folder %s: %w", path, err)
	}

	switch resp.status {
	case http.StatusCreated, http.StatusConflict:
		return nil
	}

	return fmt.Errorf("creating folder %s: %w", path, statusError("/resources", resp))
}

// Upload writes content to targetPath, overwriting any existing file. It
// first requests an upload URL, then PUTs the bytes to it. Reports true
// only when the upload endpoint answers 201 Created.
func (c *Client) Upload(ctx context.Context, targetPath string, content []byte) (bool, error) {
	query := url.Values{}
	query.Set("path", targetPath)
	query.Set("overwrite", "true")

	resp, err := c.api(ctx, http.MethodGet, "/resources/upload", query)
	if err != nil {
		return false, fmt.Errorf("requesting upload link for %s: %w", targetPath, err)
	}

	if resp.status != http.StatusOK {
		return false, fmt.Errorf("requesting upload link for %s: %w", targetPath, statusError("/resources/upload", resp))
	}

	href := gjson.GetBytes(resp.body, "href").String()
	if href == "" {
		return false, fmt.Errorf("requesting upload link for %s: %w: response has no href", targetPath, apperrors.ErrAPIResponse)
	}

	method := gjson.GetBytes(resp.body, "method").String()
	if method == "" {
		method = http.MethodPut
	}

	header := http.Header{}
	header.Set("Content-Type", uploadContentType)

	if content == nil {
		content = []byte{}
	}

	putResp, err := c.do(ctx, method, href, content, header)
	if err != nil {
		return false, fmt.Errorf("uploading %s: %w", targetPath, err)
	}

	if putResp.status >= http.StatusBadRequest {
		return false, fmt.Errorf("uploading %s: %w", targetPath, statusError("upload", putResp))
	}

	return putResp.status == http.StatusCreated, nil
}
