package mirror

import (
	"context"
	"sync"
)

// DirCache is the set of remote directories already created during the
// current run.
type DirCache struct {
	mu      sync.Mutex
	known   map[string]struct{}
	pending map[string]chan struct{}
}

// NewDirCache returns an empty cache.
func NewDirCache() *DirCache {
	return &DirCache{
		known:   make(map[string]struct{}),
		pending: make(map[string]chan struct{}),
	}
}

// Has reports whether path is known to exist.
func (c *DirCache) Has(path string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.known[path]

	return ok
}

// Add marks path as existing.
func (c *DirCache) Add(path string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.known[path] = struct{}{}
}

// Clear forgets every known directory.
func (c *DirCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	clear(c.known)
}

// Len returns the number of known directories.
func (c *DirCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return len(c.known)
}

// Ensure calls create for path unless the path is already known, then
// marks it known whatever create returned. Concurrent callers for the
// same path wait for the first one, so create runs at most once per
// path. Only the caller that ran create sees its error.
func (c *DirCache) Ensure(ctx context.Context, path string, create func(context.Context, string) error) error {
	for {
		c.mu.Lock()

		if _, ok := c.known[path]; ok {
			c.mu.Unlock()
			return nil
		}

		if wait, ok := c.pending[path]; ok {
			c.mu.Unlock()

			select {
			case <-wait:
				continue
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		done := make(chan struct{})
		c.pending[path] = done
		c.mu.Unlock()

		err := create(ctx, path)

		c.mu.Lock()
		c.known[path] = struct{}{}
		delete(c.pending, path)
		close(done)
		c.mu.Unlock()

		return err
	}
}
