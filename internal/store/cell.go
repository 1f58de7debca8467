// Package store holds per-file state: the lock holder, the content and the
// change marker of every (repository, path) key, each under its own mutex.
package store

import (
	"strings"
	"sync"
	"time"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// Key identifies one file inside one repository.
type Key struct {
	Repo string
	Path string
}

// NewKey validates repo and path and returns the corresponding Key.
func NewKey(repo, path string) (Key, error) {
	path = strings.TrimPrefix(path, "/")
	if repo == "" || path == "" {
		return Key{}, model.ErrInvalidName
	}
	return Key{Repo: repo, Path: path}, nil
}

func (k Key) String() string {
	return k.Repo + "/" + k.Path
}

// Cell is the unit of mutual exclusion for one file. The lock holder and
// the (content, marker) pair are always read and updated together.
type Cell struct {
	mu      sync.RWMutex
	holder  string
	content string
	marker  int64
	written bool
	// retired cells were dropped from their table and grant no locks.
	retired bool
}

// TryLock grants the lock to token if the cell is unlocked. A held lock is
// never granted again, not even to its holder. If stale reports the current
// holder as gone, the lock is taken over.
func (c *Cell) TryLock(token string, stale func(holder string) bool) bool {
	granted, _ := c.acquire(token, stale)
	return granted
}

func (c *Cell) acquire(token string, stale func(holder string) bool) (granted, retired bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.retired {
		return false, true
	}
	if c.holder != "" {
		if stale == nil || !stale(c.holder) {
			return false, false
		}
	}
	c.holder = token
	return true, false
}

// Holder returns the token currently holding the lock, or "".
func (c *Cell) Holder() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.holder
}

// Release unlocks the cell if token holds it and reports whether a lock was
// actually released. Releasing an unlocked cell succeeds.
func (c *Cell) Release(token string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(token)
}

func (c *Cell) release(token string) (bool, error) {
	switch c.holder {
	case "":
		return false, nil
	case token:
		c.holder = ""
		return true, nil
	default:
		return false, model.ErrNotLockHolder
	}
}

// Write replaces the content if token holds the lock and returns the new
// change marker.
func (c *Cell) Write(token, content string, now time.Time) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.holder == "" || c.holder != token {
		return 0, model.ErrLockRequired
	}
	c.content = content
	c.marker = NextMarker(c.marker, now)
	c.written = true
	return c.marker, nil
}

// Snapshot returns the content and marker as one consistent pair.
func (c *Cell) Snapshot() (string, int64) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.content, c.marker
}

// Written reports whether the file has ever been written.
func (c *Cell) Written() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.written
}

// NextMarker returns the marker following prev: the current time in
// milliseconds, or prev+1 if the clock has not moved past prev.
func NextMarker(prev int64, now time.Time) int64 {
	ms := now.UnixMilli()
	if ms <= prev {
		return prev + 1
	}
	return ms
}
