package store

import (
	"hash/fnv"
	"sort"
	"sync"
	"time"
)

const shardCount = 32

type shard struct {
	mu    sync.RWMutex
	cells map[Key]*Cell
}

// Table maps file keys to cells. Keys are spread over independently locked
// shards. A shard lock is always taken before a cell lock.
type Table struct {
	shards [shardCount]shard
	now    func() time.Time
}

// Option configures a Table.
type Option func(*Table)

// WithClock replaces the wall clock used for change markers.
func WithClock(now func() time.Time) Option {
	return func(t *Table) {
		t.now = now
	}
}

// NewTable creates an empty Table.
func NewTable(opts ...Option) *Table {
	t := &Table{now: time.Now}
	for i := range t.shards {
		t.shards[i].cells = make(map[Key]*Cell)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Now returns the table clock's current time.
func (t *Table) Now() time.Time {
	return t.now()
}

func (t *Table) shardFor(k Key) *shard {
	h := fnv.New32a()
	h.Write([]byte(k.Repo))
	h.Write([]byte{0})
	h.Write([]byte(k.Path))
	return &t.shards[h.Sum32()%shardCount]
}

// Lookup returns the cell for k without creating it.
func (t *Table) Lookup(k Key) (*Cell, bool) {
	s := t.shardFor(k)
	s.mu.RLock()
	c, ok := s.cells[k]
	s.mu.RUnlock()
	return c, ok
}

// Cell returns the cell for k, creating an empty one if needed.
func (t *Table) Cell(k Key) *Cell {
	if c, ok := t.Lookup(k); ok {
		return c
	}

	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()
	if c, ok := s.cells[k]; ok {
		return c
	}
	c := &Cell{}
	s.cells[k] = c
	return c
}

// TryLock grants the lock on k to token, creating the cell if needed. See
// Cell.TryLock.
func (t *Table) TryLock(k Key, token string, stale func(holder string) bool) bool {
	for {
		granted, retired := t.Cell(k).acquire(token, stale)
		if !retired {
			return granted
		}
	}
}

// Release unlocks k if token holds it and reports whether a lock was
// released. A cell left unlocked and never written is dropped.
func (t *Table) Release(k Key, token string) (bool, error) {
	s := t.shardFor(k)
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.cells[k]
	if !ok {
		return false, nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	released, err := c.release(token)
	if err != nil {
		return false, err
	}
	if c.holder == "" && !c.written {
		c.retired = true
		delete(s.cells, k)
	}
	return released, nil
}

// Len returns the number of cells held.
func (t *Table) Len() int {
	n := 0
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		n += len(s.cells)
		s.mu.RUnlock()
	}
	return n
}

// Paths returns the sorted paths of every written file in repo.
func (t *Table) Paths(repo string) []string {
	paths := []string{}
	for i := range t.shards {
		s := &t.shards[i]
		s.mu.RLock()
		for k, c := range s.cells {
			if k.Repo == repo && c.Written() {
				paths = append(paths, k.Path)
			}
		}
		s.mu.RUnlock()
	}
	sort.Strings(paths)
	return paths
}
