package vectors

import (
	"sync"
	"sync/atomic"
	"time"
)

// Store provides thread-safe access to the current Table.
//
// Reads are a single atomic load and never block. Writers are serialized by
// mu so generation ids stay strictly increasing.
type Store struct {
	table atomic.Pointer[Table]

	mu         sync.Mutex // serializes Replace
	generation uint64     // last generation handed out, guarded by mu
}

// NewStore creates a new empty Store.
func NewStore() *Store {
	return &Store{}
}

// Current returns the installed table, or nil if none has been installed.
// The returned table never changes, even if a Replace happens afterwards.
func (s *Store) Current() *Table {
	return s.table.Load()
}

// Replace builds a new generation from p and installs it.
//
// When p carries the same non-empty token as the installed table nothing is
// rebuilt; the current table is returned with replaced=false. An invalid
// payload (no vectors, duplicate epochs) is an InvalidTable error and leaves
// the installed table untouched.
func (s *Store) Replace(p Payload) (table *Table, replaced bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur := s.table.Load()
	if len(p.Vectors) == 0 {
		return cur, false, Errorf(KindInvalidTable, "replace", "payload has no state vectors")
	}
	if cur != nil && p.Token != "" && cur.token == p.Token {
		return cur, false, nil
	}

	next, err := newTable(s.generation+1, p)
	if err != nil {
		return cur, false, err
	}
	s.generation = next.generation
	s.table.Store(next)
	return next, true, nil
}

// Token returns the installed table's token, or "" when the store is empty.
func (s *Store) Token() FreshnessToken {
	if t := s.table.Load(); t != nil {
		return t.token
	}
	return ""
}

// AgeSeconds returns the age of the installed table in seconds.
// Returns -1 if no table is installed.
func (s *Store) AgeSeconds() float64 {
	t := s.table.Load()
	if t == nil {
		return -1
	}
	return time.Since(t.fetchedAt).Seconds()
}
