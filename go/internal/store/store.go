// Package store holds the authoritative copies of the auction documents: a
// process-wide cache in front of durable Postgres persistence.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/rs/zerolog/log"
)

// Kind identifies one of the singleton documents.
type Kind string

const (
	KindAuction Kind = "auction"
	KindTeams   Kind = "teams"
)

// Kinds lists every document kind the store manages.
var Kinds = []Kind{KindAuction, KindTeams}

// Repository is the durable persistence adapter behind the store.
type Repository interface {
	GetDocument(ctx context.Context, kind Kind) (json.RawMessage, error)
	PutDocument(ctx context.Context, kind Kind, doc json.RawMessage) error
}

// Store serializes writers per document kind and keeps the cache in step
// with persistence: a Put is durable before it returns, and a Get issued
// after a successful Put always sees that value within the process.
//
// Puts are full-document replaces with last-write-wins semantics; there is
// no version check and no partial merge.
type Store struct {
	repo Repository

	mu    map[Kind]*sync.Mutex
	cache sync.Map // Kind -> json.RawMessage
}

// New creates a Store backed by repo. A nil repo puts the store into an
// explicit degraded cache-only mode (documents do not survive a restart).
func New(repo Repository) *Store {
	if repo == nil {
		log.Warn().Msg("no persistence configured; store running in degraded in-memory mode")
	}
	mu := make(map[Kind]*sync.Mutex, len(Kinds))
	for _, kind := range Kinds {
		mu[kind] = &sync.Mutex{}
	}
	return &Store{repo: repo, mu: mu}
}

// Get returns the current snapshot for kind, or nil when no document has
// been written yet.
func (s *Store) Get(ctx context.Context, kind Kind) (json.RawMessage, error) {
	if doc, ok := s.cache.Load(kind); ok {
		return doc.(json.RawMessage), nil
	}
	if s.repo == nil {
		return nil, nil
	}

	// Cold cache: load under the writer lock so a concurrent Put cannot be
	// overwritten by a stale read.
	lock := s.lock(kind)
	lock.Lock()
	defer lock.Unlock()

	if doc, ok := s.cache.Load(kind); ok {
		return doc.(json.RawMessage), nil
	}
	doc, err := s.repo.GetDocument(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("load %s document: %w", kind, err)
	}
	if doc != nil {
		s.cache.Store(kind, doc)
	}
	return doc, nil
}

// Put durably replaces the document for kind and updates the cache. Writers
// on the same kind queue behind each other; writers on different kinds do
// not block one another.
func (s *Store) Put(ctx context.Context, kind Kind, doc json.RawMessage) error {
	lock := s.lock(kind)
	lock.Lock()
	defer lock.Unlock()

	if s.repo != nil {
		if err := s.repo.PutDocument(ctx, kind, doc); err != nil {
			return fmt.Errorf("persist %s document: %w", kind, err)
		}
	}
	s.cache.Store(kind, doc)
	return nil
}

// Refresh reloads kind from persistence into the cache, bypassing the cached
// value. Used when another process signalled a write (LISTEN/NOTIFY).
func (s *Store) Refresh(ctx context.Context, kind Kind) (json.RawMessage, error) {
	if s.repo == nil {
		return nil, nil
	}
	lock := s.lock(kind)
	lock.Lock()
	defer lock.Unlock()

	doc, err := s.repo.GetDocument(ctx, kind)
	if err != nil {
		return nil, fmt.Errorf("refresh %s document: %w", kind, err)
	}
	if doc != nil {
		s.cache.Store(kind, doc)
	}
	return doc, nil
}

// Persistent reports whether the store has a durable backend.
func (s *Store) Persistent() bool {
	return s.repo != nil
}

func (s *Store) lock(kind Kind) *sync.Mutex {
	if lock, ok := s.mu[kind]; ok {
		return lock
	}
	// Unknown kinds share one lock; they only occur through programmer error.
	return s.mu[KindAuction]
}

// KindFromString maps a wire/database string onto a Kind.
func KindFromString(s string) (Kind, bool) {
	switch Kind(s) {
	case KindAuction:
		return KindAuction, true
	case KindTeams:
		return KindTeams, true
	default:
		return "", false
	}
}
