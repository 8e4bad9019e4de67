// Package store implements the per-domain stores of the sync layer.
// Each store holds a normalized in-memory collection, applies optimistic
// local mutations, and reconciles them against REST responses and
// push-channel events.
package store

import (
	"sync"

	"github.com/hearthhub/hearthhub/internal/domain"
)

// Change is one mutation of a collection. Every mutation, local or
// remote in origin, is expressed as a Change and applied in a single
// synchronous reducer step, so no two mutations interleave.
type Change[T domain.Entity] interface {
	apply(c *collectionState[T])
}

// collectionState is the data guarded by the collection mutex.
type collectionState[T domain.Entity] struct {
	entities map[string]T
	// pending maps a correlation token to the temporary id of the
	// optimistic entry it belongs to.
	pending map[string]string
}

// Collection is an id-keyed set of entity snapshots plus the in-flight
// optimistic entries layered on top.
type Collection[T domain.Entity] struct {
	mu    sync.Mutex
	state collectionState[T]
}

// NewCollection creates an empty collection.
func NewCollection[T domain.Entity]() *Collection[T] {
	return &Collection[T]{
		state: collectionState[T]{
			entities: make(map[string]T),
			pending:  make(map[string]string),
		},
	}
}

// Apply runs one change against the collection.
func (c *Collection[T]) Apply(ch Change[T]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch.apply(&c.state)
}

// Get returns the entity under id.
func (c *Collection[T]) Get(id string) (T, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.state.entities[id]
	return e, ok
}

// Snapshot returns a copy of every entity. Order is unspecified;
// selectors re-sort.
func (c *Collection[T]) Snapshot() []T {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]T, 0, len(c.state.entities))
	for _, e := range c.state.entities {
		out = append(out, e)
	}
	return out
}

// Len returns the number of entities, optimistic entries included.
func (c *Collection[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.entities)
}

// PendingCount returns the number of unresolved optimistic entries.
func (c *Collection[T]) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.pending)
}

// IsPending reports whether id belongs to an unresolved optimistic entry.
func (c *Collection[T]) IsPending(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, tempID := range c.state.pending {
		if tempID == id {
			return true
		}
	}
	return false
}

// =============================================================================
// Changes
// =============================================================================

type insertOptimistic[T domain.Entity] struct{ entity T }

func (ch insertOptimistic[T]) apply(s *collectionState[T]) {
	s.entities[ch.entity.GetID()] = ch.entity
	if ref := ch.entity.GetClientRef(); ref != "" {
		s.pending[ref] = ch.entity.GetID()
	}
}

// InsertOptimistic inserts a speculative entity carrying a temporary id
// and a correlation token.
func InsertOptimistic[T domain.Entity](entity T) Change[T] {
	return insertOptimistic[T]{entity: entity}
}

type reconcile[T domain.Entity] struct {
	clientRef string
	entity    T
}

func (ch reconcile[T]) apply(s *collectionState[T]) {
	if tempID, ok := s.pending[ch.clientRef]; ok {
		delete(s.entities, tempID)
		delete(s.pending, ch.clientRef)
	}
	s.entities[ch.entity.GetID()] = ch.entity
}

// Reconcile atomically replaces the optimistic entry matching clientRef
// with the server-confirmed entity; selectors never observe both or
// neither.
func Reconcile[T domain.Entity](clientRef string, entity T) Change[T] {
	return reconcile[T]{clientRef: clientRef, entity: entity}
}

type rollback[T domain.Entity] struct{ clientRef string }

func (ch rollback[T]) apply(s *collectionState[T]) {
	if tempID, ok := s.pending[ch.clientRef]; ok {
		delete(s.entities, tempID)
		delete(s.pending, ch.clientRef)
	}
}

// Rollback removes the optimistic entry matching clientRef, restoring
// the collection to its pre-command state.
func Rollback[T domain.Entity](clientRef string) Change[T] {
	return rollback[T]{clientRef: clientRef}
}

type upsert[T domain.Entity] struct{ entity T }

func (ch upsert[T]) apply(s *collectionState[T]) {
	s.entities[ch.entity.GetID()] = ch.entity
}

// Upsert replaces the stored snapshot outright (last-write-wins).
func Upsert[T domain.Entity](entity T) Change[T] {
	return upsert[T]{entity: entity}
}

type remove[T domain.Entity] struct{ id string }

func (ch remove[T]) apply(s *collectionState[T]) {
	delete(s.entities, ch.id)
	for ref, tempID := range s.pending {
		if tempID == ch.id {
			delete(s.pending, ref)
		}
	}
}

// Remove deletes the entity under id.
func Remove[T domain.Entity](id string) Change[T] {
	return remove[T]{id: id}
}

type remoteInsert[T domain.Entity] struct{ entity T }

func (ch remoteInsert[T]) apply(s *collectionState[T]) {
	id := ch.entity.GetID()
	if _, exists := s.entities[id]; exists {
		// Duplicate delivery.
		return
	}
	if ref := ch.entity.GetClientRef(); ref != "" {
		if _, mine := s.pending[ref]; mine {
			// Our own optimistic creation echoed back before the REST
			// response reconciled it; the reconcile will land it.
			return
		}
	}
	s.entities[id] = ch.entity
}

// RemoteInsert applies an external-origin INSERT. Duplicate deliveries
// and echoes of this client's own pending creations (matched by
// correlation token) are ignored.
func RemoteInsert[T domain.Entity](entity T) Change[T] {
	return remoteInsert[T]{entity: entity}
}

type replaceAll[T domain.Entity] struct{ entities []T }

func (ch replaceAll[T]) apply(s *collectionState[T]) {
	s.entities = make(map[string]T, len(ch.entities))
	s.pending = make(map[string]string)
	for _, e := range ch.entities {
		s.entities[e.GetID()] = e
	}
}

// ReplaceAll discards the collection and installs a fresh server page.
func ReplaceAll[T domain.Entity](entities []T) Change[T] {
	return replaceAll[T]{entities: entities}
}

type mergePage[T domain.Entity] struct{ entities []T }

func (ch mergePage[T]) apply(s *collectionState[T]) {
	for _, e := range ch.entities {
		id := e.GetID()
		if _, exists := s.entities[id]; exists {
			// The page snapshot may predate a channel-delivered update;
			// the stored entity wins.
			continue
		}
		s.entities[id] = e
	}
}

// MergePage adds a further page of server results. Ids already present
// keep their current snapshot.
func MergePage[T domain.Entity](entities []T) Change[T] {
	return mergePage[T]{entities: entities}
}
