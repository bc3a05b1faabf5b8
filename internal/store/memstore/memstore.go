// Package memstore provides in-memory implementations of the store
// interfaces. It backs unit tests and single-process runs.
package memstore

import (
	"context"
	"maps"
	"sync"

	"github.com/google/uuid"
	"github.com/phrazzld/questgen/internal/domain"
	"github.com/phrazzld/questgen/internal/store"
)

type state struct {
	docs       map[uuid.UUID]domain.Document
	chunks     map[uuid.UUID]domain.Chunk
	docChunks  map[uuid.UUID][]uuid.UUID
	plans      map[uuid.UUID]domain.Plan
	jobs       map[uuid.UUID]domain.Job
	tasks      map[uuid.UUID]domain.Task
	questions  map[uuid.UUID]domain.QuestionItem
	byTask     map[uuid.UUID]uuid.UUID
	events     []domain.ProgressEvent
	lastSeqNum int64
}

func newState() *state {
	return &state{
		docs:      make(map[uuid.UUID]domain.Document),
		chunks:    make(map[uuid.UUID]domain.Chunk),
		docChunks: make(map[uuid.UUID][]uuid.UUID),
		plans:     make(map[uuid.UUID]domain.Plan),
		jobs:      make(map[uuid.UUID]domain.Job),
		tasks:     make(map[uuid.UUID]domain.Task),
		questions: make(map[uuid.UUID]domain.QuestionItem),
		byTask:    make(map[uuid.UUID]uuid.UUID),
	}
}

// clone copies the maps. Stored values are never mutated in place, so
// sharing them between copies is safe.
func (s *state) clone() *state {
	return &state{
		docs:       maps.Clone(s.docs),
		chunks:     maps.Clone(s.chunks),
		docChunks:  maps.Clone(s.docChunks),
		plans:      maps.Clone(s.plans),
		jobs:       maps.Clone(s.jobs),
		tasks:      maps.Clone(s.tasks),
		questions:  maps.Clone(s.questions),
		byTask:     maps.Clone(s.byTask),
		events:     append([]domain.ProgressEvent(nil), s.events...),
		lastSeqNum: s.lastSeqNum,
	}
}

type op func(*state) error

// backend is what the individual stores read from and write to: either the
// shared DB or a transaction overlay.
type backend interface {
	read(fn func(*state))
	write(fn op) error
}

// DB is an in-memory database holding every entity.
type DB struct {
	mu sync.RWMutex
	st *state
}

// New creates an empty DB.
func New() *DB {
	return &DB{st: newState()}
}

func (db *DB) read(fn func(*state)) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	fn(db.st)
}

func (db *DB) write(fn op) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return fn(db.st)
}

// Stores returns stores bound directly to db.
func (db *DB) Stores() store.Stores {
	return storesFor(db)
}

// WithinTx implements store.TxManager. fn works on a private snapshot; on
// success its writes are replayed against the live state atomically, and
// the whole transaction fails if any replayed write no longer applies.
func (db *DB) WithinTx(ctx context.Context, fn func(ctx context.Context, tx store.Stores) error) error {
	db.mu.RLock()
	tx := &txBackend{st: db.st.clone()}
	db.mu.RUnlock()

	if err := fn(ctx, storesFor(tx)); err != nil {
		return err
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	next := db.st.clone()
	for _, o := range tx.ops {
		if err := o(next); err != nil {
			return err
		}
	}
	db.st = next
	return nil
}

var _ store.TxManager = (*DB)(nil)

type txBackend struct {
	mu  sync.Mutex
	st  *state
	ops []op
}

func (t *txBackend) read(fn func(*state)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t.st)
}

func (t *txBackend) write(fn op) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if err := fn(t.st); err != nil {
		return err
	}
	t.ops = append(t.ops, fn)
	return nil
}

func storesFor(b backend) store.Stores {
	return store.Stores{
		Documents: &DocumentStore{b: b},
		Chunks:    &ChunkStore{b: b},
		Plans:     &PlanStore{b: b},
		Jobs:      &JobStore{b: b},
		Tasks:     &TaskStore{b: b},
		Questions: &QuestionStore{b: b},
		Events:    &EventStore{b: b},
	}
}
