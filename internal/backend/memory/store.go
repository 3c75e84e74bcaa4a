// Package memory is an in-process implementation of the backend
// boundary. It backs tests and chatd's -dev mode, and provides the
// reference semantics for filtered, ordered, limited change streams.
package memory

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xpresschat/xpress-chat/internal/backend"
)

type Store struct {
	log   *log.Logger
	clock func() time.Time

	mu          sync.Mutex
	collections map[string]map[string]map[string]any
	subs        map[*subscription]struct{}
}

func NewStore(logger *log.Logger) *Store {
	return &Store{
		log:         logger,
		clock:       time.Now,
		collections: make(map[string]map[string]map[string]any),
		subs:        make(map[*subscription]struct{}),
	}
}

// SetClock overrides the store's notion of server time. Test hook.
func (s *Store) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *Store) Get(_ context.Context, collection, id string) (backend.Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	fields, ok := s.collections[collection][id]
	if !ok {
		return backend.Document{}, backend.ErrNotFound
	}

	return backend.Document{ID: id, Fields: copyFields(fields)}, nil
}

func (s *Store) Set(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.putLocked(collection, id, s.normalize(fields))
	return nil
}

func (s *Store) Update(_ context.Context, collection, id string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.collections[collection][id]
	if !ok {
		return backend.ErrNotFound
	}

	merged := copyFields(existing)
	for k, v := range s.normalize(fields) {
		merged[k] = v
	}

	s.putLocked(collection, id, merged)
	return nil
}

func (s *Store) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	s.putLocked(collection, id, s.normalize(fields))
	return id, nil
}

func (s *Store) Subscribe(q backend.Query, fn backend.SnapshotFunc) (*backend.Subscription, error) {
	sub := &subscription{
		query: q,
		queue: backend.NewDeliveryQueue(fn),
	}

	s.mu.Lock()
	snapshot := q.Match(s.collectionDocsLocked(q.Collection))
	sub.prev = backend.Snapshot(snapshot)
	s.subs[sub] = struct{}{}

	if len(snapshot) > 0 {
		initial := make([]backend.Change, len(snapshot))
		for i, d := range snapshot {
			initial[i] = backend.Change{Kind: backend.Added, Doc: d}
		}
		sub.queue.Enqueue(initial)
	}
	s.mu.Unlock()

	return backend.NewSubscription(func() {
		s.mu.Lock()
		delete(s.subs, sub)
		s.mu.Unlock()
		sub.queue.Close()
	}), nil
}

// putLocked stores the document and notifies matching subscriptions.
// Diffs are computed under the store lock, so every subscription
// observes writes in a single global order.
func (s *Store) putLocked(collection, id string, fields map[string]any) {
	coll := s.collections[collection]
	if coll == nil {
		coll = make(map[string]map[string]any)
		s.collections[collection] = coll
	}
	coll[id] = fields

	docs := s.collectionDocsLocked(collection)
	for sub := range s.subs {
		if sub.query.Collection != collection {
			continue
		}
		snapshot := sub.query.Match(docs)
		changes := backend.DiffSnapshot(sub.prev, snapshot)
		if len(changes) == 0 {
			continue
		}
		sub.prev = backend.Snapshot(snapshot)
		sub.queue.Enqueue(changes)
	}
}

func (s *Store) collectionDocsLocked(collection string) []backend.Document {
	coll := s.collections[collection]
	docs := make([]backend.Document, 0, len(coll))
	for id, fields := range coll {
		docs = append(docs, backend.Document{ID: id, Fields: copyFields(fields)})
	}
	return docs
}

// normalize deep-copies fields, resolves the server timestamp sentinel
// against the store clock and canonicalizes values to their JSON
// representation so in-process and remote stores behave identically.
func (s *Store) normalize(fields map[string]any) map[string]any {
	now := s.clock()
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = normalizeValue(v, now)
	}
	return out
}

func normalizeValue(v any, now time.Time) any {
	if backend.IsServerTimestamp(v) {
		return backend.FormatTime(now)
	}
	switch t := v.(type) {
	case time.Time:
		return backend.FormatTime(t)
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = normalizeValue(e, now)
		}
		return m
	case []any:
		l := make([]any, len(t))
		for i, e := range t {
			l[i] = normalizeValue(e, now)
		}
		return l
	default:
		return v
	}
}

func copyFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// subscription pairs a query with its delivery queue. Diffs are
// computed under the store lock so every subscription observes writes
// in one global order; delivery happens off-lock on the queue's
// goroutine.
type subscription struct {
	query backend.Query
	queue *backend.DeliveryQueue

	// prev is the last delivered snapshot, guarded by the store lock.
	prev map[string]backend.Document
}
