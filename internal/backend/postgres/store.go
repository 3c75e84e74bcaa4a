// Package postgres backs the document store and account registry with
// PostgreSQL. Documents live as JSONB rows; the change feed rides on
// LISTEN/NOTIFY, with subscriptions re-evaluated per notification.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lib/pq"
	"github.com/teris-io/shortid"
	"github.com/xpresschat/xpress-chat/internal/backend"
)

const notifyChannel = "xpresschat_documents"

const (
	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
)

type Store struct {
	log      *log.Logger
	db       *sql.DB
	listener *pq.Listener
	clock    func() time.Time

	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	query backend.Query
	queue *backend.DeliveryQueue
	prev  map[string]backend.Document
}

func NewStore(dsn string, logger *log.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		return nil, err
	}

	s := &Store{
		log:   logger,
		db:    db,
		clock: time.Now,
		subs:  make(map[*subscription]struct{}),
	}

	s.listener = pq.NewListener(dsn, listenerMinReconnect, listenerMaxReconnect, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Println("pq listener:", err)
		}
	})
	if err := s.listener.Listen(notifyChannel); err != nil {
		db.Close()
		return nil, fmt.Errorf("listen %s: %w", notifyChannel, err)
	}

	go s.dispatchNotifications()

	return s, nil
}

func (s *Store) Close() error {
	if err := s.listener.Close(); err != nil {
		s.log.Println("close listener:", err)
	}
	return s.db.Close()
}

func (s *Store) Get(ctx context.Context, collection, id string) (backend.Document, error) {
	row := s.db.QueryRowContext(ctx,
		"SELECT fields FROM documents WHERE collection = $1 AND id = $2 LIMIT 1",
		collection, id,
	)

	var raw []byte
	if err := row.Scan(&raw); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return backend.Document{}, backend.ErrNotFound
		}
		return backend.Document{}, err
	}

	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return backend.Document{}, fmt.Errorf("decode fields: %w", err)
	}

	return backend.Document{ID: id, Fields: fields}, nil
}

func (s *Store) Set(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(s.resolve(fields))
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	return s.writeAndNotify(ctx, collection, func(tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx,
			"INSERT INTO documents (collection, id, fields, updated_at) VALUES ($1, $2, $3, now()) "+
				"ON CONFLICT (collection, id) DO UPDATE SET fields = EXCLUDED.fields, updated_at = now()",
			collection, id, raw,
		)
		return err
	})
}

func (s *Store) Update(ctx context.Context, collection, id string, fields map[string]any) error {
	raw, err := json.Marshal(s.resolve(fields))
	if err != nil {
		return fmt.Errorf("encode fields: %w", err)
	}

	return s.writeAndNotify(ctx, collection, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx,
			"UPDATE documents SET fields = fields || $3, updated_at = now() "+
				"WHERE collection = $1 AND id = $2",
			collection, id, raw,
		)
		if err != nil {
			return err
		}

		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return backend.ErrNotFound
		}
		return nil
	})
}

func (s *Store) Add(ctx context.Context, collection string, fields map[string]any) (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate id: %w", err)
	}

	if err := s.Set(ctx, collection, id, fields); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Store) Subscribe(q backend.Query, fn backend.SnapshotFunc) (*backend.Subscription, error) {
	docs, err := s.collectionDocs(context.Background(), q.Collection)
	if err != nil {
		return nil, fmt.Errorf("initial snapshot: %w", err)
	}

	sub := &subscription{
		query: q,
		queue: backend.NewDeliveryQueue(fn),
	}

	snapshot := q.Match(docs)
	sub.prev = backend.Snapshot(snapshot)

	s.mu.Lock()
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

// writeAndNotify runs the write in a transaction and raises the change
// notification with it, so listeners never observe the notification
// before the row.
func (s *Store) writeAndNotify(ctx context.Context, collection string, write func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := write(tx); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, "SELECT pg_notify($1, $2)", notifyChannel, collection); err != nil {
		return fmt.Errorf("notify: %w", err)
	}

	return tx.Commit()
}

// dispatchNotifications re-evaluates subscriptions whenever a write to
// their collection is signalled. A nil notification marks a listener
// reconnect, after which every collection is refreshed since events
// may have been missed.
func (s *Store) dispatchNotifications() {
	for n := range s.listener.Notify {
		if n == nil {
			s.refresh("")
			continue
		}
		s.refresh(n.Extra)
	}
}

func (s *Store) refresh(collection string) {
	s.mu.Lock()
	var queries []backend.Query
	for sub := range s.subs {
		if collection == "" || sub.query.Collection == collection {
			queries = append(queries, sub.query)
		}
	}
	s.mu.Unlock()

	if len(queries) == 0 {
		return
	}

	collections := make(map[string][]backend.Document)
	for _, q := range queries {
		if _, done := collections[q.Collection]; done {
			continue
		}
		docs, err := s.collectionDocs(context.Background(), q.Collection)
		if err != nil {
			s.log.Println("refresh collection:", err)
			return
		}
		collections[q.Collection] = docs
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for sub := range s.subs {
		docs, ok := collections[sub.query.Collection]
		if !ok {
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

func (s *Store) collectionDocs(ctx context.Context, collection string) ([]backend.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, fields FROM documents WHERE collection = $1",
		collection,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []backend.Document
	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, err
		}

		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			return nil, fmt.Errorf("decode fields for %s/%s: %w", collection, id, err)
		}
		docs = append(docs, backend.Document{ID: id, Fields: fields})
	}

	return docs, rows.Err()
}

// resolve replaces the server timestamp sentinel with the daemon's
// clock, which is the server clock from the client's point of view.
func (s *Store) resolve(fields map[string]any) map[string]any {
	now := s.clock()
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if backend.IsServerTimestamp(v) {
			out[k] = backend.FormatTime(now)
			continue
		}
		if t, ok := v.(time.Time); ok {
			out[k] = backend.FormatTime(t)
			continue
		}
		out[k] = v
	}
	return out
}
