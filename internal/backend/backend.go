// Package backend defines the boundary to the hosted auth and realtime
// document database. The chat core is written entirely against these
// interfaces, so it cannot tell the in-process store apart from the
// remote service.
package backend

import (
	"context"
	"sync"
	"time"
)

// TimeLayout is the wire format for timestamp fields. Fixed-width UTC so
// lexicographic order on the encoded string matches chronological order.
const TimeLayout = "2006-01-02T15:04:05.000000000Z"

// ChangeKind tags a change record delivered on a subscription.
type ChangeKind int

const (
	Added ChangeKind = iota
	Modified
	Removed
)

func (k ChangeKind) String() string {
	switch k {
	case Added:
		return "added"
	case Modified:
		return "modified"
	case Removed:
		return "removed"
	default:
		return "unknown"
	}
}

// Document is a single record in a collection. Fields hold
// JSON-representable values only; timestamps are TimeLayout strings.
type Document struct {
	ID     string         `json:"id"`
	Fields map[string]any `json:"fields"`
}

// Change is one delta in a subscription snapshot.
type Change struct {
	Kind ChangeKind `json:"kind"`
	Doc  Document   `json:"doc"`
}

// Filter is an equality constraint on a single field.
type Filter struct {
	Field string `json:"field"`
	Value any    `json:"value"`
}

// Query selects documents from a collection. OrderBy sorts ascending by
// the named field. Limit, when positive, bounds the result to the last
// Limit documents in sort order (the most recent window).
type Query struct {
	Collection string   `json:"collection"`
	Filters    []Filter `json:"filters,omitempty"`
	OrderBy    string   `json:"order_by,omitempty"`
	Limit      int      `json:"limit,omitempty"`
}

// SnapshotFunc receives one ordered batch of change records per
// delivery. Batches for a single subscription never interleave.
type SnapshotFunc func(changes []Change)

// Store is the document database surface the chat core consumes.
type Store interface {
	// Get returns a document by id, or ErrNotFound.
	Get(ctx context.Context, collection, id string) (Document, error)
	// Set creates or fully replaces a document.
	Set(ctx context.Context, collection, id string, fields map[string]any) error
	// Update merges the given fields into an existing document without
	// touching unrelated fields. Returns ErrNotFound for absent ids.
	Update(ctx context.Context, collection, id string, fields map[string]any) error
	// Add creates a document with a server-assigned id.
	Add(ctx context.Context, collection string, fields map[string]any) (string, error)
	// Subscribe establishes a live change stream for the query. The
	// initial matching set is delivered as a batch of Added records.
	Subscribe(q Query, fn SnapshotFunc) (*Subscription, error)
}

// ServerTimestamp is a write-time sentinel. Stores resolve it to their
// own clock when the write is applied; a client clock is never trusted.
var ServerTimestamp = serverTimestampSentinel{}

type serverTimestampSentinel struct{}

// IsServerTimestamp reports whether a field value is the sentinel.
func IsServerTimestamp(v any) bool {
	_, ok := v.(serverTimestampSentinel)
	return ok
}

// FormatTime encodes a timestamp field value.
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime decodes a timestamp field value. Falls back to RFC3339
// parsing for values written by other tooling.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339Nano, s)
}

// AuthUser identifies an authenticated account.
type AuthUser struct {
	UID   string `json:"uid"`
	Email string `json:"email"`
}

// AuthStateFunc is invoked on sign-in and sign-out. A nil user means
// signed out.
type AuthStateFunc func(user *AuthUser)

// AuthProvider is the authentication surface the chat core consumes.
type AuthProvider interface {
	// CreateAccount registers a new account and signs it in.
	CreateAccount(ctx context.Context, email, password string) (AuthUser, error)
	// SignIn authenticates an existing account.
	SignIn(ctx context.Context, email, password string) (AuthUser, error)
	// SignOut ends the current session. A no-op when signed out.
	SignOut(ctx context.Context) error
	// CurrentUser returns the signed-in user, or nil.
	CurrentUser(ctx context.Context) (*AuthUser, error)
	// OnAuthStateChange registers a listener for session transitions.
	OnAuthStateChange(fn AuthStateFunc) *Subscription
}

// Subscription is a handle on a live stream. Cancel stops further
// callback invocations; it is idempotent and safe after the backing
// connection is gone. A callback already scheduled at cancellation time
// may still fire once.
type Subscription struct {
	once   sync.Once
	cancel func()
}

// NewSubscription wraps a teardown function in a cancellable handle.
func NewSubscription(cancel func()) *Subscription {
	return &Subscription{cancel: cancel}
}

func (s *Subscription) Cancel() {
	s.once.Do(func() {
		if s.cancel != nil {
			s.cancel()
		}
	})
}
