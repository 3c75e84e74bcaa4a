package chat

import (
	"context"
	"log"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// PresenceTracker counts users currently marked online and writes this
// client's own flag on lifecycle transitions.
//
// The offline write on teardown is best-effort: it races process exit
// and may be dropped, leaving the flag stale until the next correction.
// A heartbeat with a staleness timeout would give stronger guarantees
// but changes the consistency contract.
type PresenceTracker struct {
	profiles *ProfileRepository
	store    backend.Store
	log      *log.Logger
}

func NewPresenceTracker(profiles *ProfileRepository, store backend.Store, logger *log.Logger) *PresenceTracker {
	return &PresenceTracker{profiles: profiles, store: store, log: logger}
}

// SubscribeCount delivers the live count of online users. The callback
// is re-invoked on every membership change.
func (p *PresenceTracker) SubscribeCount(onChange func(count int)) (*backend.Subscription, error) {
	q := backend.Query{
		Collection: usersCollection,
		Filters:    []backend.Filter{{Field: "online", Value: true}},
	}

	online := make(map[string]struct{})

	return p.store.Subscribe(q, func(changes []backend.Change) {
		for _, c := range changes {
			switch c.Kind {
			case backend.Added, backend.Modified:
				online[c.Doc.ID] = struct{}{}
			case backend.Removed:
				delete(online, c.Doc.ID)
			}
		}
		onChange(len(online))
	})
}

func (p *PresenceTracker) MarkOnline(ctx context.Context, uid string) error {
	return p.profiles.SetOnline(ctx, uid, true)
}

func (p *PresenceTracker) MarkOffline(ctx context.Context, uid string) error {
	return p.profiles.SetOnline(ctx, uid, false)
}
