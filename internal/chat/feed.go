package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// recentMessageWindow bounds the initial load to the most recent
// messages in the room.
const recentMessageWindow = 100

// ErrEmptyMessage is returned for empty or whitespace-only text,
// before any remote call is made.
var ErrEmptyMessage = errors.New("message text is empty")

// MessageFeed is the live, ordered stream of messages for one room.
type MessageFeed struct {
	store backend.Store
	log   *log.Logger
}

func NewMessageFeed(store backend.Store, logger *log.Logger) *MessageFeed {
	return &MessageFeed{store: store, log: logger}
}

// Subscribe opens a server-pushed stream of messages for the room,
// ordered by server timestamp ascending and bounded to the most recent
// window on initial load. Only Added records invoke onAdded; edits and
// deletions are out of scope here and ignored.
func (f *MessageFeed) Subscribe(roomID string, onAdded func(Message)) (*backend.Subscription, error) {
	q := backend.Query{
		Collection: messagesCollection,
		Filters:    []backend.Filter{{Field: "roomId", Value: roomID}},
		OrderBy:    "timestamp",
		Limit:      recentMessageWindow,
	}

	return f.store.Subscribe(q, func(changes []backend.Change) {
		for _, c := range changes {
			if c.Kind != backend.Added {
				continue
			}
			onAdded(decodeMessage(c.Doc))
		}
	})
}

// Send appends one message to the room. The timestamp is assigned by
// the server at write time; sender name and avatar are denormalized
// onto the message.
func (f *MessageFeed) Send(ctx context.Context, roomID, senderID, senderName, senderAvatar, text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}

	fields := map[string]any{
		"text":         text,
		"senderId":     senderID,
		"senderName":   senderName,
		"senderAvatar": senderAvatar,
		"roomId":       roomID,
		"timestamp":    backend.ServerTimestamp,
	}

	if _, err := f.store.Add(ctx, messagesCollection, fields); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}
