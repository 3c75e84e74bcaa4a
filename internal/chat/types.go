// Package chat implements the client-side realtime synchronization and
// presence model: session handling, the per-user profile, the message
// feed for the shared room and online-presence tracking, composed by a
// controller with an explicit lifecycle.
package chat

import (
	"fmt"
	"time"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// RoomID is the single fixed room for this version.
const RoomID = "main"

// RoomLabel is the display name of the room.
const RoomLabel = "CORUSCANT_CENTRAL"

const (
	usersCollection    = "users"
	messagesCollection = "messages"
)

// Theme is the persisted per-user side preference.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Valid reports whether t is a known theme.
func (t Theme) Valid() bool {
	return t == ThemeLight || t == ThemeDark
}

// Profile is the per-account user document.
type Profile struct {
	UID         string
	Email       string
	DisplayName string
	Avatar      string
	Theme       Theme
	Online      bool
	LastSeen    time.Time
	CreatedAt   time.Time
}

// Message is one append-only chat message. Sender name and avatar are
// denormalized at send time; a later display-name change does not
// rewrite old messages.
type Message struct {
	ID           string
	Text         string
	SenderID     string
	SenderName   string
	SenderAvatar string
	RoomID       string
	Timestamp    time.Time
}

// DefaultAvatarURI is the deterministic identicon for an account.
func DefaultAvatarURI(uid string) string {
	return fmt.Sprintf("https://api.dicebear.com/7.x/avataaars/svg?seed=%s", uid)
}

func decodeProfile(doc backend.Document) Profile {
	p := Profile{
		UID:         stringField(doc.Fields, "uid"),
		Email:       stringField(doc.Fields, "email"),
		DisplayName: stringField(doc.Fields, "displayName"),
		Avatar:      stringField(doc.Fields, "avatar"),
		Theme:       Theme(stringField(doc.Fields, "theme")),
		Online:      boolField(doc.Fields, "online"),
		LastSeen:    timeField(doc.Fields, "lastSeen"),
		CreatedAt:   timeField(doc.Fields, "createdAt"),
	}
	if p.UID == "" {
		p.UID = doc.ID
	}
	return p
}

func decodeMessage(doc backend.Document) Message {
	return Message{
		ID:           doc.ID,
		Text:         stringField(doc.Fields, "text"),
		SenderID:     stringField(doc.Fields, "senderId"),
		SenderName:   stringField(doc.Fields, "senderName"),
		SenderAvatar: stringField(doc.Fields, "senderAvatar"),
		RoomID:       stringField(doc.Fields, "roomId"),
		Timestamp:    timeField(doc.Fields, "timestamp"),
	}
}

func stringField(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

func boolField(fields map[string]any, key string) bool {
	b, _ := fields[key].(bool)
	return b
}

func timeField(fields map[string]any, key string) time.Time {
	switch v := fields[key].(type) {
	case time.Time:
		return v
	case string:
		t, err := backend.ParseTime(v)
		if err != nil {
			return time.Time{}
		}
		return t
	default:
		return time.Time{}
	}
}
