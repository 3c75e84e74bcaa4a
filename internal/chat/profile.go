package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// ProfileRepository reads and writes the per-user profile document.
// All writes are partial-field updates.
type ProfileRepository struct {
	store backend.Store
	log   *log.Logger
}

func NewProfileRepository(store backend.Store, logger *log.Logger) *ProfileRepository {
	return &ProfileRepository{store: store, log: logger}
}

// EnsureProfile returns the profile for uid, creating a default one if
// absent. Concurrent double-creation is tolerated: last writer wins.
func (r *ProfileRepository) EnsureProfile(ctx context.Context, uid, email string) (Profile, error) {
	doc, err := r.store.Get(ctx, usersCollection, uid)
	if err == nil {
		return decodeProfile(doc), nil
	}
	if !errors.Is(err, backend.ErrNotFound) {
		return Profile{}, fmt.Errorf("get profile: %w", err)
	}

	p := Profile{
		UID:         uid,
		Email:       email,
		DisplayName: displayNameFromEmail(email),
		Avatar:      DefaultAvatarURI(uid),
		Theme:       ThemeLight,
	}

	fields := map[string]any{
		"uid":         p.UID,
		"email":       p.Email,
		"displayName": p.DisplayName,
		"avatar":      p.Avatar,
		"theme":       string(p.Theme),
		"online":      false,
		"createdAt":   backend.ServerTimestamp,
	}
	if err := r.store.Set(ctx, usersCollection, uid, fields); err != nil {
		return Profile{}, fmt.Errorf("create profile: %w", err)
	}

	return p, nil
}

// SetOnline updates the online flag and last-seen timestamp. Last seen
// is always server time.
func (r *ProfileRepository) SetOnline(ctx context.Context, uid string, online bool) error {
	return r.store.Update(ctx, usersCollection, uid, map[string]any{
		"online":   online,
		"lastSeen": backend.ServerTimestamp,
	})
}

// SetTheme persists the theme field only.
func (r *ProfileRepository) SetTheme(ctx context.Context, uid string, theme Theme) error {
	if !theme.Valid() {
		return fmt.Errorf("unknown theme %q", theme)
	}
	return r.store.Update(ctx, usersCollection, uid, map[string]any{
		"theme": string(theme),
	})
}

// GetProfile reads a profile without creating it.
func (r *ProfileRepository) GetProfile(ctx context.Context, uid string) (Profile, error) {
	doc, err := r.store.Get(ctx, usersCollection, uid)
	if err != nil {
		return Profile{}, err
	}
	return decodeProfile(doc), nil
}

func displayNameFromEmail(email string) string {
	if name, _, found := strings.Cut(email, "@"); found && name != "" {
		return name
	}
	if email != "" {
		return email
	}
	return "User"
}
