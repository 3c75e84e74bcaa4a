package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xpresschat/xpress-chat/internal/backend/memory"
)

func newTestProfiles(t *testing.T) (*ProfileRepository, *memory.Store) {
	t.Helper()
	store := memory.NewStore(testLogger())
	return NewProfileRepository(store, testLogger()), store
}

func TestEnsureProfile_createsDefault(t *testing.T) {
	r, store := newTestProfiles(t)
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	p, err := r.EnsureProfile(context.Background(), "u1", "ada@example.com")
	require.NoError(t, err)

	assert.Equal(t, "u1", p.UID)
	assert.Equal(t, "ada@example.com", p.Email)
	assert.Equal(t, "ada", p.DisplayName)
	assert.Equal(t, DefaultAvatarURI("u1"), p.Avatar)
	assert.Equal(t, ThemeLight, p.Theme)
	assert.False(t, p.Online)

	// the stored document carries a server-assigned creation time
	stored, err := r.GetProfile(context.Background(), "u1")
	require.NoError(t, err)
	assert.True(t, stored.CreatedAt.Equal(now))
}

func TestEnsureProfile_returnsExisting(t *testing.T) {
	r, _ := newTestProfiles(t)
	ctx := context.Background()

	_, err := r.EnsureProfile(ctx, "u1", "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, r.SetTheme(ctx, "u1", ThemeDark))

	p, err := r.EnsureProfile(ctx, "u1", "ada@example.com")
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, p.Theme, "existing profile must not be overwritten")
}

func TestSetOnline(t *testing.T) {
	r, store := newTestProfiles(t)
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	_, err := r.EnsureProfile(ctx, "u1", "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, r.SetOnline(ctx, "u1", true))

	p, err := r.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.True(t, p.LastSeen.Equal(now))
	assert.Equal(t, "ada", p.DisplayName, "partial update must not clobber other fields")

	require.NoError(t, r.SetOnline(ctx, "u1", false))
	p, err = r.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, p.Online)
}

func TestSetTheme(t *testing.T) {
	r, _ := newTestProfiles(t)
	ctx := context.Background()

	_, err := r.EnsureProfile(ctx, "u1", "ada@example.com")
	require.NoError(t, err)

	require.NoError(t, r.SetTheme(ctx, "u1", ThemeDark))

	p, err := r.GetProfile(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, p.Theme)
	assert.Equal(t, "ada@example.com", p.Email, "theme write must touch the theme field only")
}

func TestSetTheme_rejectsUnknownTheme(t *testing.T) {
	r, _ := newTestProfiles(t)
	ctx := context.Background()

	_, err := r.EnsureProfile(ctx, "u1", "ada@example.com")
	require.NoError(t, err)

	assert.Error(t, r.SetTheme(ctx, "u1", Theme("sparkly")))
}

func Test_displayNameFromEmail(t *testing.T) {
	tcases := []struct {
		email string
		want  string
	}{
		{email: "ada@example.com", want: "ada"},
		{email: "no-at-sign", want: "no-at-sign"},
		{email: "@example.com", want: "@example.com"},
		{email: "", want: "User"},
	}

	for _, tc := range tcases {
		assert.Equal(t, tc.want, displayNameFromEmail(tc.email), "email: %q", tc.email)
	}
}

func TestThemeValid(t *testing.T) {
	assert.True(t, ThemeLight.Valid())
	assert.True(t, ThemeDark.Valid())
	assert.False(t, Theme("sparkly").Valid())
	assert.False(t, Theme("").Valid())
}
