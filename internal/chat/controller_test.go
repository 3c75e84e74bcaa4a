package chat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xpresschat/xpress-chat/internal/backend/memory"
)

type controllerFixture struct {
	store    *memory.Store
	auth     *memory.Auth
	sessions *SessionStore
	profiles *ProfileRepository
	view     *MockView
	c        *Controller

	counts chan int
	msgs   chan Message
	uid    string
}

func newControllerFixture(t *testing.T) *controllerFixture {
	t.Helper()

	store := memory.NewStore(testLogger())
	auth := memory.NewAuth(testLogger())
	sessions := NewSessionStore(auth, t.TempDir(), testLogger())
	profiles := NewProfileRepository(store, testLogger())
	feed := NewMessageFeed(store, testLogger())
	presence := NewPresenceTracker(profiles, store, testLogger())
	view := &MockView{}

	return &controllerFixture{
		store:    store,
		auth:     auth,
		sessions: sessions,
		profiles: profiles,
		view:     view,
		c:        NewController(sessions, profiles, feed, presence, view, testLogger()),
		counts:   make(chan int, 16),
		msgs:     make(chan Message, 16),
	}
}

func (f *controllerFixture) register(t *testing.T) {
	t.Helper()
	uid, err := f.sessions.Register(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)
	f.uid = uid
}

// expectStart registers the view calls the initialized lifecycle makes.
// Counts and messages are funneled onto channels so tests can wait for
// async deliveries.
func (f *controllerFixture) expectStart() {
	f.view.On("SetTheme", mock.Anything).Maybe()
	f.view.On("SetRoomName", RoomLabel).Once()
	f.view.On("SetOnlineCount", mock.Anything).Maybe().Run(func(args mock.Arguments) {
		f.counts <- args.Int(0)
	})
	f.view.On("AppendMessage", mock.Anything).Maybe().Run(func(args mock.Arguments) {
		f.msgs <- args.Get(0).(Message)
	})
}

func (f *controllerFixture) start(t *testing.T) {
	t.Helper()
	f.register(t)
	f.expectStart()
	require.NoError(t, f.c.Start(context.Background()))
}

func (f *controllerFixture) waitCount(t *testing.T, want int) {
	t.Helper()
	deadline := time.After(time.Second)
	for {
		select {
		case got := <-f.counts:
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for online count %d", want)
		}
	}
}

func (f *controllerFixture) waitMessage(t *testing.T) Message {
	t.Helper()
	select {
	case m := <-f.msgs:
		return m
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
		return Message{}
	}
}

func TestController_StartWithoutSession(t *testing.T) {
	f := newControllerFixture(t)
	f.view.On("NavigateLogin").Once()

	err := f.c.Start(context.Background())
	require.Error(t, err)
	f.view.AssertCalled(t, "NavigateLogin")
}

func TestController_StartInitializes(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	// marked online before the presence subscription opened, so the
	// initial snapshot already includes this user
	f.waitCount(t, 1)

	p, err := f.profiles.GetProfile(context.Background(), f.uid)
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, "ada", p.DisplayName)

	f.view.AssertCalled(t, "SetRoomName", RoomLabel)
	f.view.AssertCalled(t, "SetTheme", ThemeLight)
}

func TestController_StartTwice(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	assert.Error(t, f.c.Start(context.Background()))
}

func TestController_Send(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	f.view.On("SetSending", true).Once()
	f.view.On("SetSending", false).Once()

	require.NoError(t, f.c.Send(context.Background(), "  hello room  "))

	m := f.waitMessage(t)
	assert.Equal(t, "hello room", m.Text)
	assert.Equal(t, f.uid, m.SenderID)
	assert.Equal(t, "ada", m.SenderName)
	assert.Equal(t, DefaultAvatarURI(f.uid), m.SenderAvatar)
	assert.Equal(t, RoomID, m.RoomID)

	f.view.AssertCalled(t, "SetSending", true)
	f.view.AssertCalled(t, "SetSending", false)
}

func TestController_SendEmptyText(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	f.view.On("SetSending", mock.Anything)

	err := f.c.Send(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyMessage)

	// no toast for a validation failure
	f.view.AssertNotCalled(t, "Notify", mock.Anything)
}

func TestController_SendBeforeStart(t *testing.T) {
	f := newControllerFixture(t)

	err := f.c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestController_SendInFlight(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	f.c.mu.Lock()
	f.c.sending = true
	f.c.mu.Unlock()

	err := f.c.Send(context.Background(), "hello")
	assert.ErrorIs(t, err, ErrSendInFlight)
}

func TestController_SwitchTheme(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	require.NoError(t, f.c.SwitchTheme(context.Background(), ThemeDark))

	assert.Equal(t, ThemeDark, f.c.Theme())

	p, err := f.profiles.GetProfile(context.Background(), f.uid)
	require.NoError(t, err)
	assert.Equal(t, ThemeDark, p.Theme, "theme must survive a reload")

	f.view.AssertCalled(t, "SetTheme", ThemeDark)
}

func TestController_SwitchThemeBeforeStart(t *testing.T) {
	f := newControllerFixture(t)

	err := f.c.SwitchTheme(context.Background(), ThemeDark)
	assert.ErrorIs(t, err, ErrNotInitialized)
}

func TestController_Logout(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	f.view.On("NavigateLogin").Once()

	ctx := context.Background()
	require.NoError(t, f.c.Logout(ctx))

	// offline write happens during teardown, before sign-out
	p, err := f.profiles.GetProfile(ctx, f.uid)
	require.NoError(t, err)
	assert.False(t, p.Online)

	user, err := f.auth.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	_, _, ok := f.sessions.CachedSession()
	assert.False(t, ok)

	f.view.AssertNumberOfCalls(t, "NavigateLogin", 1)
}

func TestController_LogoutTwice(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	f.view.On("NavigateLogin").Once()

	ctx := context.Background()
	require.NoError(t, f.c.Logout(ctx))
	require.NoError(t, f.c.Logout(ctx))

	f.view.AssertNumberOfCalls(t, "NavigateLogin", 1)
}

func TestController_StopDropsLateCallbacks(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	f.waitCount(t, 1)

	ctx := context.Background()
	f.c.Stop(ctx)

	// writes after teardown must not reach the view
	require.NoError(t, f.store.Set(ctx, "messages", "late", map[string]any{
		"text":   "too late",
		"roomId": RoomID,
	}))

	select {
	case m := <-f.msgs:
		t.Fatalf("message delivered after stop: %+v", m)
	case <-time.After(50 * time.Millisecond):
	}

	// stop keeps the session, unlike logout
	user, err := f.auth.CurrentUser(ctx)
	require.NoError(t, err)
	assert.NotNil(t, user)
}

func TestController_ProviderSignOut(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)

	navigated := make(chan struct{})
	f.view.On("NavigateLogin").Once().Run(func(mock.Arguments) {
		close(navigated)
	})

	require.NoError(t, f.auth.SignOut(context.Background()))

	select {
	case <-navigated:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for navigation after provider sign-out")
	}
}

func TestController_SetVisible(t *testing.T) {
	f := newControllerFixture(t)
	f.start(t)
	ctx := context.Background()

	f.c.SetVisible(ctx, false)
	p, err := f.profiles.GetProfile(ctx, f.uid)
	require.NoError(t, err)
	assert.False(t, p.Online)

	f.c.SetVisible(ctx, true)
	p, err = f.profiles.GetProfile(ctx, f.uid)
	require.NoError(t, err)
	assert.True(t, p.Online)
}
