package chat

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// offlineWriteTimeout bounds the best-effort offline write during
// teardown so shutdown is never held up by a slow network.
const offlineWriteTimeout = 2 * time.Second

// ErrSendInFlight is returned when a send is attempted while another
// send is still outstanding.
var ErrSendInFlight = errors.New("a send is already in flight")

// ErrNotInitialized is returned for actions outside the initialized
// state.
var ErrNotInitialized = errors.New("chat is not initialized")

type controllerState int

const (
	stateUnauthenticated controllerState = iota
	stateResolving
	stateInitialized
	stateTornDown
)

// Controller composes the session store, profile repository, message
// feed and presence tracker, and drives the view through the page
// lifecycle: unauthenticated -> resolving -> initialized -> torn down.
type Controller struct {
	sessions *SessionStore
	profiles *ProfileRepository
	feed     *MessageFeed
	presence *PresenceTracker
	view     View
	log      *log.Logger

	mu      sync.Mutex
	state   controllerState
	uid     string
	profile Profile
	sending bool
	subs    subscriptions
}

type subscriptions struct {
	messages *backend.Subscription
	presence *backend.Subscription
	auth     *backend.Subscription
}

func NewController(sessions *SessionStore, profiles *ProfileRepository, feed *MessageFeed, presence *PresenceTracker, view View, logger *log.Logger) *Controller {
	return &Controller{
		sessions: sessions,
		profiles: profiles,
		feed:     feed,
		presence: presence,
		view:     view,
		log:      logger,
	}
}

// Start resolves the current user, ensures a profile, marks the user
// online and opens the feed and presence subscriptions. On a missing
// session it routes to the login view and returns ErrNotSignedIn from
// the session store via the provider.
func (c *Controller) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.state != stateUnauthenticated {
		c.mu.Unlock()
		return fmt.Errorf("start from state %d", c.state)
	}
	c.state = stateResolving
	c.mu.Unlock()

	user, err := c.sessions.CurrentUser(ctx)
	if err != nil || user == nil {
		c.mu.Lock()
		c.state = stateTornDown
		c.mu.Unlock()
		c.view.NavigateLogin()
		if err != nil {
			return fmt.Errorf("resolve user: %w", err)
		}
		return errors.New("no authenticated user")
	}

	profile, err := c.profiles.EnsureProfile(ctx, user.UID, user.Email)
	if err != nil {
		c.mu.Lock()
		c.state = stateTornDown
		c.mu.Unlock()
		return fmt.Errorf("ensure profile: %w", err)
	}

	c.mu.Lock()
	c.uid = user.UID
	c.profile = profile
	c.mu.Unlock()

	c.view.SetTheme(profile.Theme)

	if err := c.presence.MarkOnline(ctx, user.UID); err != nil {
		c.log.Println("mark online:", err)
	}

	msgSub, err := c.feed.Subscribe(RoomID, c.onMessage)
	if err != nil {
		c.mu.Lock()
		c.state = stateTornDown
		c.mu.Unlock()
		return fmt.Errorf("subscribe messages: %w", err)
	}

	presSub, err := c.presence.SubscribeCount(c.onOnlineCount)
	if err != nil {
		msgSub.Cancel()
		c.mu.Lock()
		c.state = stateTornDown
		c.mu.Unlock()
		return fmt.Errorf("subscribe presence: %w", err)
	}

	authSub := c.sessions.OnAuthStateChange(c.onAuthState)

	c.mu.Lock()
	c.subs = subscriptions{messages: msgSub, presence: presSub, auth: authSub}
	c.state = stateInitialized
	c.mu.Unlock()

	c.view.SetRoomName(RoomLabel)
	return nil
}

// Send submits one message. At most one send is in flight at a time;
// the input control stays disabled until completion or failure.
func (c *Controller) Send(ctx context.Context, text string) error {
	c.mu.Lock()
	if c.state != stateInitialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	if c.sending {
		c.mu.Unlock()
		return ErrSendInFlight
	}
	c.sending = true
	profile := c.profile
	c.mu.Unlock()

	c.view.SetSending(true)
	defer func() {
		c.mu.Lock()
		c.sending = false
		c.mu.Unlock()
		c.view.SetSending(false)
	}()

	err := c.feed.Send(ctx, RoomID, profile.UID, profile.DisplayName, profile.Avatar, text)
	if err != nil {
		if !errors.Is(err, ErrEmptyMessage) {
			c.log.Println("send:", err)
			c.view.Notify("Failed to send message. Please try again.")
		}
		return err
	}
	return nil
}

// SwitchTheme persists the side preference and restyles the view.
func (c *Controller) SwitchTheme(ctx context.Context, theme Theme) error {
	c.mu.Lock()
	if c.state != stateInitialized {
		c.mu.Unlock()
		return ErrNotInitialized
	}
	uid := c.uid
	c.mu.Unlock()

	c.view.SetTheme(theme)

	if err := c.profiles.SetTheme(ctx, uid, theme); err != nil {
		c.log.Println("set theme:", err)
		return err
	}

	c.mu.Lock()
	c.profile.Theme = theme
	c.mu.Unlock()
	return nil
}

// Theme returns the active theme.
func (c *Controller) Theme() Theme {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.profile.Theme
}

// SetVisible maps visibility transitions onto presence writes: hidden
// marks the user offline, visible marks them back online.
func (c *Controller) SetVisible(ctx context.Context, visible bool) {
	c.mu.Lock()
	if c.state != stateInitialized {
		c.mu.Unlock()
		return
	}
	uid := c.uid
	c.mu.Unlock()

	var err error
	if visible {
		err = c.presence.MarkOnline(ctx, uid)
	} else {
		err = c.presence.MarkOffline(ctx, uid)
	}
	if err != nil {
		c.log.Println("presence update:", err)
	}
}

// Logout tears down the chat and ends the session. Ordering matters:
// the offline write is attempted before the subscriptions are
// cancelled, and sign-out happens last.
func (c *Controller) Logout(ctx context.Context) error {
	if !c.teardown(ctx) {
		return nil
	}

	err := c.sessions.Logout(ctx)
	c.view.NavigateLogin()
	return err
}

// Stop tears down the chat without ending the session, the unload
// path. Safe to call multiple times.
func (c *Controller) Stop(ctx context.Context) {
	c.teardown(ctx)
}

// teardown marks the user offline (best effort), then cancels the
// subscriptions. Returns false if already torn down.
func (c *Controller) teardown(ctx context.Context) bool {
	c.mu.Lock()
	if c.state == stateTornDown {
		c.mu.Unlock()
		return false
	}
	wasInitialized := c.state == stateInitialized
	c.state = stateTornDown
	uid := c.uid
	subs := c.subs
	c.subs = subscriptions{}
	c.mu.Unlock()

	if wasInitialized {
		offCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), offlineWriteTimeout)
		defer cancel()
		if err := c.presence.MarkOffline(offCtx, uid); err != nil {
			// best effort: presence may go stale until the next session
			c.log.Println("mark offline:", err)
		}
	}

	if subs.messages != nil {
		subs.messages.Cancel()
	}
	if subs.presence != nil {
		subs.presence.Cancel()
	}
	if subs.auth != nil {
		subs.auth.Cancel()
	}
	return true
}

// onMessage handles one added message from the feed. Initial snapshots
// may arrive while Start is still finishing; only callbacks after
// teardown are dropped.
func (c *Controller) onMessage(msg Message) {
	c.mu.Lock()
	tornDown := c.state == stateTornDown
	c.mu.Unlock()
	if tornDown {
		return
	}

	c.view.AppendMessage(msg)
}

func (c *Controller) onOnlineCount(count int) {
	c.mu.Lock()
	tornDown := c.state == stateTornDown
	c.mu.Unlock()
	if tornDown {
		return
	}

	c.view.SetOnlineCount(count)
}

// onAuthState reacts to provider-driven sign-out while the chat is
// active by tearing down and routing to the login view.
func (c *Controller) onAuthState(user *backend.AuthUser) {
	if user != nil {
		return
	}

	c.mu.Lock()
	active := c.state == stateInitialized
	c.mu.Unlock()
	if !active {
		return
	}

	c.log.Println("session ended by provider")
	c.teardown(context.Background())
	c.view.NavigateLogin()
}
