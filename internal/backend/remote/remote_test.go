package remote

import (
	"context"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/backend/memory"
	"github.com/xpresschat/xpress-chat/internal/config"
	"github.com/xpresschat/xpress-chat/internal/gateway"
	"github.com/xpresschat/xpress-chat/internal/stats"
)

// newTestClient wires a client to an in-process gateway backed by the
// memory store, exercising the full HTTP and websocket path.
func newTestClient(t *testing.T) (*Client, *memory.Store) {
	t.Helper()

	logger := log.New(io.Discard, "", 0)
	auth := memory.NewAuth(logger)
	store := memory.NewStore(logger)

	statsProvider := &stats.MockStatsUpdater{}
	statsProvider.On("Incr", mock.Anything).Maybe()
	statsProvider.On("Decr", mock.Anything).Maybe()

	cfg, err := config.NewConfig("localhost:0", "", "c29tZV9zZWNyZXQ=", nil, true)
	require.NoError(t, err)

	mux := http.NewServeMux()
	g := gateway.NewGateway(mux, logger, auth, store, statsProvider, cfg)

	server := httptest.NewServer(g.Handler())
	t.Cleanup(server.Close)

	client, err := New(server.URL, logger)
	require.NoError(t, err)
	t.Cleanup(client.Close)

	return client, store
}

func signUp(t *testing.T, c *Client) backend.AuthUser {
	t.Helper()
	user, err := c.CreateAccount(context.Background(), "ada@example.com", "hunter22")
	require.NoError(t, err)
	return user
}

func TestClient_CurrentUserWithoutSession(t *testing.T) {
	c, _ := newTestClient(t)

	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestClient_CreateAccountAndResolve(t *testing.T) {
	c, _ := newTestClient(t)
	created := signUp(t, c)

	assert.NotEmpty(t, created.UID)
	assert.Equal(t, "ada@example.com", created.Email)

	user, err := c.CurrentUser(context.Background())
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, created.UID, user.UID)
}

func TestClient_SignInErrors(t *testing.T) {
	c, _ := newTestClient(t)
	signUp(t, c)
	require.NoError(t, c.SignOut(context.Background()))

	_, err := c.SignIn(context.Background(), "ada@example.com", "wrong-password")
	assert.ErrorIs(t, err, backend.ErrWrongPassword)

	_, err = c.SignIn(context.Background(), "ghost@example.com", "hunter22")
	assert.ErrorIs(t, err, backend.ErrUserNotFound)

	_, err = c.CreateAccount(context.Background(), "ada@example.com", "hunter22")
	assert.ErrorIs(t, err, backend.ErrEmailInUse)
}

func TestClient_DocumentOperations(t *testing.T) {
	c, _ := newTestClient(t)
	signUp(t, c)
	ctx := context.Background()

	_, err := c.Get(ctx, "users", "ghost")
	assert.ErrorIs(t, err, backend.ErrNotFound)

	require.NoError(t, c.Set(ctx, "users", "u1", map[string]any{"displayName": "ada", "online": false}))

	doc, err := c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, "ada", doc.Fields["displayName"])

	require.NoError(t, c.Update(ctx, "users", "u1", map[string]any{"online": true}))
	doc, err = c.Get(ctx, "users", "u1")
	require.NoError(t, err)
	assert.Equal(t, true, doc.Fields["online"])
	assert.Equal(t, "ada", doc.Fields["displayName"])

	assert.ErrorIs(t, c.Update(ctx, "users", "ghost", map[string]any{"online": true}), backend.ErrNotFound)

	id, err := c.Add(ctx, "messages", map[string]any{"text": "hi"})
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestClient_ServerTimestamp(t *testing.T) {
	c, _ := newTestClient(t)
	signUp(t, c)
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "messages", "m1", map[string]any{
		"text":      "hi",
		"timestamp": backend.ServerTimestamp,
	}))

	doc, err := c.Get(ctx, "messages", "m1")
	require.NoError(t, err)

	ts, ok := doc.Fields["timestamp"].(string)
	require.True(t, ok, "sentinel must resolve server-side")
	_, err = backend.ParseTime(ts)
	assert.NoError(t, err)
}

func TestClient_Subscribe(t *testing.T) {
	c, store := newTestClient(t)
	signUp(t, c)
	ctx := context.Background()

	batches := make(chan []backend.Change, 16)
	sub, err := c.Subscribe(backend.Query{Collection: "messages"}, func(changes []backend.Change) {
		batches <- changes
	})
	require.NoError(t, err)
	defer sub.Cancel()

	// a server-side write reaches the client over the websocket
	require.NoError(t, store.Set(ctx, "messages", "m1", map[string]any{"text": "hello"}))

	select {
	case changes := <-batches:
		require.Len(t, changes, 1)
		assert.Equal(t, backend.Added, changes[0].Kind)
		assert.Equal(t, "m1", changes[0].Doc.ID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for change batch")
	}

	sub.Cancel()
	require.NoError(t, store.Set(ctx, "messages", "m2", map[string]any{"text": "late"}))
	select {
	case changes := <-batches:
		t.Fatalf("changes delivered after cancel: %+v", changes)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClient_DocumentOpsRequireSession(t *testing.T) {
	c, _ := newTestClient(t)

	err := c.Set(context.Background(), "users", "u1", map[string]any{"a": "b"})
	assert.ErrorIs(t, err, backend.ErrNotSignedIn)
}

func TestClient_SignOut(t *testing.T) {
	c, _ := newTestClient(t)
	signUp(t, c)
	ctx := context.Background()

	require.NoError(t, c.SignOut(ctx))

	user, err := c.CurrentUser(ctx)
	require.NoError(t, err)
	assert.Nil(t, user)

	// the websocket is gone and the cookie is expired
	err = c.Set(ctx, "users", "u1", map[string]any{"a": "b"})
	assert.ErrorIs(t, err, backend.ErrNotSignedIn)

	// signing out again is a no-op
	assert.NoError(t, c.SignOut(ctx))
}

func TestClient_OnAuthStateChange(t *testing.T) {
	c, _ := newTestClient(t)

	events := make(chan *backend.AuthUser, 8)
	sub := c.OnAuthStateChange(func(user *backend.AuthUser) {
		events <- user
	})
	defer sub.Cancel()

	created := signUp(t, c)

	select {
	case u := <-events:
		require.NotNil(t, u)
		assert.Equal(t, created.UID, u.UID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sign-in notification")
	}

	require.NoError(t, c.SignOut(context.Background()))

	select {
	case u := <-events:
		assert.Nil(t, u)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for sign-out notification")
	}
}
