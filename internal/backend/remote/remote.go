// Package remote implements the backend boundary over the gateway's
// HTTP and websocket surface. The chat core uses it exactly like the
// in-process store.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/wire"
)

const requestTimeout = 10 * time.Second

// ErrConnectionClosed is returned for requests made after the
// websocket connection is gone. There is no automatic reconnect; open
// subscriptions silently stop updating until the client restarts.
var ErrConnectionClosed = errors.New("connection closed")

// Client is the SDK handle. It implements both backend.AuthProvider
// and backend.Store.
type Client struct {
	log     *log.Logger
	baseURL *url.URL
	httpc   *http.Client
	jar     *cookiejar.Jar

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	nextID    int
	nextSubID int
	pending   map[int]chan *wire.ServerMessage
	subs      map[int]backend.SnapshotFunc
	current   *backend.AuthUser
	listeners map[*listener]struct{}
}

type listener struct {
	fn backend.AuthStateFunc
}

func New(baseURL string, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("cookie jar: %w", err)
	}

	return &Client{
		log:       logger,
		baseURL:   u,
		httpc:     &http.Client{Jar: jar, Timeout: requestTimeout},
		jar:       jar,
		pending:   make(map[int]chan *wire.ServerMessage),
		subs:      make(map[int]backend.SnapshotFunc),
		listeners: make(map[*listener]struct{}),
	}, nil
}

// Close tears down the websocket connection. Safe to call when never
// connected.
func (c *Client) Close() {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn != nil {
		conn.Close()
	}
}

func (c *Client) endpoint(path string) string {
	u := *c.baseURL
	u.Path = path
	return u.String()
}

func (c *Client) wsEndpoint() string {
	u := *c.baseURL
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	default:
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	return u.String()
}

// ensureConn dials the websocket lazily on first document operation.
// The session cookie from login rides along via the jar.
func (c *Client) ensureConn() (*websocket.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn, nil
	}

	dialer := websocket.Dialer{Jar: c.jar, HandshakeTimeout: requestTimeout}
	conn, resp, err := dialer.Dial(c.wsEndpoint(), nil)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return nil, backend.ErrNotSignedIn
		}
		return nil, fmt.Errorf("dial ws: %w", err)
	}

	c.conn = conn
	go c.readLoop(conn)
	return conn, nil
}

// readLoop routes responses to their waiting requests and change
// batches to their subscription handlers. Handlers are invoked
// synchronously in delivery order; they must not block.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		var msg wire.ServerMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			c.failConn(conn)
			return
		}

		switch {
		case msg.Response != nil:
			c.mu.Lock()
			ch, ok := c.pending[msg.Id]
			delete(c.pending, msg.Id)
			c.mu.Unlock()
			if ok {
				ch <- &msg
			}
		case msg.Changes != nil:
			c.mu.Lock()
			fn := c.subs[msg.Changes.SubId]
			c.mu.Unlock()
			if fn != nil {
				fn(msg.Changes.Changes)
			}
		}
	}
}

// failConn drops the connection state and fails outstanding requests.
// Subscriptions are left registered but will never fire again; per the
// error model, a broken listener stream is logged and not retried.
func (c *Client) failConn(conn *websocket.Conn) {
	conn.Close()

	c.mu.Lock()
	if c.conn == conn {
		c.conn = nil
	}
	pending := c.pending
	c.pending = make(map[int]chan *wire.ServerMessage)
	c.mu.Unlock()

	for _, ch := range pending {
		close(ch)
	}
}

func (c *Client) request(msg *wire.ClientMessage) (*wire.Response, error) {
	conn, err := c.ensureConn()
	if err != nil {
		return nil, err
	}

	ch := make(chan *wire.ServerMessage, 1)

	c.mu.Lock()
	c.nextID++
	msg.Id = c.nextID
	c.pending[msg.Id] = ch
	c.mu.Unlock()

	c.writeMu.Lock()
	err = conn.WriteJSON(msg)
	c.writeMu.Unlock()
	if err != nil {
		c.mu.Lock()
		delete(c.pending, msg.Id)
		c.mu.Unlock()
		return nil, fmt.Errorf("write request: %w", err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, ErrConnectionClosed
		}
		return resp.Response, nil
	case <-time.After(requestTimeout):
		c.mu.Lock()
		delete(c.pending, msg.Id)
		c.mu.Unlock()
		return nil, fmt.Errorf("request %d timed out", msg.Id)
	}
}

func responseError(resp *wire.Response) error {
	if resp.Code < 400 {
		return nil
	}
	if err := wire.ErrorFromCode(resp.ErrorCode); err != nil {
		return err
	}
	return fmt.Errorf("remote error (%d): %s", resp.Code, resp.Error)
}

func (c *Client) Get(_ context.Context, collection, id string) (backend.Document, error) {
	resp, err := c.request(&wire.ClientMessage{Get: &wire.GetRequest{Collection: collection, DocId: id}})
	if err != nil {
		return backend.Document{}, err
	}
	if err := responseError(resp); err != nil {
		return backend.Document{}, err
	}
	if resp.Doc == nil {
		return backend.Document{}, fmt.Errorf("malformed get response")
	}
	return *resp.Doc, nil
}

func (c *Client) Set(_ context.Context, collection, id string, fields map[string]any) error {
	resp, err := c.request(&wire.ClientMessage{Set: &wire.SetRequest{
		Collection: collection,
		DocId:      id,
		Fields:     wire.EncodeFields(fields),
	}})
	if err != nil {
		return err
	}
	return responseError(resp)
}

func (c *Client) Update(_ context.Context, collection, id string, fields map[string]any) error {
	resp, err := c.request(&wire.ClientMessage{Update: &wire.UpdateRequest{
		Collection: collection,
		DocId:      id,
		Fields:     wire.EncodeFields(fields),
	}})
	if err != nil {
		return err
	}
	return responseError(resp)
}

func (c *Client) Add(_ context.Context, collection string, fields map[string]any) (string, error) {
	resp, err := c.request(&wire.ClientMessage{Add: &wire.AddRequest{
		Collection: collection,
		Fields:     wire.EncodeFields(fields),
	}})
	if err != nil {
		return "", err
	}
	if err := responseError(resp); err != nil {
		return "", err
	}
	return resp.DocId, nil
}

func (c *Client) Subscribe(q backend.Query, fn backend.SnapshotFunc) (*backend.Subscription, error) {
	c.mu.Lock()
	c.nextSubID++
	subID := c.nextSubID
	c.subs[subID] = fn
	c.mu.Unlock()

	resp, err := c.request(&wire.ClientMessage{Subscribe: &wire.SubscribeRequest{SubId: subID, Query: q}})
	if err == nil {
		err = responseError(resp)
	}
	if err != nil {
		c.mu.Lock()
		delete(c.subs, subID)
		c.mu.Unlock()
		return nil, err
	}

	return backend.NewSubscription(func() {
		c.mu.Lock()
		delete(c.subs, subID)
		connected := c.conn != nil
		c.mu.Unlock()

		if !connected {
			return
		}
		if _, err := c.request(&wire.ClientMessage{Unsubscribe: &wire.UnsubscribeRequest{SubId: subID}}); err != nil {
			c.log.Println("unsubscribe:", err)
		}
	}), nil
}
