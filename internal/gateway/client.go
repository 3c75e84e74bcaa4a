package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teris-io/shortid"
	"github.com/xpresschat/xpress-chat/internal/backend"
	"github.com/xpresschat/xpress-chat/internal/stats"
	"github.com/xpresschat/xpress-chat/internal/wire"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingInterval   = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// client is one websocket connection carrying document operations and
// subscription deltas for a single authenticated user.
type client struct {
	conn  *websocket.Conn
	gw    *Gateway
	log   *log.Logger
	user  backend.AuthUser
	send  chan *wire.ServerMessage
	stop  chan struct{}

	subsMu sync.Mutex
	subs   map[int]*backend.Subscription
}

func newClient(user backend.AuthUser, conn *websocket.Conn, gw *Gateway) *client {
	return &client{
		conn: conn,
		gw:   gw,
		log:  gw.log,
		user: user,
		send: make(chan *wire.ServerMessage, 256),
		stop: make(chan struct{}),
		subs: make(map[int]*backend.Subscription),
	}
}

func (c *client) write() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}

			bytes, err := json.Marshal(msg)
			if err != nil {
				c.log.Println("failed to serialize message:", err)
				continue
			}

			if !c.sendMessage(websocket.TextMessage, bytes) {
				return
			}
		case <-c.stop:
			return
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !c.sendMessage(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *client) read() {
	defer func() {
		c.conn.Close()
		c.cleanup()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { c.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
				websocket.CloseNormalClosure) {
				c.log.Printf("ws: read: %v", err)
			}
			break
		}

		var msg wire.ClientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.log.Println("error parsing message:", err)
			c.queueMessage(errResponse(-1, http.StatusBadRequest, errors.New("invalid message format")))
			continue
		}

		c.dispatch(&msg)
	}
}

func (c *client) dispatch(msg *wire.ClientMessage) {
	ctx := context.Background()

	switch {
	case msg.Get != nil:
		doc, err := c.gw.store.Get(ctx, msg.Get.Collection, msg.Get.DocId)
		if err != nil {
			c.queueMessage(storeErrResponse(msg.Id, err))
			return
		}
		c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusOK, Doc: &doc}))

	case msg.Set != nil:
		err := c.gw.store.Set(ctx, msg.Set.Collection, msg.Set.DocId, wire.DecodeFields(msg.Set.Fields))
		if err != nil {
			c.queueMessage(storeErrResponse(msg.Id, err))
			return
		}
		c.gw.stats.Incr(stats.DocumentsWritten)
		c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusOK, DocId: msg.Set.DocId}))

	case msg.Update != nil:
		err := c.gw.store.Update(ctx, msg.Update.Collection, msg.Update.DocId, wire.DecodeFields(msg.Update.Fields))
		if err != nil {
			c.queueMessage(storeErrResponse(msg.Id, err))
			return
		}
		c.gw.stats.Incr(stats.DocumentsWritten)
		c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusOK, DocId: msg.Update.DocId}))

	case msg.Add != nil:
		id, err := shortid.Generate()
		if err != nil {
			c.queueMessage(errResponse(msg.Id, http.StatusInternalServerError, err))
			return
		}
		if err := c.gw.store.Set(ctx, msg.Add.Collection, id, wire.DecodeFields(msg.Add.Fields)); err != nil {
			c.queueMessage(storeErrResponse(msg.Id, err))
			return
		}
		c.gw.stats.Incr(stats.DocumentsWritten)
		c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusCreated, DocId: id}))

	case msg.Subscribe != nil:
		c.handleSubscribe(msg)

	case msg.Unsubscribe != nil:
		c.handleUnsubscribe(msg)

	default:
		c.queueMessage(errResponse(msg.Id, http.StatusBadRequest, errors.New("empty message")))
	}
}

func (c *client) handleSubscribe(msg *wire.ClientMessage) {
	subId := msg.Subscribe.SubId

	c.subsMu.Lock()
	if _, exists := c.subs[subId]; exists {
		c.subsMu.Unlock()
		c.queueMessage(errResponse(msg.Id, http.StatusConflict, errors.New("subscription id in use")))
		return
	}
	c.subsMu.Unlock()

	sub, err := c.gw.store.Subscribe(msg.Subscribe.Query, func(changes []backend.Change) {
		c.queueMessage(&wire.ServerMessage{
			Timestamp: backend.FormatTime(time.Now()),
			Changes:   &wire.ChangeBatch{SubId: subId, Changes: changes},
		})
	})
	if err != nil {
		c.queueMessage(errResponse(msg.Id, http.StatusInternalServerError, err))
		return
	}

	c.subsMu.Lock()
	c.subs[subId] = sub
	c.subsMu.Unlock()
	c.gw.stats.Incr(stats.ActiveSubscriptions)

	c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusOK}))
}

func (c *client) handleUnsubscribe(msg *wire.ClientMessage) {
	subId := msg.Unsubscribe.SubId

	c.subsMu.Lock()
	sub, ok := c.subs[subId]
	delete(c.subs, subId)
	c.subsMu.Unlock()

	if ok {
		sub.Cancel()
		c.gw.stats.Decr(stats.ActiveSubscriptions)
	}

	c.queueMessage(okResponse(msg.Id, &wire.Response{Code: http.StatusOK}))
}

func (c *client) queueMessage(msg *wire.ServerMessage) bool {
	select {
	case c.send <- msg:
	default:
		c.log.Println("failed to send message to client, channel is full")
		return false
	}

	return true
}

func (c *client) sendMessage(msgType int, msg []byte) bool {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))

	if err := c.conn.WriteMessage(msgType, msg); err != nil {
		if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure,
			websocket.CloseNormalClosure) {
			c.log.Printf("write message: %s", err)
		}
		return false
	}

	return true
}

func (c *client) cleanup() {
	c.subsMu.Lock()
	subs := c.subs
	c.subs = make(map[int]*backend.Subscription)
	c.subsMu.Unlock()

	for _, sub := range subs {
		sub.Cancel()
		c.gw.stats.Decr(stats.ActiveSubscriptions)
	}

	close(c.stop)
	c.gw.stats.Decr(stats.ActiveConnections)
}

func okResponse(id int, resp *wire.Response) *wire.ServerMessage {
	return &wire.ServerMessage{
		Id:        id,
		Timestamp: backend.FormatTime(time.Now()),
		Response:  resp,
	}
}

func errResponse(id, code int, err error) *wire.ServerMessage {
	return &wire.ServerMessage{
		Id:        id,
		Timestamp: backend.FormatTime(time.Now()),
		Response: &wire.Response{
			Code:  code,
			Error: err.Error(),
		},
	}
}

func storeErrResponse(id int, err error) *wire.ServerMessage {
	msg := errResponse(id, http.StatusInternalServerError, err)
	if errors.Is(err, backend.ErrNotFound) {
		msg.Response.Code = http.StatusNotFound
	}
	msg.Response.ErrorCode = wire.ErrorCode(err)
	return msg
}
