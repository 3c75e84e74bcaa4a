// Package wire defines the JSON envelopes exchanged between the remote
// SDK and the gateway's websocket endpoint, plus the encoding of the
// server-timestamp sentinel and error kinds across the HTTP boundary.
package wire

import (
	"time"

	"github.com/xpresschat/xpress-chat/internal/backend"
)

// ClientMessage is one request from the SDK. Exactly one of the
// operation fields is set.
type ClientMessage struct {
	Id          int                 `json:"id,omitempty"`
	Get         *GetRequest         `json:"get,omitempty"`
	Set         *SetRequest         `json:"set,omitempty"`
	Update      *UpdateRequest      `json:"update,omitempty"`
	Add         *AddRequest         `json:"add,omitempty"`
	Subscribe   *SubscribeRequest   `json:"subscribe,omitempty"`
	Unsubscribe *UnsubscribeRequest `json:"unsubscribe,omitempty"`
}

type GetRequest struct {
	Collection string `json:"collection"`
	DocId      string `json:"doc_id"`
}

type SetRequest struct {
	Collection string         `json:"collection"`
	DocId      string         `json:"doc_id"`
	Fields     map[string]any `json:"fields"`
}

type UpdateRequest struct {
	Collection string         `json:"collection"`
	DocId      string         `json:"doc_id"`
	Fields     map[string]any `json:"fields"`
}

type AddRequest struct {
	Collection string         `json:"collection"`
	Fields     map[string]any `json:"fields"`
}

type SubscribeRequest struct {
	SubId int           `json:"sub_id"`
	Query backend.Query `json:"query"`
}

type UnsubscribeRequest struct {
	SubId int `json:"sub_id"`
}

// ServerMessage is one frame from the gateway: either the response to
// a request (correlated by Id) or a change batch for a subscription.
type ServerMessage struct {
	Id        int          `json:"id,omitempty"`
	Timestamp string       `json:"timestamp,omitempty"`
	Response  *Response    `json:"response,omitempty"`
	Changes   *ChangeBatch `json:"changes,omitempty"`
}

type Response struct {
	Code      int               `json:"code"`
	Error     string            `json:"error,omitempty"`
	ErrorCode string            `json:"error_code,omitempty"`
	Doc       *backend.Document `json:"doc,omitempty"`
	DocId     string            `json:"doc_id,omitempty"`
}

type ChangeBatch struct {
	SubId   int              `json:"sub_id"`
	Changes []backend.Change `json:"changes"`
}

// serverTimestampMarker is the wire form of backend.ServerTimestamp.
const serverTimestampMarker = "$server_timestamp"

// EncodeFields replaces the in-process sentinel with its wire marker so
// the field map survives JSON marshalling.
func EncodeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if backend.IsServerTimestamp(v) {
			out[k] = map[string]any{serverTimestampMarker: true}
			continue
		}
		if t, ok := v.(time.Time); ok {
			out[k] = backend.FormatTime(t)
			continue
		}
		out[k] = v
	}
	return out
}

// DecodeFields restores the sentinel from its wire marker before the
// fields reach a store.
func DecodeFields(fields map[string]any) map[string]any {
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if m, ok := v.(map[string]any); ok && len(m) == 1 {
			if _, marked := m[serverTimestampMarker]; marked {
				out[k] = backend.ServerTimestamp
				continue
			}
		}
		out[k] = v
	}
	return out
}
