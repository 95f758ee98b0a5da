// Package wire defines the JSON frames exchanged between the sync server
// and the remote backend client over one websocket.
package wire

import "encoding/json"

// Client-initiated operations. Every request carries an ID and receives
// exactly one OpAck or OpError with the same ID.
const (
	OpWrite           = "write"
	OpRemove          = "remove"
	OpRead            = "read"
	OpPush            = "push"
	OpSubscribe       = "subscribe"
	OpSubscribeAppend = "subscribeAppend"
	OpUnsubscribe     = "unsubscribe"
	OpWillWrite       = "willWrite"
	OpWillRemove      = "willRemove"
	OpWillCancel      = "willCancel"
)

// Server-initiated frames.
const (
	OpAck      = "ack"
	OpError    = "error"
	OpSnapshot = "snapshot"
	OpAppend   = "append"
)

// Error codes carried on OpError frames.
const (
	CodePathNotFound = "path_not_found"
	CodeBadRequest   = "bad_request"
)

type Frame struct {
	Op       string                     `json:"op"`
	ID       uint64                     `json:"id,omitempty"`
	Path     string                     `json:"path,omitempty"`
	Key      string                     `json:"key,omitempty"`
	Seq      uint64                     `json:"seq,omitempty"`
	Value    json.RawMessage            `json:"value,omitempty"`
	Children map[string]json.RawMessage `json:"children,omitempty"`
	Code     string                     `json:"code,omitempty"`
	Error    string                     `json:"error,omitempty"`
}
