// Package backend defines the realtime key-value/pub-sub contract the
// session core depends on. Any implementation must provide "last-will"
// registration: server-side actions armed while connected that fire
// automatically when the client drops without a cooperative leave.
package backend

import (
	"context"
	"encoding/json"
)

// Snapshot is the full current set of direct children under a path. Seq is
// monotonically increasing per store; consumers must discard snapshots whose
// Seq is not newer than the last one they handled, because delivery may race.
type Snapshot struct {
	Path     string
	Seq      uint64
	Children map[string]json.RawMessage
}

// CancelFunc detaches a subscription. Safe to call more than once.
type CancelFunc func()

// Store is the shared realtime backend, scoped to one client connection:
// last-will registrations and Close belong to that connection's lifetime.
type Store interface {
	// Write marshals value and stores it at path, creating or replacing it.
	Write(ctx context.Context, path string, value any) error

	// Remove deletes path and everything under it. Removing an absent path
	// is a no-op.
	Remove(ctx context.Context, path string) error

	// Read returns the value stored at path, or domain.ErrPathNotFound.
	Read(ctx context.Context, path string) (json.RawMessage, error)

	// Push appends value under path with a generated key that sorts after
	// every previously pushed key, and returns that key.
	Push(ctx context.Context, path string, value any) (string, error)

	// Subscribe delivers a Snapshot of path's direct children on every
	// change, including one initial snapshot. At-least-once per change;
	// rapid changes may be coalesced into the latest snapshot.
	Subscribe(path string, fn func(Snapshot)) (CancelFunc, error)

	// SubscribeAppend delivers every child appended under path via Push,
	// replaying existing children in key order first.
	SubscribeAppend(path string, fn func(key string, value json.RawMessage)) (CancelFunc, error)

	// OnDisconnectWrite arms a last-will write of value at path.
	OnDisconnectWrite(path string, value any) error

	// OnDisconnectRemove arms a last-will removal of path.
	OnDisconnectRemove(path string) error

	// CancelOnDisconnect disarms any last-will registered for path.
	CancelOnDisconnect(path string) error

	// Connected reports whether the backend is currently reachable.
	Connected() bool

	// SubscribeConnectivity delivers reachability transitions.
	SubscribeConnectivity(fn func(connected bool)) CancelFunc

	// Close drops the connection. Pending last-wills fire on the backend
	// side; subscriptions are detached.
	Close() error
}
