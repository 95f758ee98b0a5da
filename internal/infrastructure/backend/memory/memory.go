// Package memory is the in-process implementation of the backend contract.
// It backs the sync server's state and every core test. Connection scoping
// is modeled by Session: wills armed through a session fire when that
// session closes, the way a realtime backend fires them on socket drop.
package memory

import (
	"encoding/json"
	"sort"
	"strings"
	"sync"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"

	"github.com/fadechat/fadechat/internal/infrastructure/backend"
)

const defaultLogCapacity = 100

// Store is the shared state: a flat path -> value map plus subscription
// registries. Oldest entries of an append log are evicted past capacity.
type Store struct {
	logger *zap.SugaredLogger

	mu          sync.RWMutex
	data        map[string]json.RawMessage
	seq         uint64
	logCapacity uint
	valueSubs   map[string]map[uint64]*valueSub  // parent path -> sub id
	appendSubs  map[string]map[uint64]*appendSub // parent path -> sub id
	nextSubID   uint64
}

func NewStore(logCapacity uint, logger *zap.SugaredLogger) *Store {
	if logCapacity == 0 {
		logCapacity = defaultLogCapacity
	}
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Store{
		logger:      logger,
		data:        make(map[string]json.RawMessage),
		logCapacity: logCapacity,
		valueSubs:   make(map[string]map[uint64]*valueSub),
		appendSubs:  make(map[string]map[uint64]*appendSub),
	}
}

// Stats returns the number of distinct rooms and stored entries.
func (s *Store) Stats() (rooms, entries int) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]struct{})
	for path := range s.data {
		rest, ok := strings.CutPrefix(path, "rooms/")
		if !ok {
			continue
		}
		if code, _, found := strings.Cut(rest, "/"); found {
			seen[code] = struct{}{}
		}
	}
	return len(seen), len(s.data)
}

func parentOf(path string) string {
	i := strings.LastIndex(path, "/")
	if i < 0 {
		return ""
	}
	return path[:i]
}

func (s *Store) write(path string, value json.RawMessage) {
	s.mu.Lock()
	s.data[path] = value
	notify := s.collectValueNotifications(parentOf(path))
	s.mu.Unlock()

	deliver(notify)
}

func (s *Store) removeSubtree(path string) {
	s.mu.Lock()

	parents := make(map[string]struct{})
	if _, ok := s.data[path]; ok {
		delete(s.data, path)
		parents[parentOf(path)] = struct{}{}
	}
	prefix := path + "/"
	for p := range s.data {
		if strings.HasPrefix(p, prefix) {
			delete(s.data, p)
			parents[parentOf(p)] = struct{}{}
		}
	}

	var notify []func()
	for parent := range parents {
		notify = append(notify, s.collectValueNotifications(parent)...)
	}
	s.mu.Unlock()

	deliver(notify)
}

// read returns the leaf value at path. A branch path with no leaf value of
// its own is materialized as a JSON object of its direct children, so
// callers can read a whole collection in one round trip.
func (s *Store) read(path string) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if v, ok := s.data[path]; ok {
		return v, true
	}

	keys := s.childKeysLocked(path)
	if len(keys) == 0 {
		return nil, false
	}
	children := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		children[k] = s.data[path+"/"+k]
	}
	raw, err := json.Marshal(children)
	if err != nil {
		return nil, false
	}
	return raw, true
}

func (s *Store) push(path string, value json.RawMessage) string {
	key := ulid.Make().String()

	s.mu.Lock()
	s.data[path+"/"+key] = value

	// Evict the oldest entries past capacity. ULID keys sort by insertion.
	children := s.childKeysLocked(path)
	if uint(len(children)) > s.logCapacity {
		for _, old := range children[:uint(len(children))-s.logCapacity] {
			delete(s.data, path+"/"+old)
		}
	}

	var notify []func()
	for _, sub := range s.appendSubs[path] {
		notify = append(notify, sub.deliver(key, value))
	}
	notify = append(notify, s.collectValueNotifications(path)...)
	s.mu.Unlock()

	deliver(notify)
	return key
}

// childKeysLocked returns the sorted direct leaf children of path.
func (s *Store) childKeysLocked(path string) []string {
	prefix := path + "/"
	var keys []string
	for p := range s.data {
		rest, ok := strings.CutPrefix(p, prefix)
		if !ok || strings.Contains(rest, "/") {
			continue
		}
		keys = append(keys, rest)
	}
	sort.Strings(keys)
	return keys
}

func (s *Store) snapshotLocked(path string) backend.Snapshot {
	s.seq++
	snap := backend.Snapshot{
		Path:     path,
		Seq:      s.seq,
		Children: make(map[string]json.RawMessage),
	}
	for _, key := range s.childKeysLocked(path) {
		snap.Children[key] = s.data[path+"/"+key]
	}
	return snap
}

// collectValueNotifications snapshots path for each of its subscribers and
// returns the deferred deliveries. Callbacks never run under the store lock.
func (s *Store) collectValueNotifications(path string) []func() {
	subs := s.valueSubs[path]
	if len(subs) == 0 {
		return nil
	}
	snap := s.snapshotLocked(path)

	notify := make([]func(), 0, len(subs))
	for _, sub := range subs {
		notify = append(notify, sub.deliver(snap))
	}
	return notify
}

func deliver(notify []func()) {
	for _, fn := range notify {
		fn()
	}
}

func (s *Store) subscribeValue(path string, fn func(backend.Snapshot)) backend.CancelFunc {
	sub := newValueSub(fn)

	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if s.valueSubs[path] == nil {
		s.valueSubs[path] = make(map[uint64]*valueSub)
	}
	s.valueSubs[path][id] = sub
	initial := sub.deliver(s.snapshotLocked(path))
	s.mu.Unlock()

	initial()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.valueSubs[path], id)
			s.mu.Unlock()
			sub.close()
		})
	}
}

func (s *Store) subscribeAppend(path string, fn func(string, json.RawMessage)) backend.CancelFunc {
	sub := newAppendSub(path, fn, s.logger)

	s.mu.Lock()
	s.nextSubID++
	id := s.nextSubID
	if s.appendSubs[path] == nil {
		s.appendSubs[path] = make(map[uint64]*appendSub)
	}
	s.appendSubs[path][id] = sub

	// Replay existing entries in key order before any live append.
	var replay []func()
	for _, key := range s.childKeysLocked(path) {
		replay = append(replay, sub.deliver(key, s.data[path+"/"+key]))
	}
	s.mu.Unlock()

	deliver(replay)

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.appendSubs[path], id)
			s.mu.Unlock()
			sub.close()
		})
	}
}

// valueSub serializes snapshot delivery on its own goroutine. The pending
// slot holds at most one snapshot: a newer one replaces an undelivered stale
// one, which is the documented coalescing behavior.
type valueSub struct {
	mu     sync.Mutex
	closed bool
	ch     chan backend.Snapshot
}

func newValueSub(fn func(backend.Snapshot)) *valueSub {
	sub := &valueSub{ch: make(chan backend.Snapshot, 1)}
	go func() {
		for snap := range sub.ch {
			fn(snap)
		}
	}()
	return sub
}

func (v *valueSub) deliver(snap backend.Snapshot) func() {
	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		if v.closed {
			return
		}
		for {
			select {
			case v.ch <- snap:
				return
			default:
				select {
				case <-v.ch: // drop the stale pending snapshot
				default:
				}
			}
		}
	}
}

func (v *valueSub) close() {
	v.mu.Lock()
	defer v.mu.Unlock()
	if !v.closed {
		v.closed = true
		close(v.ch)
	}
}

type appendEntry struct {
	key   string
	value json.RawMessage
}

type appendSub struct {
	path   string
	logger *zap.SugaredLogger

	mu     sync.Mutex
	closed bool
	ch     chan appendEntry
}

func newAppendSub(path string, fn func(string, json.RawMessage), logger *zap.SugaredLogger) *appendSub {
	sub := &appendSub{path: path, logger: logger, ch: make(chan appendEntry, 256)}
	go func() {
		for e := range sub.ch {
			fn(e.key, e.value)
		}
	}()
	return sub
}

func (a *appendSub) deliver(key string, value json.RawMessage) func() {
	return func() {
		a.mu.Lock()
		defer a.mu.Unlock()
		if a.closed {
			return
		}
		select {
		case a.ch <- appendEntry{key: key, value: value}:
		default:
			// Consumer is not keeping up. Drop rather than stall the store.
			a.logger.Warnw("append subscriber full, dropping entry", "path", a.path, "key", key)
		}
	}
}

func (a *appendSub) close() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.closed {
		a.closed = true
		close(a.ch)
	}
}
