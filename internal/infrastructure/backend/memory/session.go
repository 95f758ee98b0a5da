package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/fadechat/fadechat/internal/domain"
	"github.com/fadechat/fadechat/internal/infrastructure/backend"
)

type will struct {
	remove bool
	value  json.RawMessage
}

// Session is one logical client connection to the store. Closing it fires
// every armed last-will exactly once and detaches all of its subscriptions,
// modeling an abrupt disconnect; a cooperative leave cancels the wills first.
type Session struct {
	st *Store

	mu       sync.Mutex
	closed   bool
	wills    map[string]will
	cancels  []backend.CancelFunc
	connSubs map[uint64]func(bool)
	nextConn uint64
}

var _ backend.Store = (*Session)(nil)

func (s *Store) Session() *Session {
	return &Session{
		st:       s,
		wills:    make(map[string]will),
		connSubs: make(map[uint64]func(bool)),
	}
}

func (s *Session) guard() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrBackendUnavailable
	}
	return nil
}

func marshal(value any) (json.RawMessage, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("marshal value: %w", err)
	}
	return raw, nil
}

func (s *Session) Write(ctx context.Context, path string, value any) error {
	if err := s.guard(); err != nil {
		return err
	}
	raw, err := marshal(value)
	if err != nil {
		return err
	}
	s.st.write(path, raw)
	return nil
}

func (s *Session) Remove(ctx context.Context, path string) error {
	if err := s.guard(); err != nil {
		return err
	}
	s.st.removeSubtree(path)
	return nil
}

func (s *Session) Read(ctx context.Context, path string) (json.RawMessage, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	v, ok := s.st.read(path)
	if !ok {
		return nil, domain.ErrPathNotFound
	}
	return v, nil
}

func (s *Session) Push(ctx context.Context, path string, value any) (string, error) {
	if err := s.guard(); err != nil {
		return "", err
	}
	raw, err := marshal(value)
	if err != nil {
		return "", err
	}
	return s.st.push(path, raw), nil
}

func (s *Session) Subscribe(path string, fn func(backend.Snapshot)) (backend.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrBackendUnavailable
	}
	cancel := s.st.subscribeValue(path, fn)
	s.cancels = append(s.cancels, cancel)
	return cancel, nil
}

func (s *Session) SubscribeAppend(path string, fn func(string, json.RawMessage)) (backend.CancelFunc, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, domain.ErrBackendUnavailable
	}
	cancel := s.st.subscribeAppend(path, fn)
	s.cancels = append(s.cancels, cancel)
	return cancel, nil
}

func (s *Session) OnDisconnectWrite(path string, value any) error {
	raw, err := marshal(value)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrBackendUnavailable
	}
	s.wills[path] = will{value: raw}
	return nil
}

func (s *Session) OnDisconnectRemove(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrBackendUnavailable
	}
	s.wills[path] = will{remove: true}
	return nil
}

func (s *Session) CancelOnDisconnect(path string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return domain.ErrBackendUnavailable
	}
	delete(s.wills, path)
	return nil
}

func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *Session) SubscribeConnectivity(fn func(bool)) backend.CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextConn++
	id := s.nextConn
	s.connSubs[id] = fn

	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.connSubs, id)
	}
}

// PendingWills reports how many last-wills are currently armed.
func (s *Session) PendingWills() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.wills)
}

func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	wills := s.wills
	s.wills = nil
	cancels := s.cancels
	s.cancels = nil
	subs := make([]func(bool), 0, len(s.connSubs))
	for _, fn := range s.connSubs {
		subs = append(subs, fn)
	}
	s.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	for path, w := range wills {
		if w.remove {
			s.st.removeSubtree(path)
		} else {
			s.st.write(path, w.value)
		}
	}
	for _, fn := range subs {
		fn(false)
	}
	return nil
}
