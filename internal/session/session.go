// Package session keeps per-conversation state for the conversational
// backend and serializes turns on the same conversation.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
)

// Scope selects how finely conversations are keyed.
type Scope string

const (
	// ScopeUser keys by team, channel and user.
	ScopeUser Scope = "user"
	// ScopeChannel keys by team and channel; everyone in a channel shares
	// one conversation.
	ScopeChannel Scope = "channel"
)

// ParseScope validates a configured scope string.
func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToLower(strings.TrimSpace(s))) {
	case ScopeUser, "":
		return ScopeUser, nil
	case ScopeChannel:
		return ScopeChannel, nil
	}
	return "", fmt.Errorf("session: unknown scope %q", s)
}

// Key identifies one conversation. Empty fields are part of the identity.
type Key struct {
	TeamID    string
	ChannelID string
	UserID    string
}

// NewKey builds a Key for the given scope.
func NewKey(scope Scope, teamID, channelID, userID string) Key {
	k := Key{TeamID: teamID, ChannelID: channelID, UserID: userID}
	if scope == ScopeChannel {
		k.UserID = ""
	}
	return k
}

// String renders the key as "team:channel:user".
func (k Key) String() string {
	return k.TeamID + ":" + k.ChannelID + ":" + k.UserID
}

// State is the backend's opaque conversation context. A nil State means no
// prior turn.
type State = json.RawMessage

// Store persists State by Key.
type Store interface {
	// Load returns nil, nil when nothing is stored for key.
	Load(ctx context.Context, key Key) (State, error)
	Save(ctx context.Context, key Key, state State) error
}

// StoreError reports a failure of the underlying Store, as opposed to a
// failure returned by the turn function.
type StoreError struct {
	Op  string // "lock", "load" or "save"
	Err error
}

func (e *StoreError) Error() string { return "session: " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

// Manager runs conversation turns against a Store, holding a per-key lock
// across load, turn and save. Turns on different keys run in parallel.
// When the Store is also a Locker its lock is held too, which serializes
// turns across processes sharing the Store.
type Manager struct {
	store Store

	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int
}

// NewManager creates a Manager.
func NewManager(store Store) (*Manager, error) {
	if store == nil {
		return nil, fmt.Errorf("session: store is required")
	}
	return &Manager{store: store, locks: make(map[string]*keyLock)}, nil
}

// Turn loads the prior state for key, calls fn with it, and saves the state
// fn returns. When fn fails nothing is saved and fn's error is returned
// unchanged. Store failures are returned as *StoreError.
func (m *Manager) Turn(ctx context.Context, key Key, fn func(prior State) (State, error)) error {
	unlock, err := m.lock(ctx, key.String())
	if err != nil {
		return err
	}
	defer unlock()

	if l, ok := m.store.(Locker); ok {
		unlockStore, err := l.Lock(ctx, key)
		if err != nil {
			if ctx.Err() != nil {
				return err
			}
			return &StoreError{Op: "lock", Err: err}
		}
		defer unlockStore()
	}

	prior, err := m.store.Load(ctx, key)
	if err != nil {
		return &StoreError{Op: "load", Err: err}
	}
	next, err := fn(prior)
	if err != nil {
		return err
	}
	if err := m.store.Save(ctx, key, next); err != nil {
		return &StoreError{Op: "save", Err: err}
	}
	return nil
}

// lock acquires the lock for name, giving up when ctx ends.
func (m *Manager) lock(ctx context.Context, name string) (func(), error) {
	m.mu.Lock()
	l, ok := m.locks[name]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		m.locks[name] = l
	}
	l.refs++
	m.mu.Unlock()

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			m.release(name, l)
		}, nil
	case <-ctx.Done():
		m.release(name, l)
		return nil, ctx.Err()
	}
}

func (m *Manager) release(name string, l *keyLock) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l.refs--
	if l.refs == 0 {
		delete(m.locks, name)
	}
}

// activeLocks is the number of keys with holders or waiters.
func (m *Manager) activeLocks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}
