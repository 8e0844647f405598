package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"testing"
	"time"
)

// memStore is an in-memory Store for Manager tests.
type memStore struct {
	mu      sync.Mutex
	data    map[string]State
	loadErr error
	saveErr error
	saves   int
}

func newMemStore() *memStore { return &memStore{data: map[string]State{}} }

func (s *memStore) Load(_ context.Context, key Key) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return s.data[key.String()], nil
}

func (s *memStore) Save(_ context.Context, key Key, state State) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.data[key.String()] = state
	s.saves++
	return nil
}

func counterTurn(prior State) (State, error) {
	n := 0
	if prior != nil {
		if err := json.Unmarshal(prior, &n); err != nil {
			return nil, err
		}
	}
	return State(strconv.Itoa(n + 1)), nil
}

func TestNewKey(t *testing.T) {
	tests := []struct {
		scope Scope
		want  string
	}{
		{ScopeUser, "T1:C1:U1"},
		{ScopeChannel, "T1:C1:"},
	}
	for _, tt := range tests {
		if got := NewKey(tt.scope, "T1", "C1", "U1").String(); got != tt.want {
			t.Errorf("NewKey(%s) = %q, want %q", tt.scope, got, tt.want)
		}
	}
	if (Key{TeamID: "T1", UserID: "U1"}).String() == (Key{TeamID: "T1", ChannelID: "U1"}).String() {
		t.Error("keys with different fields render identically")
	}
}

func TestParseScope(t *testing.T) {
	for in, want := range map[string]Scope{"": ScopeUser, "user": ScopeUser, "Channel": ScopeChannel} {
		got, err := ParseScope(in)
		if err != nil || got != want {
			t.Errorf("ParseScope(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseScope("team"); err == nil {
		t.Error("ParseScope(team) expected error")
	}
}

func TestNewManager_RequiresStore(t *testing.T) {
	if _, err := NewManager(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestTurn_PassesPriorState(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store)
	key := Key{TeamID: "T1", ChannelID: "C1", UserID: "U1"}

	var seen []string
	for i := 0; i < 3; i++ {
		err := m.Turn(context.Background(), key, func(prior State) (State, error) {
			seen = append(seen, string(prior))
			return counterTurn(prior)
		})
		if err != nil {
			t.Fatalf("Turn %d: %v", i, err)
		}
	}
	want := []string{"", "1", "2"}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("turn %d prior = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestTurn_FailureKeepsState(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store)
	key := Key{TeamID: "T1", ChannelID: "C1"}
	_ = m.Turn(context.Background(), key, counterTurn)

	boom := errors.New("backend down")
	err := m.Turn(context.Background(), key, func(State) (State, error) { return State(`"x"`), boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	var se *StoreError
	if errors.As(err, &se) {
		t.Error("turn failure reported as StoreError")
	}
	if got := string(store.data[key.String()]); got != "1" {
		t.Errorf("state = %q, want unchanged 1", got)
	}
	if store.saves != 1 {
		t.Errorf("saves = %d, want 1", store.saves)
	}
}

func TestTurn_StoreErrors(t *testing.T) {
	key := Key{TeamID: "T1"}

	store := newMemStore()
	store.loadErr = errors.New("db gone")
	m, _ := NewManager(store)
	called := false
	err := m.Turn(context.Background(), key, func(State) (State, error) {
		called = true
		return nil, nil
	})
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "load" {
		t.Fatalf("err = %v, want load StoreError", err)
	}
	if called {
		t.Error("turn function called after load failure")
	}

	store = newMemStore()
	store.saveErr = errors.New("disk full")
	m, _ = NewManager(store)
	err = m.Turn(context.Background(), key, counterTurn)
	if !errors.As(err, &se) || se.Op != "save" {
		t.Fatalf("err = %v, want save StoreError", err)
	}
}

func TestTurn_SameKeyNoLostUpdates(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store)
	key := Key{TeamID: "T1", ChannelID: "C1", UserID: "U1"}

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := m.Turn(context.Background(), key, counterTurn); err != nil {
				t.Errorf("Turn: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := string(store.data[key.String()]); got != strconv.Itoa(n) {
		t.Errorf("counter = %s, want %d", got, n)
	}
	if got := m.activeLocks(); got != 0 {
		t.Errorf("activeLocks = %d, want 0", got)
	}
}

func TestTurn_DifferentKeysIndependent(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store)

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = m.Turn(context.Background(), Key{TeamID: "T1", UserID: "U1"}, func(prior State) (State, error) {
			close(entered)
			<-hold
			return State(`"a"`), nil
		})
	}()
	<-entered

	done := make(chan error, 1)
	go func() {
		done <- m.Turn(context.Background(), Key{TeamID: "T1", UserID: "U2"}, func(prior State) (State, error) {
			return State(`"b"`), nil
		})
	}()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Turn U2: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("turn on a different key blocked")
	}
	close(hold)
}

func TestTurn_ContextCancelledWhileWaiting(t *testing.T) {
	store := newMemStore()
	m, _ := NewManager(store)
	key := Key{TeamID: "T1"}

	hold := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = m.Turn(context.Background(), key, func(State) (State, error) {
			close(entered)
			<-hold
			return nil, nil
		})
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := m.Turn(ctx, key, func(State) (State, error) {
		return nil, fmt.Errorf("should not run")
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want deadline exceeded", err)
	}
	close(hold)
}

// appendTurn appends "x" to a JSON string state, pausing so overlapping
// turns would interleave without a lock.
func appendTurn(prior State) (State, error) {
	var s string
	if prior != nil {
		if err := json.Unmarshal(prior, &s); err != nil {
			return nil, err
		}
	}
	time.Sleep(30 * time.Millisecond)
	b, err := json.Marshal(s + "x")
	return State(b), err
}

// lockingStore is a memStore that also implements Locker.
type lockingStore struct {
	*memStore
	lockErr error
	held    bool
	locks   int
	unlocks int
}

func (s *lockingStore) Lock(_ context.Context, _ Key) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockErr != nil {
		return nil, s.lockErr
	}
	s.locks++
	s.held = true
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.unlocks++
		s.held = false
	}, nil
}

func TestManager_HoldsStoreLockAcrossTurn(t *testing.T) {
	store := &lockingStore{memStore: newMemStore()}
	m, _ := NewManager(store)

	err := m.Turn(context.Background(), Key{TeamID: "T1"}, func(prior State) (State, error) {
		store.mu.Lock()
		held := store.held
		store.mu.Unlock()
		if !held {
			t.Error("store lock not held during turn")
		}
		return counterTurn(prior)
	})
	if err != nil {
		t.Fatalf("Turn: %v", err)
	}
	if store.locks != 1 || store.unlocks != 1 {
		t.Errorf("locks = %d, unlocks = %d, want 1 and 1", store.locks, store.unlocks)
	}
}

func TestManager_StoreLockFailure(t *testing.T) {
	store := &lockingStore{memStore: newMemStore(), lockErr: errors.New("redis down")}
	m, _ := NewManager(store)

	called := false
	err := m.Turn(context.Background(), Key{TeamID: "T1"}, func(prior State) (State, error) {
		called = true
		return counterTurn(prior)
	})
	var se *StoreError
	if !errors.As(err, &se) || se.Op != "lock" {
		t.Fatalf("err = %v, want *StoreError lock", err)
	}
	if called {
		t.Error("turn ran without the store lock")
	}
	if store.saves != 0 {
		t.Errorf("saves = %d, want 0", store.saves)
	}
	if n := m.activeLocks(); n != 0 {
		t.Errorf("activeLocks = %d after failure", n)
	}
}
