// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// fakeClient is an in-memory Client for tests.
type fakeClient struct {
	mu      sync.Mutex
	data    map[string][]byte
	ttls    map[string]time.Duration
	pingErr error
	closed  bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		data: make(map[string][]byte),
		ttls: make(map[string]time.Duration),
	}
}

func (f *fakeClient) Ping(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.pingErr
}

func (f *fakeClient) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.data[key]
	if !ok {
		return nil, ErrNoSession
	}
	return v, nil
}

func (f *fakeClient) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.data[key] = value
	f.ttls[key] = ttl
	return nil
}

func (f *fakeClient) Expire(_ context.Context, key string, ttl time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.data[key]; !ok {
		return nil
	}
	f.ttls[key] = ttl
	return nil
}

func (f *fakeClient) Del(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.data, key)
	delete(f.ttls, key)
	return nil
}

func (f *fakeClient) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func testConfig() Config {
	return Config{
		RedisURL:       "redis://127.0.0.1:6379/0",
		KeyPrefix:      "test:sess:",
		CookieName:     "test_session",
		MaxAge:         time.Hour,
		ConnectTimeout: 2 * time.Second,
	}
}

func TestConnectSuccess(t *testing.T) {
	fake := newFakeClient()
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		return fake, nil
	})

	if got := m.State(); got != StateDisconnected {
		t.Fatalf("initial state = %v, want disconnected", got)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("state after connect = %v, want ready", got)
	}

	// Connect is idempotent once ready.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("second Connect() error = %v", err)
	}
}

func TestConnectFailure(t *testing.T) {
	dialErr := errors.New("connection refused")
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		return nil, dialErr
	})

	err := m.Connect(context.Background())
	if err == nil {
		t.Fatal("Connect() succeeded, want error")
	}
	if !errors.Is(err, dialErr) {
		t.Fatalf("Connect() error = %v, want wrapped %v", err, dialErr)
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state after failed connect = %v, want disconnected", got)
	}
	if _, err := m.Store(); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("Store() error = %v, want ErrSessionUnavailable", err)
	}
}

func TestConnectSingleFlight(t *testing.T) {
	var dials atomic.Int32
	release := make(chan struct{})
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		dials.Add(1)
		<-release
		return newFakeClient(), nil
	})

	const callers = 10
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = m.Connect(context.Background())
		}(i)
	}

	// Let every goroutine reach the state machine before resolving the dial.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := dials.Load(); got != 1 {
		t.Fatalf("dial invoked %d times, want 1", got)
	}
	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: Connect() error = %v", i, err)
		}
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("state = %v, want ready", got)
	}
}

func TestConnectWaiterTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.ConnectTimeout = 50 * time.Millisecond

	release := make(chan struct{})
	defer close(release)
	m := NewManagerWithDial(cfg, nil, func(context.Context) (Client, error) {
		<-release
		return newFakeClient(), nil
	})

	go func() { _ = m.Connect(context.Background()) }()

	// Wait until the initiator has moved the machine to connecting.
	deadline := time.Now().Add(time.Second)
	for m.State() != StateConnecting {
		if time.Now().After(deadline) {
			t.Fatal("manager never entered connecting state")
		}
		time.Sleep(time.Millisecond)
	}

	err := m.Connect(context.Background())
	if !errors.Is(err, ErrConnectTimeout) {
		t.Fatalf("waiter Connect() error = %v, want ErrConnectTimeout", err)
	}
}

func TestCloseTransitions(t *testing.T) {
	fake := newFakeClient()
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		return fake, nil
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := m.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if !fake.closed {
		t.Error("backing client was not closed")
	}
	if got := m.State(); got != StateDisconnected {
		t.Fatalf("state after close = %v, want disconnected", got)
	}

	// Close on a disconnected manager is a no-op.
	if err := m.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}

	// The machine allows reconnecting after close.
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("reconnect error = %v", err)
	}
	if got := m.State(); got != StateReady {
		t.Fatalf("state after reconnect = %v, want ready", got)
	}
}

func TestPingRequiresReady(t *testing.T) {
	fake := newFakeClient()
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		return fake, nil
	})

	if err := m.Ping(context.Background()); !errors.Is(err, ErrSessionUnavailable) {
		t.Fatalf("Ping() before connect error = %v, want ErrSessionUnavailable", err)
	}
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	if err := m.Ping(context.Background()); err != nil {
		t.Fatalf("Ping() error = %v", err)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	fake := newFakeClient()
	m := NewManagerWithDial(testConfig(), nil, func(context.Context) (Client, error) {
		return fake, nil
	})
	if err := m.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	store, err := m.Store()
	if err != nil {
		t.Fatalf("Store() error = %v", err)
	}

	ctx := context.Background()
	rec := &Record{UserID: "admin", IssuedAt: time.Now().UTC().Truncate(time.Second)}
	if err := store.Save(ctx, "abc", rec); err != nil {
		t.Fatalf("Save() error = %v", err)
	}

	// Keys are scoped by the configured prefix.
	if _, ok := fake.data["test:sess:abc"]; !ok {
		t.Fatal("record not stored under prefixed key")
	}
	if got := fake.ttls["test:sess:abc"]; got != time.Hour {
		t.Fatalf("stored TTL = %v, want 1h", got)
	}

	loaded, err := store.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if loaded.UserID != "admin" {
		t.Fatalf("loaded UserID = %q, want admin", loaded.UserID)
	}
	if !loaded.IssuedAt.Equal(rec.IssuedAt) {
		t.Fatalf("loaded IssuedAt = %v, want %v", loaded.IssuedAt, rec.IssuedAt)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Get(missing) error = %v, want ErrNoSession", err)
	}

	fake.ttls["test:sess:abc"] = time.Minute
	if err := store.Touch(ctx, "abc"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}
	if got := fake.ttls["test:sess:abc"]; got != time.Hour {
		t.Fatalf("TTL after touch = %v, want 1h", got)
	}

	if err := store.Delete(ctx, "abc"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := store.Get(ctx, "abc"); !errors.Is(err, ErrNoSession) {
		t.Fatalf("Get() after delete error = %v, want ErrNoSession", err)
	}
}
