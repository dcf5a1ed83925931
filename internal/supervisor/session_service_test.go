// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mvillar/gatehouse/internal/session"
)

// stubClient is a minimal session.Client whose ping outcome is settable.
type stubClient struct {
	mu      sync.Mutex
	pingErr error
}

func (c *stubClient) setPingErr(err error) {
	c.mu.Lock()
	c.pingErr = err
	c.mu.Unlock()
}

func (c *stubClient) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pingErr
}

func (c *stubClient) Get(context.Context, string) ([]byte, error) {
	return nil, session.ErrNoSession
}

func (c *stubClient) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (c *stubClient) Expire(context.Context, string, time.Duration) error      { return nil }
func (c *stubClient) Del(context.Context, string) error                        { return nil }
func (c *stubClient) Close() error                                             { return nil }

func sessionCfg() session.Config {
	return session.Config{
		RedisURL:       "redis://127.0.0.1:6379/0",
		KeyPrefix:      "test:sess:",
		CookieName:     "test_session",
		MaxAge:         time.Hour,
		ConnectTimeout: time.Second,
	}
}

func TestSessionServiceConnectsOnStart(t *testing.T) {
	client := &stubClient{}
	manager := session.NewManagerWithDial(sessionCfg(), nil, func(context.Context) (session.Client, error) {
		return client, nil
	})
	svc := NewSessionService(manager, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for manager.State() != session.StateReady {
		if time.Now().After(deadline) {
			t.Fatal("manager never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Serve() error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve() did not return")
	}
	if got := manager.State(); got != session.StateDisconnected {
		t.Fatalf("state after shutdown = %v, want disconnected", got)
	}
}

func TestSessionServiceReconnectsAfterFailedPing(t *testing.T) {
	client := &stubClient{}
	var dials int
	var mu sync.Mutex
	manager := session.NewManagerWithDial(sessionCfg(), nil, func(context.Context) (session.Client, error) {
		mu.Lock()
		dials++
		mu.Unlock()
		return client, nil
	})
	svc := NewSessionService(manager, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errCh := make(chan error, 1)
	go func() { errCh <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for manager.State() != session.StateReady {
		if time.Now().After(deadline) {
			t.Fatal("manager never became ready")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Break pings only; the reconnect dial succeeds and the fresh
	// connection's ping inside Connect must pass, so restore before the
	// ticker fires again.
	client.setPingErr(errors.New("gone"))
	time.Sleep(30 * time.Millisecond)
	client.setPingErr(nil)

	deadline = time.Now().Add(2 * time.Second)
	for {
		mu.Lock()
		n := dials
		mu.Unlock()
		if n >= 2 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("dials = %d, want reconnect (>= 2)", n)
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	<-errCh
}

func TestSessionServiceReturnsConnectError(t *testing.T) {
	dialErr := errors.New("refused")
	manager := session.NewManagerWithDial(sessionCfg(), nil, func(context.Context) (session.Client, error) {
		return nil, dialErr
	})
	svc := NewSessionService(manager, time.Hour)

	err := svc.Serve(context.Background())
	if !errors.Is(err, dialErr) {
		t.Fatalf("Serve() error = %v, want wrapped dial error", err)
	}
}
