// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

// Package session owns the long-lived connection to the Redis session store
// and exposes a scoped, rolling-expiry session accessor to the request
// pipeline.
//
// The connection lifecycle is an explicit state machine:
//
//	disconnected -> connecting -> ready
//	ready -> closing -> disconnected
//
// At most one connection attempt is ever in flight. Callers that arrive
// while an attempt is running wait on the same attempt, bounded by the
// configured connect timeout, instead of racing a second dial.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/metrics"
)

var (
	// ErrConnectTimeout is returned when a caller's bounded wait on the
	// in-flight connection attempt expires.
	ErrConnectTimeout = errors.New("session store: connect timeout")

	// ErrSessionUnavailable signals that the session store cannot serve
	// requests right now. Route handlers receive this instead of a crash.
	ErrSessionUnavailable = errors.New("session store: unavailable")

	// ErrNoSession is returned by Store.Get when no record exists for the id.
	ErrNoSession = errors.New("session store: no such session")
)

// State enumerates the connection lifecycle states.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateReady
	StateClosing
)

// String implements fmt.Stringer for logging.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// Client is the narrow backing-store surface the manager needs. Satisfied in
// production by redisClient; tests substitute an in-memory fake.
type Client interface {
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Close() error
}

// Config holds the session store settings, derived from the application
// configuration at startup.
type Config struct {
	RedisURL       string
	KeyPrefix      string
	CookieName     string
	MaxAge         time.Duration
	ConnectTimeout time.Duration

	// SecureCookies enables Secure + SameSite=Strict cookie attributes.
	// Set from the production environment flag.
	SecureCookies bool
}

// DialFunc establishes a connection to the backing store. Overridable in
// tests.
type DialFunc func(ctx context.Context) (Client, error)

// Manager owns the shared session store connection.
type Manager struct {
	cfg    Config
	dial   DialFunc
	reg    *metrics.Registry
	logger zerolog.Logger

	mu         sync.Mutex
	state      State
	client     Client
	inflight   chan struct{} // closed when the current attempt resolves
	connectErr error         // outcome of the last resolved attempt
}

// NewManager creates a Manager in the disconnected state. No connection is
// attempted until Connect is called.
func NewManager(cfg Config, reg *metrics.Registry) *Manager {
	m := &Manager{
		cfg:    cfg,
		reg:    reg,
		logger: logging.WithComponent("session"),
		state:  StateDisconnected,
	}
	m.dial = func(ctx context.Context) (Client, error) {
		return dialRedis(ctx, cfg.RedisURL)
	}
	return m
}

// NewManagerWithDial creates a Manager with a custom dial function.
func NewManagerWithDial(cfg Config, reg *metrics.Registry, dial DialFunc) *Manager {
	m := NewManager(cfg, reg)
	m.dial = dial
	return m
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connect ensures the store connection is established. The first caller in
// the disconnected (or closing) state initiates the attempt; concurrent
// callers wait for that same attempt to resolve, bounded by the configured
// connect timeout. Startup code treats an error here as fatal.
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()

	switch m.state {
	case StateReady:
		m.mu.Unlock()
		return nil

	case StateConnecting:
		ch := m.inflight
		m.mu.Unlock()
		return m.await(ctx, ch)

	case StateDisconnected, StateClosing:
		ch := make(chan struct{})
		m.inflight = ch
		m.state = StateConnecting
		m.mu.Unlock()

		m.logger.Info().Str("state", StateConnecting.String()).Msg("Connecting to session store")

		dialCtx, cancel := context.WithTimeout(ctx, m.cfg.ConnectTimeout)
		defer cancel()

		client, err := m.dial(dialCtx)
		if err == nil {
			err = client.Ping(dialCtx)
			if err != nil {
				_ = client.Close()
			}
		}

		m.mu.Lock()
		if err != nil {
			m.state = StateDisconnected
			m.connectErr = fmt.Errorf("session store connect failed: %w", err)
		} else {
			m.state = StateReady
			m.client = client
			m.connectErr = nil
		}
		result := m.connectErr
		close(ch)
		m.mu.Unlock()

		if result != nil {
			m.logger.Error().Err(result).Msg("Session store connection failed")
			return result
		}
		m.logger.Info().Str("state", StateReady.String()).Msg("Session store connected")
		return nil

	default:
		m.mu.Unlock()
		return ErrSessionUnavailable
	}
}

// await blocks until the in-flight attempt resolves, the connect timeout
// expires, or the caller's context is canceled.
func (m *Manager) await(ctx context.Context, ch <-chan struct{}) error {
	timer := time.NewTimer(m.cfg.ConnectTimeout)
	defer timer.Stop()

	select {
	case <-ch:
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.connectErr
	case <-timer.C:
		return ErrConnectTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Store returns a session accessor scoped to the configured key prefix.
// Returns ErrSessionUnavailable unless the connection is ready.
func (m *Manager) Store() (*Store, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != StateReady {
		return nil, ErrSessionUnavailable
	}
	return &Store{
		client: m.client,
		prefix: m.cfg.KeyPrefix,
		maxAge: m.cfg.MaxAge,
		reg:    m.reg,
	}, nil
}

// Ping verifies connectivity for readiness probes.
func (m *Manager) Ping(ctx context.Context) error {
	m.mu.Lock()
	client := m.client
	ready := m.state == StateReady
	m.mu.Unlock()

	if !ready {
		return ErrSessionUnavailable
	}
	return client.Ping(ctx)
}

// Close tears the connection down: ready -> closing -> disconnected.
// Closure is best-effort; a failure is logged by the caller, not retried.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state != StateReady {
		m.state = StateDisconnected
		m.client = nil
		m.mu.Unlock()
		return nil
	}
	m.state = StateClosing
	client := m.client
	m.mu.Unlock()

	err := client.Close()

	m.mu.Lock()
	m.state = StateDisconnected
	m.client = nil
	m.mu.Unlock()

	if err != nil {
		return fmt.Errorf("session store close failed: %w", err)
	}
	return nil
}

// redisClient adapts go-redis to the Client interface.
type redisClient struct {
	rdb *redis.Client
}

// dialRedis parses the URL and constructs the client. The actual handshake
// happens in Manager.Connect via Ping.
func dialRedis(_ context.Context, url string) (Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &redisClient{rdb: redis.NewClient(opts)}, nil
}

func (c *redisClient) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func (c *redisClient) Get(ctx context.Context, key string) ([]byte, error) {
	val, err := c.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNoSession
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return val, nil
}

func (c *redisClient) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *redisClient) Expire(ctx context.Context, key string, ttl time.Duration) error {
	if err := c.rdb.Expire(ctx, key, ttl).Err(); err != nil {
		return fmt.Errorf("redis expire %s: %w", key, err)
	}
	return nil
}

func (c *redisClient) Del(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", key, err)
	}
	return nil
}

func (c *redisClient) Close() error {
	return c.rdb.Close()
}
