// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/mvillar/gatehouse/internal/metrics"
)

// Record is the serialized session payload stored under the prefixed key.
type Record struct {
	UserID   string            `json:"user_id"`
	IssuedAt time.Time         `json:"issued_at"`
	Data     map[string]string `json:"data,omitempty"`
}

// Store reads and writes session records against the backing store, scoped
// to the configured key prefix. Obtained from Manager.Store while the
// connection is ready.
type Store struct {
	client Client
	prefix string
	maxAge time.Duration
	reg    *metrics.Registry
}

func (s *Store) key(id string) string {
	return s.prefix + id
}

func (s *Store) record(op, result string) {
	if s.reg != nil {
		s.reg.RecordCacheOperation(op, result)
	}
}

// Get loads the record for the given session id. Returns ErrNoSession when
// the id is unknown or expired.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	raw, err := s.client.Get(ctx, s.key(id))
	if errors.Is(err, ErrNoSession) {
		s.record("get", "miss")
		return nil, ErrNoSession
	}
	if err != nil {
		s.record("get", "error")
		return nil, err
	}

	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		s.record("get", "error")
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	s.record("get", "hit")
	return &rec, nil
}

// Save persists the record with a fresh max-age TTL.
func (s *Store) Save(ctx context.Context, id string, rec *Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		s.record("set", "error")
		return fmt.Errorf("encode session %s: %w", id, err)
	}
	if err := s.client.Set(ctx, s.key(id), raw, s.maxAge); err != nil {
		s.record("set", "error")
		return err
	}
	s.record("set", "ok")
	return nil
}

// Touch extends the record's TTL to a fresh max-age. Used for rolling
// expiry on each authenticated request.
func (s *Store) Touch(ctx context.Context, id string) error {
	if err := s.client.Expire(ctx, s.key(id), s.maxAge); err != nil {
		s.record("touch", "error")
		return err
	}
	s.record("touch", "ok")
	return nil
}

// Delete removes the record.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.key(id)); err != nil {
		s.record("delete", "error")
		return err
	}
	s.record("delete", "ok")
	return nil
}
