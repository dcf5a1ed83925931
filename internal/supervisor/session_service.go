// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package supervisor

import (
	"context"
	"time"

	"github.com/mvillar/gatehouse/internal/logging"
	"github.com/mvillar/gatehouse/internal/session"
)

// SessionService supervises the session store connection. It reconnects
// when the manager drops to disconnected and pings on an interval so a
// dead backend is noticed before a request hits it. On shutdown the
// connection is closed best-effort.
type SessionService struct {
	manager      *session.Manager
	pingInterval time.Duration
}

// NewSessionService wraps the session manager as a supervised service.
func NewSessionService(manager *session.Manager, pingInterval time.Duration) *SessionService {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &SessionService{
		manager:      manager,
		pingInterval: pingInterval,
	}
}

// Serve implements suture.Service. A failed reconnect returns the error so
// suture applies its restart backoff instead of this loop hot-spinning.
func (s *SessionService) Serve(ctx context.Context) error {
	log := logging.WithComponent("session-service")

	if s.manager.State() != session.StateReady {
		if err := s.manager.Connect(ctx); err != nil {
			return err
		}
	}

	ticker := time.NewTicker(s.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if err := s.manager.Close(); err != nil {
				log.Warn().Err(err).Msg("Session store close failed during shutdown")
			}
			return ctx.Err()

		case <-ticker.C:
			if err := s.manager.Ping(ctx); err != nil {
				log.Warn().Err(err).Msg("Session store ping failed, reconnecting")
				// Drop the connection so the next Connect dials fresh.
				_ = s.manager.Close()
				if err := s.manager.Connect(ctx); err != nil {
					return err
				}
			}
		}
	}
}

// String implements fmt.Stringer; suture uses it in event logs.
func (s *SessionService) String() string {
	return "session-store"
}
