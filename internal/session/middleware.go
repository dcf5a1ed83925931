// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mvillar/gatehouse/internal/logging"
)

type contextKey struct{}

var sessionKey contextKey

// Session is the per-request session handle placed on the request context.
// It is not safe for concurrent use; a request handles its own session.
type Session struct {
	id        string
	rec       *Record
	dirty     bool
	destroyed bool
	err       error // ErrSessionUnavailable when the store is down
}

// FromContext returns the request's session handle. The middleware always
// installs one, so handlers behind it get a non-nil session; callers outside
// the pipeline get an empty unauthenticated session.
func FromContext(ctx context.Context) *Session {
	if s, ok := ctx.Value(sessionKey).(*Session); ok {
		return s
	}
	return &Session{}
}

// Err reports ErrSessionUnavailable when the backing store could not be
// reached for this request. Handlers that require a session should degrade
// to 503 rather than treat the caller as unauthenticated and fail with 401.
func (s *Session) Err() error {
	return s.err
}

// Authenticated reports whether the request carried a valid session.
func (s *Session) Authenticated() bool {
	return s.rec != nil && !s.destroyed
}

// UserID returns the authenticated user, or "" for anonymous sessions.
func (s *Session) UserID() string {
	if s.rec == nil {
		return ""
	}
	return s.rec.UserID
}

// IssuedAt returns when the session was established.
func (s *Session) IssuedAt() time.Time {
	if s.rec == nil {
		return time.Time{}
	}
	return s.rec.IssuedAt
}

// Get reads a value from the session's data bag.
func (s *Session) Get(key string) string {
	if s.rec == nil {
		return ""
	}
	return s.rec.Data[key]
}

// Set writes a value into the session's data bag and marks the session
// dirty so it is persisted before the response goes out.
func (s *Session) Set(key, value string) {
	if s.rec == nil {
		s.rec = &Record{IssuedAt: time.Now().UTC()}
	}
	if s.rec.Data == nil {
		s.rec.Data = make(map[string]string)
	}
	s.rec.Data[key] = value
	s.dirty = true
}

// Login establishes an authenticated session for the given user. A new
// session id is minted to prevent fixation.
func (s *Session) Login(userID string) {
	s.id = uuid.NewString()
	s.rec = &Record{UserID: userID, IssuedAt: time.Now().UTC()}
	s.destroyed = false
	s.dirty = true
}

// Destroy marks the session for deletion; the record is removed and the
// cookie expired before the response goes out.
func (s *Session) Destroy() {
	s.destroyed = true
	s.dirty = true
}

// Middleware loads the session named by the request cookie, installs the
// handle on the context, and persists any changes before the first byte of
// the response. Rolling expiry: each request with a valid session extends
// its TTL. When the store is unavailable the request proceeds with
// Err() = ErrSessionUnavailable instead of failing outright.
func Middleware(m *Manager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sess := &Session{}
			log := logging.Ctx(r.Context())

			store, err := m.Store()
			if err != nil {
				sess.err = ErrSessionUnavailable
				log.Warn().Str("state", m.State().String()).Msg("Session store unavailable, continuing without session")
			} else if cookie, cerr := r.Cookie(m.cfg.CookieName); cerr == nil && cookie.Value != "" {
				rec, gerr := store.Get(r.Context(), cookie.Value)
				switch {
				case gerr == nil:
					sess.id = cookie.Value
					sess.rec = rec
					if terr := store.Touch(r.Context(), cookie.Value); terr != nil {
						log.Warn().Err(terr).Msg("Session TTL refresh failed")
					}
				case errors.Is(gerr, ErrNoSession):
					// Stale cookie; proceed anonymous.
				default:
					sess.err = ErrSessionUnavailable
					log.Warn().Err(gerr).Msg("Session load failed, continuing without session")
				}
			}

			sw := &sessionWriter{
				ResponseWriter: w,
				req:            r,
				sess:           sess,
				store:          store,
				cfg:            m.cfg,
			}

			ctx := context.WithValue(r.Context(), sessionKey, sess)
			next.ServeHTTP(sw, r.WithContext(ctx))

			// Handlers that return without writing leave the implicit 200
			// to the server; flush session state first.
			sw.flush()
		})
	}
}

// sessionWriter persists a dirty session and emits the cookie header just
// before the response headers are committed.
type sessionWriter struct {
	http.ResponseWriter
	req     *http.Request
	sess    *Session
	store   *Store
	cfg     Config
	flushed bool
}

func (sw *sessionWriter) WriteHeader(status int) {
	sw.flush()
	sw.ResponseWriter.WriteHeader(status)
}

func (sw *sessionWriter) Write(b []byte) (int, error) {
	sw.flush()
	return sw.ResponseWriter.Write(b)
}

func (sw *sessionWriter) flush() {
	if sw.flushed {
		return
	}
	sw.flushed = true

	sess := sw.sess
	if !sess.dirty || sw.store == nil {
		return
	}
	log := logging.Ctx(sw.req.Context())

	if sess.destroyed {
		if sess.id != "" {
			if err := sw.store.Delete(sw.req.Context(), sess.id); err != nil {
				log.Warn().Err(err).Msg("Session delete failed")
			}
		}
		http.SetCookie(sw.ResponseWriter, sw.cookie("", -1))
		return
	}

	if sess.id == "" {
		sess.id = uuid.NewString()
	}
	if err := sw.store.Save(sw.req.Context(), sess.id, sess.rec); err != nil {
		log.Error().Err(err).Msg("Session save failed")
		return
	}
	http.SetCookie(sw.ResponseWriter, sw.cookie(sess.id, int(sw.cfg.MaxAge.Seconds())))
}

func (sw *sessionWriter) cookie(value string, maxAge int) *http.Cookie {
	sameSite := http.SameSiteLaxMode
	if sw.cfg.SecureCookies {
		sameSite = http.SameSiteStrictMode
	}
	return &http.Cookie{
		Name:     sw.cfg.CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   sw.cfg.SecureCookies,
		SameSite: sameSite,
	}
}
