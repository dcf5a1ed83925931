// Gatehouse - Edge Request Pipeline and Telemetry
// Copyright 2026 M. Villar (mvillar)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/mvillar/gatehouse

// Package auth verifies administrator credentials for the login endpoint.
package auth

import (
	"crypto/subtle"
	"errors"

	"golang.org/x/crypto/bcrypt"
)

// ErrInvalidCredentials is returned for any mismatch. Callers must not
// distinguish bad usernames from bad passwords in their responses.
var ErrInvalidCredentials = errors.New("auth: invalid credentials")

// Verifier checks submitted credentials against the configured admin
// account. The password is stored as a bcrypt hash; plaintext never
// touches configuration.
type Verifier struct {
	username     string
	passwordHash []byte
}

// NewVerifier creates a Verifier from the configured username and bcrypt
// password hash.
func NewVerifier(username, passwordHash string) (*Verifier, error) {
	if username == "" || passwordHash == "" {
		return nil, errors.New("auth: username and password hash required")
	}
	// Reject malformed hashes at startup rather than at first login.
	if _, err := bcrypt.Cost([]byte(passwordHash)); err != nil {
		return nil, errors.New("auth: password hash is not a valid bcrypt hash")
	}
	return &Verifier{
		username:     username,
		passwordHash: []byte(passwordHash),
	}, nil
}

// Verify checks the submitted username and password. Both comparisons run
// regardless of the username outcome so timing does not leak which field
// was wrong.
func (v *Verifier) Verify(username, password string) error {
	usernameMatch := subtle.ConstantTimeCompare([]byte(username), []byte(v.username)) == 1

	passwordMatch := bcrypt.CompareHashAndPassword(v.passwordHash, []byte(password)) == nil

	if !usernameMatch || !passwordMatch {
		return ErrInvalidCredentials
	}
	return nil
}

// HashPassword produces a bcrypt hash suitable for configuration. Used by
// setup tooling, not the request path.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), 12)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}
