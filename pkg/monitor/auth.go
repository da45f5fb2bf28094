// Copyright 2020-2021 The Playout Authors.
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation; version 2.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package monitor

import (
	"golang.org/x/crypto/bcrypt"
)

// TokenAuth validates the bearer token a monitor websocket subscriber
// presents, checked against a single bcrypt-hashed shared secret. This is
// the scoped-down analogue of the teacher's pkg/web/auth.Authenticator:
// the control surface that manages real accounts is out of the core's
// scope (spec.md §1), but telemetry still shouldn't be wide open.
type TokenAuth struct {
	hash []byte
}

// NewTokenAuth hashes token with bcrypt at its default cost.
func NewTokenAuth(token string) (*TokenAuth, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(token), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &TokenAuth{hash: hash}, nil
}

// Valid reports whether token matches the configured secret.
func (a *TokenAuth) Valid(token string) bool {
	return bcrypt.CompareHashAndPassword(a.hash, []byte(token)) == nil
}
