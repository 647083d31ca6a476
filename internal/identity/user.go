// Copyright 2026 The Gatekeeper Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package identity

import (
	"context"
	"errors"
	"slices"
	"time"
)

// Domain errors
var (
	ErrUserNotFound         = errors.New("user not found")
	ErrUserAlreadyExists    = errors.New("user already exists")
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrInvalidUsername      = errors.New("invalid username")
	ErrWeakPassword         = errors.New("password does not meet security requirements")
	ErrInvalidRole          = errors.New("invalid role")
)

// User is an account in the external user directory.
// Roles and scopes share the Authorities namespace.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Authorities  []string
	Enabled      bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HasAuthority reports whether the raw authority list contains a.
func (u *User) HasAuthority(a string) bool {
	return slices.Contains(u.Authorities, a)
}

func (u *User) clone() *User {
	c := *u
	c.Authorities = slices.Clone(u.Authorities)
	return &c
}

// Principal is the result of a successful authentication.
type Principal struct {
	Subject     string
	Authorities []string
}

// UserDirectory is the account store the server reads credentials and authorities from.
type UserDirectory interface {
	// FindByUsername returns ErrUserNotFound when no account matches.
	FindByUsername(ctx context.Context, username string) (*User, error)

	// Upsert creates or replaces the account keyed by username.
	Upsert(ctx context.Context, user *User) error
}
