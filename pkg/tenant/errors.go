// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package tenant

import (
	"errors"
	"fmt"
)

// DuplicateKind identifies which uniqueness invariant a conflicting
// insert or update tripped.
type DuplicateKind string

// Uniqueness invariants of the tenant record.
const (
	DuplicateSite   DuplicateKind = "site"
	DuplicateEmail  DuplicateKind = "email"
	DuplicateID     DuplicateKind = "id"
	DuplicateAPIKey DuplicateKind = "api_key"
)

// DuplicateError reports a uniqueness violation. It is returned verbatim
// to callers of the API surface.
type DuplicateError struct {
	Kind DuplicateKind
}

// Error implements the error interface.
func (e *DuplicateError) Error() string {
	switch e.Kind {
	case DuplicateSite:
		return "site URL already registered"
	case DuplicateEmail:
		return "admin email already associated with another tenant"
	default:
		return fmt.Sprintf("duplicate tenant (%s)", e.Kind)
	}
}

// IsDuplicate reports whether err is a DuplicateError, returning it.
func IsDuplicate(err error) (*DuplicateError, bool) {
	var dup *DuplicateError
	ok := errors.As(err, &dup)
	return dup, ok
}

var (
	// ErrNotFound is returned when a tenant does not exist or is inactive.
	ErrNotFound = errors.New("tenant not found")

	// ErrInvalidCredentials is returned on a tenant/api-key mismatch. It
	// deliberately does not say which field mismatched.
	ErrInvalidCredentials = errors.New("invalid tenant credentials")
)
