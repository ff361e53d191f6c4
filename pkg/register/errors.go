// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package register

import "fmt"

// ValidationError reports a malformed registration request. Field names
// the JSON field, not the Go one.
type ValidationError struct {
	Field  string
	Reason string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// CallbackError reports that callback attestation did not succeed within
// the retry budget. Attempts counts calls actually made.
type CallbackError struct {
	Reason   string
	Attempts int
}

// Error implements the error interface.
func (e *CallbackError) Error() string {
	return fmt.Sprintf("site verification failed after %d attempt(s): %s", e.Attempts, e.Reason)
}
