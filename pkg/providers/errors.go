// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package providers

import "errors"

// Broker error values. The API boundary maps these to status codes;
// nothing below it inspects provider responses directly.
var (
	// ErrKeyFormat is returned when a submitted key does not carry the
	// provider's syntactic prefix. No probe is attempted.
	ErrKeyFormat = errors.New("provider key does not match the expected format")

	// ErrInvalidProviderKey is returned when the provider rejected the key
	// (401 or 403 on the probe).
	ErrInvalidProviderKey = errors.New("provider rejected the API key")

	// ErrProbeUnavailable is returned when the probe could not reach a
	// verdict: network failure or a provider-side error. Nothing is stored.
	ErrProbeUnavailable = errors.New("provider could not be reached to validate the key")

	// ErrNoProviderKey is returned when a tenant has no key configured for
	// the requested provider.
	ErrNoProviderKey = errors.New("no API key configured for this provider")
)
