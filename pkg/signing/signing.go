// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package signing implements the HMAC envelope that authenticates
// protected requests: a signature, timestamp, and version header triple
// computed over the raw request body with the tenant's HMAC secret.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Wire headers of the HMAC envelope.
const (
	// SignatureHeader carries "hmac-sha256=<lowercase hex>".
	SignatureHeader = "X-EagleChat-Signature"

	// TimestampHeader carries the signing time as unix seconds.
	TimestampHeader = "X-EagleChat-Timestamp"

	// VersionHeader carries the envelope version.
	VersionHeader = "X-EagleChat-Version"

	// Version is the only envelope version this gateway speaks.
	Version = "v1"

	signaturePrefix = "hmac-sha256="
)

// FreshnessWindow is the maximum clock difference tolerated between the
// signing timestamp and the verifier's wall clock. Not configurable: it
// is the replay-surface/clock-skew trade-off of the protocol itself.
const FreshnessWindow = 300 * time.Second

// Verification errors. Handlers collapse these to a generic unauthorized
// response and log the detail.
var (
	// ErrMissingHeaders is returned when any envelope header is absent.
	ErrMissingHeaders = errors.New("missing signature, timestamp, or version header")

	// ErrMalformedTimestamp is returned when the timestamp header does
	// not parse as unix seconds. A malformed envelope, like a missing
	// one, is a client error rather than a failed verification.
	ErrMalformedTimestamp = errors.New("timestamp header is not unix seconds")

	// ErrStaleTimestamp is returned when the timestamp is outside the
	// freshness window in either direction.
	ErrStaleTimestamp = errors.New("request timestamp outside acceptable range")

	// ErrBadSignature is returned when the MAC does not match.
	ErrBadSignature = errors.New("invalid request signature")

	// ErrNotConfigured is returned when the tenant has no HMAC secret.
	ErrNotConfigured = errors.New("no HMAC secret configured for tenant")
)

// Sign computes the envelope signature over ts and body with secret.
// The signed string is exactly "<unix seconds>\n<raw body bytes>".
func Sign(secret string, ts time.Time, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(strconv.FormatInt(ts.Unix(), 10)))
	mac.Write([]byte("\n"))
	mac.Write(body)
	return signaturePrefix + hex.EncodeToString(mac.Sum(nil))
}

// Verify checks an envelope against the raw body. The timestamp is
// checked before the MAC so stale requests are rejected cheaply; the MAC
// comparison is constant time.
func Verify(secret, signature, timestamp, version string, body []byte, now time.Time) error {
	if signature == "" || timestamp == "" || version == "" {
		return ErrMissingHeaders
	}
	if version != Version {
		return fmt.Errorf("%w: unsupported version %q", ErrBadSignature, version)
	}

	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrMalformedTimestamp
	}
	diff := now.Unix() - ts
	if diff < 0 {
		diff = -diff
	}
	if diff > int64(FreshnessWindow/time.Second) {
		return ErrStaleTimestamp
	}

	if !strings.HasPrefix(signature, signaturePrefix) {
		return ErrBadSignature
	}
	expected := Sign(secret, time.Unix(ts, 0), body)
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrBadSignature
	}
	return nil
}
