// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

package signing

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

func TestSign_Format(t *testing.T) {
	t.Parallel()

	sig := Sign("secret", time.Unix(1700000000, 0), []byte(`{"a":1}`))
	assert.True(t, strings.HasPrefix(sig, "hmac-sha256="))
	hexPart := strings.TrimPrefix(sig, "hmac-sha256=")
	assert.Len(t, hexPart, 64)
	assert.Equal(t, strings.ToLower(hexPart), hexPart)
}

func TestVerify(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	body := []byte(`{"tenant_id":"t1","message":"hi"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	good := Sign("secret", now, body)

	tests := []struct {
		name      string
		secret    string
		signature string
		timestamp string
		version   string
		body      []byte
		at        time.Time
		wantErr   error
	}{
		{name: "valid", secret: "secret", signature: good, timestamp: ts, version: Version, body: body, at: now},
		{name: "valid at window edge", secret: "secret", signature: good, timestamp: ts, version: Version, body: body, at: now.Add(300 * time.Second)},
		{name: "stale past window", secret: "secret", signature: good, timestamp: ts, version: Version, body: body, at: now.Add(301 * time.Second), wantErr: ErrStaleTimestamp},
		{name: "future past window", secret: "secret", signature: good, timestamp: ts, version: Version, body: body, at: now.Add(-301 * time.Second), wantErr: ErrStaleTimestamp},
		{name: "garbage timestamp", secret: "secret", signature: good, timestamp: "yesterday", version: Version, body: body, at: now, wantErr: ErrMalformedTimestamp},
		{name: "missing signature", secret: "secret", timestamp: ts, version: Version, body: body, at: now, wantErr: ErrMissingHeaders},
		{name: "missing timestamp", secret: "secret", signature: good, version: Version, body: body, at: now, wantErr: ErrMissingHeaders},
		{name: "missing version", secret: "secret", signature: good, timestamp: ts, body: body, at: now, wantErr: ErrMissingHeaders},
		{name: "wrong version", secret: "secret", signature: good, timestamp: ts, version: "v2", body: body, at: now, wantErr: ErrBadSignature},
		{name: "wrong secret", secret: "other", signature: good, timestamp: ts, version: Version, body: body, at: now, wantErr: ErrBadSignature},
		{name: "tampered body", secret: "secret", signature: good, timestamp: ts, version: Version, body: []byte(`{"tenant_id":"t1","message":"hI"}`), at: now, wantErr: ErrBadSignature},
		{name: "missing prefix", secret: "secret", signature: strings.TrimPrefix(good, "hmac-sha256="), timestamp: ts, version: Version, body: body, at: now, wantErr: ErrBadSignature},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Verify(tt.secret, tt.signature, tt.timestamp, tt.version, tt.body, tt.at)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestVerify_FlippedSignatureBit(t *testing.T) {
	t.Parallel()

	now := time.Now()
	body := []byte(`{"tenant_id":"t1"}`)
	sig := Sign("secret", now, body)

	// Flip the last hex nibble.
	last := sig[len(sig)-1]
	flipped := byte('0')
	if last == '0' {
		flipped = '1'
	}
	bad := sig[:len(sig)-1] + string(flipped)

	err := Verify("secret", bad, strconv.FormatInt(now.Unix(), 10), Version, body, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

// A wrong signature must take the same path no matter where the first
// mismatching byte sits: hmac.Equal compares the full MAC, so corrupting
// the first, middle, or last hex digit yields the identical bare error.
func TestVerify_MismatchPositionIndistinguishable(t *testing.T) {
	t.Parallel()

	now := time.Unix(1700000000, 0)
	body := []byte(`{"tenant_id":"t1","message":"hi"}`)
	ts := strconv.FormatInt(now.Unix(), 10)
	good := Sign("secret", now, body)
	hexStart := len("hmac-sha256=")

	corruptAt := func(pos int) string {
		b := []byte(good)
		if b[pos] == 'f' {
			b[pos] = '0'
		} else {
			b[pos] = 'f'
		}
		return string(b)
	}

	tests := []struct {
		name string
		pos  int
	}{
		{name: "first hex digit", pos: hexStart},
		{name: "middle hex digit", pos: hexStart + 32},
		{name: "last hex digit", pos: len(good) - 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := Verify("secret", corruptAt(tt.pos), ts, Version, body, now)
			assert.Equal(t, ErrBadSignature, err, "rejection must not depend on mismatch position")
		})
	}
}

type stubStore struct {
	storage.TenantStore

	ctxByID map[string]*tenant.HMACContext
}

func (s *stubStore) GetHMACContext(_ context.Context, tenantID string) (*tenant.HMACContext, error) {
	hc, ok := s.ctxByID[tenantID]
	if !ok {
		return nil, tenant.ErrNotFound
	}
	return hc, nil
}

type stubOpener struct{ secrets map[string]string }

func (o *stubOpener) Open(ciphertext string) (string, error) {
	return o.secrets[ciphertext], nil
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	store := &stubStore{ctxByID: map[string]*tenant.HMACContext{
		"t1": {SealedSecret: "sealed-1", Domain: "shop.example.com"},
		"t2": {},
	}}
	opener := &stubOpener{secrets: map[string]string{"sealed-1": "hunter2"}}
	mw := NewMiddleware(store, opener)

	var gotTenant string
	var gotBody []byte
	handler := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotTenant, _ = TenantIDFromContext(r.Context())
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))

	body := `{"tenant_id":"t1","message":"hello"}`
	now := time.Now()

	signedRequest := func(sig, ts, version, payload string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/chat", strings.NewReader(payload))
		if sig != "" {
			req.Header.Set(SignatureHeader, sig)
		}
		if ts != "" {
			req.Header.Set(TimestampHeader, ts)
		}
		if version != "" {
			req.Header.Set(VersionHeader, version)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	t.Run("valid request passes body and tenant through", func(t *testing.T) {
		ts := strconv.FormatInt(now.Unix(), 10)
		rec := signedRequest(Sign("hunter2", now, []byte(body)), ts, Version, body)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "t1", gotTenant)
		assert.Equal(t, body, string(gotBody))
	})

	t.Run("missing headers rejected before body work", func(t *testing.T) {
		rec := signedRequest("", "", "", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed timestamp is a bad request", func(t *testing.T) {
		rec := signedRequest(Sign("hunter2", now, []byte(body)), "yesterday", Version, body)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("wrong secret is unauthorized", func(t *testing.T) {
		ts := strconv.FormatInt(now.Unix(), 10)
		rec := signedRequest(Sign("wrong", now, []byte(body)), ts, Version, body)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("unknown tenant indistinguishable from bad signature", func(t *testing.T) {
		unknown := `{"tenant_id":"ghost"}`
		ts := strconv.FormatInt(now.Unix(), 10)
		rec := signedRequest(Sign("hunter2", now, []byte(unknown)), ts, Version, unknown)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("tenant without secret is unauthorized", func(t *testing.T) {
		noSecret := `{"tenant_id":"t2"}`
		ts := strconv.FormatInt(now.Unix(), 10)
		rec := signedRequest(Sign("hunter2", now, []byte(noSecret)), ts, Version, noSecret)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("body without tenant_id is a bad request", func(t *testing.T) {
		ts := strconv.FormatInt(now.Unix(), 10)
		rec := signedRequest(Sign("hunter2", now, []byte(`{}`)), ts, Version, `{}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
