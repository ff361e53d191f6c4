// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package vault seals and opens tenant secrets under a process-wide data
// encryption key derived from the operator master secret.
//
// The key is derived once at construction by PBKDF2-HMAC-SHA256 with a
// fixed salt and 100,000 iterations. The salt is fixed because the master
// secret is high-entropy and the KDF's role is stretching, not
// per-ciphertext uniqueness; freshness comes from the per-seal nonce.
//
// Ciphertexts are AES-256-GCM blobs framed as:
//
//	v1:base64( nonce (12B) || ciphertext || auth tag (16B) )
package vault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfSalt       = "eaglechat_salt_v1"
	kdfIterations = 100000
	keyLength     = 32

	envelopeVersion = "v1"
)

// ErrSealIntegrity is returned when a ciphertext fails authentication.
// It indicates tampering or a master key mismatch and is never shown to
// callers of the API surface.
var ErrSealIntegrity = errors.New("sealed value failed integrity check")

// Vault performs authenticated encryption under the derived process key.
type Vault struct {
	aead cipher.AEAD
}

// New derives the data-encryption key from masterKey and returns a ready
// Vault. An empty master key is refused; callers treat that as fatal.
func New(masterKey []byte) (*Vault, error) {
	if len(masterKey) == 0 {
		return nil, errors.New("master key must not be empty")
	}

	key := pbkdf2.Key(masterKey, []byte(kdfSalt), kdfIterations, keyLength, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating AES cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}

	return &Vault{aead: aead}, nil
}

// Seal encrypts plaintext and returns the self-describing envelope.
func (v *Vault) Seal(plaintext string) (string, error) {
	nonce := make([]byte, v.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}

	blob := v.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopeVersion + ":" + base64.StdEncoding.EncodeToString(blob), nil
}

// Open decrypts an envelope produced by Seal. Any tampering with the
// version, nonce, ciphertext, or tag yields ErrSealIntegrity.
func (v *Vault) Open(ciphertext string) (string, error) {
	version, encoded, found := strings.Cut(ciphertext, ":")
	if !found || version != envelopeVersion {
		return "", ErrSealIntegrity
	}

	blob, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", ErrSealIntegrity
	}
	if len(blob) < v.aead.NonceSize() {
		return "", ErrSealIntegrity
	}

	nonce, sealed := blob[:v.aead.NonceSize()], blob[v.aead.NonceSize():]
	plaintext, err := v.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrSealIntegrity
	}
	return string(plaintext), nil
}
