// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package tenant defines the tenant record, credential minting, and the
// domain-level error kinds shared by the store and the API surface.
package tenant

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
)

// APIKeyPrefix is the printable prefix of every issued api key.
const APIKeyPrefix = "eck_"

// apiKeyRandomBytes yields 44 URL-safe characters (264 bits of entropy).
const apiKeyRandomBytes = 33

// Provider identifies an upstream AI model provider.
type Provider string

// Supported providers.
const (
	ProviderAnthropic Provider = "anthropic"
	ProviderOpenAI    Provider = "openai"
)

// ParseProvider validates a caller-supplied provider name.
func ParseProvider(s string) (Provider, error) {
	switch Provider(s) {
	case ProviderAnthropic:
		return ProviderAnthropic, nil
	case ProviderOpenAI:
		return ProviderOpenAI, nil
	default:
		return "", fmt.Errorf("invalid provider %q (must be %q or %q)", s, ProviderAnthropic, ProviderOpenAI)
	}
}

// Tenant is the root aggregate: one onboarded site.
type Tenant struct {
	ID         string
	APIKey     string
	SiteURL    string
	AdminEmail string
	Domain     string
	SiteHash   string

	// Sealed secrets are vault ciphertexts; plaintext never persists.
	HMACSecretSealed      string
	HMACSecretUpdatedAt   time.Time
	AnthropicKeySealed    string
	OpenAIKeySealed       string
	ProviderKeysUpdatedAt time.Time

	CreatedAt  time.Time
	LastSeenAt time.Time
	IsActive   bool
	Metadata   map[string]string
}

// HMACContext is the material the signature verifier needs for one tenant.
type HMACContext struct {
	SealedSecret string
	Domain       string
	SiteHash     string
	UpdatedAt    time.Time
}

// MintID returns a fresh UUIDv4 tenant id.
func MintID() string {
	return uuid.NewString()
}

// MintAPIKey returns a fresh api key: "eck_" plus 44 URL-safe characters.
func MintAPIKey() (string, error) {
	raw := make([]byte, apiKeyRandomBytes)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generating api key: %w", err)
	}
	return APIKeyPrefix + base64.RawURLEncoding.EncodeToString(raw), nil
}

// SiteHash computes the domain-bound identifier used as an anti-swap
// check: hex SHA-256(domain || tenant_id).
func SiteHash(domain, tenantID string) string {
	sum := sha256.Sum256([]byte(domain + tenantID))
	return hex.EncodeToString(sum[:])
}

// NormalizeSiteURL validates that raw parses as an absolute http or https
// URL and derives the canonical site URL and domain. The domain is the
// lowercased host with the port preserved only when non-default for the
// scheme; the site URL loses any trailing slash.
func NormalizeSiteURL(raw string) (siteURL, domain string, err error) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", "", fmt.Errorf("invalid site URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return "", "", fmt.Errorf("site URL must be absolute http or https: %q", raw)
	}
	if parsed.Hostname() == "" {
		return "", "", fmt.Errorf("site URL has no host: %q", raw)
	}

	host := strings.ToLower(parsed.Hostname())
	port := parsed.Port()

	domain = host
	if port != "" && !isDefaultPort(parsed.Scheme, port) {
		domain = host + ":" + port
	}

	parsed.Host = domain
	parsed.Fragment = ""
	siteURL = strings.TrimSuffix(parsed.String(), "/")
	return siteURL, domain, nil
}

func isDefaultPort(scheme, port string) bool {
	return (scheme == "http" && port == "80") || (scheme == "https" && port == "443")
}
