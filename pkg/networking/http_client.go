// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package networking builds the outbound HTTP clients used for callback
// attestation and provider calls, with SSRF protection at the dialer.
package networking

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"syscall"
	"time"
)

// Outbound timeouts: 10 s to connect, 10 s for response headers. Probe
// and callback deadlines are layered on top via context.
const (
	// DialTimeout bounds connection establishment.
	DialTimeout = 10 * time.Second

	// ResponseHeaderTimeout bounds the wait for response headers.
	ResponseHeaderTimeout = 10 * time.Second

	// ClientTimeout bounds the whole request including the body.
	ClientTimeout = 30 * time.Second
)

// ErrPrivateAddress is returned when an outbound target resolves to a
// private, loopback, or link-local address.
var ErrPrivateAddress = errors.New("destination resolves to a private address, which is not allowed")

var privateIPBlocks []*net.IPNet

func init() {
	for _, cidr := range []string{
		"127.0.0.0/8",    // IPv4 loopback
		"10.0.0.0/8",     // RFC1918
		"172.16.0.0/12",  // RFC1918
		"192.168.0.0/16", // RFC1918
		"169.254.0.0/16", // RFC3927 link-local
		"::1/128",        // IPv6 loopback
		"fe80::/10",      // IPv6 link-local
		"fc00::/7",       // IPv6 unique local addr
	} {
		_, block, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Errorf("parse error on %q: %v", cidr, err))
		}
		privateIPBlocks = append(privateIPBlocks, block)
	}
}

func isPrivateIP(ip net.IP) bool {
	if ip == nil {
		return false
	}
	if ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsLinkLocalMulticast() {
		return true
	}
	for _, block := range privateIPBlocks {
		if block.Contains(ip) {
			return true
		}
	}
	return false
}

// AddressReferencesPrivateIP returns ErrPrivateAddress if the dial
// address references a private IP. The check runs after DNS resolution,
// so a public hostname pointing at a private address is still caught.
func AddressReferencesPrivateIP(address string) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return err
	}
	if isPrivateIP(net.ParseIP(host)) {
		return ErrPrivateAddress
	}
	return nil
}

// Dialer control function for validating addresses prior to connection.
func protectedDialerControl(_, address string, _ syscall.RawConn) error {
	return AddressReferencesPrivateIP(address)
}

// ClientBuilder provides a fluent interface for building outbound HTTP
// clients.
type ClientBuilder struct {
	clientTimeout         time.Duration
	dialTimeout           time.Duration
	responseHeaderTimeout time.Duration
	allowPrivate          bool
}

// NewClientBuilder returns a new ClientBuilder with the default timeouts.
func NewClientBuilder() *ClientBuilder {
	return &ClientBuilder{
		clientTimeout:         ClientTimeout,
		dialTimeout:           DialTimeout,
		responseHeaderTimeout: ResponseHeaderTimeout,
	}
}

// WithPrivateIPs allows connections to private IP addresses. Only
// development mode sets this.
func (b *ClientBuilder) WithPrivateIPs(allow bool) *ClientBuilder {
	b.allowPrivate = allow
	return b
}

// WithTimeout overrides the overall client timeout.
func (b *ClientBuilder) WithTimeout(d time.Duration) *ClientBuilder {
	b.clientTimeout = d
	return b
}

// Build creates the configured HTTP client.
func (b *ClientBuilder) Build() *http.Client {
	dialer := &net.Dialer{Timeout: b.dialTimeout}
	if !b.allowPrivate {
		dialer.Control = protectedDialerControl
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   b.dialTimeout,
		ResponseHeaderTimeout: b.responseHeaderTimeout,
	}

	return &http.Client{
		Transport: transport,
		Timeout:   b.clientTimeout,
	}
}
