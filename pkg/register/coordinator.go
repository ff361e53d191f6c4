// SPDX-FileCopyrightText: Copyright 2025 EagleChat Authors
// SPDX-License-Identifier: Apache-2.0

// Package register implements tenant onboarding: a caller claiming a
// site is called back at that site with a token, and credentials are
// issued only after the callback succeeds.
package register

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-playground/validator/v10"

	"github.com/eaglechat/gateway/pkg/logger"
	"github.com/eaglechat/gateway/pkg/networking"
	"github.com/eaglechat/gateway/pkg/storage"
	"github.com/eaglechat/gateway/pkg/tenant"
)

// CallbackPath is appended to the claimed site URL for attestation.
const CallbackPath = "/wp-json/eaglechat-plugin/v1/verify"

// minCallbackTokenLength is the shortest token the coordinator accepts.
const minCallbackTokenLength = 16

// Request is the registration payload.
type Request struct {
	SiteURL       string `json:"site_url" validate:"required"`
	AdminEmail    string `json:"admin_email" validate:"required,email"`
	CallbackToken string `json:"callback_token" validate:"required,printascii,min=16"`
}

// Result carries the credentials issued for a verified site.
type Result struct {
	TenantID string `json:"tenant_id"`
	APIKey   string `json:"api_key"`
}

// Coordinator drives the onboarding state machine. It holds a transient
// tenant draft until the insert succeeds; nothing is persisted before
// callback attestation.
type Coordinator struct {
	store    storage.TenantStore
	client   *http.Client
	validate *validator.Validate

	attempts int
	delay    time.Duration
}

// NewCoordinator builds a Coordinator. client should come from
// networking.NewClientBuilder so callback targets get the private-address
// guard; attempts is the total number of callback calls allowed.
func NewCoordinator(store storage.TenantStore, client *http.Client, attempts int, delay time.Duration) *Coordinator {
	if attempts < 1 {
		attempts = 1
	}
	return &Coordinator{
		store:    store,
		client:   client,
		validate: validator.New(validator.WithRequiredStructEnabled()),
		attempts: attempts,
		delay:    delay,
	}
}

// Register runs the full onboarding flow and returns issued credentials.
// Error types: *ValidationError for malformed input, *tenant.DuplicateError
// for an already-registered site or email, *CallbackError when attestation
// fails within the retry budget.
func (c *Coordinator) Register(ctx context.Context, req Request) (*Result, error) {
	if err := c.validateRequest(req); err != nil {
		return nil, err
	}

	siteURL, domain, err := tenant.NormalizeSiteURL(req.SiteURL)
	if err != nil {
		return nil, &ValidationError{Field: "site_url", Reason: err.Error()}
	}

	// Cheap duplicate check before spending callback budget. The insert
	// constraint still decides races.
	if err := c.store.CheckAvailable(ctx, siteURL, req.AdminEmail); err != nil {
		return nil, err
	}

	if err := c.verifyOrigin(ctx, siteURL, req.CallbackToken); err != nil {
		return nil, err
	}

	// Credentials exist only from this point on, so a failed callback
	// never leaves secrets in storage.
	id := tenant.MintID()
	apiKey, err := tenant.MintAPIKey()
	if err != nil {
		return nil, err
	}

	draft := &tenant.Tenant{
		ID:         id,
		APIKey:     apiKey,
		SiteURL:    siteURL,
		AdminEmail: req.AdminEmail,
		Domain:     domain,
		SiteHash:   tenant.SiteHash(domain, id),
		CreatedAt:  time.Now(),
	}
	if err := c.store.Insert(ctx, draft); err != nil {
		return nil, err
	}

	logger.Infow("tenant registered", "tenant_id", id, "domain", domain)
	return &Result{TenantID: id, APIKey: apiKey}, nil
}

func (c *Coordinator) validateRequest(req Request) error {
	err := c.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return &ValidationError{Field: "request", Reason: err.Error()}
	}

	fe := fieldErrs[0]
	switch fe.StructField() {
	case "SiteURL":
		return &ValidationError{Field: "site_url", Reason: "site_url is required"}
	case "AdminEmail":
		return &ValidationError{Field: "admin_email", Reason: "admin_email must be a valid email address"}
	default:
		return &ValidationError{
			Field:  "callback_token",
			Reason: fmt.Sprintf("callback_token must be at least %d printable characters", minCallbackTokenLength),
		}
	}
}

type callbackReply struct {
	Verified bool `json:"verified"`
}

// verifyOrigin posts the token to the claimed site and retries on
// transient failures. A definitive client-side rejection (4xx other than
// 408/429) aborts the loop early.
func (c *Coordinator) verifyOrigin(ctx context.Context, siteURL, token string) error {
	target := siteURL + CallbackPath
	attempt := 0

	operation := func() (struct{}, error) {
		attempt++

		var reply callbackReply
		err := networking.PostJSON(ctx, c.client, target, map[string]string{"callback_token": token}, &reply, nil)
		if err != nil {
			logger.Warnw("callback attestation attempt failed",
				"target", target, "attempt", attempt, "error", err)

			var httpErr *networking.HTTPError
			if errors.As(err, &httpErr) && definitiveRejection(httpErr.StatusCode) {
				return struct{}{}, backoff.Permanent(err)
			}
			return struct{}{}, err
		}
		if !reply.Verified {
			logger.Warnw("callback reply did not confirm the token",
				"target", target, "attempt", attempt)
			return struct{}{}, errors.New("origin did not confirm the callback token")
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewConstantBackOff(c.delay)),
		backoff.WithMaxTries(uint(c.attempts)),
	)
	if err != nil {
		return &CallbackError{Reason: callbackReason(err), Attempts: attempt}
	}
	return nil
}

// definitiveRejection reports whether a callback status code means the
// site will never accept this token, so retrying is pointless.
func definitiveRejection(status int) bool {
	if status < 400 || status > 499 {
		return false
	}
	return status != http.StatusRequestTimeout && status != http.StatusTooManyRequests
}

func callbackReason(err error) string {
	var httpErr *networking.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("origin returned status %d", httpErr.StatusCode)
	}
	if errors.Is(err, networking.ErrPrivateAddress) {
		return "origin resolves to a private address"
	}
	return err.Error()
}
