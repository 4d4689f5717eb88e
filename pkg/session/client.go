/**
 * @description
 * This package provides a client for the session provider sidecar, which
 * performs the upstream browser login and returns the session tokens a job
 * needs. Authentication is retried a bounded number of times with a linear
 * backoff before giving up.
 *
 * @dependencies
 * - bytes, context, encoding/json, net/http, net/mail, time: Standard Go libraries.
 */
package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/mail"
	"time"

	"github.com/redeemworks/redeem-service/internal/domain"
)

const defaultMaxAttempts = 3

var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAuthFailed         = errors.New("authentication failed")
)

// Client authenticates against the session provider.
type Client struct {
	BaseURL     string
	MaxAttempts int
	HTTPClient  *http.Client

	// sleep is swapped in tests to avoid real backoff waits.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a new session provider client.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL:     baseURL,
		MaxAttempts: defaultMaxAttempts,
		HTTPClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		sleep: sleepCtx,
	}
}

type authRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type authResponse struct {
	UserID     string `json:"user_id"`
	SessionID  string `json:"session_id"`
	DeviceUUID string `json:"device_uuid"`
}

// Authenticate validates the credentials and exchanges them for a session,
// retrying transient failures with a linear backoff ((attempt+1) * 5s). A 401
// from the provider is terminal; retrying a rejected password will not help.
func (c *Client) Authenticate(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	if err := validateCredentials(creds); err != nil {
		return nil, err
	}

	maxAttempts := c.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = defaultMaxAttempts
	}

	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt+1) * 5 * time.Second
			log.Printf("level=warn component=session_client msg=\"retrying authentication\" attempt=%d backoff=%s", attempt+1, backoff)
			if err := c.sleep(ctx, backoff); err != nil {
				return nil, err
			}
		}

		session, err := c.authenticateOnce(ctx, creds)
		if err == nil {
			return session, nil
		}
		if errors.Is(err, ErrInvalidCredentials) || ctx.Err() != nil {
			return nil, err
		}
		lastErr = err
	}
	return nil, fmt.Errorf("%w after %d attempts: %v", ErrAuthFailed, maxAttempts, lastErr)
}

func (c *Client) authenticateOnce(ctx context.Context, creds domain.Credentials) (*domain.Session, error) {
	body, err := json.Marshal(authRequest{Email: creds.Email, Password: creds.Password})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal auth request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/sessions", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create auth request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute auth request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read auth response: %w", err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return nil, ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("session provider returned status %d", resp.StatusCode)
	}

	var authResp authResponse
	if err := json.Unmarshal(bodyBytes, &authResp); err != nil {
		return nil, fmt.Errorf("failed to decode auth response: %w", err)
	}
	if authResp.UserID == "" || authResp.SessionID == "" || authResp.DeviceUUID == "" {
		return nil, fmt.Errorf("session provider returned incomplete tokens")
	}

	return &domain.Session{
		UserID:     authResp.UserID,
		SessionID:  authResp.SessionID,
		DeviceUUID: authResp.DeviceUUID,
	}, nil
}

func validateCredentials(creds domain.Credentials) error {
	if _, err := mail.ParseAddress(creds.Email); err != nil {
		return fmt.Errorf("%w: malformed email", ErrInvalidCredentials)
	}
	if len(creds.Password) < 6 {
		return fmt.Errorf("%w: password too short", ErrInvalidCredentials)
	}
	return nil
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
