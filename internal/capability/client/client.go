// Package client performs the registration round-trip against the remote
// account server. Exactly one network request per invocation; retry policy
// lives in the retry package, not here.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"capsync/internal/capability/models"
	"capsync/pkg/domain"
	dErrors "capsync/pkg/errors"
)

// TokenSource supplies a valid credential for the registration request.
// Token acquisition and refresh are entirely the auth collaborator's
// concern.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
}

// Client issues capability registration calls to the account server.
type Client struct {
	baseURL string
	http    *http.Client
	tokens  TokenSource
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client (timeouts, transport).
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// New creates a registration client for the account server at baseURL.
func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("account server base URL is required")
	}
	if tokens == nil {
		return nil, fmt.Errorf("token source is required")
	}

	c := &Client{
		baseURL: baseURL,
		tokens:  tokens,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

type registerRequest struct {
	DeviceID     string     `json:"device_id"`
	Capabilities models.Set `json:"capabilities"`
}

type registerResponse struct {
	Registered   models.Set `json:"registered"`
	RegisteredAt time.Time  `json:"registered_at"`
}

type errorResponse struct {
	Error  string `json:"error"`
	Reason string `json:"reason"`
}

// Register asks the server to associate delta with the device identity. On
// success it returns the server-confirmed full registered set; persisting it
// is the caller's job. Errors are tagged unauthorized, rejected, or
// transient; only transient ones are worth retrying.
//
// The server treats re-registration of an already-registered capability as a
// no-op, so retrying with the same delta is safe.
func (c *Client) Register(ctx context.Context, deviceID domain.DeviceID, delta models.Set) (*models.RegistrationRecord, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeUnauthorized, "acquire registration token")
	}

	body, err := json.Marshal(registerRequest{
		DeviceID:     deviceID.String(),
		Capabilities: delta,
	})
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "encode registration request")
	}

	url := fmt.Sprintf("%s/v1/devices/%s/capabilities", c.baseURL, deviceID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "build registration request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport failures and context expiry are both retry-eligible;
		// the retry layer stops on a dead parent context anyway.
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "registration request failed")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(resp)
	}

	var out registerResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeTransient, "decode registration response")
	}

	return &models.RegistrationRecord{
		DeviceID:     deviceID,
		Registered:   out.Registered,
		RegisteredAt: out.RegisteredAt,
	}, nil
}

func classifyStatus(resp *http.Response) error {
	var body errorResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	_ = json.Unmarshal(raw, &body)

	reason := body.Reason
	if reason == "" {
		reason = http.StatusText(resp.StatusCode)
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return dErrors.Newf(dErrors.CodeUnauthorized, "registration unauthorized: %s", reason)
	case resp.StatusCode == http.StatusRequestTimeout,
		resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode >= 500:
		return dErrors.Newf(dErrors.CodeTransient, "registration failed with status %d: %s", resp.StatusCode, reason)
	default:
		// Remaining 4xx-class responses are permanent refusals.
		return dErrors.Newf(dErrors.CodeRejected, "registration rejected: %s", reason)
	}
}
