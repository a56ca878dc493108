// Package gateway implements the outbound half of the exchange protocol:
// session management against the national gateway, the transport that signs
// and classifies every call, and one method per protocol step.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hdx/bridge/internal/config"
	"github.com/hdx/bridge/internal/platform/cache"
)

// tokenExpiredCode is the gateway's error code for a stale session token,
// delivered with HTTP 400.
const tokenExpiredCode = "900901"

// Timestamp formats the current instant the way the gateway expects on the
// TIMESTAMP header and inside payload date fields.
func Timestamp() string {
	return time.Now().UTC().Format("2006-01-02T15:04:05.000Z")
}

// FormatTime renders an arbitrary instant in the gateway's timestamp format.
func FormatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

// NewRequestID returns a fresh per-call correlation id.
func NewRequestID() string {
	return uuid.NewString()
}

// Response is a decoded gateway reply. Body is always non-nil: non-JSON
// replies are wrapped as {"error": <raw text>} instead of failing the decode.
type Response struct {
	StatusCode int
	Body       map[string]any
}

// Client posts JSON to the gateway. It attaches a cached bearer token to
// every call, refreshing it through the session endpoint on a miss, and
// retries the call exactly once when the gateway signals token expiry.
type Client struct {
	http       *http.Client
	baseURL    string
	sessionURL string
	clientID   string
	secret     string
	store      cache.Store
	logger     zerolog.Logger
}

func NewClient(cfg *config.Config, store cache.Store, logger zerolog.Logger) *Client {
	return &Client{
		http:       &http.Client{Timeout: 10 * time.Second},
		baseURL:    cfg.GatewayURL,
		sessionURL: cfg.SessionURL(),
		clientID:   cfg.GatewayClientID,
		secret:     cfg.GatewayClientSecret,
		store:      store,
		logger:     logger.With().Str("component", "gateway").Logger(),
	}
}

// Post sends a JSON payload. path may be relative to the gateway base URL or
// an absolute URL (data pushes go straight to the counterpart's push URL).
// headers are merged over the standard content and authorization headers.
func (c *Client) Post(ctx context.Context, path string, payload any, headers map[string]string) (*Response, error) {
	resp, err := c.post(ctx, path, payload, headers)
	if err != nil {
		return nil, err
	}

	if c.tokenExpired(resp) {
		c.store.Delete(cache.KeyGatewaySessionToken)
		c.logger.Info().Str("path", path).Msg("session token expired, retrying")
		return c.post(ctx, path, payload, headers)
	}

	return resp, nil
}

func (c *Client) post(ctx context.Context, path string, payload any, headers map[string]string) (*Response, error) {
	url := path
	if !strings.HasPrefix(path, "http") {
		url = c.baseURL + path
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	token, err := c.sessionToken(ctx)
	if err != nil {
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	req.Header.Set("Authorization", "Bearer "+token)
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("post %s: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	c.logger.Debug().
		Str("path", path).
		Int("status", resp.StatusCode).
		Msg("gateway call")

	return &Response{StatusCode: resp.StatusCode, Body: decodeBody(raw)}, nil
}

// tokenExpired recognizes the two shapes of the gateway's stale-token signal.
func (c *Client) tokenExpired(resp *Response) bool {
	if resp.StatusCode == http.StatusUnauthorized {
		return true
	}
	if resp.StatusCode == http.StatusBadRequest {
		if code, ok := resp.Body["code"].(string); ok && code == tokenExpiredCode {
			return true
		}
	}
	return false
}

// sessionToken returns the cached bearer token, performing the credential
// exchange on a miss. The token is cached for the lifetime the gateway
// declares. Two concurrent refreshes are harmless: the loser simply
// overwrites the cache with an equally valid token.
func (c *Client) sessionToken(ctx context.Context) (string, error) {
	if v, ok := c.store.Get(cache.KeyGatewaySessionToken); ok {
		if token, ok := v.(string); ok && token != "" {
			return token, nil
		}
	}

	body, err := json.Marshal(map[string]string{
		"clientId":     c.clientID,
		"clientSecret": c.secret,
	})
	if err != nil {
		return "", fmt.Errorf("marshal session request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.sessionURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read session response: %w", err)
	}

	if resp.StatusCode >= 300 {
		return "", &Error{Path: c.sessionURL, Status: resp.StatusCode, Message: ExtractMessage(decodeBody(raw))}
	}

	var session struct {
		AccessToken string `json:"accessToken"`
		ExpiresIn   int    `json:"expiresIn"`
	}
	if err := json.Unmarshal(raw, &session); err != nil {
		return "", fmt.Errorf("decode session response: %w", err)
	}
	if session.AccessToken == "" {
		return "", fmt.Errorf("session response missing access token")
	}

	c.store.Set(cache.KeyGatewaySessionToken, session.AccessToken, time.Duration(session.ExpiresIn)*time.Second)
	c.logger.Info().Int("expires_in", session.ExpiresIn).Msg("new session token")

	return session.AccessToken, nil
}

// decodeBody parses a reply body, falling back to {"error": <raw text>} when
// the gateway returns something other than JSON.
func decodeBody(raw []byte) map[string]any {
	if len(raw) == 0 {
		return map[string]any{}
	}
	var body map[string]any
	if err := json.Unmarshal(raw, &body); err != nil {
		return map[string]any{"error": string(raw)}
	}
	return body
}
