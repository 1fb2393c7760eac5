// Package provider talks to the hosted voice-call provider's REST API.
package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/rs/zerolog"
)

// maxErrorBody caps how much of a failed response is kept for diagnostics
const maxErrorBody = 2048

// HTTPError is returned for any non-2xx provider response
type HTTPError struct {
	Op         string
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s: HTTP error status %d", e.Op, e.StatusCode)
	}
	return fmt.Sprintf("%s: HTTP error status %d: %s", e.Op, e.StatusCode, e.Body)
}

// Client calls the provider's call-creation and call-analytics endpoints
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     zerolog.Logger
}

// NewClient creates a new client pointing at the given provider base URL
// (e.g. "https://api.retellai.com").
func NewClient(baseURL, apiKey string, timeout time.Duration, logger zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: logger.With().Str("component", "provider_client").Logger(),
	}
}

// createWebCallRequest is the JSON body sent to create-web-call
type createWebCallRequest struct {
	AgentID string `json:"agent_id"`
}

// CreateWebCall registers a new web call for the agent and returns its
// call ID and access token.
func (c *Client) CreateWebCall(ctx context.Context, agentID string) (*types.WebCall, error) {
	body, err := json.Marshal(createWebCallRequest{AgentID: agentID})
	if err != nil {
		return nil, fmt.Errorf("marshal create-web-call request: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPost, "/v2/create-web-call", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	var call types.WebCall
	if err := c.doJSON(req, "create-web-call", &call); err != nil {
		return nil, err
	}
	if call.CallID == "" || call.AccessToken == "" {
		return nil, fmt.Errorf("create-web-call: response missing call_id or access_token")
	}

	c.logger.Debug().Str("agent_id", agentID).Str("call_id", call.CallID).Msg("web call created")
	return &call, nil
}

// GetCall fetches the analytics record for a call. An empty record means the
// provider has not finished processing the call yet.
func (c *Client) GetCall(ctx context.Context, callID string) (types.AnalyticsRecord, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/v2/get-call/"+url.PathEscape(callID), nil)
	if err != nil {
		return nil, err
	}

	var record types.AnalyticsRecord
	if err := c.doJSON(req, "get-call", &record); err != nil {
		return nil, err
	}
	if record == nil {
		record = types.AnalyticsRecord{}
	}
	return record, nil
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) doJSON(req *http.Request, op string, target any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	defer resp.Body.Close()

	c.logger.Debug().
		Str("op", op).
		Str("url", req.URL.String()).
		Int("status", resp.StatusCode).
		Msg("provider response")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &HTTPError{Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(b))}
	}

	if err := json.NewDecoder(resp.Body).Decode(target); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}
