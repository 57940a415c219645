// Package supabase adapts the hosted backend's REST surface (auth user lookup and
// PostgREST tables) to the chat.Verifier and chat.Store contracts.
//
// Every request is sent with the caller's bearer token so the backend's row-level
// policies apply to the caller, never to the relay.
package supabase

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/Tyrowin/gochat-relay/internal/logging"
)

var log = logging.Logger("supabase")

const maxErrorBody = 4 << 10

// Config identifies the hosted project.
type Config struct {
	URL     string
	AnonKey string
	// HTTPClient defaults to a client with a 10 second timeout.
	HTTPClient *http.Client
}

// Client issues authenticated REST calls against one project.
type Client struct {
	baseURL    *url.URL
	anonKey    string
	httpClient *http.Client
}

// NewClient validates config and builds a Client.
func NewClient(config Config) (*Client, error) {
	rawURL := strings.TrimSpace(config.URL)
	if rawURL == "" {
		return nil, errors.New("supabase url is required")
	}
	anonKey := strings.TrimSpace(config.AnonKey)
	if anonKey == "" {
		return nil, errors.New("supabase anon key is required")
	}
	parsed, err := url.Parse(strings.TrimRight(rawURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("supabase url %q must be absolute", rawURL)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{baseURL: parsed, anonKey: anonKey, httpClient: httpClient}, nil
}

// APIError is a non-2xx response from the backend.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("supabase status %d", e.Status)
	}
	return fmt.Sprintf("supabase status %d: %s", e.Status, e.Message)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := *c.baseURL
	u.Path = strings.TrimRight(u.Path, "/") + path
	if query != nil {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

// do sends a request scoped to token and decodes a JSON response into out.
func (c *Client) do(ctx context.Context, method, endpoint, token string, body any, headers map[string]string, out any) error {
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("call %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	var payload struct {
		Message          string `json:"message"`
		Msg              string `json:"msg"`
		ErrorDescription string `json:"error_description"`
	}
	apiErr := &APIError{Status: resp.StatusCode}
	if err := json.Unmarshal(raw, &payload); err == nil {
		for _, candidate := range []string{payload.Message, payload.Msg, payload.ErrorDescription} {
			if strings.TrimSpace(candidate) != "" {
				apiErr.Message = strings.TrimSpace(candidate)
				break
			}
		}
	}
	return apiErr
}
