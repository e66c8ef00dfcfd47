// Package platform is the REST client for the video-call provider: agent
// identity provisioning and artifact retrieval.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/voiceloop/voiceloop/internal/httpclient"
)

// Client talks to the call provider's server-side API.
type Client struct {
	httpClient *http.Client
	opts       options
}

type Option func(*options)

type options struct {
	baseURL    string
	apiKey     string
	apiSecret  string
	httpClient *http.Client
	timeout    time.Duration
}

func defaultOptions() options {
	return options{
		baseURL: "https://video.stream-io-api.com/api/v2",
		timeout: 30 * time.Second,
	}
}

// WithBaseURL overrides the provider API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = strings.TrimRight(url, "/") }
}

// WithAPIKey sets the provider API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithAPISecret sets the provider API secret used for server auth.
func WithAPISecret(secret string) Option {
	return func(o *options) { o.apiSecret = secret }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTimeout customizes the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// New constructs a provider client.
func New(opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.httpClient == nil {
		o.httpClient = httpclient.New(httpclient.WithTimeout(o.timeout))
	}
	return &Client{httpClient: o.httpClient, opts: o}
}

type upsertUsersRequest struct {
	Users map[string]upsertUser `json:"users"`
}

type upsertUser struct {
	ID   string `json:"id"`
	Name string `json:"name,omitempty"`
	Role string `json:"role,omitempty"`
}

// UpsertIdentity registers the agent's participant identity with the
// provider. The call is idempotent: repeating it for an existing identity
// succeeds.
func (c *Client) UpsertIdentity(ctx context.Context, userID, name string) error {
	payload := upsertUsersRequest{
		Users: map[string]upsertUser{
			userID: {ID: userID, Name: name, Role: "user"},
		},
	}
	buf := &bytes.Buffer{}
	if err := json.NewEncoder(buf).Encode(payload); err != nil {
		return fmt.Errorf("marshal users payload: %w", err)
	}

	url := fmt.Sprintf("%s/users?api_key=%s", c.opts.baseURL, c.opts.apiKey)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.opts.apiSecret)
	req.Header.Set("stream-auth-type", "jwt")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("upsert identity: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("upsert identity: %s: %s", resp.Status, data)
	}
	return nil
}

// FetchArtifact downloads a transcript or recording artifact from the
// provider-signed URL.
func (c *Client) FetchArtifact(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch artifact: unexpected status %s", resp.Status)
	}
	return io.ReadAll(resp.Body)
}
