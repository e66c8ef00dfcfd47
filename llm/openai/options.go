package openai

import (
	"net/http"
	"time"
)

type Option func(*options)

type options struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	maxTokens   int
	httpClient  *http.Client
	timeout     time.Duration
}

func defaultOptions() options {
	return options{
		baseURL: "https://api.openai.com/v1",
		model:   "gpt-4o-mini",
		timeout: 60 * time.Second,
	}
}

// WithAPIKey configures the API key.
func WithAPIKey(key string) Option {
	return func(o *options) { o.apiKey = key }
}

// WithModel sets the model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithBaseURL overrides the API base URL.
func WithBaseURL(url string) Option {
	return func(o *options) { o.baseURL = url }
}

// WithTemperature sets the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *options) { o.temperature = t }
}

// WithMaxTokens caps the reply length.
func WithMaxTokens(n int) Option {
	return func(o *options) { o.maxTokens = n }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(o *options) { o.httpClient = client }
}

// WithTimeout customizes the client timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}
