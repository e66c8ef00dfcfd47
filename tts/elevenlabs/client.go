// Package elevenlabs provides an ElevenLabs TTS provider implementation.
package elevenlabs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/voiceloop/voiceloop/internal/httpclient"
	"github.com/voiceloop/voiceloop/tts"
)

const (
	defaultBaseURL = "https://api.elevenlabs.io"
	defaultModel   = "eleven_multilingual_v2"
	defaultVoice   = "21m00Tcm4TlvDq8ikWAM" // Rachel
	defaultFormat  = "mp3_44100_128"
)

// Well-known voice IDs for convenience.
var wellKnownVoices = map[string]string{
	"rachel": "21m00Tcm4TlvDq8ikWAM",
	"adam":   "pNInz6obpgDQGcFmaJgB",
	"bella":  "EXAVITQu4vr4xnSDxMaL",
	"josh":   "TxGEqnHWrfWFTfGW9XjX",
	"daniel": "onwK4e9ZLuTAKqWW03F9",
	"lily":   "pFZP5JQG7iQjIQuC4Bku",
	"brian":  "nPczCjzI2devNBz1zQrb",
}

// Client is an ElevenLabs TTS provider.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	model      string
	voice      string
}

// Option configures an ElevenLabs client.
type Option func(*Client)

// WithAPIKey sets the API key.
func WithAPIKey(key string) Option {
	return func(c *Client) { c.apiKey = key }
}

// WithBaseURL sets the base URL.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = strings.TrimSuffix(url, "/") }
}

// WithHTTPClient sets the HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) { c.httpClient = client }
}

// WithModel sets the default model.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithVoice sets the default voice.
func WithVoice(voice string) Option {
	return func(c *Client) { c.voice = voice }
}

// New creates a new ElevenLabs client.
func New(opts ...Option) *Client {
	c := &Client{
		baseURL: defaultBaseURL,
		model:   defaultModel,
		voice:   defaultVoice,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.New()
	}
	return c
}

type synthesizeRequest struct {
	Text          string         `json:"text"`
	ModelID       string         `json:"model_id"`
	VoiceSettings *voiceSettings `json:"voice_settings,omitempty"`
}

type voiceSettings struct {
	Speed float64 `json:"speed,omitempty"`
}

type errorResponse struct {
	Detail struct {
		Message string `json:"message"`
	} `json:"detail"`
}

// Synthesize implements tts.Provider.
func (c *Client) Synthesize(ctx context.Context, text string, opts tts.Options) (*tts.Audio, error) {
	voiceID := c.resolveVoice(opts.Voice)

	body := synthesizeRequest{
		Text:    text,
		ModelID: c.resolveModel(opts.Model),
	}
	if opts.Speed != 0 {
		body.VoiceSettings = &voiceSettings{Speed: opts.Speed}
	}

	reqBody, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: marshal request: %w", err)
	}

	format := resolveFormat(opts.Format)
	reqURL := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", c.baseURL, voiceID, format)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: create request: %w", err)
	}
	req.Header.Set("xi-api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("elevenlabs: read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp errorResponse
		if json.Unmarshal(data, &errResp) == nil && errResp.Detail.Message != "" {
			return nil, fmt.Errorf("elevenlabs: %s", errResp.Detail.Message)
		}
		return nil, fmt.Errorf("elevenlabs: unexpected status %d: %s", resp.StatusCode, string(data))
	}

	audioFormat, sampleRate := parseFormat(format)
	return &tts.Audio{
		Data:       data,
		Format:     audioFormat,
		SampleRate: sampleRate,
		Voice:      voiceID,
		Model:      body.ModelID,
		Provider:   "elevenlabs",
	}, nil
}

// Capabilities implements tts.Provider.
func (c *Client) Capabilities() tts.Capabilities {
	voices := make([]tts.Voice, 0, len(wellKnownVoices))
	for name, id := range wellKnownVoices {
		voices = append(voices, tts.Voice{ID: id, Name: name, Language: "en-US"})
	}
	return tts.Capabilities{
		Provider:  "elevenlabs",
		Voices:    voices,
		Languages: []string{"en", "es", "fr", "de", "it", "pt", "ja", "zh"},
	}
}

func (c *Client) resolveVoice(voice string) string {
	if voice == "" {
		voice = c.voice
	}
	if id, ok := wellKnownVoices[strings.ToLower(voice)]; ok {
		return id
	}
	return voice
}

func (c *Client) resolveModel(model string) string {
	if model == "" {
		return c.model
	}
	return model
}

func resolveFormat(format tts.AudioFormat) string {
	switch format {
	case tts.FormatPCM:
		return "pcm_44100"
	case "", tts.FormatMP3:
		return defaultFormat
	default:
		return defaultFormat
	}
}

func parseFormat(format string) (tts.AudioFormat, int) {
	switch {
	case strings.HasPrefix(format, "mp3_44100"):
		return tts.FormatMP3, 44100
	case strings.HasPrefix(format, "pcm_44100"):
		return tts.FormatPCM, 44100
	default:
		return tts.FormatMP3, 44100
	}
}
