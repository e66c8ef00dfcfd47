// Package tts provides the text-to-speech boundary used by the turn
// pipeline. Synthesis is optional infrastructure: a deployment with no
// provider configured runs text-only.
package tts

import "context"

// Provider is the interface for text-to-speech providers.
type Provider interface {
	// Synthesize converts text to audio.
	Synthesize(ctx context.Context, text string, opts Options) (*Audio, error)

	// Capabilities returns the provider's capabilities.
	Capabilities() Capabilities
}

// Capabilities describes the features supported by a TTS provider.
type Capabilities struct {
	Provider  string   // Provider identifier (e.g., "elevenlabs")
	Voices    []Voice  // Available voices
	Languages []string // Supported language codes
}

// Options configures a synthesis request.
type Options struct {
	Voice      string      // Voice identifier (e.g., "rachel")
	Model      string      // Model identifier (for providers with multiple models)
	Speed      float64     // Speech speed multiplier (1.0 = normal, 0 uses default)
	Format     AudioFormat // Output audio format
	SampleRate int         // Sample rate in Hz (0 uses default)
}

// Voice represents an available voice.
type Voice struct {
	ID       string // Unique voice identifier
	Name     string // Display name
	Language string // Primary language code (e.g., "en-US")
}

// Audio represents synthesized audio.
type Audio struct {
	Data       []byte      // Audio bytes
	Format     AudioFormat // Audio format
	SampleRate int         // Sample rate in Hz
	Voice      string      // Voice used
	Model      string      // Model used
	Provider   string      // Provider used
}

// MIME returns the content type for the audio format.
func (a *Audio) MIME() string {
	switch a.Format {
	case FormatMP3:
		return "audio/mpeg"
	case FormatWAV:
		return "audio/wav"
	case FormatOGG:
		return "audio/ogg"
	case FormatPCM:
		return "audio/L16"
	default:
		return "application/octet-stream"
	}
}

// AudioFormat specifies the audio output format.
type AudioFormat string

const (
	FormatMP3 AudioFormat = "mp3"
	FormatWAV AudioFormat = "wav"
	FormatPCM AudioFormat = "pcm"
	FormatOGG AudioFormat = "ogg"
)
