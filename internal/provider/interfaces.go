package provider

import (
	"context"
)

// TTSProvider defines the interface for TTS providers
type TTSProvider interface {
	// Name returns the provider name
	Name() string

	// Synthesize converts text to speech
	Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error)

	// Close cleans up resources
	Close() error
}

// TTSRequest contains the text and voice settings for synthesis
type TTSRequest struct {
	Text    string // Text to synthesize
	VoiceID string // Provider-specific voice ID
}

// TTSResult contains the synthesized audio and metadata
type TTSResult struct {
	Audio    []byte          // Audio file data
	Format   string          // Audio format (e.g., "wav", "mp3")
	Duration float64         // Audio duration in seconds, 0 if the provider cannot report it
	Words    []WordTimestamp // Word-level timestamps if available, relative to the clip start
}

// WordTimestamp represents timing information for a word
type WordTimestamp struct {
	Word  string  `json:"word"`
	Start float64 `json:"start"` // Start time in seconds
	End   float64 `json:"end"`   // End time in seconds
}
