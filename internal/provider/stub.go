package provider

import (
	"context"
	"strings"

	"github.com/inkvoice/inkvoice/internal/audio"
	"github.com/inkvoice/inkvoice/pkg/types"
)

// StubTTSProvider is a deterministic TTSProvider for tests and local
// development. It emits silent WAV sized to the input and synthetic word
// timings, so the whole pipeline runs without any external service.
type StubTTSProvider struct {
	name   string
	config types.TTSProviderConfig
}

const (
	stubSampleRate     = 8000
	stubSecondsPerWord = 0.30
	stubPausePerChunkS = 0.10
)

// NewStubTTSProvider creates a new stub TTS provider
func NewStubTTSProvider(config types.TTSProviderConfig) *StubTTSProvider {
	return &StubTTSProvider{
		name:   config.Name,
		config: config,
	}
}

func (s *StubTTSProvider) Name() string {
	return s.name
}

func (s *StubTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fields := strings.Fields(req.Text)
	duration := float64(len(fields))*stubSecondsPerWord + stubPausePerChunkS

	words := make([]WordTimestamp, 0, len(fields))
	for i, w := range fields {
		start := float64(i) * stubSecondsPerWord
		words = append(words, WordTimestamp{
			Word:  w,
			Start: start,
			End:   start + stubSecondsPerWord,
		})
	}

	return &TTSResult{
		Audio:    audio.EncodeSilence(duration, stubSampleRate),
		Format:   "wav",
		Duration: duration,
		Words:    words,
	}, nil
}

func (s *StubTTSProvider) Close() error {
	return nil
}
