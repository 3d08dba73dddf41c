package provider

import (
	"context"
	"math"
	"reflect"
	"testing"

	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/internal/audio"
	"github.com/inkvoice/inkvoice/pkg/types"
)

func TestRegistry(t *testing.T) {
	t.Run("register and get", func(t *testing.T) {
		r := NewRegistry()
		p := NewStubTTSProvider(types.TTSProviderConfig{Name: "stub-1"})
		if err := r.RegisterTTS(p); err != nil {
			t.Fatalf("RegisterTTS failed: %v", err)
		}

		got, err := r.GetTTS("stub-1")
		if err != nil {
			t.Fatalf("GetTTS failed: %v", err)
		}
		if got.Name() != "stub-1" {
			t.Errorf("got provider %q", got.Name())
		}
	})

	t.Run("duplicate registration fails", func(t *testing.T) {
		r := NewRegistry()
		p := NewStubTTSProvider(types.TTSProviderConfig{Name: "stub-1"})
		if err := r.RegisterTTS(p); err != nil {
			t.Fatalf("RegisterTTS failed: %v", err)
		}
		if err := r.RegisterTTS(p); err == nil {
			t.Fatal("expected error for duplicate registration")
		}
	})

	t.Run("unknown provider", func(t *testing.T) {
		r := NewRegistry()
		if _, err := r.GetTTS("nope"); err == nil {
			t.Fatal("expected error for unknown provider")
		}
	})

	t.Run("initialize from config", func(t *testing.T) {
		r := NewRegistry()
		cfg := types.TTSConfig{
			Providers: []types.TTSProviderConfig{
				{Name: "local-stub", Type: "stub", Enabled: true},
				{Name: "disabled", Type: "stub", Enabled: false},
				{Name: "api", Type: "openai", Enabled: true, Endpoint: "http://localhost:1",
					Options: map[string]string{"model": "tts-1"}},
			},
		}
		if err := r.InitializeProviders(cfg, zap.NewNop()); err != nil {
			t.Fatalf("InitializeProviders failed: %v", err)
		}

		names := r.ListTTS()
		if len(names) != 2 {
			t.Fatalf("expected 2 providers, got %v", names)
		}
		if _, err := r.GetTTS("disabled"); err == nil {
			t.Error("disabled provider should not be registered")
		}
	})

	t.Run("unknown type fails", func(t *testing.T) {
		r := NewRegistry()
		cfg := types.TTSConfig{
			Providers: []types.TTSProviderConfig{{Name: "x", Type: "carrier-pigeon", Enabled: true}},
		}
		if err := r.InitializeProviders(cfg, zap.NewNop()); err == nil {
			t.Fatal("expected error for unknown provider type")
		}
	})
}

func TestStubTTSProvider(t *testing.T) {
	p := NewStubTTSProvider(types.TTSProviderConfig{Name: "stub"})
	ctx := context.Background()

	t.Run("audio duration matches reported duration", func(t *testing.T) {
		result, err := p.Synthesize(ctx, TTSRequest{Text: "one two three four", VoiceID: "v"})
		if err != nil {
			t.Fatalf("Synthesize failed: %v", err)
		}
		if result.Format != "wav" {
			t.Fatalf("format = %q", result.Format)
		}
		measured, err := audio.WAVDuration(result.Audio)
		if err != nil {
			t.Fatalf("WAVDuration failed: %v", err)
		}
		if math.Abs(measured-result.Duration) > 0.001 {
			t.Errorf("measured %f, reported %f", measured, result.Duration)
		}
		if len(result.Words) != 4 {
			t.Errorf("expected 4 words, got %d", len(result.Words))
		}
		for _, w := range result.Words {
			if w.End > result.Duration {
				t.Errorf("word %q ends at %f past clip duration %f", w.Word, w.End, result.Duration)
			}
		}
	})

	t.Run("is deterministic", func(t *testing.T) {
		a, err := p.Synthesize(ctx, TTSRequest{Text: "same text in", VoiceID: "v"})
		if err != nil {
			t.Fatal(err)
		}
		b, err := p.Synthesize(ctx, TTSRequest{Text: "same text in", VoiceID: "v"})
		if err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(a, b) {
			t.Error("stub output differs across identical calls")
		}
	})

	t.Run("respects cancellation", func(t *testing.T) {
		canceled, cancel := context.WithCancel(ctx)
		cancel()
		if _, err := p.Synthesize(canceled, TTSRequest{Text: "text"}); err == nil {
			t.Fatal("expected context error")
		}
	})
}
