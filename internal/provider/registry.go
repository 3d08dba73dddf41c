package provider

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/pkg/types"
)

// Registry manages provider instances
type Registry struct {
	ttsProviders map[string]TTSProvider
	mu           sync.RWMutex
}

// NewRegistry creates a new provider registry
func NewRegistry() *Registry {
	return &Registry{
		ttsProviders: make(map[string]TTSProvider),
	}
}

// RegisterTTS registers a TTS provider
func (r *Registry) RegisterTTS(provider TTSProvider) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := provider.Name()
	if _, exists := r.ttsProviders[name]; exists {
		return fmt.Errorf("TTS provider already registered: %s", name)
	}

	r.ttsProviders[name] = provider
	return nil
}

// GetTTS retrieves a TTS provider by name
func (r *Registry) GetTTS(name string) (TTSProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	provider, exists := r.ttsProviders[name]
	if !exists {
		return nil, fmt.Errorf("TTS provider not found: %s", name)
	}

	return provider, nil
}

// ListTTS returns all registered TTS provider names
func (r *Registry) ListTTS() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.ttsProviders))
	for name := range r.ttsProviders {
		names = append(names, name)
	}
	return names
}

// Close closes all registered providers
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, provider := range r.ttsProviders {
		if err := provider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close TTS provider %s: %w", name, err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors closing providers: %v", errs)
	}

	return nil
}

// InitializeProviders creates provider instances from configuration
func (r *Registry) InitializeProviders(cfg types.TTSConfig, logger *zap.Logger) error {
	for _, ttsCfg := range cfg.Providers {
		if !ttsCfg.Enabled {
			continue
		}

		var provider TTSProvider
		var err error
		switch ttsCfg.Type {
		case "openai":
			provider, err = NewOpenAITTSProvider(ttsCfg, logger)
		case "edge":
			provider, err = NewEdgeTTSProvider(ttsCfg, logger)
		case "stub":
			provider = NewStubTTSProvider(ttsCfg)
		default:
			err = fmt.Errorf("unknown provider type %q", ttsCfg.Type)
		}
		if err != nil {
			return fmt.Errorf("failed to create TTS provider %s: %w", ttsCfg.Name, err)
		}

		if err := r.RegisterTTS(provider); err != nil {
			return err
		}
	}

	return nil
}
