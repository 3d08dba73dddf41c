package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/pkg/types"
)

// OpenAITTSProvider implements TTSProvider using OpenAI-compatible TTS APIs
type OpenAITTSProvider struct {
	name       string
	config     types.TTSProviderConfig
	httpClient *http.Client
	model      string
	format     string
	logger     *zap.Logger
}

// NewOpenAITTSProvider creates a new OpenAI-compatible TTS provider
func NewOpenAITTSProvider(config types.TTSProviderConfig, logger *zap.Logger) (*OpenAITTSProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for OpenAI TTS provider")
	}

	model, ok := config.Options["model"]
	if !ok || model == "" {
		return nil, fmt.Errorf("model is required for OpenAI TTS provider (set in options.model)")
	}

	format := config.Format
	if format == "" {
		format = "mp3"
	}

	// Per-request deadlines come from the caller's context; the client
	// timeout is only a backstop against a hung connection.
	timeout := 300 * time.Second
	if timeoutStr, ok := config.Options["timeout"]; ok {
		var timeoutSec int
		if _, err := fmt.Sscanf(timeoutStr, "%d", &timeoutSec); err == nil && timeoutSec > 0 {
			timeout = time.Duration(timeoutSec) * time.Second
		}
	}

	return &OpenAITTSProvider{
		name:   config.Name,
		config: config,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		model:  model,
		format: format,
		logger: logger.Named("tts").With(zap.String("provider", config.Name)),
	}, nil
}

func (o *OpenAITTSProvider) Name() string {
	return o.name
}

// Synthesize converts text to speech using an OpenAI-compatible API.
// The API returns no word timestamps and no duration; downstream code
// measures the clip instead.
func (o *OpenAITTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	apiReq := ttsAPIRequest{
		Model:          o.model,
		Input:          req.Text,
		Voice:          req.VoiceID,
		ResponseFormat: o.format,
	}

	audioData, err := o.callTTSAPI(ctx, apiReq)
	if err != nil {
		return nil, err
	}

	return &TTSResult{
		Audio:  audioData,
		Format: o.format,
	}, nil
}

func (o *OpenAITTSProvider) Close() error {
	o.httpClient.CloseIdleConnections()
	return nil
}

// ttsAPIRequest represents the OpenAI TTS API request structure
type ttsAPIRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format,omitempty"`
}

// ttsAPIErrorResponse represents an error response from the TTS API
type ttsAPIErrorResponse struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// callTTSAPI calls the OpenAI-compatible TTS endpoint
func (o *OpenAITTSProvider) callTTSAPI(ctx context.Context, req ttsAPIRequest) ([]byte, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to marshal request: %w", err))
	}

	endpoint := o.config.Endpoint
	if !strings.HasSuffix(endpoint, "/") {
		endpoint += "/"
	}
	endpoint += "audio/speech"

	o.logger.Debug("tts request",
		zap.String("endpoint", endpoint),
		zap.String("model", req.Model),
		zap.String("voice", req.Voice),
		zap.Int("input_chars", len(req.Input)))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, Permanent(fmt.Errorf("failed to create request: %w", err))
	}

	httpReq.Header.Set("Content-Type", "application/json")
	if o.config.APIKey != "" {
		httpReq.Header.Set("Authorization", fmt.Sprintf("Bearer %s", o.config.APIKey))
	}

	startTime := time.Now()
	resp, err := o.httpClient.Do(httpReq)
	duration := time.Since(startTime)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		o.logger.Warn("tts request failed", zap.Duration("took", duration), zap.Error(err))
		return nil, Transient(fmt.Errorf("failed to execute request: %w", err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, Transient(fmt.Errorf("failed to read response: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		var errResp ttsAPIErrorResponse
		if jsonErr := json.Unmarshal(body, &errResp); jsonErr == nil && errResp.Error.Message != "" {
			o.logger.Warn("tts api error",
				zap.Int("status", resp.StatusCode),
				zap.String("message", errResp.Error.Message),
				zap.String("type", errResp.Error.Type))
			return nil, classifyStatus(resp.StatusCode,
				fmt.Errorf("API error (status %d): %s", resp.StatusCode, errResp.Error.Message))
		}
		o.logger.Warn("tts api error",
			zap.Int("status", resp.StatusCode),
			zap.String("body", truncateString(string(body), 500)))
		return nil, classifyStatus(resp.StatusCode,
			fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, truncateString(string(body), 500)))
	}

	o.logger.Debug("tts response",
		zap.Int("audio_bytes", len(body)),
		zap.Duration("took", duration))
	return body, nil
}

// truncateString truncates a string to the specified length
func truncateString(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "... (truncated)"
}
