package provider

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/inkvoice/inkvoice/pkg/types"
)

// EdgeTTSProvider implements TTSProvider against the Microsoft Edge read-aloud
// websocket service. Unlike the OpenAI-compatible API it streams word
// boundary events alongside the audio, so results carry real timestamps.
type EdgeTTSProvider struct {
	name     string
	config   types.TTSProviderConfig
	endpoint string
	logger   *zap.Logger
}

const (
	edgeOutputFormat = "audio-24khz-48kbitrate-mono-mp3"

	// 100-nanosecond ticks per second, the unit of boundary offsets
	edgeTicksPerSecond = 10_000_000.0
)

// NewEdgeTTSProvider creates a new Edge read-aloud provider
func NewEdgeTTSProvider(config types.TTSProviderConfig, logger *zap.Logger) (*EdgeTTSProvider, error) {
	if config.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required for Edge TTS provider")
	}
	return &EdgeTTSProvider{
		name:     config.Name,
		config:   config,
		endpoint: config.Endpoint,
		logger:   logger.Named("tts").With(zap.String("provider", config.Name)),
	}, nil
}

func (e *EdgeTTSProvider) Name() string {
	return e.name
}

// Synthesize sends one SSML utterance over a fresh websocket connection and
// collects binary audio frames plus WordBoundary metadata until turn.end.
func (e *EdgeTTSProvider) Synthesize(ctx context.Context, req TTSRequest) (*TTSResult, error) {
	connectionID := strings.ReplaceAll(uuid.NewString(), "-", "")

	wsURL := e.endpoint
	if strings.Contains(wsURL, "?") {
		wsURL += "&ConnectionId=" + connectionID
	} else {
		wsURL += "?ConnectionId=" + connectionID
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, Transient(fmt.Errorf("failed to dial TTS websocket: %w", err))
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
		conn.SetWriteDeadline(deadline)
	}

	timestamp := time.Now().UTC().Format(time.RFC1123)
	configMsg := fmt.Sprintf(
		"X-Timestamp:%s\r\nContent-Type:application/json; charset=utf-8\r\nPath:speech.config\r\n\r\n%s",
		timestamp, edgeSpeechConfig())
	if err := conn.WriteMessage(websocket.TextMessage, []byte(configMsg)); err != nil {
		return nil, Transient(fmt.Errorf("failed to send speech config: %w", err))
	}

	ssmlMsg := fmt.Sprintf(
		"X-RequestId:%s\r\nContent-Type:application/ssml+xml\r\nX-Timestamp:%s\r\nPath:ssml\r\n\r\n%s",
		connectionID, timestamp, buildSSML(req.Text, req.VoiceID))
	if err := conn.WriteMessage(websocket.TextMessage, []byte(ssmlMsg)); err != nil {
		return nil, Transient(fmt.Errorf("failed to send ssml: %w", err))
	}

	var audio []byte
	var words []WordTimestamp

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, Transient(fmt.Errorf("websocket read failed: %w", err))
		}

		switch msgType {
		case websocket.TextMessage:
			headers, body := splitWSMessage(string(data))
			switch headers["Path"] {
			case "audio.metadata":
				ws, err := parseWordBoundaries([]byte(body))
				if err != nil {
					e.logger.Warn("failed to parse boundary metadata", zap.Error(err))
					continue
				}
				words = append(words, ws...)
			case "turn.end":
				if len(audio) == 0 {
					return nil, Permanent(fmt.Errorf("service returned no audio for %d chars", len(req.Text)))
				}
				e.logger.Debug("tts response",
					zap.Int("audio_bytes", len(audio)),
					zap.Int("words", len(words)))
				return &TTSResult{
					Audio:  audio,
					Format: "mp3",
					Words:  words,
				}, nil
			}

		case websocket.BinaryMessage:
			payload, err := edgeAudioPayload(data)
			if err != nil {
				return nil, Permanent(err)
			}
			audio = append(audio, payload...)
		}
	}
}

func (e *EdgeTTSProvider) Close() error {
	return nil
}

func edgeSpeechConfig() string {
	return fmt.Sprintf(`{"context":{"synthesis":{"audio":{"metadataoptions":{"sentenceBoundaryEnabled":"false","wordBoundaryEnabled":"true"},"outputFormat":%q}}}}`,
		edgeOutputFormat)
}

// buildSSML wraps text for synthesis. The utterance language comes from the
// voice name (e.g. en-US-AriaNeural), which is how the service resolves it.
func buildSSML(text, voice string) string {
	escaped := xmlEscape(text)
	return fmt.Sprintf(
		"<speak version='1.0' xmlns='http://www.w3.org/2001/10/synthesis' xml:lang='en-US'>"+
			"<voice name='%s'>%s</voice></speak>",
		voice, escaped)
}

func xmlEscape(s string) string {
	r := strings.NewReplacer(
		"&", "&amp;",
		"<", "&lt;",
		">", "&gt;",
		"'", "&apos;",
		`"`, "&quot;",
	)
	return r.Replace(s)
}

// splitWSMessage separates the colon-delimited header block from the body.
func splitWSMessage(msg string) (map[string]string, string) {
	headers := make(map[string]string)
	headerPart, body, _ := strings.Cut(msg, "\r\n\r\n")
	for _, line := range strings.Split(headerPart, "\r\n") {
		if key, value, ok := strings.Cut(line, ":"); ok {
			headers[key] = value
		}
	}
	return headers, body
}

// edgeAudioPayload strips the length-prefixed header from a binary frame.
// The first two bytes are a big-endian header length; audio bytes follow.
func edgeAudioPayload(data []byte) ([]byte, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("binary frame too short: %d bytes", len(data))
	}
	headerLen := int(binary.BigEndian.Uint16(data[:2]))
	if 2+headerLen > len(data) {
		return nil, fmt.Errorf("binary frame header length %d exceeds frame size %d", headerLen, len(data))
	}
	header := string(data[2 : 2+headerLen])
	if !strings.Contains(header, "Path:audio") {
		return nil, fmt.Errorf("unexpected binary frame path in header: %s", truncateString(header, 200))
	}
	return data[2+headerLen:], nil
}

type edgeMetadata struct {
	Metadata []struct {
		Type string `json:"Type"`
		Data struct {
			Offset   int64 `json:"Offset"`
			Duration int64 `json:"Duration"`
			Text     struct {
				Text string `json:"Text"`
			} `json:"text"`
		} `json:"Data"`
	} `json:"Metadata"`
}

func parseWordBoundaries(body []byte) ([]WordTimestamp, error) {
	var meta edgeMetadata
	if err := json.Unmarshal(body, &meta); err != nil {
		return nil, fmt.Errorf("failed to unmarshal metadata: %w", err)
	}
	var words []WordTimestamp
	for _, m := range meta.Metadata {
		if m.Type != "WordBoundary" {
			continue
		}
		start := float64(m.Data.Offset) / edgeTicksPerSecond
		words = append(words, WordTimestamp{
			Word:  m.Data.Text.Text,
			Start: start,
			End:   start + float64(m.Data.Duration)/edgeTicksPerSecond,
		})
	}
	return words, nil
}
