// Package transcribe wraps a speech-to-text provider with validation,
// metrics, and the fail-hard semantics the note pipeline depends on: a
// transcription that produces no text is an error, never an empty success.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/murmurhq/murmur/internal/observe"
	"github.com/murmurhq/murmur/pkg/provider/stt"
)

// ErrTranscriptionFailed tags every failure surfaced by [Gateway.Transcribe]:
// empty audio input, provider transport errors, and empty provider output.
var ErrTranscriptionFailed = errors.New("transcribe: transcription failed")

// Gateway runs one-shot transcriptions against a configured [stt.Provider].
type Gateway struct {
	provider stt.Provider
	name     string
	metrics  *observe.Metrics
}

// NewGateway creates a Gateway around provider. name identifies the provider
// in logs and metrics (e.g. "openai"). A nil metrics falls back to
// [observe.DefaultMetrics].
func NewGateway(provider stt.Provider, name string, metrics *observe.Metrics) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("transcribe: nil provider")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Gateway{
		provider: provider,
		name:     name,
		metrics:  metrics,
	}, nil
}

// Transcribe converts recorded audio to text. Any failure — empty input, a
// provider error, or an empty transcript — is wrapped in
// [ErrTranscriptionFailed]; there is no degraded success path.
func (g *Gateway) Transcribe(ctx context.Context, req stt.Request) (string, error) {
	if len(req.Audio) == 0 {
		return "", fmt.Errorf("%w: empty audio input", ErrTranscriptionFailed)
	}

	log := observe.Logger(ctx).With("component", "transcribe", "provider", g.name)

	start := time.Now()
	g.metrics.RecordProviderRequest(ctx, g.name, "stt")

	result, err := g.provider.Transcribe(ctx, req)
	elapsed := time.Since(start)
	g.metrics.STTDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		g.metrics.RecordProviderError(ctx, g.name, "stt")
		log.ErrorContext(ctx, "transcription failed", "error", err, "duration", elapsed)
		return "", fmt.Errorf("%w: %v", ErrTranscriptionFailed, err)
	}

	text := strings.TrimSpace(result.Text)
	if text == "" {
		g.metrics.RecordProviderError(ctx, g.name, "stt")
		log.WarnContext(ctx, "provider returned empty transcript", "duration", elapsed)
		return "", fmt.Errorf("%w: provider returned no text", ErrTranscriptionFailed)
	}

	log.InfoContext(ctx, "transcription complete",
		"duration", elapsed,
		"chars", len(text),
		"model", result.Model,
	)
	return text, nil
}
