// Package enhance rewrites raw transcripts into polished text with a language
// model, steered by a named writing style.
//
// Failure handling is deliberately asymmetric: a provider transport error is
// a real failure (the caller decides what to do with the raw transcript), but
// a provider that answers successfully with empty content degrades to the
// unmodified transcript — a silent model refusal must never lose the user's
// words.
package enhance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/murmurhq/murmur/internal/observe"
	"github.com/murmurhq/murmur/internal/style"
	"github.com/murmurhq/murmur/pkg/provider/llm"
)

// ErrEnhancementFailed tags provider transport and API failures surfaced by
// [Gateway.Enhance].
var ErrEnhancementFailed = errors.New("enhance: enhancement failed")

const systemPromptPrefix = "You are a helpful assistant that transforms voice transcriptions into well-written notes. "

// Request describes one enhancement.
type Request struct {
	// Transcript is the raw speech-to-text output. Must be non-empty.
	Transcript string

	// StyleID selects a style from the table; unknown or empty IDs resolve
	// to the table's default.
	StyleID string

	// CustomInstruction, when non-empty, overrides the resolved style's
	// instruction verbatim.
	CustomInstruction string
}

// Result is the outcome of one enhancement.
type Result struct {
	// Enhanced is the rewritten text, or the unmodified transcript when the
	// provider returned empty content.
	Enhanced string

	// Style is the ID of the style actually applied after fallback.
	Style string

	// Degraded is true when the provider returned empty content and the raw
	// transcript was passed through.
	Degraded bool
}

// Gateway runs transcript enhancements against a configured [llm.Provider].
type Gateway struct {
	provider llm.Provider
	name     string
	styles   *style.Table
	metrics  *observe.Metrics
}

// NewGateway creates a Gateway around provider. name identifies the provider
// in logs and metrics. A nil metrics falls back to [observe.DefaultMetrics].
func NewGateway(provider llm.Provider, name string, styles *style.Table, metrics *observe.Metrics) (*Gateway, error) {
	if provider == nil {
		return nil, errors.New("enhance: nil provider")
	}
	if styles == nil {
		return nil, errors.New("enhance: nil style table")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Gateway{
		provider: provider,
		name:     name,
		styles:   styles,
		metrics:  metrics,
	}, nil
}

// Enhance rewrites req.Transcript in the requested style with a single model
// call. Transport and API errors are wrapped in [ErrEnhancementFailed]; a
// successful call with empty content returns the transcript unchanged with
// Degraded set.
func (g *Gateway) Enhance(ctx context.Context, req Request) (*Result, error) {
	if strings.TrimSpace(req.Transcript) == "" {
		return nil, fmt.Errorf("%w: empty transcript", ErrEnhancementFailed)
	}

	log := observe.Logger(ctx).With("component", "enhance", "provider", g.name)

	st, known := g.styles.Resolve(req.StyleID)
	if !known && req.StyleID != "" {
		log.WarnContext(ctx, "unknown style, falling back to default",
			"requested", req.StyleID, "default", st.ID)
	}

	instruction := st.Instruction
	if req.CustomInstruction != "" {
		instruction = req.CustomInstruction
	}

	start := time.Now()
	g.metrics.RecordProviderRequest(ctx, g.name, "llm")

	resp, err := g.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: systemPromptPrefix + instruction,
		UserContent:  req.Transcript,
		Temperature:  0.7,
	})
	elapsed := time.Since(start)
	g.metrics.EnhanceDuration.Record(ctx, elapsed.Seconds())

	if err != nil {
		g.metrics.RecordProviderError(ctx, g.name, "llm")
		log.ErrorContext(ctx, "enhancement failed", "error", err, "style", st.ID, "duration", elapsed)
		return nil, fmt.Errorf("%w: %v", ErrEnhancementFailed, err)
	}

	enhanced := strings.TrimSpace(resp.Content)
	if enhanced == "" {
		log.WarnContext(ctx, "provider returned empty content, passing transcript through",
			"style", st.ID, "duration", elapsed)
		return &Result{Enhanced: req.Transcript, Style: st.ID, Degraded: true}, nil
	}

	log.InfoContext(ctx, "enhancement complete",
		"style", st.ID,
		"duration", elapsed,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
	)
	return &Result{Enhanced: enhanced, Style: st.ID}, nil
}
