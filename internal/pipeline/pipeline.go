// Package pipeline orchestrates one recording's journey from audio to note
// text: transcription first, then enhancement, with a strict failure order —
// enhancement is never attempted after transcription fails.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/observe"
	"github.com/murmurhq/murmur/internal/transcribe"
	"github.com/murmurhq/murmur/pkg/provider/stt"
)

// State is the observable phase of a pipeline run.
type State string

const (
	StateIdle         State = "idle"
	StateTranscribing State = "transcribing"
	StateEnhancing    State = "enhancing"
	StateComplete     State = "complete"
	StateFailed       State = "failed"
)

// FailureReason says which stage a failed run died in.
type FailureReason string

const (
	ReasonNone                FailureReason = ""
	ReasonTranscriptionFailed FailureReason = "transcription_failed"
	ReasonEnhancementFailed   FailureReason = "enhancement_failed"
)

// ErrRunActive is returned by Process while another run is already in flight
// on the same Pipeline.
var ErrRunActive = errors.New("pipeline: a run is already in progress")

// Request carries one recording through the pipeline.
type Request struct {
	// Audio is the captured recording. Must be non-empty.
	Audio []byte

	// Filename and MIMEType describe the container for the STT provider.
	Filename string
	MIMEType string

	// Language optionally pins the STT language (ISO 639-1), empty for
	// auto-detect.
	Language string

	// StyleID selects the enhancement style; empty resolves to the default.
	StyleID string

	// CustomInstruction overrides the style's instruction when non-empty.
	CustomInstruction string
}

// Result is the outcome of a completed run.
type Result struct {
	// Transcript is the raw speech-to-text output.
	Transcript string

	// Enhanced is the rewritten text (or the transcript itself when the
	// model returned empty content).
	Enhanced string

	// Style is the style ID actually applied after fallback.
	Style string

	// WordCount counts whitespace-separated words in Enhanced.
	WordCount int

	// ProcessingTime is the wall-clock duration of the whole run.
	ProcessingTime time.Duration
}

// Observer receives state transitions of a run. Calls are sequential; the
// callback must not block for long.
type Observer func(from, to State, reason FailureReason)

// Pipeline runs transcription and enhancement back to back. At most one run
// may be in flight at a time; concurrent Process calls beyond the first fail
// fast with [ErrRunActive].
type Pipeline struct {
	transcriber *transcribe.Gateway
	enhancer    *enhance.Gateway
	metrics     *observe.Metrics
	log         *slog.Logger

	mu       sync.Mutex
	inFlight bool
	state    State
}

// New creates a Pipeline. A nil metrics falls back to [observe.DefaultMetrics].
func New(transcriber *transcribe.Gateway, enhancer *enhance.Gateway, metrics *observe.Metrics) (*Pipeline, error) {
	if transcriber == nil {
		return nil, errors.New("pipeline: nil transcriber")
	}
	if enhancer == nil {
		return nil, errors.New("pipeline: nil enhancer")
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Pipeline{
		transcriber: transcriber,
		enhancer:    enhancer,
		metrics:     metrics,
		log:         slog.Default().With("component", "pipeline"),
		state:       StateIdle,
	}, nil
}

// State returns the current phase of the pipeline.
func (p *Pipeline) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// Process runs req through transcription and enhancement. obs, when non-nil,
// observes every state transition including the terminal one.
//
// Failure order is strict: when transcription fails the run ends with
// [transcribe.ErrTranscriptionFailed] and the enhancer is never invoked.
// When enhancement fails the error wraps [enhance.ErrEnhancementFailed] and
// the raw transcript is still returned alongside it so callers can salvage
// the user's words.
func (p *Pipeline) Process(ctx context.Context, req Request, obs Observer) (*Result, error) {
	p.mu.Lock()
	if p.inFlight {
		p.mu.Unlock()
		return nil, ErrRunActive
	}
	p.inFlight = true
	p.mu.Unlock()

	defer func() {
		p.mu.Lock()
		p.inFlight = false
		p.mu.Unlock()
	}()

	start := time.Now()

	p.transition(StateIdle, StateTranscribing, ReasonNone, obs)
	transcript, err := p.transcriber.Transcribe(ctx, stt.Request{
		Audio:    req.Audio,
		Filename: req.Filename,
		MIMEType: req.MIMEType,
		Language: req.Language,
	})
	if err != nil {
		p.fail(ctx, StateTranscribing, ReasonTranscriptionFailed, obs)
		return nil, fmt.Errorf("pipeline: %w", err)
	}

	p.transition(StateTranscribing, StateEnhancing, ReasonNone, obs)
	enhanced, err := p.enhancer.Enhance(ctx, enhance.Request{
		Transcript:        transcript,
		StyleID:           req.StyleID,
		CustomInstruction: req.CustomInstruction,
	})
	if err != nil {
		p.fail(ctx, StateEnhancing, ReasonEnhancementFailed, obs)
		return &Result{Transcript: transcript}, fmt.Errorf("pipeline: %w", err)
	}

	elapsed := time.Since(start)
	p.transition(StateEnhancing, StateComplete, ReasonNone, obs)
	p.metrics.PipelineDuration.Record(ctx, elapsed.Seconds())
	p.metrics.RecordPipelineRun(ctx, "complete")

	result := &Result{
		Transcript:     transcript,
		Enhanced:       enhanced.Enhanced,
		Style:          enhanced.Style,
		WordCount:      len(strings.Fields(enhanced.Enhanced)),
		ProcessingTime: elapsed,
	}

	p.log.InfoContext(ctx, "pipeline run complete",
		"style", result.Style,
		"word_count", result.WordCount,
		"duration", elapsed,
		"degraded", enhanced.Degraded,
	)
	return result, nil
}

func (p *Pipeline) transition(from, to State, reason FailureReason, obs Observer) {
	p.mu.Lock()
	p.state = to
	p.mu.Unlock()
	if obs != nil {
		obs(from, to, reason)
	}
}

func (p *Pipeline) fail(ctx context.Context, from State, reason FailureReason, obs Observer) {
	p.transition(from, StateFailed, reason, obs)
	p.metrics.RecordPipelineRun(ctx, string(reason))
}
