// Package stt defines the Provider interface for Speech-to-Text backends.
//
// An STT provider wraps a transcription service (e.g., the OpenAI Whisper API
// or a local whisper.cpp server) and exposes a uniform one-shot interface:
// one finished recording in, one transcript out. Murmur deliberately does not
// stream partial results — a recording is always complete before it is
// submitted, so a single batch request maps cleanly onto every backend.
//
// Implementations must be safe for concurrent use; multiple recordings may be
// transcribed simultaneously (e.g., one per connected user).
package stt

import "context"

// Request carries one finished recording to a Provider.
type Request struct {
	// Audio is the complete encoded audio payload, exactly as captured
	// (e.g., a WebM/Opus or WAV container produced by a browser recorder).
	// Must be non-empty.
	Audio []byte

	// Filename is the name forwarded to the backend for container-format
	// detection (e.g., "recording.webm"). Optional; implementations supply a
	// sensible default when empty.
	Filename string

	// MIMEType is the declared content type of Audio (e.g., "audio/webm").
	// Optional hint; not all backends use it.
	MIMEType string

	// Language is a BCP-47 language hint (e.g., "en", "de"). An empty string
	// lets the backend auto-detect, if supported.
	Language string
}

// Result is the transcription outcome for one Request.
type Result struct {
	// Text is the transcribed speech content, verbatim from the backend.
	// Callers decide how to treat whitespace-only output.
	Text string

	// Model is the backend model that produced the text, when known.
	Model string
}

// Provider is the abstraction over any speech-to-text backend.
//
// Transcribe submits one complete recording and blocks until the backend
// responds or ctx is cancelled. It returns an error for transport failures,
// service-level errors, and empty input; it never fabricates placeholder text.
type Provider interface {
	Transcribe(ctx context.Context, req Request) (*Result, error)
}
