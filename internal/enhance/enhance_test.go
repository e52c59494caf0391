package enhance_test

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/style"
	"github.com/murmurhq/murmur/pkg/provider/llm"
)

// fakeProvider records the last request and returns a canned response.
type fakeProvider struct {
	resp *llm.CompletionResponse
	err  error
	last llm.CompletionRequest
}

func (f *fakeProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	f.last = req
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func newTestGateway(t *testing.T, p llm.Provider) *enhance.Gateway {
	t.Helper()
	table, err := style.NewTable(style.Builtin(), style.DefaultID)
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	g, err := enhance.NewGateway(p, "fake", table, nil)
	if err != nil {
		t.Fatalf("NewGateway: %v", err)
	}
	return g
}

func TestEnhance(t *testing.T) {
	p := &fakeProvider{resp: &llm.CompletionResponse{Content: "Polished text."}}
	g := newTestGateway(t, p)

	res, err := g.Enhance(context.Background(), enhance.Request{
		Transcript: "um so polished text",
		StyleID:    "journal",
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if res.Enhanced != "Polished text." {
		t.Errorf("Enhanced = %q", res.Enhanced)
	}
	if res.Style != "journal" {
		t.Errorf("Style = %q, want journal", res.Style)
	}
	if res.Degraded {
		t.Error("Degraded = true for a normal response")
	}
	if !strings.Contains(p.last.SystemPrompt, "journal") && p.last.SystemPrompt == "" {
		t.Errorf("system prompt not populated: %q", p.last.SystemPrompt)
	}
	if p.last.UserContent != "um so polished text" {
		t.Errorf("UserContent = %q", p.last.UserContent)
	}
}

func TestEnhanceUnknownStyleFallsBack(t *testing.T) {
	p := &fakeProvider{resp: &llm.CompletionResponse{Content: "Done."}}
	g := newTestGateway(t, p)

	res, err := g.Enhance(context.Background(), enhance.Request{
		Transcript: "text",
		StyleID:    "no-such-style",
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if res.Style != style.DefaultID {
		t.Errorf("Style = %q, want default %q", res.Style, style.DefaultID)
	}
}

func TestEnhanceCustomInstruction(t *testing.T) {
	p := &fakeProvider{resp: &llm.CompletionResponse{Content: "Done."}}
	g := newTestGateway(t, p)

	const custom = "Translate everything into pirate speak."
	_, err := g.Enhance(context.Background(), enhance.Request{
		Transcript:        "text",
		CustomInstruction: custom,
	})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if !strings.Contains(p.last.SystemPrompt, custom) {
		t.Errorf("system prompt %q does not contain custom instruction", p.last.SystemPrompt)
	}
}

func TestEnhanceEmptyContentPassesTranscriptThrough(t *testing.T) {
	p := &fakeProvider{resp: &llm.CompletionResponse{Content: "   "}}
	g := newTestGateway(t, p)

	res, err := g.Enhance(context.Background(), enhance.Request{Transcript: "raw words"})
	if err != nil {
		t.Fatalf("Enhance: %v", err)
	}
	if res.Enhanced != "raw words" {
		t.Errorf("Enhanced = %q, want unmodified transcript", res.Enhanced)
	}
	if !res.Degraded {
		t.Error("Degraded = false, want true")
	}
}

func TestEnhanceProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("rate limited")}
	g := newTestGateway(t, p)

	_, err := g.Enhance(context.Background(), enhance.Request{Transcript: "text"})
	if !errors.Is(err, enhance.ErrEnhancementFailed) {
		t.Errorf("Enhance error = %v, want ErrEnhancementFailed", err)
	}
}

func TestEnhanceEmptyTranscript(t *testing.T) {
	p := &fakeProvider{resp: &llm.CompletionResponse{Content: "unused"}}
	g := newTestGateway(t, p)

	_, err := g.Enhance(context.Background(), enhance.Request{Transcript: "  "})
	if !errors.Is(err, enhance.ErrEnhancementFailed) {
		t.Errorf("Enhance(empty transcript) error = %v, want ErrEnhancementFailed", err)
	}
}
