package capture_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/murmurhq/murmur/internal/capture"
)

func newTestManager(t *testing.T, maxDur, guestMaxDur time.Duration) *capture.Manager {
	t.Helper()
	m, err := capture.NewManager(maxDur, guestMaxDur, nil)
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	return m
}

func TestSessionAccumulatesChunks(t *testing.T) {
	m := newTestManager(t, time.Minute, time.Minute)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := s.Append([]byte("abc")); err != nil {
		t.Fatalf("Append: %v", err)
	}
	if err := s.Append([]byte("def")); err != nil {
		t.Fatalf("Append: %v", err)
	}

	rec := s.Stop()
	if string(rec.Data) != "abcdef" {
		t.Errorf("Recording.Data = %q, want %q", rec.Data, "abcdef")
	}
	if rec.MIMEType != "audio/webm" {
		t.Errorf("Recording.MIMEType = %q", rec.MIMEType)
	}
	if rec.Duration <= 0 {
		t.Errorf("Recording.Duration = %v, want > 0", rec.Duration)
	}

	if err := s.Append([]byte("late")); !errors.Is(err, capture.ErrSessionClosed) {
		t.Errorf("Append after Stop error = %v, want ErrSessionClosed", err)
	}
}

func TestOneSessionPerIdentity(t *testing.T) {
	m := newTestManager(t, time.Minute, time.Minute)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if _, err := m.Start(ctx, "user-1", "audio/webm", true, nil); !errors.Is(err, capture.ErrCaptureActive) {
		t.Errorf("second Start error = %v, want ErrCaptureActive", err)
	}

	// A different identity is unaffected.
	other, err := m.Start(ctx, "user-2", "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("Start(other identity): %v", err)
	}
	other.Stop()

	// Stopping frees the slot.
	s.Stop()
	s2, err := m.Start(ctx, "user-1", "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("Start after Stop: %v", err)
	}
	s2.Stop()
}

func TestAutoStopAtDurationLimit(t *testing.T) {
	m := newTestManager(t, time.Minute, 50*time.Millisecond)
	ctx := context.Background()

	s, err := m.Start(ctx, "guest-1", "audio/webm", false, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-s.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not auto-stop at the guest duration limit")
	}

	if !s.AutoStopped() {
		t.Error("AutoStopped = false after limit fired")
	}
	if got := m.ActiveCount(); got != 0 {
		t.Errorf("ActiveCount after auto-stop = %d, want 0", got)
	}
}

func TestTicks(t *testing.T) {
	m := newTestManager(t, time.Minute, time.Minute)
	ctx := context.Background()

	var ticks atomic.Int32
	s, err := m.Start(ctx, "user-1", "audio/webm", true, func(time.Duration) {
		ticks.Add(1)
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer s.Stop()

	deadline := time.After(3 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("no tick observed within 3s")
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func TestAbort(t *testing.T) {
	m := newTestManager(t, time.Minute, time.Minute)
	ctx := context.Background()

	s, err := m.Start(ctx, "user-1", "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	if !m.Abort(ctx, "user-1") {
		t.Fatal("Abort returned false for an active session")
	}
	select {
	case <-s.Done():
	default:
		t.Error("session still open after Abort")
	}

	if m.Abort(ctx, "user-1") {
		t.Error("Abort returned true with no active session")
	}
}

func TestNewManagerValidation(t *testing.T) {
	if _, err := capture.NewManager(0, time.Second, nil); err == nil {
		t.Error("NewManager accepted zero max duration")
	}
	if _, err := capture.NewManager(time.Second, 2*time.Second, nil); err == nil {
		t.Error("NewManager accepted guest limit above authenticated limit")
	}
}
