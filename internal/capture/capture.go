// Package capture manages audio recording sessions fed chunk by chunk over
// the wire. A session accumulates audio, reports elapsed time once per
// second, and stops itself when the caller's duration limit is reached.
//
// Each identity (an account ID, or a per-connection guest key) may hold at
// most one active session at a time.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/murmurhq/murmur/internal/observe"
)

var (
	// ErrCaptureActive is returned by Start when the identity already has a
	// session open.
	ErrCaptureActive = errors.New("capture: a capture session is already active")

	// ErrPermissionDenied is the terminal error of a session whose client
	// reported that microphone access was refused.
	ErrPermissionDenied = errors.New("capture: microphone permission denied")

	// ErrSessionClosed is returned by Append after the session stopped.
	ErrSessionClosed = errors.New("capture: session closed")
)

// Recording is the final product of a stopped session.
type Recording struct {
	// Data is the accumulated audio exactly as the client sent it.
	Data []byte

	// Duration is how long the session ran.
	Duration time.Duration

	// MIMEType is the container type announced at session start.
	MIMEType string
}

// TickFunc receives the elapsed time once per second while a session runs.
type TickFunc func(elapsed time.Duration)

// Session is one in-progress recording. All methods are safe for concurrent
// use.
type Session struct {
	key      string
	mimeType string
	maxDur   time.Duration
	onTick   TickFunc
	release  func()

	mu      sync.Mutex
	buf     bytes.Buffer
	started time.Time
	stopped time.Time
	closed  bool
	done    chan struct{}

	// autoStopped is closed when the duration limit fired before the client
	// stopped the session.
	autoStopped chan struct{}
}

// Manager enforces the one-session-per-identity rule and the duration limits.
type Manager struct {
	maxDuration      time.Duration
	guestMaxDuration time.Duration
	metrics          *observe.Metrics
	log              *slog.Logger

	mu     sync.Mutex
	active map[string]*Session
}

// NewManager creates a Manager. maxDuration bounds authenticated sessions,
// guestMaxDuration bounds anonymous ones; both must be positive and
// guestMaxDuration must not exceed maxDuration. A nil metrics falls back to
// [observe.DefaultMetrics].
func NewManager(maxDuration, guestMaxDuration time.Duration, metrics *observe.Metrics) (*Manager, error) {
	if maxDuration <= 0 || guestMaxDuration <= 0 {
		return nil, fmt.Errorf("capture: non-positive duration limits %v/%v", maxDuration, guestMaxDuration)
	}
	if guestMaxDuration > maxDuration {
		return nil, fmt.Errorf("capture: guest limit %v exceeds authenticated limit %v", guestMaxDuration, maxDuration)
	}
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	return &Manager{
		maxDuration:      maxDuration,
		guestMaxDuration: guestMaxDuration,
		metrics:          metrics,
		log:              slog.Default().With("component", "capture"),
		active:           make(map[string]*Session),
	}, nil
}

// Start opens a session for key. authenticated selects which duration limit
// applies. onTick, when non-nil, is invoked once per second with the elapsed
// time. Returns [ErrCaptureActive] when key already has an open session.
func (m *Manager) Start(ctx context.Context, key, mimeType string, authenticated bool, onTick TickFunc) (*Session, error) {
	if key == "" {
		return nil, errors.New("capture: empty session key")
	}

	maxDur := m.guestMaxDuration
	if authenticated {
		maxDur = m.maxDuration
	}

	m.mu.Lock()
	if _, ok := m.active[key]; ok {
		m.mu.Unlock()
		return nil, ErrCaptureActive
	}

	s := &Session{
		key:         key,
		mimeType:    mimeType,
		maxDur:      maxDur,
		onTick:      onTick,
		started:     time.Now(),
		done:        make(chan struct{}),
		autoStopped: make(chan struct{}),
	}
	s.release = func() { m.remove(key) }
	m.active[key] = s
	m.mu.Unlock()

	m.metrics.ActiveCaptures.Add(ctx, 1)
	m.log.InfoContext(ctx, "capture session started",
		"key", key, "max_duration", maxDur, "authenticated", authenticated)

	go s.run()
	return s, nil
}

// Abort force-closes the session key holds, if any. Used when the identity
// signs out mid-recording. Reports whether a session was aborted.
func (m *Manager) Abort(ctx context.Context, key string) bool {
	m.mu.Lock()
	s, ok := m.active[key]
	m.mu.Unlock()
	if !ok {
		return false
	}
	s.Stop()
	m.log.InfoContext(ctx, "capture session aborted", "key", key)
	return true
}

// ActiveCount returns the number of open sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

func (m *Manager) remove(key string) {
	m.mu.Lock()
	delete(m.active, key)
	m.mu.Unlock()
	m.metrics.ActiveCaptures.Add(context.Background(), -1)
}

// run drives the once-per-second tick and the auto-stop deadline.
func (s *Session) run() {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	deadline := time.NewTimer(s.maxDur)
	defer deadline.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-ticker.C:
			if s.onTick != nil {
				s.onTick(s.Elapsed())
			}
		case <-deadline.C:
			close(s.autoStopped)
			s.Stop()
			return
		}
	}
}

// Append adds an audio chunk to the session. Returns [ErrSessionClosed] once
// the session has stopped (including auto-stop at the duration limit).
func (s *Session) Append(chunk []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}
	_, _ = s.buf.Write(chunk)
	return nil
}

// Elapsed returns how long the session has been running (or ran, once
// stopped).
func (s *Session) Elapsed() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return s.stopped.Sub(s.started)
	}
	return time.Since(s.started)
}

// Stop closes the session and returns the accumulated recording. Stop is
// idempotent; later calls return the same recording.
func (s *Session) Stop() Recording {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		s.stopped = time.Now()
		close(s.done)
		s.release()
	}
	rec := Recording{
		Data:     s.buf.Bytes(),
		Duration: s.stopped.Sub(s.started),
		MIMEType: s.mimeType,
	}
	s.mu.Unlock()
	return rec
}

// AutoStopped reports whether the session was ended by its duration limit
// rather than an explicit Stop.
func (s *Session) AutoStopped() bool {
	select {
	case <-s.autoStopped:
		return true
	default:
		return false
	}
}

// Done returns a channel closed when the session stops, whichever side ends
// it.
func (s *Session) Done() <-chan struct{} {
	return s.done
}
