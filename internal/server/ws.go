package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"

	"github.com/murmurhq/murmur/internal/capture"
	"github.com/murmurhq/murmur/internal/pipeline"
)

// Capture wire protocol. The client streams audio as binary frames and
// control messages as JSON text frames; the server answers with JSON text
// frames only.
//
// Client control messages:
//
//	{"type":"stop"}                       finish the recording and process it
//	{"type":"cancel"}                     discard the recording
//	{"type":"error","reason":"<reason>"}  abort; reason "permission_denied"
//	                                      marks a refused microphone
//
// Server messages:
//
//	{"type":"tick","elapsed":<seconds>}
//	{"type":"stopped","reason":"limit"}   duration limit reached, processing
//	{"type":"state","reason":"<phase>"}   pipeline progress
//	{"type":"result",...}                 terminal, carries the note text
//	{"type":"error","error":"..."}        terminal
type wsClientMessage struct {
	Type              string `json:"type"`
	Reason            string `json:"reason,omitempty"`
	Style             string `json:"style,omitempty"`
	CustomInstruction string `json:"customInstruction,omitempty"`
	Language          string `json:"language,omitempty"`
}

type wsServerMessage struct {
	Type    string  `json:"type"`
	Elapsed float64 `json:"elapsed,omitempty"`
	Reason  string  `json:"reason,omitempty"`
	Error   string  `json:"error,omitempty"`

	Transcript string `json:"transcript,omitempty"`
	Enhanced   string `json:"enhanced,omitempty"`
	Style      string `json:"style,omitempty"`
	WordCount  int    `json:"wordCount,omitempty"`
}

// handleCapture upgrades to a WebSocket and runs one capture session over
// it: the client streams audio chunks, the server echoes elapsed-time ticks,
// and a stop (from either side) pushes the recording through the pipeline.
func (s *Server) handleCapture(w http.ResponseWriter, r *http.Request) {
	key, authenticated := callerKey(r)

	// Guest capture sessions are scoped to the connection, not the host, so
	// two tabs behind one address can record independently. The pipeline key
	// stays host-scoped.
	sessionKey := key
	if !authenticated {
		sessionKey = "guest:" + r.RemoteAddr
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.CORSOrigins,
	})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "session ended")

	ctx := r.Context()
	mimeType := r.URL.Query().Get("mime")
	if mimeType == "" {
		mimeType = "audio/webm"
	}

	send := func(msg wsServerMessage) {
		payload, _ := json.Marshal(msg)
		_ = conn.Write(ctx, websocket.MessageText, payload)
	}

	session, err := s.deps.Capture.Start(ctx, sessionKey, mimeType, authenticated, func(elapsed time.Duration) {
		send(wsServerMessage{Type: "tick", Elapsed: elapsed.Seconds()})
	})
	if errors.Is(err, capture.ErrCaptureActive) {
		send(wsServerMessage{Type: "error", Error: "A capture session is already active"})
		conn.Close(websocket.StatusPolicyViolation, "capture active")
		return
	}
	if err != nil {
		send(wsServerMessage{Type: "error", Error: "Failed to start capture"})
		conn.Close(websocket.StatusInternalError, "start failed")
		return
	}

	var opts wsClientMessage
	outcome := s.readCaptureStream(ctx, conn, session, &opts)

	switch outcome {
	case captureProcess:
		s.processCapture(ctx, conn, send, session, key, opts)
	case captureCancelled:
		session.Stop()
		conn.Close(websocket.StatusNormalClosure, "cancelled")
	case capturePermissionDenied:
		session.Stop()
		s.log.WarnContext(ctx, "capture aborted", "key", sessionKey, "error", capture.ErrPermissionDenied)
		send(wsServerMessage{Type: "error", Error: "Microphone permission denied"})
		conn.Close(websocket.StatusNormalClosure, "permission denied")
	case captureDisconnected:
		session.Stop()
	}
}

type captureOutcome int

const (
	captureProcess captureOutcome = iota
	captureCancelled
	capturePermissionDenied
	captureDisconnected
)

// readCaptureStream consumes frames until the client stops, cancels, errors,
// or disconnects — or the session auto-stops at its duration limit.
func (s *Server) readCaptureStream(ctx context.Context, conn *websocket.Conn, session *capture.Session, opts *wsClientMessage) captureOutcome {
	type frame struct {
		kind websocket.MessageType
		data []byte
		err  error
	}
	frames := make(chan frame)
	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	go func() {
		for {
			kind, data, err := conn.Read(readCtx)
			select {
			case frames <- frame{kind, data, err}:
			case <-readCtx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-session.Done():
			if session.AutoStopped() {
				return captureProcess
			}
			return captureDisconnected
		case f := <-frames:
			if f.err != nil {
				return captureDisconnected
			}
			switch f.kind {
			case websocket.MessageBinary:
				if err := session.Append(f.data); err != nil {
					// Limit fired between read and append; process what we have.
					return captureProcess
				}
			case websocket.MessageText:
				var msg wsClientMessage
				if err := json.Unmarshal(f.data, &msg); err != nil {
					continue
				}
				switch msg.Type {
				case "stop":
					*opts = msg
					return captureProcess
				case "cancel":
					return captureCancelled
				case "error":
					if msg.Reason == "permission_denied" {
						return capturePermissionDenied
					}
					return captureDisconnected
				}
			}
		}
	}
}

func (s *Server) processCapture(ctx context.Context, conn *websocket.Conn, send func(wsServerMessage), session *capture.Session, key string, opts wsClientMessage) {
	rec := session.Stop()
	if session.AutoStopped() {
		send(wsServerMessage{Type: "stopped", Reason: "limit"})
	}

	if len(rec.Data) == 0 {
		send(wsServerMessage{Type: "error", Error: "No audio captured"})
		conn.Close(websocket.StatusNormalClosure, "empty recording")
		return
	}

	p, err := s.acquirePipeline(key)
	if err != nil {
		send(wsServerMessage{Type: "error", Error: "Failed to process audio"})
		conn.Close(websocket.StatusInternalError, "pipeline setup failed")
		return
	}
	defer s.releasePipeline(key)

	result, err := p.Process(ctx, pipeline.Request{
		Audio:             rec.Data,
		Filename:          "capture.webm",
		MIMEType:          rec.MIMEType,
		Language:          opts.Language,
		StyleID:           opts.Style,
		CustomInstruction: opts.CustomInstruction,
	}, func(_, to pipeline.State, _ pipeline.FailureReason) {
		send(wsServerMessage{Type: "state", Reason: string(to)})
	})
	if err != nil {
		s.log.ErrorContext(ctx, "capture processing failed", "key", key, "error", err)
		msg := wsServerMessage{Type: "error", Error: "Failed to process audio"}
		if result != nil {
			// Enhancement failed after a good transcription; salvage the words.
			msg.Transcript = result.Transcript
		}
		send(msg)
		conn.Close(websocket.StatusNormalClosure, "processing failed")
		return
	}

	send(wsServerMessage{
		Type:       "result",
		Transcript: result.Transcript,
		Enhanced:   result.Enhanced,
		Style:      result.Style,
		WordCount:  result.WordCount,
	})
	conn.Close(websocket.StatusNormalClosure, "done")
}
