package server

import (
	"errors"
	"io"
	"net/http"

	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/pipeline"
	"github.com/murmurhq/murmur/internal/transcribe"
)

// maxUploadBytes caps audio uploads at 25 MiB, matching the upstream
// transcription API limit.
const maxUploadBytes = 25 << 20

type processResponse struct {
	Transcript string `json:"transcript"`
	Enhanced   string `json:"enhanced"`
	Style      string `json:"style"`
	WordCount  int    `json:"wordCount"`
}

// handleProcessAudio accepts a multipart form with an "audio" file plus
// optional "style", "customInstruction", and "language" fields, and runs the
// recording through transcription and enhancement.
func (s *Server) handleProcessAudio(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil || len(audio) == 0 {
		writeError(w, http.StatusBadRequest, "No audio file provided")
		return
	}

	key, _ := callerKey(r)
	p, err := s.acquirePipeline(key)
	if err != nil {
		s.log.ErrorContext(r.Context(), "pipeline setup failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process audio")
		return
	}
	defer s.releasePipeline(key)

	result, err := p.Process(r.Context(), pipeline.Request{
		Audio:             audio,
		Filename:          header.Filename,
		MIMEType:          header.Header.Get("Content-Type"),
		Language:          r.FormValue("language"),
		StyleID:           r.FormValue("style"),
		CustomInstruction: r.FormValue("customInstruction"),
	}, nil)
	switch {
	case errors.Is(err, pipeline.ErrRunActive):
		writeError(w, http.StatusConflict, "A recording is already being processed")
		return
	case errors.Is(err, transcribe.ErrTranscriptionFailed):
		writeError(w, http.StatusInternalServerError, "Failed to transcribe audio")
		return
	case errors.Is(err, enhance.ErrEnhancementFailed):
		writeError(w, http.StatusInternalServerError, "Failed to enhance transcript")
		return
	case err != nil:
		s.log.ErrorContext(r.Context(), "processing failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to process audio")
		return
	}

	writeJSON(w, http.StatusOK, processResponse{
		Transcript: result.Transcript,
		Enhanced:   result.Enhanced,
		Style:      result.Style,
		WordCount:  result.WordCount,
	})
}

type styleResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) handleListStyles(w http.ResponseWriter, _ *http.Request) {
	all := s.deps.Styles.All()
	out := make([]styleResponse, len(all))
	for i, st := range all {
		out[i] = styleResponse{ID: st.ID, Name: st.Name, Description: st.Description}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"styles":  out,
		"default": s.deps.Styles.DefaultStyle().ID,
	})
}
