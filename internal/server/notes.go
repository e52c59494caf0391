package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/store"
)

type noteResponse struct {
	ID             string        `json:"id"`
	Title          string        `json:"title"`
	Transcript     string        `json:"transcript"`
	Enhanced       string        `json:"enhanced"`
	Style          string        `json:"style"`
	WordCount      int           `json:"wordCount"`
	ProcessingMS   int64         `json:"processingMs"`
	AudioURL       string        `json:"audioUrl,omitempty"`
	FolderID       *string       `json:"folderId,omitempty"`
	Tags           []tagResponse `json:"tags"`
	CreatedAt      time.Time     `json:"createdAt"`
	UpdatedAt      time.Time     `json:"updatedAt"`
}

type folderResponse struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Color     string    `json:"color,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type tagResponse struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color,omitempty"`
}

func toNoteResponse(n *store.Note) noteResponse {
	resp := noteResponse{
		ID:           n.ID.String(),
		Title:        n.Title,
		Transcript:   n.OriginalTranscript,
		Enhanced:     n.EnhancedText,
		Style:        n.Style,
		WordCount:    n.WordCount,
		ProcessingMS: n.ProcessingTime.Milliseconds(),
		AudioURL:     n.AudioURL,
		Tags:         make([]tagResponse, 0, len(n.Tags)),
		CreatedAt:    n.CreatedAt,
		UpdatedAt:    n.UpdatedAt,
	}
	if n.FolderID != nil {
		id := n.FolderID.String()
		resp.FolderID = &id
	}
	for _, t := range n.Tags {
		resp.Tags = append(resp.Tags, tagResponse{ID: t.ID.String(), Name: t.Name, Color: t.Color})
	}
	return resp
}

// notesReady resolves the caller's identity and checks the note store is
// configured. On failure it writes the response itself and returns ok=false.
func (s *Server) notesReady(w http.ResponseWriter, r *http.Request) (*auth.Identity, bool) {
	if s.deps.Notes == nil {
		writeError(w, http.StatusServiceUnavailable, "Note storage is not configured")
		return nil, false
	}
	id := auth.FromContext(r.Context())
	if id == nil {
		writeError(w, http.StatusUnauthorized, "Authentication required")
		return nil, false
	}
	return id, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, param string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeErrorf(w, http.StatusBadRequest, "Invalid %s", param)
		return uuid.Nil, false
	}
	return id, true
}

func (s *Server) handleListNotes(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	filter := store.NoteFilter{Query: r.URL.Query().Get("q")}
	if f := r.URL.Query().Get("folder"); f != "" {
		folderID, err := uuid.Parse(f)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid folder")
			return
		}
		filter.FolderID = &folderID
	}

	notes, err := s.deps.Notes.ListNotes(r.Context(), id.UserID, filter)
	if err != nil {
		s.log.ErrorContext(r.Context(), "list notes failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list notes")
		return
	}

	out := make([]noteResponse, len(notes))
	for i := range notes {
		out[i] = toNoteResponse(&notes[i])
	}
	writeJSON(w, http.StatusOK, map[string]any{"notes": out})
}

type createNoteRequest struct {
	Title        string   `json:"title"`
	Transcript   string   `json:"transcript"`
	Enhanced     string   `json:"enhanced"`
	Style        string   `json:"style"`
	WordCount    int      `json:"wordCount"`
	ProcessingMS int64    `json:"processingMs"`
	AudioURL     string   `json:"audioUrl"`
	FolderID     *string  `json:"folderId"`
	TagIDs       []string `json:"tagIds"`
}

func (s *Server) handleCreateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	var req createNoteRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Transcript == "" {
		writeError(w, http.StatusBadRequest, "Transcript is required")
		return
	}
	if req.Enhanced == "" {
		req.Enhanced = req.Transcript
	}

	note := &store.Note{
		OwnerID:            id.UserID,
		Title:              req.Title,
		OriginalTranscript: req.Transcript,
		EnhancedText:       req.Enhanced,
		Style:              req.Style,
		WordCount:          req.WordCount,
		ProcessingTime:     time.Duration(req.ProcessingMS) * time.Millisecond,
		AudioURL:           req.AudioURL,
	}
	if req.FolderID != nil {
		folderID, err := uuid.Parse(*req.FolderID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid folderId")
			return
		}
		note.FolderID = &folderID
	}
	for _, raw := range req.TagIDs {
		tagID, err := uuid.Parse(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid tagIds")
			return
		}
		note.Tags = append(note.Tags, store.Tag{ID: tagID})
	}

	if err := s.deps.Notes.CreateNote(r.Context(), note); err != nil {
		s.log.ErrorContext(r.Context(), "create note failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to save note")
		return
	}
	s.metrics.NotesSaved.Add(r.Context(), 1)

	writeJSON(w, http.StatusCreated, toNoteResponse(note))
}

func (s *Server) handleGetNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}
	noteID, ok := pathUUID(w, r, "noteID")
	if !ok {
		return
	}

	note, err := s.deps.Notes.GetNote(r.Context(), id.UserID, noteID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "get note failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load note")
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(note))
}

type updateNoteRequest struct {
	Title    *string  `json:"title"`
	Enhanced *string  `json:"enhanced"`
	FolderID *string  `json:"folderId"`
	TagIDs   []string `json:"tagIds"`
}

func (s *Server) handleUpdateNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}
	noteID, ok := pathUUID(w, r, "noteID")
	if !ok {
		return
	}

	var req updateNoteRequest
	if err := parseJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	upd := store.NoteUpdate{Title: req.Title, EnhancedText: req.Enhanced}
	if req.FolderID != nil {
		if *req.FolderID == "" {
			upd.ClearFolder = true
		} else {
			folderID, err := uuid.Parse(*req.FolderID)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid folderId")
				return
			}
			upd.FolderID = &folderID
		}
	}
	if req.TagIDs != nil {
		upd.Tags = make([]uuid.UUID, 0, len(req.TagIDs))
		for _, raw := range req.TagIDs {
			tagID, err := uuid.Parse(raw)
			if err != nil {
				writeError(w, http.StatusBadRequest, "Invalid tagIds")
				return
			}
			upd.Tags = append(upd.Tags, tagID)
		}
	}

	note, err := s.deps.Notes.UpdateNote(r.Context(), id.UserID, noteID, upd)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "update note failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to update note")
		return
	}
	writeJSON(w, http.StatusOK, toNoteResponse(note))
}

func (s *Server) handleDeleteNote(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}
	noteID, ok := pathUUID(w, r, "noteID")
	if !ok {
		return
	}

	err := s.deps.Notes.DeleteNote(r.Context(), id.UserID, noteID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Note not found")
		return
	}
	if err != nil {
		s.log.ErrorContext(r.Context(), "delete note failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete note")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListFolders(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	folders, err := s.deps.Notes.ListFolders(r.Context(), id.UserID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "list folders failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list folders")
		return
	}

	out := make([]folderResponse, len(folders))
	for i, f := range folders {
		out[i] = folderResponse{ID: f.ID.String(), Name: f.Name, Color: f.Color, CreatedAt: f.CreatedAt}
	}
	writeJSON(w, http.StatusOK, map[string]any{"folders": out})
}

type createFolderRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleCreateFolder(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	var req createFolderRequest
	if err := parseJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Folder name is required")
		return
	}

	folder := &store.Folder{OwnerID: id.UserID, Name: req.Name, Color: req.Color}
	if err := s.deps.Notes.CreateFolder(r.Context(), folder); err != nil {
		s.log.ErrorContext(r.Context(), "create folder failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create folder")
		return
	}
	writeJSON(w, http.StatusCreated, folderResponse{
		ID: folder.ID.String(), Name: folder.Name, Color: folder.Color, CreatedAt: folder.CreatedAt,
	})
}

func (s *Server) handleListTags(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	tags, err := s.deps.Notes.ListTags(r.Context(), id.UserID)
	if err != nil {
		s.log.ErrorContext(r.Context(), "list tags failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to list tags")
		return
	}

	out := make([]tagResponse, len(tags))
	for i, t := range tags {
		out[i] = tagResponse{ID: t.ID.String(), Name: t.Name, Color: t.Color}
	}
	writeJSON(w, http.StatusOK, map[string]any{"tags": out})
}

type createTagRequest struct {
	Name  string `json:"name"`
	Color string `json:"color"`
}

func (s *Server) handleCreateTag(w http.ResponseWriter, r *http.Request) {
	id, ok := s.notesReady(w, r)
	if !ok {
		return
	}

	var req createTagRequest
	if err := parseJSON(r, &req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "Tag name is required")
		return
	}

	tag := &store.Tag{OwnerID: id.UserID, Name: req.Name, Color: req.Color}
	if err := s.deps.Notes.CreateTag(r.Context(), tag); err != nil {
		s.log.ErrorContext(r.Context(), "create tag failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to create tag")
		return
	}
	writeJSON(w, http.StatusCreated, tagResponse{ID: tag.ID.String(), Name: tag.Name, Color: tag.Color})
}
