package server_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/murmurhq/murmur/internal/auth"
	"github.com/murmurhq/murmur/internal/capture"
	"github.com/murmurhq/murmur/internal/config"
	"github.com/murmurhq/murmur/internal/enhance"
	"github.com/murmurhq/murmur/internal/server"
	"github.com/murmurhq/murmur/internal/store"
	"github.com/murmurhq/murmur/internal/style"
	"github.com/murmurhq/murmur/internal/transcribe"
	"github.com/murmurhq/murmur/pkg/provider/llm"
	"github.com/murmurhq/murmur/pkg/provider/stt"
)

type fakeSTT struct {
	text string
	err  error
}

func (f *fakeSTT) Transcribe(_ context.Context, _ stt.Request) (*stt.Result, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &stt.Result{Text: f.text}, nil
}

type fakeLLM struct {
	content string
	err     error
}

func (f *fakeLLM) Complete(_ context.Context, _ llm.CompletionRequest) (*llm.CompletionResponse, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &llm.CompletionResponse{Content: f.content}, nil
}

// fakeUsers is an in-memory [store.UserStore].
type fakeUsers struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*store.User
	byEmail map[string]*store.User
}

func newFakeUsers() *fakeUsers {
	return &fakeUsers{byID: map[uuid.UUID]*store.User{}, byEmail: map[string]*store.User{}}
}

func (f *fakeUsers) CreateUser(_ context.Context, u *store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.byEmail[u.Email]; ok {
		return store.ErrEmailTaken
	}
	if u.ID == uuid.Nil {
		u.ID = uuid.New()
	}
	cp := *u
	f.byID[u.ID] = &cp
	f.byEmail[u.Email] = &cp
	return nil
}

func (f *fakeUsers) GetUserByEmail(_ context.Context, email string) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (*store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.byID[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

// fakeNotes is an in-memory [store.NoteStore] covering what the handlers use.
type fakeNotes struct {
	mu    sync.Mutex
	notes map[uuid.UUID]*store.Note
}

func newFakeNotes() *fakeNotes { return &fakeNotes{notes: map[uuid.UUID]*store.Note{}} }

func (f *fakeNotes) CreateNote(_ context.Context, n *store.Note) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	n.ID = uuid.New()
	n.CreatedAt = time.Now()
	n.UpdatedAt = n.CreatedAt
	cp := *n
	f.notes[n.ID] = &cp
	return nil
}

func (f *fakeNotes) ListNotes(_ context.Context, ownerID uuid.UUID, _ store.NoteFilter) ([]store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Note
	for _, n := range f.notes {
		if n.OwnerID == ownerID {
			out = append(out, *n)
		}
	}
	return out, nil
}

func (f *fakeNotes) GetNote(_ context.Context, ownerID, noteID uuid.UUID) (*store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.notes[noteID]; ok && n.OwnerID == ownerID {
		cp := *n
		return &cp, nil
	}
	return nil, store.ErrNotFound
}

func (f *fakeNotes) UpdateNote(_ context.Context, ownerID, noteID uuid.UUID, upd store.NoteUpdate) (*store.Note, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, ok := f.notes[noteID]
	if !ok || n.OwnerID != ownerID {
		return nil, store.ErrNotFound
	}
	if upd.Title != nil {
		n.Title = *upd.Title
	}
	if upd.EnhancedText != nil {
		n.EnhancedText = *upd.EnhancedText
	}
	cp := *n
	return &cp, nil
}

func (f *fakeNotes) DeleteNote(_ context.Context, ownerID, noteID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if n, ok := f.notes[noteID]; ok && n.OwnerID == ownerID {
		delete(f.notes, noteID)
		return nil
	}
	return store.ErrNotFound
}

func (f *fakeNotes) ListFolders(_ context.Context, _ uuid.UUID) ([]store.Folder, error) {
	return []store.Folder{}, nil
}

func (f *fakeNotes) CreateFolder(_ context.Context, folder *store.Folder) error {
	folder.ID = uuid.New()
	folder.CreatedAt = time.Now()
	return nil
}

func (f *fakeNotes) ListTags(_ context.Context, _ uuid.UUID) ([]store.Tag, error) {
	return []store.Tag{}, nil
}

func (f *fakeNotes) CreateTag(_ context.Context, tag *store.Tag) error {
	tag.ID = uuid.New()
	return nil
}

type testEnv struct {
	srv     *server.Server
	auth    *auth.Service
	notes   *fakeNotes
	capture *capture.Manager
}

func newTestServer(t *testing.T, sttP stt.Provider, llmP llm.Provider) *testEnv {
	t.Helper()

	tg, err := transcribe.NewGateway(sttP, "fake", nil)
	if err != nil {
		t.Fatalf("transcribe.NewGateway: %v", err)
	}
	table, err := style.NewTable(style.Builtin(), style.DefaultID)
	if err != nil {
		t.Fatalf("style.NewTable: %v", err)
	}
	eg, err := enhance.NewGateway(llmP, "fake", table, nil)
	if err != nil {
		t.Fatalf("enhance.NewGateway: %v", err)
	}
	mgr, err := capture.NewManager(3*time.Minute, time.Minute, nil)
	if err != nil {
		t.Fatalf("capture.NewManager: %v", err)
	}
	authSvc, err := auth.NewService(newFakeUsers(), "test-secret", time.Hour)
	if err != nil {
		t.Fatalf("auth.NewService: %v", err)
	}
	notes := newFakeNotes()

	srv, err := server.New(config.ServerConfig{ListenAddr: ":0"}, server.Deps{
		Transcriber: tg,
		Enhancer:    eg,
		Capture:     mgr,
		Styles:      table,
		Auth:        authSvc,
		Notes:       notes,
	})
	if err != nil {
		t.Fatalf("server.New: %v", err)
	}
	return &testEnv{srv: srv, auth: authSvc, notes: notes, capture: mgr}
}

// multipartAudio builds a multipart body with an "audio" file part and the
// given extra form fields.
func multipartAudio(t *testing.T, audio []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("audio", "recording.webm")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(audio); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func signUp(t *testing.T, env *testEnv, email string) string {
	t.Helper()
	_, token, err := env.auth.SignUp(context.Background(), email, "password123!", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}
	return token
}

func TestProcessAudio(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "raw words"}, &fakeLLM{content: "Raw words, polished."})

	body, contentType := multipartAudio(t, []byte("fake-audio"), map[string]string{"style": "journal"})
	req := httptest.NewRequest(http.MethodPost, "/api/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body)
	}
	var resp struct {
		Transcript string `json:"transcript"`
		Enhanced   string `json:"enhanced"`
		Style      string `json:"style"`
		WordCount  int    `json:"wordCount"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Transcript != "raw words" || resp.Enhanced != "Raw words, polished." {
		t.Errorf("response = %+v", resp)
	}
	if resp.Style != "journal" {
		t.Errorf("Style = %q, want journal", resp.Style)
	}
	if resp.WordCount != 3 {
		t.Errorf("WordCount = %d, want 3", resp.WordCount)
	}
}

func TestProcessAudioMissingFile(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	req := httptest.NewRequest(http.MethodPost, "/api/process-audio", strings.NewReader("{}"))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	if got := strings.TrimSpace(rec.Body.String()); got != `{"error":"No audio file provided"}` {
		t.Errorf("body = %s", got)
	}
}

func TestProcessAudioTranscriptionFailure(t *testing.T) {
	env := newTestServer(t, &fakeSTT{err: errors.New("boom")}, &fakeLLM{content: "unused"})

	body, contentType := multipartAudio(t, []byte("fake-audio"), nil)
	req := httptest.NewRequest(http.MethodPost, "/api/process-audio", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "Failed to transcribe audio") {
		t.Errorf("body = %s", rec.Body)
	}
}

// blockingSTT holds every transcription until release is closed, so tests can
// pin a run in flight.
type blockingSTT struct {
	once    sync.Once
	started chan struct{}
	release chan struct{}
}

func (b *blockingSTT) Transcribe(ctx context.Context, _ stt.Request) (*stt.Result, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-b.release:
		return &stt.Result{Text: "slow words"}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func TestGuestRunGuardIgnoresSourcePort(t *testing.T) {
	sttP := &blockingSTT{started: make(chan struct{}), release: make(chan struct{})}
	env := newTestServer(t, sttP, &fakeLLM{content: "Slow words, polished."})

	body1, ct1 := multipartAudio(t, []byte("first"), nil)
	req1 := httptest.NewRequest(http.MethodPost, "/api/process-audio", body1)
	req1.Header.Set("Content-Type", ct1)
	req1.RemoteAddr = "203.0.113.9:40001"
	rec1 := httptest.NewRecorder()
	done := make(chan struct{})
	go func() {
		defer close(done)
		env.srv.Handler().ServeHTTP(rec1, req1)
	}()
	<-sttP.started

	// Same host, different ephemeral port: must hit the same in-flight slot.
	body2, ct2 := multipartAudio(t, []byte("second"), nil)
	req2 := httptest.NewRequest(http.MethodPost, "/api/process-audio", body2)
	req2.Header.Set("Content-Type", ct2)
	req2.RemoteAddr = "203.0.113.9:40002"
	rec2 := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec2, req2)
	if rec2.Code != http.StatusConflict {
		t.Errorf("parallel guest upload status = %d, want 409", rec2.Code)
	}

	close(sttP.release)
	<-done
	if rec1.Code != http.StatusOK {
		t.Errorf("first upload status = %d, body %s", rec1.Code, rec1.Body)
	}
}

func TestListStyles(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	req := httptest.NewRequest(http.MethodGet, "/api/styles", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var resp struct {
		Styles  []struct{ ID string } `json:"styles"`
		Default string                `json:"default"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.Default != style.DefaultID {
		t.Errorf("default = %q, want %q", resp.Default, style.DefaultID)
	}
	if len(resp.Styles) != len(style.Builtin()) {
		t.Errorf("styles = %d, want %d", len(resp.Styles), len(style.Builtin()))
	}
}

func TestSignUpSignInFlow(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	body := `{"email":"flow@example.com","password":"password123!"}`
	req := httptest.NewRequest(http.MethodPost, "/api/auth/signup", strings.NewReader(body))
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("signup status = %d, body %s", rec.Code, rec.Body)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin", strings.NewReader(body))
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signin status = %d, body %s", rec.Code, rec.Body)
	}

	var session struct {
		Token string `json:"token"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &session); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+session.Token)
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("me status = %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "flow@example.com") {
		t.Errorf("me body = %s", rec.Body)
	}

	// Wrong password is a 401.
	req = httptest.NewRequest(http.MethodPost, "/api/auth/signin",
		strings.NewReader(`{"email":"flow@example.com","password":"wrong password"}`))
	rec = httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("signin(wrong pw) status = %d, want 401", rec.Code)
	}
}

func TestSignOutAbortsCapture(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	id, token, err := env.auth.SignUp(context.Background(), "signout@example.com", "password123!", "")
	if err != nil {
		t.Fatalf("SignUp: %v", err)
	}

	session, err := env.capture.Start(context.Background(), id.UserID.String(), "audio/webm", true, nil)
	if err != nil {
		t.Fatalf("capture.Start: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/auth/signout", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("signout status = %d, body %s", rec.Code, rec.Body)
	}

	select {
	case <-session.Done():
	default:
		t.Error("capture session still open after sign-out")
	}
	if n := env.capture.ActiveCount(); n != 0 {
		t.Errorf("active captures = %d after sign-out, want 0", n)
	}
}

func TestCaptureWebSocketRoundTrip(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "raw words"}, &fakeLLM{content: "Raw words, polished."})
	ts := httptest.NewServer(env.srv.Handler())
	defer ts.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/capture"
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	if err := conn.Write(ctx, websocket.MessageBinary, []byte("chunk-1")); err != nil {
		t.Fatalf("write audio: %v", err)
	}
	if err := conn.Write(ctx, websocket.MessageText, []byte(`{"type":"stop","style":"journal"}`)); err != nil {
		t.Fatalf("write stop: %v", err)
	}

	var states []string
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.Fatalf("read: %v (states seen: %v)", err, states)
		}
		var msg struct {
			Type       string `json:"type"`
			Reason     string `json:"reason"`
			Error      string `json:"error"`
			Transcript string `json:"transcript"`
			Enhanced   string `json:"enhanced"`
			Style      string `json:"style"`
			WordCount  int    `json:"wordCount"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("unmarshal %s: %v", data, err)
		}
		switch msg.Type {
		case "state":
			states = append(states, msg.Reason)
		case "error":
			t.Fatalf("server error: %s", msg.Error)
		case "result":
			if msg.Transcript != "raw words" || msg.Enhanced != "Raw words, polished." {
				t.Errorf("result = %+v", msg)
			}
			if msg.Style != "journal" {
				t.Errorf("style = %q, want journal", msg.Style)
			}
			if msg.WordCount != 3 {
				t.Errorf("wordCount = %d, want 3", msg.WordCount)
			}
			want := []string{"transcribing", "enhancing", "complete"}
			if !slices.Equal(states, want) {
				t.Errorf("states = %v, want %v", states, want)
			}
			return
		}
	}
}

func TestNotesRequireAuth(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	req := httptest.NewRequest(http.MethodGet, "/api/notes/", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated list notes status = %d, want 401", rec.Code)
	}
}

func TestNoteCRUD(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})
	token := signUp(t, env, "crud@example.com")

	do := func(method, path, body string) *httptest.ResponseRecorder {
		var rdr *strings.Reader
		if body == "" {
			rdr = strings.NewReader("")
		} else {
			rdr = strings.NewReader(body)
		}
		req := httptest.NewRequest(method, path, rdr)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		env.srv.Handler().ServeHTTP(rec, req)
		return rec
	}

	rec := do(http.MethodPost, "/api/notes/",
		`{"title":"T","transcript":"raw","enhanced":"Polished.","style":"clear","wordCount":1}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body %s", rec.Code, rec.Body)
	}
	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	rec = do(http.MethodGet, "/api/notes/"+created.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = do(http.MethodPut, "/api/notes/"+created.ID, `{"title":"Renamed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d, body %s", rec.Code, rec.Body)
	}
	if !strings.Contains(rec.Body.String(), "Renamed") {
		t.Errorf("update body = %s", rec.Body)
	}

	rec = do(http.MethodDelete, "/api/notes/"+created.ID, "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}

	rec = do(http.MethodGet, "/api/notes/"+created.ID, "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("get(deleted) status = %d, want 404", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestServer(t, &fakeSTT{text: "x"}, &fakeLLM{content: "X."})

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Errorf("healthz status = %d", rec.Code)
	}
}
