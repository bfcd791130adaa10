package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"pdfchat/internal/app"
	"pdfchat/internal/history"
	"pdfchat/internal/index"
	"pdfchat/internal/ingest"
	"pdfchat/internal/retriever"
	"pdfchat/pkg/domain"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedText(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, 4)
	for i, r := range text {
		vec[i%4] += float32(r)
	}
	return vec, nil
}

func (stubEmbedder) Model() string { return "stub-embed" }

type stubGenerator struct{ answer string }

func (g stubGenerator) GenerateText(_ context.Context, _, _ string) (string, error) {
	return g.answer, nil
}

type testServer struct {
	*httptest.Server
	corpusDir string
}

func newTestServer(t *testing.T, corpus map[string]string) *testServer {
	t.Helper()
	dir := t.TempDir()
	for name, content := range corpus {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
	}

	store := index.NewMemoryStore()
	pipeline, err := ingest.NewPipeline(store, stubEmbedder{}, ingest.Config{
		CorpusName:   "library",
		Extensions:   []string{".txt"},
		EmbeddingDim: 4,
	})
	require.NoError(t, err)
	retr, err := retriever.New(store, stubEmbedder{}, "library", 12)
	require.NoError(t, err)
	bot, err := app.New(pipeline, retr, stubGenerator{answer: "a sufficiently long generated answer"}, app.Config{})
	require.NoError(t, err)

	srv := New(Config{
		Bot:       bot,
		History:   history.NewMemoryStore(),
		CorpusDir: dir,
	})
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &testServer{Server: ts, corpusDir: dir}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var payload *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		payload = bytes.NewReader(data)
	} else {
		payload = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, ts.URL+path, payload)
	require.NoError(t, err)
	resp, err := ts.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (ts *testServer) initBot(t *testing.T) {
	t.Helper()
	resp, _ := ts.do(t, http.MethodPost, "/api/init", map[string]string{})
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func decode[T any](t *testing.T, data []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(data, &v))
	return v
}

func TestHealthReportsInitialization(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodGet, "/api/health", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	status := decode[statusResponse](t, body)
	require.False(t, status.ChatbotInitialized)

	ts.initBot(t)

	_, body = ts.do(t, http.MethodGet, "/api/health", nil)
	status = decode[statusResponse](t, body)
	require.True(t, status.ChatbotInitialized)
}

func TestQueryBeforeInitIs503(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/query", map[string]any{"question": "hi"})
	require.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	errBody := decode[map[string]string](t, body)
	require.Equal(t, "ChatbotNotInitialized", errBody["kind"])
	require.NotEmpty(t, errBody["error"])
}

func TestQueryAndChat(t *testing.T) {
	ts := newTestServer(t, map[string]string{"doc.txt": "The warranty period is 2 years."})
	ts.initBot(t)

	resp, body := ts.do(t, http.MethodPost, "/api/query", map[string]any{"question": "How long is the warranty?", "topK": 5})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	answer := decode[answerResponse](t, body)
	require.NotEmpty(t, answer.Answer)

	resp, body = ts.do(t, http.MethodPost, "/api/chat", map[string]any{"question": "How long is the warranty?"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	chat := decode[answerResponse](t, body)
	require.Equal(t, "default", chat.SessionID)
	require.NotEmpty(t, chat.Answer)
}

func TestQueryRequiresQuestion(t *testing.T) {
	ts := newTestServer(t, nil)
	ts.initBot(t)

	resp, body := ts.do(t, http.MethodPost, "/api/query", map[string]any{"question": "  "})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidRequest", decode[map[string]string](t, body)["kind"])
}

func TestResetSession(t *testing.T) {
	ts := newTestServer(t, map[string]string{"doc.txt": "Widgets come in three sizes."})
	ts.initBot(t)

	resp, _ := ts.do(t, http.MethodDelete, "/api/chat/session/s1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Unknown sessions reset fine too.
	resp, _ = ts.do(t, http.MethodDelete, "/api/chat/session/never-used", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/chat/session/", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUserUpsertIdempotent(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodPost, "/api/users", map[string]string{"email": "a@example.com", "name": "Ada"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	first := decode[domain.User](t, body)
	require.NotZero(t, first.ID)

	_, body = ts.do(t, http.MethodPost, "/api/users", map[string]string{"email": "a@example.com", "name": "Ada L."})
	second := decode[domain.User](t, body)
	require.Equal(t, first.ID, second.ID)
	require.Equal(t, "Ada L.", second.Name)
}

func TestInvalidUserIDIs400(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, body := ts.do(t, http.MethodGet, "/api/chats/some-chat?user_id=abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	require.Equal(t, "InvalidIdentifier", decode[map[string]string](t, body)["kind"])

	resp, _ = ts.do(t, http.MethodGet, "/api/users/abc", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestChatCRUD(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := ts.do(t, http.MethodPost, "/api/users", map[string]string{"email": "a@example.com", "name": "Ada"})
	user := decode[domain.User](t, body)

	resp, body := ts.do(t, http.MethodPost, "/api/chats", map[string]any{
		"title":  "Warranty questions",
		"userId": user.ID,
		"messages": []map[string]string{
			{"role": "user", "content": "How long is the warranty?"},
			{"role": "bot", "content": "2 years."},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	chat := decode[domain.Chat](t, body)
	require.NotEmpty(t, chat.ID)
	require.Len(t, chat.Messages, 2)

	resp, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%s?user_id=%d", chat.ID, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[domain.Chat](t, body)
	require.Equal(t, chat.ID, got.ID)

	// Truncate messages with an explicit empty list.
	resp, body = ts.do(t, http.MethodPut, "/api/chats/"+chat.ID, map[string]any{
		"userId":   user.ID,
		"messages": []map[string]string{},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[domain.Chat](t, body)
	require.Empty(t, updated.Messages)

	// Title-only update leaves messages alone.
	resp, body = ts.do(t, http.MethodPut, "/api/chats/"+chat.ID, map[string]any{
		"userId": user.ID,
		"title":  "Renamed",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	renamed := decode[domain.Chat](t, body)
	require.Equal(t, "Renamed", renamed.Title)

	_, body = ts.do(t, http.MethodGet, fmt.Sprintf("/api/users/%d/chats", user.ID), nil)
	summaries := decode[[]domain.ChatSummary](t, body)
	require.Len(t, summaries, 1)

	resp, _ = ts.do(t, http.MethodDelete, fmt.Sprintf("/api/chats/%s?user_id=%d", chat.ID, user.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%s?user_id=%d", chat.ID, user.ID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestChatOfOtherUserIs404(t *testing.T) {
	ts := newTestServer(t, nil)

	_, body := ts.do(t, http.MethodPost, "/api/users", map[string]string{"email": "owner@example.com", "name": "Owner"})
	owner := decode[domain.User](t, body)
	_, body = ts.do(t, http.MethodPost, "/api/users", map[string]string{"email": "other@example.com", "name": "Other"})
	other := decode[domain.User](t, body)

	_, body = ts.do(t, http.MethodPost, "/api/chats", map[string]any{"title": "Private", "userId": owner.ID})
	chat := decode[domain.Chat](t, body)

	resp, errBody := ts.do(t, http.MethodGet, fmt.Sprintf("/api/chats/%s?user_id=%d", chat.ID, other.ID), nil)
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	require.Equal(t, "NotFound", decode[map[string]string](t, errBody)["kind"])
}

func TestMethodNotAllowed(t *testing.T) {
	ts := newTestServer(t, nil)

	resp, _ := ts.do(t, http.MethodGet, "/api/chat", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/users", nil)
	require.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
