package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"pdfchat/internal/app"
	"pdfchat/internal/history"
	"pdfchat/internal/util"
	"pdfchat/pkg/ai"
	"pdfchat/pkg/domain"
)

// Error kinds carried in every error body.
const (
	kindInvalidRequest    = "InvalidRequest"
	kindInvalidIdentifier = "InvalidIdentifier"
	kindNotFound          = "NotFound"
	kindNotReady          = "ChatbotNotInitialized"
	kindExhausted         = "GenerationExhausted"
	kindInternal          = "InternalError"
)

// Config wires required dependencies for the HTTP server.
type Config struct {
	Bot       *app.Chatbot
	History   history.Store
	CorpusDir string
	StaticDir string
}

// Server exposes the chatbot and chat-history HTTP endpoints.
type Server struct {
	bot       *app.Chatbot
	history   history.Store
	corpusDir string
	mux       *http.ServeMux
}

// New constructs the server with routes configured.
func New(cfg Config) *Server {
	s := &Server{
		bot:       cfg.Bot,
		history:   cfg.History,
		corpusDir: cfg.CorpusDir,
		mux:       http.NewServeMux(),
	}
	s.routes(cfg.StaticDir)
	return s
}

// Router returns the configured handler wrapped in the shared middleware.
func (s *Server) Router() http.Handler {
	return util.WithCORS(util.WithRequestID(util.WithRequestLog(s.mux)))
}

func (s *Server) routes(staticDir string) {
	s.mux.HandleFunc("/", s.handleRoot)
	s.mux.HandleFunc("/api/health", s.handleHealth)
	s.mux.HandleFunc("/api/init", s.handleInit)
	s.mux.HandleFunc("/api/query", s.handleQuery)
	s.mux.HandleFunc("/api/chat", s.handleChat)
	s.mux.HandleFunc("/api/chat/session/", s.handleResetSession)
	s.mux.HandleFunc("/api/users", s.handleUsers)
	s.mux.HandleFunc("/api/users/", s.handleUserSubtree)
	s.mux.HandleFunc("/api/chats", s.handleCreateChat)
	s.mux.HandleFunc("/api/chats/", s.handleChatByID)
	if staticDir != "" {
		s.mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(staticDir))))
	}
}

type statusResponse struct {
	Status             string `json:"status"`
	ChatbotInitialized bool   `json:"chatbotInitialized"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, kindNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, statusResponse{Status: "running", ChatbotInitialized: s.bot.Ready()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, statusResponse{Status: "healthy", ChatbotInitialized: s.bot.Ready()})
}

type initRequest struct {
	CorpusDir string `json:"corpusDir"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req initRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
		return
	}
	dir := req.CorpusDir
	if dir == "" {
		dir = s.corpusDir
	}
	if err := s.bot.Initialize(r.Context(), dir); err != nil {
		slog.Error("initialize failed", "dir", dir, "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "initialization failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

type queryRequest struct {
	Question string `json:"question"`
	TopK     int    `json:"topK"`
}

type answerResponse struct {
	Answer    string `json:"answer"`
	SessionID string `json:"sessionId,omitempty"`
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req queryRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "question is required")
		return
	}
	answer, err := s.bot.Query(r.Context(), req.Question, req.TopK)
	if err != nil {
		writeBotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Answer: answer})
}

type chatRequest struct {
	Question  string `json:"question"`
	SessionID string `json:"sessionId"`
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req chatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Question) == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "question is required")
		return
	}
	if req.SessionID == "" {
		req.SessionID = "default"
	}
	answer, err := s.bot.Chat(r.Context(), req.Question, req.SessionID)
	if err != nil {
		writeBotError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, answerResponse{Answer: answer, SessionID: req.SessionID})
}

func (s *Server) handleResetSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		methodNotAllowed(w)
		return
	}
	sessionID := strings.TrimPrefix(r.URL.Path, "/api/chat/session/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "session id is required")
		return
	}
	s.bot.ResetSession(sessionID)
	writeJSON(w, http.StatusOK, map[string]string{"sessionId": sessionID})
}

type userRequest struct {
	Email      string `json:"email"`
	Name       string `json:"name"`
	Image      string `json:"image"`
	Provider   string `json:"provider"`
	ProviderID string `json:"providerId"`
}

func (s *Server) handleUsers(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req userRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "email is required")
		return
	}
	user, err := s.history.UpsertUser(r.Context(), domain.User{
		Email:      req.Email,
		Name:       req.Name,
		Image:      req.Image,
		Provider:   req.Provider,
		ProviderID: req.ProviderID,
	})
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// handleUserSubtree serves /api/users/{id} and /api/users/{id}/chats.
func (s *Server) handleUserSubtree(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/users/")
	idPart, tail, _ := strings.Cut(rest, "/")
	userID, ok := parseUserID(w, idPart)
	if !ok {
		return
	}
	switch tail {
	case "":
		user, err := s.history.GetUser(r.Context(), userID)
		if err != nil {
			writeHistoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, user)
	case "chats":
		chats, err := s.history.GetUserChats(r.Context(), userID)
		if err != nil {
			writeHistoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chats)
	default:
		writeError(w, http.StatusNotFound, kindNotFound, "not found")
	}
}

type createChatRequest struct {
	ID       string           `json:"id"`
	Title    string           `json:"title"`
	UserID   json.Number      `json:"userId"`
	Messages []messagePayload `json:"messages"`
}

type messagePayload struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

func (s *Server) handleCreateChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w)
		return
	}
	var req createChatRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
		return
	}
	userID, ok := parseUserID(w, req.UserID.String())
	if !ok {
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		writeError(w, http.StatusBadRequest, kindInvalidRequest, "title is required")
		return
	}
	chat, err := s.history.CreateChat(r.Context(), domain.Chat{
		ID:       req.ID,
		Title:    req.Title,
		UserID:   userID,
		Messages: toMessages(req.Messages),
	})
	if err != nil {
		writeHistoryError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, chat)
}

type updateChatRequest struct {
	UserID   json.Number      `json:"userId"`
	Title    *string          `json:"title"`
	Messages []messagePayload `json:"messages"`
}

// handleChatByID serves GET/PUT/DELETE /api/chats/{id}. The owning user
// comes from the body on PUT and from the user_id query parameter
// otherwise.
func (s *Server) handleChatByID(w http.ResponseWriter, r *http.Request) {
	chatID := strings.TrimPrefix(r.URL.Path, "/api/chats/")
	if chatID == "" || strings.Contains(chatID, "/") {
		writeError(w, http.StatusNotFound, kindNotFound, "not found")
		return
	}
	switch r.Method {
	case http.MethodGet:
		userID, ok := parseUserID(w, r.URL.Query().Get("user_id"))
		if !ok {
			return
		}
		chat, err := s.history.GetChat(r.Context(), chatID, userID)
		if err != nil {
			writeHistoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodPut:
		var req updateChatRequest
		if err := decodeBody(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, kindInvalidRequest, "invalid JSON body")
			return
		}
		userID, ok := parseUserID(w, req.UserID.String())
		if !ok {
			return
		}
		update := history.ChatUpdate{Title: req.Title}
		if req.Messages != nil {
			update.Messages = toMessages(req.Messages)
		}
		chat, err := s.history.UpdateChat(r.Context(), chatID, userID, update)
		if err != nil {
			writeHistoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, chat)
	case http.MethodDelete:
		userID, ok := parseUserID(w, r.URL.Query().Get("user_id"))
		if !ok {
			return
		}
		if err := s.history.DeleteChat(r.Context(), chatID, userID); err != nil {
			writeHistoryError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	default:
		methodNotAllowed(w)
	}
}

func toMessages(payloads []messagePayload) []domain.Message {
	messages := make([]domain.Message, 0, len(payloads))
	for _, p := range payloads {
		messages = append(messages, domain.Message{Role: p.Role, Content: p.Content})
	}
	return messages
}

// parseUserID rejects non-integer user ids up front with a 400, before
// any store call.
func parseUserID(w http.ResponseWriter, raw string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, kindInvalidIdentifier, "user id must be a positive integer")
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func methodNotAllowed(w http.ResponseWriter) {
	writeError(w, http.StatusMethodNotAllowed, kindInvalidRequest, "method not allowed")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, kind, msg string) {
	writeJSON(w, status, map[string]string{"kind": kind, "error": msg})
}

func writeBotError(w http.ResponseWriter, err error) {
	var exhausted *ai.ExhaustedError
	switch {
	case errors.Is(err, app.ErrIndexNotReady):
		writeError(w, http.StatusServiceUnavailable, kindNotReady, "chatbot is not initialized, call /api/init first")
	case errors.As(err, &exhausted):
		writeError(w, http.StatusBadGateway, kindExhausted, "generation backend unavailable after retries")
	case errors.Is(err, context.Canceled):
		writeError(w, http.StatusInternalServerError, kindInternal, "request canceled")
	default:
		slog.Error("chatbot request failed", "error", err)
		writeError(w, http.StatusInternalServerError, kindInternal, "request failed")
	}
}

func writeHistoryError(w http.ResponseWriter, err error) {
	if errors.Is(err, history.ErrNotFound) {
		writeError(w, http.StatusNotFound, kindNotFound, "not found")
		return
	}
	slog.Error("history request failed", "error", err)
	writeError(w, http.StatusInternalServerError, kindInternal, "request failed")
}
