package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
)

const (
	serviceName    = "chatpilot"
	serviceVersion = "1.0.0"

	maxRequestBodySize = 1 << 20 // 1MB
)

type ChatRequest struct {
	UserID        string `json:"userId"`
	UserMessage   string `json:"userMessage"`
	ChatInterest  bool   `json:"chatInterest"`
	InterestTopic string `json:"interestTopic"`
}

type ChatResponse struct {
	Response string `json:"response"`
}

// TurnHandler is the slice of the orchestrator the HTTP layer needs.
type TurnHandler interface {
	HandleTurn(ctx context.Context, userID, userMessage string, isFirstTime bool, interestTopic string) (string, error)
}

// NewHandler builds the HTTP router over the orchestrator.
func NewHandler(turns TurnHandler) http.Handler {
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(middleware.Recoverer)
	r.Use(requestLogger)

	r.Get("/health", handleHealth)
	r.Post("/chat", handleChat(turns))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":  "healthy",
		"service": serviceName,
		"version": serviceVersion,
	})
}

func handleChat(turns TurnHandler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ChatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}
		if msg := validateChatRequest(&req); msg != "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "%s", msg)
			return
		}

		response, err := turns.HandleTurn(r.Context(), req.UserID, req.UserMessage, req.ChatInterest, req.InterestTopic)
		if err != nil {
			slog.Error("chat request failed",
				"user_id", req.UserID,
				"is_first_time", req.ChatInterest,
				"error", err)
			httpError(w, http.StatusInternalServerError, "api_error", "internal server error: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(ChatResponse{Response: response})
	}
}

func validateChatRequest(req *ChatRequest) string {
	if strings.TrimSpace(req.UserID) == "" {
		return "userId is required"
	}
	if strings.TrimSpace(req.UserMessage) == "" {
		return "userMessage is required"
	}
	if req.ChatInterest && strings.TrimSpace(req.InterestTopic) == "" {
		return "interestTopic is required when chatInterest is true"
	}
	return ""
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r)
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start))
	})
}
