package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	chatService "llm-gateway/internal/service/chat"
	"llm-gateway/internal/service/stats"
	"llm-gateway/pkg/validation"

	"github.com/sirupsen/logrus"
)

// Request/Response types

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type StreamFrame struct {
	Content   string `json:"content"`
	SessionID string `json:"session_id"`
}

type HistoryEntry struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type HistoryResponse struct {
	History []HistoryEntry `json:"history"`
}

type MessageResponse struct {
	Message string `json:"message"`
}

type OverallStats struct {
	TotalChats                 int     `json:"total_chats"`
	TotalMessages              int     `json:"total_messages"`
	TotalTokens                int     `json:"total_tokens"`
	TotalCost                  float64 `json:"total_cost"`
	TotalLatencyMs             float64 `json:"total_latency_ms"`
	AverageLatencyMsPerMessage float64 `json:"average_latency_ms_per_message"`
	AverageMessagesPerChat     float64 `json:"average_messages_per_chat"`
	IncompleteSessions         int     `json:"incomplete_sessions"`
}

type ChatSummary struct {
	SessionID      string  `json:"session_id"`
	TotalMessages  int     `json:"total_messages"`
	TotalTokens    int     `json:"total_tokens"`
	TotalLatencyMs float64 `json:"total_latency_ms"`
	TotalCost      float64 `json:"total_cost"`
	Incomplete     bool    `json:"incomplete,omitempty"`
}

type ModelsResponse struct {
	DefaultModel string         `json:"default_model"`
	Models       []config.Model `json:"models"`
}

type StatsResponse struct {
	OverallStats  OverallStats                `json:"overall_stats"`
	ChatSummaries []ChatSummary               `json:"chat_summaries"`
	Gateway       chatService.MetricsSnapshot `json:"gateway"`
}

// ChatHandlers exposes the chat gateway over HTTP
type ChatHandlers struct {
	gateway      chatService.Gateway
	validator    *validation.ChatRequestValidator
	models       *config.ModelsConfig
	defaultModel string
}

// NewChatHandlers creates a new ChatHandlers. models may be nil when no catalog is configured.
func NewChatHandlers(gateway chatService.Gateway, models *config.ModelsConfig, defaultModel string) *ChatHandlers {
	return &ChatHandlers{
		gateway:      gateway,
		validator:    validation.NewChatRequestValidator(),
		models:       models,
		defaultModel: defaultModel,
	}
}

// RootHandler answers the landing route
func (ch *ChatHandlers) RootHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Hello from the LLM gateway!"})
}

// HealthHandler is the liveness probe
func (ch *ChatHandlers) HealthHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

// ChatStreamHandler is the SSE endpoint streaming one chat turn
func (ch *ChatHandlers) ChatStreamHandler(w http.ResponseWriter, r *http.Request) {
	prompt := r.URL.Query().Get("prompt")
	sessionID := r.URL.Query().Get("session_id")

	if err := ch.validator.ValidateChatRequest(prompt, sessionID); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	// Check if response writer supports flushing
	flusher, ok := w.(http.Flusher)
	if !ok {
		ch.sendError(w, http.StatusInternalServerError, "Streaming not supported", nil)
		return
	}

	resolvedID, increments, err := ch.gateway.StartTurn(r.Context(), sessionID, prompt)
	if err != nil {
		if errors.Is(err, chatService.ErrEmptyPrompt) {
			ch.sendError(w, http.StatusBadRequest, "Validation failed", err)
			return
		}
		logger.Log.WithError(err).WithField("session_id", sessionID).Error("Error starting chat turn")
		ch.sendError(w, http.StatusInternalServerError, "Error starting chat", err)
		return
	}

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	chunks := 0
	for inc := range increments {
		if inc.Done {
			break
		}
		if err := writeEvent(w, StreamFrame{Content: inc.Content, SessionID: resolvedID}); err != nil {
			logger.ForSession(resolvedID).WithError(err).Debug("Client write failed")
			return
		}
		flusher.Flush()
		chunks++
	}

	// A closed channel without a terminal increment means the client left.
	if r.Context().Err() != nil {
		return
	}

	fmt.Fprintf(w, "data: [DONE]\n\n")
	flusher.Flush()
	logger.ForSession(resolvedID).WithField("chunks", chunks).Debug("Stream finished")
}

// GetHistoryHandler returns the ordered turns of a session
func (ch *ChatHandlers) GetHistoryHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if err := ch.validator.RequireSessionID(sessionID); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	turns, err := ch.gateway.GetHistory(r.Context(), sessionID)
	if err != nil {
		logger.ForSession(sessionID).WithError(err).Error("Error retrieving history")
		ch.sendError(w, http.StatusInternalServerError, "Error retrieving history", err)
		return
	}

	history := make([]HistoryEntry, 0, len(turns))
	for _, turn := range turns {
		history = append(history, HistoryEntry{Role: string(turn.Role), Content: turn.Content})
	}

	writeJSON(w, http.StatusOK, HistoryResponse{History: history})
}

// DeleteChatHandler deletes a session. Unknown sessions succeed.
func (ch *ChatHandlers) DeleteChatHandler(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session_id")
	if err := ch.validator.RequireSessionID(sessionID); err != nil {
		ch.sendError(w, http.StatusBadRequest, "Validation failed", err)
		return
	}

	if err := ch.gateway.DeleteSession(r.Context(), sessionID); err != nil {
		logger.ForSession(sessionID).WithError(err).Error("Error deleting chat session")
		ch.sendError(w, http.StatusInternalServerError, "Error deleting chat session", err)
		return
	}

	logger.ForSession(sessionID).Info("Session deleted")
	writeJSON(w, http.StatusOK, MessageResponse{
		Message: fmt.Sprintf("Session %s deleted successfully.", sessionID),
	})
}

// StatsHandler reports usage across every stored session
func (ch *ChatHandlers) StatsHandler(w http.ResponseWriter, r *http.Request) {
	global, err := ch.gateway.GetGlobalStats(r.Context())
	if err != nil {
		logger.Log.WithError(err).Error("Error retrieving stats")
		ch.sendError(w, http.StatusInternalServerError, "Error retrieving stats", err)
		return
	}

	resp := NewStatsResponse(global, ch.gateway.MetricsSnapshot())
	logger.Log.WithFields(logrus.Fields{
		"total_chats":    resp.OverallStats.TotalChats,
		"total_messages": resp.OverallStats.TotalMessages,
	}).Debug("Stats computed")
	writeJSON(w, http.StatusOK, resp)
}

// NewStatsResponse renders GlobalStats with latencies in milliseconds rounded to
// 2 places and costs rounded to 6 places
func NewStatsResponse(global *stats.GlobalStats, metrics chatService.MetricsSnapshot) StatsResponse {
	resp := StatsResponse{
		OverallStats: OverallStats{
			TotalChats:                 global.TotalChats,
			TotalMessages:              global.TotalMessages,
			TotalTokens:                global.TotalTokens,
			TotalCost:                  global.TotalCost.Round(6).InexactFloat64(),
			TotalLatencyMs:             round2(global.TotalLatency * 1000),
			AverageLatencyMsPerMessage: round2(global.AverageLatencyPerMessage * 1000),
			AverageMessagesPerChat:     round2(global.AverageMessagesPerChat),
			IncompleteSessions:         global.IncompleteSessions,
		},
		ChatSummaries: make([]ChatSummary, 0, len(global.Summaries)),
		Gateway:       metrics,
	}
	for _, s := range global.Summaries {
		resp.ChatSummaries = append(resp.ChatSummaries, ChatSummary{
			SessionID:      s.SessionID,
			TotalMessages:  s.MessageCount,
			TotalTokens:    s.TotalTokens,
			TotalLatencyMs: round2(s.TotalLatency * 1000),
			TotalCost:      s.TotalCost.Round(6).InexactFloat64(),
			Incomplete:     s.Incomplete,
		})
	}
	return resp
}

// GetModelsHandler returns the model catalog and the model turns are sent to
func (ch *ChatHandlers) GetModelsHandler(w http.ResponseWriter, r *http.Request) {
	models := []config.Model{}
	if ch.models != nil {
		models = append(models, ch.models.GetAvailableModels()...)
	}

	writeJSON(w, http.StatusOK, ModelsResponse{
		DefaultModel: ch.defaultModel,
		Models:       models,
	})
}

// Helper methods

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func writeEvent(w http.ResponseWriter, frame StreamFrame) error {
	payload, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "data: %s\n\n", payload)
	return err
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Log.WithError(err).Warn("Error encoding response")
	}
}

// sendError sends a standardized JSON error response
func (ch *ChatHandlers) sendError(w http.ResponseWriter, status int, message string, err error) {
	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	writeJSON(w, status, errResp)
}
