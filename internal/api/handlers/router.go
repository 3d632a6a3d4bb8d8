package handlers

import (
	"net/http"

	"llm-gateway/internal/auth"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the HTTP routes. When authSecret is set every route except
// the landing page and health check requires a bearer token.
func NewRouter(chatHandler *ChatHandlers, wsHandler *WebSocketHandler, authSecret []byte) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(CORS)

	// Public routes
	r.Get("/", chatHandler.RootHandler)
	r.Get("/health", chatHandler.HealthHandler)

	// Protected routes
	r.Group(func(api chi.Router) {
		api.Use(auth.Middleware(authSecret))

		api.Get("/chat", chatHandler.ChatStreamHandler)
		api.Get("/get_history", chatHandler.GetHistoryHandler)
		api.Get("/delete_chat", chatHandler.DeleteChatHandler)
		api.Delete("/delete_chat", chatHandler.DeleteChatHandler)
		api.Get("/stats", chatHandler.StatsHandler)
		api.Get("/models", chatHandler.GetModelsHandler)
		if wsHandler != nil {
			api.Get("/ws/chat", wsHandler.ServeHTTP)
		}
	})

	return r
}
