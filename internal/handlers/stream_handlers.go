package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	ws "github.com/gorilla/websocket"

	"marshtalk/internal/middleware"
	"marshtalk/internal/stream"
)

var upgrader = ws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: tighten to the configured AllowedOrigins
		return true
	},
}

// HandleEvents streams the caller's events over Server-Sent Events.
func (s *Server) HandleEvents() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		stream.ServeSSE(w, r, s.Bus, userID)
	}
}

// HandleWebSocket handles WebSocket connection requests.
func (s *Server) HandleWebSocket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// The JWT middleware already validated the token (header or query
		// parameter) and stored the user in the context.
		userID, ok := middleware.GetUserIDFromContext(r.Context())
		if !ok || userID == uuid.Nil {
			log.Println("WebSocket connection failed: Missing authenticated user")
			http.Error(w, "Missing authentication token", http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("WebSocket upgrade failed for User %s: %v", userID, err)
			// Note: Cannot write HTTP error after successful upgrade attempt
			return
		}
		log.Printf("WebSocket connection upgraded for User %s", userID)

		client := &stream.Client{
			Sub:  s.Bus.Subscribe(userID),
			Conn: conn,
		}

		go client.WritePump()
		go client.ReadPump()
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		requests, errors, uptime := s.Metrics.Snapshot()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "healthy",
			"requests":    requests,
			"errors":      errors,
			"uptime":      uptime.String(),
			"server_time": time.Now(),
		})
	}
}
