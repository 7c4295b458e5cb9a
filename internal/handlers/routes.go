package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"marshtalk/internal/middleware"
)

// NewRouter wires every endpoint behind the CORS and JWT middleware.
func NewRouter(s *Server, corsConfig *middleware.CORSConfig) *mux.Router {
	router := mux.NewRouter()
	router.Use(middleware.CORSMiddleware(corsConfig))
	router.Use(s.countRequests)
	router.Use(middleware.AuthMiddleware)

	router.HandleFunc("/health", s.HandleHealth()).Methods(http.MethodGet)
	router.HandleFunc("/auth/register", s.HandleUserRegistration()).Methods(http.MethodPost)
	router.HandleFunc("/auth/login", s.HandleUserLogin()).Methods(http.MethodPost)

	router.HandleFunc("/threads", s.HandleCreateThread()).Methods(http.MethodPost)
	router.HandleFunc("/threads", s.HandleListThreads()).Methods(http.MethodGet)
	router.HandleFunc("/threads/{threadId}", s.HandleHideThread()).Methods(http.MethodDelete)
	router.HandleFunc("/threads/{threadId}/messages", s.HandleListMessages()).Methods(http.MethodGet)
	router.HandleFunc("/threads/{threadId}/messages", s.HandlePostMessage()).Methods(http.MethodPost)
	router.HandleFunc("/threads/{threadId}/read", s.HandleMarkRead()).Methods(http.MethodPost)
	router.HandleFunc("/threads/{threadId}/read", s.HandleGetReadPair()).Methods(http.MethodGet)
	router.HandleFunc("/threads/{threadId}/typing", s.HandleTyping()).Methods(http.MethodPost)
	router.HandleFunc("/unread", s.HandleUnreadTotal()).Methods(http.MethodGet)

	router.HandleFunc("/events", s.HandleEvents()).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.HandleWebSocket()).Methods(http.MethodGet)

	router.HandleFunc("/admin/users/{userId}/remove", s.HandleRemoveUser()).Methods(http.MethodPost)
	router.HandleFunc("/admin/ghosts/sweep", s.HandleSweepGhosts()).Methods(http.MethodPost)
	router.HandleFunc("/admin/ghosts/{userId}/consolidate", s.HandleConsolidateGhosts()).Methods(http.MethodPost)
	router.HandleFunc("/admin/threads/backfill", s.HandleBackfillThreads()).Methods(http.MethodPost)

	return router
}

func (s *Server) countRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.Metrics.IncrementRequests()
		next.ServeHTTP(w, r)
	})
}
