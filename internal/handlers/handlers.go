package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/asynkron/protoactor-go/actor"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"marshtalk/internal/database"
	"marshtalk/internal/engine"
	"marshtalk/internal/middleware"
	"marshtalk/internal/stream"
	"marshtalk/internal/utils"
)

// Server holds all server dependencies, including the actor system and engine
type Server struct {
	System         *actor.ActorSystem
	Context        *actor.RootContext
	Engine         *engine.Engine
	Store          database.Store
	Bus            stream.Bus
	Metrics        *utils.MetricsCollector
	RequestTimeout time.Duration
}

// NewServer creates a new Server instance with the given components
func NewServer(
	system *actor.ActorSystem,
	engine *engine.Engine,
	store database.Store,
	bus stream.Bus,
	metrics *utils.MetricsCollector,
) *Server {
	return &Server{
		System:         system,
		Context:        system.Root,
		Engine:         engine,
		Store:          store,
		Bus:            bus,
		Metrics:        metrics,
		RequestTimeout: 30 * time.Second, // Maintenance jobs can take a while
	}
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("HTTP Handler: Failed to encode response: %v", err)
	}
}

// respondError renders any error; AppError codes map onto HTTP statuses,
// everything else is a 500.
func respondError(w http.ResponseWriter, err error) {
	appErr, ok := err.(*utils.AppError)
	if !ok {
		log.Printf("HTTP Handler: Unexpected error: %v", err)
		respondJSON(w, http.StatusInternalServerError, map[string]string{
			"error": "Internal server error",
			"code":  utils.ErrDatabase,
		})
		return
	}
	respondJSON(w, utils.AppErrorToHTTPStatus(appErr.Code), map[string]string{
		"error": appErr.Message,
		"code":  appErr.Code,
	})
}

// requireUserID pulls the authenticated user out of the request context.
// The JWT middleware guarantees it on every protected route.
func requireUserID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		respondError(w, utils.NewUnauthorizedError("missing authenticated user"))
		return uuid.Nil, false
	}
	return userID, true
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	raw := mux.Vars(r)[name]
	id, err := uuid.Parse(raw)
	if err != nil {
		respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid "+name+" format", err))
		return uuid.Nil, false
	}
	return id, true
}
