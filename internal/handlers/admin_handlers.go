package handlers

import (
	"net/http"

	"marshtalk/internal/engine"
	"marshtalk/internal/utils"
)

// The admin endpoints run the data-repair jobs. Every request goes through
// the maintenance actor so jobs execute one at a time.

// HandleRemoveUser detaches a departing user from their conversations and
// deletes the account.
func (s *Server) HandleRemoveUser() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := pathUUID(w, r, "userId")
		if !ok {
			return
		}
		s.runMaintenance(w, &engine.RemoveUserMsg{UserID: userID})
	}
}

// HandleSweepGhosts deletes placeholder accounts with no remaining activity.
func (s *Server) HandleSweepGhosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runMaintenance(w, &engine.SweepGhostsMsg{})
	}
}

// HandleConsolidateGhosts merges duplicate ghost accounts into the given
// canonical one.
func (s *Server) HandleConsolidateGhosts() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		canonicalID, ok := pathUUID(w, r, "userId")
		if !ok {
			return
		}
		s.runMaintenance(w, &engine.ConsolidateGhostsMsg{CanonicalID: canonicalID})
	}
}

// HandleBackfillThreads repairs threads with missing participants and merges
// duplicate threads for the same pair.
func (s *Server) HandleBackfillThreads() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.runMaintenance(w, &engine.BackfillThreadsMsg{})
	}
}

func (s *Server) runMaintenance(w http.ResponseWriter, msg interface{}) {
	future := s.Context.RequestFuture(s.Engine.GetMaintenanceActor(), msg, s.RequestTimeout)
	result, err := future.Result()
	if err != nil {
		respondError(w, utils.NewActorTimeoutError("maintenance"))
		return
	}

	if appErr, ok := result.(*utils.AppError); ok {
		respondError(w, appErr)
		return
	}

	respondJSON(w, http.StatusOK, result)
}
