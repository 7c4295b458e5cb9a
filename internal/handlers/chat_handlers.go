package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"

	"marshtalk/internal/chat"
	"marshtalk/internal/utils"
)

// CreateThreadRequest opens (or re-opens) the conversation with another user.
type CreateThreadRequest struct {
	OtherUserID string `json:"otherUserId"`
}

// CreateThreadResponse carries the id both sides of a racing open agree on.
type CreateThreadResponse struct {
	ThreadID uuid.UUID `json:"threadId"`
}

// PostMessageRequest represents a request to send a message in a thread
type PostMessageRequest struct {
	Text string `json:"text"`
}

// MarkReadResponse acknowledges a read receipt with the recorded instant.
type MarkReadResponse struct {
	ThreadID uuid.UUID `json:"threadId"`
	ReadAt   time.Time `json:"readAt"`
}

// UnreadTotalResponse is the badge reconciliation payload.
type UnreadTotalResponse struct {
	Total int `json:"total"`
}

// HandleCreateThread opens the thread with another user, creating it if
// this is the first contact between the pair.
func (s *Server) HandleCreateThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		var req CreateThreadRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid request body", err))
			return
		}

		otherID, err := uuid.Parse(req.OtherUserID)
		if err != nil {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid otherUserId format", err))
			return
		}

		threadID, err := s.Store.EnsureThread(r.Context(), userID, otherID)
		if err != nil {
			respondError(w, err)
			return
		}

		// Only the caller's view changed; the peer's list is untouched
		// until a message lands.
		s.Bus.Publish(chat.NewThreadUpdatedEvent(threadID), userID)

		respondJSON(w, http.StatusOK, &CreateThreadResponse{ThreadID: threadID})
	}
}

// HandleListThreads returns the caller's visible conversations, newest
// activity first.
func (s *Server) HandleListThreads() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		entries, err := s.Store.ListThreads(r.Context(), userID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, entries)
	}
}

// HandleListMessages returns the thread history after the caller's clear
// barrier, oldest first.
func (s *Server) HandleListMessages() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		messages, err := s.Store.ListMessages(r.Context(), threadID, userID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, messages)
	}
}

// HandlePostMessage appends a message to the thread and pushes it to both
// participants' live connections.
func (s *Server) HandlePostMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		var req PostMessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, utils.NewAppError(utils.ErrInvalidInput, "invalid request body", err))
			return
		}

		startTime := time.Now()
		message, err := s.Store.PostMessage(r.Context(), threadID, userID, req.Text)
		if err != nil {
			respondError(w, err)
			return
		}
		s.Metrics.AddOperationLatency("post_message", time.Since(startTime))

		recipients := s.threadRecipients(r, threadID)
		s.Bus.Publish(chat.NewMessageEvent(message), recipients...)
		s.Bus.Publish(chat.NewThreadUpdatedEvent(threadID), recipients...)

		respondJSON(w, http.StatusCreated, message)
	}
}

// HandleMarkRead records that the caller has seen everything in the thread
// up to now and notifies the peer's seen indicators.
func (s *Server) HandleMarkRead() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		readAt, err := s.Store.MarkRead(r.Context(), threadID, userID)
		if err != nil {
			respondError(w, err)
			return
		}

		s.Bus.Publish(chat.NewReadEvent(threadID, userID, readAt), s.threadRecipients(r, threadID)...)

		respondJSON(w, http.StatusOK, &MarkReadResponse{ThreadID: threadID, ReadAt: readAt})
	}
}

// HandleGetReadPair returns both read marks of the thread from the caller's
// perspective.
func (s *Server) HandleGetReadPair() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		pair, err := s.Store.GetReadPair(r.Context(), threadID, userID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, pair)
	}
}

// HandleHideThread soft-deletes the thread for the caller only.
func (s *Server) HandleHideThread() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		if err := s.Store.HideThread(r.Context(), threadID, userID); err != nil {
			respondError(w, err)
			return
		}

		s.Bus.Publish(chat.NewThreadUpdatedEvent(threadID), userID)

		respondJSON(w, http.StatusOK, map[string]string{"status": "hidden"})
	}
}

// HandleTyping relays an ephemeral typing signal to the peer. Nothing is
// persisted.
func (s *Server) HandleTyping() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}
		threadID, ok := pathUUID(w, r, "threadId")
		if !ok {
			return
		}

		thread, err := s.Store.GetThread(r.Context(), threadID)
		if err != nil {
			respondError(w, err)
			return
		}
		if !thread.HasParticipant(userID) {
			respondError(w, utils.NewNotParticipantError(userID.String(), threadID.String()))
			return
		}

		if peerID, ok := thread.Peer(userID); ok {
			s.Bus.Publish(chat.NewTypingEvent(threadID, userID), peerID)
		}

		w.WriteHeader(http.StatusNoContent)
	}
}

// HandleUnreadTotal returns the caller's badge count across all visible
// threads.
func (s *Server) HandleUnreadTotal() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := requireUserID(w, r)
		if !ok {
			return
		}

		total, err := s.Store.UnreadTotal(r.Context(), userID)
		if err != nil {
			respondError(w, err)
			return
		}
		respondJSON(w, http.StatusOK, &UnreadTotalResponse{Total: total})
	}
}

// threadRecipients resolves the participants to push an event to. Delivery
// is best effort; a lookup failure just means nobody gets the push.
func (s *Server) threadRecipients(r *http.Request, threadID uuid.UUID) []uuid.UUID {
	thread, err := s.Store.GetThread(r.Context(), threadID)
	if err != nil {
		return nil
	}
	recipients := []uuid.UUID{}
	if thread.ParticipantA != nil {
		recipients = append(recipients, *thread.ParticipantA)
	}
	if thread.ParticipantB != nil {
		recipients = append(recipients, *thread.ParticipantB)
	}
	return recipients
}
