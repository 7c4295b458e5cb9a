package chat

import (
	"encoding/json"
	"time"

	"marshtalk/internal/models"

	"github.com/google/uuid"
)

// Event kinds pushed over the delivery bus. The bus is a "wake up and
// refetch" signal plus an optimism-friendly payload; unread counts are never
// pushed as deltas, clients recompute them from the pull endpoints.
const (
	EventMessage       = "message"
	EventThreadUpdated = "thread-updated"
	EventTyping        = "typing"
	EventRead          = "read"
)

// Event is one serialized frame addressed to a set of users.
type Event struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"-"`
}

type messageEventPayload struct {
	Type    string          `json:"type"`
	Message *models.Message `json:"message"`
}

type threadUpdatedPayload struct {
	Type     string    `json:"type"`
	ThreadID uuid.UUID `json:"threadId"`
}

type typingPayload struct {
	Type     string    `json:"type"`
	ThreadID uuid.UUID `json:"threadId"`
	UserID   uuid.UUID `json:"userId"`
}

type readPayload struct {
	Type     string    `json:"type"`
	ThreadID uuid.UUID `json:"threadId"`
	UserID   uuid.UUID `json:"userId"`
	ReadAt   time.Time `json:"readAt"`
}

// NewMessageEvent carries the full message so open clients can render it
// optimistically without a refetch.
func NewMessageEvent(msg *models.Message) Event {
	return marshalEvent(EventMessage, messageEventPayload{Type: EventMessage, Message: msg})
}

// NewThreadUpdatedEvent tells thread-list views that something changed.
func NewThreadUpdatedEvent(threadID uuid.UUID) Event {
	return marshalEvent(EventThreadUpdated, threadUpdatedPayload{Type: EventThreadUpdated, ThreadID: threadID})
}

// NewTypingEvent is ephemeral: bus-only, nothing persisted.
func NewTypingEvent(threadID, userID uuid.UUID) Event {
	return marshalEvent(EventTyping, typingPayload{Type: EventTyping, ThreadID: threadID, UserID: userID})
}

// NewReadEvent lets the peer update seen indicators on messages they wrote.
func NewReadEvent(threadID, userID uuid.UUID, readAt time.Time) Event {
	return marshalEvent(EventRead, readPayload{Type: EventRead, ThreadID: threadID, UserID: userID, ReadAt: readAt})
}

func marshalEvent(kind string, payload any) Event {
	data, err := json.Marshal(payload)
	if err != nil {
		// Payload structs above contain nothing unmarshalable.
		data = []byte(`{"type":"` + kind + `"}`)
	}
	return Event{Type: kind, Payload: data}
}
