package models

import (
	"time"

	"github.com/google/uuid"
)

// Thread is a direct-message conversation between exactly two users. The
// participant pair is stored in canonical order (lexicographically smaller
// uuid first) and is unique across the table. ParticipantA/B are pointers
// because malformed historical imports can miss one or both sides until the
// backfill job repairs them.
type Thread struct {
	ID              uuid.UUID  `json:"id" db:"id"`
	ParticipantA    *uuid.UUID `json:"participantA" db:"participant_a"`
	ParticipantB    *uuid.UUID `json:"participantB" db:"participant_b"`
	CreatedAt       time.Time  `json:"createdAt" db:"created_at"`
	LastMessageAt   *time.Time `json:"lastMessageAt,omitempty" db:"last_message_at"`
	LastMessageText *string    `json:"lastMessageText,omitempty" db:"last_message_text"`
}

// HasParticipant reports whether id is one of the thread's two participants.
func (t *Thread) HasParticipant(id uuid.UUID) bool {
	return (t.ParticipantA != nil && *t.ParticipantA == id) ||
		(t.ParticipantB != nil && *t.ParticipantB == id)
}

// Peer returns the other participant for a given viewer. The second return
// is false when the viewer is not a participant or the pair is incomplete.
func (t *Thread) Peer(viewer uuid.UUID) (uuid.UUID, bool) {
	if t.ParticipantA != nil && *t.ParticipantA == viewer && t.ParticipantB != nil {
		return *t.ParticipantB, true
	}
	if t.ParticipantB != nil && *t.ParticipantB == viewer && t.ParticipantA != nil {
		return *t.ParticipantA, true
	}
	return uuid.Nil, false
}

// Message belongs to exactly one thread. AuthorID is nullable: removing a
// user detaches their messages instead of deleting them.
type Message struct {
	ID        uuid.UUID  `json:"id" db:"id"`
	ThreadID  uuid.UUID  `json:"threadId" db:"thread_id"`
	AuthorID  *uuid.UUID `json:"authorId" db:"author_id"`
	Text      string     `json:"text" db:"text"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at"`
}

// ChatReadMark records the last instant a user has seen everything up to in
// a thread. Absence of a row means "never read".
type ChatReadMark struct {
	ThreadID   uuid.UUID `json:"threadId" db:"thread_id"`
	UserID     uuid.UUID `json:"userId" db:"user_id"`
	LastReadAt time.Time `json:"lastReadAt" db:"last_read_at"`
}

// ChatVisibility is the per-(thread,user) hide/clear state. HiddenAt removes
// the thread from that user's list; ClearedAt is the barrier below which
// history is not shown to that user. Absence of a row means visible with no
// barrier.
type ChatVisibility struct {
	ThreadID  uuid.UUID  `json:"threadId" db:"thread_id"`
	UserID    uuid.UUID  `json:"userId" db:"user_id"`
	HiddenAt  *time.Time `json:"hiddenAt,omitempty" db:"hidden_at"`
	ClearedAt *time.Time `json:"clearedAt,omitempty" db:"cleared_at"`
}

// ThreadListEntry is one row of a user's thread list: the thread, the peer,
// the last message visible to that viewer and their unread count.
type ThreadListEntry struct {
	ThreadID      uuid.UUID  `json:"threadId"`
	PeerID        uuid.UUID  `json:"peerId"`
	LastVisibleAt *time.Time `json:"lastVisibleAt,omitempty"`
	LastVisible   *string    `json:"lastVisibleText,omitempty"`
	UnreadCount   int        `json:"unreadCount"`
}

// ReadPair is rendered into single/double-check indicators: a message the
// viewer authored counts as seen once PeerReadAt >= its CreatedAt.
type ReadPair struct {
	MyReadAt   *time.Time `json:"myReadAt,omitempty"`
	PeerReadAt *time.Time `json:"peerReadAt,omitempty"`
}
