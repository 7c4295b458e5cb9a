package database

import (
	"context"
	"time"

	"marshtalk/internal/models"

	"github.com/google/uuid"
)

// Store is the persistence boundary of the messaging core. Two
// implementations exist: PostgresStore for deployments and MemoryStore for
// development and tests. Every multi-row mutation below is one atomic unit;
// a crash or a concurrent reader never observes a message without its
// thread-cache update or a half-finished merge.
type Store interface {
	Close(ctx context.Context) error

	// Users. Identity is owned externally; this is the thin boundary the
	// auth handlers and maintenance jobs work against.
	SaveUser(ctx context.Context, user *models.User) error
	GetUser(ctx context.Context, id uuid.UUID) (*models.User, error)
	GetUserByUsername(ctx context.Context, username string) (*models.User, error)

	// EnsureThread performs an idempotent create-or-fetch on the canonical
	// participant pair. Concurrent callers for the same pair both succeed
	// and agree on one id: the race rests on the uniqueness constraint, not
	// on check-then-insert. Ensuring also un-hides the thread for the caller
	// and advances their clear barrier.
	EnsureThread(ctx context.Context, userID, otherID uuid.UUID) (uuid.UUID, error)
	GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error)

	// ListThreads returns the caller's thread list: hidden threads excluded,
	// snippets and unread counts computed against the caller's clear
	// barrier, ordered newest visible message first.
	ListThreads(ctx context.Context, userID uuid.UUID) ([]*models.ThreadListEntry, error)

	// ListMessages returns the thread's history after the viewer's clear
	// barrier, oldest first.
	ListMessages(ctx context.Context, threadID, viewerID uuid.UUID) ([]*models.Message, error)

	// PostMessage inserts the message, refreshes the thread's last-message
	// cache, un-hides the thread for the author and touches the author's
	// read mark, all in one transaction. Fails with NOT_PARTICIPANT before
	// any mutation when the author is not one of the two participants.
	PostMessage(ctx context.Context, threadID, authorID uuid.UUID, text string) (*models.Message, error)

	// MarkRead upserts the caller's read mark to now and returns it.
	MarkRead(ctx context.Context, threadID, userID uuid.UUID) (time.Time, error)
	GetReadPair(ctx context.Context, threadID, viewerID uuid.UUID) (*models.ReadPair, error)

	// HideThread soft-deletes the thread for the caller only: hidden from
	// their list, clear barrier moved to now. The peer's view is untouched.
	HideThread(ctx context.Context, threadID, userID uuid.UUID) error

	// UnreadTotal is the badge reconciliation endpoint: the sum of unread
	// counts over the caller's non-hidden threads.
	UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error)

	// Maintenance. Each logical unit (one user, one duplicate pair) runs in
	// its own transaction so a single failure is isolated.
	RemoveUser(ctx context.Context, userID uuid.UUID) error
	SweepGhosts(ctx context.Context) ([]uuid.UUID, error)
	ConsolidateGhosts(ctx context.Context, canonicalID uuid.UUID) (*models.ConsolidationReport, error)
	BackfillAndDedupeThreads(ctx context.Context) (*models.BackfillReport, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
