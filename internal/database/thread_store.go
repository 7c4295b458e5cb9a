package database

import (
	"context"
	"database/sql"
	"log"
	"strings"
	"time"

	"marshtalk/internal/chat"
	"marshtalk/internal/models"
	"marshtalk/internal/utils"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// EnsureThread upserts the thread for the canonical pair and advances the
// caller's visibility state in one transaction. The ON CONFLICT upsert is
// what keeps concurrent callers agreeing on one id; a check-then-insert
// would race.
func (p *PostgresStore) EnsureThread(ctx context.Context, userID, otherID uuid.UUID) (uuid.UUID, error) {
	pair, err := chat.CanonicalPair(userID, otherID)
	if err != nil {
		return uuid.Nil, err
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback() // Rollback is ignored if tx is committed.

	now := time.Now()

	// The no-op DO UPDATE makes RETURNING yield the existing row on
	// conflict, which DO NOTHING would not.
	var threadID uuid.UUID
	upsertQuery := `
		INSERT INTO threads (id, participant_a, participant_b, created_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (participant_a, participant_b)
		DO UPDATE SET participant_a = EXCLUDED.participant_a
		RETURNING id
	`
	err = tx.QueryRowxContext(ctx, upsertQuery, uuid.New(), pair.A, pair.B, now).Scan(&threadID)
	if err != nil {
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code.Name() == "foreign_key_violation" {
			return uuid.Nil, utils.NewAppError(utils.ErrUserNotFound, "participant does not exist", err)
		}
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to upsert thread", err)
	}

	// Ensuring a conversation is also how a user resets their view of it:
	// un-hide and ratchet the clear barrier forward, never backward.
	visQuery := `
		INSERT INTO chat_visibility (thread_id, user_id, hidden_at, cleared_at)
		VALUES ($1, $2, NULL, $3)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET
			hidden_at = NULL,
			cleared_at = GREATEST(COALESCE(chat_visibility.cleared_at, '-infinity'::timestamptz), EXCLUDED.cleared_at)
	`
	if _, err = tx.ExecContext(ctx, visQuery, threadID, userID, now); err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to update caller visibility", err)
	}

	if err = tx.Commit(); err != nil {
		return uuid.Nil, utils.NewAppError(utils.ErrDatabase, "failed to commit ensure-thread transaction", err)
	}
	return threadID, nil
}

// GetThread fetches a thread by its ID.
func (p *PostgresStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	query := `SELECT id, participant_a, participant_b, created_at, last_message_at, last_message_text FROM threads WHERE id = $1`
	var thread models.Thread
	err := p.DB.GetContext(ctx, &thread, query, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewThreadNotFoundError(id.String())
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query thread by id", err)
	}
	return &thread, nil
}

// threadViewRow is one visible thread joined with the viewer's own
// visibility and read-mark rows.
type threadViewRow struct {
	models.Thread
	HiddenAt   *time.Time `db:"hidden_at"`
	ClearedAt  *time.Time `db:"cleared_at"`
	LastReadAt *time.Time `db:"last_read_at"`
}

// ListThreads builds the viewer's thread list. The per-thread snippet and
// unread count queries are small and indexed; list ordering is done in Go so
// the comparator is shared with the in-memory store.
func (p *PostgresStore) ListThreads(ctx context.Context, userID uuid.UUID) ([]*models.ThreadListEntry, error) {
	query := `
		SELECT t.id, t.participant_a, t.participant_b, t.created_at, t.last_message_at, t.last_message_text,
		       v.hidden_at, v.cleared_at, r.last_read_at
		FROM threads t
		LEFT JOIN chat_visibility v ON v.thread_id = t.id AND v.user_id = $1
		LEFT JOIN chat_read_marks r ON r.thread_id = t.id AND r.user_id = $1
		WHERE (t.participant_a = $1 OR t.participant_b = $1)
		  AND v.hidden_at IS NULL
	`
	rows := []threadViewRow{}
	if err := p.DB.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query thread list", err)
	}

	entries := make([]*models.ThreadListEntry, 0, len(rows))
	for i := range rows {
		row := &rows[i]
		peer, ok := row.Peer(userID)
		if !ok {
			// Malformed pair awaiting backfill; not listable.
			continue
		}

		barrier := time.Time{}
		if row.ClearedAt != nil {
			barrier = *row.ClearedAt
		}

		entry := &models.ThreadListEntry{ThreadID: row.ID, PeerID: peer}

		lastQuery := `
			SELECT id, thread_id, author_id, text, created_at FROM messages
			WHERE thread_id = $1 AND created_at > $2
			ORDER BY created_at DESC, id DESC LIMIT 1
		`
		var last models.Message
		err := p.DB.GetContext(ctx, &last, lastQuery, row.ID, barrier)
		if err == nil {
			entry.LastVisibleAt = &last.CreatedAt
			entry.LastVisible = &last.Text
		} else if err != sql.ErrNoRows {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to query last visible message", err)
		}

		floor := barrier
		if row.LastReadAt != nil && row.LastReadAt.After(floor) {
			floor = *row.LastReadAt
		}
		unreadQuery := `
			SELECT COUNT(*) FROM messages
			WHERE thread_id = $1 AND author_id IS NOT NULL AND author_id <> $2 AND created_at > $3
		`
		if err := p.DB.GetContext(ctx, &entry.UnreadCount, unreadQuery, row.ID, userID, floor); err != nil {
			return nil, utils.NewAppError(utils.ErrDatabase, "failed to count unread messages", err)
		}

		entries = append(entries, entry)
	}

	chat.SortThreadList(entries)
	return entries, nil
}

// ListMessages returns the thread history the viewer is allowed to see:
// everything strictly after their clear barrier, oldest first.
func (p *PostgresStore) ListMessages(ctx context.Context, threadID, viewerID uuid.UUID) ([]*models.Message, error) {
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(viewerID) {
		return nil, utils.NewNotParticipantError(viewerID.String(), threadID.String())
	}

	barrier, err := p.clearBarrier(ctx, threadID, viewerID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, thread_id, author_id, text, created_at FROM messages
		WHERE thread_id = $1 AND created_at > $2
		ORDER BY created_at ASC, id ASC
	`
	messages := []*models.Message{}
	if err := p.DB.SelectContext(ctx, &messages, query, threadID, barrier); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query messages", err)
	}
	return messages, nil
}

// PostMessage applies all send effects atomically: message insert, thread
// cache update, author un-hide, author read-mark touch. The row lock on the
// thread serializes cache updates from concurrent senders.
func (p *PostgresStore) PostMessage(ctx context.Context, threadID, authorID uuid.UUID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, utils.NewAppError(utils.ErrEmptyMessage, "message text must not be empty", nil)
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	var thread models.Thread
	lockQuery := `SELECT id, participant_a, participant_b, created_at, last_message_at, last_message_text FROM threads WHERE id = $1 FOR UPDATE`
	err = tx.GetContext(ctx, &thread, lockQuery, threadID)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, utils.NewThreadNotFoundError(threadID.String())
		}
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to lock thread", err)
	}
	if !thread.HasParticipant(authorID) {
		return nil, utils.NewNotParticipantError(authorID.String(), threadID.String())
	}

	now := time.Now()
	message := &models.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		AuthorID:  &authorID,
		Text:      text,
		CreatedAt: now,
	}

	insertQuery := `INSERT INTO messages (id, thread_id, author_id, text, created_at) VALUES (:id, :thread_id, :author_id, :text, :created_at)`
	if _, err = tx.NamedExecContext(ctx, insertQuery, message); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to insert message", err)
	}

	cacheQuery := `UPDATE threads SET last_message_at = $1, last_message_text = $2 WHERE id = $3`
	if _, err = tx.ExecContext(ctx, cacheQuery, now, text, threadID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to update thread cache", err)
	}

	// Un-hide for the author only. Their clear barrier stays where it is:
	// sending does not erase the sender's own prior view.
	visQuery := `
		INSERT INTO chat_visibility (thread_id, user_id, hidden_at, cleared_at)
		VALUES ($1, $2, NULL, NULL)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET hidden_at = NULL
	`
	if _, err = tx.ExecContext(ctx, visQuery, threadID, authorID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to un-hide thread for author", err)
	}

	// Sending implies having read up to now.
	readQuery := `
		INSERT INTO chat_read_marks (thread_id, user_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET last_read_at = EXCLUDED.last_read_at
	`
	if _, err = tx.ExecContext(ctx, readQuery, threadID, authorID, now); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to touch author read mark", err)
	}

	if err = tx.Commit(); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to commit post-message transaction", err)
	}
	return message, nil
}

// MarkRead upserts the caller's read mark to now.
func (p *PostgresStore) MarkRead(ctx context.Context, threadID, userID uuid.UUID) (time.Time, error) {
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return time.Time{}, err
	}
	if !thread.HasParticipant(userID) {
		return time.Time{}, utils.NewNotParticipantError(userID.String(), threadID.String())
	}

	now := time.Now()
	query := `
		INSERT INTO chat_read_marks (thread_id, user_id, last_read_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET last_read_at = EXCLUDED.last_read_at
	`
	if _, err := p.DB.ExecContext(ctx, query, threadID, userID, now); err != nil {
		return time.Time{}, utils.NewAppError(utils.ErrDatabase, "failed to upsert read mark", err)
	}
	return now, nil
}

// GetReadPair returns both participants' read marks for seen indicators.
func (p *PostgresStore) GetReadPair(ctx context.Context, threadID, viewerID uuid.UUID) (*models.ReadPair, error) {
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return nil, err
	}
	peer, ok := thread.Peer(viewerID)
	if !ok {
		return nil, utils.NewNotParticipantError(viewerID.String(), threadID.String())
	}

	pair := &models.ReadPair{}
	query := `SELECT last_read_at FROM chat_read_marks WHERE thread_id = $1 AND user_id = $2`

	var mine time.Time
	err = p.DB.GetContext(ctx, &mine, query, threadID, viewerID)
	if err == nil {
		pair.MyReadAt = &mine
	} else if err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query read mark", err)
	}

	var theirs time.Time
	err = p.DB.GetContext(ctx, &theirs, query, threadID, peer)
	if err == nil {
		pair.PeerReadAt = &theirs
	} else if err != sql.ErrNoRows {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to query peer read mark", err)
	}

	return pair, nil
}

// HideThread soft-deletes the thread for the caller: hidden from their list
// and their clear barrier moved to now, in one upsert.
func (p *PostgresStore) HideThread(ctx context.Context, threadID, userID uuid.UUID) error {
	thread, err := p.GetThread(ctx, threadID)
	if err != nil {
		return err
	}
	if !thread.HasParticipant(userID) {
		return utils.NewNotParticipantError(userID.String(), threadID.String())
	}

	now := time.Now()
	query := `
		INSERT INTO chat_visibility (thread_id, user_id, hidden_at, cleared_at)
		VALUES ($1, $2, $3, $3)
		ON CONFLICT (thread_id, user_id) DO UPDATE SET hidden_at = EXCLUDED.hidden_at, cleared_at = EXCLUDED.cleared_at
	`
	if _, err := p.DB.ExecContext(ctx, query, threadID, userID, now); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to hide thread", err)
	}
	log.Printf("Thread %s hidden for user %s", threadID, userID)
	return nil
}

// UnreadTotal sums unread counts over the caller's non-hidden threads in a
// single aggregate query.
func (p *PostgresStore) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	query := `
		SELECT COALESCE(SUM(cnt), 0) FROM (
			SELECT COUNT(m.id) AS cnt
			FROM threads t
			LEFT JOIN chat_visibility v ON v.thread_id = t.id AND v.user_id = $1
			LEFT JOIN chat_read_marks r ON r.thread_id = t.id AND r.user_id = $1
			JOIN messages m ON m.thread_id = t.id
			WHERE (t.participant_a = $1 OR t.participant_b = $1)
			  AND v.hidden_at IS NULL
			  AND m.author_id IS NOT NULL AND m.author_id <> $1
			  AND m.created_at > GREATEST(COALESCE(v.cleared_at, '-infinity'::timestamptz), COALESCE(r.last_read_at, '-infinity'::timestamptz))
			GROUP BY t.id
		) s
	`
	var total int
	if err := p.DB.GetContext(ctx, &total, query, userID); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to sum unread counts", err)
	}
	return total, nil
}

func (p *PostgresStore) clearBarrier(ctx context.Context, threadID, userID uuid.UUID) (time.Time, error) {
	var cleared sql.NullTime
	query := `SELECT cleared_at FROM chat_visibility WHERE thread_id = $1 AND user_id = $2`
	err := p.DB.GetContext(ctx, &cleared, query, threadID, userID)
	if err != nil && err != sql.ErrNoRows {
		return time.Time{}, utils.NewAppError(utils.ErrDatabase, "failed to query clear barrier", err)
	}
	if cleared.Valid {
		return cleared.Time, nil
	}
	return time.Time{}, nil
}
