package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"marshtalk/internal/chat"
	"marshtalk/internal/models"
	"marshtalk/internal/utils"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// Maintenance jobs. Each logical unit (one user, one duplicate thread pair)
// runs in its own transaction so one bad record never aborts the batch. The
// jobs assume a single runner but are safe against normal traffic: every
// mutation here is expressed through the same atomic primitives the request
// path uses.

// RemoveUser detaches a user's authored messages, deletes their chat state
// and user row, and cleans up threads left with no participants and no
// messages.
func (p *PostgresStore) RemoveUser(ctx context.Context, userID uuid.UUID) error {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	if err := removeUserTx(ctx, tx, userID); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to commit user removal", err)
	}
	log.Printf("Removed user %s", userID)
	return nil
}

func removeUserTx(ctx context.Context, tx *sqlx.Tx, userID uuid.UUID) error {
	// Messages are never deleted on user removal, only detached.
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET author_id = NULL WHERE author_id = $1`, userID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to detach authored messages", err)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_read_marks WHERE user_id = $1`, userID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete read marks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_visibility WHERE user_id = $1`, userID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete visibility rows", err)
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete user", err)
	}
	if affected, _ := result.RowsAffected(); affected == 0 {
		return utils.NewUserNotFoundError(userID.String())
	}

	// The FK on threads sets the vacated participant slot to NULL. Threads
	// with nothing left in them are pure noise; this is cleanup, not a
	// general invariant.
	cleanupQuery := `
		DELETE FROM threads t
		WHERE t.participant_a IS NULL AND t.participant_b IS NULL
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.thread_id = t.id)
	`
	if _, err := tx.ExecContext(ctx, cleanupQuery); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to clean up empty threads", err)
	}
	return nil
}

// SweepGhosts removes every user with no identifying fields and zero
// observed activity, in one batch transaction. Finding nothing is a no-op.
func (p *PostgresStore) SweepGhosts(ctx context.Context) ([]uuid.UUID, error) {
	query := `
		SELECT u.id FROM users u
		WHERE COALESCE(u.username, '') = '' AND COALESCE(u.email, '') = ''
		  AND NOT EXISTS (SELECT 1 FROM messages m WHERE m.author_id = u.id)
		  AND NOT EXISTS (SELECT 1 FROM chat_read_marks r WHERE r.user_id = u.id)
		  AND NOT EXISTS (SELECT 1 FROM chat_visibility v WHERE v.user_id = u.id)
		  AND NOT EXISTS (SELECT 1 FROM threads t WHERE t.participant_a = u.id OR t.participant_b = u.id)
	`
	ghostIDs := []uuid.UUID{}
	if err := p.DB.SelectContext(ctx, &ghostIDs, query); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to find ghost users", err)
	}
	if len(ghostIDs) == 0 {
		return ghostIDs, nil
	}

	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	for _, id := range ghostIDs {
		if err := removeUserTx(ctx, tx, id); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to commit ghost sweep", err)
	}
	log.Printf("Ghost sweep removed %d users", len(ghostIDs))
	return ghostIDs, nil
}

// ConsolidateGhosts merges every duplicate ghost account into the canonical
// placeholder, one account per transaction. A failed merge is recorded in
// the report and the batch moves on.
func (p *PostgresStore) ConsolidateGhosts(ctx context.Context, canonicalID uuid.UUID) (*models.ConsolidationReport, error) {
	if _, err := p.GetUser(ctx, canonicalID); err != nil {
		return nil, err
	}

	query := `SELECT id FROM users WHERE COALESCE(username, '') = '' AND COALESCE(email, '') = '' AND id <> $1`
	dupIDs := []uuid.UUID{}
	if err := p.DB.SelectContext(ctx, &dupIDs, query, canonicalID); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to find duplicate ghosts", err)
	}

	report := &models.ConsolidationReport{CanonicalID: canonicalID}
	for _, dupID := range dupIDs {
		if err := p.consolidateOne(ctx, canonicalID, dupID); err != nil {
			log.Printf("Ghost consolidation failed for user %s: %v", dupID, err)
			report.Report.AddFailure(fmt.Errorf("user %s: %v", dupID, err))
			continue
		}
		report.Report.AddSuccess()
		report.MergedIDs = append(report.MergedIDs, dupID)
	}
	return report, nil
}

func (p *PostgresStore) consolidateOne(ctx context.Context, canonicalID, dupID uuid.UUID) error {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// Re-point every thread the duplicate participates in, observing the
	// pairing invariant: when a thread for the resulting canonical pair
	// already exists, merge into it instead of rewriting.
	threads := []models.Thread{}
	threadQuery := `SELECT id, participant_a, participant_b, created_at, last_message_at, last_message_text FROM threads WHERE participant_a = $1 OR participant_b = $1`
	if err := tx.SelectContext(ctx, &threads, threadQuery, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to query duplicate's threads", err)
	}

	for _, thread := range threads {
		other, _ := thread.Peer(dupID)
		if other == canonicalID {
			return utils.NewAppError(utils.ErrUnrecoverable,
				fmt.Sprintf("thread %s pairs the duplicate with the canonical ghost", thread.ID), nil)
		}

		if other == uuid.Nil {
			// Half-empty pair: just take the duplicate's slot.
			if _, err := tx.ExecContext(ctx,
				`UPDATE threads SET participant_a = $1, participant_b = NULL WHERE id = $2`,
				canonicalID, thread.ID); err != nil {
				return utils.NewAppError(utils.ErrDatabase, "failed to rewrite half-empty thread", err)
			}
			continue
		}

		pair, err := chat.CanonicalPair(canonicalID, other)
		if err != nil {
			return err
		}

		var existingID uuid.UUID
		err = tx.QueryRowxContext(ctx,
			`SELECT id FROM threads WHERE participant_a = $1 AND participant_b = $2 AND id <> $3`,
			pair.A, pair.B, thread.ID).Scan(&existingID)
		switch {
		case err == sql.ErrNoRows:
			if _, err := tx.ExecContext(ctx,
				`UPDATE threads SET participant_a = $1, participant_b = $2 WHERE id = $3`,
				pair.A, pair.B, thread.ID); err != nil {
				return utils.NewAppError(utils.ErrDatabase, "failed to rewrite thread pair", err)
			}
		case err != nil:
			return utils.NewAppError(utils.ErrDatabase, "failed to check for existing pair thread", err)
		default:
			if err := mergeThreadsTx(ctx, tx, existingID, thread.ID); err != nil {
				return err
			}
		}
	}

	// Re-point authored messages and per-user chat state to the canonical
	// id; the newer read mark wins where both accounts have one.
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET author_id = $1 WHERE author_id = $2`, canonicalID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to re-point authored messages", err)
	}

	repointMarks := `
		INSERT INTO chat_read_marks (thread_id, user_id, last_read_at)
		SELECT thread_id, $1, last_read_at FROM chat_read_marks WHERE user_id = $2
		ON CONFLICT (thread_id, user_id) DO UPDATE SET
			last_read_at = GREATEST(chat_read_marks.last_read_at, EXCLUDED.last_read_at)
	`
	if _, err := tx.ExecContext(ctx, repointMarks, canonicalID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to re-point read marks", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_read_marks WHERE user_id = $1`, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to drop duplicate read marks", err)
	}

	repointVis := `
		INSERT INTO chat_visibility (thread_id, user_id, hidden_at, cleared_at)
		SELECT thread_id, $1, hidden_at, cleared_at FROM chat_visibility WHERE user_id = $2
		ON CONFLICT (thread_id, user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, repointVis, canonicalID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to re-point visibility rows", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM chat_visibility WHERE user_id = $1`, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to drop duplicate visibility rows", err)
	}

	// The duplicate is now fully detached.
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE id = $1`, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete duplicate user", err)
	}

	if err := tx.Commit(); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to commit consolidation", err)
	}
	return nil
}

// BackfillAndDedupeThreads repairs malformed historical threads in two
// passes: reconstruct missing participant pairs, then collapse duplicate
// threads per canonical pair into the most recently active one.
func (p *PostgresStore) BackfillAndDedupeThreads(ctx context.Context) (*models.BackfillReport, error) {
	report := &models.BackfillReport{}

	malformed := []uuid.UUID{}
	findQuery := `SELECT id FROM threads WHERE participant_a IS NULL OR participant_b IS NULL`
	if err := p.DB.SelectContext(ctx, &malformed, findQuery); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to find malformed threads", err)
	}

	for _, threadID := range malformed {
		outcome, err := p.backfillOne(ctx, threadID)
		if err != nil {
			log.Printf("Backfill failed for thread %s: %v", threadID, err)
			report.Report.AddFailure(fmt.Errorf("thread %s: %v", threadID, err))
			continue
		}
		report.Report.AddSuccess()
		switch outcome {
		case backfillRecovered:
			report.Recovered++
		case backfillMerged:
			report.Recovered++
			report.Deduplicated++
		case backfillDeleted:
			report.Unrecoverable++
		}
	}

	// With the uniqueness constraint in place new duplicates cannot form,
	// but imported data may predate it.
	dupPairs := []struct {
		A uuid.UUID `db:"participant_a"`
		B uuid.UUID `db:"participant_b"`
	}{}
	dupQuery := `
		SELECT participant_a, participant_b FROM threads
		WHERE participant_a IS NOT NULL AND participant_b IS NOT NULL
		GROUP BY participant_a, participant_b
		HAVING COUNT(*) > 1
	`
	if err := p.DB.SelectContext(ctx, &dupPairs, dupQuery); err != nil {
		return nil, utils.NewAppError(utils.ErrDatabase, "failed to find duplicate pairs", err)
	}

	for _, dp := range dupPairs {
		merged, err := p.dedupePair(ctx, dp.A, dp.B)
		if err != nil {
			log.Printf("Dedupe failed for pair (%s, %s): %v", dp.A, dp.B, err)
			report.Report.AddFailure(err)
			continue
		}
		report.Report.AddSuccess()
		report.Deduplicated += merged
	}

	return report, nil
}

type backfillOutcome int

const (
	backfillRecovered backfillOutcome = iota
	backfillMerged
	backfillDeleted
)

func (p *PostgresStore) backfillOne(ctx context.Context, threadID uuid.UUID) (backfillOutcome, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	// The two most recent distinct authors are the best guess for the
	// original pair; read-mark users are the fallback when fewer than two
	// distinct authors remain.
	authorQuery := `
		SELECT author_id FROM (
			SELECT DISTINCT ON (author_id) author_id, created_at FROM messages
			WHERE thread_id = $1 AND author_id IS NOT NULL
			ORDER BY author_id, created_at DESC
		) s ORDER BY created_at DESC LIMIT 2
	`
	participants := []uuid.UUID{}
	if err := tx.SelectContext(ctx, &participants, authorQuery, threadID); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to query recent authors", err)
	}

	if len(participants) < 2 {
		markQuery := `SELECT user_id FROM chat_read_marks WHERE thread_id = $1`
		markUsers := []uuid.UUID{}
		if err := tx.SelectContext(ctx, &markUsers, markQuery, threadID); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to query read-mark users", err)
		}
		for _, u := range markUsers {
			if len(participants) == 2 {
				break
			}
			if len(participants) == 0 || participants[0] != u {
				participants = append(participants, u)
			}
		}
	}

	if len(participants) < 2 {
		// Unrecoverable: the thread goes, messages and marks with it.
		if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, threadID); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to delete unrecoverable thread", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to commit thread deletion", err)
		}
		return backfillDeleted, nil
	}

	pair, err := chat.CanonicalPair(participants[0], participants[1])
	if err != nil {
		return 0, err
	}

	var existingID uuid.UUID
	err = tx.QueryRowxContext(ctx,
		`SELECT id FROM threads WHERE participant_a = $1 AND participant_b = $2 AND id <> $3`,
		pair.A, pair.B, threadID).Scan(&existingID)
	switch {
	case err == sql.ErrNoRows:
		if _, err := tx.ExecContext(ctx,
			`UPDATE threads SET participant_a = $1, participant_b = $2 WHERE id = $3`,
			pair.A, pair.B, threadID); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to set reconstructed pair", err)
		}
		if err := tx.Commit(); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to commit backfill", err)
		}
		return backfillRecovered, nil
	case err != nil:
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to check for existing pair thread", err)
	default:
		if err := mergeThreadsTx(ctx, tx, existingID, threadID); err != nil {
			return 0, err
		}
		if err := tx.Commit(); err != nil {
			return 0, utils.NewAppError(utils.ErrDatabase, "failed to commit backfill merge", err)
		}
		return backfillMerged, nil
	}
}

// dedupePair collapses every thread for one canonical pair into the most
// recently active one. Returns how many duplicates were merged away.
func (p *PostgresStore) dedupePair(ctx context.Context, a, b uuid.UUID) (int, error) {
	tx, err := p.DB.BeginTxx(ctx, nil)
	if err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to begin transaction", err)
	}
	defer tx.Rollback()

	threads := []models.Thread{}
	query := `
		SELECT id, participant_a, participant_b, created_at, last_message_at, last_message_text FROM threads
		WHERE participant_a = $1 AND participant_b = $2
		ORDER BY COALESCE(last_message_at, created_at) DESC, id DESC
	`
	if err := tx.SelectContext(ctx, &threads, query, a, b); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to query pair threads", err)
	}
	if len(threads) < 2 {
		return 0, nil
	}

	keeper := threads[0]
	for _, dup := range threads[1:] {
		if err := mergeThreadsTx(ctx, tx, keeper.ID, dup.ID); err != nil {
			return 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, utils.NewAppError(utils.ErrDatabase, "failed to commit dedupe", err)
	}
	return len(threads) - 1, nil
}

// mergeThreadsTx folds dupID into keepID: messages move over, the newer
// read mark per user wins, the duplicate thread goes away and the keeper's
// last-message cache is refreshed.
func mergeThreadsTx(ctx context.Context, tx *sqlx.Tx, keepID, dupID uuid.UUID) error {
	if _, err := tx.ExecContext(ctx, `UPDATE messages SET thread_id = $1 WHERE thread_id = $2`, keepID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to move messages", err)
	}

	mergeMarks := `
		INSERT INTO chat_read_marks (thread_id, user_id, last_read_at)
		SELECT $1, user_id, last_read_at FROM chat_read_marks WHERE thread_id = $2
		ON CONFLICT (thread_id, user_id) DO UPDATE SET
			last_read_at = GREATEST(chat_read_marks.last_read_at, EXCLUDED.last_read_at)
	`
	if _, err := tx.ExecContext(ctx, mergeMarks, keepID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to merge read marks", err)
	}

	mergeVis := `
		INSERT INTO chat_visibility (thread_id, user_id, hidden_at, cleared_at)
		SELECT $1, user_id, hidden_at, cleared_at FROM chat_visibility WHERE thread_id = $2
		ON CONFLICT (thread_id, user_id) DO NOTHING
	`
	if _, err := tx.ExecContext(ctx, mergeVis, keepID, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to merge visibility rows", err)
	}

	// Remaining marks and visibility rows cascade with the thread.
	if _, err := tx.ExecContext(ctx, `DELETE FROM threads WHERE id = $1`, dupID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to delete duplicate thread", err)
	}

	refreshCache := `UPDATE threads SET last_message_at = NULL, last_message_text = NULL WHERE id = $1`
	if _, err := tx.ExecContext(ctx, refreshCache, keepID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to reset thread cache", err)
	}
	applyCache := `
		UPDATE threads t SET last_message_at = m.created_at, last_message_text = m.text
		FROM (SELECT created_at, text FROM messages WHERE thread_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1) m
		WHERE t.id = $1
	`
	if _, err := tx.ExecContext(ctx, applyCache, keepID); err != nil {
		return utils.NewAppError(utils.ErrDatabase, "failed to refresh thread cache", err)
	}
	return nil
}
