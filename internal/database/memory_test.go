package database

import (
	"context"
	"testing"
	"time"

	"marshtalk/internal/models"
	"marshtalk/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestUser(t *testing.T, store *MemoryStore, name string) uuid.UUID {
	t.Helper()
	user := &models.User{
		ID:          uuid.New(),
		Username:    &name,
		DisplayName: name,
		CreatedAt:   time.Now(),
	}
	require.NoError(t, store.SaveUser(context.Background(), user))
	return user.ID
}

func newGhostUser(t *testing.T, store *MemoryStore) uuid.UUID {
	t.Helper()
	user := &models.User{ID: uuid.New(), CreatedAt: time.Now()}
	require.NoError(t, store.SaveUser(context.Background(), user))
	return user.ID
}

func TestEnsureThreadIdempotentPairing(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	t1, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)

	t2, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, t1, t2)

	// Reversed order resolves to the same canonical pair.
	t3, err := store.EnsureThread(ctx, bob, alice)
	require.NoError(t, err)
	assert.Equal(t, t1, t3)
}

func TestEnsureThreadRejectsSelfAndUnknown(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")

	_, err := store.EnsureThread(ctx, alice, alice)
	assert.True(t, utils.IsErrorCode(err, utils.ErrSelfThread))

	_, err = store.EnsureThread(ctx, alice, uuid.New())
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))
}

func TestPostMessageValidation(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")
	eve := newTestUser(t, store, "eve")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)

	_, err = store.PostMessage(ctx, threadID, alice, "   ")
	assert.True(t, utils.IsErrorCode(err, utils.ErrEmptyMessage))

	_, err = store.PostMessage(ctx, threadID, eve, "hi")
	assert.True(t, utils.IsErrorCode(err, utils.ErrNotParticipant))

	_, err = store.PostMessage(ctx, uuid.New(), alice, "hi")
	assert.True(t, utils.IsErrorCode(err, utils.ErrThreadNotFound))
}

// Scenario A: a first conversation, one message, read it.
func TestFirstConversationFlow(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)

	msg, err := store.PostMessage(ctx, threadID, alice, "hi")
	require.NoError(t, err)
	assert.Equal(t, "hi", msg.Text)

	entries, err := store.ListThreads(ctx, bob)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, threadID, entries[0].ThreadID)
	assert.Equal(t, alice, entries[0].PeerID)
	assert.Equal(t, 1, entries[0].UnreadCount)
	require.NotNil(t, entries[0].LastVisible)
	assert.Equal(t, "hi", *entries[0].LastVisible)

	// The sender's own message never counts as unread for them.
	total, err := store.UnreadTotal(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, 0, total)

	_, err = store.MarkRead(ctx, threadID, bob)
	require.NoError(t, err)

	entries, err = store.ListThreads(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, entries[0].UnreadCount)
}

// Scenario B: hide then re-ensure wipes the viewer's history, not the peer's.
func TestHideAndReopenClearsHistoryForOneSideOnly(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, threadID, alice, "hi")
	require.NoError(t, err)

	require.NoError(t, store.HideThread(ctx, threadID, alice))

	entries, err := store.ListThreads(ctx, alice)
	require.NoError(t, err)
	assert.Empty(t, entries, "hidden thread must not be listed")

	// Reopening returns the same thread, unhidden, with the barrier moved.
	again, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	assert.Equal(t, threadID, again)

	_, err = store.PostMessage(ctx, threadID, bob, "still here")
	require.NoError(t, err)

	visible, err := store.ListMessages(ctx, threadID, alice)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "still here", visible[0].Text)

	// Bob still sees everything.
	peerView, err := store.ListMessages(ctx, threadID, bob)
	require.NoError(t, err)
	assert.Len(t, peerView, 2)
}

func TestImplicitUnhideOnSendKeepsBarrier(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, threadID, bob, "one")
	require.NoError(t, err)

	require.NoError(t, store.HideThread(ctx, threadID, alice))

	// Sending un-hides for the author without erasing their prior view —
	// but the hide already moved the barrier, so "one" stays gone.
	_, err = store.PostMessage(ctx, threadID, alice, "two")
	require.NoError(t, err)

	entries, err := store.ListThreads(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.NotNil(t, entries[0].LastVisible)
	assert.Equal(t, "two", *entries[0].LastVisible)

	visible, err := store.ListMessages(ctx, threadID, alice)
	require.NoError(t, err)
	require.Len(t, visible, 1)
	assert.Equal(t, "two", visible[0].Text)
}

func TestGetReadPair(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)

	msg, err := store.PostMessage(ctx, threadID, alice, "seen yet?")
	require.NoError(t, err)

	pair, err := store.GetReadPair(ctx, threadID, alice)
	require.NoError(t, err)
	require.NotNil(t, pair.MyReadAt) // sending touched the author's mark
	assert.Nil(t, pair.PeerReadAt)

	readAt, err := store.MarkRead(ctx, threadID, bob)
	require.NoError(t, err)

	pair, err = store.GetReadPair(ctx, threadID, alice)
	require.NoError(t, err)
	require.NotNil(t, pair.PeerReadAt)
	assert.Equal(t, readAt, *pair.PeerReadAt)
	assert.False(t, pair.PeerReadAt.Before(msg.CreatedAt), "message should count as seen")
}

func TestThreadListOrdering(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")
	carol := newTestUser(t, store, "carol")

	withBob, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	withCarol, err := store.EnsureThread(ctx, alice, carol)
	require.NoError(t, err)

	_, err = store.PostMessage(ctx, withBob, bob, "older")
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, withCarol, carol, "newer")
	require.NoError(t, err)

	entries, err := store.ListThreads(ctx, alice)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, withCarol, entries[0].ThreadID)
	assert.Equal(t, withBob, entries[1].ThreadID)
}

// Removing a user detaches their messages but leaves everything else.
func TestRemoveUserDetachesAuthor(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	bob := newTestUser(t, store, "bob")

	threadID, err := store.EnsureThread(ctx, alice, bob)
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, threadID, alice, "from alice")
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, threadID, bob, "from bob")
	require.NoError(t, err)

	require.NoError(t, store.RemoveUser(ctx, alice))

	_, err = store.GetUser(ctx, alice)
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))

	// Thread survives: it still has a participant and messages.
	thread, err := store.GetThread(ctx, threadID)
	require.NoError(t, err)
	assert.True(t, thread.HasParticipant(bob))

	messages, err := store.ListMessages(ctx, threadID, bob)
	require.NoError(t, err)
	require.Len(t, messages, 2)
	assert.Nil(t, messages[0].AuthorID, "alice's message is detached, not deleted")
	require.NotNil(t, messages[1].AuthorID)
	assert.Equal(t, bob, *messages[1].AuthorID)

	// Detached messages no longer count as unread.
	total, err := store.UnreadTotal(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, 0, total)
}

// Scenario D: ghosts with zero activity are swept; a second sweep is a no-op.
func TestSweepGhosts(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	ghost := newGhostUser(t, store)
	alice := newTestUser(t, store, "alice")

	// An active ghost-looking account is not sweepable.
	activeGhost := newGhostUser(t, store)
	_, err := store.EnsureThread(ctx, alice, activeGhost)
	require.NoError(t, err)

	removed, err := store.SweepGhosts(ctx)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, ghost, removed[0])

	removed, err = store.SweepGhosts(ctx)
	require.NoError(t, err)
	assert.Empty(t, removed)
}

func TestConsolidateGhostsMergesDuplicateThreads(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	alice := newTestUser(t, store, "alice")
	canonical := newGhostUser(t, store)
	dup := newGhostUser(t, store)

	// Alice has one thread with the canonical ghost and one with the
	// duplicate; consolidation must fold the latter into the former.
	mainThread, err := store.EnsureThread(ctx, alice, canonical)
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, mainThread, alice, "to canonical")
	require.NoError(t, err)

	dupThread, err := store.EnsureThread(ctx, alice, dup)
	require.NoError(t, err)
	_, err = store.PostMessage(ctx, dupThread, alice, "to duplicate")
	require.NoError(t, err)

	report, err := store.ConsolidateGhosts(ctx, canonical)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Report.Succeeded)
	assert.Equal(t, 0, report.Report.Failed)
	require.Len(t, report.MergedIDs, 1)
	assert.Equal(t, dup, report.MergedIDs[0])

	_, err = store.GetUser(ctx, dup)
	assert.True(t, utils.IsErrorCode(err, utils.ErrUserNotFound))

	_, err = store.GetThread(ctx, dupThread)
	assert.True(t, utils.IsErrorCode(err, utils.ErrThreadNotFound))

	messages, err := store.ListMessages(ctx, mainThread, alice)
	require.NoError(t, err)
	assert.Len(t, messages, 2)

	// Idempotent pairing still holds afterwards.
	again, err := store.EnsureThread(ctx, alice, canonical)
	require.NoError(t, err)
	assert.Equal(t, mainThread, again)
}

// Scenario C: a malformed duplicate thread is folded into the main one in
// creation order.
func TestBackfillAndDedupeThreads(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	x := newTestUser(t, store, "xavier")
	y := newTestUser(t, store, "yolanda")

	mainThread, err := store.EnsureThread(ctx, x, y)
	require.NoError(t, err)
	m1, err := store.PostMessage(ctx, mainThread, x, "m1")
	require.NoError(t, err)

	// Simulate a malformed import: a second thread for the same pair with
	// a missing participant slot.
	dup := &models.Thread{ID: uuid.New(), ParticipantA: &x, CreatedAt: time.Now()}
	store.mu.Lock()
	store.threads[dup.ID] = dup
	yID := y
	store.messagesByThread[dup.ID] = []*models.Message{
		{ID: uuid.New(), ThreadID: dup.ID, AuthorID: &x, Text: "m2", CreatedAt: m1.CreatedAt.Add(time.Second)},
		{ID: uuid.New(), ThreadID: dup.ID, AuthorID: &yID, Text: "m3", CreatedAt: m1.CreatedAt.Add(2 * time.Second)},
	}
	store.mu.Unlock()

	report, err := store.BackfillAndDedupeThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)
	assert.Equal(t, 1, report.Deduplicated)
	assert.Equal(t, 0, report.Unrecoverable)

	_, err = store.GetThread(ctx, dup.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrThreadNotFound))

	messages, err := store.ListMessages(ctx, mainThread, y)
	require.NoError(t, err)
	require.Len(t, messages, 3)
	assert.Equal(t, "m1", messages[0].Text)
	assert.Equal(t, "m2", messages[1].Text)
	assert.Equal(t, "m3", messages[2].Text)

	thread, err := store.GetThread(ctx, mainThread)
	require.NoError(t, err)
	require.NotNil(t, thread.LastMessageText)
	assert.Equal(t, "m3", *thread.LastMessageText)
}

func TestBackfillDeletesUnrecoverableThread(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	x := newTestUser(t, store, "xavier")

	orphan := &models.Thread{ID: uuid.New(), CreatedAt: time.Now()}
	store.mu.Lock()
	store.threads[orphan.ID] = orphan
	store.messagesByThread[orphan.ID] = []*models.Message{
		{ID: uuid.New(), ThreadID: orphan.ID, AuthorID: &x, Text: "alone", CreatedAt: time.Now()},
	}
	store.mu.Unlock()

	report, err := store.BackfillAndDedupeThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, report.Recovered)
	assert.Equal(t, 1, report.Unrecoverable)

	_, err = store.GetThread(ctx, orphan.ID)
	assert.True(t, utils.IsErrorCode(err, utils.ErrThreadNotFound))
}

// The backfill keeps the dedupe merge inside one pair and recovers pairs
// from read marks when authors are missing.
func TestBackfillFallsBackToReadMarks(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	x := newTestUser(t, store, "xavier")
	y := newTestUser(t, store, "yolanda")

	thread := &models.Thread{ID: uuid.New(), CreatedAt: time.Now()}
	store.mu.Lock()
	store.threads[thread.ID] = thread
	store.readMarks[threadUserKey{thread.ID, x}] = &models.ChatReadMark{ThreadID: thread.ID, UserID: x, LastReadAt: time.Now()}
	store.readMarks[threadUserKey{thread.ID, y}] = &models.ChatReadMark{ThreadID: thread.ID, UserID: y, LastReadAt: time.Now()}
	store.mu.Unlock()

	report, err := store.BackfillAndDedupeThreads(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Recovered)

	repaired, err := store.GetThread(ctx, thread.ID)
	require.NoError(t, err)
	assert.True(t, repaired.HasParticipant(x))
	assert.True(t, repaired.HasParticipant(y))
}
