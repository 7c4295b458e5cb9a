package database

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"marshtalk/internal/chat"
	"marshtalk/internal/models"
	"marshtalk/internal/utils"

	"github.com/google/uuid"
)

type threadUserKey struct {
	ThreadID uuid.UUID
	UserID   uuid.UUID
}

// MemoryStore implements Store over mutex-guarded maps. It is the
// development-mode backend (DB_TYPE=memory) and the behavioral reference the
// engine and handler tests run against. Semantics match PostgresStore
// operation for operation.
type MemoryStore struct {
	mu               sync.RWMutex
	users            map[uuid.UUID]*models.User
	threads          map[uuid.UUID]*models.Thread
	threadByPair     map[chat.Pair]uuid.UUID
	messagesByThread map[uuid.UUID][]*models.Message
	readMarks        map[threadUserKey]*models.ChatReadMark
	visibility       map[threadUserKey]*models.ChatVisibility
}

func NewMemoryStore() *MemoryStore {
	log.Println("Using in-memory store")
	return &MemoryStore{
		users:            make(map[uuid.UUID]*models.User),
		threads:          make(map[uuid.UUID]*models.Thread),
		threadByPair:     make(map[chat.Pair]uuid.UUID),
		messagesByThread: make(map[uuid.UUID][]*models.Message),
		readMarks:        make(map[threadUserKey]*models.ChatReadMark),
		visibility:       make(map[threadUserKey]*models.ChatVisibility),
	}
}

func (m *MemoryStore) Close(ctx context.Context) error {
	return nil
}

// --- User Methods ---

func (m *MemoryStore) SaveUser(ctx context.Context, user *models.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.users {
		if user.Username != nil && existing.Username != nil && *user.Username == *existing.Username {
			return utils.NewAppError(utils.ErrUserAlreadyExists, "user already exists: "+*user.Username, nil)
		}
		if user.Email != nil && existing.Email != nil && *user.Email == *existing.Email {
			return utils.NewAppError(utils.ErrUserAlreadyExists, "user already exists: "+*user.Email, nil)
		}
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now()
	}
	stored := *user
	m.users[user.ID] = &stored
	return nil
}

func (m *MemoryStore) GetUser(ctx context.Context, id uuid.UUID) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	user, ok := m.users[id]
	if !ok {
		return nil, utils.NewUserNotFoundError(id.String())
	}
	out := *user
	return &out, nil
}

func (m *MemoryStore) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, user := range m.users {
		if user.Username != nil && *user.Username == username {
			out := *user
			return &out, nil
		}
	}
	return nil, utils.NewUserNotFoundError(username)
}

// --- Thread Methods ---

func (m *MemoryStore) EnsureThread(ctx context.Context, userID, otherID uuid.UUID) (uuid.UUID, error) {
	pair, err := chat.CanonicalPair(userID, otherID)
	if err != nil {
		return uuid.Nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[userID]; !ok {
		return uuid.Nil, utils.NewAppError(utils.ErrUserNotFound, "participant does not exist", nil)
	}
	if _, ok := m.users[otherID]; !ok {
		return uuid.Nil, utils.NewAppError(utils.ErrUserNotFound, "participant does not exist", nil)
	}

	now := time.Now()
	threadID, ok := m.threadByPair[pair]
	if !ok {
		a, b := pair.A, pair.B
		thread := &models.Thread{
			ID:           uuid.New(),
			ParticipantA: &a,
			ParticipantB: &b,
			CreatedAt:    now,
		}
		m.threads[thread.ID] = thread
		m.threadByPair[pair] = thread.ID
		threadID = thread.ID
	}

	vis := m.visibilityRow(threadID, userID)
	chat.ApplyOpen(vis, now)
	return threadID, nil
}

func (m *MemoryStore) GetThread(ctx context.Context, id uuid.UUID) (*models.Thread, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getThreadLocked(id)
}

func (m *MemoryStore) getThreadLocked(id uuid.UUID) (*models.Thread, error) {
	thread, ok := m.threads[id]
	if !ok {
		return nil, utils.NewThreadNotFoundError(id.String())
	}
	out := *thread
	return &out, nil
}

func (m *MemoryStore) ListThreads(ctx context.Context, userID uuid.UUID) ([]*models.ThreadListEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entries := []*models.ThreadListEntry{}
	for _, thread := range m.threads {
		if !thread.HasParticipant(userID) {
			continue
		}
		peer, ok := thread.Peer(userID)
		if !ok {
			continue
		}
		vis := m.visibility[threadUserKey{thread.ID, userID}]
		if chat.IsHidden(vis) {
			continue
		}

		barrier := chat.ClearBarrier(vis)
		messages := m.messagesByThread[thread.ID]
		floor := chat.UnreadFloor(m.readMarks[threadUserKey{thread.ID, userID}], vis)

		entry := &models.ThreadListEntry{
			ThreadID:    thread.ID,
			PeerID:      peer,
			UnreadCount: chat.CountUnread(messages, userID, floor),
		}
		if last := chat.LastVisible(messages, barrier); last != nil {
			at := last.CreatedAt
			text := last.Text
			entry.LastVisibleAt = &at
			entry.LastVisible = &text
		}
		entries = append(entries, entry)
	}

	chat.SortThreadList(entries)
	return entries, nil
}

func (m *MemoryStore) ListMessages(ctx context.Context, threadID, viewerID uuid.UUID) ([]*models.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, err := m.getThreadLocked(threadID)
	if err != nil {
		return nil, err
	}
	if !thread.HasParticipant(viewerID) {
		return nil, utils.NewNotParticipantError(viewerID.String(), threadID.String())
	}

	barrier := chat.ClearBarrier(m.visibility[threadUserKey{threadID, viewerID}])
	visible := []*models.Message{}
	for _, msg := range m.messagesByThread[threadID] {
		if msg.CreatedAt.After(barrier) {
			out := *msg
			visible = append(visible, &out)
		}
	}
	sort.Slice(visible, func(i, j int) bool {
		if !visible[i].CreatedAt.Equal(visible[j].CreatedAt) {
			return visible[i].CreatedAt.Before(visible[j].CreatedAt)
		}
		return visible[i].ID.String() < visible[j].ID.String()
	})
	return visible, nil
}

func (m *MemoryStore) PostMessage(ctx context.Context, threadID, authorID uuid.UUID, text string) (*models.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, utils.NewAppError(utils.ErrEmptyMessage, "message text must not be empty", nil)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return nil, utils.NewThreadNotFoundError(threadID.String())
	}
	if !thread.HasParticipant(authorID) {
		return nil, utils.NewNotParticipantError(authorID.String(), threadID.String())
	}

	now := time.Now()
	author := authorID
	message := &models.Message{
		ID:        uuid.New(),
		ThreadID:  threadID,
		AuthorID:  &author,
		Text:      text,
		CreatedAt: now,
	}
	m.messagesByThread[threadID] = append(m.messagesByThread[threadID], message)

	thread.LastMessageAt = &message.CreatedAt
	thread.LastMessageText = &message.Text

	chat.ApplyUnhideOnSend(m.visibilityRow(threadID, authorID))

	m.readMarks[threadUserKey{threadID, authorID}] = &models.ChatReadMark{
		ThreadID:   threadID,
		UserID:     authorID,
		LastReadAt: now,
	}

	out := *message
	return &out, nil
}

func (m *MemoryStore) MarkRead(ctx context.Context, threadID, userID uuid.UUID) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return time.Time{}, utils.NewThreadNotFoundError(threadID.String())
	}
	if !thread.HasParticipant(userID) {
		return time.Time{}, utils.NewNotParticipantError(userID.String(), threadID.String())
	}

	now := time.Now()
	m.readMarks[threadUserKey{threadID, userID}] = &models.ChatReadMark{
		ThreadID:   threadID,
		UserID:     userID,
		LastReadAt: now,
	}
	return now, nil
}

func (m *MemoryStore) GetReadPair(ctx context.Context, threadID, viewerID uuid.UUID) (*models.ReadPair, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	thread, err := m.getThreadLocked(threadID)
	if err != nil {
		return nil, err
	}
	peer, ok := thread.Peer(viewerID)
	if !ok {
		return nil, utils.NewNotParticipantError(viewerID.String(), threadID.String())
	}

	pair := &models.ReadPair{}
	if mark := m.readMarks[threadUserKey{threadID, viewerID}]; mark != nil {
		at := mark.LastReadAt
		pair.MyReadAt = &at
	}
	if mark := m.readMarks[threadUserKey{threadID, peer}]; mark != nil {
		at := mark.LastReadAt
		pair.PeerReadAt = &at
	}
	return pair, nil
}

func (m *MemoryStore) HideThread(ctx context.Context, threadID, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return utils.NewThreadNotFoundError(threadID.String())
	}
	if !thread.HasParticipant(userID) {
		return utils.NewNotParticipantError(userID.String(), threadID.String())
	}

	chat.ApplyHide(m.visibilityRow(threadID, userID), time.Now())
	return nil
}

func (m *MemoryStore) UnreadTotal(ctx context.Context, userID uuid.UUID) (int, error) {
	entries, err := m.ListThreads(ctx, userID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, entry := range entries {
		total += entry.UnreadCount
	}
	return total, nil
}

// visibilityRow returns the lazily-created visibility row. Callers hold the
// write lock.
func (m *MemoryStore) visibilityRow(threadID, userID uuid.UUID) *models.ChatVisibility {
	key := threadUserKey{threadID, userID}
	vis, ok := m.visibility[key]
	if !ok {
		vis = &models.ChatVisibility{ThreadID: threadID, UserID: userID}
		m.visibility[key] = vis
	}
	return vis
}

// --- Maintenance Methods ---

func (m *MemoryStore) RemoveUser(ctx context.Context, userID uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeUserLocked(userID)
}

func (m *MemoryStore) removeUserLocked(userID uuid.UUID) error {
	if _, ok := m.users[userID]; !ok {
		return utils.NewUserNotFoundError(userID.String())
	}

	// Detach authored messages, never delete them.
	for _, messages := range m.messagesByThread {
		for _, msg := range messages {
			if msg.AuthorID != nil && *msg.AuthorID == userID {
				msg.AuthorID = nil
			}
		}
	}

	for key := range m.readMarks {
		if key.UserID == userID {
			delete(m.readMarks, key)
		}
	}
	for key := range m.visibility {
		if key.UserID == userID {
			delete(m.visibility, key)
		}
	}

	// Vacate participant slots, then drop threads with nothing left.
	for _, thread := range m.threads {
		changed := false
		if thread.ParticipantA != nil && *thread.ParticipantA == userID {
			thread.ParticipantA = nil
			changed = true
		}
		if thread.ParticipantB != nil && *thread.ParticipantB == userID {
			thread.ParticipantB = nil
			changed = true
		}
		if changed {
			m.reindexPairLocked(thread)
		}
		if thread.ParticipantA == nil && thread.ParticipantB == nil && len(m.messagesByThread[thread.ID]) == 0 {
			m.deleteThreadLocked(thread.ID)
		}
	}

	delete(m.users, userID)
	return nil
}

func (m *MemoryStore) SweepGhosts(ctx context.Context) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ghostIDs := []uuid.UUID{}
	for id, user := range m.users {
		if user.IsGhost() && !m.hasActivityLocked(id) {
			ghostIDs = append(ghostIDs, id)
		}
	}

	for _, id := range ghostIDs {
		if err := m.removeUserLocked(id); err != nil {
			return nil, err
		}
	}
	if len(ghostIDs) > 0 {
		log.Printf("Ghost sweep removed %d users", len(ghostIDs))
	}
	return ghostIDs, nil
}

func (m *MemoryStore) hasActivityLocked(userID uuid.UUID) bool {
	for _, messages := range m.messagesByThread {
		for _, msg := range messages {
			if msg.AuthorID != nil && *msg.AuthorID == userID {
				return true
			}
		}
	}
	for key := range m.readMarks {
		if key.UserID == userID {
			return true
		}
	}
	for key := range m.visibility {
		if key.UserID == userID {
			return true
		}
	}
	for _, thread := range m.threads {
		if thread.HasParticipant(userID) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ConsolidateGhosts(ctx context.Context, canonicalID uuid.UUID) (*models.ConsolidationReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.users[canonicalID]; !ok {
		return nil, utils.NewUserNotFoundError(canonicalID.String())
	}

	dupIDs := []uuid.UUID{}
	for id, user := range m.users {
		if id != canonicalID && user.IsGhost() {
			dupIDs = append(dupIDs, id)
		}
	}

	report := &models.ConsolidationReport{CanonicalID: canonicalID}
	for _, dupID := range dupIDs {
		if err := m.consolidateOneLocked(canonicalID, dupID); err != nil {
			log.Printf("Ghost consolidation failed for user %s: %v", dupID, err)
			report.Report.AddFailure(fmt.Errorf("user %s: %v", dupID, err))
			continue
		}
		report.Report.AddSuccess()
		report.MergedIDs = append(report.MergedIDs, dupID)
	}
	return report, nil
}

func (m *MemoryStore) consolidateOneLocked(canonicalID, dupID uuid.UUID) error {
	// Validate all of the duplicate's threads before touching anything, so
	// a failure leaves this unit unapplied.
	dupThreads := []*models.Thread{}
	for _, thread := range m.threads {
		if thread.HasParticipant(dupID) {
			if other, _ := thread.Peer(dupID); other == canonicalID {
				return utils.NewAppError(utils.ErrUnrecoverable,
					fmt.Sprintf("thread %s pairs the duplicate with the canonical ghost", thread.ID), nil)
			}
			dupThreads = append(dupThreads, thread)
		}
	}

	for _, thread := range dupThreads {
		other, hasOther := thread.Peer(dupID)

		if !hasOther {
			canonical := canonicalID
			thread.ParticipantA = &canonical
			thread.ParticipantB = nil
			m.reindexPairLocked(thread)
			continue
		}

		pair, err := chat.CanonicalPair(canonicalID, other)
		if err != nil {
			return err
		}

		if existingID, ok := m.threadByPair[pair]; ok && existingID != thread.ID {
			m.mergeThreadsLocked(existingID, thread.ID)
			continue
		}

		a, b := pair.A, pair.B
		delete(m.threadByPair, m.pairOfLocked(thread))
		thread.ParticipantA = &a
		thread.ParticipantB = &b
		m.threadByPair[pair] = thread.ID
	}

	canonical := canonicalID
	for _, messages := range m.messagesByThread {
		for _, msg := range messages {
			if msg.AuthorID != nil && *msg.AuthorID == dupID {
				msg.AuthorID = &canonical
			}
		}
	}

	for key, mark := range m.readMarks {
		if key.UserID != dupID {
			continue
		}
		target := threadUserKey{key.ThreadID, canonicalID}
		if existing, ok := m.readMarks[target]; !ok || mark.LastReadAt.After(existing.LastReadAt) {
			m.readMarks[target] = &models.ChatReadMark{
				ThreadID:   key.ThreadID,
				UserID:     canonicalID,
				LastReadAt: mark.LastReadAt,
			}
		}
		delete(m.readMarks, key)
	}

	for key, vis := range m.visibility {
		if key.UserID != dupID {
			continue
		}
		target := threadUserKey{key.ThreadID, canonicalID}
		if _, ok := m.visibility[target]; !ok {
			m.visibility[target] = &models.ChatVisibility{
				ThreadID:  key.ThreadID,
				UserID:    canonicalID,
				HiddenAt:  vis.HiddenAt,
				ClearedAt: vis.ClearedAt,
			}
		}
		delete(m.visibility, key)
	}

	delete(m.users, dupID)
	return nil
}

func (m *MemoryStore) BackfillAndDedupeThreads(ctx context.Context) (*models.BackfillReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	report := &models.BackfillReport{}

	malformed := []*models.Thread{}
	for _, thread := range m.threads {
		if thread.ParticipantA == nil || thread.ParticipantB == nil {
			malformed = append(malformed, thread)
		}
	}

	for _, thread := range malformed {
		outcome, err := m.backfillOneLocked(thread)
		if err != nil {
			log.Printf("Backfill failed for thread %s: %v", thread.ID, err)
			report.Report.AddFailure(fmt.Errorf("thread %s: %v", thread.ID, err))
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

	// Collapse leftover duplicates per canonical pair, keeping the most
	// recently active thread.
	groups := map[chat.Pair][]*models.Thread{}
	for _, thread := range m.threads {
		if thread.ParticipantA == nil || thread.ParticipantB == nil {
			continue
		}
		pair, err := chat.CanonicalPair(*thread.ParticipantA, *thread.ParticipantB)
		if err != nil {
			continue
		}
		groups[pair] = append(groups[pair], thread)
	}

	for pair, group := range groups {
		if len(group) < 2 {
			continue
		}
		sort.Slice(group, func(i, j int) bool {
			ai, aj := threadActivity(group[i]), threadActivity(group[j])
			if !ai.Equal(aj) {
				return ai.After(aj)
			}
			return group[i].ID.String() > group[j].ID.String()
		})
		keeper := group[0]
		for _, dup := range group[1:] {
			m.mergeThreadsLocked(keeper.ID, dup.ID)
			report.Deduplicated++
		}
		m.threadByPair[pair] = keeper.ID
		report.Report.AddSuccess()
	}

	return report, nil
}

func (m *MemoryStore) backfillOneLocked(thread *models.Thread) (backfillOutcome, error) {
	participants := recentDistinctAuthors(m.messagesByThread[thread.ID], 2)

	if len(participants) < 2 {
		for key := range m.readMarks {
			if len(participants) == 2 {
				break
			}
			if key.ThreadID != thread.ID {
				continue
			}
			if len(participants) == 0 || participants[0] != key.UserID {
				participants = append(participants, key.UserID)
			}
		}
	}

	if len(participants) < 2 {
		m.deleteThreadLocked(thread.ID)
		return backfillDeleted, nil
	}

	pair, err := chat.CanonicalPair(participants[0], participants[1])
	if err != nil {
		return 0, err
	}

	if existingID, ok := m.threadByPair[pair]; ok && existingID != thread.ID {
		m.mergeThreadsLocked(existingID, thread.ID)
		return backfillMerged, nil
	}

	a, b := pair.A, pair.B
	thread.ParticipantA = &a
	thread.ParticipantB = &b
	m.threadByPair[pair] = thread.ID
	return backfillRecovered, nil
}

// recentDistinctAuthors returns up to limit distinct non-nil authors,
// most recent message first.
func recentDistinctAuthors(messages []*models.Message, limit int) []uuid.UUID {
	ordered := make([]*models.Message, len(messages))
	copy(ordered, messages)
	sort.Slice(ordered, func(i, j int) bool {
		return ordered[i].CreatedAt.After(ordered[j].CreatedAt)
	})

	seen := map[uuid.UUID]bool{}
	authors := []uuid.UUID{}
	for _, msg := range ordered {
		if msg.AuthorID == nil || seen[*msg.AuthorID] {
			continue
		}
		seen[*msg.AuthorID] = true
		authors = append(authors, *msg.AuthorID)
		if len(authors) == limit {
			break
		}
	}
	return authors
}

func threadActivity(t *models.Thread) time.Time {
	if t.LastMessageAt != nil {
		return *t.LastMessageAt
	}
	return t.CreatedAt
}

func (m *MemoryStore) mergeThreadsLocked(keepID, dupID uuid.UUID) {
	m.messagesByThread[keepID] = append(m.messagesByThread[keepID], m.messagesByThread[dupID]...)
	for i := range m.messagesByThread[keepID] {
		m.messagesByThread[keepID][i].ThreadID = keepID
	}
	delete(m.messagesByThread, dupID)

	for key, mark := range m.readMarks {
		if key.ThreadID != dupID {
			continue
		}
		target := threadUserKey{keepID, key.UserID}
		if existing, ok := m.readMarks[target]; !ok || mark.LastReadAt.After(existing.LastReadAt) {
			m.readMarks[target] = &models.ChatReadMark{
				ThreadID:   keepID,
				UserID:     key.UserID,
				LastReadAt: mark.LastReadAt,
			}
		}
		delete(m.readMarks, key)
	}
	for key, vis := range m.visibility {
		if key.ThreadID != dupID {
			continue
		}
		target := threadUserKey{keepID, key.UserID}
		if _, ok := m.visibility[target]; !ok {
			m.visibility[target] = &models.ChatVisibility{
				ThreadID:  keepID,
				UserID:    key.UserID,
				HiddenAt:  vis.HiddenAt,
				ClearedAt: vis.ClearedAt,
			}
		}
		delete(m.visibility, key)
	}

	dup := m.threads[dupID]
	if dup != nil {
		delete(m.threadByPair, m.pairOfLocked(dup))
	}
	delete(m.threads, dupID)

	// Refresh the keeper's last-message cache from the merged history.
	keeper := m.threads[keepID]
	if keeper == nil {
		return
	}
	keeper.LastMessageAt = nil
	keeper.LastMessageText = nil
	if last := chat.LastVisible(m.messagesByThread[keepID], time.Time{}); last != nil {
		at := last.CreatedAt
		text := last.Text
		keeper.LastMessageAt = &at
		keeper.LastMessageText = &text
	}
}

func (m *MemoryStore) deleteThreadLocked(threadID uuid.UUID) {
	thread := m.threads[threadID]
	if thread != nil {
		delete(m.threadByPair, m.pairOfLocked(thread))
	}
	delete(m.threads, threadID)
	delete(m.messagesByThread, threadID)
	for key := range m.readMarks {
		if key.ThreadID == threadID {
			delete(m.readMarks, key)
		}
	}
	for key := range m.visibility {
		if key.ThreadID == threadID {
			delete(m.visibility, key)
		}
	}
}

// reindexPairLocked drops the thread's stale pair index entry and, when the
// pair is complete again, records the fresh one.
func (m *MemoryStore) reindexPairLocked(thread *models.Thread) {
	for pair, id := range m.threadByPair {
		if id == thread.ID {
			delete(m.threadByPair, pair)
		}
	}
	if thread.ParticipantA != nil && thread.ParticipantB != nil {
		if pair, err := chat.CanonicalPair(*thread.ParticipantA, *thread.ParticipantB); err == nil {
			m.threadByPair[pair] = thread.ID
		}
	}
}

// pairOfLocked returns the pair index key for a thread, if it has one.
func (m *MemoryStore) pairOfLocked(thread *models.Thread) chat.Pair {
	if thread.ParticipantA == nil || thread.ParticipantB == nil {
		return chat.Pair{}
	}
	pair, err := chat.CanonicalPair(*thread.ParticipantA, *thread.ParticipantB)
	if err != nil {
		return chat.Pair{}
	}
	return pair
}
