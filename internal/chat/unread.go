package chat

import (
	"time"

	"marshtalk/internal/models"

	"github.com/google/uuid"
)

// UnreadFloor is the timestamp below which nothing counts as unread for a
// user in a thread: the later of their last read mark and their clear
// barrier. Missing rows count as the epoch.
func UnreadFloor(mark *models.ChatReadMark, vis *models.ChatVisibility) time.Time {
	floor := ClearBarrier(vis)
	if mark != nil && mark.LastReadAt.After(floor) {
		floor = mark.LastReadAt
	}
	return floor
}

// CountUnread counts messages another participant wrote strictly after the
// floor. Detached messages (nil author) never count against anyone.
func CountUnread(messages []*models.Message, viewer uuid.UUID, floor time.Time) int {
	n := 0
	for _, m := range messages {
		if m.AuthorID == nil || *m.AuthorID == viewer {
			continue
		}
		if m.CreatedAt.After(floor) {
			n++
		}
	}
	return n
}

// LastVisible returns the most recent message created strictly after the
// viewer's clear barrier, or nil when everything is behind it. A cleared
// viewer must not see snippets from before their barrier, so the true last
// message of the thread is not good enough here.
func LastVisible(messages []*models.Message, barrier time.Time) *models.Message {
	var last *models.Message
	for _, m := range messages {
		if !m.CreatedAt.After(barrier) {
			continue
		}
		if last == nil || m.CreatedAt.After(last.CreatedAt) {
			last = m
		}
	}
	return last
}
