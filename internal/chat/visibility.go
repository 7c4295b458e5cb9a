package chat

import (
	"time"

	"marshtalk/internal/models"
)

// The per-(thread,user) visibility state machine. Two independent nullable
// timestamps encode it: HiddenAt controls whether the thread appears in the
// user's list at all, ClearedAt is the watermark below which history is not
// shown to that user. Message rows are immutable and shared between both
// participants; each side only moves its own pointers, so one side can hide
// or restart a conversation without touching the other side's history.

// ApplyHide removes the thread from the user's list and erases what they
// have seen: both timestamps move to now.
func ApplyHide(v *models.ChatVisibility, now time.Time) {
	v.HiddenAt = &now
	v.ClearedAt = &now
}

// ApplyOpen un-hides the thread and advances the clear barrier to now.
// The barrier never moves backward.
func ApplyOpen(v *models.ChatVisibility, now time.Time) {
	v.HiddenAt = nil
	if v.ClearedAt == nil || v.ClearedAt.Before(now) {
		v.ClearedAt = &now
	}
}

// ApplyUnhideOnSend un-hides the thread for a message author without moving
// their barrier: sending does not erase the sender's own prior view.
func ApplyUnhideOnSend(v *models.ChatVisibility) {
	v.HiddenAt = nil
}

// IsHidden reports whether the thread is excluded from the user's list.
func IsHidden(v *models.ChatVisibility) bool {
	return v != nil && v.HiddenAt != nil
}

// ClearBarrier returns the user's barrier, or the epoch when no visibility
// row exists or the thread was never cleared.
func ClearBarrier(v *models.ChatVisibility) time.Time {
	if v == nil || v.ClearedAt == nil {
		return time.Time{}
	}
	return *v.ClearedAt
}
