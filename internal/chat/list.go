package chat

import (
	"sort"

	"marshtalk/internal/models"
)

// SortThreadList orders a user's thread list in place: threads with a
// visible last message first, newest first; threads with no visible message
// last; ties break by thread id descending so the order is deterministic.
func SortThreadList(entries []*models.ThreadListEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		switch {
		case a.LastVisibleAt != nil && b.LastVisibleAt == nil:
			return true
		case a.LastVisibleAt == nil && b.LastVisibleAt != nil:
			return false
		case a.LastVisibleAt != nil && b.LastVisibleAt != nil:
			if !a.LastVisibleAt.Equal(*b.LastVisibleAt) {
				return a.LastVisibleAt.After(*b.LastVisibleAt)
			}
		}
		return a.ThreadID.String() > b.ThreadID.String()
	})
}
