package chat

import (
	"testing"
	"time"

	"marshtalk/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func msgAt(author *uuid.UUID, at time.Time) *models.Message {
	return &models.Message{
		ID:        uuid.New(),
		ThreadID:  uuid.New(),
		AuthorID:  author,
		Text:      "hello",
		CreatedAt: at,
	}
}

func TestUnreadFloorTakesLaterTimestamp(t *testing.T) {
	t0 := time.Now()
	mark := &models.ChatReadMark{LastReadAt: t0}
	vis := &models.ChatVisibility{ClearedAt: ptrTime(t0.Add(time.Minute))}

	assert.Equal(t, t0.Add(time.Minute), UnreadFloor(mark, vis))
	assert.Equal(t, t0, UnreadFloor(mark, nil))
	assert.True(t, UnreadFloor(nil, nil).IsZero())
}

func TestCountUnread(t *testing.T) {
	me := uuid.New()
	peer := uuid.New()
	t0 := time.Now()

	messages := []*models.Message{
		msgAt(&peer, t0.Add(-time.Hour)), // behind the floor
		msgAt(&peer, t0.Add(time.Minute)),
		msgAt(&peer, t0.Add(2*time.Minute)),
		msgAt(&me, t0.Add(3*time.Minute)),  // own message never counts
		msgAt(nil, t0.Add(4*time.Minute)),  // detached author never counts
	}

	assert.Equal(t, 2, CountUnread(messages, me, t0))
	assert.Equal(t, 0, CountUnread(messages, me, t0.Add(time.Hour)))
}

func TestLastVisibleRespectsBarrier(t *testing.T) {
	peer := uuid.New()
	t0 := time.Now()

	old := msgAt(&peer, t0.Add(-time.Hour))
	recent := msgAt(&peer, t0.Add(time.Minute))
	messages := []*models.Message{old, recent}

	assert.Equal(t, recent, LastVisible(messages, t0))
	assert.Nil(t, LastVisible(messages, t0.Add(time.Hour)))
	assert.Equal(t, recent, LastVisible(messages, time.Time{}))
}

func ptrTime(t time.Time) *time.Time { return &t }
