package chat

import (
	"testing"
	"time"

	"marshtalk/internal/models"

	"github.com/stretchr/testify/assert"
)

func TestHideSetsBothTimestamps(t *testing.T) {
	v := &models.ChatVisibility{}
	now := time.Now()

	ApplyHide(v, now)

	assert.True(t, IsHidden(v))
	assert.Equal(t, now, *v.HiddenAt)
	assert.Equal(t, now, *v.ClearedAt)
}

func TestOpenUnhidesAndAdvancesBarrier(t *testing.T) {
	v := &models.ChatVisibility{}
	t0 := time.Now()

	ApplyHide(v, t0)
	ApplyOpen(v, t0.Add(time.Minute))

	assert.False(t, IsHidden(v))
	assert.Equal(t, t0.Add(time.Minute), *v.ClearedAt)
}

func TestBarrierNeverMovesBackward(t *testing.T) {
	v := &models.ChatVisibility{}
	t0 := time.Now()

	// Any sequence of hide/open/send only ratchets the barrier forward.
	ApplyOpen(v, t0)
	ApplyOpen(v, t0.Add(-time.Hour))
	assert.Equal(t, t0, *v.ClearedAt)

	ApplyHide(v, t0.Add(time.Minute))
	ApplyUnhideOnSend(v)
	assert.Equal(t, t0.Add(time.Minute), *v.ClearedAt)

	ApplyOpen(v, t0.Add(2*time.Minute))
	assert.Equal(t, t0.Add(2*time.Minute), *v.ClearedAt)
}

func TestUnhideOnSendKeepsBarrier(t *testing.T) {
	v := &models.ChatVisibility{}
	t0 := time.Now()

	ApplyHide(v, t0)
	ApplyUnhideOnSend(v)

	assert.False(t, IsHidden(v))
	assert.Equal(t, t0, *v.ClearedAt)
}

func TestClearBarrierDefaultsToEpoch(t *testing.T) {
	assert.True(t, ClearBarrier(nil).IsZero())
	assert.True(t, ClearBarrier(&models.ChatVisibility{}).IsZero())
	assert.False(t, IsHidden(nil))
}
