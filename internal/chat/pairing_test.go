package chat

import (
	"testing"

	"marshtalk/internal/utils"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanonicalPairSymmetry(t *testing.T) {
	a := uuid.New()
	b := uuid.New()

	p1, err := CanonicalPair(a, b)
	assert.NoError(t, err)

	p2, err := CanonicalPair(b, a)
	assert.NoError(t, err)

	assert.Equal(t, p1, p2)
	assert.True(t, p1.A.String() < p1.B.String())
	assert.True(t, p1.Contains(a))
	assert.True(t, p1.Contains(b))
	assert.Equal(t, b, p1.Other(a))
	assert.Equal(t, a, p1.Other(b))
}

func TestCanonicalPairRejectsSelf(t *testing.T) {
	a := uuid.New()

	_, err := CanonicalPair(a, a)
	assert.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrSelfThread))
}

func TestCanonicalPairRejectsNil(t *testing.T) {
	_, err := CanonicalPair(uuid.Nil, uuid.New())
	assert.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))

	_, err = CanonicalPair(uuid.New(), uuid.Nil)
	assert.Error(t, err)
	assert.True(t, utils.IsErrorCode(err, utils.ErrInvalidInput))
}
