package chat

import (
	"marshtalk/internal/utils"

	"github.com/google/uuid"
)

// Pair is the canonical storage key for an unordered participant pair: the
// lexicographically smaller uuid always comes first, so (A,B) and (B,A) map
// to the same key. The uniqueness constraint on threads is declared over
// exactly this ordering.
type Pair struct {
	A uuid.UUID
	B uuid.UUID
}

// CanonicalPair validates and orders a participant pair.
func CanonicalPair(a, b uuid.UUID) (Pair, error) {
	if a == uuid.Nil || b == uuid.Nil {
		return Pair{}, utils.NewAppError(utils.ErrInvalidInput, "participant id must not be nil", nil)
	}
	if a == b {
		return Pair{}, utils.NewAppError(utils.ErrSelfThread, "cannot open a thread with yourself", nil)
	}
	if b.String() < a.String() {
		a, b = b, a
	}
	return Pair{A: a, B: b}, nil
}

// Contains reports whether id is one side of the pair.
func (p Pair) Contains(id uuid.UUID) bool {
	return p.A == id || p.B == id
}

// Other returns the opposite side of the pair for a given participant.
func (p Pair) Other(id uuid.UUID) uuid.UUID {
	if p.A == id {
		return p.B
	}
	return p.A
}
