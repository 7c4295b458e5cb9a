package stream

import (
	"log"
	"sync"

	"github.com/google/uuid"

	"marshtalk/internal/chat"
)

// defaultBuffer is the per-subscription event buffer. A subscriber that
// falls this far behind starts dropping events rather than blocking senders.
const defaultBuffer = 64

// Bus fans events out to the active subscriptions of each recipient.
type Bus interface {
	// Subscribe registers a new subscription for the given user. The caller
	// must call Close on the returned subscription when done.
	Subscribe(userID uuid.UUID) *Subscription

	// Publish delivers the event to every active subscription of every
	// listed recipient. Recipients with no subscriptions are skipped.
	Publish(event chat.Event, recipients ...uuid.UUID)
}

// Subscription is one consumer's view of the bus. Events arrive on C.
type Subscription struct {
	UserID uuid.UUID
	C      chan chat.Event

	hub  *Hub
	once sync.Once
}

// Close unregisters the subscription and closes its channel.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.hub.unregister(s)
		close(s.C)
	})
}

// Hub is the in-process Bus implementation. It maps each user ID to the
// set of that user's active subscriptions.
type Hub struct {
	mu   sync.RWMutex
	subs map[uuid.UUID]map[*Subscription]bool
}

func NewHub() *Hub {
	return &Hub{
		subs: make(map[uuid.UUID]map[*Subscription]bool),
	}
}

func (h *Hub) Subscribe(userID uuid.UUID) *Subscription {
	sub := &Subscription{
		UserID: userID,
		C:      make(chan chat.Event, defaultBuffer),
		hub:    h,
	}
	h.mu.Lock()
	if _, ok := h.subs[userID]; !ok {
		h.subs[userID] = make(map[*Subscription]bool)
	}
	h.subs[userID][sub] = true
	count := len(h.subs[userID])
	h.mu.Unlock()
	log.Printf("Stream subscription opened for User %s. Total connections for user: %d", userID, count)
	return sub
}

func (h *Hub) unregister(sub *Subscription) {
	h.mu.Lock()
	defer h.mu.Unlock()
	userSubs, ok := h.subs[sub.UserID]
	if !ok {
		return
	}
	if _, ok := userSubs[sub]; !ok {
		return
	}
	delete(userSubs, sub)
	if len(userSubs) == 0 {
		delete(h.subs, sub.UserID)
		log.Printf("Stream subscription closed. User %s has no more connections.", sub.UserID)
	} else {
		log.Printf("Stream subscription closed for User %s. Remaining connections: %d", sub.UserID, len(userSubs))
	}
}

func (h *Hub) Publish(event chat.Event, recipients ...uuid.UUID) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, userID := range recipients {
		userSubs, ok := h.subs[userID]
		if !ok {
			continue
		}
		for sub := range userSubs {
			select {
			case sub.C <- event:
			default:
				log.Printf("Event buffer full for a connection of User %s. Event %s dropped for this connection.", userID, event.Type)
			}
		}
	}
}

// ConnectionCount reports the number of active subscriptions for a user.
func (h *Hub) ConnectionCount(userID uuid.UUID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
