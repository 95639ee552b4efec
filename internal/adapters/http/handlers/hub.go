package handlers

import (
	"log"
	"sync"

	"github.com/evermind-ai/evermind/internal/domain/models"
	"github.com/evermind-ai/evermind/internal/ports"
)

// TurnHub fans memory lifecycle notifications out to per-user subscribers:
// live turn streams waiting for their commit confirmation and websocket
// event feeds. Publishing never blocks; a subscriber that stops draining
// loses events rather than stalling the drainer.
type TurnHub struct {
	mu   sync.RWMutex
	subs map[string]map[chan ports.TurnEvent]struct{} // userID -> subscribers
}

func NewTurnHub() *TurnHub {
	return &TurnHub{
		subs: make(map[string]map[chan ports.TurnEvent]struct{}),
	}
}

// Subscribe registers a listener for one user's events. The returned cancel
// func is idempotent and closes the channel.
func (h *TurnHub) Subscribe(userID string) (<-chan ports.TurnEvent, func()) {
	ch := make(chan ports.TurnEvent, 16)

	h.mu.Lock()
	if h.subs[userID] == nil {
		h.subs[userID] = make(map[chan ports.TurnEvent]struct{})
	}
	h.subs[userID][ch] = struct{}{}
	h.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			if set, ok := h.subs[userID]; ok {
				delete(set, ch)
				if len(set) == 0 {
					delete(h.subs, userID)
				}
			}
			h.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// publish delivers to every subscriber of the user without blocking. The
// read lock also orders publish against cancel: a channel is never closed
// mid-send.
func (h *TurnHub) publish(userID string, event ports.TurnEvent) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.subs[userID] {
		select {
		case ch <- event:
		default:
			log.Printf("warning: event feed: subscriber buffer full, dropping %s for user %s", event.Type, userID)
		}
	}
}

func (h *TurnHub) NotifyMemoryPending(userID, sessionID, memoryID string) {
	h.publish(userID, ports.TurnEvent{
		Type:      string(ports.DeltaMemoryPending),
		UserID:    userID,
		SessionID: sessionID,
		MemoryID:  memoryID,
	})
}

func (h *TurnHub) NotifyMemoryCommitted(userID, sessionID, memoryID string) {
	h.publish(userID, ports.TurnEvent{
		Type:      string(ports.DeltaMemoryCommitted),
		UserID:    userID,
		SessionID: sessionID,
		MemoryID:  memoryID,
	})
}

func (h *TurnHub) NotifyClarification(userID, sessionID, content string) {
	h.publish(userID, ports.TurnEvent{
		Type:      string(ports.DeltaClarification),
		UserID:    userID,
		SessionID: sessionID,
		Content:   content,
	})
}

func (h *TurnHub) NotifyAffinityState(userID string, from, to models.AffinityState, score float64) {
	h.publish(userID, ports.TurnEvent{
		Type:      ports.EventAffinityState,
		UserID:    userID,
		Score:     score,
		FromState: string(from),
		ToState:   string(to),
	})
}

// SubscriberCount reports active listeners for one user.
func (h *TurnHub) SubscriberCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subs[userID])
}
