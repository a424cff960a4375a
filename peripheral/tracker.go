package peripheral

import (
	"sort"
	"sync"

	"github.com/google/uuid"
)

// SubscriberTracker records which peers subscribed to which characteristic.
// It is safe for concurrent use; every mutation is atomic with respect to
// readers.
type SubscriberTracker struct {
	mu   sync.RWMutex
	sets map[uuid.UUID]map[string]struct{}
}

// NewSubscriberTracker returns an empty tracker.
func NewSubscriberTracker() *SubscriberTracker {
	return &SubscriberTracker{sets: make(map[uuid.UUID]map[string]struct{})}
}

// Add subscribes peer to char. It reports whether peer was newly added.
func (t *SubscriberTracker) Add(char uuid.UUID, peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sets[char]
	if !ok {
		set = make(map[string]struct{})
		t.sets[char] = set
	}
	if _, exists := set[peer]; exists {
		return false
	}
	set[peer] = struct{}{}
	return true
}

// Remove unsubscribes peer from char. It reports whether peer was subscribed.
func (t *SubscriberTracker) Remove(char uuid.UUID, peer string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	set, ok := t.sets[char]
	if !ok {
		return false
	}
	if _, exists := set[peer]; !exists {
		return false
	}
	delete(set, peer)
	if len(set) == 0 {
		delete(t.sets, char)
	}
	return true
}

// RemovePeer drops peer from every set and returns the characteristics it
// was subscribed to.
func (t *SubscriberTracker) RemovePeer(peer string) []uuid.UUID {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []uuid.UUID
	for char, set := range t.sets {
		if _, ok := set[peer]; ok {
			delete(set, peer)
			removed = append(removed, char)
			if len(set) == 0 {
				delete(t.sets, char)
			}
		}
	}
	return removed
}

// Contains reports whether peer is subscribed to char.
func (t *SubscriberTracker) Contains(char uuid.UUID, peer string) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.sets[char][peer]
	return ok
}

// Subscribers returns the peers subscribed to char, sorted.
func (t *SubscriberTracker) Subscribers(char uuid.UUID) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()

	set := t.sets[char]
	out := make([]string, 0, len(set))
	for peer := range set {
		out = append(out, peer)
	}
	sort.Strings(out)
	return out
}

// Count returns the number of peers subscribed to char.
func (t *SubscriberTracker) Count(char uuid.UUID) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.sets[char])
}

// Reset forgets every subscription.
func (t *SubscriberTracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sets = make(map[uuid.UUID]map[string]struct{})
}
