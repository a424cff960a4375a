package peripheral

import (
	"fmt"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestTrackerAddRemove(t *testing.T) {
	tr := NewSubscriberTracker()

	assert.True(t, tr.Add(indicateUUID, peerA))
	assert.False(t, tr.Add(indicateUUID, peerA), "duplicate add")
	assert.True(t, tr.Add(notifyUUID, peerA))
	assert.True(t, tr.Add(indicateUUID, peerB))

	assert.True(t, tr.Contains(indicateUUID, peerB))
	assert.Equal(t, 2, tr.Count(indicateUUID))

	assert.True(t, tr.Remove(indicateUUID, peerB))
	assert.False(t, tr.Remove(indicateUUID, peerB))
	assert.False(t, tr.Remove(readUUID, peerA))
	assert.False(t, tr.Contains(indicateUUID, peerB))
}

func TestTrackerRemovePeer(t *testing.T) {
	tr := NewSubscriberTracker()
	tr.Add(indicateUUID, peerA)
	tr.Add(notifyUUID, peerA)
	tr.Add(indicateUUID, peerB)

	removed := tr.RemovePeer(peerA)
	assert.ElementsMatch(t, removed, []uuid.UUID{indicateUUID, notifyUUID})
	assert.Equal(t, []string{peerB}, tr.Subscribers(indicateUUID))
	assert.Empty(t, tr.Subscribers(notifyUUID))
	assert.Empty(t, tr.RemovePeer(peerA))
}

func TestTrackerConcurrentAccess(t *testing.T) {
	tr := NewSubscriberTracker()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			peer := fmt.Sprintf("peer-%02d", i)
			tr.Add(indicateUUID, peer)
			_ = tr.Subscribers(indicateUUID)
			if i%2 == 0 {
				tr.RemovePeer(peer)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 25, tr.Count(indicateUUID))

	tr.Reset()
	assert.Zero(t, tr.Count(indicateUUID))
}
