package central

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

type recordingTarget struct {
	discovered bool
	requests   []string
	lost       int
}

func (r *recordingTarget) servicesDiscovered() bool       { return r.discovered }
func (r *recordingTarget) requestDiscovery(reason string) { r.requests = append(r.requests, reason) }
func (r *recordingTarget) bondLost()                      { r.lost++ }

func TestBondWatcherTransitions(t *testing.T) {
	tests := []struct {
		name       string
		discovered bool
		ev         BondEvent
		requests   int
		lost       int
	}{
		{"bonded before discovery", false, BondEvent{Peer: testPeer, Previous: BondBonding, State: BondBonded}, 1, 0},
		{"bonded after discovery", true, BondEvent{Peer: testPeer, Previous: BondBonding, State: BondBonded}, 0, 0},
		{"bonding failed", false, BondEvent{Peer: testPeer, Previous: BondBonding, State: BondNone}, 1, 0},
		{"bond revoked", true, BondEvent{Peer: testPeer, Previous: BondBonded, State: BondNone}, 0, 1},
		{"bonding started", false, BondEvent{Peer: testPeer, Previous: BondNone, State: BondBonding}, 0, 0},
		{"other peer", false, BondEvent{Peer: "other", Previous: BondBonding, State: BondBonded}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			target := &recordingTarget{discovered: tt.discovered}
			w := newBondWatcher(testPeer, target, "test")

			handled := w.Observe(tt.ev)
			assert.Equal(t, tt.ev.Peer == testPeer, handled)
			assert.Len(t, target.requests, tt.requests)
			assert.Equal(t, tt.lost, target.lost)
		})
	}
}
