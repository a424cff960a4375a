package central

import (
	"github.com/user/bluelane/logger"
)

// discoveryTarget is what a BondWatcher acts on: the session lane for its peer.
type discoveryTarget interface {
	// servicesDiscovered reports whether discovery already succeeded.
	servicesDiscovered() bool
	// requestDiscovery enqueues DiscoverServices unless one is already queued.
	requestDiscovery(reason string)
	// bondLost surfaces a revoked bond to the application.
	bondLost()
}

// BondWatcher reacts to bond transitions of exactly one peer. Discovery that
// was deferred because the peer was bonding is re-armed once bonding resolves.
type BondWatcher struct {
	peer   string
	target discoveryTarget
	prefix string
}

func newBondWatcher(peer string, target discoveryTarget, prefix string) *BondWatcher {
	return &BondWatcher{peer: peer, target: target, prefix: prefix}
}

// Observe handles one bond event. It reports whether the event was for the
// watched peer.
func (w *BondWatcher) Observe(ev BondEvent) bool {
	if ev.Peer != w.peer {
		return false
	}
	logger.Debug(w.prefix, "🔐 bond %s → %s", ev.Previous, ev.State)

	switch ev.State {
	case BondBonded:
		if !w.target.servicesDiscovered() {
			w.target.requestDiscovery("bonded")
		}
	case BondNone:
		if ev.Previous == BondBonding {
			// Bonding failed; try unauthenticated discovery anyway
			logger.Warn(w.prefix, "⚠️  bonding failed, discovering without bond")
			w.target.requestDiscovery("bonding failed")
		} else {
			logger.Warn(w.prefix, "⚠️  bond revoked")
			w.target.bondLost()
		}
	case BondBonding:
		logger.Info(w.prefix, "🔐 bonding in progress")
	}
	return true
}
