package wire

import (
	"fmt"
	"sync"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/logger"
)

// Radio is an in-memory BLE medium. Peripherals are hosted on it by id and
// centrals dial them through a Dialer. Every connection delivers its
// callbacks in order on its own goroutine, never on the caller's.
type Radio struct {
	sim *Simulator

	mu      sync.RWMutex
	servers map[string]*Server // peripheral id -> server

	bondMu      sync.Mutex
	bonds       map[string]central.BondState
	watchers    map[int]func(central.BondEvent)
	nextWatcher int
}

// NewRadio creates an empty radio. A nil config means DefaultSimulationConfig.
func NewRadio(config *SimulationConfig) *Radio {
	return &Radio{
		sim:      NewSimulator(config),
		servers:  make(map[string]*Server),
		bonds:    make(map[string]central.BondState),
		watchers: make(map[int]func(central.BondEvent)),
	}
}

// Simulator returns the radio's simulator.
func (r *Radio) Simulator() *Simulator {
	return r.sim
}

// Host returns the server for peripheral id, creating it on first use.
// The server accepts connections once it is opened.
func (r *Radio) Host(id string) *Server {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.servers[id]; ok {
		return s
	}
	s := newServer(r, id)
	r.servers[id] = s
	return s
}

func (r *Radio) server(id string) (*Server, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.servers[id]
	return s, ok
}

// Dialer returns a central.Dialer whose connections identify themselves to
// peripherals as centralID.
func (r *Radio) Dialer(centralID string) central.Dialer {
	return &dialer{radio: r, id: centralID}
}

type dialer struct {
	radio *Radio
	id    string
}

// Dial implements central.Dialer. The connection outcome is reported
// through h.
func (d *dialer) Dial(peer string, h central.LinkHandler) (central.Link, error) {
	srv, ok := d.radio.server(peer)
	if !ok {
		return nil, fmt.Errorf("peripheral %s not in range", shortHash(peer))
	}
	if srv.hasLink(d.id) {
		return nil, fmt.Errorf("central %s already connected to %s", shortHash(d.id), shortHash(peer))
	}
	l := newLink(d.radio, srv, d.id, h)
	l.connect()
	return l, nil
}

// DropLinks simulates a supervision timeout on every connection to
// peripheral id. It returns the number of links dropped.
func (r *Radio) DropLinks(id string) int {
	srv, ok := r.server(id)
	if !ok {
		return 0
	}
	links := srv.snapshotLinks()
	for _, l := range links {
		l.lost()
	}
	if len(links) > 0 {
		logger.Info(shortHash(id)+" Radio", "📴 dropped %d link(s)", len(links))
	}
	return len(links)
}

// WatchBonds implements central.BondSource. fn runs on the goroutine that
// changed the bond and is never called with radio locks held.
func (r *Radio) WatchBonds(fn func(central.BondEvent)) func() {
	r.bondMu.Lock()
	defer r.bondMu.Unlock()
	id := r.nextWatcher
	r.nextWatcher++
	r.watchers[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.bondMu.Lock()
			defer r.bondMu.Unlock()
			delete(r.watchers, id)
		})
	}
}

// BondState returns the bond state of peer.
func (r *Radio) BondState(peer string) central.BondState {
	r.bondMu.Lock()
	defer r.bondMu.Unlock()
	return r.bonds[peer]
}

// SetBondState changes the bond state of peer and notifies every watcher.
// Setting the current state again is a no-op.
func (r *Radio) SetBondState(peer string, state central.BondState) {
	r.bondMu.Lock()
	prev := r.bonds[peer]
	if prev == state {
		r.bondMu.Unlock()
		return
	}
	if state == central.BondNone {
		delete(r.bonds, peer)
	} else {
		r.bonds[peer] = state
	}
	fns := make([]func(central.BondEvent), 0, len(r.watchers))
	for _, fn := range r.watchers {
		fns = append(fns, fn)
	}
	r.bondMu.Unlock()

	logger.Debug(shortHash(peer)+" Radio", "🔐 bond %s -> %s", prev, state)
	ev := central.BondEvent{Peer: peer, Previous: prev, State: state}
	for _, fn := range fns {
		fn(ev)
	}
}

var _ central.BondSource = (*Radio)(nil)

// shortHash returns the first 8 characters of an id for log prefixes.
func shortHash(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
