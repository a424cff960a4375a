package central

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

// State is the lifecycle state of a Session.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateServicesDiscovered
	StateSubscribed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateServicesDiscovered:
		return "services-discovered"
	case StateSubscribed:
		return "subscribed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Config is the central-side transaction policy.
type Config struct {
	MaxRetryCount int
	// OperationTimeout fails an in-flight command that never completes. Zero
	// waits forever.
	OperationTimeout time.Duration
	// AdvanceOnAsyncFailure treats a completion carrying a failure status as
	// done instead of retrying the command. Only rejections at issue are
	// retried then.
	AdvanceOnAsyncFailure bool
	// QueueCapacity bounds the command queue. Zero is unbounded.
	QueueCapacity int
}

// DefaultConfig returns the stock policy.
func DefaultConfig() Config {
	return Config{MaxRetryCount: DefaultMaxRetryCount}
}

// SessionOptions are the collaborators of a Session besides its Dialer.
type SessionOptions struct {
	Config  Config
	Bonds   BondSource      // optional
	Journal journal.Journal // optional
}

// Session drives one central connection at a time through
// Disconnected → Connecting → Connected → ServicesDiscovered → Subscribed.
//
// All session state, including the command queue, is guarded by one mutex.
// Link primitives are invoked with it held; Callback methods are invoked
// after it is released.
type Session struct {
	mu      sync.Mutex
	dialer  Dialer
	bonds   BondSource
	cb      Callback
	cfg     Config
	journal journal.Journal

	state  State
	lane   *lane
	outbox []func()
}

// lane is the per-connection part of a session. A new lane is created on
// every Connect; callbacks from an old lane's link are ignored.
type lane struct {
	s         *Session
	peer      string
	prefix    string
	link      Link
	queue     *CommandQueue
	registry  *SubscriptionRegistry
	watcher   *BondWatcher
	stopBonds func()
	services  *gatt.Table

	connected       bool // link reported the connection
	announced       bool // OnConnected was emitted
	discoveryQueued bool
	disconnecting   bool
	drained         bool
}

// NewSession returns a disconnected session.
func NewSession(dialer Dialer, cb Callback, opts SessionOptions) *Session {
	if cb == nil {
		cb = NopCallback{}
	}
	cfg := opts.Config
	if cfg.MaxRetryCount <= 0 {
		cfg.MaxRetryCount = DefaultMaxRetryCount
	}
	return &Session{
		dialer:  dialer,
		bonds:   opts.Bonds,
		cb:      cb,
		cfg:     cfg,
		journal: journal.OrNop(opts.Journal),
	}
}

// locked runs fn under the session lock, then delivers the events fn queued.
func (s *Session) locked(fn func()) {
	s.mu.Lock()
	fn()
	out := s.outbox
	s.outbox = nil
	s.mu.Unlock()

	for _, f := range out {
		f()
	}
}

func (s *Session) emit(f func(cb Callback)) {
	cb := s.cb
	s.outbox = append(s.outbox, func() { f(cb) })
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Peer returns the peer of the current connection, or "".
func (s *Session) Peer() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lane == nil {
		return ""
	}
	return s.lane.peer
}

// Services returns a copy of the discovered attribute table, or nil.
func (s *Session) Services() *gatt.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lane == nil {
		return nil
	}
	return s.lane.services.Clone()
}

// QueueLen returns the number of queued commands, including the one in flight.
func (s *Session) QueueLen() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lane == nil {
		return 0
	}
	return s.lane.queue.Len()
}

// PendingSubscriptions returns the subscription entries not yet sent.
func (s *Session) PendingSubscriptions() []SubscriptionEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lane == nil {
		return nil
	}
	return s.lane.registry.Pending()
}

// Connect starts connecting to peer. It fails if a connection is already
// active or the dial is refused.
func (s *Session) Connect(peer string) error {
	var err error
	s.locked(func() {
		if s.lane != nil {
			err = fmt.Errorf("session already %s with %s", s.state, s.lane.peer)
			return
		}

		l := &lane{s: s, peer: peer, prefix: fmt.Sprintf("%s central", shortPeer(peer))}
		l.queue = NewCommandQueue(l.issue, QueueOptions{
			MaxRetryCount:    s.cfg.MaxRetryCount,
			Capacity:         s.cfg.QueueCapacity,
			OperationTimeout: s.cfg.OperationTimeout,
			Expired:          l.expired,
			Peer:             peer,
			Prefix:           l.prefix,
			Journal:          s.journal,
		})
		l.registry = newSubscriptionRegistry(l.queue, l.prefix)
		l.registry.resolve = func(a gatt.Address) (*gatt.Characteristic, error) { return l.services.Resolve(a) }
		l.registry.setNotify = func(a gatt.Address, enable bool) error { return l.link.SetNotify(a, enable) }
		l.registry.onDone = func() { l.drained = true }
		l.watcher = newBondWatcher(peer, l, l.prefix)
		s.lane = l

		logger.Info(l.prefix, "🔌 connecting")
		s.setState(StateConnecting)
		s.emit(func(cb Callback) { cb.OnConnecting(peer) })

		if s.bonds != nil {
			l.stopBonds = s.bonds.WatchBonds(l.onBondEvent)
		}

		link, derr := s.dialer.Dial(peer, &laneHandler{l: l})
		if derr != nil {
			err = fmt.Errorf("dial %s: %w", peer, derr)
			logger.Error(l.prefix, "❌ %v", err)
			s.teardown(l, err)
			return
		}
		l.link = link
	})
	return err
}

// Disconnect asks the link to disconnect. The session is torn down when the
// link reports the disconnection.
func (s *Session) Disconnect() error {
	var err error
	s.locked(func() {
		l := s.lane
		if l == nil {
			err = att.ErrNotConnected
			return
		}
		if l.disconnecting {
			return
		}
		l.disconnecting = true
		logger.Info(l.prefix, "🔌 disconnect requested")
		if derr := l.link.Disconnect(); derr != nil {
			// Nothing will report back; release now
			logger.Warn(l.prefix, "⚠️  disconnect failed: %v", derr)
			s.teardown(l, nil)
		}
	})
	return err
}

// Close tears the session down immediately without waiting for the link.
func (s *Session) Close() {
	s.locked(func() {
		if s.lane != nil {
			s.teardown(s.lane, errors.New("session closed"))
		}
	})
}

// ReadCharacteristic queues a read. It returns false when there is no
// discovered connection, the address does not resolve, the characteristic is
// not readable, or the queue refuses the command.
func (s *Session) ReadCharacteristic(addr gatt.Address) bool {
	var ok bool
	s.locked(func() {
		l, char, err := s.resolveLocked(addr.CharacteristicAddress())
		if err != nil {
			logger.Warn(s.prefixLocked(), "⚠️  read %s refused: %v", addr, err)
			return
		}
		if !char.Readable() {
			logger.Warn(l.prefix, "⚠️  read %s refused: not readable", addr)
			return
		}
		ok = l.queue.Enqueue(ReadCommand(addr))
	})
	return ok
}

// WriteCharacteristic queues a write, with response when the characteristic
// supports it and without response otherwise.
func (s *Session) WriteCharacteristic(addr gatt.Address, data []byte) bool {
	var ok bool
	s.locked(func() {
		l, char, err := s.resolveLocked(addr.CharacteristicAddress())
		if err != nil {
			logger.Warn(s.prefixLocked(), "⚠️  write %s refused: %v", addr, err)
			return
		}
		var mode WriteMode
		switch {
		case char.Writable():
			mode = WriteWithResponse
		case char.WritableWithoutResponse():
			mode = WriteWithoutResponse
		default:
			logger.Warn(l.prefix, "⚠️  write %s refused: not writable", addr)
			return
		}
		ok = l.queue.Enqueue(WriteCommand(addr, data, mode))
	})
	return ok
}

// ReadDescriptor queues a descriptor read, e.g. of a CCCD.
func (s *Session) ReadDescriptor(addr gatt.Address) bool {
	var ok bool
	s.locked(func() {
		if !addr.IsDescriptor() {
			logger.Warn(s.prefixLocked(), "⚠️  read descriptor %s refused: no descriptor", addr)
			return
		}
		l, _, err := s.resolveLocked(addr)
		if err != nil {
			logger.Warn(s.prefixLocked(), "⚠️  read descriptor %s refused: %v", addr, err)
			return
		}
		ok = l.queue.Enqueue(ReadDescriptorCommand(addr))
	})
	return ok
}

// SetSubscriptions replaces the pending subscription list. Entries are sent
// once services are discovered, one CCCD write at a time.
func (s *Session) SetSubscriptions(entries []SubscriptionEntry) {
	s.locked(func() {
		l := s.lane
		if l == nil {
			logger.Warn(s.prefixLocked(), "⚠️  subscriptions ignored: not connected")
			return
		}
		l.registry.SetSubscriptions(entries)
		s.settleDrain(l)
	})
}

// SubscribeAll subscribes to every notify or indicate characteristic that
// was discovered. It returns the number of entries queued.
func (s *Session) SubscribeAll() int {
	var n int
	s.locked(func() {
		l := s.lane
		if l == nil || l.services == nil {
			logger.Warn(s.prefixLocked(), "⚠️  subscribe-all ignored: services not discovered")
			return
		}
		var entries []SubscriptionEntry
		for _, addr := range l.services.Subscribable() {
			entries = append(entries, SubscriptionEntry{Address: addr, Enable: true})
		}
		n = len(entries)
		l.registry.SetSubscriptions(entries)
		s.settleDrain(l)
	})
	return n
}

func (s *Session) resolveLocked(addr gatt.Address) (*lane, *gatt.Characteristic, error) {
	l := s.lane
	if l == nil {
		return nil, nil, att.ErrNotConnected
	}
	if l.services == nil {
		return l, nil, fmt.Errorf("services not discovered: %w", att.ErrNotConnected)
	}
	char, err := l.services.Resolve(addr)
	if err != nil {
		return l, nil, err
	}
	return l, char, nil
}

// prefixLocked is the log prefix of the current lane, or "central" when
// there is none.
func (s *Session) prefixLocked() string {
	if s.lane != nil {
		return s.lane.prefix
	}
	return "central"
}

func (s *Session) setState(next State) {
	prev := s.state
	if prev == next {
		return
	}
	s.state = next
	peer := ""
	if s.lane != nil {
		peer = s.lane.peer
	}
	logger.Info(s.prefixLocked(), "state %s → %s", prev, next)
	s.journal.Record(journal.Entry{
		Time:   time.Now(),
		Source: journal.SourceCentral,
		Peer:   peer,
		Kind:   journal.KindState,
		Detail: fmt.Sprintf("%s -> %s", prev, next),
	})
	s.emit(func(cb Callback) { cb.OnStateChanged(prev, next) })
}

// becomeConnected announces the connection and queues discovery.
func (s *Session) becomeConnected(l *lane) {
	l.announced = true
	s.setState(StateConnected)
	peer := l.peer
	s.emit(func(cb Callback) { cb.OnConnected(peer) })
	l.enqueueDiscovery("connected")
}

// teardown releases everything the lane owns. Queued commands are dropped
// without completions.
func (s *Session) teardown(l *lane, cause error) {
	l.queue.Close()
	if l.stopBonds != nil {
		l.stopBonds()
	}
	if l.link != nil {
		if err := l.link.Close(); err != nil {
			logger.Debug(l.prefix, "close: %v", err)
		}
	}

	s.setState(StateDisconnected)
	s.lane = nil

	peer := l.peer
	if l.announced {
		logger.Info(l.prefix, "🔌 disconnected")
		s.emit(func(cb Callback) { cb.OnDisconnected(peer) })
		return
	}
	if cause == nil {
		cause = errors.New("disconnected before the connection completed")
	}
	logger.Warn(l.prefix, "⚠️  connect failed: %v", cause)
	s.emit(func(cb Callback) { cb.OnConnectFailed(peer, cause) })
}

// settleDrain moves to Subscribed once the registry has drained its list.
func (s *Session) settleDrain(l *lane) {
	if !l.drained || s.lane != l {
		return
	}
	l.drained = false
	if s.state == StateServicesDiscovered {
		s.setState(StateSubscribed)
	}
}

// settle applies the completion policy to the in-flight command, which must
// be of the given kind.
func (s *Session) settle(l *lane, kind CommandKind, status att.Status) (RequestRecord, Outcome) {
	rec, ok := l.queue.InFlight()
	if !ok || rec.Command.Kind != kind {
		logger.Warn(l.prefix, "⚠️  unexpected %s completion (%s), ignored", kind, status)
		return RequestRecord{}, OutcomeIgnored
	}
	success := status.OK()
	if !success {
		logger.Warn(l.prefix, "⚠️  %s completed with %s", rec.Command, status)
		if s.cfg.AdvanceOnAsyncFailure {
			success = true
		}
	}
	return l.queue.OnOperationCompleted(success)
}

// report emits the application event for a command that left the queue.
func (s *Session) report(l *lane, rec RequestRecord, outcome Outcome, value []byte, ok bool) {
	if outcome != OutcomeDone && outcome != OutcomeAbandoned {
		return
	}
	if outcome == OutcomeAbandoned {
		ok = false
		value = nil
	}
	addr := rec.Command.Address
	switch rec.Command.Kind {
	case ReadCharacteristic:
		s.emit(func(cb Callback) { cb.OnCharacteristicRead(addr, value, ok) })
	case WriteCharacteristic:
		s.emit(func(cb Callback) { cb.OnCharacteristicWrite(addr, ok) })
	case ReadDescriptor:
		s.emit(func(cb Callback) { cb.OnDescriptorRead(addr, value, ok) })
	case WriteDescriptor:
		s.emit(func(cb Callback) { cb.OnDescriptorWrite(addr, ok) })
	case DiscoverServices:
		if outcome == OutcomeAbandoned {
			logger.Error(l.prefix, "❌ service discovery abandoned")
		}
	}
}

// shortPeer keeps log prefixes readable for UUID-shaped peer ids.
func shortPeer(peer string) string {
	if len(peer) > 8 {
		return peer[:8]
	}
	return peer
}

// issue invokes the link primitive for cmd. Called by the queue with the
// session lock held.
func (l *lane) issue(cmd Command) error {
	if l.link == nil {
		return att.ErrNotConnected
	}
	switch cmd.Kind {
	case DiscoverServices:
		return l.link.DiscoverServices()
	case ReadCharacteristic:
		return l.link.ReadCharacteristic(cmd.Address)
	case WriteCharacteristic:
		return l.link.WriteCharacteristic(cmd.Address, cmd.Value, cmd.Mode)
	case ReadDescriptor:
		return l.link.ReadDescriptor(cmd.Address)
	case WriteDescriptor:
		return l.link.WriteDescriptor(cmd.Address, cmd.Value)
	default:
		return fmt.Errorf("unknown command kind %s: %w", cmd.Kind, att.ErrPermissionDenied)
	}
}

// expired is the watchdog callback; it runs on a timer goroutine.
func (l *lane) expired(ticket uint64) {
	s := l.s
	s.locked(func() {
		if s.lane != l {
			return
		}
		rec, outcome := l.queue.Complete(ticket, false)
		s.report(l, rec, outcome, nil, false)
		s.settleDrain(l)
	})
}

func (l *lane) onBondEvent(ev BondEvent) {
	s := l.s
	s.locked(func() {
		if s.lane != l {
			return
		}
		if l.watcher.Observe(ev) {
			s.journal.Record(journal.Entry{
				Time:   time.Now(),
				Source: journal.SourceCentral,
				Peer:   l.peer,
				Kind:   journal.KindBond,
				Detail: fmt.Sprintf("%s -> %s", ev.Previous, ev.State),
			})
		}
		s.settleDrain(l)
	})
}

func (l *lane) servicesDiscovered() bool {
	return l.services != nil
}

func (l *lane) requestDiscovery(reason string) {
	if !l.connected {
		logger.Debug(l.prefix, "discovery (%s) waits for the connection", reason)
		return
	}
	if !l.announced {
		// Connection was held back while bonding
		l.s.becomeConnected(l)
		return
	}
	l.enqueueDiscovery(reason)
}

// enqueueDiscovery queues DiscoverServices unless one is already queued.
func (l *lane) enqueueDiscovery(reason string) {
	if l.discoveryQueued {
		logger.Debug(l.prefix, "discovery (%s) already queued", reason)
		return
	}
	logger.Debug(l.prefix, "🔍 discovery queued (%s)", reason)
	l.discoveryQueued = true
	cmd := DiscoverServicesCommand().withRetire(func(bool) { l.discoveryQueued = false })
	if !l.queue.Enqueue(cmd) {
		l.discoveryQueued = false
	}
}

func (l *lane) bondLost() {
	peer := l.peer
	l.s.emit(func(cb Callback) { cb.OnBondLost(peer) })
}

var _ discoveryTarget = (*lane)(nil)

// laneHandler routes link callbacks for one lane into the session.
type laneHandler struct {
	l *lane
}

// run executes fn under the session lock if the lane is still current.
func (h *laneHandler) run(fn func(s *Session, l *lane)) {
	s := h.l.s
	s.locked(func() {
		if s.lane != h.l {
			logger.Debug(h.l.prefix, "callback for a closed connection, ignored")
			return
		}
		fn(s, h.l)
		s.settleDrain(h.l)
	})
}

func (h *laneHandler) OnConnectionStateChange(status att.Status, connected bool) {
	h.run(func(s *Session, l *lane) {
		if !status.OK() {
			err := fmt.Errorf("link status %s: %w", status, status.Err())
			logger.Error(l.prefix, "❌ connection state change failed: %v", err)
			s.teardown(l, err)
			return
		}
		if !connected {
			s.teardown(l, nil)
			return
		}
		if l.connected {
			return
		}
		l.connected = true

		if l.link.BondState() == BondBonding {
			logger.Info(l.prefix, "🔐 connected while bonding, discovery deferred")
			return
		}
		s.becomeConnected(l)
	})
}

func (h *laneHandler) OnServicesDiscovered(status att.Status, services *gatt.Table) {
	h.run(func(s *Session, l *lane) {
		if rec, ok := l.queue.InFlight(); !ok || rec.Command.Kind != DiscoverServices {
			logger.Warn(l.prefix, "⚠️  unexpected discovery completion (%s), ignored", status)
			return
		}
		if status == att.StatusInternalError {
			// The stack is wedged; a fresh connection is the only recovery
			logger.Error(l.prefix, "❌ discovery failed with %s, disconnecting", status)
			if !l.disconnecting {
				l.disconnecting = true
				if err := l.link.Disconnect(); err != nil {
					s.teardown(l, err)
				}
			}
			return
		}
		if !status.OK() {
			rec, outcome := s.settle(l, DiscoverServices, status)
			s.report(l, rec, outcome, nil, false)
			return
		}

		if services == nil {
			services = &gatt.Table{}
		}
		l.services = services.Clone()
		logger.Info(l.prefix, "🔍 %d service(s) discovered", len(l.services.Services))
		logger.DebugJSON(l.prefix, "services", l.services)
		if s.state < StateServicesDiscovered {
			s.setState(StateServicesDiscovered)
		}
		peer, view := l.peer, l.services.Clone()
		s.emit(func(cb Callback) { cb.OnServicesDiscovered(peer, view) })

		l.queue.OnOperationCompleted(true)
		l.registry.start()
	})
}

func (h *laneHandler) OnCharacteristicRead(addr gatt.Address, value []byte, status att.Status) {
	value = append([]byte(nil), value...)
	h.run(func(s *Session, l *lane) {
		rec, outcome := s.settle(l, ReadCharacteristic, status)
		s.report(l, rec, outcome, value, status.OK())
	})
}

func (h *laneHandler) OnCharacteristicWrite(addr gatt.Address, status att.Status) {
	h.run(func(s *Session, l *lane) {
		rec, outcome := s.settle(l, WriteCharacteristic, status)
		s.report(l, rec, outcome, nil, status.OK())
	})
}

func (h *laneHandler) OnDescriptorRead(addr gatt.Address, value []byte, status att.Status) {
	value = append([]byte(nil), value...)
	h.run(func(s *Session, l *lane) {
		if status.OK() && addr.Descriptor == gatt.CCCDUUID {
			logger.Debug(l.prefix, "CCCD %s = %s", addr, gatt.ClassifyCCCD(value))
		}
		rec, outcome := s.settle(l, ReadDescriptor, status)
		s.report(l, rec, outcome, value, status.OK())
	})
}

func (h *laneHandler) OnDescriptorWrite(addr gatt.Address, status att.Status) {
	h.run(func(s *Session, l *lane) {
		rec, outcome := s.settle(l, WriteDescriptor, status)
		s.report(l, rec, outcome, nil, status.OK())
	})
}

func (h *laneHandler) OnCharacteristicChanged(addr gatt.Address, value []byte) {
	value = append([]byte(nil), value...)
	h.run(func(s *Session, l *lane) {
		logger.Trace(l.prefix, "📨 %s changed [% X]", addr, value)
		s.emit(func(cb Callback) { cb.OnCharacteristicIndication(addr, value) })
	})
}

var _ LinkHandler = (*laneHandler)(nil)
