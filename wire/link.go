package wire

import (
	"fmt"
	"sync"
	"time"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

// ConnectionState represents BLE connection states
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// link is the central side of one simulated connection. Primitives only
// validate and enqueue; results reach the handler from the delivery loop.
type link struct {
	radio   *Radio
	server  *Server
	central string
	handler central.LinkHandler
	prefix  string

	mu     sync.Mutex
	state  ConnectionState
	busy   bool
	closed bool
	notify map[gatt.Address]bool

	events *deliveryQueue
}

func newLink(r *Radio, srv *Server, centralID string, h central.LinkHandler) *link {
	return &link{
		radio:   r,
		server:  srv,
		central: centralID,
		handler: h,
		prefix:  shortHash(centralID) + " Radio",
		notify:  make(map[gatt.Address]bool),
		events:  newDeliveryQueue(),
	}
}

// connect schedules connection establishment.
func (l *link) connect() {
	l.mu.Lock()
	l.state = StateConnecting
	l.mu.Unlock()

	sim := l.radio.sim
	l.events.push(func() {
		if !l.events.sleep(sim.ConnectionDelay()) {
			return
		}
		if !sim.ShouldConnectionSucceed() || !l.server.attach(l) {
			l.setState(StateDisconnected)
			logger.Warn(l.prefix, "❌ connection to %s failed", shortHash(l.server.id))
			l.handler.OnConnectionStateChange(att.StatusFailure, false)
			return
		}
		l.setState(StateConnected)
		logger.Debug(l.prefix, "🔗 connected to %s", shortHash(l.server.id))

		bonding := sim.Config().BondOnConnect && l.radio.BondState(l.server.id) == central.BondNone
		if bonding {
			l.radio.SetBondState(l.server.id, central.BondBonding)
		}
		l.handler.OnConnectionStateChange(att.StatusSuccess, true)
		if bonding {
			l.events.push(func() {
				if l.events.sleep(sim.BondingDelay()) && l.State() == StateConnected {
					l.radio.SetBondState(l.server.id, central.BondBonded)
				}
			})
		}
	})
}

func (l *link) setState(s ConnectionState) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.state = s
}

// State returns the connection state.
func (l *link) State() ConnectionState {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state
}

func (l *link) Peer() string { return l.server.id }

func (l *link) BondState() central.BondState {
	return l.radio.BondState(l.server.id)
}

// begin claims the link for one operation.
func (l *link) begin() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	switch {
	case l.closed:
		return att.ErrClosed
	case l.state != StateConnected:
		return att.ErrNotConnected
	case l.busy:
		return att.ErrLinkBusy
	}
	if l.radio.sim.ShouldRejectBusy() {
		return att.ErrLinkBusy
	}
	l.busy = true
	return nil
}

// operate runs one GATT operation: exchange talks to the server, deliver
// reports the result. The link is released before deliver runs so the
// handler can issue the next operation.
func (l *link) operate(exchange func() (att.Status, []byte), deliver func(att.Status, []byte)) error {
	if err := l.begin(); err != nil {
		return err
	}
	sim := l.radio.sim
	l.events.push(func() {
		if !l.events.sleep(sim.OperationDelay()) {
			return
		}
		var (
			status att.Status
			value  []byte
		)
		if sim.ShouldFailAsync() {
			status = att.StatusFailure
		} else {
			status, value = exchange()
		}

		l.mu.Lock()
		l.busy = false
		live := l.state == StateConnected && !l.closed
		l.mu.Unlock()
		if live {
			deliver(status, value)
		}
	})
	return nil
}

func (l *link) DiscoverServices() error {
	return l.operate(
		func() (att.Status, []byte) { return att.StatusSuccess, nil },
		func(status att.Status, _ []byte) {
			var table *gatt.Table
			if status.OK() {
				table = l.server.Table()
			}
			l.handler.OnServicesDiscovered(status, table)
		})
}

// request encodes pkt, carries it to the server and decodes the answer.
// Commands are answered with success once the server has taken them.
func (l *link) request(pkt interface{}) (att.Status, []byte) {
	out, err := att.EncodePacket(pkt)
	if err != nil {
		logger.Error(l.prefix, "❌ encode %T: %v", pkt, err)
		return att.StatusInternalError, nil
	}
	in := l.server.exchange(l.central, out)
	if in == nil {
		return att.StatusSuccess, nil
	}
	resp, err := att.DecodePacket(in)
	if err != nil {
		logger.Warn(l.prefix, "⚠️  bad response PDU: %v", err)
		return att.StatusFailure, nil
	}
	if r, ok := resp.(*att.ErrorResponse); ok {
		return att.StatusFromErrorCode(r.ErrorCode), nil
	}
	if in[0] != att.ResponseOpcode(out[0]) {
		logger.Warn(l.prefix, "⚠️  %s answered with %s", att.OpcodeNames[out[0]], att.OpcodeNames[in[0]])
		return att.StatusFailure, nil
	}
	if r, ok := resp.(*att.ReadResponse); ok {
		return att.StatusSuccess, r.Value
	}
	return att.StatusSuccess, nil
}

func (l *link) ReadCharacteristic(addr gatt.Address) error {
	return l.operate(
		func() (att.Status, []byte) {
			return l.request(&att.ReadRequest{Handle: l.server.handleFor(addr)})
		},
		func(status att.Status, value []byte) { l.handler.OnCharacteristicRead(addr, value, status) })
}

func (l *link) WriteCharacteristic(addr gatt.Address, value []byte, mode central.WriteMode) error {
	value = append([]byte(nil), value...)
	return l.operate(
		func() (att.Status, []byte) {
			handle := l.server.handleFor(addr)
			if mode == central.WriteWithoutResponse {
				return l.request(&att.WriteCommand{Handle: handle, Value: value})
			}
			return l.request(&att.WriteRequest{Handle: handle, Value: value})
		},
		func(status att.Status, _ []byte) { l.handler.OnCharacteristicWrite(addr, status) })
}

func (l *link) ReadDescriptor(addr gatt.Address) error {
	return l.operate(
		func() (att.Status, []byte) {
			return l.request(&att.ReadRequest{Handle: l.server.handleFor(addr)})
		},
		func(status att.Status, value []byte) { l.handler.OnDescriptorRead(addr, value, status) })
}

func (l *link) WriteDescriptor(addr gatt.Address, value []byte) error {
	value = append([]byte(nil), value...)
	return l.operate(
		func() (att.Status, []byte) {
			return l.request(&att.WriteRequest{Handle: l.server.handleFor(addr), Value: value})
		},
		func(status att.Status, _ []byte) { l.handler.OnDescriptorWrite(addr, status) })
}

// SetNotify enables local delivery of value changes for a characteristic.
func (l *link) SetNotify(addr gatt.Address, enable bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return att.ErrClosed
	}
	if l.state != StateConnected {
		return att.ErrNotConnected
	}
	l.notify[addr.CharacteristicAddress()] = enable
	return nil
}

// changed queues a Handle Value Notification or Indication pushed by the
// server. Changes for characteristics the central has not enabled locally
// are dropped.
func (l *link) changed(pdu []byte) error {
	pkt, err := att.DecodePacket(pdu)
	if err != nil {
		return err
	}
	var (
		handle uint16
		value  []byte
	)
	switch p := pkt.(type) {
	case *att.HandleValueNotification:
		handle, value = p.Handle, p.Value
	case *att.HandleValueIndication:
		handle, value = p.Handle, p.Value
	default:
		return fmt.Errorf("change: unexpected %s", att.OpcodeNames[pdu[0]])
	}
	addr, ok := l.server.addressFor(handle)
	if !ok {
		return fmt.Errorf("change on handle 0x%04X: %w", handle, att.ErrAttributeNotFound)
	}

	l.mu.Lock()
	if l.closed || l.state != StateConnected {
		l.mu.Unlock()
		return att.ErrNotConnected
	}
	enabled := l.notify[addr]
	l.mu.Unlock()

	if !enabled {
		logger.Trace(l.prefix, "change on %s not enabled locally, dropped", addr)
		return nil
	}
	l.events.push(func() {
		if l.State() == StateConnected {
			l.handler.OnCharacteristicChanged(addr, value)
		}
	})
	return nil
}

// Disconnect schedules a local disconnection.
func (l *link) Disconnect() error {
	l.mu.Lock()
	switch {
	case l.closed:
		l.mu.Unlock()
		return att.ErrClosed
	case l.state == StateDisconnected, l.state == StateDisconnecting:
		l.mu.Unlock()
		return att.ErrNotConnected
	}
	l.state = StateDisconnecting
	l.mu.Unlock()

	l.events.push(func() {
		l.drop()
		l.handler.OnConnectionStateChange(att.StatusSuccess, false)
	})
	return nil
}

// lost simulates a link loss reported with a failure status.
func (l *link) lost() {
	l.events.push(func() {
		if l.State() == StateDisconnected {
			return
		}
		l.drop()
		l.handler.OnConnectionStateChange(att.StatusFailure, false)
	})
}

// remoteDisconnect reports a disconnection initiated by the peripheral.
func (l *link) remoteDisconnect() {
	l.events.push(func() {
		if l.State() == StateDisconnected {
			return
		}
		l.drop()
		l.handler.OnConnectionStateChange(att.StatusSuccess, false)
	})
}

func (l *link) drop() {
	l.mu.Lock()
	l.state = StateDisconnected
	l.busy = false
	l.mu.Unlock()
	l.server.detach(l)
}

// Close releases the link at once. Nothing is delivered afterwards.
func (l *link) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	wasUp := l.state == StateConnected || l.state == StateDisconnecting
	l.state = StateDisconnected
	l.mu.Unlock()

	l.events.stop()
	if wasUp {
		go l.server.detach(l)
	}
	return nil
}

var _ central.Link = (*link)(nil)

// deliveryQueue runs pushed functions in order on one goroutine.
type deliveryQueue struct {
	mu    sync.Mutex
	items []func()
	wake  chan struct{}
	quit  chan struct{}
	once  sync.Once
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{
		wake: make(chan struct{}, 1),
		quit: make(chan struct{}),
	}
	go q.loop()
	return q
}

func (q *deliveryQueue) push(fn func()) {
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *deliveryQueue) stop() {
	q.once.Do(func() { close(q.quit) })
}

// sleep waits for d and reports false if the queue stopped meanwhile.
func (q *deliveryQueue) sleep(d time.Duration) bool {
	if d <= 0 {
		select {
		case <-q.quit:
			return false
		default:
			return true
		}
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-q.quit:
		return false
	}
}

func (q *deliveryQueue) loop() {
	for {
		select {
		case <-q.quit:
			return
		case <-q.wake:
		}
		for {
			q.mu.Lock()
			if len(q.items) == 0 {
				q.mu.Unlock()
				break
			}
			fn := q.items[0]
			q.items = q.items[1:]
			q.mu.Unlock()

			select {
			case <-q.quit:
				return
			default:
			}
			fn()
		}
	}
}
