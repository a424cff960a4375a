package central

import (
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

var (
	svcUUID      = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	readUUID     = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	writeUUID    = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	indicateUUID = uuid.MustParse("6e400004-b5a3-f393-e0a9-e50e24dcca9e")
	notifyUUID   = uuid.MustParse("6e400005-b5a3-f393-e0a9-e50e24dcca9e")
	commandUUID  = uuid.MustParse("6e400006-b5a3-f393-e0a9-e50e24dcca9e")

	addrRead     = gatt.NewAddress(svcUUID, readUUID)
	addrWrite    = gatt.NewAddress(svcUUID, writeUUID)
	addrIndicate = gatt.NewAddress(svcUUID, indicateUUID)
	addrNotify   = gatt.NewAddress(svcUUID, notifyUUID)
	addrCommand  = gatt.NewAddress(svcUUID, commandUUID)
)

const testPeer = "a1b2c3d4-0000-0000-0000-000000000001"

func testTable(t *testing.T) *gatt.Table {
	t.Helper()
	table, err := gatt.NewTableBuilder().
		Service(svcUUID).
		Characteristic(readUUID, gatt.PropRead).
		Characteristic(writeUUID, gatt.PropWrite).
		Characteristic(indicateUUID, gatt.PropIndicate).
		Characteristic(notifyUUID, gatt.PropNotify).
		Characteristic(commandUUID, gatt.PropWriteWithoutResponse).
		Build()
	require.NoError(t, err)
	return table
}

// linkCall is one primitive invocation seen by fakeLink.
type linkCall struct {
	Command Command
	Err     error
}

// fakeLink accepts every primitive unless a rejection is queued. Completions
// are delivered by the test through the captured handler.
type fakeLink struct {
	mu         sync.Mutex
	peer       string
	bond       BondState
	calls      []linkCall
	rejections []error
	notify     map[gatt.Address]bool
	notifyErr  error

	disconnects int
	closed      bool
}

func (f *fakeLink) call(cmd Command) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	if len(f.rejections) > 0 {
		err = f.rejections[0]
		f.rejections = f.rejections[1:]
	}
	f.calls = append(f.calls, linkCall{Command: cmd, Err: err})
	return err
}

func (f *fakeLink) reject(errs ...error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejections = append(f.rejections, errs...)
}

// accepted returns the commands the link accepted, in order.
func (f *fakeLink) accepted() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Command
	for _, c := range f.calls {
		if c.Err == nil {
			out = append(out, c.Command)
		}
	}
	return out
}

func (f *fakeLink) last() Command {
	acc := f.accepted()
	if len(acc) == 0 {
		return Command{Kind: -1}
	}
	return acc[len(acc)-1]
}

func (f *fakeLink) setBond(b BondState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.bond = b
}

func (f *fakeLink) Peer() string { return f.peer }

func (f *fakeLink) BondState() BondState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.bond
}

func (f *fakeLink) DiscoverServices() error { return f.call(DiscoverServicesCommand()) }

func (f *fakeLink) ReadCharacteristic(addr gatt.Address) error { return f.call(ReadCommand(addr)) }

func (f *fakeLink) WriteCharacteristic(addr gatt.Address, value []byte, mode WriteMode) error {
	return f.call(WriteCommand(addr, value, mode))
}

func (f *fakeLink) ReadDescriptor(addr gatt.Address) error { return f.call(ReadDescriptorCommand(addr)) }

func (f *fakeLink) WriteDescriptor(addr gatt.Address, value []byte) error {
	return f.call(WriteDescriptorCommand(addr, value))
}

func (f *fakeLink) SetNotify(addr gatt.Address, enable bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.notifyErr != nil {
		return f.notifyErr
	}
	if f.notify == nil {
		f.notify = make(map[gatt.Address]bool)
	}
	f.notify[addr] = enable
	return nil
}

func (f *fakeLink) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return att.ErrClosed
	}
	f.disconnects++
	return nil
}

func (f *fakeLink) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}

func (f *fakeLink) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

// fakeDialer hands out fresh fakeLinks and keeps their handlers.
type fakeDialer struct {
	mu       sync.Mutex
	err      error
	bond     BondState
	links    []*fakeLink
	handlers []LinkHandler
}

func (d *fakeDialer) Dial(peer string, h LinkHandler) (Link, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	l := &fakeLink{peer: peer, bond: d.bond}
	d.links = append(d.links, l)
	d.handlers = append(d.handlers, h)
	return l, nil
}

func (d *fakeDialer) link() *fakeLink {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.links[len(d.links)-1]
}

func (d *fakeDialer) handler() LinkHandler {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.handlers[len(d.handlers)-1]
}

// fakeBonds is a BondSource driven by the test.
type fakeBonds struct {
	mu       sync.Mutex
	watchers map[int]func(BondEvent)
	next     int
}

func (b *fakeBonds) WatchBonds(fn func(BondEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.watchers == nil {
		b.watchers = make(map[int]func(BondEvent))
	}
	id := b.next
	b.next++
	b.watchers[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.watchers, id)
	}
}

func (b *fakeBonds) emit(ev BondEvent) {
	b.mu.Lock()
	fns := make([]func(BondEvent), 0, len(b.watchers))
	for _, fn := range b.watchers {
		fns = append(fns, fn)
	}
	b.mu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

func (b *fakeBonds) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.watchers)
}

// stubCallback records session events.
type stubCallback struct{ mock.Mock }

func (c *stubCallback) OnConnecting(peer string)               { c.Called(peer) }
func (c *stubCallback) OnConnectFailed(peer string, err error) { c.Called(peer, err) }
func (c *stubCallback) OnConnected(peer string)                { c.Called(peer) }
func (c *stubCallback) OnDisconnected(peer string)             { c.Called(peer) }
func (c *stubCallback) OnServicesDiscovered(peer string, services *gatt.Table) {
	c.Called(peer, services)
}
func (c *stubCallback) OnCharacteristicRead(addr gatt.Address, value []byte, ok bool) {
	c.Called(addr, value, ok)
}
func (c *stubCallback) OnCharacteristicWrite(addr gatt.Address, ok bool) { c.Called(addr, ok) }
func (c *stubCallback) OnCharacteristicIndication(addr gatt.Address, value []byte) {
	c.Called(addr, value)
}
func (c *stubCallback) OnDescriptorRead(addr gatt.Address, value []byte, ok bool) {
	c.Called(addr, value, ok)
}
func (c *stubCallback) OnDescriptorWrite(addr gatt.Address, ok bool) { c.Called(addr, ok) }
func (c *stubCallback) OnBondLost(peer string)                       { c.Called(peer) }
func (c *stubCallback) OnStateChanged(old, new State)                { c.Called(old, new) }

// newStubCallback accepts every event; tests assert on recorded calls.
// Expectations with side effects must be registered before calling it.
func newStubCallback() *stubCallback {
	c := &stubCallback{}
	allowAll(c)
	return c
}

func allowAll(c *stubCallback) {
	c.On("OnConnecting", mock.Anything).Maybe()
	c.On("OnConnectFailed", mock.Anything, mock.Anything).Maybe()
	c.On("OnConnected", mock.Anything).Maybe()
	c.On("OnDisconnected", mock.Anything).Maybe()
	c.On("OnServicesDiscovered", mock.Anything, mock.Anything).Maybe()
	c.On("OnCharacteristicRead", mock.Anything, mock.Anything, mock.Anything).Maybe()
	c.On("OnCharacteristicWrite", mock.Anything, mock.Anything).Maybe()
	c.On("OnCharacteristicIndication", mock.Anything, mock.Anything).Maybe()
	c.On("OnDescriptorRead", mock.Anything, mock.Anything, mock.Anything).Maybe()
	c.On("OnDescriptorWrite", mock.Anything, mock.Anything).Maybe()
	c.On("OnBondLost", mock.Anything).Maybe()
	c.On("OnStateChanged", mock.Anything, mock.Anything).Maybe()
}

var _ Callback = (*stubCallback)(nil)
