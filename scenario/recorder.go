package scenario

import (
	"fmt"
	"sync"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/peripheral"
	"github.com/user/bluelane/wire/gatt"
)

// Recorder implements central.Callback, keeping what assertions need and
// describing every event to a sink.
type Recorder struct {
	device string
	sink   EventSink

	mu            sync.Mutex
	reads         map[gatt.Address][]byte
	indications   map[gatt.Address]int
	writes        int
	failedOps     int
	bondLost      int
	connectFailed int
}

// NewRecorder creates a recorder for one central.
func NewRecorder(device string, sink EventSink) *Recorder {
	if sink == nil {
		sink = func(string, string, string) {}
	}
	return &Recorder{
		device:      device,
		sink:        sink,
		reads:       make(map[gatt.Address][]byte),
		indications: make(map[gatt.Address]int),
	}
}

func (r *Recorder) emit(eventType, format string, args ...interface{}) {
	r.sink(r.device, eventType, fmt.Sprintf(format, args...))
}

func (r *Recorder) OnConnecting(peer string) {
	r.emit("connecting", "to %s", peer)
}

func (r *Recorder) OnConnectFailed(peer string, err error) {
	r.mu.Lock()
	r.connectFailed++
	r.mu.Unlock()
	r.emit("connect_failed", "%s: %v", peer, err)
}

func (r *Recorder) OnConnected(peer string) {
	r.emit("connected", "to %s", peer)
}

func (r *Recorder) OnDisconnected(peer string) {
	r.emit("disconnected", "from %s", peer)
}

func (r *Recorder) OnServicesDiscovered(peer string, services *gatt.Table) {
	r.emit("services_discovered", "%d service(s) on %s", len(services.Services), peer)
}

func (r *Recorder) OnCharacteristicRead(addr gatt.Address, value []byte, ok bool) {
	if !ok {
		r.failed()
		r.emit("read_failed", "%s", addr)
		return
	}
	r.mu.Lock()
	r.reads[addr] = append([]byte(nil), value...)
	r.mu.Unlock()
	r.emit("read", "%s = %q", addr, value)
}

func (r *Recorder) OnCharacteristicWrite(addr gatt.Address, ok bool) {
	if !ok {
		r.failed()
		r.emit("write_failed", "%s", addr)
		return
	}
	r.mu.Lock()
	r.writes++
	r.mu.Unlock()
	r.emit("write", "%s acknowledged", addr)
}

func (r *Recorder) OnCharacteristicIndication(addr gatt.Address, value []byte) {
	r.mu.Lock()
	r.indications[addr]++
	r.mu.Unlock()
	r.emit("indication", "%s [% X]", addr, value)
}

func (r *Recorder) OnDescriptorRead(addr gatt.Address, value []byte, ok bool) {
	if !ok {
		r.failed()
	}
	r.emit("descriptor_read", "%s [% X] ok=%v", addr, value, ok)
}

func (r *Recorder) OnDescriptorWrite(addr gatt.Address, ok bool) {
	if !ok {
		r.failed()
	}
	r.emit("descriptor_write", "%s ok=%v", addr, ok)
}

func (r *Recorder) OnBondLost(peer string) {
	r.mu.Lock()
	r.bondLost++
	r.mu.Unlock()
	r.emit("bond_lost", "with %s", peer)
}

func (r *Recorder) OnStateChanged(old, new central.State) {
	r.emit("state", "%s -> %s", old, new)
}

func (r *Recorder) failed() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failedOps++
}

// LastRead returns the last value read from addr.
func (r *Recorder) LastRead(addr gatt.Address) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.reads[addr]
	return v, ok
}

// Indications returns how many value changes arrived for addr.
func (r *Recorder) Indications(addr gatt.Address) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.indications[addr]
}

// BondLost returns how many times the bond was reported lost.
func (r *Recorder) BondLost() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.bondLost
}

// Failures returns how many operations completed unsuccessfully.
func (r *Recorder) Failures() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.failedOps
}

var _ central.Callback = (*Recorder)(nil)

// PeripheralRecorder implements peripheral.Callback.
type PeripheralRecorder struct {
	device string
	sink   EventSink

	mu     sync.Mutex
	writes int
}

func (p *PeripheralRecorder) OnLifecycle(peer string, state peripheral.Lifecycle) {
	p.sink(p.device, "lifecycle", fmt.Sprintf("%s %s", peer, state))
}

func (p *PeripheralRecorder) OnWrite(peer string, addr gatt.Address, value []byte) {
	p.mu.Lock()
	p.writes++
	p.mu.Unlock()
	p.sink(p.device, "write_received", fmt.Sprintf("%s wrote %q to %s", peer, value, addr))
}

// Writes returns how many writes the application received.
func (p *PeripheralRecorder) Writes() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.writes
}

var _ peripheral.Callback = (*PeripheralRecorder)(nil)
