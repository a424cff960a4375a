package central

import (
	"fmt"

	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

// BondState is the pairing state the platform reports for a peer.
type BondState int

const (
	BondNone BondState = iota
	BondBonding
	BondBonded
)

func (b BondState) String() string {
	switch b {
	case BondNone:
		return "none"
	case BondBonding:
		return "bonding"
	case BondBonded:
		return "bonded"
	default:
		return fmt.Sprintf("BondState(%d)", int(b))
	}
}

// BondEvent is a bond state transition for one peer.
type BondEvent struct {
	Peer     string
	Previous BondState
	State    BondState
}

// BondSource delivers bond state transitions for every peer the adapter knows.
// The returned function stops delivery. Implementations must not hold their
// own locks while invoking fn.
type BondSource interface {
	WatchBonds(fn func(BondEvent)) (stop func())
}

// Dialer opens a link to a peer.
type Dialer interface {
	// Dial starts connecting. The outcome arrives through
	// h.OnConnectionStateChange, never from inside Dial.
	Dial(peer string, h LinkHandler) (Link, error)
}

// Link is the platform handle for one connection.
//
// Every primitive either rejects synchronously with an error or accepts the
// call and later delivers exactly one completion to the LinkHandler.
// Completions must be delivered asynchronously, in order, from a goroutine
// other than the caller's: the session invokes primitives while holding its
// lock.
type Link interface {
	Peer() string
	BondState() BondState

	DiscoverServices() error
	ReadCharacteristic(addr gatt.Address) error
	WriteCharacteristic(addr gatt.Address, value []byte, mode WriteMode) error
	ReadDescriptor(addr gatt.Address) error
	WriteDescriptor(addr gatt.Address, value []byte) error

	// SetNotify toggles local delivery of value changes for a characteristic.
	// It completes synchronously.
	SetNotify(addr gatt.Address, enable bool) error

	// Disconnect requests link teardown. The link reports the result through
	// OnConnectionStateChange.
	Disconnect() error

	// Close releases the handle. No callbacks follow.
	Close() error
}

// LinkHandler receives link completions and unsolicited events.
type LinkHandler interface {
	OnConnectionStateChange(status att.Status, connected bool)
	OnServicesDiscovered(status att.Status, services *gatt.Table)
	OnCharacteristicRead(addr gatt.Address, value []byte, status att.Status)
	OnCharacteristicWrite(addr gatt.Address, status att.Status)
	OnDescriptorRead(addr gatt.Address, value []byte, status att.Status)
	OnDescriptorWrite(addr gatt.Address, status att.Status)
	OnCharacteristicChanged(addr gatt.Address, value []byte)
}
