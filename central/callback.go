package central

import (
	"github.com/user/bluelane/wire/gatt"
)

// Callback receives session events. Methods are called without the session
// lock held, so they may call back into the Session.
type Callback interface {
	OnConnecting(peer string)
	OnConnectFailed(peer string, err error)
	OnConnected(peer string)
	OnDisconnected(peer string)
	OnServicesDiscovered(peer string, services *gatt.Table)
	OnCharacteristicRead(addr gatt.Address, value []byte, ok bool)
	OnCharacteristicWrite(addr gatt.Address, ok bool)
	OnCharacteristicIndication(addr gatt.Address, value []byte)
	OnDescriptorRead(addr gatt.Address, value []byte, ok bool)
	OnDescriptorWrite(addr gatt.Address, ok bool)
	OnBondLost(peer string)
	OnStateChanged(old, new State)
}

// NopCallback ignores every event. Embed it to implement only some methods.
type NopCallback struct{}

func (NopCallback) OnConnecting(string)                             {}
func (NopCallback) OnConnectFailed(string, error)                   {}
func (NopCallback) OnConnected(string)                              {}
func (NopCallback) OnDisconnected(string)                           {}
func (NopCallback) OnServicesDiscovered(string, *gatt.Table)        {}
func (NopCallback) OnCharacteristicRead(gatt.Address, []byte, bool) {}
func (NopCallback) OnCharacteristicWrite(gatt.Address, bool)        {}
func (NopCallback) OnCharacteristicIndication(gatt.Address, []byte) {}
func (NopCallback) OnDescriptorRead(gatt.Address, []byte, bool)     {}
func (NopCallback) OnDescriptorWrite(gatt.Address, bool)            {}
func (NopCallback) OnBondLost(string)                               {}
func (NopCallback) OnStateChanged(State, State)                     {}

var _ Callback = NopCallback{}
