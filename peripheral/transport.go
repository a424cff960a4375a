package peripheral

import (
	"fmt"

	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

// Request is one inbound ATT request from a connected central.
type Request struct {
	ID             int // correlates the response
	Peer           string
	Address        gatt.Address
	Value          []byte // writes only
	ResponseNeeded bool   // writes only; reads always need a response
}

func (r Request) String() string {
	return fmt.Sprintf("#%d %s %s", r.ID, r.Peer, r.Address)
}

// RequestHandler receives inbound traffic from a Transport. Every method must
// return only after the request has been answered.
type RequestHandler interface {
	OnConnectionStateChange(peer string, connected bool)
	OnReadRequest(req Request)
	OnWriteRequest(req Request)
	OnDescriptorReadRequest(req Request)
	OnDescriptorWriteRequest(req Request)
}

// Transport is the platform GATT server handle.
type Transport interface {
	// Open publishes table and starts delivering requests to h.
	Open(table *gatt.Table, h RequestHandler) error
	Close() error
	SendResponse(peer string, requestID int, status att.Status, value []byte) error
	// Notify pushes a value change to peer; confirm selects an indication.
	Notify(peer string, addr gatt.Address, value []byte, confirm bool) error
}

// Lifecycle is the per-peer state reported to the application.
type Lifecycle int

const (
	LifecycleDisconnected Lifecycle = iota
	LifecycleConnected
	LifecycleConnectedAndSubscribed
	LifecycleConnectedAndUnsubscribed
)

func (l Lifecycle) String() string {
	switch l {
	case LifecycleDisconnected:
		return "disconnected"
	case LifecycleConnected:
		return "connected"
	case LifecycleConnectedAndSubscribed:
		return "connected-subscribed"
	case LifecycleConnectedAndUnsubscribed:
		return "connected-unsubscribed"
	default:
		return fmt.Sprintf("Lifecycle(%d)", int(l))
	}
}

// Callback receives peripheral events. Methods may run concurrently for
// different peers.
type Callback interface {
	OnLifecycle(peer string, state Lifecycle)
	OnWrite(peer string, addr gatt.Address, value []byte)
}

// NopCallback ignores every event.
type NopCallback struct{}

func (NopCallback) OnLifecycle(string, Lifecycle)        {}
func (NopCallback) OnWrite(string, gatt.Address, []byte) {}

// ValueFunc supplies the current value of a readable characteristic.
type ValueFunc func(peer string, addr gatt.Address) ([]byte, error)

// StaticValue serves the same bytes for every read.
func StaticValue(value []byte) ValueFunc {
	v := append([]byte(nil), value...)
	return func(string, gatt.Address) ([]byte, error) {
		return append([]byte(nil), v...), nil
	}
}
