package wire

import "github.com/user/bluelane/wire/gatt"

// handleMap assigns ATT handles to a served table in declaration order,
// starting at 0x0001: each service declaration, then per characteristic its
// declaration, its value and its descriptors. Only value and descriptor
// handles are addressable.
type handleMap struct {
	byAddr   map[gatt.Address]uint16
	byHandle map[uint16]gatt.Address
}

func newHandleMap(t *gatt.Table) *handleMap {
	m := &handleMap{
		byAddr:   make(map[gatt.Address]uint16),
		byHandle: make(map[uint16]gatt.Address),
	}
	if t == nil {
		return m
	}
	next := uint16(1)
	add := func(a gatt.Address) {
		m.byAddr[a] = next
		m.byHandle[next] = a
		next++
	}
	for _, svc := range t.Services {
		next++ // service declaration
		for _, ch := range svc.Characteristics {
			next++ // characteristic declaration
			value := gatt.NewAddress(svc.UUID, ch.UUID)
			add(value)
			for _, d := range ch.Descriptors {
				add(value.WithDescriptor(d.UUID))
			}
		}
	}
	return m
}

// handle returns the handle of addr, or 0 when the table has no such
// attribute. 0 is never assigned.
func (m *handleMap) handle(addr gatt.Address) uint16 {
	if m == nil {
		return 0
	}
	return m.byAddr[addr]
}

func (m *handleMap) address(h uint16) (gatt.Address, bool) {
	if m == nil {
		return gatt.Address{}, false
	}
	a, ok := m.byHandle[h]
	return a, ok
}
