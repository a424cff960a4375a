package gatt

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/user/bluelane/wire/att"
)

// Property is the characteristic property bitmask (Core Spec Vol 3, Part G, 3.3.1.1).
type Property uint8

// Characteristic Properties (bitmask)
const (
	PropBroadcast                 Property = 0x01
	PropRead                      Property = 0x02
	PropWriteWithoutResponse      Property = 0x04
	PropWrite                     Property = 0x08
	PropNotify                    Property = 0x10
	PropIndicate                  Property = 0x20
	PropAuthenticatedSignedWrites Property = 0x40
	PropExtendedProperties        Property = 0x80
)

var propertyNames = []struct {
	prop Property
	name string
}{
	{PropBroadcast, "broadcast"},
	{PropRead, "read"},
	{PropWriteWithoutResponse, "write_without_response"},
	{PropWrite, "write"},
	{PropNotify, "notify"},
	{PropIndicate, "indicate"},
	{PropAuthenticatedSignedWrites, "signed_write"},
	{PropExtendedProperties, "extended"},
}

// ParseProperties converts property names ("read", "write", "notify", ...)
// into a bitmask.
func ParseProperties(names []string) (Property, error) {
	var p Property
	for _, n := range names {
		found := false
		for _, pn := range propertyNames {
			if strings.EqualFold(n, pn.name) {
				p |= pn.prop
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown characteristic property %q", n)
		}
	}
	return p, nil
}

// Strings returns the property names set in p.
func (p Property) Strings() []string {
	var out []string
	for _, pn := range propertyNames {
		if p&pn.prop != 0 {
			out = append(out, pn.name)
		}
	}
	return out
}

func (p Property) String() string {
	return strings.Join(p.Strings(), "|")
}

// Descriptor is a descriptor attached to a characteristic.
type Descriptor struct {
	UUID uuid.UUID
}

// Characteristic is a characteristic definition inside a service.
type Characteristic struct {
	UUID        uuid.UUID
	Properties  Property
	Descriptors []Descriptor
}

func (c *Characteristic) has(p Property) bool { return c.Properties&p != 0 }

func (c *Characteristic) Readable() bool                { return c.has(PropRead) }
func (c *Characteristic) Writable() bool                { return c.has(PropWrite) }
func (c *Characteristic) WritableWithoutResponse() bool { return c.has(PropWriteWithoutResponse) }
func (c *Characteristic) Notifiable() bool              { return c.has(PropNotify) }
func (c *Characteristic) Indicatable() bool             { return c.has(PropIndicate) }

// Descriptor returns the descriptor with the given UUID, if present.
func (c *Characteristic) Descriptor(id uuid.UUID) (*Descriptor, bool) {
	for i := range c.Descriptors {
		if c.Descriptors[i].UUID == id {
			return &c.Descriptors[i], true
		}
	}
	return nil, false
}

// Service is a primary service and its characteristics.
type Service struct {
	UUID            uuid.UUID
	Characteristics []Characteristic
}

// Characteristic returns the characteristic with the given UUID, if present.
func (s *Service) Characteristic(id uuid.UUID) (*Characteristic, bool) {
	for i := range s.Characteristics {
		if s.Characteristics[i].UUID == id {
			return &s.Characteristics[i], true
		}
	}
	return nil, false
}

// Table is an attribute table: the services a peripheral exposes, or the
// services a central discovered.
type Table struct {
	Services []Service
}

// Service returns the service with the given UUID, if present.
func (t *Table) Service(id uuid.UUID) (*Service, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.Services {
		if t.Services[i].UUID == id {
			return &t.Services[i], true
		}
	}
	return nil, false
}

// Resolve looks up the characteristic addressed by a. When a names a
// descriptor, the descriptor must exist on the characteristic too.
// Failures wrap att.ErrAttributeNotFound.
func (t *Table) Resolve(a Address) (*Characteristic, error) {
	svc, ok := t.Service(a.Service)
	if !ok {
		return nil, fmt.Errorf("service %s: %w", short(a.Service), att.ErrAttributeNotFound)
	}
	char, ok := svc.Characteristic(a.Characteristic)
	if !ok {
		return nil, fmt.Errorf("characteristic %s: %w", a, att.ErrAttributeNotFound)
	}
	if a.IsDescriptor() {
		if _, ok := char.Descriptor(a.Descriptor); !ok {
			return nil, fmt.Errorf("descriptor %s: %w", a, att.ErrAttributeNotFound)
		}
	}
	return char, nil
}

// FindCharacteristic searches every service for a characteristic UUID and
// returns its full address.
func (t *Table) FindCharacteristic(id uuid.UUID) (Address, *Characteristic, bool) {
	if t == nil {
		return Address{}, nil, false
	}
	for i := range t.Services {
		if c, ok := t.Services[i].Characteristic(id); ok {
			return NewAddress(t.Services[i].UUID, id), c, true
		}
	}
	return Address{}, nil, false
}

// Subscribable returns the address of every characteristic that supports
// notifications or indications, in table order.
func (t *Table) Subscribable() []Address {
	if t == nil {
		return nil
	}
	var out []Address
	for _, svc := range t.Services {
		for _, c := range svc.Characteristics {
			if c.Notifiable() || c.Indicatable() {
				out = append(out, NewAddress(svc.UUID, c.UUID))
			}
		}
	}
	return out
}

// Clone returns a deep copy of the table.
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	out := &Table{Services: make([]Service, len(t.Services))}
	for i, svc := range t.Services {
		chars := make([]Characteristic, len(svc.Characteristics))
		for j, c := range svc.Characteristics {
			c.Descriptors = append([]Descriptor(nil), c.Descriptors...)
			chars[j] = c
		}
		out.Services[i] = Service{UUID: svc.UUID, Characteristics: chars}
	}
	return out
}
