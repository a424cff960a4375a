package gatt

import (
	"fmt"

	"github.com/google/uuid"
)

// TableBuilder assembles an attribute table from high-level service
// definitions. A CCCD is attached to every characteristic that has the
// notify or indicate property and does not already carry one.
type TableBuilder struct {
	services []Service
	err      error
}

// NewTableBuilder creates an empty builder.
func NewTableBuilder() *TableBuilder {
	return &TableBuilder{}
}

// Service starts a new primary service. Subsequent Characteristic calls add
// to it.
func (b *TableBuilder) Service(id uuid.UUID) *TableBuilder {
	for _, s := range b.services {
		if s.UUID == id && b.err == nil {
			b.err = fmt.Errorf("duplicate service %s", id)
		}
	}
	b.services = append(b.services, Service{UUID: id})
	return b
}

// Characteristic adds a characteristic to the current service.
func (b *TableBuilder) Characteristic(id uuid.UUID, props Property, descriptors ...uuid.UUID) *TableBuilder {
	if len(b.services) == 0 {
		if b.err == nil {
			b.err = fmt.Errorf("characteristic %s added before any service", id)
		}
		return b
	}
	svc := &b.services[len(b.services)-1]
	if _, dup := svc.Characteristic(id); dup && b.err == nil {
		b.err = fmt.Errorf("duplicate characteristic %s in service %s", id, svc.UUID)
	}

	char := Characteristic{UUID: id, Properties: props}
	for _, d := range descriptors {
		char.Descriptors = append(char.Descriptors, Descriptor{UUID: d})
	}

	// Add CCCD if characteristic has notify or indicate properties
	if props&(PropNotify|PropIndicate) != 0 {
		if _, ok := char.Descriptor(CCCDUUID); !ok {
			char.Descriptors = append(char.Descriptors, Descriptor{UUID: CCCDUUID})
		}
	}

	svc.Characteristics = append(svc.Characteristics, char)
	return b
}

// Build returns the assembled table or the first definition error.
func (b *TableBuilder) Build() (*Table, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.services) == 0 {
		return nil, fmt.Errorf("attribute table has no services")
	}
	t := &Table{Services: b.services}
	return t.Clone(), nil
}
