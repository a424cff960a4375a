package gatt

import (
	"fmt"

	"github.com/google/uuid"
)

// bluetoothBaseUUID is the SIG base UUID that 16-bit identifiers expand onto:
// 0000xxxx-0000-1000-8000-00805f9b34fb
var bluetoothBaseUUID = uuid.MustParse("00000000-0000-1000-8000-00805f9b34fb")

// UUID16 expands a 16-bit SIG-assigned identifier (e.g. 0x2902) to its full
// 128-bit form.
func UUID16(short uint16) uuid.UUID {
	u := bluetoothBaseUUID
	u[2] = byte(short >> 8)
	u[3] = byte(short)
	return u
}

// Well-known descriptor identifiers
var (
	CCCDUUID            = UUID16(0x2902) // Client Characteristic Configuration
	UserDescriptionUUID = UUID16(0x2901)
)

// Address identifies a service/characteristic/descriptor triple.
// Descriptor is uuid.Nil when the address names a characteristic value.
// Address is comparable and safe to use as a map key.
type Address struct {
	Service        uuid.UUID
	Characteristic uuid.UUID
	Descriptor     uuid.UUID
}

// NewAddress returns the address of a characteristic value.
func NewAddress(service, characteristic uuid.UUID) Address {
	return Address{Service: service, Characteristic: characteristic}
}

// DescriptorAddress returns the address of a descriptor on a characteristic.
func DescriptorAddress(service, characteristic, descriptor uuid.UUID) Address {
	return Address{Service: service, Characteristic: characteristic, Descriptor: descriptor}
}

// WithDescriptor returns a copy of a addressing the given descriptor.
func (a Address) WithDescriptor(descriptor uuid.UUID) Address {
	a.Descriptor = descriptor
	return a
}

// CharacteristicAddress strips the descriptor part.
func (a Address) CharacteristicAddress() Address {
	a.Descriptor = uuid.Nil
	return a
}

// IsDescriptor reports whether the address names a descriptor.
func (a Address) IsDescriptor() bool {
	return a.Descriptor != uuid.Nil
}

func (a Address) String() string {
	if a.IsDescriptor() {
		return fmt.Sprintf("%s/%s/%s", short(a.Service), short(a.Characteristic), short(a.Descriptor))
	}
	return fmt.Sprintf("%s/%s", short(a.Service), short(a.Characteristic))
}

// short renders SIG UUIDs as 0xNNNN and everything else by its first 8 hex digits.
func short(u uuid.UUID) string {
	base := u
	base[2], base[3] = 0, 0
	if base == bluetoothBaseUUID {
		return fmt.Sprintf("0x%02X%02X", u[2], u[3])
	}
	return u.String()[:8]
}
