package central

import (
	"fmt"

	"github.com/user/bluelane/wire/gatt"
)

// CommandKind selects the link primitive a Command issues.
type CommandKind int

const (
	DiscoverServices CommandKind = iota
	ReadCharacteristic
	WriteCharacteristic
	WriteDescriptor
	ReadDescriptor
)

func (k CommandKind) String() string {
	switch k {
	case DiscoverServices:
		return "discover-services"
	case ReadCharacteristic:
		return "read-characteristic"
	case WriteCharacteristic:
		return "write-characteristic"
	case WriteDescriptor:
		return "write-descriptor"
	case ReadDescriptor:
		return "read-descriptor"
	default:
		return fmt.Sprintf("CommandKind(%d)", int(k))
	}
}

// WriteMode is the ATT write flavour used for a characteristic write.
type WriteMode int

const (
	WriteWithResponse WriteMode = iota
	WriteWithoutResponse
)

func (m WriteMode) String() string {
	if m == WriteWithoutResponse {
		return "without-response"
	}
	return "with-response"
}

// Command is one link operation. Build commands with the constructors; a
// Command must not be modified once enqueued.
type Command struct {
	Kind    CommandKind
	Address gatt.Address
	Value   []byte
	Mode    WriteMode

	// onRetire runs once when the command leaves the queue by success or
	// give-up. It is not called when the queue is cancelled.
	onRetire func(success bool)
}

// DiscoverServicesCommand requests service discovery on the link.
func DiscoverServicesCommand() Command {
	return Command{Kind: DiscoverServices}
}

// ReadCommand reads a characteristic value.
func ReadCommand(addr gatt.Address) Command {
	return Command{Kind: ReadCharacteristic, Address: addr.CharacteristicAddress()}
}

// WriteCommand writes value to a characteristic. The value is copied.
func WriteCommand(addr gatt.Address, value []byte, mode WriteMode) Command {
	return Command{
		Kind:    WriteCharacteristic,
		Address: addr.CharacteristicAddress(),
		Value:   append([]byte(nil), value...),
		Mode:    mode,
	}
}

// WriteDescriptorCommand writes value to the descriptor addr names. The value is copied.
func WriteDescriptorCommand(addr gatt.Address, value []byte) Command {
	return Command{
		Kind:    WriteDescriptor,
		Address: addr,
		Value:   append([]byte(nil), value...),
	}
}

// ReadDescriptorCommand reads the descriptor addr names.
func ReadDescriptorCommand(addr gatt.Address) Command {
	return Command{Kind: ReadDescriptor, Address: addr}
}

func (c Command) withRetire(fn func(success bool)) Command {
	c.onRetire = fn
	return c
}

func (c Command) String() string {
	switch c.Kind {
	case DiscoverServices:
		return c.Kind.String()
	case WriteCharacteristic:
		return fmt.Sprintf("%s %s [% X] %s", c.Kind, c.Address, c.Value, c.Mode)
	case WriteDescriptor:
		return fmt.Sprintf("%s %s [% X]", c.Kind, c.Address, c.Value)
	default:
		return fmt.Sprintf("%s %s", c.Kind, c.Address)
	}
}

// RequestRecord is a queued command and how many times it has been issued.
type RequestRecord struct {
	Command  Command
	Attempts int

	ticket uint64
}
