package att

import (
	"encoding/binary"
	"fmt"
)

// ATT opcodes for the PDUs the radio carries (Core Spec v5.3 Vol 3 Part F 3.4).
const (
	OpErrorResponse           = 0x01
	OpReadRequest             = 0x0A
	OpReadResponse            = 0x0B
	OpWriteRequest            = 0x12
	OpWriteResponse           = 0x13
	OpWriteCommand            = 0x52
	OpHandleValueNotification = 0x1B
	OpHandleValueIndication   = 0x1D
	OpHandleValueConfirmation = 0x1E
)

// OpcodeNames maps opcodes to human-readable names (useful for debugging)
var OpcodeNames = map[uint8]string{
	OpErrorResponse:           "Error Response",
	OpReadRequest:             "Read Request",
	OpReadResponse:            "Read Response",
	OpWriteRequest:            "Write Request",
	OpWriteResponse:           "Write Response",
	OpWriteCommand:            "Write Command",
	OpHandleValueNotification: "Handle Value Notification",
	OpHandleValueIndication:   "Handle Value Indication",
	OpHandleValueConfirmation: "Handle Value Confirmation",
}

// IsRequest returns true if the opcode expects a response
func IsRequest(opcode uint8) bool {
	switch opcode {
	case OpReadRequest, OpWriteRequest, OpHandleValueIndication:
		return true
	default:
		return false
	}
}

// ResponseOpcode returns the success response for a request opcode, or 0.
func ResponseOpcode(requestOpcode uint8) uint8 {
	switch requestOpcode {
	case OpReadRequest:
		return OpReadResponse
	case OpWriteRequest:
		return OpWriteResponse
	case OpHandleValueIndication:
		return OpHandleValueConfirmation
	default:
		return 0
	}
}

// Error Response (Opcode 0x01)
type ErrorResponse struct {
	RequestOpcode uint8  // The opcode that caused the error
	Handle        uint16 // The handle that caused the error
	ErrorCode     uint8
}

// Read Request/Response (Opcodes 0x0A/0x0B)
type ReadRequest struct {
	Handle uint16
}

type ReadResponse struct {
	Value []byte
}

// Write Request/Response (Opcodes 0x12/0x13)
type WriteRequest struct {
	Handle uint16
	Value  []byte
}

type WriteResponse struct{}

// Write Command (Opcode 0x52), never answered
type WriteCommand struct {
	Handle uint16
	Value  []byte
}

// Handle Value Notification/Indication (Opcodes 0x1B/0x1D)
type HandleValueNotification struct {
	Handle uint16
	Value  []byte
}

type HandleValueIndication struct {
	Handle uint16
	Value  []byte
}

// Handle Value Confirmation (Opcode 0x1E)
type HandleValueConfirmation struct{}

// EncodePacket encodes an ATT PDU to binary format
func EncodePacket(pkt interface{}) ([]byte, error) {
	switch p := pkt.(type) {
	case *ErrorResponse:
		buf := make([]byte, 5)
		buf[0] = OpErrorResponse
		buf[1] = p.RequestOpcode
		binary.LittleEndian.PutUint16(buf[2:4], p.Handle)
		buf[4] = p.ErrorCode
		return buf, nil

	case *ReadRequest:
		return handleOnly(OpReadRequest, p.Handle), nil

	case *ReadResponse:
		return append([]byte{OpReadResponse}, p.Value...), nil

	case *WriteRequest:
		return handleValue(OpWriteRequest, p.Handle, p.Value), nil

	case *WriteResponse:
		return []byte{OpWriteResponse}, nil

	case *WriteCommand:
		return handleValue(OpWriteCommand, p.Handle, p.Value), nil

	case *HandleValueNotification:
		return handleValue(OpHandleValueNotification, p.Handle, p.Value), nil

	case *HandleValueIndication:
		return handleValue(OpHandleValueIndication, p.Handle, p.Value), nil

	case *HandleValueConfirmation:
		return []byte{OpHandleValueConfirmation}, nil

	default:
		return nil, fmt.Errorf("att: unknown packet type %T", pkt)
	}
}

func handleOnly(op uint8, handle uint16) []byte {
	buf := make([]byte, 3)
	buf[0] = op
	binary.LittleEndian.PutUint16(buf[1:3], handle)
	return buf
}

func handleValue(op uint8, handle uint16, value []byte) []byte {
	buf := make([]byte, 3+len(value))
	buf[0] = op
	binary.LittleEndian.PutUint16(buf[1:3], handle)
	copy(buf[3:], value)
	return buf
}

// DecodePacket decodes binary data into an ATT PDU
func DecodePacket(data []byte) (interface{}, error) {
	if len(data) < 1 {
		return nil, fmt.Errorf("att: packet too short (need at least 1 byte)")
	}

	opcode := data[0]
	needHandle := func() (uint16, []byte, error) {
		if len(data) < 3 {
			return 0, nil, fmt.Errorf("att: %s too short", OpcodeNames[opcode])
		}
		return binary.LittleEndian.Uint16(data[1:3]), append([]byte{}, data[3:]...), nil
	}

	switch opcode {
	case OpErrorResponse:
		if len(data) < 5 {
			return nil, fmt.Errorf("att: ErrorResponse too short")
		}
		return &ErrorResponse{
			RequestOpcode: data[1],
			Handle:        binary.LittleEndian.Uint16(data[2:4]),
			ErrorCode:     data[4],
		}, nil

	case OpReadRequest:
		h, _, err := needHandle()
		if err != nil {
			return nil, err
		}
		return &ReadRequest{Handle: h}, nil

	case OpReadResponse:
		return &ReadResponse{Value: append([]byte{}, data[1:]...)}, nil

	case OpWriteRequest:
		h, v, err := needHandle()
		if err != nil {
			return nil, err
		}
		return &WriteRequest{Handle: h, Value: v}, nil

	case OpWriteResponse:
		return &WriteResponse{}, nil

	case OpWriteCommand:
		h, v, err := needHandle()
		if err != nil {
			return nil, err
		}
		return &WriteCommand{Handle: h, Value: v}, nil

	case OpHandleValueNotification:
		h, v, err := needHandle()
		if err != nil {
			return nil, err
		}
		return &HandleValueNotification{Handle: h, Value: v}, nil

	case OpHandleValueIndication:
		h, v, err := needHandle()
		if err != nil {
			return nil, err
		}
		return &HandleValueIndication{Handle: h, Value: v}, nil

	case OpHandleValueConfirmation:
		return &HandleValueConfirmation{}, nil

	default:
		return nil, fmt.Errorf("att: unknown opcode 0x%02X", opcode)
	}
}
