package att

import (
	"errors"
	"fmt"
)

// Status is the result code carried by a GATT completion or response.
// The named values are the closed set the transaction layer reasons about;
// any other code is reported as unknown but preserved.
type Status int

const (
	StatusSuccess                Status = 0x00
	StatusReadNotPermitted       Status = 0x02
	StatusWriteNotPermitted      Status = 0x03
	StatusRequestNotSupported    Status = 0x06
	StatusInvalidAttributeLength Status = 0x0D
	StatusInternalError          Status = 129 // 0x81, stack-level internal error
	StatusFailure                Status = 257 // 0x101, generic failure
)

// statusNames maps status codes to the names the platform logs use
var statusNames = map[Status]string{
	StatusSuccess:                "GATT_SUCCESS",
	StatusReadNotPermitted:       "GATT_READ_NOT_PERMITTED",
	StatusWriteNotPermitted:      "GATT_WRITE_NOT_PERMITTED",
	StatusRequestNotSupported:    "GATT_REQUEST_NOT_SUPPORTED",
	StatusInvalidAttributeLength: "GATT_INVALID_ATTRIBUTE_LENGTH",
	StatusInternalError:          "GATT_INTERNAL_ERROR",
	StatusFailure:                "GATT_FAILURE",
}

// StatusFromCode converts a raw platform code.
func StatusFromCode(code int) Status {
	return Status(code)
}

// codeUnlikelyError is the ATT error code StatusFailure travels as, since
// it has no one-byte form.
const codeUnlikelyError = 0x0E

// ErrorCode returns the one-byte ATT error code carrying s.
func (s Status) ErrorCode() uint8 {
	if s < 0 || s > 0xFF || s == StatusFailure {
		return codeUnlikelyError
	}
	return uint8(s)
}

// StatusFromErrorCode is the inverse of Status.ErrorCode.
func StatusFromErrorCode(code uint8) Status {
	if code == codeUnlikelyError {
		return StatusFailure
	}
	return Status(code)
}

// Known reports whether s belongs to the closed set.
func (s Status) Known() bool {
	_, ok := statusNames[s]
	return ok
}

// OK reports whether s is StatusSuccess.
func (s Status) OK() bool { return s == StatusSuccess }

func (s Status) String() string {
	if name, ok := statusNames[s]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN(%d)", int(s))
}

// Err returns nil for success and a *StatusError otherwise.
func (s Status) Err() error {
	if s == StatusSuccess {
		return nil
	}
	return &StatusError{Status: s}
}

// StatusError wraps a non-success status as an error.
type StatusError struct {
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gatt status %s", e.Status)
}

// Link-level rejections returned synchronously by platform primitives.
var (
	// ErrLinkBusy means another operation is outstanding on the link.
	ErrLinkBusy = errors.New("link busy")
	// ErrAttributeNotFound means the address does not resolve against the
	// discovered (or served) attribute table.
	ErrAttributeNotFound = errors.New("attribute not found")
	// ErrPermissionDenied means the caller lacks the capability to use the
	// primitive.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrNotConnected means there is no live link to issue on.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed means the link or server handle has been released.
	ErrClosed = errors.New("closed")
)
