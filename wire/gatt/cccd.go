package gatt

import (
	"bytes"
	"fmt"
)

// CCCDValue is the decoded meaning of a two-byte CCCD value.
type CCCDValue int

const (
	CCCDDisable CCCDValue = iota
	CCCDEnableNotification
	CCCDEnableIndication
	CCCDInvalid
)

func (v CCCDValue) String() string {
	switch v {
	case CCCDDisable:
		return "DISABLE_NOTIFICATION"
	case CCCDEnableNotification:
		return "ENABLE_NOTIFICATION"
	case CCCDEnableIndication:
		return "ENABLE_INDICATION"
	default:
		return "INVALID"
	}
}

// Bytes returns the wire encoding. CCCDInvalid has no encoding and returns nil.
func (v CCCDValue) Bytes() []byte {
	switch v {
	case CCCDDisable:
		return DisableNotificationValue()
	case CCCDEnableNotification:
		return EnableNotificationValue()
	case CCCDEnableIndication:
		return EnableIndicationValue()
	default:
		return nil
	}
}

// Wire patterns, little-endian. Returned as fresh slices so callers can't
// corrupt the constants.
func EnableNotificationValue() []byte  { return []byte{0x01, 0x00} }
func EnableIndicationValue() []byte    { return []byte{0x02, 0x00} }
func DisableNotificationValue() []byte { return []byte{0x00, 0x00} }

// ClassifyCCCD matches a written value against the three exact patterns.
// Anything else, including the "both enabled" value, is CCCDInvalid.
func ClassifyCCCD(value []byte) CCCDValue {
	switch {
	case bytes.Equal(value, EnableIndicationValue()):
		return CCCDEnableIndication
	case bytes.Equal(value, EnableNotificationValue()):
		return CCCDEnableNotification
	case bytes.Equal(value, DisableNotificationValue()):
		return CCCDDisable
	default:
		return CCCDInvalid
	}
}

// SubscriptionValue picks the CCCD value a central writes to subscribe to c
// (indication preferred over notification) or to unsubscribe.
func SubscriptionValue(c *Characteristic, enable bool) (CCCDValue, error) {
	if !enable {
		return CCCDDisable, nil
	}
	switch {
	case c.Indicatable():
		return CCCDEnableIndication, nil
	case c.Notifiable():
		return CCCDEnableNotification, nil
	default:
		return CCCDInvalid, fmt.Errorf("characteristic %s supports neither notify nor indicate", c.UUID)
	}
}
