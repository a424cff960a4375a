package journal

import (
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// Entry is one recorded transaction-layer event.
// CBOR encoding uses integer keys for compactness.
type Entry struct {
	// Time the event happened (nanosecond precision).
	Time time.Time `cbor:"1,keyasint"`

	// Source is the role that produced the entry.
	Source Source `cbor:"2,keyasint"`

	// Peer is the remote device id, empty for server-wide events.
	Peer string `cbor:"3,keyasint,omitempty"`

	Kind Kind `cbor:"4,keyasint"`

	// Detail is a short human-readable description (command, address, state).
	Detail string `cbor:"5,keyasint,omitempty"`

	// Attempt is the command's attempt counter at the time of the event.
	Attempt int `cbor:"6,keyasint,omitempty"`

	// Status is the raw GATT status, when one was reported.
	Status int `cbor:"7,keyasint,omitempty"`
}

// Source identifies the role that recorded an entry.
type Source uint8

const (
	SourceCentral    Source = 0
	SourcePeripheral Source = 1
)

func (s Source) String() string {
	switch s {
	case SourceCentral:
		return "central"
	case SourcePeripheral:
		return "peripheral"
	default:
		return fmt.Sprintf("Source(%d)", s)
	}
}

// Kind classifies an entry.
type Kind uint8

const (
	KindState       Kind = iota // session or server lifecycle transition
	KindIssue                   // command handed to the link
	KindComplete                // command retired successfully
	KindRetry                   // failed attempt, command kept at head
	KindDrop                    // command abandoned or rejected
	KindCancel                  // queue drained on teardown
	KindTimeout                 // watchdog expired an in-flight command
	KindBond                    // bond state change for the session peer
	KindResponse                // peripheral answered a request
	KindSubscribe               // peer added to a subscriber set
	KindUnsubscribe             // peer removed from a subscriber set
	KindNotify                  // value pushed to a subscriber
)

var kindNames = map[Kind]string{
	KindState:       "state",
	KindIssue:       "issue",
	KindComplete:    "complete",
	KindRetry:       "retry",
	KindDrop:        "drop",
	KindCancel:      "cancel",
	KindTimeout:     "timeout",
	KindBond:        "bond",
	KindResponse:    "response",
	KindSubscribe:   "subscribe",
	KindUnsubscribe: "unsubscribe",
	KindNotify:      "notify",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", k)
}

// ParseKind is the inverse of Kind.String.
func ParseKind(name string) (Kind, bool) {
	for k, n := range kindNames {
		if n == name {
			return k, true
		}
	}
	return 0, false
}

// Struct returns a protobuf Struct view of the entry, suitable for
// logger.ToJSON and other protojson consumers.
func (e Entry) Struct() *structpb.Struct {
	fields := map[string]*structpb.Value{
		"time":   structpb.NewStringValue(e.Time.Format(time.RFC3339Nano)),
		"source": structpb.NewStringValue(e.Source.String()),
		"kind":   structpb.NewStringValue(e.Kind.String()),
	}
	if e.Peer != "" {
		fields["peer"] = structpb.NewStringValue(e.Peer)
	}
	if e.Detail != "" {
		fields["detail"] = structpb.NewStringValue(e.Detail)
	}
	if e.Attempt != 0 {
		fields["attempt"] = structpb.NewNumberValue(float64(e.Attempt))
	}
	if e.Status != 0 {
		fields["status"] = structpb.NewNumberValue(float64(e.Status))
	}
	return &structpb.Struct{Fields: fields}
}

func (e Entry) String() string {
	s := fmt.Sprintf("%s %-10s %-11s", e.Time.Format("15:04:05.000000"), e.Source, e.Kind)
	if e.Peer != "" {
		s += " peer=" + e.Peer
	}
	if e.Attempt != 0 {
		s += fmt.Sprintf(" attempt=%d", e.Attempt)
	}
	if e.Status != 0 {
		s += fmt.Sprintf(" status=%d", e.Status)
	}
	if e.Detail != "" {
		s += " " + e.Detail
	}
	return s
}
