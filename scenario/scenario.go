package scenario

import (
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/journal"
)

// Scenario defines a complete central/peripheral interaction
type Scenario struct {
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Peripheral  string   `yaml:"peripheral"` // hosted device id
	Centrals    []string `yaml:"centrals"`
	// BondOnConnect makes the peripheral bond on every connection.
	BondOnConnect bool            `yaml:"bond_on_connect"`
	Timeline      []TimelineEvent `yaml:"timeline"`
	Assertions    []Assertion     `yaml:"assertions"`
}

// TimelineEvent represents an action at a specific time
type TimelineEvent struct {
	TimeMs  int    `yaml:"time_ms"`
	Action  string `yaml:"action"`
	Device  string `yaml:"device,omitempty"` // acting central
	Target  string `yaml:"target,omitempty"` // characteristic uuid
	Value   string `yaml:"value,omitempty"`  // text, or hex with a 0x prefix
	State   string `yaml:"state,omitempty"`  // bond state for ActionBond
	Comment string `yaml:"comment,omitempty"`
}

// Action types
const (
	ActionConnect      = "connect"
	ActionDisconnect   = "disconnect"
	ActionRead         = "read"
	ActionWrite        = "write"
	ActionSubscribe    = "subscribe"     // configured subscription list
	ActionSubscribeAll = "subscribe_all" // every notify/indicate characteristic
	ActionNotify       = "notify"        // peripheral pushes Value on Target
	ActionBond         = "bond"          // set the peripheral's bond state
	ActionDropLink     = "drop_link"     // supervision timeout on every link
	ActionStopServer   = "stop_server"
	ActionStartServer  = "start_server"
)

// Assertion defines an expected outcome
type Assertion struct {
	Type    string `yaml:"type"`
	Device  string `yaml:"device,omitempty"`
	Target  string `yaml:"target,omitempty"`
	State   string `yaml:"state,omitempty"`
	Value   string `yaml:"value,omitempty"`
	Kind    string `yaml:"kind,omitempty"` // journal kind
	Count   int    `yaml:"count,omitempty"`
	Comment string `yaml:"comment,omitempty"`
}

// Assertion types
const (
	AssertionState          = "state"           // Device session state == State
	AssertionSubscribers    = "subscribers"     // Target has Count subscribers
	AssertionSubscribed     = "subscribed"      // Device is subscribed to Target
	AssertionReadValue      = "read_value"      // Device last read Value from Target
	AssertionIndications    = "indications"     // Device got at least Count changes on Target
	AssertionWritesReceived = "writes_received" // peripheral app got Count writes
	AssertionJournal        = "journal"         // at least Count entries of Kind
	AssertionBondLost       = "bond_lost"       // Device reported a lost bond
)

// Parse decodes a YAML scenario.
func Parse(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	if s.Peripheral == "" {
		s.Peripheral = "peripheral"
	}
	return &s, nil
}

// LoadScenario loads a scenario from a YAML file
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Duration returns the time of the last timeline event
func (s *Scenario) Duration() time.Duration {
	last := 0
	for _, e := range s.Timeline {
		if e.TimeMs > last {
			last = e.TimeMs
		}
	}
	return time.Duration(last) * time.Millisecond
}

// Validate returns every problem found in the scenario
func (s *Scenario) Validate() []string {
	var errs []string
	centrals := make(map[string]bool)
	for _, c := range s.Centrals {
		if centrals[c] {
			errs = append(errs, fmt.Sprintf("central %q declared twice", c))
		}
		centrals[c] = true
	}
	if len(centrals) == 0 {
		errs = append(errs, "scenario declares no centrals")
	}

	prev := 0
	for i, e := range s.Timeline {
		where := fmt.Sprintf("timeline[%d] (%s)", i, e.Action)
		if e.TimeMs < prev {
			errs = append(errs, where+": events must be in time order")
		}
		prev = e.TimeMs

		switch e.Action {
		case ActionConnect, ActionDisconnect, ActionSubscribe, ActionSubscribeAll:
			if !centrals[e.Device] {
				errs = append(errs, fmt.Sprintf("%s: unknown device %q", where, e.Device))
			}
		case ActionRead, ActionWrite:
			if !centrals[e.Device] {
				errs = append(errs, fmt.Sprintf("%s: unknown device %q", where, e.Device))
			}
			if e.Target == "" {
				errs = append(errs, where+": target is required")
			}
		case ActionNotify:
			if e.Target == "" {
				errs = append(errs, where+": target is required")
			}
		case ActionBond:
			if _, err := ParseBondState(e.State); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
			}
		case ActionDropLink, ActionStopServer, ActionStartServer:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown action", where))
		}
		if e.Value != "" {
			if _, err := ParseValue(e.Value); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
			}
		}
	}

	for i, a := range s.Assertions {
		where := fmt.Sprintf("assertions[%d] (%s)", i, a.Type)
		switch a.Type {
		case AssertionState:
			if _, err := ParseState(a.State); err != nil {
				errs = append(errs, fmt.Sprintf("%s: %v", where, err))
			}
		case AssertionJournal:
			if _, ok := journal.ParseKind(a.Kind); !ok {
				errs = append(errs, fmt.Sprintf("%s: unknown journal kind %q", where, a.Kind))
			}
		case AssertionSubscribers, AssertionSubscribed, AssertionReadValue,
			AssertionIndications, AssertionWritesReceived, AssertionBondLost:
		default:
			errs = append(errs, fmt.Sprintf("%s: unknown assertion", where))
		}
	}
	return errs
}

// ParseValue decodes a timeline value: hex when prefixed with 0x, text
// otherwise.
func ParseValue(s string) ([]byte, error) {
	if rest, ok := strings.CutPrefix(s, "0x"); ok {
		b, err := hex.DecodeString(rest)
		if err != nil {
			return nil, fmt.Errorf("value %q: %w", s, err)
		}
		return b, nil
	}
	return []byte(s), nil
}

// ParseState parses a session state name.
func ParseState(name string) (central.State, error) {
	for st := central.StateDisconnected; st <= central.StateSubscribed; st++ {
		if strings.EqualFold(name, st.String()) {
			return st, nil
		}
	}
	return 0, fmt.Errorf("unknown session state %q", name)
}

// ParseBondState parses a bond state name.
func ParseBondState(name string) (central.BondState, error) {
	for b := central.BondNone; b <= central.BondBonded; b++ {
		if strings.EqualFold(name, b.String()) {
			return b, nil
		}
	}
	return 0, fmt.Errorf("unknown bond state %q", name)
}
