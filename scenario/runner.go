package scenario

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/bluelane/config"
	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
)

// Runner executes a scenario on a Bench
type Runner struct {
	scenario *Scenario
	cfg      *config.Config
	extra    journal.Journal
	bench    *Bench

	// SettleTimeout bounds the wait for queues to drain after the timeline.
	SettleTimeout time.Duration
	// Quiet is how long queues must stay empty before assertions run, so
	// indications already on the air are delivered.
	Quiet time.Duration

	mu        sync.Mutex
	eventLog  []EventLogEntry
	startTime time.Time
	results   []AssertionResult
}

// EventLogEntry records an event that occurred during the scenario
type EventLogEntry struct {
	TimeMs    int
	Device    string
	EventType string
	Message   string
}

// AssertionResult records the outcome of an assertion
type AssertionResult struct {
	Assertion *Assertion
	Passed    bool
	Message   string
}

// NewRunner creates a runner. extra, when non-nil, receives every journal
// entry as well.
func NewRunner(s *Scenario, cfg *config.Config, extra journal.Journal) *Runner {
	return &Runner{
		scenario:      s,
		cfg:           cfg,
		extra:         extra,
		SettleTimeout: 2 * time.Second,
		Quiet:         150 * time.Millisecond,
	}
}

// Bench returns the bench built by Setup.
func (r *Runner) Bench() *Bench {
	return r.bench
}

// Setup validates the scenario and builds the bench
func (r *Runner) Setup() error {
	if errs := r.scenario.Validate(); len(errs) > 0 {
		return fmt.Errorf("scenario validation failed: %v", errs)
	}
	cfg := *r.cfg
	if r.scenario.BondOnConnect {
		cfg.Simulation.BondOnConnect = true
	}
	bench, err := NewBench(&cfg, r.scenario.Peripheral, r.extra, r.logEvent)
	if err != nil {
		return fmt.Errorf("failed to build bench: %w", err)
	}
	for _, id := range r.scenario.Centrals {
		bench.AddCentral(id)
	}
	r.bench = bench
	return nil
}

// Run executes the timeline, then waits for every queue to drain.
func (r *Runner) Run(ctx context.Context) error {
	if r.bench == nil {
		return fmt.Errorf("runner not set up")
	}
	r.mu.Lock()
	r.startTime = time.Now()
	r.mu.Unlock()

	for i := range r.scenario.Timeline {
		ev := &r.scenario.Timeline[i]
		due := r.startTime.Add(time.Duration(ev.TimeMs) * time.Millisecond)
		if wait := time.Until(due); wait > 0 {
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if err := r.executeEvent(ev); err != nil {
			r.logEvent(ev.Device, "error", fmt.Sprintf("%s: %v", ev.Action, err))
			logger.Warn("scenario", "⚠️  %s at %dms: %v", ev.Action, ev.TimeMs, err)
		}
	}
	return r.settle(ctx)
}

func (r *Runner) settle(ctx context.Context) error {
	deadline := time.Now().Add(r.SettleTimeout)
	var idleSince time.Time
	for {
		switch {
		case !r.bench.Idle():
			idleSince = time.Time{}
		case idleSince.IsZero():
			idleSince = time.Now()
		case time.Since(idleSince) >= r.Quiet:
			return nil
		}
		if time.Now().After(deadline) {
			logger.Warn("scenario", "⚠️  queues still busy after %s", r.SettleTimeout)
			return nil
		}
		select {
		case <-time.After(5 * time.Millisecond):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// executeEvent performs a single timeline action
func (r *Runner) executeEvent(ev *TimelineEvent) error {
	b := r.bench
	switch ev.Action {
	case ActionConnect:
		return b.Connect(ev.Device)
	case ActionDisconnect:
		d, _ := b.Device(ev.Device)
		return d.Session.Disconnect()
	case ActionSubscribe:
		return b.Subscribe(ev.Device)
	case ActionSubscribeAll:
		d, _ := b.Device(ev.Device)
		if d.Session.SubscribeAll() == 0 {
			return fmt.Errorf("nothing to subscribe to")
		}
		return nil
	case ActionRead:
		addr, err := b.Address(ev.Target)
		if err != nil {
			return err
		}
		d, _ := b.Device(ev.Device)
		if !d.Session.ReadCharacteristic(addr) {
			return fmt.Errorf("read %s refused", addr)
		}
		return nil
	case ActionWrite:
		addr, err := b.Address(ev.Target)
		if err != nil {
			return err
		}
		value, err := ParseValue(ev.Value)
		if err != nil {
			return err
		}
		d, _ := b.Device(ev.Device)
		if !d.Session.WriteCharacteristic(addr, value) {
			return fmt.Errorf("write %s refused", addr)
		}
		return nil
	case ActionNotify:
		id, err := uuid.Parse(ev.Target)
		if err != nil {
			return err
		}
		value, err := ParseValue(ev.Value)
		if err != nil {
			return err
		}
		n, err := b.Responder.Notify(id, value)
		if err == nil {
			r.logEvent(r.scenario.Peripheral, "notify", fmt.Sprintf("%s reached %d subscriber(s)", id, n))
		}
		return err
	case ActionBond:
		state, err := ParseBondState(ev.State)
		if err != nil {
			return err
		}
		b.Radio.SetBondState(r.scenario.Peripheral, state)
		return nil
	case ActionDropLink:
		b.Radio.DropLinks(r.scenario.Peripheral)
		return nil
	case ActionStopServer:
		return b.Responder.StopServer()
	case ActionStartServer:
		return b.Responder.StartServer(b.Table)
	default:
		return fmt.Errorf("unknown action %q", ev.Action)
	}
}

// CheckAssertions validates all assertions
func (r *Runner) CheckAssertions() []AssertionResult {
	results := []AssertionResult{}
	for i := range r.scenario.Assertions {
		results = append(results, r.checkAssertion(&r.scenario.Assertions[i]))
	}
	r.mu.Lock()
	r.results = results
	r.mu.Unlock()
	return results
}

// Passed reports whether every assertion held.
func Passed(results []AssertionResult) bool {
	for _, res := range results {
		if !res.Passed {
			return false
		}
	}
	return true
}

func (r *Runner) checkAssertion(a *Assertion) AssertionResult {
	pass := func(format string, args ...interface{}) AssertionResult {
		return AssertionResult{Assertion: a, Passed: true, Message: fmt.Sprintf(format, args...)}
	}
	fail := func(format string, args ...interface{}) AssertionResult {
		return AssertionResult{Assertion: a, Passed: false, Message: fmt.Sprintf(format, args...)}
	}
	b := r.bench

	var dev *Device
	switch a.Type {
	case AssertionState, AssertionSubscribed, AssertionReadValue, AssertionIndications, AssertionBondLost:
		d, ok := b.Device(a.Device)
		if !ok {
			return fail("Device %s not found", a.Device)
		}
		dev = d
	}

	switch a.Type {
	case AssertionState:
		want, _ := ParseState(a.State)
		if got := dev.Session.State(); got != want {
			return fail("%s is %s, want %s", a.Device, got, want)
		}
		return pass("%s is %s", a.Device, want)

	case AssertionSubscribers, AssertionSubscribed:
		id, err := uuid.Parse(a.Target)
		if err != nil {
			return fail("target: %v", err)
		}
		subs := b.Responder.Subscribers(id)
		if a.Type == AssertionSubscribers {
			if len(subs) != a.Count {
				return fail("%s has %d subscriber(s) %v, want %d", a.Target, len(subs), subs, a.Count)
			}
			return pass("%s has %d subscriber(s)", a.Target, a.Count)
		}
		for _, s := range subs {
			if s == a.Device {
				return pass("%s subscribed to %s", a.Device, a.Target)
			}
		}
		return fail("%s not subscribed to %s", a.Device, a.Target)

	case AssertionReadValue:
		addr, err := b.Address(a.Target)
		if err != nil {
			return fail("target: %v", err)
		}
		want, _ := ParseValue(a.Value)
		got, ok := dev.Events.LastRead(addr)
		if !ok {
			return fail("%s never read %s", a.Device, a.Target)
		}
		if !bytes.Equal(got, want) {
			return fail("%s read %q, want %q", a.Device, got, want)
		}
		return pass("%s read %q", a.Device, got)

	case AssertionIndications:
		addr, err := b.Address(a.Target)
		if err != nil {
			return fail("target: %v", err)
		}
		if n := dev.Events.Indications(addr); n < a.Count {
			return fail("%s got %d change(s) on %s, want >= %d", a.Device, n, a.Target, a.Count)
		}
		return pass("%s got >= %d change(s)", a.Device, a.Count)

	case AssertionWritesReceived:
		if n := b.Writes(); n != a.Count {
			return fail("peripheral received %d write(s), want %d", n, a.Count)
		}
		return pass("peripheral received %d write(s)", a.Count)

	case AssertionJournal:
		kind, _ := journal.ParseKind(a.Kind)
		entries := b.Journal.Entries(journal.Filter{Kinds: []journal.Kind{kind}})
		if len(entries) < a.Count {
			return fail("%d %s entr(ies), want >= %d", len(entries), kind, a.Count)
		}
		return pass("%d %s entr(ies)", len(entries), kind)

	case AssertionBondLost:
		if dev.Events.BondLost() == 0 {
			return fail("%s never reported a lost bond", a.Device)
		}
		return pass("%s reported a lost bond", a.Device)
	}
	return fail("unknown assertion type %q", a.Type)
}

// logEvent records an event in the log
func (r *Runner) logEvent(device, eventType, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	ms := 0
	if !r.startTime.IsZero() {
		ms = int(time.Since(r.startTime) / time.Millisecond)
	}
	r.eventLog = append(r.eventLog, EventLogEntry{
		TimeMs:    ms,
		Device:    device,
		EventType: eventType,
		Message:   message,
	})
}

// Events returns a copy of the event log.
func (r *Runner) Events() []EventLogEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]EventLogEntry(nil), r.eventLog...)
}

// PrintReport writes the scenario execution report
func (r *Runner) PrintReport(w io.Writer) {
	fmt.Fprintln(w, "\n=== Scenario Report ===")
	fmt.Fprintf(w, "Name: %s\n", r.scenario.Name)
	fmt.Fprintf(w, "Description: %s\n", r.scenario.Description)
	fmt.Fprintf(w, "Duration: %v\n", r.scenario.Duration())

	fmt.Fprintln(w, "\n--- Event Log ---")
	for _, entry := range r.Events() {
		fmt.Fprintf(w, "[%dms] [%s] %s: %s\n", entry.TimeMs, shortID(entry.Device), entry.EventType, entry.Message)
	}

	r.mu.Lock()
	results := append([]AssertionResult(nil), r.results...)
	r.mu.Unlock()

	fmt.Fprintln(w, "\n--- Assertion Results ---")
	passed := 0
	for _, result := range results {
		status := "❌ FAIL"
		if result.Passed {
			status = "✅ PASS"
			passed++
		}
		fmt.Fprintf(w, "%s - %s: %s\n", status, result.Assertion.Type, result.Message)
	}

	fmt.Fprintf(w, "\nTotal: %d/%d assertions passed\n", passed, len(results))
}

// Close releases the bench.
func (r *Runner) Close() {
	if r.bench != nil {
		r.bench.Close()
	}
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
