package scenario

import (
	"fmt"
	"sort"
	"sync"

	"github.com/user/bluelane/central"
	"github.com/user/bluelane/config"
	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/peripheral"
	"github.com/user/bluelane/wire"
	"github.com/user/bluelane/wire/gatt"
)

// EventSink receives a one-line description of every application event.
type EventSink func(device, eventType, message string)

// Bench wires one hosted peripheral and any number of centrals onto a
// simulated radio, all configured from one Config.
type Bench struct {
	Radio     *wire.Radio
	Server    *wire.Server
	Responder *peripheral.Responder
	Table     *gatt.Table
	Journal   *journal.Memory

	cfg      *config.Config
	journal  journal.Journal
	sink     EventSink
	inbound  *PeripheralRecorder
	mu       sync.Mutex
	centrals map[string]*Device
}

// Device is one simulated central.
type Device struct {
	ID      string
	Session *central.Session
	Events  *Recorder
}

// NewBench hosts peripheralID on a fresh radio and starts its server.
// Every journal entry is kept in memory and also copied to extra.
func NewBench(cfg *config.Config, peripheralID string, extra journal.Journal, sink EventSink) (*Bench, error) {
	if sink == nil {
		sink = func(string, string, string) {}
	}
	table, err := cfg.Table()
	if err != nil {
		return nil, err
	}
	b := &Bench{
		Radio:    wire.NewRadio(cfg.SimulationConfig()),
		Table:    table,
		Journal:  &journal.Memory{},
		cfg:      cfg,
		sink:     sink,
		centrals: make(map[string]*Device),
	}
	j := journal.Journal(b.Journal)
	if extra != nil {
		j = journal.Multi{b.Journal, extra}
	}

	b.Server = b.Radio.Host(peripheralID)
	b.inbound = &PeripheralRecorder{device: peripheralID, sink: sink}
	b.Responder = peripheral.NewResponder(b.Server, b.inbound, peripheral.Options{
		Values:  peripheral.StaticValue([]byte(cfg.Peripheral.ReadValue)),
		Journal: j,
	})
	if err := b.Responder.StartServer(table); err != nil {
		return nil, err
	}
	b.journal = j
	return b, nil
}

// AddCentral creates a central session dialing as id. Adding an existing id
// returns the existing device.
func (b *Bench) AddCentral(id string) *Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	if d, ok := b.centrals[id]; ok {
		return d
	}
	rec := NewRecorder(id, b.sink)
	d := &Device{
		ID:     id,
		Events: rec,
		Session: central.NewSession(b.Radio.Dialer(id), rec, central.SessionOptions{
			Config:  b.cfg.SessionConfig(),
			Bonds:   b.Radio,
			Journal: b.journal,
		}),
	}
	b.centrals[id] = d
	logger.Debug("bench", "added central %s", id)
	return d
}

// Device returns a central by id.
func (b *Bench) Device(id string) (*Device, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	d, ok := b.centrals[id]
	return d, ok
}

// Devices returns every central, sorted by id.
func (b *Bench) Devices() []*Device {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Device, 0, len(b.centrals))
	for _, d := range b.centrals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Writes returns how many writes reached the peripheral application.
func (b *Bench) Writes() int {
	return b.inbound.Writes()
}

// Connect connects id and queues the configured subscriptions.
func (b *Bench) Connect(id string) error {
	d := b.AddCentral(id)
	if err := d.Session.Connect(b.Server.ID()); err != nil {
		return err
	}
	return b.Subscribe(id)
}

// Subscribe applies the configured subscription list to id's session.
func (b *Bench) Subscribe(id string) error {
	d, ok := b.Device(id)
	if !ok {
		return fmt.Errorf("unknown central %q", id)
	}
	entries, err := b.cfg.SubscriptionEntries()
	if err != nil {
		return err
	}
	d.Session.SetSubscriptions(entries)
	return nil
}

// Address resolves a characteristic uuid against the profile service.
func (b *Bench) Address(characteristic string) (gatt.Address, error) {
	return b.cfg.Address(characteristic)
}

// Idle reports whether no central has a command queued.
func (b *Bench) Idle() bool {
	for _, d := range b.Devices() {
		if d.Session.QueueLen() > 0 {
			return false
		}
	}
	return true
}

// Close tears every session down and stops the server.
func (b *Bench) Close() {
	for _, d := range b.Devices() {
		d.Session.Close()
	}
	if err := b.Responder.StopServer(); err != nil {
		logger.Warn("bench", "⚠️  stopping server: %v", err)
	}
}
