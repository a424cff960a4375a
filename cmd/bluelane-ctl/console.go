package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/scenario"
)

// Console drives a Bench from typed commands. Commands that act on a
// central use the selected one unless an id is given.
type Console struct {
	bench    *scenario.Bench
	out      io.Writer
	selected string
}

// NewConsole creates a console writing to out.
func NewConsole(bench *scenario.Bench, out io.Writer) *Console {
	return &Console{bench: bench, out: out, selected: "central"}
}

// Prompt reflects the selected central.
func (c *Console) Prompt() string {
	return fmt.Sprintf("bluelane[%s]> ", shortID(c.selected))
}

// Execute runs one command line and reports whether the console should exit.
func (c *Console) Execute(line string) bool {
	input := strings.TrimSpace(line)
	if input == "" {
		return false
	}

	parts := strings.Fields(input)
	cmd := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmd {
	case "help", "?":
		c.printHelp()

	case "use", "central":
		c.cmdUse(args)

	case "connect", "c":
		c.cmdConnect(args)

	case "disconnect", "dc":
		c.cmdDisconnect(args)

	case "read", "r":
		c.cmdRead(args)

	case "write", "w":
		c.cmdWrite(args)

	case "subscribe", "sub":
		c.cmdSubscribe(args)

	case "subscribe-all", "suball":
		c.cmdSubscribeAll(args)

	case "notify", "n":
		c.cmdNotify(args)

	case "bond":
		c.cmdBond(args)

	case "drop":
		n := c.bench.Radio.DropLinks(c.bench.Server.ID())
		fmt.Fprintf(c.out, "Dropped %d link(s)\n", n)

	case "state", "status", "s":
		c.cmdState()

	case "subscribers":
		c.cmdSubscribers(args)

	case "journal", "j":
		c.cmdJournal(args)

	case "quit", "exit", "q":
		return true

	default:
		fmt.Fprintf(c.out, "Unknown command: %s (type 'help' for commands)\n", cmd)
	}
	return false
}

func (c *Console) printHelp() {
	fmt.Fprintln(c.out, `
bluelane commands:
  Central:
    use <id>                - Select (and create) the active central
    connect [id]            - Connect and apply the configured subscriptions
    disconnect [id]         - Disconnect
    read <char>             - Queue a characteristic read
    write <char> <value>    - Queue a write (0x prefix for hex)
    subscribe [id]          - Re-apply the configured subscription list
    subscribe-all [id]      - Subscribe to every notify/indicate characteristic

  Peripheral:
    notify <char> <value>   - Push a value to every subscriber
    subscribers <char>      - List subscribers of a characteristic
    bond <none|bonding|bonded> - Change the peripheral's bond state
    drop                    - Drop every link (supervision timeout)

  General:
    state                   - Show every central's session state
    journal [n] [kind]      - Show the last n journal entries
    help                    - Show this help
    quit                    - Exit`)
}

// target returns the central named in args[0], or the selected one.
func (c *Console) target(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return c.selected
}

func (c *Console) device(id string) (*scenario.Device, bool) {
	d, ok := c.bench.Device(id)
	if !ok {
		fmt.Fprintf(c.out, "Unknown central %s (use 'connect %s' first)\n", id, id)
	}
	return d, ok
}

func (c *Console) cmdUse(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: use <central-id>")
		return
	}
	c.bench.AddCentral(args[0])
	c.selected = args[0]
	fmt.Fprintf(c.out, "Using central %s\n", args[0])
}

func (c *Console) cmdConnect(args []string) {
	id := c.target(args)
	if err := c.bench.Connect(id); err != nil {
		fmt.Fprintf(c.out, "Connect failed: %v\n", err)
		return
	}
	c.selected = id
}

func (c *Console) cmdDisconnect(args []string) {
	d, ok := c.device(c.target(args))
	if !ok {
		return
	}
	if err := d.Session.Disconnect(); err != nil {
		fmt.Fprintf(c.out, "Disconnect failed: %v\n", err)
	}
}

func (c *Console) cmdRead(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: read <characteristic-uuid>")
		return
	}
	d, ok := c.device(c.selected)
	if !ok {
		return
	}
	addr, err := c.bench.Address(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if !d.Session.ReadCharacteristic(addr) {
		fmt.Fprintf(c.out, "Read of %s refused\n", addr)
	}
}

func (c *Console) cmdWrite(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: write <characteristic-uuid> <value>")
		return
	}
	d, ok := c.device(c.selected)
	if !ok {
		return
	}
	addr, err := c.bench.Address(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	value, err := scenario.ParseValue(strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	if !d.Session.WriteCharacteristic(addr, value) {
		fmt.Fprintf(c.out, "Write to %s refused\n", addr)
	}
}

func (c *Console) cmdSubscribe(args []string) {
	if err := c.bench.Subscribe(c.target(args)); err != nil {
		fmt.Fprintf(c.out, "Subscribe failed: %v\n", err)
	}
}

func (c *Console) cmdSubscribeAll(args []string) {
	d, ok := c.device(c.target(args))
	if !ok {
		return
	}
	fmt.Fprintf(c.out, "Queued %d subscription(s)\n", d.Session.SubscribeAll())
}

func (c *Console) cmdNotify(args []string) {
	if len(args) < 2 {
		fmt.Fprintln(c.out, "Usage: notify <characteristic-uuid> <value>")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	value, err := scenario.ParseValue(strings.Join(args[1:], " "))
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	n, err := c.bench.Responder.Notify(id, value)
	if err != nil {
		fmt.Fprintf(c.out, "Notify failed: %v\n", err)
		return
	}
	fmt.Fprintf(c.out, "Sent to %d subscriber(s)\n", n)
}

func (c *Console) cmdBond(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: bond <none|bonding|bonded>")
		return
	}
	state, err := scenario.ParseBondState(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	c.bench.Radio.SetBondState(c.bench.Server.ID(), state)
}

func (c *Console) cmdState() {
	devices := c.bench.Devices()
	if len(devices) == 0 {
		fmt.Fprintln(c.out, "No centrals (use 'connect <id>')")
	}
	for _, d := range devices {
		marker := " "
		if d.ID == c.selected {
			marker = "*"
		}
		fmt.Fprintf(c.out, "%s %-12s %-20s queued=%d pending-subs=%d\n",
			marker, shortID(d.ID), d.Session.State(), d.Session.QueueLen(), len(d.Session.PendingSubscriptions()))
	}
	fmt.Fprintf(c.out, "  peripheral %s: running=%t links=%d bond=%s\n",
		shortID(c.bench.Server.ID()), c.bench.Responder.Running(),
		len(c.bench.Server.Connected()), c.bench.Radio.BondState(c.bench.Server.ID()))
}

func (c *Console) cmdSubscribers(args []string) {
	if len(args) != 1 {
		fmt.Fprintln(c.out, "Usage: subscribers <characteristic-uuid>")
		return
	}
	id, err := uuid.Parse(args[0])
	if err != nil {
		fmt.Fprintf(c.out, "Error: %v\n", err)
		return
	}
	subs := c.bench.Responder.Subscribers(id)
	fmt.Fprintf(c.out, "%d subscriber(s)\n", len(subs))
	for _, s := range subs {
		fmt.Fprintf(c.out, "  %s\n", s)
	}
}

func (c *Console) cmdJournal(args []string) {
	n := 20
	var filter journal.Filter
	for _, arg := range args {
		if v, err := strconv.Atoi(arg); err == nil {
			n = v
			continue
		}
		k, ok := journal.ParseKind(arg)
		if !ok {
			fmt.Fprintf(c.out, "Unknown kind %q\n", arg)
			return
		}
		filter.Kinds = append(filter.Kinds, k)
	}
	entries := c.bench.Journal.Entries(filter)
	if len(entries) > n {
		entries = entries[len(entries)-n:]
	}
	for _, e := range entries {
		fmt.Fprintln(c.out, e.String())
	}
}

func shortID(s string) string {
	if len(s) <= 8 {
		return s
	}
	return s[:8]
}
