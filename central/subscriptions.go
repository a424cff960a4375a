package central

import (
	"fmt"

	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire/gatt"
)

// SubscriptionEntry asks for notifications or indications on a
// characteristic to be enabled or disabled.
type SubscriptionEntry struct {
	Address gatt.Address
	Enable  bool
}

func (e SubscriptionEntry) String() string {
	if e.Enable {
		return "+" + e.Address.String()
	}
	return "-" + e.Address.String()
}

// SubscriptionRegistry drains a list of subscription entries through the
// command queue, one CCCD write at a time, in list order.
type SubscriptionRegistry struct {
	queue     *CommandQueue
	resolve   func(gatt.Address) (*gatt.Characteristic, error)
	setNotify func(gatt.Address, bool) error
	onDone    func()
	prefix    string

	entries []SubscriptionEntry
	next    int
	// waiting is set while one of our CCCD writes sits in the queue.
	waiting bool
	// started is set once services are known and draining may begin.
	started bool
	armed   bool
}

func newSubscriptionRegistry(q *CommandQueue, prefix string) *SubscriptionRegistry {
	return &SubscriptionRegistry{queue: q, prefix: prefix}
}

// SetSubscriptions replaces the pending list. Entries not yet sent from a
// previous list are discarded; a CCCD write already queued still completes.
func (r *SubscriptionRegistry) SetSubscriptions(entries []SubscriptionEntry) {
	r.entries = append([]SubscriptionEntry(nil), entries...)
	r.next = 0
	r.armed = true
	logger.Debug(r.prefix, "📋 %d subscription(s) pending", len(entries))
	if r.started && !r.waiting {
		r.pump()
	}
}

// Pending returns the entries not yet sent.
func (r *SubscriptionRegistry) Pending() []SubscriptionEntry {
	if r.next >= len(r.entries) {
		return nil
	}
	return append([]SubscriptionEntry(nil), r.entries[r.next:]...)
}

// start begins draining once services have been discovered.
func (r *SubscriptionRegistry) start() {
	r.started = true
	if !r.waiting {
		r.pump()
	}
}

// pump enqueues the next entry that resolves. When the list is exhausted the
// done callback fires once per SetSubscriptions call.
func (r *SubscriptionRegistry) pump() {
	for r.next < len(r.entries) {
		entry := r.entries[r.next]
		r.next++

		cmd, err := r.prepare(entry)
		if err != nil {
			logger.Warn(r.prefix, "⚠️  skipping subscription %s: %v", entry, err)
			continue
		}
		r.waiting = true
		cmd = cmd.withRetire(func(bool) {
			r.waiting = false
			r.pump()
		})
		if !r.queue.Enqueue(cmd) {
			r.waiting = false
			continue
		}
		return
	}

	if r.armed && !r.waiting {
		r.armed = false
		logger.Info(r.prefix, "📋 subscriptions drained")
		if r.onDone != nil {
			r.onDone()
		}
	}
}

// prepare resolves an entry, flips the local notify flag and builds the CCCD write.
func (r *SubscriptionRegistry) prepare(e SubscriptionEntry) (Command, error) {
	char, err := r.resolve(e.Address.CharacteristicAddress())
	if err != nil {
		return Command{}, err
	}
	if !char.Notifiable() && !char.Indicatable() {
		return Command{}, fmt.Errorf("%s supports neither notify nor indicate", e.Address)
	}
	if _, ok := char.Descriptor(gatt.CCCDUUID); !ok {
		return Command{}, fmt.Errorf("%s has no CCCD", e.Address)
	}
	value, err := gatt.SubscriptionValue(char, e.Enable)
	if err != nil {
		return Command{}, err
	}
	if r.setNotify != nil {
		if err := r.setNotify(e.Address.CharacteristicAddress(), e.Enable); err != nil {
			return Command{}, fmt.Errorf("set notify: %w", err)
		}
	}
	addr := e.Address.WithDescriptor(gatt.CCCDUUID)
	logger.Debug(r.prefix, "📋 %s → %s", addr, value)
	return WriteDescriptorCommand(addr, value.Bytes()), nil
}
