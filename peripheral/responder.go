package peripheral

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

const prefix = "peripheral"

// DefaultReadValue is served for readable characteristics when no ValueFunc
// is configured.
var DefaultReadValue = []byte("This is a dummy")

// ErrNotRunning is returned by operations that need a started server.
var ErrNotRunning = errors.New("server not running")

// Options configures a Responder.
type Options struct {
	Values  ValueFunc
	Journal journal.Journal
}

// Responder answers inbound GATT requests and fans notifications out to
// subscribed peers. Every request is answered at most once, and exactly once
// when the request needs a response.
type Responder struct {
	transport   Transport
	cb          Callback
	values      ValueFunc
	journal     journal.Journal
	subscribers *SubscriberTracker

	mu    sync.RWMutex
	table *gatt.Table
}

// NewResponder creates a stopped responder.
func NewResponder(t Transport, cb Callback, opts Options) *Responder {
	if cb == nil {
		cb = NopCallback{}
	}
	if opts.Values == nil {
		opts.Values = StaticValue(DefaultReadValue)
	}
	return &Responder{
		transport:   t,
		cb:          cb,
		values:      opts.Values,
		journal:     journal.OrNop(opts.Journal),
		subscribers: NewSubscriberTracker(),
	}
}

// StartServer publishes table on the transport.
func (r *Responder) StartServer(table *gatt.Table) error {
	if table == nil {
		return fmt.Errorf("start server: nil table")
	}
	r.mu.Lock()
	if r.table != nil {
		r.mu.Unlock()
		return fmt.Errorf("start server: already running")
	}
	r.table = table.Clone()
	r.mu.Unlock()

	if err := r.transport.Open(table.Clone(), r); err != nil {
		r.mu.Lock()
		r.table = nil
		r.mu.Unlock()
		logger.Error(prefix, "❌ failed to open GATT server: %v", err)
		return fmt.Errorf("start server: %w", err)
	}
	logger.Info(prefix, "📡 GATT server started (%d service(s))", len(table.Services))
	r.record(journal.Entry{Kind: journal.KindState, Detail: "server started"})
	return nil
}

// StopServer closes the transport and forgets every subscriber.
func (r *Responder) StopServer() error {
	r.mu.Lock()
	if r.table == nil {
		r.mu.Unlock()
		return nil
	}
	r.table = nil
	r.mu.Unlock()

	r.subscribers.Reset()
	err := r.transport.Close()
	if err != nil {
		logger.Warn(prefix, "⚠️  closing GATT server: %v", err)
	}
	logger.Info(prefix, "GATT server stopped")
	r.record(journal.Entry{Kind: journal.KindState, Detail: "server stopped"})
	return err
}

// Running reports whether the server is started.
func (r *Responder) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table != nil
}

// Subscribers returns the peers currently subscribed to char.
func (r *Responder) Subscribers(char uuid.UUID) []string {
	return r.subscribers.Subscribers(char)
}

// Notify pushes data to every peer subscribed to char. Indicate-capable
// characteristics are sent as indications. It returns the number of peers
// the transport accepted; per-peer failures are logged and skipped.
func (r *Responder) Notify(char uuid.UUID, data []byte) (int, error) {
	table := r.currentTable()
	if table == nil {
		return 0, ErrNotRunning
	}
	addr, c, ok := table.FindCharacteristic(char)
	if !ok {
		return 0, fmt.Errorf("notify %s: %w", char, att.ErrAttributeNotFound)
	}
	if !c.Notifiable() && !c.Indicatable() {
		return 0, fmt.Errorf("notify %s: characteristic is not subscribable", addr)
	}
	confirm := c.Indicatable()

	sent := 0
	for _, peer := range r.subscribers.Subscribers(char) {
		if err := r.transport.Notify(peer, addr, data, confirm); err != nil {
			logger.Warn(prefix, "⚠️  notify %s to %s failed: %v", addr, peer, err)
			continue
		}
		sent++
		logger.Trace(prefix, "notified %s of %s (%d bytes)", peer, addr, len(data))
		r.record(journal.Entry{Peer: peer, Kind: journal.KindNotify, Detail: addr.String()})
	}
	return sent, nil
}

// OnConnectionStateChange implements RequestHandler.
func (r *Responder) OnConnectionStateChange(peer string, connected bool) {
	if connected {
		logger.Info(prefix, "🔗 %s connected", peer)
		r.record(journal.Entry{Peer: peer, Kind: journal.KindState, Detail: "connected"})
		r.cb.OnLifecycle(peer, LifecycleConnected)
		return
	}
	dropped := r.subscribers.RemovePeer(peer)
	logger.Info(prefix, "🔌 %s disconnected (%d subscription(s) dropped)", peer, len(dropped))
	for _, char := range dropped {
		r.record(journal.Entry{Peer: peer, Kind: journal.KindUnsubscribe, Detail: char.String()})
	}
	r.record(journal.Entry{Peer: peer, Kind: journal.KindState, Detail: "disconnected"})
	r.cb.OnLifecycle(peer, LifecycleDisconnected)
}

// OnReadRequest implements RequestHandler.
func (r *Responder) OnReadRequest(req Request) {
	rp := r.reply(req, true)
	defer rp.ensure()

	c, ok := r.resolve(rp)
	if !ok {
		return
	}
	if !c.Readable() {
		rp.send(att.StatusReadNotPermitted, nil)
		return
	}
	value, err := r.values(req.Peer, req.Address)
	if err != nil {
		logger.Warn(prefix, "⚠️  value for %s: %v", req.Address, err)
		rp.send(att.StatusFailure, nil)
		return
	}
	rp.send(att.StatusSuccess, value)
}

// OnWriteRequest implements RequestHandler. The written bytes reach the
// application whether or not a response was requested.
func (r *Responder) OnWriteRequest(req Request) {
	rp := r.reply(req, req.ResponseNeeded)
	defer rp.ensure()

	c, ok := r.resolve(rp)
	if !ok {
		return
	}
	if !c.Writable() && !c.WritableWithoutResponse() {
		rp.send(att.StatusWriteNotPermitted, nil)
		return
	}
	rp.send(att.StatusSuccess, req.Value)
	r.cb.OnWrite(req.Peer, req.Address, append([]byte(nil), req.Value...))
}

// OnDescriptorReadRequest implements RequestHandler. Only the CCCD is
// readable; it reports the requesting peer's own subscription. Other
// descriptors fail.
func (r *Responder) OnDescriptorReadRequest(req Request) {
	rp := r.reply(req, true)
	defer rp.ensure()

	if !req.Address.IsDescriptor() {
		rp.send(att.StatusFailure, nil)
		return
	}
	if _, ok := r.resolve(rp); !ok {
		return
	}
	if req.Address.Descriptor != gatt.CCCDUUID {
		rp.send(att.StatusFailure, nil)
		return
	}
	value := gatt.CCCDDisable
	if r.subscribers.Contains(req.Address.Characteristic, req.Peer) {
		value = gatt.CCCDEnableNotification
	}
	rp.send(att.StatusSuccess, value.Bytes())
}

// OnDescriptorWriteRequest implements RequestHandler. A CCCD write
// subscribes or unsubscribes the requesting peer.
func (r *Responder) OnDescriptorWriteRequest(req Request) {
	rp := r.reply(req, req.ResponseNeeded)
	defer rp.ensure()

	if !req.Address.IsDescriptor() {
		rp.send(att.StatusFailure, nil)
		return
	}
	c, ok := r.resolve(rp)
	if !ok {
		return
	}
	if req.Address.Descriptor != gatt.CCCDUUID {
		rp.send(att.StatusFailure, nil)
		return
	}

	char := req.Address.Characteristic
	switch v := gatt.ClassifyCCCD(req.Value); {
	case v == gatt.CCCDEnableIndication && c.Indicatable(),
		v == gatt.CCCDEnableNotification && c.Notifiable() && !c.Indicatable():
		added := r.subscribers.Add(char, req.Peer)
		rp.send(att.StatusSuccess, nil)
		if added {
			logger.Info(prefix, "🔔 %s subscribed to %s (%s)", req.Peer, req.Address.CharacteristicAddress(), v)
			r.record(journal.Entry{Peer: req.Peer, Kind: journal.KindSubscribe, Detail: char.String()})
		}
		r.cb.OnLifecycle(req.Peer, LifecycleConnectedAndSubscribed)
	case v == gatt.CCCDDisable && (c.Indicatable() || c.Notifiable()):
		removed := r.subscribers.Remove(char, req.Peer)
		rp.send(att.StatusSuccess, nil)
		if removed {
			logger.Info(prefix, "🔕 %s unsubscribed from %s", req.Peer, req.Address.CharacteristicAddress())
			r.record(journal.Entry{Peer: req.Peer, Kind: journal.KindUnsubscribe, Detail: char.String()})
		}
		r.cb.OnLifecycle(req.Peer, LifecycleConnectedAndUnsubscribed)
	default:
		logger.Debug(prefix, "unsupported CCCD value % x on %s from %s", req.Value, req.Address, req.Peer)
		rp.send(att.StatusRequestNotSupported, nil)
	}
}

func (r *Responder) currentTable() *gatt.Table {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.table
}

// resolve looks the request's attribute up, answering with a generic failure
// when the server is stopped or the attribute is unknown.
func (r *Responder) resolve(rp *reply) (*gatt.Characteristic, bool) {
	table := r.currentTable()
	if table == nil {
		logger.Warn(prefix, "⚠️  request %s while server stopped", rp.req)
		rp.send(att.StatusFailure, nil)
		return nil, false
	}
	c, err := table.Resolve(rp.req.Address)
	if err != nil {
		logger.Debug(prefix, "request %s: %v", rp.req, err)
		rp.send(att.StatusFailure, nil)
		return nil, false
	}
	return c, true
}

func (r *Responder) record(e journal.Entry) {
	e.Time = time.Now()
	e.Source = journal.SourcePeripheral
	r.journal.Record(e)
}

// reply guards the single response a request may carry.
type reply struct {
	r      *Responder
	req    Request
	needed bool
	sent   bool
}

func (r *Responder) reply(req Request, needed bool) *reply {
	return &reply{r: r, req: req, needed: needed}
}

// send answers the request. It is a no-op when no response was requested or
// one was already sent. A transport failure still counts as the answer.
func (rp *reply) send(status att.Status, value []byte) {
	if !rp.needed || rp.sent {
		return
	}
	rp.sent = true
	err := rp.r.transport.SendResponse(rp.req.Peer, rp.req.ID, status, value)
	if err != nil {
		logger.Warn(prefix, "⚠️  response to %s failed: %v", rp.req, err)
	} else {
		logger.Trace(prefix, "responded %s to %s", status, rp.req)
	}
	rp.r.record(journal.Entry{
		Peer:   rp.req.Peer,
		Kind:   journal.KindResponse,
		Detail: rp.req.Address.String(),
		Status: int(status),
	})
}

// ensure answers with a generic failure if no handler path responded.
func (rp *reply) ensure() {
	if rp.needed && !rp.sent {
		logger.Error(prefix, "❌ request %s left unanswered, failing it", rp.req)
		rp.send(att.StatusFailure, nil)
	}
}

var _ RequestHandler = (*Responder)(nil)
