package wire

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/user/bluelane/logger"
	"github.com/user/bluelane/peripheral"
	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

type response struct {
	status att.Status
	value  []byte
}

// Server is the peripheral side of the radio for one hosted device. It
// implements peripheral.Transport.
type Server struct {
	radio  *Radio
	id     string
	prefix string

	// dispatch is held shared while a request is with the handler; detach
	// takes it exclusively so a disconnect never overtakes a request.
	dispatch sync.RWMutex

	mu      sync.Mutex
	table   *gatt.Table
	handles *handleMap
	handler peripheral.RequestHandler
	links   map[string]*link // central id -> link
	pending map[int]chan response
	nextID  int
	stray   int
}

func newServer(r *Radio, id string) *Server {
	return &Server{
		radio:   r,
		id:      id,
		prefix:  shortHash(id) + " Radio",
		links:   make(map[string]*link),
		pending: make(map[int]chan response),
	}
}

// ID returns the peripheral id centrals dial.
func (s *Server) ID() string { return s.id }

// Open implements peripheral.Transport.
func (s *Server) Open(table *gatt.Table, h peripheral.RequestHandler) error {
	if table == nil || h == nil {
		return errors.New("open: table and handler are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handler != nil {
		return fmt.Errorf("server %s already open", shortHash(s.id))
	}
	s.table = table.Clone()
	s.handles = newHandleMap(s.table)
	s.handler = h
	logger.Debug(s.prefix, "📡 serving %d service(s)", len(table.Services))
	return nil
}

// Close implements peripheral.Transport. Connected centrals are
// disconnected.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.handler == nil {
		s.mu.Unlock()
		return nil
	}
	s.table = nil
	s.handles = nil
	s.handler = nil
	links := s.linksLocked()
	s.mu.Unlock()

	for _, l := range links {
		l.remoteDisconnect()
	}
	return nil
}

// Table returns a copy of the served table, nil when closed.
func (s *Server) Table() *gatt.Table {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.table.Clone()
}

// Connected returns the ids of the connected centrals, sorted.
func (s *Server) Connected() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.links))
	for id := range s.links {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// StrayResponses counts responses sent for requests that were not waiting
// for one: duplicates, late answers, or unknown ids.
func (s *Server) StrayResponses() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stray
}

// SendResponse implements peripheral.Transport.
func (s *Server) SendResponse(peer string, requestID int, status att.Status, value []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.pending[requestID]
	if !ok {
		s.stray++
		return fmt.Errorf("response to %s: request %d is not pending", shortHash(peer), requestID)
	}
	delete(s.pending, requestID)
	ch <- response{status: status, value: append([]byte(nil), value...)}
	return nil
}

// Notify implements peripheral.Transport. The value travels as a Handle
// Value Notification, or an Indication when confirm is set.
func (s *Server) Notify(peer string, addr gatt.Address, value []byte, confirm bool) error {
	s.mu.Lock()
	l, ok := s.links[peer]
	handle := s.handles.handle(addr.CharacteristicAddress())
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("notify %s: %w", shortHash(peer), att.ErrNotConnected)
	}
	if handle == 0 {
		return fmt.Errorf("notify %s: %w", addr, att.ErrAttributeNotFound)
	}
	var pkt interface{} = &att.HandleValueNotification{Handle: handle, Value: value}
	if confirm {
		pkt = &att.HandleValueIndication{Handle: handle, Value: value}
	}
	pdu, err := att.EncodePacket(pkt)
	if err != nil {
		return err
	}
	logger.Trace(s.prefix, "%s on handle 0x%04X to %s", att.OpcodeNames[pdu[0]], handle, shortHash(peer))
	return l.changed(pdu)
}

// handleFor returns the handle of addr in the served table, 0 if none.
func (s *Server) handleFor(addr gatt.Address) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles.handle(addr)
}

// addressFor resolves a handle against the served table.
func (s *Server) addressFor(handle uint16) (gatt.Address, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handles.address(handle)
}

func (s *Server) hasLink(centralID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.links[centralID]
	return ok
}

func (s *Server) snapshotLinks() []*link {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.linksLocked()
}

func (s *Server) linksLocked() []*link {
	out := make([]*link, 0, len(s.links))
	for _, l := range s.links {
		out = append(out, l)
	}
	return out
}

// attach registers a connected link. It fails when the server is closed.
func (s *Server) attach(l *link) bool {
	s.mu.Lock()
	h := s.handler
	if h == nil {
		s.mu.Unlock()
		return false
	}
	s.links[l.central] = l
	s.mu.Unlock()

	h.OnConnectionStateChange(l.central, true)
	return true
}

func (s *Server) detach(l *link) {
	s.dispatch.Lock()
	s.mu.Lock()
	if s.links[l.central] != l {
		s.mu.Unlock()
		s.dispatch.Unlock()
		return
	}
	delete(s.links, l.central)
	h := s.handler
	s.mu.Unlock()
	s.dispatch.Unlock()

	if h != nil {
		h.OnConnectionStateChange(l.central, false)
	}
}

// exchange decodes one request PDU, hands it to the handler and encodes the
// answer. Commands return a nil PDU. Requests from a central that is no
// longer attached never reach the handler.
func (s *Server) exchange(centralID string, pdu []byte) []byte {
	pkt, err := att.DecodePacket(pdu)
	if err != nil {
		logger.Warn(s.prefix, "⚠️  bad PDU from %s: %v", shortHash(centralID), err)
		return errorPDU(0, 0, att.StatusRequestNotSupported)
	}

	var (
		op     uint8
		handle uint16
		value  []byte
	)
	switch p := pkt.(type) {
	case *att.ReadRequest:
		op, handle = att.OpReadRequest, p.Handle
	case *att.WriteRequest:
		op, handle, value = att.OpWriteRequest, p.Handle, p.Value
	case *att.WriteCommand:
		op, handle, value = att.OpWriteCommand, p.Handle, p.Value
	default:
		return errorPDU(pdu[0], 0, att.StatusRequestNotSupported)
	}
	needed := att.IsRequest(op)

	s.dispatch.RLock()
	s.mu.Lock()
	h := s.handler
	addr, known := s.handles.address(handle)
	_, attached := s.links[centralID]
	if h == nil || !known || !attached {
		s.mu.Unlock()
		s.dispatch.RUnlock()
		if !attached {
			logger.Debug(s.prefix, "%s from detached %s dropped", att.OpcodeNames[op], shortHash(centralID))
		}
		if !needed {
			return nil
		}
		return errorPDU(op, handle, att.StatusFailure)
	}
	s.nextID++
	id := s.nextID
	ch := make(chan response, 1)
	s.pending[id] = ch
	s.mu.Unlock()

	req := peripheral.Request{ID: id, Peer: centralID, Address: addr, Value: value, ResponseNeeded: needed}
	switch {
	case op == att.OpReadRequest && addr.IsDescriptor():
		h.OnDescriptorReadRequest(req)
	case op == att.OpReadRequest:
		h.OnReadRequest(req)
	case addr.IsDescriptor():
		h.OnDescriptorWriteRequest(req)
	default:
		h.OnWriteRequest(req)
	}
	s.dispatch.RUnlock()

	s.mu.Lock()
	delete(s.pending, id)
	s.mu.Unlock()

	if !needed {
		return nil
	}
	var r response
	select {
	case r = <-ch:
	default:
		logger.Warn(s.prefix, "⚠️  request %d on %s was not answered", id, addr)
		r.status = att.StatusFailure
	}
	if !r.status.OK() {
		return errorPDU(op, handle, r.status)
	}
	var out interface{} = &att.WriteResponse{}
	if op == att.OpReadRequest {
		out = &att.ReadResponse{Value: r.value}
	}
	resp, _ := att.EncodePacket(out)
	return resp
}

func errorPDU(op uint8, handle uint16, status att.Status) []byte {
	pdu, _ := att.EncodePacket(&att.ErrorResponse{RequestOpcode: op, Handle: handle, ErrorCode: status.ErrorCode()})
	return pdu
}

var _ peripheral.Transport = (*Server)(nil)
