package peripheral

import (
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/user/bluelane/journal"
	"github.com/user/bluelane/wire/att"
	"github.com/user/bluelane/wire/gatt"
)

var (
	svcUUID      = uuid.MustParse("6e400001-b5a3-f393-e0a9-e50e24dcca9e")
	readUUID     = uuid.MustParse("6e400002-b5a3-f393-e0a9-e50e24dcca9e")
	writeUUID    = uuid.MustParse("6e400003-b5a3-f393-e0a9-e50e24dcca9e")
	indicateUUID = uuid.MustParse("6e400004-b5a3-f393-e0a9-e50e24dcca9e")
	notifyUUID   = uuid.MustParse("6e400005-b5a3-f393-e0a9-e50e24dcca9e")
	missingUUID  = uuid.MustParse("6e4000ff-b5a3-f393-e0a9-e50e24dcca9e")

	addrRead     = gatt.NewAddress(svcUUID, readUUID)
	addrWrite    = gatt.NewAddress(svcUUID, writeUUID)
	addrIndicate = gatt.NewAddress(svcUUID, indicateUUID)
	addrNotify   = gatt.NewAddress(svcUUID, notifyUUID)
	cccdIndicate = addrIndicate.WithDescriptor(gatt.CCCDUUID)
	cccdNotify   = addrNotify.WithDescriptor(gatt.CCCDUUID)
)

const (
	peerA = "peer-a"
	peerB = "peer-b"
)

func serverTable(t *testing.T) *gatt.Table {
	t.Helper()
	table, err := gatt.NewTableBuilder().
		Service(svcUUID).
		Characteristic(readUUID, gatt.PropRead).
		Characteristic(writeUUID, gatt.PropWrite|gatt.PropWriteWithoutResponse).
		Characteristic(indicateUUID, gatt.PropIndicate).
		Characteristic(notifyUUID, gatt.PropNotify).
		Build()
	require.NoError(t, err)
	return table
}

// stubTransport records responses and notifications.
type stubTransport struct{ mock.Mock }

func (s *stubTransport) Open(table *gatt.Table, h RequestHandler) error {
	return s.Called(table, h).Error(0)
}

func (s *stubTransport) Close() error { return s.Called().Error(0) }

func (s *stubTransport) SendResponse(peer string, requestID int, status att.Status, value []byte) error {
	return s.Called(peer, requestID, status, value).Error(0)
}

func (s *stubTransport) Notify(peer string, addr gatt.Address, value []byte, confirm bool) error {
	return s.Called(peer, addr, value, confirm).Error(0)
}

// responses returns the calls made to SendResponse for requestID.
func (s *stubTransport) responses(requestID int) []mock.Call {
	var out []mock.Call
	for _, c := range s.Calls {
		if c.Method == "SendResponse" && c.Arguments.Int(1) == requestID {
			out = append(out, c)
		}
	}
	return out
}

type stubCallback struct{ mock.Mock }

func (c *stubCallback) OnLifecycle(peer string, state Lifecycle) { c.Called(peer, state) }
func (c *stubCallback) OnWrite(peer string, addr gatt.Address, value []byte) {
	c.Called(peer, addr, value)
}

func newResponder(t *testing.T) (*Responder, *stubTransport, *stubCallback, *journal.Memory) {
	t.Helper()
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(nil).Maybe()
	tr.On("Close").Return(nil).Maybe()
	tr.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()
	tr.On("Notify", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Maybe()

	cb := &stubCallback{}
	cb.On("OnLifecycle", mock.Anything, mock.Anything).Maybe()
	cb.On("OnWrite", mock.Anything, mock.Anything, mock.Anything).Maybe()

	mem := &journal.Memory{}
	r := NewResponder(tr, cb, Options{Journal: mem})
	require.NoError(t, r.StartServer(serverTable(t)))
	return r, tr, cb, mem
}

func subscribe(r *Responder, id int, peer string, addr gatt.Address, value []byte) {
	r.OnDescriptorWriteRequest(Request{ID: id, Peer: peer, Address: addr, Value: value, ResponseNeeded: true})
}

func TestReadRequest(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	r.OnReadRequest(Request{ID: 1, Peer: peerA, Address: addrRead})
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusSuccess, DefaultReadValue)

	r.OnReadRequest(Request{ID: 2, Peer: peerA, Address: addrWrite})
	tr.AssertCalled(t, "SendResponse", peerA, 2, att.StatusReadNotPermitted, []byte(nil))

	r.OnReadRequest(Request{ID: 3, Peer: peerA, Address: gatt.NewAddress(svcUUID, missingUUID)})
	tr.AssertCalled(t, "SendResponse", peerA, 3, att.StatusFailure, []byte(nil))
}

func TestReadRequestValueSourceError(t *testing.T) {
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(nil)
	tr.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	r := NewResponder(tr, nil, Options{Values: func(string, gatt.Address) ([]byte, error) {
		return nil, errors.New("sensor offline")
	}})
	require.NoError(t, r.StartServer(serverTable(t)))

	r.OnReadRequest(Request{ID: 7, Peer: peerA, Address: addrRead})
	tr.AssertCalled(t, "SendResponse", peerA, 7, att.StatusFailure, []byte(nil))
}

func TestWriteRequestEchoesAndForwards(t *testing.T) {
	r, tr, cb, _ := newResponder(t)
	payload := []byte{0xCA, 0xFE}

	r.OnWriteRequest(Request{ID: 1, Peer: peerA, Address: addrWrite, Value: payload, ResponseNeeded: true})
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusSuccess, payload)
	cb.AssertCalled(t, "OnWrite", peerA, addrWrite, payload)

	// write command: forwarded, never answered
	r.OnWriteRequest(Request{ID: 2, Peer: peerA, Address: addrWrite, Value: []byte{0x01}})
	assert.Empty(t, tr.responses(2))
	cb.AssertCalled(t, "OnWrite", peerA, addrWrite, []byte{0x01})
}

func TestWriteRequestRejected(t *testing.T) {
	r, tr, cb, _ := newResponder(t)

	r.OnWriteRequest(Request{ID: 1, Peer: peerA, Address: addrRead, Value: []byte{1}, ResponseNeeded: true})
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusWriteNotPermitted, []byte(nil))
	cb.AssertNotCalled(t, "OnWrite", mock.Anything, mock.Anything, mock.Anything)
}

func TestDescriptorWriteSubscribes(t *testing.T) {
	r, tr, cb, mem := newResponder(t)

	subscribe(r, 1, peerA, cccdIndicate, gatt.EnableIndicationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusSuccess, []byte(nil))
	cb.AssertCalled(t, "OnLifecycle", peerA, LifecycleConnectedAndSubscribed)
	assert.Equal(t, []string{peerA}, r.Subscribers(indicateUUID))

	entries := mem.Entries(journal.Filter{Kinds: []journal.Kind{journal.KindSubscribe}})
	require.Len(t, entries, 1)
	assert.Equal(t, peerA, entries[0].Peer)
	assert.Equal(t, journal.SourcePeripheral, entries[0].Source)

	subscribe(r, 2, peerA, cccdIndicate, gatt.DisableNotificationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 2, att.StatusSuccess, []byte(nil))
	cb.AssertCalled(t, "OnLifecycle", peerA, LifecycleConnectedAndUnsubscribed)
	assert.Empty(t, r.Subscribers(indicateUUID))
}

func TestDescriptorWriteUnsupportedValue(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	// notification requested on an indicate characteristic
	subscribe(r, 1, peerA, cccdIndicate, gatt.EnableNotificationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusRequestNotSupported, []byte(nil))

	subscribe(r, 2, peerA, cccdIndicate, []byte{0x07})
	tr.AssertCalled(t, "SendResponse", peerA, 2, att.StatusRequestNotSupported, []byte(nil))

	assert.Empty(t, r.Subscribers(indicateUUID))
}

func TestDescriptorWriteNotifyOnly(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	subscribe(r, 1, peerA, cccdNotify, gatt.EnableNotificationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusSuccess, []byte(nil))
	assert.Equal(t, []string{peerA}, r.Subscribers(notifyUUID))

	subscribe(r, 2, peerB, cccdNotify, gatt.EnableIndicationValue())
	tr.AssertCalled(t, "SendResponse", peerB, 2, att.StatusRequestNotSupported, []byte(nil))
}

func TestDescriptorWriteWithoutResponseStillSubscribes(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	r.OnDescriptorWriteRequest(Request{ID: 1, Peer: peerA, Address: cccdIndicate, Value: gatt.EnableIndicationValue()})
	assert.Empty(t, tr.responses(1))
	assert.Equal(t, []string{peerA}, r.Subscribers(indicateUUID))
}

func TestDescriptorUnknownAttribute(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	subscribe(r, 1, peerA, addrRead.WithDescriptor(gatt.CCCDUUID), gatt.EnableIndicationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusFailure, []byte(nil))

	r.OnDescriptorReadRequest(Request{ID: 2, Peer: peerA, Address: gatt.NewAddress(svcUUID, missingUUID).WithDescriptor(gatt.CCCDUUID)})
	tr.AssertCalled(t, "SendResponse", peerA, 2, att.StatusFailure, []byte(nil))
}

func TestDescriptorOtherThanCCCDFails(t *testing.T) {
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(nil)
	tr.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	table, err := gatt.NewTableBuilder().
		Service(svcUUID).
		Characteristic(indicateUUID, gatt.PropIndicate, gatt.UserDescriptionUUID).
		Build()
	require.NoError(t, err)
	r := NewResponder(tr, nil, Options{})
	require.NoError(t, r.StartServer(table))

	desc := addrIndicate.WithDescriptor(gatt.UserDescriptionUUID)
	r.OnDescriptorReadRequest(Request{ID: 1, Peer: peerA, Address: desc})
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusFailure, []byte(nil))

	r.OnDescriptorWriteRequest(Request{ID: 2, Peer: peerA, Address: desc, Value: gatt.EnableIndicationValue(), ResponseNeeded: true})
	tr.AssertCalled(t, "SendResponse", peerA, 2, att.StatusFailure, []byte(nil))
	assert.Empty(t, r.Subscribers(indicateUUID))

	// the CCCD next to it still works
	subscribe(r, 3, peerA, cccdIndicate, gatt.EnableIndicationValue())
	tr.AssertCalled(t, "SendResponse", peerA, 3, att.StatusSuccess, []byte(nil))
}

func TestDescriptorReadReportsSubscription(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	r.OnDescriptorReadRequest(Request{ID: 1, Peer: peerA, Address: cccdIndicate})
	tr.AssertCalled(t, "SendResponse", peerA, 1, att.StatusSuccess, gatt.DisableNotificationValue())

	subscribe(r, 2, peerA, cccdIndicate, gatt.EnableIndicationValue())

	r.OnDescriptorReadRequest(Request{ID: 3, Peer: peerA, Address: cccdIndicate})
	tr.AssertCalled(t, "SendResponse", peerA, 3, att.StatusSuccess, gatt.EnableNotificationValue())

	// other peers see their own state
	r.OnDescriptorReadRequest(Request{ID: 4, Peer: peerB, Address: cccdIndicate})
	tr.AssertCalled(t, "SendResponse", peerB, 4, att.StatusSuccess, gatt.DisableNotificationValue())
}

func TestEveryRequestAnsweredOnce(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	reqs := []func(id int){
		func(id int) { r.OnReadRequest(Request{ID: id, Peer: peerA, Address: addrRead}) },
		func(id int) { r.OnReadRequest(Request{ID: id, Peer: peerA, Address: addrNotify}) },
		func(id int) {
			r.OnWriteRequest(Request{ID: id, Peer: peerA, Address: addrWrite, Value: []byte{1}, ResponseNeeded: true})
		},
		func(id int) {
			r.OnWriteRequest(Request{ID: id, Peer: peerA, Address: addrIndicate, Value: []byte{1}, ResponseNeeded: true})
		},
		func(id int) { r.OnDescriptorReadRequest(Request{ID: id, Peer: peerA, Address: cccdNotify}) },
		func(id int) { r.OnDescriptorReadRequest(Request{ID: id, Peer: peerA, Address: addrNotify}) },
		func(id int) { subscribe(r, id, peerA, cccdNotify, gatt.EnableNotificationValue()) },
		func(id int) { subscribe(r, id, peerA, cccdNotify, []byte{0xFF, 0xFF, 0xFF}) },
		func(id int) { subscribe(r, id, peerA, gatt.NewAddress(missingUUID, missingUUID), nil) },
	}
	for i, fn := range reqs {
		fn(i + 1)
		assert.Len(t, tr.responses(i+1), 1, "request %d", i+1)
	}
}

func TestResponseFailureStillCountsAsAnswer(t *testing.T) {
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(nil)
	tr.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("radio off"))
	r := NewResponder(tr, nil, Options{})
	require.NoError(t, r.StartServer(serverTable(t)))

	subscribe(r, 1, peerA, cccdIndicate, gatt.EnableIndicationValue())
	assert.Len(t, tr.responses(1), 1)
	assert.Equal(t, []string{peerA}, r.Subscribers(indicateUUID))
}

func TestConcurrentSubscribeThenDisconnect(t *testing.T) {
	r, tr, cb, _ := newResponder(t)

	var wg sync.WaitGroup
	for i, peer := range []string{peerA, peerB} {
		wg.Add(1)
		go func(id int, peer string) {
			defer wg.Done()
			r.OnConnectionStateChange(peer, true)
			subscribe(r, id, peer, cccdIndicate, gatt.EnableIndicationValue())
		}(i+1, peer)
	}
	wg.Wait()
	assert.Equal(t, []string{peerA, peerB}, r.Subscribers(indicateUUID))

	r.OnConnectionStateChange(peerA, false)
	assert.Equal(t, []string{peerB}, r.Subscribers(indicateUUID))
	cb.AssertCalled(t, "OnLifecycle", peerA, LifecycleDisconnected)

	n, err := r.Notify(indicateUUID, []byte("hi"))
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	tr.AssertCalled(t, "Notify", peerB, addrIndicate, []byte("hi"), true)
	tr.AssertNotCalled(t, "Notify", peerA, mock.Anything, mock.Anything, mock.Anything)
}

func TestNotifyReachesOnlySubscribers(t *testing.T) {
	r, tr, _, mem := newResponder(t)

	subscribe(r, 1, peerA, cccdNotify, gatt.EnableNotificationValue())

	n, err := r.Notify(notifyUUID, []byte{0x42})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	tr.AssertCalled(t, "Notify", peerA, addrNotify, []byte{0x42}, false)

	n, err = r.Notify(indicateUUID, []byte{0x42})
	require.NoError(t, err)
	assert.Zero(t, n)

	_, err = r.Notify(missingUUID, nil)
	assert.ErrorIs(t, err, att.ErrAttributeNotFound)

	_, err = r.Notify(readUUID, nil)
	assert.Error(t, err)

	assert.Len(t, mem.Entries(journal.Filter{Kinds: []journal.Kind{journal.KindNotify}}), 1)
}

func TestNotifySkipsFailingPeer(t *testing.T) {
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(nil)
	tr.On("SendResponse", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	tr.On("Notify", peerA, mock.Anything, mock.Anything, mock.Anything).Return(errors.New("gone"))
	tr.On("Notify", peerB, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	r := NewResponder(tr, nil, Options{})
	require.NoError(t, r.StartServer(serverTable(t)))

	subscribe(r, 1, peerA, cccdIndicate, gatt.EnableIndicationValue())
	subscribe(r, 2, peerB, cccdIndicate, gatt.EnableIndicationValue())

	n, err := r.Notify(indicateUUID, []byte{1})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestServerLifecycle(t *testing.T) {
	r, tr, _, _ := newResponder(t)

	assert.True(t, r.Running())
	assert.Error(t, r.StartServer(serverTable(t)))

	subscribe(r, 1, peerA, cccdIndicate, gatt.EnableIndicationValue())
	require.NoError(t, r.StopServer())
	assert.False(t, r.Running())
	assert.Empty(t, r.Subscribers(indicateUUID))
	tr.AssertNumberOfCalls(t, "Close", 1)

	_, err := r.Notify(indicateUUID, nil)
	assert.ErrorIs(t, err, ErrNotRunning)

	r.OnReadRequest(Request{ID: 9, Peer: peerA, Address: addrRead})
	tr.AssertCalled(t, "SendResponse", peerA, 9, att.StatusFailure, []byte(nil))

	require.NoError(t, r.StopServer())
	tr.AssertNumberOfCalls(t, "Close", 1)
}

func TestStartServerTransportError(t *testing.T) {
	tr := &stubTransport{}
	tr.On("Open", mock.Anything, mock.Anything).Return(errors.New("adapter off"))
	r := NewResponder(tr, nil, Options{})

	assert.Error(t, r.StartServer(serverTable(t)))
	assert.False(t, r.Running())
	assert.Error(t, r.StartServer(nil))
}
