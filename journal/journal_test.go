package journal

import (
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntry(kind Kind, peer string) Entry {
	return Entry{
		Time:    time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC),
		Source:  SourceCentral,
		Peer:    peer,
		Kind:    kind,
		Detail:  "write-characteristic 6e400001/6e400003",
		Attempt: 2,
		Status:  257,
	}
}

func TestEncodeDecodeEntry(t *testing.T) {
	in := sampleEntry(KindRetry, "peer-a")

	data, err := EncodeEntry(in)
	require.NoError(t, err)

	out, err := DecodeEntry(data)
	require.NoError(t, err)
	assert.True(t, in.Time.Equal(out.Time), "nanosecond timestamp must survive")
	assert.Equal(t, in.Kind, out.Kind)
	assert.Equal(t, in.Peer, out.Peer)
	assert.Equal(t, in.Attempt, out.Attempt)
	assert.Equal(t, in.Status, out.Status)
}

func TestEncodingIsDeterministic(t *testing.T) {
	e := sampleEntry(KindIssue, "peer-a")
	a, err := EncodeEntry(e)
	require.NoError(t, err)
	b, err := EncodeEntry(e)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestFileJournalRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "session.journal")

	j, err := OpenFile(path)
	require.NoError(t, err)
	j.Record(sampleEntry(KindIssue, "peer-a"))
	j.Record(sampleEntry(KindComplete, "peer-a"))
	j.Record(sampleEntry(KindIssue, "peer-b"))
	require.NoError(t, j.Close())
	require.NoError(t, j.Close(), "second close is a no-op")

	// Ignored after close
	j.Record(sampleEntry(KindDrop, "peer-a"))

	all, err := ReadAll(path, Filter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	peerA, err := ReadAll(path, Filter{Peer: "peer-a"})
	require.NoError(t, err)
	assert.Len(t, peerA, 2)

	issues, err := ReadAll(path, Filter{Kinds: []Kind{KindIssue}})
	require.NoError(t, err)
	require.Len(t, issues, 2)
	assert.Equal(t, "peer-b", issues[1].Peer)
}

func TestReaderStopsAtEOF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "empty.journal")
	j, err := OpenFile(path)
	require.NoError(t, err)
	require.NoError(t, j.Close())

	r, err := NewReader(path)
	require.NoError(t, err)
	defer r.Close()

	_, err = r.Next()
	assert.Equal(t, io.EOF, err)
}

func TestMemoryConcurrentRecord(t *testing.T) {
	var m Memory
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				m.Record(sampleEntry(KindNotify, "peer"))
			}
		}()
	}
	wg.Wait()

	assert.Len(t, m.Entries(Filter{}), 400)

	periph := SourcePeripheral
	assert.Empty(t, m.Entries(Filter{Source: &periph}))

	m.Reset()
	assert.Empty(t, m.Entries(Filter{}))
}

func TestMultiAndNop(t *testing.T) {
	var a, b Memory
	Multi{&a, &b, OrNop(nil)}.Record(sampleEntry(KindState, ""))
	assert.Len(t, a.Entries(Filter{}), 1)
	assert.Len(t, b.Entries(Filter{}), 1)
}

func TestEntryStructView(t *testing.T) {
	s := sampleEntry(KindTimeout, "peer-a").Struct()
	assert.Equal(t, "timeout", s.Fields["kind"].GetStringValue())
	assert.Equal(t, "central", s.Fields["source"].GetStringValue())
	assert.Equal(t, float64(2), s.Fields["attempt"].GetNumberValue())

	bare := Entry{Kind: KindState}.Struct()
	_, hasPeer := bare.Fields["peer"]
	assert.False(t, hasPeer)
}

func TestParseKind(t *testing.T) {
	for k, name := range kindNames {
		got, ok := ParseKind(name)
		assert.True(t, ok)
		assert.Equal(t, k, got)
	}
	_, ok := ParseKind("nope")
	assert.False(t, ok)
}
