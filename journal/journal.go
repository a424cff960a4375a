package journal

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// Journal receives transaction-layer entries.
// Implementations must be safe for concurrent use and must not block.
type Journal interface {
	Record(e Entry)
}

// Nop discards all entries. Usable as a zero value.
type Nop struct{}

func (Nop) Record(Entry) {}

// OrNop returns j, or Nop when j is nil.
func OrNop(j Journal) Journal {
	if j == nil {
		return Nop{}
	}
	return j
}

// FileJournal appends CBOR-encoded entries to a file.
type FileJournal struct {
	file    *os.File
	encoder *cbor.Encoder
	mu      sync.Mutex
	closed  bool
}

// OpenFile opens (or creates) path for appending.
func OpenFile(path string) (*FileJournal, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileJournal{
		file:    f,
		encoder: NewEncoder(f),
	}, nil
}

// Record appends e. Calls after Close are ignored.
func (j *FileJournal) Record(e Entry) {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return
	}
	// Journal failures must not disturb the transaction layer
	_ = j.encoder.Encode(e)
}

// Close closes the file. Safe to call more than once.
func (j *FileJournal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}
	j.closed = true
	return j.file.Close()
}

// Memory keeps entries in memory, for tests and the interactive console.
type Memory struct {
	mu      sync.Mutex
	entries []Entry
}

func (m *Memory) Record(e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, e)
}

// Entries returns a copy of everything recorded that matches f.
func (m *Memory) Entries(f Filter) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Entry
	for _, e := range m.entries {
		if f.matches(e) {
			out = append(out, e)
		}
	}
	return out
}

// Reset forgets all entries.
func (m *Memory) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = nil
}

// Multi fans entries out to several journals.
type Multi []Journal

func (m Multi) Record(e Entry) {
	for _, j := range m {
		j.Record(e)
	}
}

var (
	_ Journal = Nop{}
	_ Journal = (*FileJournal)(nil)
	_ Journal = (*Memory)(nil)
	_ Journal = Multi(nil)
)
