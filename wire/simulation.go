package wire

import (
	"math/rand"
	"sync"
	"time"
)

// SimulationConfig controls the realism of the simulated radio.
// Rates are probabilities in [0, 1]; delays are in milliseconds.
type SimulationConfig struct {
	// Connection timing
	MinConnectionDelay    int     // Default: 30ms
	MaxConnectionDelay    int     // Default: 100ms
	ConnectionFailureRate float64 // Default: 0 (connect reported with GATT_FAILURE)

	// Per-operation latency (discovery, reads, writes)
	MinOperationDelay int // Default: 8ms (connection interval)
	MaxOperationDelay int // Default: 50ms

	// BusyRate is the chance a primitive is refused synchronously with
	// att.ErrLinkBusy even though the link is idle.
	BusyRate float64

	// AsyncFailureRate is the chance an accepted operation completes with
	// GATT_FAILURE without reaching the peripheral.
	AsyncFailureRate float64

	// BondOnConnect makes every connection start bonding; the bond
	// completes after BondingDelay.
	BondOnConnect bool
	BondingDelay  int // Default: 50ms

	// Deterministic mode for testing
	Deterministic bool // Default: false (use for reproducible scenarios)
	Seed          int64
}

// DefaultSimulationConfig returns realistic timing with a perfect link.
func DefaultSimulationConfig() *SimulationConfig {
	return &SimulationConfig{
		MinConnectionDelay: 30,
		MaxConnectionDelay: 100,

		MinOperationDelay: 8,
		MaxOperationDelay: 50,

		BondingDelay: 50,
	}
}

// PerfectSimulationConfig returns an instant, 100% reliable config for testing
func PerfectSimulationConfig() *SimulationConfig {
	return &SimulationConfig{Deterministic: true, Seed: 1}
}

// Simulator draws the random decisions of the radio. It is safe for
// concurrent use.
type Simulator struct {
	config *SimulationConfig

	mu  sync.Mutex
	rng *rand.Rand
}

// NewSimulator creates a new simulator
func NewSimulator(config *SimulationConfig) *Simulator {
	if config == nil {
		config = DefaultSimulationConfig()
	}

	var rng *rand.Rand
	if config.Deterministic {
		rng = rand.New(rand.NewSource(config.Seed))
	} else {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return &Simulator{
		config: config,
		rng:    rng,
	}
}

// Config returns the simulator's configuration.
func (s *Simulator) Config() SimulationConfig {
	return *s.config
}

func (s *Simulator) chance(rate float64) bool {
	if rate <= 0 {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rng.Float64() < rate
}

func (s *Simulator) between(minMs, maxMs int) time.Duration {
	if maxMs <= minMs {
		return time.Duration(minMs) * time.Millisecond
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Duration(minMs+s.rng.Intn(maxMs-minMs)) * time.Millisecond
}

// ShouldConnectionSucceed returns true if connection should succeed
func (s *Simulator) ShouldConnectionSucceed() bool {
	return !s.chance(s.config.ConnectionFailureRate)
}

// ShouldRejectBusy returns true if a primitive should be refused as busy
func (s *Simulator) ShouldRejectBusy() bool {
	return s.chance(s.config.BusyRate)
}

// ShouldFailAsync returns true if an accepted operation should fail
func (s *Simulator) ShouldFailAsync() bool {
	return s.chance(s.config.AsyncFailureRate)
}

// ConnectionDelay returns realistic connection delay
func (s *Simulator) ConnectionDelay() time.Duration {
	return s.between(s.config.MinConnectionDelay, s.config.MaxConnectionDelay)
}

// OperationDelay returns the latency of one GATT operation
func (s *Simulator) OperationDelay() time.Duration {
	return s.between(s.config.MinOperationDelay, s.config.MaxOperationDelay)
}

// BondingDelay returns how long bonding takes
func (s *Simulator) BondingDelay() time.Duration {
	return time.Duration(s.config.BondingDelay) * time.Millisecond
}
