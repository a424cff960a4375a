package wire

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDeterministicSimulatorRepeats(t *testing.T) {
	cfg := &SimulationConfig{BusyRate: 0.5, AsyncFailureRate: 0.5, Deterministic: true, Seed: 42}
	a, b := NewSimulator(cfg), NewSimulator(cfg)

	for i := 0; i < 100; i++ {
		assert.Equal(t, a.ShouldRejectBusy(), b.ShouldRejectBusy(), "draw %d", i)
		assert.Equal(t, a.ShouldFailAsync(), b.ShouldFailAsync(), "draw %d", i)
	}
}

func TestSimulatorRates(t *testing.T) {
	never := NewSimulator(PerfectSimulationConfig())
	always := NewSimulator(&SimulationConfig{ConnectionFailureRate: 1, BusyRate: 1, AsyncFailureRate: 1})

	for i := 0; i < 20; i++ {
		assert.True(t, never.ShouldConnectionSucceed())
		assert.False(t, never.ShouldRejectBusy())
		assert.False(t, never.ShouldFailAsync())

		assert.False(t, always.ShouldConnectionSucceed())
		assert.True(t, always.ShouldRejectBusy())
		assert.True(t, always.ShouldFailAsync())
	}
}

func TestSimulatorDelays(t *testing.T) {
	perfect := NewSimulator(PerfectSimulationConfig())
	assert.Zero(t, perfect.ConnectionDelay())
	assert.Zero(t, perfect.OperationDelay())

	sim := NewSimulator(nil)
	for i := 0; i < 50; i++ {
		d := sim.OperationDelay()
		assert.GreaterOrEqual(t, d, 8*time.Millisecond)
		assert.Less(t, d, 50*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, sim.BondingDelay())
}
