package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/user/bluelane/wire/gatt"
)

// Validate checks c for structural correctness and reports every problem
// found as one joined error.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...interface{}) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Central.MaxRetryCount < 1 {
		add("central.max_retry_count must be >= 1")
	}
	if c.Central.OperationTimeout < 0 {
		add("central.operation_timeout must not be negative")
	}
	if c.Central.QueueCapacity < 0 {
		add("central.queue_capacity must not be negative")
	}

	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}

	chars := make(map[uuid.UUID]gatt.Property)
	if _, err := uuid.Parse(c.Profile.Service); err != nil {
		add("profile.service: %v", err)
	}
	if len(c.Profile.Characteristics) == 0 {
		add("profile must declare at least one characteristic")
	}
	for i, ch := range c.Profile.Characteristics {
		id, err := uuid.Parse(ch.UUID)
		if err != nil {
			add("profile.characteristics[%d].uuid: %v", i, err)
			continue
		}
		if _, dup := chars[id]; dup {
			add("profile.characteristics[%d]: duplicate uuid %s", i, id)
		}
		props, err := gatt.ParseProperties(ch.Properties)
		if err != nil {
			add("profile.characteristics[%d]: %v", i, err)
		}
		chars[id] = props
	}

	for i, s := range c.Subscriptions {
		id, err := uuid.Parse(s.Characteristic)
		if err != nil {
			add("subscriptions[%d].characteristic: %v", i, err)
			continue
		}
		props, ok := chars[id]
		if !ok {
			add("subscriptions[%d]: %s is not in the profile", i, id)
			continue
		}
		if props&(gatt.PropNotify|gatt.PropIndicate) == 0 {
			add("subscriptions[%d]: %s supports neither notify nor indicate", i, id)
		}
	}

	sim := c.Simulation
	rates := []struct {
		name string
		v    float64
	}{
		{"busy_rate", sim.BusyRate},
		{"failure_rate", sim.FailureRate},
		{"async_failure_rate", sim.AsyncFailureRate},
	}
	for _, r := range rates {
		if r.v < 0 || r.v > 1 {
			add("simulation.%s must be within [0, 1], got %v", r.name, r.v)
		}
	}
	if sim.ConnectionDelayMs < 0 || sim.OperationDelayMs < 0 || sim.BondingDelayMs < 0 {
		add("simulation delays must not be negative")
	}

	return errors.Join(errs...)
}
