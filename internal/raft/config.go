package raft

import (
	"time"

	"github.com/btmorr/raftkv/internal/statemachine"
)

// defaultTickInterval is used when a NodeConfig doesn't specify one
// (spec.md §4.5 "default TICK = 100 ms").
const defaultTickInterval = 100 * time.Millisecond

// NodeConfig holds the configurable identity of a node: its id, its
// peers, and the wall-clock duration of one logical tick. Loading this
// from flags, environment, or a config file is a CLI concern and is left
// to callers; they construct it directly.
type NodeConfig struct {
	ID           string
	Peers        []string
	TickInterval time.Duration
}

// NewNode wires a NodeConfig, a recovered Log, a State Machine, and a
// Transport into a Driver. The Driver is not started; the caller runs its
// Run method.
func NewNode(config NodeConfig, log *Log, state statemachine.StateMachine, transport Transport) *Driver {
	interval := config.TickInterval
	if interval <= 0 {
		interval = defaultTickInterval
	}
	return NewDriver(config.ID, config.Peers, log, state, transport, interval)
}
