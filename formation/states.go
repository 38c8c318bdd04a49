// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package formation drives cluster formation over a booted fleet, the
// primary-init, secondary-join and agent-join protocol, and tracks per node
// lifecycle states.
package formation

import (
	"context"
	"sync"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/log"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/topo"
)

//go:generate go tool stringer -type=NodeState -trimprefix=State

// NodeState is the lifecycle state of a node during formation. States only
// move forward, except that any state may jump to failed.
type NodeState int

const (
	StateUnknown NodeState = iota
	StateBooting
	StateNetworkConfigured
	StateServiceStarting
	StateJoined
	StateReady
	StateFailed
)

// canTransition returns true for the single forward step in the lifecycle or
// a jump to failed from any live state.
func canTransition(from, to NodeState) bool {
	if to == StateFailed {
		return from != StateFailed
	}

	return to == from+1 && to <= StateReady
}

// Tracker records node lifecycle states and enforces monotonic transitions.
// An invalid transition is a driver bug, not a cluster failure.
type Tracker struct {
	mu     sync.Mutex
	states map[string]NodeState
}

// NewTracker returns a tracker with all nodes in the unknown state.
func NewTracker(nodes []topo.NodeSpec) *Tracker {
	states := make(map[string]NodeState)
	for _, node := range nodes {
		states[node.Name] = StateUnknown
		nodeState.WithLabelValues(node.Name).Set(float64(StateUnknown))
	}

	return &Tracker{states: states}
}

// Transition moves the node to the new state.
func (t *Tracker) Transition(ctx context.Context, node string, to NodeState) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	from, ok := t.states[node]
	if !ok {
		return errors.New("transition for unknown node", z.Str("node", node))
	}

	if !canTransition(from, to) {
		return errors.New("invalid state transition", z.Str("node", node),
			z.Str("from", from.String()), z.Str("to", to.String()))
	}

	t.states[node] = to
	nodeState.WithLabelValues(node).Set(float64(to))

	log.Info(ctx, "Node state", z.Str("node", node), z.Str("state", to.String()))

	return nil
}

// State returns the current state of the node.
func (t *Tracker) State(node string) NodeState {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.states[node]
}

// Snapshot returns a copy of all node states.
func (t *Tracker) Snapshot() map[string]NodeState {
	t.mu.Lock()
	defer t.mu.Unlock()

	resp := make(map[string]NodeState, len(t.states))
	for node, state := range t.states {
		resp[node] = state
	}

	return resp
}

// CountIn returns the number of nodes in the state.
func (t *Tracker) CountIn(state NodeState) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	var count int
	for _, s := range t.states {
		if s == state {
			count++
		}
	}

	return count
}
