// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package formation

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from NodeState
		to   NodeState
		ok   bool
	}{
		{StateUnknown, StateBooting, true},
		{StateBooting, StateNetworkConfigured, true},
		{StateNetworkConfigured, StateServiceStarting, true},
		{StateServiceStarting, StateJoined, true},
		{StateJoined, StateReady, true},
		{StateUnknown, StateNetworkConfigured, false}, // Skipping a state
		{StateBooting, StateServiceStarting, false},
		{StateJoined, StateBooting, false}, // Backwards
		{StateReady, StateJoined, false},
		{StateBooting, StateBooting, false}, // No self transitions
		{StateUnknown, StateFailed, true},   // Failed reachable from anywhere
		{StateBooting, StateFailed, true},
		{StateJoined, StateFailed, true},
		{StateReady, StateFailed, true},
		{StateFailed, StateFailed, false}, // Failed is terminal
		{StateFailed, StateBooting, false},
		{StateReady, StateReady + 1, false}, // Ready is the last forward state
	}

	for _, test := range tests {
		require.Equal(t, test.ok, canTransition(test.from, test.to),
			"from=%s to=%s", test.from, test.to)
	}
}

func TestStateStrings(t *testing.T) {
	require.Equal(t, "Unknown", StateUnknown.String())
	require.Equal(t, "NetworkConfigured", StateNetworkConfigured.String())
	require.Equal(t, "Ready", StateReady.String())
	require.Equal(t, "Failed", StateFailed.String())
	require.Equal(t, "NodeState(99)", NodeState(99).String())
}
