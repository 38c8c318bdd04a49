// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package testutil

import (
	"fmt"
	"math/rand"
	"net/netip"
	"testing"
	"time"

	fuzz "github.com/google/gofuzz"

	"github.com/quoratelab/quorate/topo"
)

// NewTopologyFuzzer returns a fuzzer for wire valid topology types using the
// provided seed, unless seed is zero in which case it uses current time.
//
// Note fuzzed profiles marshal and load cleanly but are not semantically
// valid against any node set.
func NewTopologyFuzzer(t *testing.T, seed int64) *fuzz.Fuzzer {
	t.Helper()

	if seed == 0 {
		seed = time.Now().Unix()
	}

	return fuzz.New().
		RandSource(rand.New(rand.NewSource(seed))). //nolint:gosec // Required for deterministic fuzzing.
		NilChance(0).
		NumElements(1, 4).
		Funcs(
			// Profile strings name nodes, networks and devices.
			func(e *string, c fuzz.Continue) {
				prefixes := []string{"node", "eth", "bond", "net"}
				*e = fmt.Sprintf("%s%d", prefixes[c.Intn(len(prefixes))], c.Intn(100))
			},
			// Roles must be one of the two cluster roles.
			func(e *topo.Role, c fuzz.Continue) {
				roles := []topo.Role{topo.RoleServer, topo.RoleAgent}
				*e = roles[c.Intn(len(roles))]
			},
			// Zero prefixes do not survive text marshalling.
			func(e *netip.Prefix, c fuzz.Continue) {
				addr := netip.AddrFrom4([4]byte{10, byte(c.Intn(250)), byte(c.Intn(250)), byte(1 + c.Intn(250))})
				*e = netip.PrefixFrom(addr, 24)
			},
			// Bond monitor intervals are positive round milliseconds.
			func(e *topo.Duration, c fuzz.Continue) {
				e.Duration = time.Duration(1+c.Intn(1000)) * time.Millisecond
			},
			// VLAN tags must be in the 802.1Q range.
			func(e *map[string]int, c fuzz.Continue) {
				tags := make(map[string]int)
				n := 1 + c.Intn(3)
				for i := 0; i < n; i++ {
					tags[fmt.Sprintf("net%d", i)] = 1 + c.Intn(4094)
				}

				*e = tags
			},
		)
}
