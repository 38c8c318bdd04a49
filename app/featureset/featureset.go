// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package featureset defines a set of global features and their rollout status.
package featureset

import "sync"

//go:generate stringer -type=status -trimprefix=status

// status enumerates the rollout status of a feature.
type status int

const (
	// statusAlpha is for internal lab testing.
	statusAlpha status = iota + 1
	// statusBeta is for internal and external release candidate testing.
	statusBeta
	// statusStable is for stable feature ready for production.
	statusStable
	// statusSentinel is an internal tail-end placeholder.
	statusSentinel // Must always be last
)

// Feature is a feature being rolled out.
type Feature string

const (
	// MockAlpha is a mock feature in alpha status for testing.
	MockAlpha Feature = "mock_alpha"

	// SegmentIsolation enables soft verification that traffic segments remain isolated,
	// routes and addresses of one segment must not leak onto another. Violations are
	// logged as warnings, never hard failures, since a shared test bridge cannot
	// guarantee L2 isolation.
	SegmentIsolation Feature = "segment_isolation"

	// BondFailover enables the post-formation bond member failover scenario, one bond
	// member link is taken down and the cluster registry must remain fully ready.
	BondFailover Feature = "bond_failover"

	// ParallelNetconf enables applying network configuration to all nodes concurrently
	// instead of the default sequential per-node application.
	ParallelNetconf Feature = "parallel_netconf"
)

var (
	// state defines the current rollout status of each feature.
	state = map[Feature]status{
		MockAlpha:        statusAlpha,
		SegmentIsolation: statusStable,
		BondFailover:     statusAlpha,
		ParallelNetconf:  statusAlpha,
		// Add all features and there status here.
	}

	// minStatus defines the minimum enabled status.
	minStatus = statusStable

	initMu sync.Mutex
)

// Enabled returns true if the feature is enabled.
func Enabled(feature Feature) bool {
	initMu.Lock()
	defer initMu.Unlock()

	return state[feature] >= minStatus
}
