// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package testutil

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

// AvailableAddr returns an available local tcp address.
func AvailableAddr(t *testing.T) *net.TCPAddr {
	t.Helper()

	l, err := net.Listen("tcp", "localhost:0")
	require.NoError(t, err)
	defer l.Close()

	addr, err := net.ResolveTCPAddr(l.Addr().Network(), l.Addr().String())
	require.NoError(t, err)

	return addr
}
