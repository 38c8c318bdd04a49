// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Command quorate validates cluster formation on declarative network
// topologies using a local fleet of virtual machines.
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/quoratelab/quorate/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cobra.CheckErr(cmd.New().ExecuteContext(ctx))
}
