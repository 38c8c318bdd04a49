// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

// Package fleet boots and controls the virtual machines a validation run
// exercises. Nodes are reached over ssh on the fleet managed mgmt interface
// only, the data plane interfaces belong to the topology under test.
package fleet

import (
	"context"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/expbackoff"
	"github.com/quoratelab/quorate/app/z"
	"github.com/quoratelab/quorate/topo"
)

// ErrWaitTimeout is returned by Await when the condition does not hold
// within the configured timeout.
var ErrWaitTimeout = errors.NewSentinel("await timeout")

// Execer runs a single shell command on a node.
type Execer interface {
	// Exec runs the command and returns its result. A non-zero exit code is
	// not an error, errors indicate the command could not be run at all.
	Exec(ctx context.Context, command string) (ExecResult, error)
}

// Node is a booted fleet member.
type Node interface {
	Execer

	// Name returns the node name.
	Name() string
	// WriteFile writes the file on the node, creating parent directories.
	WriteFile(ctx context.Context, path string, data []byte) error
	// ReadFile returns the content of the file on the node.
	ReadFile(ctx context.Context, path string) ([]byte, error)
	// WaitForPort blocks until the TCP port accepts connections on the node
	// itself, observed from inside the node.
	WaitForPort(ctx context.Context, port int) error
	// Close releases the node.
	Close() error
}

// Fleet boots nodes.
type Fleet interface {
	// Boot starts the node and blocks until it accepts commands.
	Boot(ctx context.Context, spec topo.NodeSpec) (Node, error)
	// Close releases all booted nodes.
	Close() error
}

// ExecResult is the outcome of a command that ran to completion.
type ExecResult struct {
	Command  string
	ExitCode int
	Stdout   string
	Stderr   string
}

// Ok returns true if the command exited zero.
func (r ExecResult) Ok() bool {
	return r.ExitCode == 0
}

// Output returns trimmed stdout and stderr combined.
func (r ExecResult) Output() string {
	var parts []string
	for _, part := range []string{r.Stdout, r.Stderr} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}

	return strings.Join(parts, "\n")
}

// Await polls the condition at the interval until it reports done, the
// timeout elapses or the context is canceled. A condition error is fatal and
// aborts the poll immediately.
func Await(ctx context.Context, clock clockwork.Clock, interval, timeout time.Duration,
	condition func(context.Context) (bool, error),
) error {
	deadline := clock.Now().Add(timeout)

	for {
		done, err := condition(ctx)
		if err != nil {
			return err
		} else if done {
			return nil
		}

		if !clock.Now().Before(deadline) {
			return errors.Wrap(ErrWaitTimeout, "condition not met", z.Str("timeout", timeout.String()))
		}

		select {
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), "await canceled")
		case <-clock.After(interval):
		}
	}
}

// ExecRetry runs the command retrying transport failures with exponential
// backoff. Non-zero exit codes are results, not failures, and do not retry.
func ExecRetry(ctx context.Context, node Execer, command string, attempts int) (ExecResult, error) {
	backoff := expbackoff.New(ctx, expbackoff.WithFastConfig())

	var lastErr error

	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			break
		}

		res, err := node.Exec(ctx, command)
		if err == nil {
			return res, nil
		}

		lastErr = err

		backoff()
	}

	if ctx.Err() != nil {
		return ExecResult{}, errors.Wrap(ctx.Err(), "exec retry canceled", z.Str("command", command))
	}

	return ExecResult{}, errors.Wrap(lastErr, "exec retries exhausted",
		z.Str("command", command), z.Int("attempts", attempts))
}
