// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package fleet_test

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/quoratelab/quorate/app/errors"
	"github.com/quoratelab/quorate/app/expbackoff"
	"github.com/quoratelab/quorate/fleet"
)

func TestAwait(t *testing.T) {
	ctx := context.Background()

	t.Run("immediate", func(t *testing.T) {
		clock := clockwork.NewFakeClock()

		err := fleet.Await(ctx, clock, time.Second, time.Minute, func(context.Context) (bool, error) {
			return true, nil
		})
		require.NoError(t, err)
	})

	t.Run("after retries", func(t *testing.T) {
		clock := clockwork.NewFakeClock()

		var calls int
		done := make(chan error, 1)

		go func() {
			done <- fleet.Await(ctx, clock, time.Second, time.Minute, func(context.Context) (bool, error) {
				calls++
				return calls >= 3, nil
			})
		}()

		for i := 0; i < 2; i++ {
			clock.BlockUntil(1)
			clock.Advance(time.Second)
		}

		require.NoError(t, <-done)
		require.Equal(t, 3, calls)
	})

	t.Run("timeout", func(t *testing.T) {
		clock := clockwork.NewFakeClock()

		done := make(chan error, 1)

		go func() {
			done <- fleet.Await(ctx, clock, time.Second, 3*time.Second, func(context.Context) (bool, error) {
				return false, nil
			})
		}()

		for range 3 {
			clock.BlockUntil(1)
			clock.Advance(time.Second)
		}

		require.ErrorIs(t, <-done, fleet.ErrWaitTimeout)
	})

	t.Run("fatal condition", func(t *testing.T) {
		clock := clockwork.NewFakeClock()

		err := fleet.Await(ctx, clock, time.Second, time.Minute, func(context.Context) (bool, error) {
			return false, errors.New("node exploded")
		})
		require.ErrorContains(t, err, "node exploded")
	})

	t.Run("canceled", func(t *testing.T) {
		clock := clockwork.NewFakeClock()

		cctx, cancel := context.WithCancel(ctx)
		cancel()

		err := fleet.Await(cctx, clock, time.Second, time.Minute, func(context.Context) (bool, error) {
			return false, nil
		})
		require.ErrorContains(t, err, "await canceled")
	})
}

type flakyExecer struct {
	fails    int
	exitCode int
	calls    int
}

func (e *flakyExecer) Exec(_ context.Context, command string) (fleet.ExecResult, error) {
	e.calls++
	if e.calls <= e.fails {
		return fleet.ExecResult{}, errors.New("transport down")
	}

	return fleet.ExecResult{Command: command, ExitCode: e.exitCode, Stdout: "ok\n"}, nil
}

func TestExecRetry(t *testing.T) {
	expbackoff.SetAfterForT(t, func(time.Duration) <-chan time.Time {
		ch := make(chan time.Time, 1)
		ch <- time.Time{}

		return ch
	})

	ctx := context.Background()

	t.Run("recovers", func(t *testing.T) {
		execer := &flakyExecer{fails: 2}

		res, err := fleet.ExecRetry(ctx, execer, "uptime", 5)
		require.NoError(t, err)
		require.True(t, res.Ok())
		require.Equal(t, 3, execer.calls)
	})

	t.Run("exhausted", func(t *testing.T) {
		execer := &flakyExecer{fails: 10}

		_, err := fleet.ExecRetry(ctx, execer, "uptime", 3)
		require.ErrorContains(t, err, "exec retries exhausted")
		require.Equal(t, 3, execer.calls)
	})

	t.Run("exit code is not retried", func(t *testing.T) {
		execer := &flakyExecer{exitCode: 1}

		res, err := fleet.ExecRetry(ctx, execer, "false", 3)
		require.NoError(t, err)
		require.Equal(t, 1, execer.calls)
		require.False(t, res.Ok())
	})
}

func TestExecResultOutput(t *testing.T) {
	res := fleet.ExecResult{Stdout: "out\n", Stderr: "err\n"}
	require.Equal(t, "out\nerr", res.Output())

	res = fleet.ExecResult{Stdout: "out\n"}
	require.Equal(t, "out", res.Output())

	res = fleet.ExecResult{}
	require.Empty(t, res.Output())

	require.True(t, fleet.ExecResult{}.Ok())
	require.False(t, fleet.ExecResult{ExitCode: 1}.Ok())
}
