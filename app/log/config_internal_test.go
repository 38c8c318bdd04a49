// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package log

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestZapLevel(t *testing.T) {
	level, err := Config{Level: "info"}.ZapLevel()
	require.NoError(t, err)
	require.Equal(t, zapcore.InfoLevel, level)

	_, err = Config{Level: "bogus"}.ZapLevel()
	require.ErrorContains(t, err, "parse level")
}

func TestInferColor(t *testing.T) {
	color, err := Config{Color: "force"}.InferColor()
	require.NoError(t, err)
	require.True(t, color)

	color, err = Config{Color: "disable"}.InferColor()
	require.NoError(t, err)
	require.False(t, color)

	_, err = Config{Color: "bogus"}.InferColor()
	require.ErrorContains(t, err, "invalid --log-color value")
}

func TestFormatZapStack(t *testing.T) {
	input := strings.Join([]string{
		"github.com/quoratelab/quorate/app/errors.New",
		"\t/home/dev/quorate/app/errors/errors.go:20",
		"github.com/quoratelab/quorate/formation.(*Driver).Run",
		"\t/home/dev/quorate/formation/driver.go:123",
		"runtime.main",
		"\t/usr/local/go/src/runtime/proc.go:250",
	}, "\n")

	expected := strings.Join([]string{
		"\tapp/errors/errors.go:20 .New",
		"\tformation/driver.go:123 .Run",
	}, "\n")

	require.Equal(t, expected, formatZapStack(input))
}

func TestInitLoggerFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "quorate.log")

	config := DefaultConfig()
	config.Format = "logfmt"
	config.Color = "disable"
	config.File = file

	require.NoError(t, InitLogger(config))
	t.Cleanup(func() {
		Stop(context.Background())
		logger = newDefaultLogger()
	})

	Info(context.Background(), "file sink test")

	b, err := os.ReadFile(file)
	require.NoError(t, err)
	require.Contains(t, string(b), "file sink test")
}

func TestInvalidFormat(t *testing.T) {
	config := DefaultConfig()
	config.Format = "bogus"
	config.Color = "disable"

	require.ErrorContains(t, InitLogger(config), "invalid logger format")
}
