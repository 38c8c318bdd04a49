// Copyright © 2026 Quorate Labs Inc. Licensed under the terms of a Business Source License 1.1

package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// multiLogger wraps multiple zap loggers and implements zapLogger.
type multiLogger []zapLogger

func (m multiLogger) Debug(msg string, fields ...zap.Field) {
	for _, l := range m {
		l.Debug(msg, fields...)
	}
}

func (m multiLogger) Info(msg string, fields ...zap.Field) {
	for _, l := range m {
		l.Info(msg, fields...)
	}
}

func (m multiLogger) Warn(msg string, fields ...zap.Field) {
	for _, l := range m {
		l.Warn(msg, fields...)
	}
}

func (m multiLogger) Error(msg string, fields ...zap.Field) {
	for _, l := range m {
		l.Error(msg, fields...)
	}
}

// Core returns a tee of all the wrapped logger cores.
func (m multiLogger) Core() zapcore.Core {
	var cores []zapcore.Core
	for _, l := range m {
		cores = append(cores, l.Core())
	}

	return zapcore.NewTee(cores...)
}
