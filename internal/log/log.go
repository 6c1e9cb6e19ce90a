/*
This file is part of the MongoDB operator.

Copyright (C) 2019-2021 EnterpriseDB Corporation.
*/

// Package log provides the structured logging facade used across the
// operator: a zap-backed logger with per-component names attached via
// WithName.
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var base *zap.Logger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		l = zap.NewNop()
	}
	base = l
}

// SetLevel reconfigures the global logger for the given verbosity, mirroring
// the --loglevel flag accepted by cmd/mongodb-operator.
func SetLevel(level string) {
	var zl zapcore.Level
	if err := zl.UnmarshalText([]byte(level)); err != nil {
		zl = zapcore.InfoLevel
	}

	var cfg zap.Config
	if zl <= zapcore.DebugLevel {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	cfg.Level = zap.NewAtomicLevelAt(zl)

	l, err := cfg.Build()
	if err != nil {
		return
	}
	base = l
}

// Logger is a named component logger. It looks up the global logger on
// every call, so a later SetLevel also applies to loggers created earlier.
type Logger struct {
	name string
}

// WithName returns a Logger tagging every entry with the given component name.
func WithName(component string) Logger {
	return Logger{name: component}
}

func (l Logger) sugar() *zap.SugaredLogger { return base.Sugar().Named(l.name) }

func (l Logger) Debug(msg string, kv ...interface{}) { l.sugar().Debugw(msg, kv...) }
func (l Logger) Info(msg string, kv ...interface{})  { l.sugar().Infow(msg, kv...) }
func (l Logger) Warn(msg string, kv ...interface{})  { l.sugar().Warnw(msg, kv...) }
func (l Logger) Error(msg string, kv ...interface{}) { l.sugar().Errorw(msg, kv...) }

// Sync flushes any buffered log entries, called once from main before exit.
func Sync() {
	_ = base.Sync()
}
