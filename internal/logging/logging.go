// Package logging builds the node's loggers on top of go.uber.org/zap's
// structured, leveled logging. Of the core's components only the sync
// Supervisor takes a logger in its constructor.
package logging

import (
	"go.uber.org/zap"
)

// New builds the root *zap.SugaredLogger for the node: development-style
// console encoding at Debug level.
func New() (*zap.SugaredLogger, error) {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return l.Sugar(), nil
}

// Component returns a child logger tagged with the given component name
// ("sync", "bft", ...).
func Component(base *zap.SugaredLogger, name string) *zap.SugaredLogger {
	return base.Named(name)
}
