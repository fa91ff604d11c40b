package utils

import (
	"fmt"

	"go.uber.org/zap"
)

// ServiceName is attached to every log line emitted by the reconciler.
const ServiceName = "2048tx-reconciler"

// NewSugaredLogger creates a sugared logger based on the verbose flag.
// Verbose selects zap's development config (console encoder, debug level),
// otherwise the production JSON config at info level is used.
func NewSugaredLogger(verbose bool) (*zap.SugaredLogger, error) {
	cfg := zap.NewProductionConfig()
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	}
	cfg.InitialFields = map[string]interface{}{"service": ServiceName}

	l, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("failed to build logger (verbose: %t): %w", verbose, err)
	}
	return l.Sugar(), nil
}
