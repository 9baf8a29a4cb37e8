package simindex

import (
	"fmt"

	"go.uber.org/zap"
)

// Config selects and configures the index backend.
type Config struct {
	// Backend is "linear" or "chromem".
	Backend string

	// Path is the persistence directory (chromem only).
	Path string
}

// New creates an Index for the configured backend.
func New(cfg Config, logger *zap.Logger) (Index, error) {
	switch cfg.Backend {
	case "linear", "":
		return NewLinearIndex(), nil
	case "chromem":
		return NewChromemIndex(ChromemConfig{Path: cfg.Path}, logger)
	default:
		return nil, fmt.Errorf("%w: unknown backend %q", ErrInvalidConfig, cfg.Backend)
	}
}
