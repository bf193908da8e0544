package diarize

import (
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
)

// NewEngine builds the diarization backend named by config.
func NewEngine(cfg config.DiarizeConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return &MockEngine{}, nil
	case "exec":
		return NewExecEngine(cfg)
	default:
		return nil, fmt.Errorf("unknown diarize mode %q", cfg.Mode)
	}
}
