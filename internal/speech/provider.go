package speech

import (
	"fmt"

	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/credentials"
)

// NewProvider builds the synthesis backend named by config.
func NewProvider(cfg config.SpeechConfig, audio config.AudioConfig, creds credentials.Store) (Provider, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockProvider(audio.SampleRate), nil
	case "exec":
		return NewExecProvider(cfg.Command, audio.SampleRate)
	case "websocket":
		return NewWebSocketProvider(cfg, creds, audio.SampleRate), nil
	default:
		return nil, fmt.Errorf("unknown speech mode %q", cfg.Mode)
	}
}
