package voicestate

import "sync/atomic"

// Cell tracks whether the runtime is currently speaking. Capture paths
// consult it so the assistant does not transcribe its own playback.
type Cell struct {
	speaking atomic.Bool
}

func (c *Cell) SetSpeaking(v bool) {
	c.speaking.Store(v)
}

func (c *Cell) Speaking() bool {
	return c.speaking.Load()
}
