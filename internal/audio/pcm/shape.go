package pcm

// Output hardware produces an audible transient when jumping from true
// silence to a non-zero sample. A short silent pre-roll lets the device
// settle after (re)start, and a linear ramp removes the remaining click.
// 20ms pre-roll + 50ms ramp stays below click-perception thresholds.

// FadeIn applies a linear 0→1 ramp in place over the first ramp samples.
// Samples beyond the ramp are untouched. Callers must apply it exactly once
// per logical start-of-audio event; a second application compounds the ramp.
func FadeIn(samples []float32, ramp int) {
	if ramp <= 0 {
		return
	}
	n := ramp
	if len(samples) < n {
		n = len(samples)
	}
	for i := 0; i < n; i++ {
		samples[i] *= float32(i) / float32(ramp)
	}
}

// PreRoll returns a zero-filled buffer of n samples, scheduled only as the
// first window after an output device (re)starts, never mid-stream.
func PreRoll(n int) []float32 {
	if n <= 0 {
		return nil
	}
	return make([]float32, n)
}
