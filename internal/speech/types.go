package speech

import "context"

// Provider streams synthesized audio for one utterance: little-endian int16
// mono PCM chunks at the configured output rate. The byte channel closes at
// end of stream; a send on the error channel aborts the utterance.
type Provider interface {
	OpenStream(ctx context.Context, text, voice string) (<-chan []byte, <-chan error)
}
