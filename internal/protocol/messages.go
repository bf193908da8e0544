package protocol

import "time"

// SpeakRequest asks the speech service to synthesize and play one utterance.
type SpeakRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
	Voice     string `json:"voice,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// SpeakStatus reports the terminal outcome of one utterance.
type SpeakStatus struct {
	SessionID string    `json:"session_id"`
	Outcome   string    `json:"outcome"` // completed, cancelled, failed
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// CancelRequest asks the speech service to stop the named utterance.
// An empty SessionID cancels whichever utterance is in flight.
type CancelRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// DiarizeRequest carries a recorded utterance plus its transcript for
// speaker attribution. PCM is little-endian int16 mono.
type DiarizeRequest struct {
	SessionID  string `json:"session_id"`
	PCM        []byte `json:"pcm"`
	SampleRate int    `json:"sample_rate"`
	Transcript string `json:"transcript"`
	TraceID    string `json:"trace_id,omitempty"`
}

// Turn is one contiguous same-speaker span of the recording.
type Turn struct {
	SpeakerID   string  `json:"speaker_id"`
	SpeakerName string  `json:"speaker_name"`
	Start       float64 `json:"start"`
	End         float64 `json:"end"`
	Text        string  `json:"text"`
}

// DiarizeResult is the speaker-labeled transcript for one request.
type DiarizeResult struct {
	SessionID   string    `json:"session_id"`
	LabeledText string    `json:"labeled_text"`
	Turns       []Turn    `json:"turns,omitempty"`
	Error       string    `json:"error,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

const (
	SubjectSpeakRequest  = "speech.speak"
	SubjectSpeakCancel   = "speech.cancel"
	SubjectSpeakStatus   = "speech.status"
	SubjectDiarizeReq    = "diarize.request"
	SubjectDiarizeResult = "diarize.result"
)
