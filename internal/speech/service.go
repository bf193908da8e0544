package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/audio/pcm"
	"github.com/murmurlabs/murmur-core/internal/audio/scheduler"
	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/credentials"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/timeline"
	"github.com/murmurlabs/murmur-core/internal/voicestate"
)

// Outcome strings published in SpeakStatus.
const (
	OutcomeCompleted = "completed"
	OutcomeCancelled = "cancelled"
	OutcomeFailed    = "failed"
)

// Service plays spoken responses: it streams synthesis from the provider
// into a playback scheduler and reports one terminal status per utterance.
// At most one utterance plays at a time; a new request preempts the old.
type Service struct {
	cfg     config.SpeechConfig
	audio   config.AudioConfig
	bus     *bus.Client
	prov    Provider
	sink    scheduler.Sink
	state   *voicestate.Cell
	journal *timeline.Store
	logger  *slog.Logger

	ctx       context.Context
	cancel    context.CancelFunc
	subSpeak  *nats.Subscription
	subCancel *nats.Subscription
	wg        sync.WaitGroup

	mu      sync.Mutex
	current *utterance

	utterances metric.Int64Counter
	preempted  metric.Int64Counter
}

type utterance struct {
	sessionID  string
	sched      *scheduler.Session
	stopStream context.CancelFunc
}

func NewService(parent context.Context, cfg config.SpeechConfig, audio config.AudioConfig, busClient *bus.Client, prov Provider, sink scheduler.Sink, state *voicestate.Cell, journal *timeline.Store, log *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("github.com/murmurlabs/murmur-core/speech")
	utterances, _ := meter.Int64Counter("murmur.speech.utterances", metric.WithDescription("Utterances played, by outcome"))
	preempted, _ := meter.Int64Counter("murmur.speech.preempted", metric.WithDescription("Utterances cancelled by a newer request"))
	return &Service{
		cfg:        cfg,
		audio:      audio,
		bus:        busClient,
		prov:       prov,
		sink:       sink,
		state:      state,
		journal:    journal,
		logger:     log.With(slog.String("component", "speech-service")),
		ctx:        ctx,
		cancel:     cancel,
		utterances: utterances,
		preempted:  preempted,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	subSpeak, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakRequest, s.handleSpeak)
	if err != nil {
		return fmt.Errorf("subscribe speak requests: %w", err)
	}
	subCancel, err := s.bus.Conn().Subscribe(protocol.SubjectSpeakCancel, s.handleCancel)
	if err != nil {
		_ = subSpeak.Drain()
		return fmt.Errorf("subscribe cancel requests: %w", err)
	}
	s.subSpeak = subSpeak
	s.subCancel = subCancel
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.subSpeak != nil {
		_ = s.subSpeak.Drain()
	}
	if s.subCancel != nil {
		_ = s.subCancel.Drain()
	}
	s.cancelSession("")
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.subSpeak != nil
}

func pcmFormat(a config.AudioConfig) pcm.Format {
	return pcm.Format{SampleRate: a.SampleRate, Channels: a.Channels}
}

func (s *Service) schedulerConfig() scheduler.Config {
	format := pcmFormat(s.audio)
	toSamples := func(ms int) int { return s.audio.SampleRate * ms / 1000 }
	return scheduler.Config{
		Format:         format,
		WindowSamples:  toSamples(s.audio.WindowMS),
		FadeSamples:    toSamples(s.audio.FadeMS),
		PreRollSamples: toSamples(s.audio.PreRollMS),
	}
}

func (s *Service) handleSpeak(msg *nats.Msg) {
	var req protocol.SpeakRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode speak request", slogError(err))
		return
	}
	if req.Text == "" {
		s.publishStatus(req.SessionID, OutcomeFailed, "empty text")
		return
	}

	// A new utterance preempts the one in flight.
	if s.cancelSession("") {
		s.preempted.Add(s.ctx, 1)
	}

	streamCtx, stopStream := context.WithTimeout(s.ctx, 2*time.Minute)
	utt := &utterance{
		sessionID:  req.SessionID,
		sched:      scheduler.NewSession(s.schedulerConfig(), s.sink, s.logger),
		stopStream: stopStream,
	}
	s.mu.Lock()
	s.current = utt
	s.mu.Unlock()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.run(streamCtx, req, utt)
	}()
}

func (s *Service) run(ctx context.Context, req protocol.SpeakRequest, utt *utterance) {
	defer utt.stopStream()

	s.record(ctx, req.SessionID, req.TraceID, timeline.TypeSpeakRequested, nil)
	s.state.SetSpeaking(true)

	outcome := s.play(ctx, req, utt)

	s.mu.Lock()
	if s.current == utt {
		s.current = nil
		s.state.SetSpeaking(false)
	}
	s.mu.Unlock()

	status, detail := OutcomeCompleted, ""
	switch {
	case outcome == nil:
	case errors.Is(outcome, scheduler.ErrCancelled):
		status = OutcomeCancelled
	case errors.Is(outcome, credentials.ErrNotConfigured):
		status, detail = OutcomeFailed, fmt.Sprintf("credential %q not configured", s.cfg.APIKeyName)
	default:
		status, detail = OutcomeFailed, outcome.Error()
	}

	s.utterances.Add(context.WithoutCancel(ctx), 1)
	s.publishStatus(req.SessionID, status, detail)

	evtType := timeline.TypeSpeakCompleted
	switch status {
	case OutcomeCancelled:
		evtType = timeline.TypeSpeakCancelled
	case OutcomeFailed:
		evtType = timeline.TypeSpeakFailed
	}
	s.record(context.WithoutCancel(ctx), req.SessionID, req.TraceID, evtType, []byte(detail))
}

// play drives one utterance to its terminal state and returns the resolved
// outcome: nil, ErrCancelled, or a failure.
func (s *Service) play(ctx context.Context, req protocol.SpeakRequest, utt *utterance) error {
	if err := utt.sched.Begin(); err != nil {
		return err
	}

	voice := req.Voice
	if voice == "" {
		voice = s.cfg.Voice
	}
	chunks, errs := s.prov.OpenStream(ctx, req.Text, voice)

	for chunks != nil || errs != nil {
		select {
		case chunk, ok := <-chunks:
			if !ok {
				chunks = nil
				if err := utt.sched.EndStream(); err != nil && !errors.Is(err, scheduler.ErrSessionState) {
					s.logger.Warn("end of stream rejected", slogError(err))
				}
				continue
			}
			if err := utt.sched.Feed(chunk); err != nil {
				s.logger.Warn("feed rejected", slogError(err))
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			if err != nil {
				utt.sched.Fail(err)
			}
		case <-ctx.Done():
			utt.sched.Cancel()
			chunks, errs = nil, nil
		}
	}

	return utt.sched.AwaitCompletion(context.WithoutCancel(ctx))
}

func (s *Service) handleCancel(msg *nats.Msg) {
	var req protocol.CancelRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.logger.Warn("failed to decode cancel request", slogError(err))
		return
	}
	s.cancelSession(req.SessionID)
}

// cancelSession cancels the in-flight utterance when sessionID matches it
// or is empty. Reports whether anything was cancelled.
func (s *Service) cancelSession(sessionID string) bool {
	s.mu.Lock()
	utt := s.current
	s.mu.Unlock()
	if utt == nil {
		return false
	}
	if sessionID != "" && utt.sessionID != sessionID {
		return false
	}
	utt.sched.Cancel()
	utt.stopStream()
	return true
}

func (s *Service) publishStatus(sessionID, outcome, detail string) {
	status := protocol.SpeakStatus{
		SessionID: sessionID,
		Outcome:   outcome,
		Error:     detail,
		Timestamp: time.Now().UTC(),
	}
	data, err := json.Marshal(status)
	if err != nil {
		s.logger.Warn("failed to marshal speak status", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectSpeakStatus, data); err != nil {
		s.logger.Warn("failed to publish speak status", slogError(err))
	}
}

func (s *Service) record(ctx context.Context, sessionID, traceID, evtType string, payload []byte) {
	if s.journal == nil {
		return
	}
	evt := timeline.Event{SessionID: sessionID, TraceID: traceID, Type: evtType, Payload: payload}
	if err := s.journal.AppendEvent(ctx, evt); err != nil {
		s.logger.Warn("failed to record speech event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
