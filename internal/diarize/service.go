package diarize

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/murmurlabs/murmur-core/internal/bus"
	"github.com/murmurlabs/murmur-core/internal/config"
	"github.com/murmurlabs/murmur-core/internal/gallery"
	"github.com/murmurlabs/murmur-core/internal/protocol"
	"github.com/murmurlabs/murmur-core/internal/timeline"
)

// Service attributes recorded utterances to speakers: it runs the engine,
// identifies each engine cluster against the gallery, and publishes a
// speaker-labeled transcript.
type Service struct {
	cfg      config.DiarizeConfig
	bus      *bus.Client
	engine   Engine
	store    *gallery.Store
	journal  *timeline.Store
	ctx      context.Context
	cancel   context.CancelFunc
	sub      *nats.Subscription
	wg       sync.WaitGroup
	ready    bool
	requests metric.Int64Counter
	failures metric.Int64Counter
	matches  metric.Int64Counter
	unknowns metric.Int64Counter
}

func NewService(parent context.Context, cfg config.DiarizeConfig, busClient *bus.Client, engine Engine, store *gallery.Store, journal *timeline.Store) *Service {
	ctx, cancel := context.WithCancel(parent)
	meter := otel.Meter("github.com/murmurlabs/murmur-core/diarize")
	requests, _ := meter.Int64Counter("murmur.diarize.requests", metric.WithDescription("Diarization requests handled"))
	failures, _ := meter.Int64Counter("murmur.diarize.failures", metric.WithDescription("Diarization requests that failed"))
	matches, _ := meter.Int64Counter("murmur.diarize.matches", metric.WithDescription("Speaker clusters matched to an enrolled profile"))
	unknowns, _ := meter.Int64Counter("murmur.diarize.unknowns", metric.WithDescription("Speaker clusters below the match threshold"))
	return &Service{
		cfg:      cfg,
		bus:      busClient,
		engine:   engine,
		store:    store,
		journal:  journal,
		ctx:      ctx,
		cancel:   cancel,
		requests: requests,
		failures: failures,
		matches:  matches,
		unknowns: unknowns,
	}
}

func (s *Service) Start() error {
	if !s.cfg.Enabled {
		return nil
	}
	if s.engine == nil {
		return ErrEngineNotReady
	}
	sub, err := s.bus.Conn().Subscribe(protocol.SubjectDiarizeReq, s.handleRequest)
	if err != nil {
		return fmt.Errorf("subscribe diarize requests: %w", err)
	}
	s.sub = sub
	s.ready = true
	return nil
}

func (s *Service) Close() {
	s.cancel()
	if s.sub != nil {
		_ = s.sub.Drain()
	}
	s.wg.Wait()
}

func (s *Service) Healthy() bool {
	return !s.cfg.Enabled || s.ready
}

func (s *Service) handleRequest(msg *nats.Msg) {
	var req protocol.DiarizeRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		s.bus.Logger().Warn("failed to decode diarize request", slogError(err))
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(s.ctx, 60*time.Second)
		defer cancel()

		s.requests.Add(ctx, 1)
		result := s.process(ctx, req)
		if result.Error != "" {
			s.failures.Add(ctx, 1)
		}
		s.publishResult(result)
		s.record(ctx, req, result)
	}()
}

func (s *Service) process(ctx context.Context, req protocol.DiarizeRequest) protocol.DiarizeResult {
	result := protocol.DiarizeResult{SessionID: req.SessionID, Timestamp: time.Now().UTC()}

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = s.cfg.SampleRate
	}

	segments, err := s.engine.Diarize(ctx, req.PCM, sampleRate)
	if err != nil {
		result.Error = err.Error()
		result.LabeledText = req.Transcript
		return result
	}
	if len(segments) == 0 {
		result.LabeledText = req.Transcript
		return result
	}

	names := s.identify(segments)

	turns := GroupIntoTurns(segments)
	labeled := LabelTurns(turns, names, req.Transcript)
	result.LabeledText = LabelText(turns, names, req.Transcript)
	for _, lt := range labeled {
		result.Turns = append(result.Turns, protocol.Turn{
			SpeakerID:   lt.SpeakerID,
			SpeakerName: lt.SpeakerName,
			Start:       lt.Start,
			End:         lt.End,
			Text:        lt.Text,
		})
	}
	return result
}

// identify maps each engine cluster onto a gallery profile, creating a
// transient profile for voices the gallery does not know. Segment speaker
// ids are rewritten in place to profile ids; the returned map carries
// display names. Confident matches fold the observation back into the
// profile's stored voiceprint.
func (s *Service) identify(segments []Segment) map[string]string {
	byCluster := make(map[string][][]float64)
	var order []string
	for _, seg := range segments {
		if _, seen := byCluster[seg.SpeakerID]; !seen {
			order = append(order, seg.SpeakerID)
		}
		if len(seg.Embedding) > 0 {
			byCluster[seg.SpeakerID] = append(byCluster[seg.SpeakerID], seg.Embedding)
		}
	}
	sort.Strings(order)

	names := make(map[string]string)
	mapping := make(map[string]string)
	for _, cluster := range order {
		observed := meanEmbedding(byCluster[cluster])
		profiles := s.store.Snapshot()

		if matched, score, ok := Match(observed, profiles, s.cfg.MatchThreshold); ok {
			s.matches.Add(context.Background(), 1)
			mapping[cluster] = matched.ID
			names[matched.ID] = matched.Name
			if matched.Permanent {
				updated := UpdateEmbedding(matched.Embedding, observed, s.cfg.UpdateWeight)
				if err := s.store.SetEmbedding(matched.ID, updated); err != nil {
					s.bus.Logger().Warn("voiceprint update failed", slogError(err))
				}
			}
			s.bus.Logger().Debug("speaker matched",
				slog.String("profile", matched.ID),
				slog.Float64("score", score))
			continue
		}

		s.unknowns.Add(context.Background(), 1)
		name := fmt.Sprintf("Speaker %d", len(profiles)+1)
		created := s.store.AddTransient(name, observed)
		mapping[cluster] = created.ID
		names[created.ID] = created.Name
		s.bus.Logger().Debug("unknown speaker", slog.String("profile", created.ID))
	}

	for i := range segments {
		if id, ok := mapping[segments[i].SpeakerID]; ok {
			segments[i].SpeakerID = id
		}
	}
	return names
}

// meanEmbedding averages the cluster's segment embeddings and L2-normalizes
// the result. Clusters with no embeddings yield nil, which never matches.
func meanEmbedding(embeddings [][]float64) []float64 {
	if len(embeddings) == 0 {
		return nil
	}
	dim := len(embeddings[0])
	sum := make([]float64, dim)
	count := 0
	for _, emb := range embeddings {
		if len(emb) != dim {
			continue
		}
		for i, v := range emb {
			sum[i] += v
		}
		count++
	}
	if count == 0 {
		return nil
	}
	var norm float64
	for i := range sum {
		sum[i] /= float64(count)
		norm += sum[i] * sum[i]
	}
	if norm > 0 {
		norm = math.Sqrt(norm)
		for i := range sum {
			sum[i] /= norm
		}
	}
	return sum
}

func (s *Service) publishResult(result protocol.DiarizeResult) {
	data, err := json.Marshal(result)
	if err != nil {
		s.bus.Logger().Warn("failed to marshal diarize result", slogError(err))
		return
	}
	if err := s.bus.Conn().Publish(protocol.SubjectDiarizeResult, data); err != nil {
		s.bus.Logger().Warn("failed to publish diarize result", slogError(err))
	}
}

func (s *Service) record(ctx context.Context, req protocol.DiarizeRequest, result protocol.DiarizeResult) {
	if s.journal == nil {
		return
	}
	evtType := timeline.TypeDiarizeResult
	if result.Error != "" {
		evtType = timeline.TypeDiarizeFailed
	}
	payload, err := json.Marshal(result)
	if err != nil {
		return
	}
	evt := timeline.Event{
		SessionID: req.SessionID,
		TraceID:   req.TraceID,
		Type:      evtType,
		Payload:   payload,
	}
	if err := s.journal.AppendEvent(ctx, evt); err != nil {
		s.bus.Logger().Warn("failed to record diarize event", slogError(err))
	}
}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
