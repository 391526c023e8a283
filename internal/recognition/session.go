// Package recognition implements the real-time speaker identification
// pipeline: energy gating, diarization, per-segment embedding extraction,
// and similarity matching against enrolled profiles.
//
// A [Session] consumes audio chunks one at a time and emits a
// [RecognitionEvent] stream: one event per diarized segment plus one SILENCE
// event per gated-out chunk. Chunks are processed strictly sequentially —
// the session never queues; if chunks arrive faster than they are processed,
// backpressure is the caller's problem by design. Within a chunk, segment
// embeddings are extracted in parallel, but events are always emitted in
// chronological segment order.
//
// Sessions are isolated from each other: the only shared state is the
// profile store, which is snapshotted once per chunk so a concurrent
// re-enrollment can never produce a half-updated comparison.
package recognition

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// State is a session lifecycle state.
type State string

const (
	// StateIdle is the initial state, before Start.
	StateIdle State = "idle"

	// StateListening means the session accepts chunks.
	StateListening State = "listening"

	// StateProcessing means a chunk is currently in the pipeline.
	StateProcessing State = "processing"

	// StateStopped is terminal; pushed chunks fail with [ErrSessionClosed].
	StateStopped State = "stopped"
)

// Defaults for session tuning knobs.
const (
	DefaultSimilarityThreshold = 0.75
	DefaultMinChunkDuration    = 5 * time.Second
	DefaultMinSegmentDuration  = 500 * time.Millisecond
	DefaultEmbedParallelism    = 4
	defaultEventBuffer         = 64
	timelineCap                = 1000
)

// timelineEntry is one attributed speech turn kept for recap generation.
type timelineEntry struct {
	start   time.Duration
	end     time.Duration
	speaker string
	text    string
}

// Session is the recognition controller for one audio stream.
//
// Lifecycle: [NewSession] → [Session.Start] → [Session.Push] per chunk →
// [Session.Stop]. Push is safe to call from multiple goroutines but
// processes one chunk at a time; Stop waits for an in-flight chunk and then
// closes the event stream.
type Session struct {
	id    string
	store profile.Store
	diar  diarizer.Provider
	emb   embedder.Provider

	gate        Gate
	transcriber stt.Transcriber
	minChunk    time.Duration
	minSegment  time.Duration
	parallelism int
	unknownOnly bool
	debugDir    string
	metrics     *observe.Metrics

	levels *LevelRing
	events chan Event

	// mu serializes Start, Push and Stop: the pipeline itself.
	mu sync.Mutex

	// stateMu guards everything below so Stats, SetThreshold and Events
	// readers never block behind an in-flight chunk.
	stateMu   sync.RWMutex
	state     State
	threshold float64
	started   time.Time
	summary   *Summary

	audioDur   time.Duration
	chunks     int
	silence    int
	segments   int
	decisions  map[Decision]int
	voicedTime time.Duration
	tallies    map[string]*speakerTally
	timeline   []timelineEntry
}

// Option configures a [Session].
type Option func(*Session)

// WithID sets the session ID. Default: a random UUID.
func WithID(id string) Option {
	return func(s *Session) { s.id = id }
}

// WithThreshold sets the initial similarity threshold. Default 0.75.
func WithThreshold(threshold float64) Option {
	return func(s *Session) { s.threshold = threshold }
}

// WithSilenceRMS sets the gate's RMS silence threshold. Default 0.01.
func WithSilenceRMS(threshold float64) Option {
	return func(s *Session) { s.gate = NewGate(threshold) }
}

// WithMinChunkDuration sets the minimum chunk duration diarization accepts.
// Default 5s.
func WithMinChunkDuration(d time.Duration) Option {
	return func(s *Session) { s.minChunk = d }
}

// WithMinSegmentDuration sets the minimum segment duration worth embedding.
// Shorter segments are reported as LOW_CONFIDENCE. Default 500ms.
func WithMinSegmentDuration(d time.Duration) Option {
	return func(s *Session) { s.minSegment = d }
}

// WithTranscriber enables transcription of MATCHED segments. The transcript
// rides on the event; transcription failures degrade to an event without
// text.
func WithTranscriber(t stt.Transcriber) Option {
	return func(s *Session) { s.transcriber = t }
}

// WithEmbedParallelism bounds concurrent embedding extractions per chunk.
// Default 4.
func WithEmbedParallelism(n int) Option {
	return func(s *Session) { s.parallelism = n }
}

// WithEventBuffer sets the event channel's buffer size. When the buffer is
// full, Push blocks until the consumer catches up. Default 64.
func WithEventBuffer(n int) Option {
	return func(s *Session) {
		if n > 0 {
			s.events = make(chan Event, n)
		}
	}
}

// WithUnknownOnly lets the session start with an empty profile store,
// emitting UNKNOWN for every voiced segment. Profiles enrolled later are
// matched normally; the option only relaxes the start requirement.
func WithUnknownOnly() Option {
	return func(s *Session) { s.unknownOnly = true }
}

// WithDebugDir enables WAV dumps of every voiced chunk into dir, for
// debugging diarization and matching offline. Off by default; dump failures
// are logged and ignored.
func WithDebugDir(dir string) Option {
	return func(s *Session) { s.debugDir = dir }
}

// WithMetrics enables pipeline metrics: stage latency histograms, chunk and
// decision counters, and the active-session gauge. Off by default.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Session) { s.metrics = m }
}

// NewSession builds a session over the given profile store, diarization
// backend and embedding backend. The session starts in [StateIdle]; call
// [Session.Start] before pushing chunks.
func NewSession(store profile.Store, diar diarizer.Provider, emb embedder.Provider, opts ...Option) (*Session, error) {
	if store == nil {
		return nil, fmt.Errorf("recognition: nil profile store")
	}
	if diar == nil {
		return nil, fmt.Errorf("recognition: nil diarization provider")
	}
	if emb == nil {
		return nil, fmt.Errorf("recognition: nil embedding provider")
	}

	s := &Session{
		id:          uuid.NewString(),
		store:       store,
		diar:        diar,
		emb:         emb,
		gate:        NewGate(DefaultSilenceRMS),
		minChunk:    DefaultMinChunkDuration,
		minSegment:  DefaultMinSegmentDuration,
		parallelism: DefaultEmbedParallelism,
		threshold:   DefaultSimilarityThreshold,
		levels:      NewLevelRing(0),
		events:      make(chan Event, defaultEventBuffer),
		state:       StateIdle,
		decisions:   make(map[Decision]int),
		tallies:     make(map[string]*speakerTally),
	}
	for _, o := range opts {
		o(s)
	}

	if s.threshold < 0 || s.threshold > 1 {
		return nil, fmt.Errorf("recognition: similarity threshold %v outside [0, 1]", s.threshold)
	}
	if s.minChunk <= 0 || s.minSegment <= 0 {
		return nil, fmt.Errorf("recognition: durations must be positive")
	}
	if s.parallelism <= 0 {
		s.parallelism = DefaultEmbedParallelism
	}
	return s, nil
}

// ID returns the session ID.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.state
}

// Events returns the recognition event stream. The channel is closed by
// Stop. Consumers must keep reading; a full buffer blocks Push until drained.
func (s *Session) Events() <-chan Event {
	return s.events
}

// Threshold returns the similarity threshold chunks are currently decided
// against.
func (s *Session) Threshold() float64 {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()
	return s.threshold
}

// SetThreshold changes the similarity threshold for subsequent chunks. A
// chunk already in the pipeline keeps the threshold it snapshotted at entry,
// so no decision mixes two thresholds.
func (s *Session) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("recognition: similarity threshold %v outside [0, 1]", threshold)
	}
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	s.threshold = threshold
	return nil
}

// Levels returns percentile statistics over recent gate measurements.
func (s *Session) Levels() LevelSnapshot {
	return s.levels.Snapshot()
}

// Start moves the session from IDLE to LISTENING. Unless the session was
// built [WithUnknownOnly], at least one enrolled profile must exist: running
// recognition against an empty store can only ever produce UNKNOWN.
func (s *Session) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	switch s.state {
	case StateStopped:
		return fmt.Errorf("recognition: start: %w", ErrSessionClosed)
	case StateListening, StateProcessing:
		return fmt.Errorf("recognition: start: session already running")
	}

	if !s.unknownOnly {
		summaries, err := s.store.List(ctx)
		if err != nil {
			return fmt.Errorf("recognition: start: list profiles: %w", err)
		}
		if len(summaries) == 0 {
			return fmt.Errorf("recognition: start: %w", ErrNoProfiles)
		}
	}

	s.state = StateListening
	s.started = time.Now()
	if s.metrics != nil {
		s.metrics.ActiveSessions.Add(ctx, 1)
	}
	slog.Info("recognition session started",
		"session", s.id,
		"diarizer", s.diar.ModelID(),
		"embedder", s.emb.ModelID(),
		"threshold", s.threshold)
	return nil
}

// Push runs one chunk through the pipeline and emits its events. Chunks are
// processed one at a time; concurrent callers queue behind the session lock.
//
// Per-chunk failures (short chunk, diarization error) return an error and
// leave the session listening. A dimension mismatch between the embedding
// model and stored profiles is fatal: the session stops and the error wraps
// [ErrDimensionMismatch].
func (s *Session) Push(ctx context.Context, chunk audio.Chunk) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.Lock()
	switch s.state {
	case StateStopped:
		s.stateMu.Unlock()
		return fmt.Errorf("recognition: push: %w", ErrSessionClosed)
	case StateIdle:
		s.stateMu.Unlock()
		return fmt.Errorf("recognition: push: session not started")
	}
	s.state = StateProcessing
	threshold := s.threshold
	s.stateMu.Unlock()

	err := s.process(ctx, chunk, threshold)

	s.stateMu.Lock()
	if s.state == StateProcessing {
		s.state = StateListening
	}
	s.stateMu.Unlock()
	return err
}

// Stop ends the session and closes the event stream. An in-flight chunk
// finishes first; stopping is cooperative, never preemptive. Stop is
// idempotent and returns the session summary.
func (s *Session) Stop() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.summary != nil {
		return *s.summary
	}
	sum := s.close()

	slog.Info("recognition session stopped",
		"session", s.id,
		"chunks", sum.Chunks,
		"segments", sum.Segments,
		"speakers", len(sum.Speakers))
	return sum
}

// close finalizes the session: builds the summary, flips the state and
// closes the event stream. Callers hold both mu and stateMu.
func (s *Session) close() Summary {
	if s.metrics != nil && s.state != StateIdle {
		s.metrics.ActiveSessions.Add(context.Background(), -1)
	}
	sum := Summary{
		SessionID:     s.id,
		Started:       s.started,
		Stopped:       time.Now(),
		AudioDuration: s.audioDur,
		Chunks:        s.chunks,
		SilenceChunks: s.silence,
		Segments:      s.segments,
		Decisions:     make(map[Decision]int, len(s.decisions)),
		VoicedTime:    s.voicedTime,
		Speakers:      speakerStats(s.tallies, s.voicedTime),
	}
	for d, n := range s.decisions {
		sum.Decisions[d] = n
	}
	s.state = StateStopped
	s.summary = &sum
	close(s.events)
	return sum
}

// Stats returns a point-in-time copy of the session counters.
func (s *Session) Stats() Stats {
	s.stateMu.RLock()
	defer s.stateMu.RUnlock()

	st := Stats{
		SessionID:     s.id,
		State:         s.state,
		Started:       s.started,
		AudioDuration: s.audioDur,
		Chunks:        s.chunks,
		SilenceChunks: s.silence,
		Segments:      s.segments,
		Decisions:     make(map[Decision]int, len(s.decisions)),
		VoicedTime:    s.voicedTime,
		Speakers:      speakerStats(s.tallies, s.voicedTime),
	}
	for d, n := range s.decisions {
		st.Decisions[d] = n
	}
	return st
}

// segResult carries one segment's extraction outcome from the parallel
// phase into the ordered emission phase.
type segResult struct {
	embedding []float32
	short     bool
	err       error
}

// process runs the gate → diarize → embed → match pipeline for one chunk.
func (s *Session) process(ctx context.Context, chunk audio.Chunk, threshold float64) error {
	if chunk.Channels == 2 {
		chunk.Data = audio.StereoToMono(chunk.Data)
		chunk.Channels = 1
	}
	if d := chunk.Duration(); d < s.minChunk {
		return fmt.Errorf("recognition: chunk at %v: %w: %v of audio, need %v",
			chunk.Start, ErrInsufficientAudio, d, s.minChunk)
	}

	when := chunk.Captured
	if when.IsZero() {
		when = time.Now()
	}

	procStart := time.Now()
	defer func() {
		if s.metrics != nil {
			s.metrics.ChunkDuration.Record(ctx, time.Since(procStart).Seconds())
		}
	}()

	levels, voiced := s.gate.Check(chunk)
	s.levels.Record(when, levels)

	s.stateMu.Lock()
	s.chunks++
	s.audioDur += chunk.Duration()
	s.stateMu.Unlock()

	if !voiced {
		s.stateMu.Lock()
		s.silence++
		s.stateMu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordChunk(ctx, "silence")
			s.metrics.RecordDecision(ctx, string(DecisionSilence))
		}
		return s.emit(ctx, Event{
			Timestamp: when,
			Span:      Span{Start: chunk.Start, End: chunk.End()},
			Score:     0,
			Decision:  DecisionSilence,
			Levels:    levels,
		})
	}
	if s.metrics != nil {
		s.metrics.RecordChunk(ctx, "voiced")
	}

	if s.debugDir != "" {
		s.dumpChunk(chunk)
	}

	profiles, err := s.store.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("recognition: chunk at %v: snapshot profiles: %w", chunk.Start, err)
	}

	diarStart := time.Now()
	segs, err := s.diar.Diarize(ctx, chunk)
	if s.metrics != nil {
		s.metrics.DiarizeDuration.Record(ctx, time.Since(diarStart).Seconds())
		s.metrics.RecordProviderRequest(ctx, s.diar.ModelID(), "diarizer", statusOf(err))
		if err != nil {
			s.metrics.RecordProviderError(ctx, s.diar.ModelID(), "diarizer")
		}
	}
	if err != nil {
		return fmt.Errorf("recognition: chunk at %v: diarize: %w", chunk.Start, err)
	}
	segs = diarizer.Normalize(segs, chunk.Duration())
	segs = MergeShortSegments(segs, s.minSegment)
	if len(segs) == 0 {
		return nil
	}

	s.stateMu.Lock()
	s.segments += len(segs)
	s.stateMu.Unlock()
	if s.metrics != nil {
		s.metrics.Segments.Add(ctx, int64(len(segs)))
	}

	// Extract embeddings in parallel; segments are independent. Results are
	// indexed so the emission loop below keeps chronological order no matter
	// which extraction finishes first.
	results := make([]segResult, len(segs))
	var g errgroup.Group
	g.SetLimit(s.parallelism)
	for i, seg := range segs {
		if seg.Duration() < s.minSegment {
			results[i] = segResult{short: true}
			continue
		}
		i, seg := i, seg
		g.Go(func() error {
			sub := chunk.Slice(chunk.Start+seg.Start, chunk.Start+seg.End)
			embStart := time.Now()
			vec, err := s.emb.Embed(ctx, sub.Data, sub.SampleRate)
			if s.metrics != nil {
				s.metrics.EmbedDuration.Record(ctx, time.Since(embStart).Seconds())
				s.metrics.RecordProviderRequest(ctx, s.emb.ModelID(), "embedder", statusOf(err))
				if err != nil {
					s.metrics.RecordProviderError(ctx, s.emb.ModelID(), "embedder")
				}
			}
			results[i] = segResult{embedding: vec, err: err}
			return nil
		})
	}
	_ = g.Wait()

	for i, seg := range segs {
		ev := Event{
			Timestamp: when,
			Span:      Span{Start: chunk.Start + seg.Start, End: chunk.Start + seg.End},
			Tag:       seg.Tag,
			Levels:    levels,
		}

		switch r := results[i]; {
		case r.short:
			ev.Decision = DecisionLowConfidence

		case r.err != nil:
			slog.Warn("recognition: embedding extraction failed",
				"session", s.id,
				"span_start", ev.Span.Start,
				"err", r.err)
			ev.Decision = DecisionLowConfidence

		default:
			matchStart := time.Now()
			match, ok, err := BestMatch(r.embedding, profiles)
			if s.metrics != nil {
				s.metrics.MatchDuration.Record(ctx, time.Since(matchStart).Seconds())
			}
			if err != nil {
				s.fail()
				return fmt.Errorf("recognition: chunk at %v: %w", chunk.Start, err)
			}
			switch {
			case ok && match.Score >= threshold:
				ev.Decision = DecisionMatched
				ev.SpeakerID = match.ProfileID
				ev.SpeakerName = match.Name
				ev.Score = match.Score
				if s.transcriber != nil {
					ev.Text = s.transcribe(ctx, chunk, seg)
				}
			case ok:
				ev.Decision = DecisionUnknown
				ev.Score = match.Score
			default:
				ev.Decision = DecisionUnknown
			}
		}

		if s.metrics != nil {
			s.metrics.RecordDecision(ctx, string(ev.Decision))
		}
		s.record(ev)
		if err := s.emit(ctx, ev); err != nil {
			return err
		}
	}
	return nil
}

// statusOf maps an error to the provider request status attribute.
func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}

// transcribe runs the configured transcriber over one segment. Failures
// degrade to an empty transcript.
func (s *Session) transcribe(ctx context.Context, chunk audio.Chunk, seg diarizer.Segment) string {
	sub := chunk.Slice(chunk.Start+seg.Start, chunk.Start+seg.End)
	tr, err := s.transcriber.Transcribe(ctx, sub.Data, sub.SampleRate)
	if s.metrics != nil {
		s.metrics.RecordProviderRequest(ctx, s.transcriber.ModelID(), "stt", statusOf(err))
		if err != nil {
			s.metrics.RecordProviderError(ctx, s.transcriber.ModelID(), "stt")
		}
	}
	if err != nil {
		slog.Warn("recognition: segment transcription failed",
			"session", s.id,
			"span_start", chunk.Start+seg.Start,
			"err", err)
		return ""
	}
	return tr.Text
}

// record folds an emitted event into the session counters and recap
// timeline.
func (s *Session) record(ev Event) {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()

	s.decisions[ev.Decision]++

	switch ev.Decision {
	case DecisionMatched:
		s.voicedTime += ev.Span.Duration()
		t := s.tallies[ev.SpeakerID]
		if t == nil {
			t = &speakerTally{name: ev.SpeakerName}
			s.tallies[ev.SpeakerID] = t
		}
		t.segments++
		t.speechTime += ev.Span.Duration()
		s.appendTimeline(timelineEntry{
			start:   ev.Span.Start,
			end:     ev.Span.End,
			speaker: ev.SpeakerName,
			text:    ev.Text,
		})
	case DecisionUnknown:
		s.voicedTime += ev.Span.Duration()
		s.appendTimeline(timelineEntry{
			start:   ev.Span.Start,
			end:     ev.Span.End,
			speaker: "unknown speaker",
		})
	}
}

// appendTimeline keeps the recap timeline bounded, dropping the oldest turn
// once full. Callers hold stateMu.
func (s *Session) appendTimeline(e timelineEntry) {
	if len(s.timeline) >= timelineCap {
		copy(s.timeline, s.timeline[1:])
		s.timeline = s.timeline[:timelineCap-1]
	}
	s.timeline = append(s.timeline, e)
}

// emit delivers an event to the stream, honoring ctx while the buffer is
// full.
func (s *Session) emit(ctx context.Context, ev Event) error {
	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("recognition: emit event: %w", ctx.Err())
	}
}

// fail moves the session to STOPPED after a fatal pipeline error and closes
// the event stream. Callers hold mu.
func (s *Session) fail() {
	s.stateMu.Lock()
	defer s.stateMu.Unlock()
	if s.summary != nil {
		return
	}
	s.close()
}

// dumpChunk writes the chunk as a WAV file into the debug directory.
func (s *Session) dumpChunk(chunk audio.Chunk) {
	name := fmt.Sprintf("chunk_%010d.wav", chunk.Start.Milliseconds())
	path := filepath.Join(s.debugDir, name)
	if err := audio.WriteWAVFile(path, chunk.Data, chunk.SampleRate, chunk.Channels); err != nil {
		slog.Warn("recognition: chunk dump failed", "session", s.id, "path", path, "err", err)
	}
}
