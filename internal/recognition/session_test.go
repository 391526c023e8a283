package recognition_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	diarmock "github.com/earshot-audio/earshot/pkg/provider/diarizer/mock"
	embmock "github.com/earshot-audio/earshot/pkg/provider/embedder/mock"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
	sttmock "github.com/earshot-audio/earshot/pkg/provider/stt/mock"
)

// seededStore returns a MemStore pre-populated with the given profiles.
func seededStore(t *testing.T, profiles ...profile.Profile) *profile.MemStore {
	t.Helper()
	store := profile.NewMemStore()
	for _, p := range profiles {
		if _, err := store.Add(t.Context(), p); err != nil {
			t.Fatalf("seeding store: %v", err)
		}
	}
	return store
}

// oneSegment scripts the diarizer to report a single speaker turn per chunk.
func oneSegment(start, end time.Duration) *diarmock.Provider {
	return &diarmock.Provider{
		SegmentResult: []diarizer.Segment{{Start: start, End: end, Tag: "SPEAKER_00"}},
		ModelIDValue:  "test-diar-v1",
	}
}

// drainEvents collects everything left on the event stream. Call after Stop.
func drainEvents(s *recognition.Session) []recognition.Event {
	var evs []recognition.Event
	for ev := range s.Events() {
		evs = append(evs, ev)
	}
	return evs
}

func TestNewSessionValidation(t *testing.T) {
	t.Parallel()

	store := profile.NewMemStore()
	diar := &diarmock.Provider{}
	emb := &embmock.Provider{}

	tests := []struct {
		name  string
		build func() (*recognition.Session, error)
	}{
		{
			name: "nil store",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(nil, diar, emb)
			},
		},
		{
			name: "nil diarizer",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, nil, emb)
			},
		},
		{
			name: "nil embedder",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, diar, nil)
			},
		},
		{
			name: "threshold above one",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, diar, emb, recognition.WithThreshold(1.5))
			},
		},
		{
			name: "negative threshold",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, diar, emb, recognition.WithThreshold(-0.1))
			},
		},
		{
			name: "non-positive chunk duration",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, diar, emb, recognition.WithMinChunkDuration(0))
			},
		},
		{
			name: "non-positive segment duration",
			build: func() (*recognition.Session, error) {
				return recognition.NewSession(store, diar, emb, recognition.WithMinSegmentDuration(-time.Second))
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := tc.build(); err == nil {
				t.Error("expected an error")
			}
		})
	}
}

func TestSessionLifecycle(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), &embmock.Provider{
		EmbedResult:     []float32{1, 0, 0},
		DimensionsValue: 3,
	}, recognition.WithID("sess-1"))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if sess.ID() != "sess-1" {
		t.Errorf("ID = %q, want sess-1", sess.ID())
	}
	if got := sess.State(); got != recognition.StateIdle {
		t.Errorf("initial state = %q, want %q", got, recognition.StateIdle)
	}
	if got := sess.Threshold(); got != recognition.DefaultSimilarityThreshold {
		t.Errorf("threshold = %v, want %v", got, recognition.DefaultSimilarityThreshold)
	}

	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if got := sess.State(); got != recognition.StateListening {
		t.Errorf("state after start = %q, want %q", got, recognition.StateListening)
	}

	sum := sess.Stop()
	if got := sess.State(); got != recognition.StateStopped {
		t.Errorf("state after stop = %q, want %q", got, recognition.StateStopped)
	}
	if sum.SessionID != "sess-1" {
		t.Errorf("summary session = %q, want sess-1", sum.SessionID)
	}
	if sum.Started.IsZero() || sum.Stopped.IsZero() {
		t.Error("summary timestamps not set")
	}

	if _, open := <-sess.Events(); open {
		t.Error("expected event stream closed after stop")
	}
}

func TestSessionStartRequiresProfiles(t *testing.T) {
	t.Parallel()

	t.Run("empty store refuses to start", func(t *testing.T) {
		t.Parallel()

		sess, err := recognition.NewSession(profile.NewMemStore(), &diarmock.Provider{}, &embmock.Provider{})
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := sess.Start(t.Context()); !errors.Is(err, recognition.ErrNoProfiles) {
			t.Errorf("Start error = %v, want ErrNoProfiles", err)
		}
		if got := sess.State(); got != recognition.StateIdle {
			t.Errorf("state = %q, want %q", got, recognition.StateIdle)
		}
	})

	t.Run("unknown-only starts empty", func(t *testing.T) {
		t.Parallel()

		sess, err := recognition.NewSession(profile.NewMemStore(), &diarmock.Provider{}, &embmock.Provider{},
			recognition.WithUnknownOnly())
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := sess.Start(t.Context()); err != nil {
			t.Errorf("Start: %v", err)
		}
	})
}

func TestSessionStartTwice(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, &diarmock.Provider{}, &embmock.Provider{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Start(t.Context()); err == nil {
		t.Error("expected an error starting a running session")
	}
}

func TestSessionStartAfterStop(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, &diarmock.Provider{}, &embmock.Provider{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	sess.Stop()

	if err := sess.Start(t.Context()); !errors.Is(err, recognition.ErrSessionClosed) {
		t.Errorf("Start after stop = %v, want ErrSessionClosed", err)
	}
}

func TestSessionPushBeforeStart(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, &diarmock.Provider{}, &embmock.Provider{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err == nil {
		t.Error("expected an error pushing before start")
	}
	if got := sess.State(); got != recognition.StateIdle {
		t.Errorf("state = %q, want %q", got, recognition.StateIdle)
	}
}

func TestSessionSilenceChunk(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{}
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, diar, emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), silentChunk(0, 5*time.Second)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Decision != recognition.DecisionSilence {
		t.Errorf("decision = %q, want %q", ev.Decision, recognition.DecisionSilence)
	}
	if ev.Span.Start != 0 || ev.Span.End != 5*time.Second {
		t.Errorf("span = %v..%v, want 0..5s", ev.Span.Start, ev.Span.End)
	}
	if ev.Score != 0 || ev.SpeakerID != "" || ev.Tag != "" {
		t.Errorf("silence event carries identity fields: %+v", ev)
	}

	// Silent chunks never reach diarization or embedding.
	if len(diar.DiarizeCalls) != 0 {
		t.Errorf("diarizer called %d times for silence", len(diar.DiarizeCalls))
	}
	if len(emb.EmbedCalls) != 0 {
		t.Errorf("embedder called %d times for silence", len(emb.EmbedCalls))
	}
}

func TestSessionShortChunkRejected(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, &diarmock.Provider{}, &embmock.Provider{})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err = sess.Push(t.Context(), toneChunk(0, 2*time.Second, 0.5))
	if !errors.Is(err, recognition.ErrInsufficientAudio) {
		t.Errorf("Push = %v, want ErrInsufficientAudio", err)
	}
	if got := sess.State(); got != recognition.StateListening {
		t.Errorf("state = %q, want %q", got, recognition.StateListening)
	}

	sess.Stop()
	if events := drainEvents(sess); len(events) != 0 {
		t.Errorf("got %d events for a rejected chunk, want 0", len(events))
	}
	if stats := sess.Stats(); stats.Chunks != 0 {
		t.Errorf("Chunks = %d, want 0", stats.Chunks)
	}
}

func TestSessionMatchedSpeaker(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(time.Second, 3*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(10*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Decision != recognition.DecisionMatched {
		t.Fatalf("decision = %q, want %q", ev.Decision, recognition.DecisionMatched)
	}
	if ev.SpeakerID != "roie1" || ev.SpeakerName != "Roie" {
		t.Errorf("speaker = %q/%q, want roie1/Roie", ev.SpeakerID, ev.SpeakerName)
	}
	if ev.Score < 0.999 {
		t.Errorf("score = %f, want >= 0.999", ev.Score)
	}
	if ev.Tag != "SPEAKER_00" {
		t.Errorf("tag = %q, want SPEAKER_00", ev.Tag)
	}

	// Spans are session-relative: the chunk started at 10s, the segment one
	// second in.
	if ev.Span.Start != 11*time.Second || ev.Span.End != 13*time.Second {
		t.Errorf("span = %v..%v, want 11s..13s", ev.Span.Start, ev.Span.End)
	}

	if len(emb.EmbedCalls) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(emb.EmbedCalls))
	}
	call := emb.EmbedCalls[0]
	if call.SampleRate != testSampleRate {
		t.Errorf("embed sample rate = %d, want %d", call.SampleRate, testSampleRate)
	}
	if want := 2 * testSampleRate * 2; len(call.PCM) != want {
		t.Errorf("embedded %d bytes, want %d (the 2s segment)", len(call.PCM), want)
	}
}

func TestSessionUnknownSpeakerKeepsScore(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	// Scores 0.8 against the profile: below the raised threshold, but the
	// near-miss must stay visible on the event.
	emb := &embmock.Provider{EmbedResult: []float32{0.8, 0.6, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb,
		recognition.WithThreshold(0.9))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Decision != recognition.DecisionUnknown {
		t.Errorf("decision = %q, want %q", ev.Decision, recognition.DecisionUnknown)
	}
	if ev.SpeakerID != "" || ev.SpeakerName != "" {
		t.Errorf("unknown event carries an identity: %q/%q", ev.SpeakerID, ev.SpeakerName)
	}
	if ev.Score < 0.79 || ev.Score > 0.81 {
		t.Errorf("score = %f, want ~0.8", ev.Score)
	}
}

func TestSessionUnknownOnlyEmptyStore(t *testing.T) {
	t.Parallel()

	sess, err := recognition.NewSession(profile.NewMemStore(), oneSegment(0, 2*time.Second),
		&embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3},
		recognition.WithUnknownOnly())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if ev := events[0]; ev.Decision != recognition.DecisionUnknown || ev.Score != 0 {
		t.Errorf("event = %+v, want UNKNOWN with score 0", ev)
	}
}

func TestSessionSeesNewlyEnrolledProfiles(t *testing.T) {
	t.Parallel()

	store := profile.NewMemStore()
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second),
		&embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3},
		recognition.WithUnknownOnly())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if _, err := store.Add(t.Context(), matchProfile("roie1", "Roie", []float32{1, 0, 0})); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Decision != recognition.DecisionUnknown {
		t.Errorf("first chunk decision = %q, want %q", events[0].Decision, recognition.DecisionUnknown)
	}
	if events[1].Decision != recognition.DecisionMatched || events[1].SpeakerID != "roie1" {
		t.Errorf("second chunk = %+v, want MATCHED roie1", events[1])
	}
}

func TestSessionLowConfidenceShortSegment(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 300*time.Millisecond), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Decision != recognition.DecisionLowConfidence {
		t.Errorf("decision = %q, want %q", ev.Decision, recognition.DecisionLowConfidence)
	}
	if ev.Score != 0 || ev.SpeakerID != "" {
		t.Errorf("low-confidence event carries identity fields: %+v", ev)
	}
	if len(emb.EmbedCalls) != 0 {
		t.Errorf("embedder called %d times for a sub-minimum segment", len(emb.EmbedCalls))
	}
}

func TestSessionEmbedFailureDegrades(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	emb := &embmock.Provider{EmbedErr: errors.New("model crashed"), DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// A failed extraction downgrades the segment, it does not fail the chunk.
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if got := sess.State(); got != recognition.StateListening {
		t.Errorf("state = %q, want %q", got, recognition.StateListening)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if ev := events[0]; ev.Decision != recognition.DecisionLowConfidence {
		t.Errorf("decision = %q, want %q", ev.Decision, recognition.DecisionLowConfidence)
	}
}

func TestSessionDiarizeErrorLeavesSessionListening(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{DiarizeErr: errors.New("backend unavailable")}
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, diar, emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err == nil {
		t.Error("expected a diarization error")
	}
	if got := sess.State(); got != recognition.StateListening {
		t.Errorf("state = %q, want %q", got, recognition.StateListening)
	}

	// The next chunk goes through once the backend recovers.
	diar.DiarizeErr = nil
	diar.SegmentResult = []diarizer.Segment{{Start: 0, End: 2 * time.Second, Tag: "SPEAKER_00"}}
	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push after recovery: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Decision != recognition.DecisionMatched {
		t.Errorf("decision = %q, want %q", events[0].Decision, recognition.DecisionMatched)
	}
}

func TestSessionDimensionMismatchFatal(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0, 0}, DimensionsValue: 4}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err = sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5))
	if !errors.Is(err, recognition.ErrDimensionMismatch) {
		t.Fatalf("Push = %v, want ErrDimensionMismatch", err)
	}
	if got := sess.State(); got != recognition.StateStopped {
		t.Errorf("state = %q, want %q", got, recognition.StateStopped)
	}
	if _, open := <-sess.Events(); open {
		t.Error("expected event stream closed after a fatal error")
	}

	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); !errors.Is(err, recognition.ErrSessionClosed) {
		t.Errorf("Push after fatal error = %v, want ErrSessionClosed", err)
	}

	// Stop after a fatal error returns the summary built at failure time.
	sum := sess.Stop()
	if sum.Chunks != 1 {
		t.Errorf("Chunks = %d, want 1", sum.Chunks)
	}
}

func TestSessionSetThresholdAppliesToNextChunk(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	// Every segment scores 0.8 against the profile.
	emb := &embmock.Provider{EmbedResult: []float32{0.8, 0.6, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	if err := sess.SetThreshold(1.5); err == nil {
		t.Error("expected an error for a threshold outside [0, 1]")
	}
	if err := sess.SetThreshold(0.9); err != nil {
		t.Fatalf("SetThreshold: %v", err)
	}
	if got := sess.Threshold(); got != 0.9 {
		t.Errorf("Threshold = %v, want 0.9", got)
	}

	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Decision != recognition.DecisionMatched {
		t.Errorf("first chunk = %q, want %q at threshold 0.75", events[0].Decision, recognition.DecisionMatched)
	}
	if events[1].Decision != recognition.DecisionUnknown {
		t.Errorf("second chunk = %q, want %q at threshold 0.9", events[1].Decision, recognition.DecisionUnknown)
	}
}

func TestSessionScoresAreDeterministic(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{0.6, 0.8, 0}))
	emb := &embmock.Provider{EmbedResult: []float32{0.6, 0.8, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 2 {
		t.Fatalf("got %d events, want 2", len(events))
	}
	if events[0].Score != events[1].Score {
		t.Errorf("same audio scored differently: %v vs %v", events[0].Score, events[1].Score)
	}
}

func TestSessionEmitsSegmentsInChronologicalOrder(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{
		SegmentResult: []diarizer.Segment{
			{Start: 0, End: time.Second, Tag: "SPEAKER_00"},
			{Start: 1600 * time.Millisecond, End: 2600 * time.Millisecond, Tag: "SPEAKER_01"},
			{Start: 3200 * time.Millisecond, End: 4400 * time.Millisecond, Tag: "SPEAKER_00"},
		},
	}
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, diar, emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 3 {
		t.Fatalf("got %d events, want 3", len(events))
	}
	// Extraction is parallel but emission is ordered.
	for i := 1; i < len(events); i++ {
		if events[i].Span.Start <= events[i-1].Span.Start {
			t.Fatalf("event %d out of order: %v after %v", i, events[i].Span.Start, events[i-1].Span.Start)
		}
	}
	if events[1].Tag != "SPEAKER_01" {
		t.Errorf("middle event tag = %q, want SPEAKER_01", events[1].Tag)
	}
}

func TestSessionStatsAndSummary(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{
		SegmentResults: [][]diarizer.Segment{
			{
				{Start: 0, End: 2 * time.Second, Tag: "SPEAKER_00"},
				{Start: 2600 * time.Millisecond, End: 4600 * time.Millisecond, Tag: "SPEAKER_01"},
			},
		},
	}
	emb := &embmock.Provider{
		EmbedResults:    [][]float32{{1, 0, 0}, {0, 1, 0}},
		DimensionsValue: 3,
	}
	// Parallelism 1 keeps the scripted embedder queue aligned with segment
	// order.
	sess, err := recognition.NewSession(store, diar, emb, recognition.WithEmbedParallelism(1))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := sess.Push(t.Context(), silentChunk(5*time.Second, 5*time.Second)); err != nil {
		t.Fatalf("Push: %v", err)
	}

	stats := sess.Stats()
	if stats.Chunks != 2 || stats.SilenceChunks != 1 || stats.Segments != 2 {
		t.Errorf("chunks/silence/segments = %d/%d/%d, want 2/1/2",
			stats.Chunks, stats.SilenceChunks, stats.Segments)
	}
	if stats.AudioDuration != 10*time.Second {
		t.Errorf("AudioDuration = %v, want 10s", stats.AudioDuration)
	}
	if stats.VoicedTime != 4*time.Second {
		t.Errorf("VoicedTime = %v, want 4s", stats.VoicedTime)
	}
	if got := stats.Decisions[recognition.DecisionMatched]; got != 1 {
		t.Errorf("matched decisions = %d, want 1", got)
	}
	if got := stats.Decisions[recognition.DecisionUnknown]; got != 1 {
		t.Errorf("unknown decisions = %d, want 1", got)
	}
	if got := stats.Decisions[recognition.DecisionSilence]; got != 1 {
		t.Errorf("silence decisions = %d, want 1", got)
	}
	if len(stats.Speakers) != 1 {
		t.Fatalf("got %d speakers, want 1", len(stats.Speakers))
	}
	sp := stats.Speakers[0]
	if sp.ID != "roie1" || sp.Segments != 1 || sp.SpeechTime != 2*time.Second {
		t.Errorf("speaker = %+v, want roie1 with one 2s segment", sp)
	}
	if sp.Share != 0.5 {
		t.Errorf("Share = %v, want 0.5", sp.Share)
	}

	sum := sess.Stop()
	if sum.Chunks != stats.Chunks || sum.Segments != stats.Segments || sum.VoicedTime != stats.VoicedTime {
		t.Errorf("summary diverges from final stats: %+v vs %+v", sum, stats)
	}

	// Stop is idempotent and keeps returning the same summary.
	again := sess.Stop()
	if !again.Stopped.Equal(sum.Stopped) {
		t.Errorf("second Stop rebuilt the summary: %v vs %v", again.Stopped, sum.Stopped)
	}
}

func TestSessionTranscribesMatchedSegments(t *testing.T) {
	t.Parallel()

	t.Run("transcript rides on the event", func(t *testing.T) {
		t.Parallel()

		store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
		tr := &sttmock.Transcriber{TranscribeResult: stt.Transcript{Text: "hello world"}}
		sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second),
			&embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3},
			recognition.WithTranscriber(tr))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := sess.Start(t.Context()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		sess.Stop()

		events := drainEvents(sess)
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if events[0].Text != "hello world" {
			t.Errorf("text = %q, want %q", events[0].Text, "hello world")
		}
		if len(tr.TranscribeCalls) != 1 {
			t.Errorf("transcriber called %d times, want 1", len(tr.TranscribeCalls))
		}
	})

	t.Run("unmatched segments are not transcribed", func(t *testing.T) {
		t.Parallel()

		store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
		tr := &sttmock.Transcriber{TranscribeResult: stt.Transcript{Text: "hello world"}}
		sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second),
			&embmock.Provider{EmbedResult: []float32{0, 1, 0}, DimensionsValue: 3},
			recognition.WithTranscriber(tr))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := sess.Start(t.Context()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		sess.Stop()

		if len(tr.TranscribeCalls) != 0 {
			t.Errorf("transcriber called %d times for an unknown segment", len(tr.TranscribeCalls))
		}
	})

	t.Run("transcription failure degrades to no text", func(t *testing.T) {
		t.Parallel()

		store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
		tr := &sttmock.Transcriber{TranscribeErr: errors.New("backend down")}
		sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second),
			&embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3},
			recognition.WithTranscriber(tr))
		if err != nil {
			t.Fatalf("NewSession: %v", err)
		}
		if err := sess.Start(t.Context()); err != nil {
			t.Fatalf("Start: %v", err)
		}
		if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
			t.Fatalf("Push: %v", err)
		}
		sess.Stop()

		events := drainEvents(sess)
		if len(events) != 1 {
			t.Fatalf("got %d events, want 1", len(events))
		}
		if ev := events[0]; ev.Decision != recognition.DecisionMatched || ev.Text != "" {
			t.Errorf("event = %+v, want MATCHED without text", ev)
		}
	})
}

func TestSessionVoicedChunkWithoutSegments(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{} // reports no segments
	sess, err := recognition.NewSession(store, diar, &embmock.Provider{DimensionsValue: 3})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	// A voiced chunk where diarization finds nothing is not an error and,
	// unlike a gated-out chunk, emits no event at all.
	if events := drainEvents(sess); len(events) != 0 {
		t.Errorf("got %d events, want 0", len(events))
	}
	stats := sess.Stats()
	if stats.Chunks != 1 || stats.SilenceChunks != 0 || stats.Segments != 0 {
		t.Errorf("chunks/silence/segments = %d/%d/%d, want 1/0/0",
			stats.Chunks, stats.SilenceChunks, stats.Segments)
	}
	if len(diar.DiarizeCalls) != 1 {
		t.Errorf("diarizer called %d times, want 1", len(diar.DiarizeCalls))
	}
}

func TestSessionStereoChunkDownmixed(t *testing.T) {
	t.Parallel()

	mono := toneChunk(0, 5*time.Second, 0.5)
	stereo := mono
	stereo.Channels = 2
	stereo.Data = make([]byte, len(mono.Data)*2)
	for i := 0; i+1 < len(mono.Data); i += 2 {
		copy(stereo.Data[i*2:], mono.Data[i:i+2])
		copy(stereo.Data[i*2+2:], mono.Data[i:i+2])
	}

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second), emb)
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sess.Push(t.Context(), stereo); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	events := drainEvents(sess)
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	if events[0].Decision != recognition.DecisionMatched {
		t.Errorf("decision = %q, want %q", events[0].Decision, recognition.DecisionMatched)
	}
	// The embedder sees mono PCM after the downmix.
	if len(emb.EmbedCalls) != 1 {
		t.Fatalf("embedder called %d times, want 1", len(emb.EmbedCalls))
	}
	if want := 2 * testSampleRate * 2; len(emb.EmbedCalls[0].PCM) != want {
		t.Errorf("embedded %d bytes, want %d mono bytes", len(emb.EmbedCalls[0].PCM), want)
	}
}

func TestSessionBackpressure(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	diar := &diarmock.Provider{
		SegmentResult: []diarizer.Segment{
			{Start: 0, End: time.Second, Tag: "SPEAKER_00"},
			{Start: 1600 * time.Millisecond, End: 2600 * time.Millisecond, Tag: "SPEAKER_01"},
			{Start: 3200 * time.Millisecond, End: 4400 * time.Millisecond, Tag: "SPEAKER_02"},
		},
	}
	emb := &embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3}
	sess, err := recognition.NewSession(store, diar, emb, recognition.WithEventBuffer(1))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// With a one-slot buffer Push must block until the consumer drains.
	done := make(chan error, 1)
	go func() {
		done <- sess.Push(t.Context(), toneChunk(0, 5*time.Second, 0.5))
	}()

	for i := 0; i < 3; i++ {
		select {
		case <-sess.Events():
		case <-time.After(5 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	if err := <-done; err != nil {
		t.Fatalf("Push: %v", err)
	}
}

func TestSessionDebugDump(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, oneSegment(0, 2*time.Second),
		&embmock.Provider{EmbedResult: []float32{1, 0, 0}, DimensionsValue: 3},
		recognition.WithDebugDir(dir))
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := sess.Push(t.Context(), silentChunk(0, 5*time.Second)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(10*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	// Only the voiced chunk is dumped, named by its start offset in
	// milliseconds.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d debug files, want 1", len(entries))
	}
	if got := entries[0].Name(); got != "chunk_0000010000.wav" {
		t.Errorf("dump name = %q, want chunk_0000010000.wav", got)
	}
	if fi, err := os.Stat(filepath.Join(dir, entries[0].Name())); err != nil || fi.Size() == 0 {
		t.Errorf("dump file unreadable or empty: %v", err)
	}
}

func TestSessionLevels(t *testing.T) {
	t.Parallel()

	store := seededStore(t, matchProfile("roie1", "Roie", []float32{1, 0, 0}))
	sess, err := recognition.NewSession(store, &diarmock.Provider{}, &embmock.Provider{DimensionsValue: 3})
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	if err := sess.Start(t.Context()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if snap := sess.Levels(); snap.Count != 0 {
		t.Errorf("Count = %d before any chunk, want 0", snap.Count)
	}

	if err := sess.Push(t.Context(), silentChunk(0, 5*time.Second)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	if err := sess.Push(t.Context(), toneChunk(5*time.Second, 5*time.Second, 0.5)); err != nil {
		t.Fatalf("Push: %v", err)
	}
	sess.Stop()

	snap := sess.Levels()
	if snap.Count != 2 {
		t.Errorf("Count = %d, want 2", snap.Count)
	}
	if snap.Last.RMS < 0.3 {
		t.Errorf("Last.RMS = %v, want the tone's level", snap.Last.RMS)
	}
	if snap.PeakMax < 0.45 || snap.PeakMax > 0.55 {
		t.Errorf("PeakMax = %v, want ~0.5", snap.PeakMax)
	}
}
