// Package app wires the earshot subsystems into a running service.
//
// The App struct owns the full lifecycle: New connects the profile store and
// builds the session manager, Run drives the optional voice-channel capture
// loop, and Shutdown tears everything down in order.
//
// For testing, inject doubles via functional options (WithProfileStore,
// WithMetrics). When an option is not provided, New creates real
// implementations from the config.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/profile"
	profilepg "github.com/earshot-audio/earshot/internal/profile/postgres"
	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/audio/mixer"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// pipelineFormat is the analysis format every capture source is converted to
// before chunking: 16 kHz mono PCM16.
var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

// captureOverlap is the chunk overlap used for live capture, carrying the
// tail of each chunk into the next so speech crossing a boundary is diarized
// whole at least once.
const captureOverlap = time.Second

// Providers holds one interface value per provider slot. Nil means the
// provider is not configured. Populated by main.go via the config registry.
// Diarizer and Embedder are required; STT, LLM and Capture are optional.
type Providers struct {
	Diarizer diarizer.Provider
	Embedder embedder.Provider
	STT      stt.Transcriber
	LLM      llm.Provider
	Capture  audio.Platform
}

// App owns all subsystem lifetimes for the earshot service.
type App struct {
	cfg       *config.Config
	providers *Providers

	// Subsystems — initialised in New, torn down in Shutdown.
	store    profile.Store
	enroller *profile.Enroller
	metrics  *observe.Metrics
	sessions *SessionManager

	// capture is the active voice-channel capture, when configured.
	captureMu sync.Mutex
	capture   audio.Capture

	// closers are called in reverse order during Shutdown.
	closers []func() error

	// stopOnce guards the Shutdown path.
	stopOnce sync.Once
}

// Option is a functional option for New. Use these to inject test doubles.
type Option func(*App)

// WithProfileStore injects a profile store instead of creating one from
// config.
func WithProfileStore(s profile.Store) Option {
	return func(a *App) { a.store = s }
}

// WithMetrics injects the metrics set. When absent, New uses the process
// default set.
func WithMetrics(m *observe.Metrics) Option {
	return func(a *App) { a.metrics = m }
}

// New creates an App by wiring the profile store, the enrollment service and
// the session manager together. The providers struct comes from main.go
// (populated via the config registry).
func New(ctx context.Context, cfg *config.Config, providers *Providers, opts ...Option) (*App, error) {
	if providers == nil || providers.Diarizer == nil || providers.Embedder == nil {
		return nil, fmt.Errorf("app: diarizer and embedder providers are required")
	}

	a := &App{
		cfg:       cfg,
		providers: providers,
	}
	for _, o := range opts {
		o(a)
	}

	if a.metrics == nil {
		a.metrics = observe.DefaultMetrics()
	}

	if err := a.initStore(ctx); err != nil {
		return nil, fmt.Errorf("app: init profile store: %w", err)
	}

	a.enroller = profile.NewEnroller(a.store, providers.Embedder, cfg.Recognition.MinEnrollmentDuration())

	a.sessions = NewSessionManager(SessionManagerConfig{
		Store:       a.store,
		Diarizer:    providers.Diarizer,
		Embedder:    providers.Embedder,
		STT:         providers.STT,
		LLM:         providers.LLM,
		Recognition: cfg.Recognition,
		Metrics:     a.metrics,
	})

	return a, nil
}

// initStore creates the configured profile store unless one was injected.
func (a *App) initStore(ctx context.Context) error {
	if a.store != nil {
		return nil
	}

	switch a.cfg.Profiles.Backend {
	case config.StoreFile:
		fs, err := profile.NewFileStore(a.cfg.Profiles.Dir)
		if err != nil {
			return err
		}
		a.store = fs

	case config.StorePostgres:
		dims := a.cfg.Profiles.EmbeddingDimensions
		if dims == 0 {
			dims = a.providers.Embedder.Dimensions()
		}
		pg, err := profilepg.NewStore(ctx, a.cfg.Profiles.PostgresDSN, dims)
		if err != nil {
			return err
		}
		a.store = pg
		a.closers = append(a.closers, func() error {
			pg.Close()
			return nil
		})

	default:
		a.store = profile.NewMemStore()
	}

	summaries, err := a.store.List(ctx)
	if err != nil {
		return fmt.Errorf("list profiles: %w", err)
	}
	if a.metrics != nil && len(summaries) > 0 {
		a.metrics.EnrolledProfiles.Add(ctx, int64(len(summaries)))
	}
	slog.Info("profile store ready",
		"backend", string(storeBackendOrDefault(a.cfg.Profiles.Backend)),
		"profiles", len(summaries))
	return nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() *config.Config { return a.cfg }

// Sessions returns the session manager.
func (a *App) Sessions() *SessionManager { return a.sessions }

// Store returns the profile store.
func (a *App) Store() profile.Store { return a.store }

// Enroller returns the enrollment service.
func (a *App) Enroller() *profile.Enroller { return a.enroller }

// Metrics returns the metrics set the app records into.
func (a *App) Metrics() *observe.Metrics { return a.metrics }

// IdentifyResult is the outcome of a one-shot clip identification.
type IdentifyResult struct {
	// Decision is "matched" or "unknown".
	Decision recognition.Decision `json:"decision"`

	// SpeakerID and SpeakerName identify the best-scoring profile. Set on
	// MATCHED; empty on UNKNOWN.
	SpeakerID   string `json:"speaker_id,omitempty"`
	SpeakerName string `json:"speaker_name,omitempty"`

	// Score is the best cosine similarity over enrolled profiles, kept on
	// UNKNOWN too so near-misses are visible.
	Score float64 `json:"score"`

	// Threshold is the similarity threshold the decision was made against.
	Threshold float64 `json:"threshold"`
}

// IdentifyClip identifies the speaker of a whole clip in one shot, outside
// any session: the clip is embedded as a unit and matched against the
// enrolled profiles. Intended for short single-speaker recordings; multi-
// speaker audio should go through a session instead.
func (a *App) IdentifyClip(ctx context.Context, pcm []byte, sampleRate int) (IdentifyResult, error) {
	vec, err := a.providers.Embedder.Embed(ctx, pcm, sampleRate)
	if err != nil {
		return IdentifyResult{}, fmt.Errorf("app: identify: embed clip: %w", err)
	}

	threshold := a.cfg.Recognition.Threshold()
	res := IdentifyResult{Decision: recognition.DecisionUnknown, Threshold: threshold}

	// A store that can answer nearest-profile queries server-side (the
	// pgvector backend) spares us snapshotting every profile into memory.
	// Its ordering applies the same max-over-references and ID tie-break
	// rules as the in-process matcher.
	if ns, ok := a.store.(nearestStore); ok {
		neighbors, err := ns.Nearest(ctx, vec, 1)
		if err != nil {
			return IdentifyResult{}, fmt.Errorf("app: identify: nearest profiles: %w", err)
		}
		if len(neighbors) > 0 {
			best := neighbors[0]
			res.Score = best.Similarity
			if best.Similarity >= threshold {
				res.Decision = recognition.DecisionMatched
				res.SpeakerID = best.ID
				res.SpeakerName = best.Name
			}
		}
		return res, nil
	}

	profiles, err := a.store.Snapshot(ctx)
	if err != nil {
		return IdentifyResult{}, fmt.Errorf("app: identify: snapshot profiles: %w", err)
	}

	best, ok, err := recognition.BestMatch(vec, profiles)
	if err != nil {
		return IdentifyResult{}, fmt.Errorf("app: identify: %w", err)
	}
	if ok {
		res.Score = best.Score
		if best.Score >= threshold {
			res.Decision = recognition.DecisionMatched
			res.SpeakerID = best.ProfileID
			res.SpeakerName = best.Name
		}
	}
	return res, nil
}

// nearestStore is satisfied by profile stores with a server-side
// nearest-profile query.
type nearestStore interface {
	Nearest(ctx context.Context, embedding []float32, topK int) ([]profilepg.Neighbor, error)
}

// Run starts the optional voice-channel capture loop and blocks until ctx is
// cancelled. When no capture platform is configured, Run just waits for ctx.
func (a *App) Run(ctx context.Context) error {
	if a.providers.Capture != nil && a.cfg.Discord.Enabled() {
		if err := a.runCapture(ctx); err != nil {
			return err
		}
	}

	<-ctx.Done()
	return ctx.Err()
}

// runCapture joins the configured voice channel and feeds everything heard
// there into one recognition session: per-participant streams are summed by
// the mixer, chunked, and pushed in capture order.
func (a *App) runCapture(ctx context.Context) error {
	capture, err := a.providers.Capture.Connect(ctx, a.cfg.Discord.ChannelID)
	if err != nil {
		return fmt.Errorf("app: connect capture: %w", err)
	}

	a.captureMu.Lock()
	a.capture = capture
	a.captureMu.Unlock()

	ms, err := a.sessions.Create(ctx, "discord")
	if err != nil {
		_ = capture.Disconnect()
		return fmt.Errorf("app: capture session: %w", err)
	}

	mix := mixer.New(pipelineFormat)
	for userID, ch := range capture.InputStreams() {
		mix.AddSource(userID, ch)
	}
	capture.OnParticipantChange(func(ev audio.Event) {
		if ev.Type != audio.EventJoin {
			return
		}
		for userID, ch := range capture.InputStreams() {
			mix.AddSource(userID, ch)
		}
		slog.Info("participant joined voice channel", "user", ev.UserID, "username", ev.Username)
	})

	chunker, err := audio.NewChunker(pipelineFormat, a.cfg.Recognition.ChunkDuration(), captureOverlap)
	if err != nil {
		mix.Close()
		_ = capture.Disconnect()
		return fmt.Errorf("app: capture chunker: %w", err)
	}

	// Event drain: the capture deployment has no websocket consumer, so the
	// app logs each decision itself. Without a reader a full event buffer
	// would stall Push.
	go func() {
		for ev := range ms.Events() {
			logEvent(ev)
		}
	}()

	go func() {
		defer func() {
			if _, err := a.sessions.Stop(ms.ID()); err != nil {
				slog.Warn("capture session stop", "session_id", ms.ID(), "err", err)
			}
		}()
		for frame := range mix.Out() {
			for _, chunk := range chunker.Push(frame) {
				if err := ms.Push(ctx, chunk); err != nil {
					if errors.Is(err, recognition.ErrSessionClosed) || ctx.Err() != nil {
						return
					}
					slog.Warn("capture chunk rejected", "session_id", ms.ID(), "err", err)
				}
			}
		}
	}()

	// Tie capture teardown to ctx so Run's caller controls the lifetime.
	go func() {
		<-ctx.Done()
		mix.Close()
		_ = capture.Disconnect()
	}()

	slog.Info("voice capture running",
		"channel_id", a.cfg.Discord.ChannelID,
		"session_id", ms.ID())
	return nil
}

// logEvent writes one recognition decision to the log. MATCHED events carry
// the speaker; everything else logs at debug to keep quiet channels quiet.
func logEvent(ev recognition.Event) {
	attrs := []any{
		"decision", string(ev.Decision),
		"start", ev.Span.Start,
		"end", ev.Span.End,
	}
	switch ev.Decision {
	case recognition.DecisionMatched:
		attrs = append(attrs, "speaker", ev.SpeakerName, "score", ev.Score)
		if ev.Text != "" {
			attrs = append(attrs, "text", ev.Text)
		}
		slog.Info("speaker identified", attrs...)
	case recognition.DecisionUnknown:
		attrs = append(attrs, "score", ev.Score)
		slog.Info("unknown speaker", attrs...)
	default:
		slog.Debug("recognition event", attrs...)
	}
}

// Shutdown tears down all subsystems in reverse-init order. It respects the
// context deadline: if ctx expires before all closers finish, remaining
// closers are skipped and the context error is returned.
func (a *App) Shutdown(ctx context.Context) error {
	var shutdownErr error
	a.stopOnce.Do(func() {
		slog.Info("shutting down", "sessions", a.sessions.Count())

		a.captureMu.Lock()
		capture := a.capture
		a.captureMu.Unlock()
		if capture != nil {
			if err := capture.Disconnect(); err != nil {
				slog.Warn("capture disconnect error", "err", err)
			}
		}

		a.sessions.StopAll()

		for i := len(a.closers) - 1; i >= 0; i-- {
			select {
			case <-ctx.Done():
				slog.Warn("shutdown deadline exceeded", "remaining", i+1)
				shutdownErr = ctx.Err()
				return
			default:
			}
			if err := a.closers[i](); err != nil {
				slog.Warn("closer error", "index", i, "err", err)
			}
		}

		slog.Info("shutdown complete")
	})
	return shutdownErr
}

// storeBackendOrDefault normalizes an empty backend to the memory default
// for logging.
func storeBackendOrDefault(b config.StoreBackend) config.StoreBackend {
	if b == "" {
		return config.StoreMemory
	}
	return b
}
