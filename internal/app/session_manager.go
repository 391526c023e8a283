package app

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/observe"
	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
	"github.com/earshot-audio/earshot/pkg/provider/llm"
	"github.com/earshot-audio/earshot/pkg/provider/stt"
)

// ErrSessionNotFound is returned when the requested session ID is not known
// to the manager.
var ErrSessionNotFound = fmt.Errorf("app: session not found")

// ErrNoRecapProvider is returned by Recap when no LLM provider is
// configured.
var ErrNoRecapProvider = fmt.Errorf("app: no llm provider configured for recaps")

// SessionInfo holds metadata about a managed recognition session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string `json:"session_id"`

	// State is the session's current lifecycle state.
	State recognition.State `json:"state"`

	// Started is when the session began listening.
	Started time.Time `json:"started"`

	// Source records what created the session: "api" or "discord".
	Source string `json:"source"`
}

// ManagedSession is a recognition session plus the manager's bookkeeping.
type ManagedSession struct {
	*recognition.Session

	// Started is when the manager created the session.
	Started time.Time

	// Source records what created the session: "api" or "discord".
	Source string
}

// Info returns the session's metadata view.
func (m *ManagedSession) Info() SessionInfo {
	return SessionInfo{
		SessionID: m.ID(),
		State:     m.State(),
		Started:   m.Started,
		Source:    m.Source,
	}
}

// SessionManager owns the lifecycle of recognition sessions. Sessions are
// created against the shared profile store and provider set, tracked by ID,
// and retained after Stop so their stats, summary and recap stay queryable
// until Remove evicts them.
//
// All exported methods are safe for concurrent use.
type SessionManager struct {
	mu       sync.Mutex
	sessions map[string]*ManagedSession

	// threshold is the similarity threshold applied to newly created
	// sessions. SetThreshold retunes it together with all live sessions.
	threshold float64

	store   profile.Store
	diar    diarizer.Provider
	emb     embedder.Provider
	stt     stt.Transcriber
	llm     llm.Provider
	rec     config.RecognitionConfig
	metrics *observe.Metrics
}

// SessionManagerConfig holds the dependencies for a [SessionManager].
// Store, Diarizer and Embedder are required; STT enables per-segment
// transcription, LLM enables session recaps, Metrics enables pipeline
// instrumentation.
type SessionManagerConfig struct {
	Store       profile.Store
	Diarizer    diarizer.Provider
	Embedder    embedder.Provider
	STT         stt.Transcriber
	LLM         llm.Provider
	Recognition config.RecognitionConfig
	Metrics     *observe.Metrics
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	return &SessionManager{
		sessions:  make(map[string]*ManagedSession),
		threshold: cfg.Recognition.Threshold(),
		store:     cfg.Store,
		diar:      cfg.Diarizer,
		emb:       cfg.Embedder,
		stt:       cfg.STT,
		llm:       cfg.LLM,
		rec:       cfg.Recognition,
		metrics:   cfg.Metrics,
	}
}

// Create starts a new recognition session and registers it under a generated
// ID. The source label records what created the session ("api", "discord").
//
// The session starts listening immediately; creation fails when no profiles
// are enrolled yet.
func (sm *SessionManager) Create(ctx context.Context, source string) (*ManagedSession, error) {
	sm.mu.Lock()
	threshold := sm.threshold
	sm.mu.Unlock()

	opts := []recognition.Option{
		recognition.WithID(uuid.NewString()),
		recognition.WithThreshold(threshold),
		recognition.WithSilenceRMS(sm.rec.SilenceRMS()),
		recognition.WithMinChunkDuration(sm.rec.ChunkDuration()),
		recognition.WithMinSegmentDuration(sm.rec.MinSegmentDuration()),
	}
	if sm.rec.EmbedParallelism > 0 {
		opts = append(opts, recognition.WithEmbedParallelism(sm.rec.EmbedParallelism))
	}
	if sm.rec.DebugDumpDir != "" {
		opts = append(opts, recognition.WithDebugDir(sm.rec.DebugDumpDir))
	}
	if sm.stt != nil {
		opts = append(opts, recognition.WithTranscriber(sm.stt))
	}
	if sm.metrics != nil {
		opts = append(opts, recognition.WithMetrics(sm.metrics))
	}

	sess, err := recognition.NewSession(sm.store, sm.diar, sm.emb, opts...)
	if err != nil {
		return nil, fmt.Errorf("app: create session: %w", err)
	}
	if err := sess.Start(ctx); err != nil {
		return nil, fmt.Errorf("app: start session: %w", err)
	}

	ms := &ManagedSession{
		Session: sess,
		Started: time.Now().UTC(),
		Source:  source,
	}

	sm.mu.Lock()
	sm.sessions[sess.ID()] = ms
	sm.mu.Unlock()

	slog.Info("session created", "session_id", sess.ID(), "source", source)
	return ms, nil
}

// Get returns the managed session with the given ID.
func (sm *SessionManager) Get(id string) (*ManagedSession, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	ms, ok := sm.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	return ms, nil
}

// List returns metadata for all managed sessions, newest first.
func (sm *SessionManager) List() []SessionInfo {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	out := make([]SessionInfo, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		out = append(out, ms.Info())
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Started.Equal(out[j].Started) {
			return out[i].Started.After(out[j].Started)
		}
		return out[i].SessionID < out[j].SessionID
	})
	return out
}

// Count returns the number of managed sessions, including stopped ones that
// have not been removed yet.
func (sm *SessionManager) Count() int {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return len(sm.sessions)
}

// Stop ends the session but keeps it registered so its summary, stats and
// recap remain queryable. Stopping an already-stopped session returns the
// same summary again.
func (sm *SessionManager) Stop(id string) (recognition.Summary, error) {
	ms, err := sm.Get(id)
	if err != nil {
		return recognition.Summary{}, err
	}
	return ms.Stop(), nil
}

// Remove stops the session if it is still running and evicts it from the
// manager.
func (sm *SessionManager) Remove(id string) error {
	sm.mu.Lock()
	ms, ok := sm.sessions[id]
	if ok {
		delete(sm.sessions, id)
	}
	sm.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %q", ErrSessionNotFound, id)
	}
	ms.Stop()
	slog.Info("session removed", "session_id", id)
	return nil
}

// Recap generates a natural-language summary of the session's timeline using
// the configured LLM provider.
func (sm *SessionManager) Recap(ctx context.Context, id string) (string, error) {
	if sm.llm == nil {
		return "", ErrNoRecapProvider
	}
	ms, err := sm.Get(id)
	if err != nil {
		return "", err
	}
	return ms.Recap(ctx, sm.llm)
}

// SetThreshold retunes the similarity threshold on every managed session and
// on sessions created afterwards. Invalid values are rejected before any
// session is touched. Chunks already in flight keep the threshold they
// snapshotted at entry.
func (sm *SessionManager) SetThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("app: similarity threshold %v is out of range [0, 1]", threshold)
	}

	sm.mu.Lock()
	sm.threshold = threshold
	live := make([]*ManagedSession, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		live = append(live, ms)
	}
	sm.mu.Unlock()

	for _, ms := range live {
		if err := ms.SetThreshold(threshold); err != nil {
			slog.Warn("threshold retune failed", "session_id", ms.ID(), "err", err)
		}
	}
	slog.Info("similarity threshold retuned", "threshold", threshold, "sessions", len(live))
	return nil
}

// StopAll stops every managed session. Used during shutdown; the sessions
// stay registered so late readers still see their summaries.
func (sm *SessionManager) StopAll() {
	sm.mu.Lock()
	all := make([]*ManagedSession, 0, len(sm.sessions))
	for _, ms := range sm.sessions {
		all = append(all, ms)
	}
	sm.mu.Unlock()

	for _, ms := range all {
		ms.Stop()
	}
}
