package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"

	"github.com/earshot-audio/earshot/internal/app"
	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/audio"
)

const (
	// maxAudioMessage is the per-message read limit on the audio ingest
	// socket. Large enough for tens of seconds of 16 kHz PCM in one frame.
	maxAudioMessage = 1 << 20

	// eventWriteTimeout bounds each event write so a dead client cannot pin
	// the handler.
	eventWriteTimeout = 10 * time.Second

	// flushTimeout bounds the trailing partial-chunk push after the client
	// closes the audio socket.
	flushTimeout = 15 * time.Second
)

// pipelineFormat is the analysis format ingested audio is converted to.
var pipelineFormat = audio.Format{SampleRate: 16000, Channels: 1}

// handleSessionAudio ingests binary PCM16LE frames over a websocket and
// feeds them through a chunker into the session. The source format comes
// from the sample_rate and channels query parameters (defaults 16000 and 1).
// Text frames are ignored.
//
// Streaming only makes sense with an events consumer attached: a full event
// buffer blocks chunk processing until it is drained.
func (s *Server) handleSessionAudio(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	rate, channels, err := sourceFormat(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	chunker, err := audio.NewChunker(pipelineFormat, s.app.Config().Recognition.ChunkDuration(), 0)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "audio ingest aborted")
	conn.SetReadLimit(maxAudioMessage)

	ctx := r.Context()
	var elapsed time.Duration
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			// Client closed or connection dropped; flush what's buffered.
			s.flushTail(ms, chunker)
			return
		}
		if typ != websocket.MessageBinary || len(data) == 0 {
			continue
		}

		frame := audio.Frame{Data: data, SampleRate: rate, Channels: channels, Timestamp: elapsed}
		elapsed += frameDuration(len(data), rate, channels)

		for _, chunk := range chunker.Push(frame) {
			if err := ms.Push(ctx, chunk); err != nil {
				if errors.Is(err, recognition.ErrSessionClosed) {
					conn.Close(websocket.StatusNormalClosure, "session stopped")
					return
				}
				// Per-chunk failures leave the session listening; keep
				// streaming.
				slog.Warn("gateway: streamed chunk rejected",
					"session_id", ms.ID(),
					"err", err)
			}
		}
	}
}

// flushTail pushes the chunker's trailing partial chunk after the stream
// ends. Tails shorter than the diarization minimum are expected and dropped
// silently.
func (s *Server) flushTail(ms *app.ManagedSession, chunker *audio.Chunker) {
	chunk, ok := chunker.Flush()
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()
	if err := ms.Push(ctx, chunk); err != nil &&
		!errors.Is(err, recognition.ErrInsufficientAudio) &&
		!errors.Is(err, recognition.ErrSessionClosed) {
		slog.Warn("gateway: trailing chunk rejected", "session_id", ms.ID(), "err", err)
	}
}

// handleSessionEvents streams the session's recognition events as JSON text
// frames. The event channel has a single reader: attach at most one events
// socket per session. The socket closes normally when the session stops.
func (s *Server) handleSessionEvents(w http.ResponseWriter, r *http.Request) {
	ms, err := s.app.Sessions().Get(r.PathValue("id"))
	if err != nil {
		respondDomainError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusInternalError, "event stream aborted")

	// The server never expects client frames; CloseRead reaps them and
	// cancels the context when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case ev, ok := <-ms.Events():
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "session stopped")
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				slog.Warn("gateway: marshal event", "session_id", ms.ID(), "err", err)
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, eventWriteTimeout)
			err = conn.Write(wctx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return
			}
		}
	}
}

// sourceFormat reads the client's PCM format from the query string.
func sourceFormat(r *http.Request) (rate, channels int, err error) {
	rate, channels = pipelineFormat.SampleRate, pipelineFormat.Channels
	q := r.URL.Query()

	if v := q.Get("sample_rate"); v != "" {
		rate, err = strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return 0, 0, errors.New("sample_rate must be a positive integer")
		}
	}
	if v := q.Get("channels"); v != "" {
		channels, err = strconv.Atoi(v)
		if err != nil || (channels != 1 && channels != 2) {
			return 0, 0, errors.New("channels must be 1 or 2")
		}
	}
	return rate, channels, nil
}

// frameDuration converts a payload size to play time.
func frameDuration(n, rate, channels int) time.Duration {
	samples := n / (2 * channels)
	return time.Duration(samples) * time.Second / time.Duration(rate)
}
