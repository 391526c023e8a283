// Package pyannote provides a diarization provider backed by a pyannote.audio
// HTTP inference server.
//
// The server is expected to expose a POST /diarize endpoint accepting a WAV
// file as multipart/form-data and returning JSON of the form:
//
//	{"segments": [{"start": 0.52, "end": 3.18, "speaker": "SPEAKER_00"}, ...]}
//
// Example usage:
//
//	p, err := pyannote.New("http://localhost:9090",
//	    pyannote.WithTimeout(20*time.Second),
//	)
//	segs, err := p.Diarize(ctx, chunk)
package pyannote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
)

// DefaultModelID is reported by ModelID when no explicit model is configured.
const DefaultModelID = "pyannote/speaker-diarization-3.1"

// Compile-time assertion that Provider implements diarizer.Provider.
var _ diarizer.Provider = (*Provider)(nil)

// Provider implements diarizer.Provider using a pyannote HTTP server.
// Provider is safe for concurrent use.
type Provider struct {
	serverURL   string
	model       string
	maxSpeakers int
	httpClient  *http.Client
}

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the model identifier forwarded to the server and reported by
// ModelID. When empty the server uses whichever pipeline it was started with.
func WithModel(model string) Option {
	return func(p *Provider) {
		p.model = model
	}
}

// WithMaxSpeakers hints the maximum number of distinct speakers the backend
// should consider per chunk. Zero (the default) leaves the count unbounded.
func WithMaxSpeakers(n int) Option {
	return func(p *Provider) {
		p.maxSpeakers = n
	}
}

// WithTimeout sets the per-request HTTP timeout. Defaults to 30 s.
func WithTimeout(d time.Duration) Option {
	return func(p *Provider) {
		p.httpClient.Timeout = d
	}
}

// New constructs a Provider connected to the pyannote server at serverURL
// (e.g., "http://localhost:9090"). serverURL must be non-empty; a trailing
// slash is stripped automatically.
func New(serverURL string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("pyannote: serverURL must not be empty")
	}
	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, o := range opts {
		o(p)
	}
	return p, nil
}

// diarizeResponse is the JSON response body returned by the /diarize endpoint.
type diarizeResponse struct {
	Segments []struct {
		Start   float64 `json:"start"`
		End     float64 `json:"end"`
		Speaker string  `json:"speaker"`
	} `json:"segments"`
}

// Diarize implements diarizer.Provider. The chunk's PCM is wrapped in a WAV
// container and uploaded as multipart/form-data; the response segments are
// converted to chunk-relative durations in arrival order. Callers wanting the
// ordering and bounds invariants enforced should pass the result through
// [diarizer.Normalize].
func (p *Provider) Diarize(ctx context.Context, chunk audio.Chunk) ([]diarizer.Segment, error) {
	wav := audio.EncodeWAV(chunk.Data, chunk.SampleRate, chunk.Channels)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "chunk.wav")
	if err != nil {
		return nil, fmt.Errorf("pyannote: create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("pyannote: write wav data: %w", err)
	}
	if p.model != "" {
		if err := mw.WriteField("model", p.model); err != nil {
			return nil, fmt.Errorf("pyannote: write model field: %w", err)
		}
	}
	if p.maxSpeakers > 0 {
		if err := mw.WriteField("max_speakers", strconv.Itoa(p.maxSpeakers)); err != nil {
			return nil, fmt.Errorf("pyannote: write max_speakers field: %w", err)
		}
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("pyannote: close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/diarize", &body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: create request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pyannote: http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("pyannote: server returned HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pyannote: read response body: %w", err)
	}

	var result diarizeResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("pyannote: parse JSON response: %w", err)
	}

	segs := make([]diarizer.Segment, 0, len(result.Segments))
	for _, s := range result.Segments {
		segs = append(segs, diarizer.Segment{
			Start: time.Duration(s.Start * float64(time.Second)),
			End:   time.Duration(s.End * float64(time.Second)),
			Tag:   s.Speaker,
		})
	}
	return segs, nil
}

// ModelID implements diarizer.Provider.
func (p *Provider) ModelID() string {
	if p.model != "" {
		return p.model
	}
	return DefaultModelID
}
