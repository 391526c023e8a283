// Package wespeaker provides a speaker embedding provider backed by a
// WeSpeaker HTTP inference server.
//
// The server is expected to expose a POST /embed endpoint accepting a WAV
// file as multipart/form-data and returning JSON of the form:
//
//	{"embedding": [0.012, -0.44, ...], "model": "voxceleb-resnet34"}
//
// Example usage:
//
//	p, err := wespeaker.New("http://localhost:9091", "voxceleb-resnet34")
//	vec, err := p.Embed(ctx, pcm, 16000)
package wespeaker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/embedder"
)

// Compile-time assertion that Provider implements embedder.Provider.
var _ embedder.Provider = (*Provider)(nil)

// Provider implements embedder.Provider using a WeSpeaker HTTP server.
//
// Dimension resolution happens in this order:
//  1. Value supplied via WithDimensions option (highest priority).
//  2. Look-up in the built-in knownDimensions table for recognised model names.
//  3. Auto-detection: a single probe embed of a short silent clip is issued on
//     the first Dimensions call and the vector length is cached for the
//     lifetime of the Provider.
//
// Provider is safe for concurrent use.
type Provider struct {
	serverURL  string
	model      string
	httpClient *http.Client

	// dimensions holds the resolved vector length. When zero after
	// construction, it is populated lazily by detectOnce.
	dimensions int
	detectOnce sync.Once
	detectErr  error
}

// config holds optional configuration collected from functional options.
type config struct {
	timeout    time.Duration
	dimensions int
}

// Option is a functional option for Provider.
type Option func(*config)

// WithTimeout sets a per-request HTTP timeout on the underlying HTTP client.
// A zero or negative value means the default of 30 s.
func WithTimeout(d time.Duration) Option {
	return func(c *config) {
		c.timeout = d
	}
}

// WithDimensions pre-sets the embedding dimension, bypassing the look-up table
// and avoiding the probe request that Dimensions() would otherwise issue for
// unknown models on first call. Use this when you know the dimension in advance.
func WithDimensions(dims int) Option {
	return func(c *config) {
		c.dimensions = dims
	}
}

// New constructs a new WeSpeaker Provider.
//
// serverURL is the base URL of the inference server (e.g.,
// "http://localhost:9091") and must not be empty. A trailing slash is
// stripped automatically. model is the model name forwarded with each
// request (e.g., "voxceleb-resnet34"); it must not be empty.
func New(serverURL, model string, opts ...Option) (*Provider, error) {
	if serverURL == "" {
		return nil, errors.New("wespeaker: serverURL must not be empty")
	}
	if model == "" {
		return nil, errors.New("wespeaker: model must not be empty")
	}

	cfg := &config{}
	for _, o := range opts {
		o(cfg)
	}

	httpClient := &http.Client{Timeout: 30 * time.Second}
	if cfg.timeout > 0 {
		httpClient.Timeout = cfg.timeout
	}

	p := &Provider{
		serverURL:  strings.TrimRight(serverURL, "/"),
		model:      model,
		httpClient: httpClient,
		dimensions: cfg.dimensions,
	}
	if p.dimensions == 0 {
		p.dimensions = knownDimensions(model)
	}
	return p, nil
}

// embedResponse is the JSON response body returned by the /embed endpoint.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
	Model     string    `json:"model"`
}

// Embed implements embedder.Provider. The PCM span is wrapped in a WAV
// container and uploaded as multipart/form-data. The returned vector is
// re-normalized to unit L2 norm locally: the matcher's score range depends on
// that invariant, so it is enforced here rather than trusted to the server.
func (p *Provider) Embed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	vec, err := p.callEmbed(ctx, pcm, sampleRate)
	if err != nil {
		return nil, fmt.Errorf("wespeaker: embed: %w", err)
	}
	return embedder.Normalize(vec), nil
}

// Dimensions implements embedder.Provider.
//
// The value is resolved from the WithDimensions option, the built-in table
// for known model names, or a one-time probe against the live server with a
// short silent clip. The probe result is cached; if the probe fails, 0 is
// returned.
func (p *Provider) Dimensions() int {
	if p.dimensions != 0 {
		return p.dimensions
	}
	p.detectOnce.Do(func() {
		// Half a second of silence at 16 kHz: enough for any speaker model
		// to produce a (meaningless but correctly sized) vector.
		probe := make([]byte, 16000/2*2)
		vec, err := p.callEmbed(context.Background(), probe, 16000)
		if err != nil {
			p.detectErr = err
			return
		}
		p.dimensions = len(vec)
	})
	return p.dimensions
}

// ModelID implements embedder.Provider by returning the model name supplied
// at construction time.
func (p *Provider) ModelID() string {
	return p.model
}

// callEmbed is the internal helper that uploads a WAV-wrapped PCM span to the
// /embed endpoint and returns the raw vector.
func (p *Provider) callEmbed(ctx context.Context, pcm []byte, sampleRate int) ([]float32, error) {
	wav := audio.EncodeWAV(pcm, sampleRate, 1)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	fw, err := mw.CreateFormFile("file", "segment.wav")
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := fw.Write(wav); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	if err := mw.WriteField("model", p.model); err != nil {
		return nil, fmt.Errorf("write model field: %w", err)
	}
	if err := mw.Close(); err != nil {
		return nil, fmt.Errorf("close multipart writer: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.serverURL+"/embed", &body)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body: %w", err)
	}

	var result embedResponse
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if len(result.Embedding) == 0 {
		return nil, errors.New("empty embedding in response")
	}
	return result.Embedding, nil
}

// knownDimensions returns the well-known output dimension for recognised
// WeSpeaker model names. Returns 0 for unknown models, which triggers
// auto-detection on the first Dimensions() call.
func knownDimensions(model string) int {
	lower := strings.ToLower(model)
	switch {
	case strings.Contains(lower, "resnet"):
		return 256
	case strings.Contains(lower, "ecapa"):
		return 192
	case strings.Contains(lower, "campplus"):
		return 192
	case strings.Contains(lower, "xvec"):
		return 512
	default:
		return 0 // will be probed on first Dimensions() call
	}
}
