package mcpserver_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot-audio/earshot/internal/app"
	"github.com/earshot-audio/earshot/internal/config"
	"github.com/earshot-audio/earshot/internal/mcpserver"
	"github.com/earshot-audio/earshot/pkg/audio"
	"github.com/earshot-audio/earshot/pkg/provider/diarizer"
	diarmock "github.com/earshot-audio/earshot/pkg/provider/diarizer/mock"
	embmock "github.com/earshot-audio/earshot/pkg/provider/embedder/mock"
)

// fixture is an MCP client session talking to the tool server over an
// in-memory transport, backed by an app with scripted providers.
type fixture struct {
	session *mcpsdk.ClientSession
	app     *app.App
	emb     *embmock.Provider
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	emb := &embmock.Provider{
		EmbedResult:     []float32{1, 0, 0},
		DimensionsValue: 3,
		ModelIDValue:    "test-voice-v1",
	}
	diar := &diarmock.Provider{
		SegmentResult: []diarizer.Segment{{Start: 0, End: 2 * time.Second, Tag: "SPEAKER_00"}},
		ModelIDValue:  "test-diar-v1",
	}
	application, err := app.New(t.Context(), &config.Config{}, &app.Providers{Diarizer: diar, Embedder: emb})
	if err != nil {
		t.Fatalf("app.New: %v", err)
	}
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = application.Shutdown(ctx)
	})

	srv := mcpserver.New(application)
	clientTr, serverTr := mcpsdk.NewInMemoryTransports()

	srvDone := make(chan error, 1)
	go func() { srvDone <- srv.Run(context.Background(), serverTr) }()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-agent", Version: "1.0.0"}, nil)
	session, err := client.Connect(t.Context(), clientTr, nil)
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() {
		_ = session.Close()
		select {
		case <-srvDone:
		case <-time.After(2 * time.Second):
		}
	})

	return &fixture{session: session, app: application, emb: emb}
}

// sineClipB64 returns d of a 440 Hz tone as a base64 WAV payload.
func sineClipB64(d time.Duration) string {
	const rate = 16000
	samples := int(d.Seconds() * rate)
	pcm := make([]byte, samples*2)
	for i := range samples {
		v := 0.5 * math.Sin(2*math.Pi*440*float64(i)/rate)
		s := int16(v * 32767)
		pcm[i*2] = byte(s)
		pcm[i*2+1] = byte(s >> 8)
	}
	return base64.StdEncoding.EncodeToString(audio.EncodeWAV(pcm, rate, 1))
}

func (f *fixture) callTool(t *testing.T, name string, args map[string]any) *mcpsdk.CallToolResult {
	t.Helper()
	res, err := f.session.CallTool(t.Context(), &mcpsdk.CallToolParams{Name: name, Arguments: args})
	if err != nil {
		t.Fatalf("call %s: %v", name, err)
	}
	return res
}

// textOf concatenates the result's text content.
func textOf(res *mcpsdk.CallToolResult) string {
	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	return sb.String()
}

// unmarshalResult decodes the result's JSON text payload into v.
func unmarshalResult(t *testing.T, res *mcpsdk.CallToolResult, v any) {
	t.Helper()
	if res.IsError {
		t.Fatalf("tool returned error: %s", textOf(res))
	}
	if err := json.Unmarshal([]byte(textOf(res)), v); err != nil {
		t.Fatalf("unmarshal result %q: %v", textOf(res), err)
	}
}

func (f *fixture) enroll(t *testing.T, name string, clips ...string) {
	t.Helper()
	res := f.callTool(t, "enroll_speaker", map[string]any{"name": name, "clips": clips})
	if res.IsError {
		t.Fatalf("enroll_speaker: %s", textOf(res))
	}
}

func TestToolCatalogue(t *testing.T) {
	f := newFixture(t)

	found := map[string]bool{}
	for tool, err := range f.session.Tools(t.Context(), nil) {
		if err != nil {
			t.Fatalf("list tools: %v", err)
		}
		found[tool.Name] = true
	}

	for _, name := range []string{"enroll_speaker", "list_speakers", "identify_clip", "session_stats"} {
		if !found[name] {
			t.Errorf("tool %q not in catalogue %v", name, found)
		}
	}
}

func TestEnrollAndListSpeakers(t *testing.T) {
	f := newFixture(t)

	res := f.callTool(t, "enroll_speaker", map[string]any{
		"name":  "Alice",
		"clips": []string{sineClipB64(2 * time.Second), sineClipB64(2 * time.Second)},
	})
	var enrolled struct {
		ID         string `json:"id"`
		Name       string `json:"name"`
		Embeddings int    `json:"embeddings"`
		Quality    string `json:"quality"`
	}
	unmarshalResult(t, res, &enrolled)
	if enrolled.ID == "" {
		t.Error("enrolled profile has empty ID")
	}
	if enrolled.Name != "Alice" || enrolled.Embeddings != 2 {
		t.Errorf("enrolled = %+v, want Alice with 2 embeddings", enrolled)
	}
	if enrolled.Quality != "fair" {
		t.Errorf("quality = %q, want fair for 4s of audio", enrolled.Quality)
	}

	listRes := f.callTool(t, "list_speakers", nil)
	var listing struct {
		Speakers []struct {
			Name string `json:"name"`
		} `json:"speakers"`
	}
	unmarshalResult(t, listRes, &listing)
	if len(listing.Speakers) != 1 || listing.Speakers[0].Name != "Alice" {
		t.Errorf("speakers = %+v, want just Alice", listing.Speakers)
	}
}

func TestEnrollRejectsShortAudio(t *testing.T) {
	f := newFixture(t)

	res := f.callTool(t, "enroll_speaker", map[string]any{
		"name":  "Alice",
		"clips": []string{sineClipB64(time.Second)},
	})
	if !res.IsError {
		t.Fatal("enroll with 1s of audio succeeded, want error")
	}
	if msg := textOf(res); !strings.Contains(msg, "insufficient") {
		t.Errorf("error = %q, want insufficient enrollment audio", msg)
	}
}

func TestIdentifyClip(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "Alice", sineClipB64(2*time.Second), sineClipB64(2*time.Second))

	res := f.callTool(t, "identify_clip", map[string]any{"clip": sineClipB64(2 * time.Second)})
	var matched struct {
		Decision    string  `json:"decision"`
		SpeakerName string  `json:"speaker_name"`
		Score       float64 `json:"score"`
	}
	unmarshalResult(t, res, &matched)
	if matched.Decision != "matched" || matched.SpeakerName != "Alice" {
		t.Errorf("identify = %+v, want Alice matched", matched)
	}
	if matched.Score < 0.999 {
		t.Errorf("score = %v, want close to 1", matched.Score)
	}

	// A voice far from every reference comes back unknown.
	f.emb.EmbedResult = []float32{0, 1, 0}
	res = f.callTool(t, "identify_clip", map[string]any{"clip": sineClipB64(2 * time.Second)})
	var unknown struct {
		Decision    string `json:"decision"`
		SpeakerName string `json:"speaker_name"`
	}
	unmarshalResult(t, res, &unknown)
	if unknown.Decision != "unknown" || unknown.SpeakerName != "" {
		t.Errorf("identify = %+v, want unknown", unknown)
	}
}

func TestIdentifyRejectsBadPayload(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "Alice", sineClipB64(2*time.Second), sineClipB64(2*time.Second))

	res := f.callTool(t, "identify_clip", map[string]any{
		"clip": base64.StdEncoding.EncodeToString([]byte("not a wav")),
	})
	if !res.IsError {
		t.Fatal("identify with junk payload succeeded, want error")
	}
}

func TestSessionStats(t *testing.T) {
	f := newFixture(t)
	f.enroll(t, "Alice", sineClipB64(2*time.Second), sineClipB64(2*time.Second))

	ms, err := f.app.Sessions().Create(t.Context(), "test")
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	res := f.callTool(t, "session_stats", map[string]any{"session_id": ms.ID()})
	var report struct {
		Sessions []struct {
			SessionID string `json:"session_id"`
			State     string `json:"state"`
			Chunks    int    `json:"chunks"`
		} `json:"sessions"`
	}
	unmarshalResult(t, res, &report)
	if len(report.Sessions) != 1 {
		t.Fatalf("sessions = %+v, want exactly one", report.Sessions)
	}
	if got := report.Sessions[0]; got.SessionID != ms.ID() || got.State != "listening" || got.Chunks != 0 {
		t.Errorf("stats = %+v, want listening session with no chunks", got)
	}

	// Without a session_id every session is reported.
	all := f.callTool(t, "session_stats", nil)
	unmarshalResult(t, all, &report)
	if len(report.Sessions) != 1 {
		t.Errorf("sessions = %+v, want the one live session", report.Sessions)
	}

	missing := f.callTool(t, "session_stats", map[string]any{"session_id": "no-such-session"})
	if !missing.IsError {
		t.Error("stats for unknown session succeeded, want error")
	}
}
