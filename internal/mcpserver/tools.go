package mcpserver

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/earshot-audio/earshot/internal/profile"
	"github.com/earshot-audio/earshot/internal/recognition"
	"github.com/earshot-audio/earshot/pkg/audio"
)

type enrollArgs struct {
	Name  string   `json:"name" jsonschema:"display name of the speaker to enroll"`
	Clips []string `json:"clips" jsonschema:"base64-encoded WAV recordings containing only this speaker"`
}

type enrollResult struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Embeddings   int     `json:"embeddings"`
	TotalSeconds float64 `json:"total_seconds"`
	Quality      string  `json:"quality"`
}

func (s *Server) enrollSpeaker(ctx context.Context, _ *mcpsdk.CallToolRequest, args enrollArgs) (*mcpsdk.CallToolResult, enrollResult, error) {
	clips := make([]profile.Clip, 0, len(args.Clips))
	for i, b64 := range args.Clips {
		clip, err := decodeWAVClip(b64)
		if err != nil {
			return nil, enrollResult{}, fmt.Errorf("clip %d: %w", i+1, err)
		}
		clips = append(clips, clip)
	}

	p, err := s.app.Enroller().Enroll(ctx, args.Name, clips)
	if err != nil {
		return nil, enrollResult{}, err
	}
	s.app.Metrics().EnrolledProfiles.Add(ctx, 1)

	return nil, enrollResult{
		ID:           p.ID,
		Name:         p.Name,
		Embeddings:   len(p.Embeddings),
		TotalSeconds: p.TotalDuration.Seconds(),
		Quality:      string(p.Quality),
	}, nil
}

type listArgs struct{}

type speakerInfo struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Embeddings   int     `json:"embeddings"`
	TotalSeconds float64 `json:"total_seconds"`
	Quality      string  `json:"quality"`
	Enrolled     string  `json:"enrolled"`
}

type listResult struct {
	Speakers []speakerInfo `json:"speakers"`
}

func (s *Server) listSpeakers(ctx context.Context, _ *mcpsdk.CallToolRequest, _ listArgs) (*mcpsdk.CallToolResult, listResult, error) {
	summaries, err := s.app.Store().List(ctx)
	if err != nil {
		return nil, listResult{}, err
	}

	out := listResult{Speakers: make([]speakerInfo, 0, len(summaries))}
	for _, sum := range summaries {
		out.Speakers = append(out.Speakers, speakerInfo{
			ID:           sum.ID,
			Name:         sum.Name,
			Embeddings:   sum.EmbeddingCount,
			TotalSeconds: sum.TotalDuration.Seconds(),
			Quality:      string(sum.Quality),
			Enrolled:     sum.CreatedAt.Format(time.RFC3339),
		})
	}
	return nil, out, nil
}

type identifyArgs struct {
	Clip string `json:"clip" jsonschema:"base64-encoded WAV recording to identify"`
}

type identifyResult struct {
	Decision    string  `json:"decision"`
	SpeakerID   string  `json:"speaker_id,omitempty"`
	SpeakerName string  `json:"speaker_name,omitempty"`
	Score       float64 `json:"score"`
	Threshold   float64 `json:"threshold"`
}

func (s *Server) identifyClip(ctx context.Context, _ *mcpsdk.CallToolRequest, args identifyArgs) (*mcpsdk.CallToolResult, identifyResult, error) {
	clip, err := decodeWAVClip(args.Clip)
	if err != nil {
		return nil, identifyResult{}, err
	}

	res, err := s.app.IdentifyClip(ctx, clip.PCM, clip.SampleRate)
	if err != nil {
		return nil, identifyResult{}, err
	}
	return nil, identifyResult{
		Decision:    string(res.Decision),
		SpeakerID:   res.SpeakerID,
		SpeakerName: res.SpeakerName,
		Score:       res.Score,
		Threshold:   res.Threshold,
	}, nil
}

type statsArgs struct {
	SessionID string `json:"session_id,omitempty" jsonschema:"session to report on; omit to report all sessions"`
}

type speakerTime struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	Segments      int     `json:"segments"`
	SpeechSeconds float64 `json:"speech_seconds"`
	Share         float64 `json:"share"`
}

type sessionStats struct {
	SessionID     string        `json:"session_id"`
	State         string        `json:"state"`
	AudioSeconds  float64       `json:"audio_seconds"`
	Chunks        int           `json:"chunks"`
	SilenceChunks int           `json:"silence_chunks"`
	Segments      int           `json:"segments"`
	Matched       int           `json:"matched"`
	Unknown       int           `json:"unknown"`
	VoicedSeconds float64       `json:"voiced_seconds"`
	Speakers      []speakerTime `json:"speakers,omitempty"`
}

type statsResult struct {
	Sessions []sessionStats `json:"sessions"`
}

func (s *Server) sessionStats(_ context.Context, _ *mcpsdk.CallToolRequest, args statsArgs) (*mcpsdk.CallToolResult, statsResult, error) {
	if args.SessionID != "" {
		ms, err := s.app.Sessions().Get(args.SessionID)
		if err != nil {
			return nil, statsResult{}, err
		}
		return nil, statsResult{Sessions: []sessionStats{toSessionStats(ms.Stats())}}, nil
	}

	infos := s.app.Sessions().List()
	out := statsResult{Sessions: make([]sessionStats, 0, len(infos))}
	for _, info := range infos {
		ms, err := s.app.Sessions().Get(info.SessionID)
		if err != nil {
			continue
		}
		out.Sessions = append(out.Sessions, toSessionStats(ms.Stats()))
	}
	return nil, out, nil
}

func toSessionStats(st recognition.Stats) sessionStats {
	out := sessionStats{
		SessionID:     st.SessionID,
		State:         string(st.State),
		AudioSeconds:  st.AudioDuration.Seconds(),
		Chunks:        st.Chunks,
		SilenceChunks: st.SilenceChunks,
		Segments:      st.Segments,
		Matched:       st.Decisions[recognition.DecisionMatched],
		Unknown:       st.Decisions[recognition.DecisionUnknown],
		VoicedSeconds: st.VoicedTime.Seconds(),
	}
	for _, sp := range st.Speakers {
		out.Speakers = append(out.Speakers, speakerTime{
			ID:            sp.ID,
			Name:          sp.Name,
			Segments:      sp.Segments,
			SpeechSeconds: sp.SpeechTime.Seconds(),
			Share:         sp.Share,
		})
	}
	return out
}

// decodeWAVClip turns a base64 WAV payload into a mono enrollment clip.
// Stereo input is downmixed; anything else is rejected.
func decodeWAVClip(b64 string) (profile.Clip, error) {
	data, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return profile.Clip{}, fmt.Errorf("decode base64: %w", err)
	}
	pcm, rate, channels, err := audio.DecodeWAV(data)
	if err != nil {
		return profile.Clip{}, err
	}
	switch channels {
	case 1:
	case 2:
		pcm = audio.StereoToMono(pcm)
	default:
		return profile.Clip{}, fmt.Errorf("unsupported channel count %d, want mono or stereo", channels)
	}
	return profile.Clip{PCM: pcm, SampleRate: rate}, nil
}
