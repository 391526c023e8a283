package recognition

import (
	"sort"
	"time"
)

// SpeakerStats accumulates per-identity totals over a session.
type SpeakerStats struct {
	// ID is the profile's identity ID.
	ID string `json:"id"`

	// Name is the profile's display name.
	Name string `json:"name"`

	// Segments is the number of MATCHED segments attributed to the speaker.
	Segments int `json:"segments"`

	// SpeechTime is the combined duration of those segments.
	SpeechTime time.Duration `json:"speech_time"`

	// Share is the speaker's fraction of all attributed speech time in the
	// session, in [0, 1].
	Share float64 `json:"share"`
}

// Stats is a point-in-time view of a session's counters.
type Stats struct {
	// SessionID identifies the session.
	SessionID string `json:"session_id"`

	// State is the session's current lifecycle state.
	State State `json:"state"`

	// Started is when the session entered LISTENING. Zero while idle.
	Started time.Time `json:"started,omitempty"`

	// AudioDuration is the summed duration of all accepted chunks.
	AudioDuration time.Duration `json:"audio_duration"`

	// Chunks is the number of accepted chunks, including silent ones.
	Chunks int `json:"chunks"`

	// SilenceChunks is the number of chunks gated out as silence.
	SilenceChunks int `json:"silence_chunks"`

	// Segments is the number of diarized segments across all chunks.
	Segments int `json:"segments"`

	// Decisions counts emitted events by decision.
	Decisions map[Decision]int `json:"decisions"`

	// VoicedTime is the combined duration of all MATCHED and UNKNOWN
	// segments.
	VoicedTime time.Duration `json:"voiced_time"`

	// Speakers lists per-identity totals, longest speech time first.
	Speakers []SpeakerStats `json:"speakers"`
}

// Summary is the final account of a stopped session, returned by
// [Session.Stop].
type Summary struct {
	SessionID     string           `json:"session_id"`
	Started       time.Time        `json:"started"`
	Stopped       time.Time        `json:"stopped"`
	AudioDuration time.Duration    `json:"audio_duration"`
	Chunks        int              `json:"chunks"`
	SilenceChunks int              `json:"silence_chunks"`
	Segments      int              `json:"segments"`
	Decisions     map[Decision]int `json:"decisions"`
	VoicedTime    time.Duration    `json:"voiced_time"`
	Speakers      []SpeakerStats   `json:"speakers"`
}

// speakerTally tracks a speaker's running totals inside the session.
type speakerTally struct {
	name       string
	segments   int
	speechTime time.Duration
}

// speakerStats converts tallies into sorted SpeakerStats with Share filled
// in. voiced is the denominator; zero voiced time yields zero shares.
func speakerStats(tallies map[string]*speakerTally, voiced time.Duration) []SpeakerStats {
	out := make([]SpeakerStats, 0, len(tallies))
	for id, t := range tallies {
		s := SpeakerStats{
			ID:         id,
			Name:       t.name,
			Segments:   t.segments,
			SpeechTime: t.speechTime,
		}
		if voiced > 0 {
			s.Share = float64(t.speechTime) / float64(voiced)
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SpeechTime != out[j].SpeechTime {
			return out[i].SpeechTime > out[j].SpeechTime
		}
		return out[i].ID < out[j].ID
	})
	return out
}
