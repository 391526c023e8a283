package recognition

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/earshot-audio/earshot/pkg/provider/llm"
)

// recapPrompt is the system prompt used when turning a session's speaker
// timeline into a prose recap.
const recapPrompt = `Summarise this speaker-identification session from its timeline.
Each line is one detected speech turn with a time range, the identified speaker
(or "unknown speaker"), and the transcript when available.
Cover: who spoke, roughly how much and when, notable exchanges, and any stretches
dominated by unknown speakers. Be concise and factual; do not invent dialogue.`

// Recap asks an LLM for a prose summary of the session's speaker timeline.
// It works on a running or stopped session and uses whatever turns the
// timeline currently holds (bounded to the most recent ones on very long
// sessions). Returns an empty string when nothing has been attributed yet.
func (s *Session) Recap(ctx context.Context, provider llm.Provider) (string, error) {
	if provider == nil {
		return "", fmt.Errorf("recognition: recap: nil llm provider")
	}

	s.stateMu.RLock()
	timeline := make([]timelineEntry, len(s.timeline))
	copy(timeline, s.timeline)
	s.stateMu.RUnlock()

	if len(timeline) == 0 {
		return "", nil
	}

	var sb strings.Builder
	for _, e := range timeline {
		fmt.Fprintf(&sb, "[%s - %s] %s", formatOffset(e.start), formatOffset(e.end), e.speaker)
		if e.text != "" {
			fmt.Fprintf(&sb, ": %s", e.text)
		}
		sb.WriteByte('\n')
	}

	resp, err := provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: recapPrompt,
		Messages: []llm.Message{
			{Role: "user", Content: sb.String()},
		},
		Temperature: 0.3,
	})
	if err != nil {
		return "", fmt.Errorf("recognition: recap: %w", err)
	}
	return resp.Content, nil
}

// formatOffset renders a session offset as mm:ss or h:mm:ss.
func formatOffset(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	sec := int(d.Seconds()) % 60
	if h > 0 {
		return fmt.Sprintf("%d:%02d:%02d", h, m, sec)
	}
	return fmt.Sprintf("%02d:%02d", m, sec)
}
