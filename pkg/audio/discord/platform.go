// Package discord provides an [audio.Platform] implementation backed by
// Discord voice channels via the bwmarrin/discordgo library. It bridges
// Discord's Opus voice transport into the PCM [audio.Frame] pipeline.
//
// The platform requires an active *discordgo.Session (owned by the caller)
// and a guild ID. Each call to [Platform.Connect] joins the specified voice
// channel muted and returns a [Capture] that demuxes per-participant audio.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Platform = (*Platform)(nil)

// Platform implements [audio.Platform] using a discordgo voice connection.
// It requires an active *discordgo.Session (owned by the caller).
//
// Platform is safe for concurrent use.
type Platform struct {
	session *discordgo.Session
	guildID string
}

// New creates a new Discord Platform for the given session and guild.
func New(session *discordgo.Session, guildID string) *Platform {
	return &Platform{
		session: session,
		guildID: guildID,
	}
}

// Connect joins the voice channel identified by channelID and returns an
// active [audio.Capture]. The supplied ctx governs the connection-setup phase
// only; once the Capture is returned it lives until [Capture.Disconnect] is
// called.
//
// The bot joins muted and undeafened: this platform only listens.
func (p *Platform) Connect(ctx context.Context, channelID string) (audio.Capture, error) {
	vc, err := p.session.ChannelVoiceJoin(p.guildID, channelID, true, false)
	if err != nil {
		return nil, fmt.Errorf("discord: join voice channel %q: %w", channelID, err)
	}
	return newCapture(vc, p.session, p.guildID), nil
}
