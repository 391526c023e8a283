package discord

import (
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/earshot-audio/earshot/pkg/audio"
)

// Compile-time interface assertion.
var _ audio.Capture = (*Capture)(nil)

const inputChannelBuffer = 64

// Capture wraps a discordgo.VoiceConnection and adapts it to the
// [audio.Capture] interface. It demuxes incoming Opus packets by SSRC into
// per-participant PCM input streams.
//
// Streams are keyed by the participant's Discord user ID when the speaking
// update announcing the SSRC mapping has arrived, and by the bare SSRC
// otherwise. Discord sends the speaking update before a participant's audio
// starts flowing, so the user-ID key is the common case.
//
// Capture is safe for concurrent use.
type Capture struct {
	vc      *discordgo.VoiceConnection
	session *discordgo.Session
	guildID string

	inputsMu sync.RWMutex
	inputs   map[string]chan audio.Frame
	ssrcUser map[uint32]string // SSRC -> user ID, fed by speaking updates

	changeCb func(audio.Event)
	changeMu sync.Mutex

	done      chan struct{}
	closeOnce sync.Once

	removeHandler func() // removes the VoiceStateUpdate handler

	// disconnectVC tears down the voice connection during Disconnect.
	// Defaults to vc.Disconnect; overridden in tests.
	disconnectVC func() error
}

// newCapture initialises a Capture for an already-joined voice channel and
// starts the receive loop.
func newCapture(vc *discordgo.VoiceConnection, session *discordgo.Session, guildID string) *Capture {
	c := &Capture{
		vc:           vc,
		session:      session,
		guildID:      guildID,
		inputs:       make(map[string]chan audio.Frame),
		ssrcUser:     make(map[uint32]string),
		done:         make(chan struct{}),
		disconnectVC: vc.Disconnect,
	}

	// VoiceStateUpdate reports joins and leaves; the voice connection's own
	// speaking updates carry the SSRC to user mapping.
	c.removeHandler = session.AddHandler(c.handleVoiceStateUpdate)
	vc.AddHandler(c.handleSpeakingUpdate)

	go c.recvLoop()

	return c
}

// InputStreams returns a snapshot of the current per-participant audio
// channels.
func (c *Capture) InputStreams() map[string]<-chan audio.Frame {
	c.inputsMu.RLock()
	defer c.inputsMu.RUnlock()
	snap := make(map[string]<-chan audio.Frame, len(c.inputs))
	for id, ch := range c.inputs {
		snap[id] = ch
	}
	return snap
}

// OnParticipantChange registers cb as the callback for participant join and
// leave events. Only one callback may be registered; subsequent calls replace
// the previous one.
func (c *Capture) OnParticipantChange(cb func(audio.Event)) {
	c.changeMu.Lock()
	defer c.changeMu.Unlock()
	c.changeCb = cb
}

// Disconnect cleanly tears down the voice connection and stops the receive
// loop. It is safe to call more than once; subsequent calls return nil.
func (c *Capture) Disconnect() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)

		if c.removeHandler != nil {
			c.removeHandler()
		}

		if c.disconnectVC != nil {
			err = c.disconnectVC()
		}

		// Close all input channels so downstream consumers see EOF.
		c.inputsMu.Lock()
		for id, ch := range c.inputs {
			close(ch)
			delete(c.inputs, id)
		}
		c.inputsMu.Unlock()
	})
	return err
}

// recvLoop reads Opus packets from the Discord voice connection, demuxes
// them by SSRC, decodes Opus to PCM, and delivers Frames to per-participant
// channels.
func (c *Capture) recvLoop() {
	// Each SSRC keeps its own decoder so packet loss in one stream cannot
	// corrupt another's decoder state.
	decoders := make(map[uint32]*opusDecoder)

	for {
		select {
		case <-c.done:
			return
		case pkt, ok := <-c.vc.OpusRecv:
			if !ok {
				return
			}
			if pkt == nil {
				continue
			}

			dec, exists := decoders[pkt.SSRC]
			if !exists {
				var err error
				dec, err = newOpusDecoder()
				if err != nil {
					slog.Error("discord: create opus decoder", "ssrc", pkt.SSRC, "error", err)
					continue
				}
				decoders[pkt.SSRC] = dec
			}

			key, ch, created := c.streamFor(pkt.SSRC)
			if created {
				c.emitEvent(audio.Event{
					Type:     audio.EventJoin,
					UserID:   key,
					Username: c.username(key),
				})
			}

			pcm, err := dec.decode(pkt.Opus)
			if err != nil {
				slog.Warn("discord: opus decode error", "ssrc", pkt.SSRC, "error", err)
				continue
			}

			frame := audio.Frame{
				Data:       pcm,
				SampleRate: opusSampleRate,
				Channels:   opusChannels,
				Timestamp:  time.Duration(pkt.Timestamp) * time.Second / time.Duration(opusSampleRate),
			}

			select {
			case ch <- frame:
			default:
				// Channel full; drop rather than block the receive loop.
			}
		}
	}
}

// streamFor returns the input channel for an SSRC, creating it on first
// sight. The channel is keyed by the mapped user ID when known, by the SSRC
// string otherwise.
func (c *Capture) streamFor(ssrc uint32) (key string, ch chan audio.Frame, created bool) {
	c.inputsMu.Lock()
	defer c.inputsMu.Unlock()

	key, ok := c.ssrcUser[ssrc]
	if !ok {
		key = strconv.FormatUint(uint64(ssrc), 10)
	}
	ch, ok = c.inputs[key]
	if !ok {
		ch = make(chan audio.Frame, inputChannelBuffer)
		c.inputs[key] = ch
		created = true
	}
	return key, ch, created
}

// handleSpeakingUpdate records the SSRC to user mapping Discord announces
// before a participant's audio starts flowing.
func (c *Capture) handleSpeakingUpdate(_ *discordgo.VoiceConnection, vs *discordgo.VoiceSpeakingUpdate) {
	if vs == nil || vs.UserID == "" {
		return
	}
	c.inputsMu.Lock()
	c.ssrcUser[uint32(vs.SSRC)] = vs.UserID
	c.inputsMu.Unlock()
}

// handleVoiceStateUpdate processes Discord VoiceStateUpdate events to detect
// participant joins and leaves on the captured channel.
func (c *Capture) handleVoiceStateUpdate(_ *discordgo.Session, vsu *discordgo.VoiceStateUpdate) {
	if vsu.GuildID != c.guildID {
		return
	}

	channelID := c.vc.ChannelID

	// Participant left our channel.
	if vsu.BeforeUpdate != nil && vsu.BeforeUpdate.ChannelID == channelID && vsu.ChannelID != channelID {
		username := ""
		if vsu.Member != nil && vsu.Member.User != nil {
			username = vsu.Member.User.Username
		}
		c.emitEvent(audio.Event{
			Type:     audio.EventLeave,
			UserID:   vsu.UserID,
			Username: username,
		})
		return
	}

	// Participant joined our channel.
	if vsu.ChannelID == channelID && (vsu.BeforeUpdate == nil || vsu.BeforeUpdate.ChannelID != channelID) {
		username := ""
		if vsu.Member != nil && vsu.Member.User != nil {
			username = vsu.Member.User.Username
		}
		c.emitEvent(audio.Event{
			Type:     audio.EventJoin,
			UserID:   vsu.UserID,
			Username: username,
		})
	}
}

// username resolves a display name from the session's state cache. Empty
// when the member is not cached or the key is a bare SSRC.
func (c *Capture) username(userID string) string {
	if c.session == nil || c.session.State == nil {
		return ""
	}
	member, err := c.session.State.Member(c.guildID, userID)
	if err != nil || member.User == nil {
		return ""
	}
	return member.User.Username
}

// emitEvent safely invokes the registered participant change callback.
func (c *Capture) emitEvent(ev audio.Event) {
	c.changeMu.Lock()
	cb := c.changeCb
	c.changeMu.Unlock()
	if cb != nil {
		go cb(ev)
	}
}
