// Package discord adapts the Discord gateway to the service surface: voice
// state events feed activity reports, guild roles back the rank directory,
// and the session state backs the crash-recovery liveness predicate. The core
// never imports discordgo; swapping the platform means swapping this package.
package discord

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/goodtune/voiceboard/internal/service"
	"github.com/rs/zerolog"
)

// Gateway is the Discord-facing edge of the daemon.
type Gateway struct {
	session       *discordgo.Session
	svc           *service.Service
	streamingRole string
	logger        zerolog.Logger
}

// Config holds gateway settings
type Config struct {
	Token string
	// StreamingRole is a badge role granted while a member screen-shares in
	// voice. Empty disables the feature.
	StreamingRole string
}

// New creates a gateway. Attach must be called before Open.
func New(cfg Config, logger zerolog.Logger) (*Gateway, error) {
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds |
		discordgo.IntentsGuildMembers |
		discordgo.IntentsGuildVoiceStates

	return &Gateway{
		session:       session,
		streamingRole: cfg.StreamingRole,
		logger:        logger.With().Str("component", "discord").Logger(),
	}, nil
}

// Attach binds the service the gateway feeds.
func (g *Gateway) Attach(svc *service.Service) {
	g.svc = svc
}

// Open registers handlers and connects to the gateway.
func (g *Gateway) Open() error {
	g.session.AddHandler(g.onReady)
	g.session.AddHandler(g.onVoiceStateUpdate)

	if err := g.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}
	return nil
}

// Close disconnects from the gateway.
func (g *Gateway) Close() error {
	return g.session.Close()
}

// Live reports whether the user is currently in a voice channel of the space,
// answered from the session's cached state. This is the predicate crash
// recovery consults for stale open sessions.
func (g *Gateway) Live(spaceID, userID string) bool {
	guild, err := g.session.State.Guild(spaceID)
	if err != nil {
		return false
	}
	for _, vs := range guild.VoiceStates {
		if vs.UserID == userID && vs.ChannelID != "" {
			return true
		}
	}
	return false
}

func (g *Gateway) onReady(s *discordgo.Session, r *discordgo.Ready) {
	g.logger.Info().
		Str("user", r.User.Username).
		Int("guilds", len(r.Guilds)).
		Msg("Discord gateway ready")

	// Idempotent: reconnects resignal ready but recovery runs once.
	g.svc.OnReady(context.Background())
}

func (g *Gateway) onVoiceStateUpdate(s *discordgo.Session, v *discordgo.VoiceStateUpdate) {
	if v.GuildID == "" {
		return
	}

	isBot := v.Member != nil && v.Member.User != nil && v.Member.User.Bot
	valid := v.ChannelID != ""

	g.svc.ReportActivity(context.Background(), v.GuildID, v.UserID, isBot, valid)

	if !isBot {
		g.updateStreamingBadge(v)
	}
}

// updateStreamingBadge mirrors the member's screen-share state onto the badge
// role. Failures are logged only; the badge is cosmetic.
func (g *Gateway) updateStreamingBadge(v *discordgo.VoiceStateUpdate) {
	if g.streamingRole == "" {
		return
	}

	before := v.BeforeUpdate
	wasStreaming := before != nil && before.SelfStream
	started := v.SelfStream && !wasStreaming
	stopped := wasStreaming && (!v.SelfStream || v.ChannelID == "")

	switch {
	case started:
		if err := g.session.GuildMemberRoleAdd(v.GuildID, v.UserID, g.streamingRole); err != nil {
			g.logger.Warn().Err(err).
				Str("space_id", v.GuildID).
				Str("user_id", v.UserID).
				Msg("Failed to add streaming badge")
		}
	case stopped:
		if err := g.session.GuildMemberRoleRemove(v.GuildID, v.UserID, g.streamingRole); err != nil {
			g.logger.Warn().Err(err).
				Str("space_id", v.GuildID).
				Str("user_id", v.UserID).
				Msg("Failed to remove streaming badge")
		}
	}
}
