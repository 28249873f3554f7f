package notify

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"arenabot/internal/session"
)

// Discord posts events to the channel whose id is the arena id. Arena ids
// carry a "discord:" prefix so one process can serve several networks.
type Discord struct {
	dg  *discordgo.Session
	log *slog.Logger
}

const discordPrefix = "discord:"

func DiscordArena(channelID string) string { return discordPrefix + channelID }

func NewDiscord(token string, logger *slog.Logger) (*Discord, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("discord token is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	dg, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
	return &Discord{dg: dg, log: logger}, nil
}

func (d *Discord) Announce(ctx context.Context, ev session.Event) error {
	channelID, ok := strings.CutPrefix(ev.ArenaID, discordPrefix)
	if !ok {
		return nil
	}
	if _, err := d.dg.ChannelMessageSend(channelID, formatEvent(ev), discordgo.WithContext(ctx)); err != nil {
		return fmt.Errorf("discord send: %w", err)
	}
	return nil
}

// Listen opens the gateway and feeds channel messages to handle until ctx
// is done. Replies are posted back to the same channel.
func (d *Discord) Listen(ctx context.Context, handle MessageHandler) error {
	remove := d.dg.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil || m.Author.Bot {
			return
		}
		name := m.Author.GlobalName
		if name == "" {
			name = m.Author.Username
		}
		reply := handle(ctx, Message{
			ArenaID:     DiscordArena(m.ChannelID),
			PlayerID:    discordPrefix + m.Author.ID,
			DisplayName: name,
			Text:        m.Content,
			MessageID:   m.ID,
		})
		if reply == "" {
			return
		}
		if _, err := s.ChannelMessageSend(m.ChannelID, reply, discordgo.WithContext(ctx)); err != nil {
			d.log.Warn("discord reply failed", "channel_id", m.ChannelID, "err", err)
		}
	})
	defer remove()

	if err := d.dg.Open(); err != nil {
		return fmt.Errorf("discord open: %w", err)
	}
	d.log.Info("discord connected")
	<-ctx.Done()
	return d.dg.Close()
}
