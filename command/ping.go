package command

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"
)

// Ping reports the gateway heartbeat latency.
func Ping() Command {
	return Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "ping",
			Description: "Show the bot's gateway latency",
		},
		Handler: func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
			latency := s.HeartbeatLatency().Round(time.Millisecond)
			return respond(s, i, fmt.Sprintf("Pong! Gateway latency: %s", latency))
		},
	}
}
