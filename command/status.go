package command

import (
	"fmt"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/health"
	"github.com/Eterna-Community/Deterna-Bot/service"
)

const (
	colorGreen  = 0x57F287
	colorYellow = 0xFEE75C
	colorRed    = 0xED4245
)

// Status reports every supervised service in one embed.
func Status(manager *service.Manager) Command {
	return Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "status",
			Description: "Show the status of every bot service",
		},
		Handler: func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
			infos := manager.Infos()

			fields := make([]*discordgo.MessageEmbedField, 0, len(infos))
			for _, info := range infos {
				fields = append(fields, &discordgo.MessageEmbedField{
					Name:   info.Name,
					Value:  describeService(info),
					Inline: true,
				})
			}

			return respondEmbed(s, i, &discordgo.MessageEmbed{
				Title:  "Service status",
				Color:  statusColor(infos),
				Fields: fields,
			})
		},
	}
}

// describeService renders one service's field value. Error text is
// sanitized because the embed leaves the process.
func describeService(info service.Info) string {
	switch {
	case info.LastError != "":
		return fmt.Sprintf("%s\nlast error: %s", info.Status, health.SanitizeMessage(info.LastError))
	case info.Uptime > 0:
		return fmt.Sprintf("%s\nup %s", info.Status, info.Uptime.Round(time.Second))
	default:
		return info.Status
	}
}

// statusColor picks the embed color from the worst service state.
func statusColor(infos []service.Info) int {
	color := colorGreen
	for _, info := range infos {
		if info.Status == service.StatusError.String() {
			return colorRed
		}
		if !info.Healthy {
			color = colorYellow
		}
	}
	return color
}
