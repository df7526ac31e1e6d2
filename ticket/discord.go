package ticket

import (
	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/discord"
)

// sessionChannels adapts the shared discord client to the ChannelManager
// surface. Every call requires a connected gateway, which the service's
// dependency on discord-gateway guarantees during normal operation.
type sessionChannels struct {
	client *discord.Client
}

func (c *sessionChannels) CreateTicketChannel(guildID, name, categoryID string, overwrites []*discordgo.PermissionOverwrite) (string, error) {
	session, err := c.client.Session()
	if err != nil {
		return "", err
	}

	channel, err := session.GuildChannelCreateComplex(guildID, discordgo.GuildChannelCreateData{
		Name:                 name,
		Type:                 discordgo.ChannelTypeGuildText,
		ParentID:             categoryID,
		PermissionOverwrites: overwrites,
	})
	if err != nil {
		return "", err
	}
	return channel.ID, nil
}

func (c *sessionChannels) DeleteChannel(channelID string) error {
	session, err := c.client.Session()
	if err != nil {
		return err
	}
	_, err = session.ChannelDelete(channelID)
	return err
}

func (c *sessionChannels) SendEmbed(channelID string, embed *discordgo.MessageEmbed) error {
	session, err := c.client.Session()
	if err != nil {
		return err
	}
	_, err = session.ChannelMessageSendEmbed(channelID, embed)
	return err
}
