// Package command declares the bot's slash commands and dispatches
// interactions to them. Commands are plain records built by explicit
// builder functions and collected in a Registry; deploying pushes the
// definitions to Discord in one bulk overwrite.
package command

import (
	"github.com/bwmarrin/discordgo"
)

// HandlerFunc executes one slash-command interaction. A returned error
// is logged, counted, and answered with a generic failure notice.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate) error

// Command pairs a slash-command definition with its handler.
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    HandlerFunc
}

// Name returns the slash-command name from the definition.
func (c Command) Name() string {
	if c.Definition == nil {
		return ""
	}
	return c.Definition.Name
}

// respond sends the initial interaction response as an ephemeral notice
// only the invoking user sees.
func respond(s *discordgo.Session, i *discordgo.InteractionCreate, content string) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// respondEmbed sends the initial interaction response as a visible embed.
func respondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) error {
	return s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Embeds: []*discordgo.MessageEmbed{embed},
		},
	})
}

// interactionUserID extracts the invoking user. Discord delivers it
// under Member inside guilds and under User in direct messages.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
