package command

import (
	"context"
	stderrors "errors"
	"fmt"

	"github.com/bwmarrin/discordgo"

	"github.com/Eterna-Community/Deterna-Bot/errors"
	"github.com/Eterna-Community/Deterna-Bot/ticket"
)

// Ticket exposes the ticket service's operations as one slash command
// with open, claim, and close subcommands.
func Ticket(tickets *ticket.Service) Command {
	return Command{
		Definition: &discordgo.ApplicationCommand{
			Name:        "ticket",
			Description: "Manage support tickets",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "open",
					Description: "Open a support ticket",
					Options: []*discordgo.ApplicationCommandOption{
						{
							Type:        discordgo.ApplicationCommandOptionString,
							Name:        "subject",
							Description: "What the ticket is about",
						},
					},
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "claim",
					Description: "Claim the ticket in this channel",
				},
				{
					Type:        discordgo.ApplicationCommandOptionSubCommand,
					Name:        "close",
					Description: "Close the ticket in this channel",
				},
			},
		},
		Handler: func(s *discordgo.Session, i *discordgo.InteractionCreate) error {
			return handleTicket(tickets, s, i)
		},
	}
}

func handleTicket(tickets *ticket.Service, s *discordgo.Session, i *discordgo.InteractionCreate) error {
	data := i.ApplicationCommandData()
	if len(data.Options) == 0 {
		return respond(s, i, "Pick a ticket subcommand: open, claim, or close.")
	}

	sub := data.Options[0]
	userID := interactionUserID(i)
	ctx := context.Background()

	switch sub.Name {
	case "open":
		if i.GuildID == "" {
			return respond(s, i, "Tickets can only be opened inside a server.")
		}
		var subject string
		for _, opt := range sub.Options {
			if opt.Name == "subject" {
				subject = opt.StringValue()
			}
		}

		tk, err := tickets.Open(ctx, i.GuildID, userID, subject)
		switch {
		case err == nil:
			return respond(s, i, fmt.Sprintf("Ticket opened: <#%s>", tk.ChannelID))
		case stderrors.Is(err, ticket.ErrTooManyTickets):
			return respond(s, i, "You already have the maximum number of open tickets.")
		default:
			return err
		}

	case "claim":
		_, err := tickets.Claim(ctx, i.ChannelID, userID)
		switch {
		case err == nil:
			return respond(s, i, "Ticket claimed. You are handling it now.")
		case stderrors.Is(err, ticket.ErrAlreadyClaimed):
			return respond(s, i, "This ticket is already claimed.")
		case stderrors.Is(err, ticket.ErrTicketClosed):
			return respond(s, i, "This ticket is already closed.")
		case stderrors.Is(err, errors.ErrNotFound):
			return respond(s, i, "This channel is not a ticket.")
		default:
			return err
		}

	case "close":
		tk, err := tickets.GetByChannel(ctx, i.ChannelID)
		switch {
		case stderrors.Is(err, errors.ErrNotFound):
			return respond(s, i, "This channel is not a ticket.")
		case err != nil:
			return err
		case tk.State == ticket.StateClosed:
			return respond(s, i, "This ticket is already closed.")
		}

		// Acknowledge before closing; the close deletes this channel.
		ackErr := respond(s, i, "Closing this ticket.")
		if _, err := tickets.Close(ctx, i.ChannelID, userID); err != nil {
			return err
		}
		return ackErr

	default:
		return respond(s, i, fmt.Sprintf("Unknown ticket subcommand %q.", sub.Name))
	}
}
