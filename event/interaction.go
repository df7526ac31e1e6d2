package event

import (
	"github.com/Eterna-Community/Deterna-Bot/command"
)

// InteractionCreate routes slash-command interactions to the command
// registry's dispatcher.
func InteractionCreate(commands *command.Registry) Binding {
	return Binding{
		Name:    "interaction-create",
		Handler: commands.HandleInteraction,
	}
}
