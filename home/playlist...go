package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/sys"
)

const (
	playlistYours  = "yours"
	playlistServer = "server"
)

func init() {
	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "playlist",
		Description: "Playlist System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "save",
				Description: "Save the current playlist as your personal playlist, overwriting your previous one",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "load",
				Description: "Load your personal playlist or the server playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:        "playlist",
						Description: "Which playlist to load (defaults to yours)",
						Required:    false,
						Choices: []discord.ApplicationCommandOptionChoiceString{
							{Name: "Yours", Value: playlistYours},
							{Name: "Server", Value: playlistServer},
						},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "clear",
				Description: "Delete every song of the loaded playlist",
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "save":
			handlePlaylistSave(event)
		case "load":
			handlePlaylistLoad(event, data)
		case "clear":
			handlePlaylistClear(event)
		}
	})
}
