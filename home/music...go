package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

func init() {
	minVolume, maxVolume := music.MinVolume, music.MaxVolume
	minPosition := 0

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:        "music",
		Description: "Music System",
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "play",
				Description: "Add a song to the playlist, or resume the playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionString{
						Name:         "query",
						Description:  "A YouTube link or what to search for",
						Required:     false,
						Autocomplete: true,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "queue",
				Description: "Show the playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "page",
						Description: "Page to open (defaults to the page of the current song)",
						Required:    false,
						MinValue:    &minPosition,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "current",
				Description: "Show the song that is playing",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "skip",
				Description: "Skip the current song or jump to a position",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Playlist position to jump to",
						Required:    false,
						MinValue:    &minPosition,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "remove",
				Description: "Remove a song from the playlist",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "position",
						Description: "Playlist position to remove (defaults to the current song)",
						Required:    false,
						MinValue:    &minPosition,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "pause",
				Description: "Pause the current song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "resume",
				Description: "Resume the paused song",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "stop",
				Description: "Stop playback, keeping the playlist",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "leave",
				Description: "Stop playback and leave the voice channel",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "loop",
				Description: "Toggle repeating the playlist",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "volume",
				Description: "Show or set the volume",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionInt{
						Name:        "percent",
						Description: "New volume in percent",
						Required:    false,
						MinValue:    &minVolume,
						MaxValue:    &maxVolume,
					},
				},
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}

		switch *data.SubCommandName {
		case "play":
			handleMusicPlay(event, data)
		case "queue":
			handleMusicQueue(event, data)
		case "current":
			handleMusicCurrent(event)
		case "skip":
			handleMusicSkip(event, data)
		case "remove":
			handleMusicRemove(event, data)
		case "pause":
			handleMusicPause(event)
		case "resume":
			handleMusicResume(event)
		case "stop":
			handleMusicStop(event)
		case "leave":
			handleMusicLeave(event)
		case "loop":
			handleMusicLoop(event)
		case "volume":
			handleMusicVolume(event, data)
		}
	})

	sys.RegisterAutocompleteHandler("music", handleMusicAutocomplete)
	sys.RegisterComponentHandler(queueButtonPrefix, handleQueuePagination)
	sys.RegisterGuildLeaveHandler(handleGuildLeave)
}
