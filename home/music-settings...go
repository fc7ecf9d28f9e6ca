package home

import (
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/omit"

	"github.com/leeineian/mai/sys"
)

func init() {
	adminPerm := discord.PermissionAdministrator

	sys.RegisterCommand(discord.SlashCommandCreate{
		Name:                     "music-settings",
		Description:              "Music settings for this server",
		DefaultMemberPermissions: omit.New(&adminPerm),
		Options: []discord.ApplicationCommandOption{
			discord.ApplicationCommandOptionSubCommand{
				Name:        "show",
				Description: "Show the music settings",
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "text-channel",
				Description: "Only accept music commands in a channel (empty to allow all)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionChannel{
						Name:         "channel",
						Description:  "The text channel",
						Required:     false,
						ChannelTypes: []discord.ChannelType{discord.ChannelTypeGuildText},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "voice-channel",
				Description: "Only play in a voice channel (empty to allow all)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionChannel{
						Name:         "channel",
						Description:  "The voice channel",
						Required:     false,
						ChannelTypes: []discord.ChannelType{discord.ChannelTypeGuildVoice, discord.ChannelTypeGuildStageVoice},
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "dj-role",
				Description: "Only let a role control playback (empty to allow everyone)",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionRole{
						Name:        "role",
						Description: "The DJ role",
						Required:    false,
					},
				},
			},
			discord.ApplicationCommandOptionSubCommand{
				Name:        "now-playing",
				Description: "Post a message in the music text channel when a song starts",
				Options: []discord.ApplicationCommandOption{
					discord.ApplicationCommandOptionBool{
						Name:        "enabled",
						Description: "Send now playing messages",
						Required:    true,
					},
				},
			},
		},
	}, func(event *events.ApplicationCommandInteractionCreate) {
		data := event.SlashCommandInteractionData()
		if data.SubCommandName == nil {
			return
		}
		if event.GuildID() == nil {
			replyEphemeral(event, sys.ErrNotInGuild)
			return
		}

		switch *data.SubCommandName {
		case "show":
			handleSettingsShow(event)
		case "text-channel":
			handleSettingsBind(event, data, "channel", sys.SettingTextChannel)
		case "voice-channel":
			handleSettingsBind(event, data, "channel", sys.SettingVoiceChannel)
		case "dj-role":
			handleSettingsBind(event, data, "role", sys.SettingRole)
		case "now-playing":
			handleSettingsNowPlaying(event, data)
		}
	})
}
