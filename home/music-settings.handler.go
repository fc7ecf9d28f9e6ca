package home

import (
	"fmt"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

type settingsView struct {
	access
	repeat     bool
	nowPlaying bool
	volume     int
}

func handleSettingsShow(event *events.ApplicationCommandInteractionCreate) {
	guildID := *event.GuildID()
	view := settingsView{
		access:     loadAccess(sys.AppContext, event, guildID),
		repeat:     deps.Settings.Bool(guildID, sys.SettingRepeat, false),
		nowPlaying: deps.Settings.Bool(guildID, sys.SettingShowPlayingMessage, false),
		volume:     deps.Settings.Int(guildID, sys.SettingVolume, music.DefaultVolume),
	}

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(
			discord.NewTextDisplay(fmt.Sprintf(sys.MsgSettingsHeader, guildName(event, guildID))),
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			discord.NewTextDisplay(renderSettings(view)),
		)).
		SetAllowedMentions(&discord.AllowedMentions{}).
		SetEphemeral(true).
		Build())
}

func renderSettings(v settingsView) string {
	lines := []string{
		"**DJ Role**: " + mentionOr(v.djRole, "<@&%s>"),
		"**Text Channel**: " + mentionOr(v.textChannel, "<#%s>"),
		"**Voice Channel**: " + mentionOr(v.voiceChannel, "<#%s>"),
		fmt.Sprintf("**Repeat**: *%t*", v.repeat),
		fmt.Sprintf("**Now Playing Message**: *%t*", v.nowPlaying),
		fmt.Sprintf("**Volume**: *%d%%*", v.volume),
	}
	return strings.Join(lines, "\n")
}

func mentionOr(id snowflake.ID, format string) string {
	if id == 0 {
		return "*None*"
	}
	return fmt.Sprintf(format, id)
}

// handleSettingsBind stores or, without the option, resets a channel or role
// binding.
func handleSettingsBind(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData, option string, key sys.SettingKey) {
	guildID := *event.GuildID()

	var id snowflake.ID
	if option == "role" {
		if role, ok := data.OptRole(option); ok {
			id = role.ID
		}
	} else if ch, ok := data.OptChannel(option); ok {
		id = ch.ID
	}

	var err error
	if id == 0 {
		_, _, err = deps.Settings.Reset(sys.AppContext, guildID, key)
	} else {
		err = deps.Settings.Set(sys.AppContext, guildID, key, id)
	}
	if err != nil {
		sys.LogError(sys.MsgCommandFail, commandPath(data), guildID, err)
		replyEphemeral(event, sys.ErrSettingsFailed)
		return
	}
	replyEphemeral(event, sys.MsgSettingsUpdated)
}

func handleSettingsNowPlaying(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID := *event.GuildID()
	enabled := data.Bool("enabled")

	if err := deps.Settings.Set(sys.AppContext, guildID, sys.SettingShowPlayingMessage, enabled); err != nil {
		sys.LogError(sys.MsgCommandFail, commandPath(data), guildID, err)
		replyEphemeral(event, sys.ErrSettingsFailed)
		return
	}
	if enabled {
		replyEphemeral(event, sys.MsgNowPlayingOn)
		return
	}
	replyEphemeral(event, sys.MsgNowPlayingOff)
}
