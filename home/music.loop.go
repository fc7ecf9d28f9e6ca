package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

func handleMusicLoop(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	repeat, err := deps.Player.ToggleRepeat(sys.AppContext, guildID)
	if err != nil {
		failed(event, false, err)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgRepeatSet, repeat))
}

func handleMusicVolume(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	percent, set := data.OptInt("percent")
	req := needNothing
	if set {
		req = needVoice
	}
	guildID, _, ok := guard(event, req)
	if !ok {
		return
	}

	if !set {
		reply(event, fmt.Sprintf(sys.MsgVolumeCurrent, deps.Settings.Int(guildID, sys.SettingVolume, music.DefaultVolume)))
		return
	}
	if err := deps.Player.SetVolume(sys.AppContext, guildID, percent); err != nil {
		failed(event, false, err)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgVolumeSet, percent))
}
