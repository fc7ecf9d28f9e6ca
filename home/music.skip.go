package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/sys"
)

func handleMusicSkip(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	if !deps.Player.IsPlaying(guildID) {
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}
	position, _ := data.OptInt("position")
	if position != 0 && !deps.Player.IsInRange(sys.AppContext, guildID, position) {
		replyEphemeral(event, sys.ErrOutOfQueue)
		return
	}

	if !deps.Player.Skip(sys.AppContext, guildID, position) {
		if cur, ok := deps.Player.Current(sys.AppContext, guildID); ok && cur.Position == position {
			replyEphemeral(event, sys.ErrSkipCurrent)
			return
		}
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}
	if position == 0 {
		reply(event, sys.MsgSkipped)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgSkippedTo, position))
}

func handleMusicRemove(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	position, _ := data.OptInt("position")
	if position == 0 && !deps.Player.IsPlaying(guildID) {
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}
	if position != 0 && !deps.Player.IsInRange(sys.AppContext, guildID, position) {
		replyEphemeral(event, sys.ErrOutOfQueue)
		return
	}

	removed, ok := deps.Player.RemoveSong(sys.AppContext, guildID, position)
	if !ok {
		replyEphemeral(event, sys.ErrOutOfQueue)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgRemoved, removed.Track.Title))
}
