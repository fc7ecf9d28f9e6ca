package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/sys"
)

func handleMusicStop(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	if !deps.Player.Stop(sys.AppContext, guildID) {
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}
	reply(event, sys.MsgStopped)
}

func handleMusicLeave(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	if !deps.Player.Disconnect(sys.AppContext, guildID) {
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}
	reply(event, sys.MsgDisconnected)
}

// handleGuildLeave forgets everything kept for a guild the bot was removed from.
func handleGuildLeave(event *events.GuildLeave) {
	guildID := event.GuildID
	ctx := sys.AppContext

	owner := deps.Player.ActiveOwner(guildID)
	deps.Player.Disconnect(ctx, guildID)
	deps.Player.Store().Evict(owner)
	if err := deps.Settings.Delete(ctx, guildID); err != nil {
		sys.LogError(sys.MsgCommandFail, "guild leave", guildID, err)
		return
	}
	sys.LogInfo(sys.MsgGuildLeaveClean, guildID)
}
