package home

import (
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/sys"
)

func handleMusicPause(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	switch {
	case deps.Player.IsPaused(guildID):
		replyEphemeral(event, sys.ErrAlreadyPaused)
	case !deps.Player.Pause(guildID):
		replyEphemeral(event, sys.ErrNothingPlaying)
	default:
		reply(event, sys.MsgPaused)
	}
}

func handleMusicResume(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	switch {
	case !deps.Player.IsPlaying(guildID):
		replyEphemeral(event, sys.ErrNothingPlaying)
	case !deps.Player.Resume(guildID):
		replyEphemeral(event, sys.ErrNotPaused)
	default:
		reply(event, sys.MsgResumed)
	}
}
