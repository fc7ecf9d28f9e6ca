package home

import (
	"fmt"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

func handlePlaylistSave(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	if err := deps.Player.Save(sys.AppContext, guildID, music.MemberOwner(event.User().ID)); err != nil {
		failed(event, false, err)
		return
	}
	reply(event, fmt.Sprintf(sys.MsgPlaylistSaved, memberName(event)))
}

// handlePlaylistLoad switches playlists and starts the loaded one in the
// caller's voice channel.
func handlePlaylistLoad(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID, c, ok := guard(event, needBoundVoice)
	if !ok {
		return
	}

	var owner *music.Owner
	name := guildName(event, guildID)
	if which, _ := data.OptString("playlist"); which != playlistServer {
		member := music.MemberOwner(event.User().ID)
		owner = &member
		name = memberName(event)
	}
	if err := deps.Player.Load(sys.AppContext, guildID, owner); err != nil {
		failed(event, false, err)
		return
	}
	deps.Player.Play(sys.AppContext, guildID, c.voiceID)
	reply(event, fmt.Sprintf(sys.MsgPlaylistLoaded, name))
}

func handlePlaylistClear(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needVoice)
	if !ok {
		return
	}
	if err := deps.Player.Clear(sys.AppContext, guildID); err != nil {
		failed(event, false, err)
		return
	}
	reply(event, sys.MsgPlaylistCleared)
}

func memberName(event interactionEvent) string {
	if m := event.Member(); m != nil {
		return m.EffectiveName()
	}
	return event.User().EffectiveName()
}
