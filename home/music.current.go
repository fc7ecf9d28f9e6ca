package home

import (
	"fmt"
	"strings"
	"time"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const progressWidth = 16

func handleMusicCurrent(event *events.ApplicationCommandInteractionCreate) {
	guildID, _, ok := guard(event, needNothing)
	if !ok {
		return
	}
	cur, ok := deps.Player.Current(sys.AppContext, guildID)
	if !ok {
		replyEphemeral(event, sys.ErrNothingPlaying)
		return
	}

	section := discord.NewSection(
		discord.NewTextDisplay(renderCurrent(cur, requesterName(event, guildID, cur.Entry.RequestedBy))),
	).WithAccessory(discord.NewThumbnail(cur.Entry.Track.Thumbnail()))

	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(discord.NewContainer(section)).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

func requesterName(event interactionEvent, guildID, userID snowflake.ID) string {
	if userID == 0 {
		return "Unknown"
	}
	if m, ok := event.Client().Caches.Member(guildID, userID); ok {
		return m.EffectiveName()
	}
	return "Unknown"
}

func renderCurrent(cur music.CurrentSong, requester string) string {
	track := cur.Entry.Track
	status := "Now Playing"
	if cur.State == music.StatePaused {
		status = "Paused"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n", status)
	fmt.Fprintf(&b, "[**%d.** %s](%s)\n", cur.Position, track.Title, track.URL())
	fmt.Fprintf(&b, "**Requested By:** %s\n", requester)
	fmt.Fprintf(&b, "**Progress:** `%s/%s`\n", music.FormatDuration(cur.Elapsed), music.FormatDuration(track.Length()))
	b.WriteString(progressBar(cur.Elapsed, track.Length(), progressWidth))
	return b.String()
}

// progressBar draws elapsed over total as a fixed width bar. Unknown lengths
// keep the knob at the start.
func progressBar(elapsed, total time.Duration, width int) string {
	at := 0
	if total > 0 {
		at = int(int64(width-1) * int64(max(min(elapsed, total), 0)) / int64(total))
	}
	return strings.Repeat("▬", at) + "🔘" + strings.Repeat("▬", width-1-at)
}
