package home

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

// Format: music:queue:<page>. Page 0 opens the page of the current song.
const queueButtonPrefix = "music:queue:"

func handleMusicQueue(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID, _, ok := guard(event, needNothing)
	if !ok {
		return
	}
	page, _ := data.OptInt("page")

	view, ok := deps.Player.Queue(sys.AppContext, guildID, page)
	if !ok {
		replyEphemeral(event, sys.ErrPlaylistEmpty)
		return
	}
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetIsComponentsV2(true).
		AddComponents(queueContainer(guildName(event, guildID), view)).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

func handleQueuePagination(event *events.ComponentInteractionCreate) {
	page, ok := parseQueuePage(event.Data.CustomID())
	if !ok || event.GuildID() == nil {
		return
	}
	guildID := *event.GuildID()

	view, ok := deps.Player.Queue(sys.AppContext, guildID, page)
	if !ok {
		_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
			SetIsComponentsV2(true).
			SetComponents(discord.NewContainer(discord.NewTextDisplay(sys.ErrPlaylistEmpty))).
			Build())
		return
	}
	_ = event.UpdateMessage(discord.NewMessageUpdateBuilder().
		SetIsComponentsV2(true).
		SetComponents(queueContainer(guildName(event, guildID), view)).
		Build())
}

func parseQueuePage(customID string) (int, bool) {
	raw, found := strings.CutPrefix(customID, queueButtonPrefix)
	if !found {
		return 0, false
	}
	page, err := strconv.Atoi(raw)
	if err != nil || page < 0 {
		return 0, false
	}
	return page, true
}

func queueContainer(title string, view music.QueueView) discord.ContainerComponent {
	components := []discord.ContainerSubComponent{
		discord.NewTextDisplay(renderQueue(title, view)),
	}
	if view.PageCount > 1 {
		prev := discord.NewSecondaryButton("◀", queueButtonPrefix+strconv.Itoa(view.Page-1))
		if view.Page <= 1 {
			prev = prev.AsDisabled()
		}
		current := discord.NewSecondaryButton("🎵", queueButtonPrefix+"0")
		if view.Page == view.CurrentPage {
			current = current.AsDisabled()
		}
		next := discord.NewSecondaryButton("▶", queueButtonPrefix+strconv.Itoa(view.Page+1))
		if view.Page >= view.PageCount {
			next = next.AsDisabled()
		}
		components = append(components,
			discord.NewSeparator(discord.SeparatorSpacingSizeSmall).WithDivider(true),
			discord.NewActionRow(prev, current, next),
		)
	}
	return discord.NewContainer(components...)
}

// renderQueue lists one page of the playlist with the current song in bold,
// followed by its neighbours and the page footer.
func renderQueue(title string, view music.QueueView) string {
	var b strings.Builder
	fmt.Fprintf(&b, ":musical_note: **%s's Playlist**\n\n", title)

	for i, e := range view.Entries {
		pos := view.Position(i)
		line := fmt.Sprintf("`%d.` %s `%s`", pos, e.Track.Title, music.FormatDuration(e.Track.Length()))
		if pos == view.CurrentPosition {
			line = fmt.Sprintf("**`%d.` %s** `%s` :arrow_left:", pos, e.Track.Title, music.FormatDuration(e.Track.Length()))
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("\n**Previous Song:** ")
	b.WriteString(neighbour(view.Previous))
	b.WriteString("\n**Next Song:** ")
	b.WriteString(neighbour(view.Next))
	b.WriteString("\n-# ")
	fmt.Fprintf(&b, sys.MsgQueueFooter, view.Page, view.PageCount, music.FormatDuration(view.TotalDuration))
	return b.String()
}

func neighbour(e *music.Entry) string {
	if e == nil {
		return sys.MsgQueueEmpty
	}
	return fmt.Sprintf("%s `%s`", e.Track.Title, music.FormatDuration(e.Track.Length()))
}

func guildName(event interactionEvent, guildID snowflake.ID) string {
	if g, ok := event.Client().Caches.Guild(guildID); ok {
		return g.Name
	}
	return guildID.String()
}
