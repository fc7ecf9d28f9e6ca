package home

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const autocompleteTimeout = 2500 * time.Millisecond

func handleMusicPlay(event *events.ApplicationCommandInteractionCreate, data discord.SlashCommandInteractionData) {
	guildID, c, ok := guard(event, needBoundVoice)
	if !ok {
		return
	}
	query, _ := data.OptString("query")

	if query == "" {
		if deps.Player.IsPlaying(guildID) {
			replyEphemeral(event, sys.ErrAlreadyPlaying)
			return
		}
		if !deps.Player.Play(sys.AppContext, guildID, c.voiceID) {
			replyEphemeral(event, sys.ErrPlaylistEmpty)
			return
		}
		reply(event, sys.MsgResumePlaylist)
		return
	}

	// Lookups can take longer than the interaction window.
	_ = event.DeferCreateMessage(false)

	ctx, cancel := context.WithTimeout(sys.AppContext, 20*time.Second)
	defer cancel()
	track, err := deps.Lookup.Find(ctx, query)
	if errors.Is(err, music.ErrTrackNotFound) {
		edit(event, fmt.Sprintf(sys.ErrTrackNotFound, query))
		return
	}
	if err != nil {
		sys.LogError(sys.MsgCommandFail, "music play", guildID, err)
		edit(event, sys.ErrLookupFailed)
		return
	}

	position, err := deps.Player.AddSong(sys.AppContext, guildID, c.voiceID, event.User().ID, track)
	if err != nil {
		failed(event, true, err)
		return
	}
	edit(event, addedMessage(track.Title, position))
}

func addedMessage(title string, position int) string {
	if position > 1 {
		return fmt.Sprintf(sys.MsgAddedAt, title, position)
	}
	return fmt.Sprintf(sys.MsgAddedNow, title)
}

func handleMusicAutocomplete(event *events.AutocompleteInteractionCreate) {
	focused := event.Data.Focused()
	if focused.Name != "query" {
		return
	}
	query := focused.String()
	if query == "" {
		_ = event.AutocompleteResult(nil)
		return
	}
	// A pasted link plays as is.
	if strings.HasPrefix(query, "http://") || strings.HasPrefix(query, "https://") {
		_ = event.AutocompleteResult(nil)
		return
	}

	ctx, cancel := context.WithTimeout(sys.AppContext, autocompleteTimeout)
	defer cancel()
	results, err := deps.Lookup.Search(ctx, query, deps.SearchResults)
	if err != nil {
		_ = event.AutocompleteResult(nil)
		return
	}
	_ = event.AutocompleteResult(searchChoices(results))
}

// searchChoices turns search results into autocomplete choices. Values are
// watch links so the chosen song resolves directly.
func searchChoices(results []music.Track) []discord.AutocompleteChoice {
	choices := make([]discord.AutocompleteChoice, 0, min(len(results), 25))
	for i, r := range results {
		if i >= 25 {
			break
		}
		name := r.Title
		if r.Duration > 0 {
			name += " (" + shortDuration(r.Length()) + ")"
		}
		choices = append(choices, discord.AutocompleteChoiceString{
			Name:  truncate(name, 100),
			Value: r.URL(),
		})
	}
	return choices
}

func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n-3]) + "..."
}

// shortDuration renders d as m:ss, or h:mm:ss past an hour.
func shortDuration(d time.Duration) string {
	s := int(d / time.Second)
	if s >= 3600 {
		return fmt.Sprintf("%d:%02d:%02d", s/3600, s/60%60, s%60)
	}
	return fmt.Sprintf("%d:%02d", s/60, s%60)
}
