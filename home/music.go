package home

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/proc"
	"github.com/leeineian/mai/sys"
)

// Deps are the services the commands drive. main wires them before the
// gateway opens.
type Deps struct {
	Player        *music.Player
	Lookup        *proc.Lookup
	Settings      *sys.SettingsStore
	SearchResults int
}

var deps Deps

func Setup(d Deps) {
	if d.SearchResults <= 0 {
		d.SearchResults = 5
	}
	deps = d
}

// --- Access ---

// access holds the guild settings that restrict where and by whom music
// commands may be used. Zero ids mean unrestricted.
type access struct {
	textChannel  snowflake.ID
	voiceChannel snowflake.ID
	djRole       snowflake.ID
}

type caller struct {
	channelID snowflake.ID
	voiceID   snowflake.ID
	roles     []snowflake.ID
	admin     bool
}

type requirement int

const (
	needNothing requirement = iota
	needVoice
	needBoundVoice
)

// check returns the message that blocks the call, or "" when it may run.
func (a access) check(c caller, req requirement) string {
	if a.textChannel != 0 && c.channelID != a.textChannel {
		return fmt.Sprintf(sys.ErrWrongTextChannel, a.textChannel)
	}
	if req == needNothing {
		return ""
	}
	if a.djRole != 0 && !c.admin && !slices.Contains(c.roles, a.djRole) {
		return sys.ErrDJOnly
	}
	if c.voiceID == 0 {
		return sys.ErrNotInVoice
	}
	if req == needBoundVoice && a.voiceChannel != 0 && c.voiceID != a.voiceChannel {
		return fmt.Sprintf(sys.ErrWrongVoiceChannel, a.voiceChannel)
	}
	return ""
}

// loadAccess reads the bound channels and role of a guild. Bindings that point
// at channels the bot can no longer see are reset.
func loadAccess(ctx context.Context, event interactionEvent, guildID snowflake.ID) access {
	var a access
	caches := event.Client().Caches
	if id, ok := deps.Settings.Snowflake(guildID, sys.SettingTextChannel); ok {
		if _, found := caches.Channel(id); found {
			a.textChannel = id
		} else {
			_, _, _ = deps.Settings.Reset(ctx, guildID, sys.SettingTextChannel)
		}
	}
	if id, ok := deps.Settings.Snowflake(guildID, sys.SettingVoiceChannel); ok {
		if _, found := caches.Channel(id); found {
			a.voiceChannel = id
		} else {
			_, _, _ = deps.Settings.Reset(ctx, guildID, sys.SettingVoiceChannel)
		}
	}
	if id, ok := deps.Settings.Snowflake(guildID, sys.SettingRole); ok {
		a.djRole = id
	}
	return a
}

type interactionEvent interface {
	Client() *bot.Client
	GuildID() *snowflake.ID
	Channel() discord.InteractionChannel
	User() discord.User
	Member() *discord.ResolvedMember
}

func callerOf(event interactionEvent) caller {
	c := caller{channelID: event.Channel().ID()}
	if m := event.Member(); m != nil {
		c.roles = m.RoleIDs
		c.admin = m.Permissions.Has(discord.PermissionAdministrator)
	}
	if event.GuildID() != nil {
		if vs, ok := event.Client().Caches.VoiceState(*event.GuildID(), event.User().ID); ok && vs.ChannelID != nil {
			c.voiceID = *vs.ChannelID
		}
	}
	return c
}

// guard runs the access checks for a command and answers the interaction
// when it is blocked.
func guard(event *events.ApplicationCommandInteractionCreate, req requirement) (snowflake.ID, caller, bool) {
	guildID := event.GuildID()
	if guildID == nil {
		replyEphemeral(event, sys.ErrNotInGuild)
		return 0, caller{}, false
	}
	c := callerOf(event)
	if msg := loadAccess(sys.AppContext, event, *guildID).check(c, req); msg != "" {
		replyEphemeral(event, msg)
		return 0, caller{}, false
	}
	return *guildID, c, true
}

// --- Replies ---

func reply(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

func replyEphemeral(event *events.ApplicationCommandInteractionCreate, content string) {
	_ = event.CreateMessage(discord.NewMessageCreateBuilder().
		SetContent(content).
		SetEphemeral(true).
		Build())
}

// edit replaces the deferred response.
func edit(event *events.ApplicationCommandInteractionCreate, content string) {
	_, _ = event.Client().Rest.UpdateInteractionResponse(event.ApplicationID(), event.Token(), discord.NewMessageUpdateBuilder().
		SetContent(content).
		SetAllowedMentions(&discord.AllowedMentions{}).
		Build())
}

// errorMessage maps player errors to what the user is told.
func errorMessage(err error) string {
	switch {
	case errors.Is(err, music.ErrSelfOverwrite), errors.Is(err, music.ErrSameOwner):
		return sys.ErrSelfOverwrite
	case errors.Is(err, music.ErrEmptyPlaylist):
		return sys.ErrNothingToSave
	case errors.Is(err, music.ErrAlreadyLoaded):
		return sys.ErrAlreadyLoaded
	case errors.Is(err, music.ErrPlaylistNotFound):
		return sys.ErrClearMissing
	case errors.Is(err, music.ErrVolumeRange):
		return fmt.Sprintf(sys.ErrVolumeRange, music.MinVolume, music.MaxVolume)
	case errors.Is(err, music.ErrTrackNotFound):
		return sys.ErrLookupFailed
	}
	return sys.ErrUnexpected
}

// failed logs err against the command and answers with its user message.
func failed(event *events.ApplicationCommandInteractionCreate, deferred bool, err error) {
	msg := errorMessage(err)
	if msg == sys.ErrUnexpected {
		guild := "dm"
		if event.GuildID() != nil {
			guild = event.GuildID().String()
		}
		sys.LogError(sys.MsgCommandFail, commandPath(event.SlashCommandInteractionData()), guild, err)
	}
	if deferred {
		edit(event, msg)
		return
	}
	replyEphemeral(event, msg)
}

func commandPath(data discord.SlashCommandInteractionData) string {
	if data.SubCommandName != nil {
		return data.CommandName() + " " + *data.SubCommandName
	}
	return data.CommandName()
}
