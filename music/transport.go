package music

import (
	"context"
	"io"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/sys"
)

// Settings is the slice of the per-guild settings store the player uses.
// *sys.SettingsStore satisfies it.
type Settings interface {
	String(guildID snowflake.ID, key sys.SettingKey, def string) string
	Int(guildID snowflake.ID, key sys.SettingKey, def int) int
	Bool(guildID snowflake.ID, key sys.SettingKey, def bool) bool
	Set(ctx context.Context, guildID snowflake.ID, key sys.SettingKey, value any) error
	Reset(ctx context.Context, guildID snowflake.ID, key sys.SettingKey) (any, bool, error)
}

// Source opens the raw audio of a track. Open returns once the stream has
// produced data.
type Source interface {
	Open(ctx context.Context, trackID string) (io.ReadCloser, error)
}

// Transport joins voice channels.
type Transport interface {
	Join(ctx context.Context, guildID, channelID snowflake.ID) (Conn, error)
}

// Conn is a live voice connection.
type Conn interface {
	// Play hands stream to the connection and returns immediately. Events
	// are delivered from the dispatcher's own goroutine.
	Play(stream io.ReadCloser, events DispatcherEvents) (Dispatcher, error)
	SetVolume(percent int)
	ChannelID() snowflake.ID
	Connected() bool
	Close(ctx context.Context)
}

// DispatcherEvents are the lifecycle callbacks of one played stream. End
// fires exactly once.
type DispatcherEvents struct {
	Start func()
	Error func(err error)
	End   func(reason string)
}

// Dispatcher controls the stream currently pushed into a connection.
type Dispatcher interface {
	Pause()
	Resume()
	End(reason string)
	Paused() bool
	Destroyed() bool
	Elapsed() time.Duration
}

// MessageRef points at a sent now-playing message.
type MessageRef struct {
	ChannelID snowflake.ID
	MessageID snowflake.ID
}

func (r MessageRef) IsZero() bool { return r.MessageID == 0 }

// Announcer renders playback to the chat platform.
type Announcer interface {
	Listening(ctx context.Context, title string)
	Announce(ctx context.Context, channelID snowflake.ID, entry Entry) (MessageRef, error)
	Retract(ctx context.Context, ref MessageRef)
}

type EventKind string

const (
	EventStarted EventKind = "track.started"
	EventEnded   EventKind = "track.ended"
	EventAdded   EventKind = "track.added"
	EventRemoved EventKind = "track.removed"
	EventStopped EventKind = "session.stopped"
)

// Event is a playback notification for outside consumers.
type Event struct {
	Kind      EventKind    `json:"kind"`
	GuildID   snowflake.ID `json:"guildId"`
	SessionID string       `json:"sessionId,omitempty"`
	Entry     *Entry       `json:"entry,omitempty"`
	Reason    string       `json:"reason,omitempty"`
	At        time.Time    `json:"at"`
}

// Events receives playback notifications. Publish must not block for long.
type Events interface {
	Publish(ctx context.Context, ev Event)
}

// Lookup resolves and searches tracks.
type Lookup interface {
	Resolve(ctx context.Context, id string) (Track, error)
	Search(ctx context.Context, query string, max int) ([]Track, error)
}

type nopAnnouncer struct{}

func (nopAnnouncer) Listening(context.Context, string) {}
func (nopAnnouncer) Announce(context.Context, snowflake.ID, Entry) (MessageRef, error) {
	return MessageRef{}, nil
}
func (nopAnnouncer) Retract(context.Context, MessageRef) {}

type nopEvents struct{}

func (nopEvents) Publish(context.Context, Event) {}
