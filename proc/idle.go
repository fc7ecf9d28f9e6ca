package proc

import (
	"context"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/sys"
)

type idlePlayer interface {
	Connected(guildID snowflake.ID) (snowflake.ID, bool)
	Disconnect(ctx context.Context, guildID snowflake.ID) bool
}

// IdleWatcher disconnects the bot once its voice channel has had no human
// listeners for the grace period.
type IdleWatcher struct {
	player idlePlayer
	grace  time.Duration

	mu     sync.Mutex
	timers map[snowflake.ID]*time.Timer
}

func NewIdleWatcher(player idlePlayer, grace time.Duration) *IdleWatcher {
	return &IdleWatcher{
		player: player,
		grace:  grace,
		timers: make(map[snowflake.ID]*time.Timer),
	}
}

// OnVoiceStateUpdate is registered with the loader.
func (w *IdleWatcher) OnVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	client := event.Client()
	guildID := event.VoiceState.GuildID
	if event.VoiceState.UserID == client.ID() {
		w.BotMoved(guildID, event.VoiceState.ChannelID)
		return
	}
	channelID, ok := w.player.Connected(guildID)
	if !ok {
		return
	}
	w.Check(guildID, countHumans(client, guildID, channelID))
}

func countHumans(client *bot.Client, guildID, channelID snowflake.ID) int {
	n := 0
	for state := range client.Caches.VoiceStates(guildID) {
		if state.ChannelID == nil || *state.ChannelID != channelID || state.UserID == client.ID() {
			continue
		}
		if m, ok := client.Caches.Member(guildID, state.UserID); !ok || !m.User.Bot {
			n++
		}
	}
	return n
}

// BotMoved handles the bot's own voice state. A nil channel means it was
// disconnected from outside and the session ends.
func (w *IdleWatcher) BotMoved(guildID snowflake.ID, channelID *snowflake.ID) {
	if channelID != nil {
		return
	}
	w.cancel(guildID)
	if _, ok := w.player.Connected(guildID); ok {
		sys.LogVoice(sys.MsgVoiceKicked, guildID)
		w.player.Disconnect(context.Background(), guildID)
	}
}

// Check arms or cancels the idle timer of a guild for the given listener
// count.
func (w *IdleWatcher) Check(guildID snowflake.ID, humans int) {
	w.mu.Lock()
	defer w.mu.Unlock()

	t, pending := w.timers[guildID]
	if humans > 0 {
		if pending {
			t.Stop()
			delete(w.timers, guildID)
			sys.LogVoice(sys.MsgVoiceIdleCancel, guildID)
		}
		return
	}
	if pending {
		return
	}
	sys.LogVoice(sys.MsgVoiceIdle, guildID, w.grace)
	var timer *time.Timer
	timer = time.AfterFunc(w.grace, func() {
		w.mu.Lock()
		if w.timers[guildID] != timer {
			w.mu.Unlock()
			return
		}
		delete(w.timers, guildID)
		w.mu.Unlock()

		sys.LogVoice(sys.MsgVoiceIdleFired, guildID)
		w.player.Disconnect(context.Background(), guildID)
	})
	w.timers[guildID] = timer
}

func (w *IdleWatcher) cancel(guildID snowflake.ID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[guildID]; ok {
		t.Stop()
		delete(w.timers, guildID)
	}
}

// Pending reports whether a disconnect is scheduled for the guild.
func (w *IdleWatcher) Pending(guildID snowflake.ID) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.timers[guildID]
	return ok
}

// Shutdown stops every pending timer.
func (w *IdleWatcher) Shutdown() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for id, t := range w.timers {
		t.Stop()
		delete(w.timers, id)
	}
}
