package proc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/snowflake/v2"
	"golang.org/x/time/rate"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

// Gateway presence updates are capped at 5 per 20 seconds.
const presenceInterval = 4 * time.Second

type messageRest interface {
	CreateMessage(channelID snowflake.ID, messageCreate discord.MessageCreate, opts ...rest.RequestOpt) (*discord.Message, error)
	DeleteMessage(channelID snowflake.ID, messageID snowflake.ID, opts ...rest.RequestOpt) error
}

// Announcer shows the playing track as the bot's activity and posts
// now-playing messages.
type Announcer struct {
	rest        messageRest
	setPresence func(ctx context.Context, title string) error
	limiter     *rate.Limiter

	mu      sync.Mutex
	pending *string
	timer   *time.Timer
}

func NewAnnouncer(client *bot.Client) *Announcer {
	return newAnnouncer(client.Rest, func(ctx context.Context, title string) error {
		return client.SetPresence(ctx, gateway.WithListeningActivity(title))
	})
}

func newAnnouncer(r messageRest, setPresence func(context.Context, string) error) *Announcer {
	return &Announcer{
		rest:        r,
		setPresence: setPresence,
		limiter:     rate.NewLimiter(rate.Every(presenceInterval), 2),
	}
}

// Listening sets the activity to title. Updates arriving faster than the
// gateway allows are coalesced and only the latest title is sent.
func (a *Announcer) Listening(ctx context.Context, title string) {
	a.mu.Lock()
	if a.timer != nil {
		a.pending = &title
		a.mu.Unlock()
		return
	}
	r := a.limiter.Reserve()
	if d := r.Delay(); d > 0 {
		a.pending = &title
		a.timer = time.AfterFunc(d, func() { a.flush(context.WithoutCancel(ctx)) })
		a.mu.Unlock()
		return
	}
	a.mu.Unlock()
	a.send(ctx, title)
}

func (a *Announcer) flush(ctx context.Context) {
	a.mu.Lock()
	title := a.pending
	a.pending = nil
	a.timer = nil
	a.mu.Unlock()
	if title != nil {
		a.send(ctx, *title)
	}
}

func (a *Announcer) send(ctx context.Context, title string) {
	if err := a.setPresence(ctx, title); err != nil {
		sys.LogWarn(sys.MsgStatusUpdateFail, err)
	}
}

func (a *Announcer) Announce(_ context.Context, channelID snowflake.ID, entry music.Entry) (music.MessageRef, error) {
	content := fmt.Sprintf(sys.MsgNowPlaying, entry.Track.Title, music.FormatDuration(entry.Track.Length()))
	msg, err := a.rest.CreateMessage(channelID, discord.NewMessageCreate().WithContent(content))
	if err != nil {
		return music.MessageRef{}, err
	}
	return music.MessageRef{ChannelID: msg.ChannelID, MessageID: msg.ID}, nil
}

// Retract deletes a now-playing message. The message may already be gone.
func (a *Announcer) Retract(_ context.Context, ref music.MessageRef) {
	if ref.IsZero() {
		return
	}
	if err := a.rest.DeleteMessage(ref.ChannelID, ref.MessageID); err != nil {
		sys.LogDebug(sys.MsgStatusRetractFail, ref.MessageID, err)
	}
}

var _ music.Announcer = (*Announcer)(nil)
