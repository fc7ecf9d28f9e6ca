package proc

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const frameDuration = 20 * time.Millisecond

// VoiceTransport joins voice channels through the disgo voice manager.
type VoiceTransport struct {
	client *bot.Client
}

func NewVoiceTransport(client *bot.Client) *VoiceTransport {
	return &VoiceTransport{client: client}
}

func (t *VoiceTransport) Join(ctx context.Context, guildID, channelID snowflake.ID) (music.Conn, error) {
	sys.LogVoice("Joining channel %s in guild %s", channelID, guildID)
	conn := t.client.VoiceManager.CreateConn(guildID)
	if err := conn.Open(ctx, channelID, false, false); err != nil {
		conn.Close(ctx)
		return nil, err
	}
	return newVoiceConn(conn, channelID), nil
}

// frameSink is the part of voice.Conn a voiceConn drives.
type frameSink interface {
	SetOpusFrameProvider(p voice.OpusFrameProvider)
	SetSpeaking(ctx context.Context, flags voice.SpeakingFlags) error
	Close(ctx context.Context)
}

// frameEncoder turns a raw stream into Opus frames. *Transcoder is the
// production implementation.
type frameEncoder interface {
	Open() error
	Run(ctx context.Context, on func([]byte)) error
	SetVolume(percent int)
	Close()
}

type voiceConn struct {
	sink       frameSink
	channelID  snowflake.ID
	newEncoder func(r io.Reader, volume int) frameEncoder

	mu      sync.Mutex
	volume  int
	current *dispatcher
	closed  bool
}

func newVoiceConn(sink frameSink, channelID snowflake.ID) *voiceConn {
	return &voiceConn{
		sink:      sink,
		channelID: channelID,
		volume:    music.DefaultVolume,
		newEncoder: func(r io.Reader, volume int) frameEncoder {
			return NewTranscoder(r, volume)
		},
	}
}

func (c *voiceConn) Play(stream io.ReadCloser, events music.DispatcherEvents) (music.Dispatcher, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, errors.New("voice connection closed")
	}
	d := &dispatcher{
		events:  events,
		encoder: c.newEncoder(stream, c.volume),
		frames:  make(chan []byte, 100),
		done:    make(chan struct{}),
	}
	d.ctx, d.cancel = context.WithCancel(context.Background())
	c.current = d
	c.mu.Unlock()

	c.sink.SetOpusFrameProvider(d)
	_ = c.sink.SetSpeaking(context.TODO(), voice.SpeakingFlagMicrophone)
	go d.run()
	return d, nil
}

func (c *voiceConn) SetVolume(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = percent
	if c.current != nil {
		c.current.encoder.SetVolume(percent)
	}
}

func (c *voiceConn) ChannelID() snowflake.ID { return c.channelID }

func (c *voiceConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed
}

func (c *voiceConn) Close(ctx context.Context) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	d := c.current
	c.current = nil
	c.mu.Unlock()

	if d != nil {
		d.End("disconnected")
	}
	c.sink.SetOpusFrameProvider(nil)
	_ = c.sink.SetSpeaking(ctx, 0)
	c.sink.Close(ctx)
}

// dispatcher feeds one stream's frames to the voice connection. It is the
// connection's OpusFrameProvider while it plays.
type dispatcher struct {
	events  music.DispatcherEvents
	encoder frameEncoder
	frames  chan []byte
	done    chan struct{}

	ctx    context.Context
	cancel context.CancelFunc

	paused    atomic.Bool
	started   atomic.Bool
	destroyed atomic.Bool
	sent      atomic.Int64
	endOnce   sync.Once
}

func (d *dispatcher) run() {
	defer close(d.done)
	defer d.encoder.Close()

	if err := d.encoder.Open(); err != nil {
		d.finish("error", err)
		return
	}
	err := d.encoder.Run(d.ctx, d.push)
	if d.ctx.Err() != nil {
		return
	}
	if err != nil {
		sys.LogVoice(sys.MsgVoiceTranscodeFail, "stream", err)
		d.finish("error", err)
		return
	}
	// nil marks the end of the stream once the buffered frames are out.
	d.push(nil)
}

func (d *dispatcher) push(f []byte) {
	select {
	case d.frames <- f:
	case <-d.ctx.Done():
	}
}

// ProvideOpusFrame is polled by the voice connection every 20ms. Returning
// no frame sends silence.
func (d *dispatcher) ProvideOpusFrame() ([]byte, error) {
	if d.destroyed.Load() || d.paused.Load() {
		return nil, nil
	}
	select {
	case f := <-d.frames:
		if f == nil {
			d.finish("finished", nil)
			return nil, nil
		}
		d.sent.Add(1)
		if d.started.CompareAndSwap(false, true) && d.events.Start != nil {
			go d.events.Start()
		}
		return f, nil
	case <-time.After(frameDuration):
		return nil, nil
	}
}

// Close is called by the voice connection when the provider is replaced.
func (d *dispatcher) Close() {}

func (d *dispatcher) Pause()  { d.paused.Store(true) }
func (d *dispatcher) Resume() { d.paused.Store(false) }

func (d *dispatcher) End(reason string) { d.finish(reason, nil) }

func (d *dispatcher) finish(reason string, err error) {
	d.endOnce.Do(func() {
		d.destroyed.Store(true)
		d.cancel()
		go func() {
			if err != nil && d.events.Error != nil {
				d.events.Error(err)
			}
			if d.events.End != nil {
				d.events.End(reason)
			}
		}()
	})
}

func (d *dispatcher) Paused() bool    { return d.paused.Load() }
func (d *dispatcher) Destroyed() bool { return d.destroyed.Load() }

func (d *dispatcher) Elapsed() time.Duration {
	return time.Duration(d.sent.Load()) * frameDuration
}

var (
	_ music.Transport         = (*VoiceTransport)(nil)
	_ voice.OpusFrameProvider = (*dispatcher)(nil)
)
