package music

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/mai/sys"
)

const (
	testGuild   = snowflake.ID(111111111111111111)
	testChannel = snowflake.ID(222222222222222222)
	testMember  = snowflake.ID(333333333333333333)
)

func newTestStore(t *testing.T) (*PlaylistStore, *sys.SettingsStore) {
	t.Helper()
	ctx := context.Background()
	db, err := sys.OpenDatabase(ctx, filepath.Join(t.TempDir(), "music.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	settings, err := sys.NewSettingsStore(ctx, db)
	require.NoError(t, err)
	return NewPlaylistStore(db), settings
}

func track(n int) Track {
	return Track{ID: fmt.Sprintf("vid%02d", n), Title: fmt.Sprintf("Song %d", n), Duration: 60 * n}
}

func fillPlaylist(t *testing.T, store *PlaylistStore, owner Owner, n int) []Entry {
	t.Helper()
	var out []Entry
	for i := 1; i <= n; i++ {
		e, err := store.AddSong(context.Background(), owner, testMember, track(i))
		require.NoError(t, err)
		out = append(out, e)
	}
	return out
}

type fakeStream struct {
	trackID string
	mu      sync.Mutex
	closed  bool
}

func (s *fakeStream) Read([]byte) (int, error) { return 0, io.EOF }

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// fakeSource holds every Open until gate is closed, when gate is set.
type fakeSource struct {
	mu      sync.Mutex
	failAll bool
	gate    chan struct{}
	opened  []string
}

func (f *fakeSource) Open(_ context.Context, trackID string) (io.ReadCloser, error) {
	f.mu.Lock()
	f.opened = append(f.opened, trackID)
	fail, gate := f.failAll, f.gate
	f.mu.Unlock()

	if gate != nil {
		<-gate
	}
	if fail {
		return nil, errors.New("video unavailable")
	}
	return &fakeStream{trackID: trackID}, nil
}

func (f *fakeSource) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.opened)
}

type fakeTransport struct {
	mu    sync.Mutex
	fail  bool
	joins int
	conn  *fakeConn
}

func (f *fakeTransport) Join(_ context.Context, _, channelID snowflake.ID) (Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joins++
	if f.fail {
		return nil, errors.New("missing voice permissions")
	}
	f.conn = &fakeConn{channelID: channelID, connected: true, volume: -1}
	return f.conn, nil
}

func (f *fakeTransport) current() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn
}

type fakeConn struct {
	mu        sync.Mutex
	channelID snowflake.ID
	connected bool
	volume    int
	closes    int
	played    []string
	last      *fakeDispatcher
}

func (c *fakeConn) Play(stream io.ReadCloser, events DispatcherEvents) (Dispatcher, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d := &fakeDispatcher{events: events}
	c.played = append(c.played, stream.(*fakeStream).trackID)
	c.last = d
	return d, nil
}

func (c *fakeConn) SetVolume(percent int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.volume = percent
}

func (c *fakeConn) ChannelID() snowflake.ID { return c.channelID }

func (c *fakeConn) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeConn) Close(context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
	c.closes++
}

func (c *fakeConn) drop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}

func (c *fakeConn) playedTracks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.played...)
}

// fakeDispatcher delivers End from its own goroutine, once.
type fakeDispatcher struct {
	events DispatcherEvents

	mu     sync.Mutex
	ends   int
	paused bool
	once   sync.Once
}

func (d *fakeDispatcher) Pause() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = true
}

func (d *fakeDispatcher) Resume() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.paused = false
}

func (d *fakeDispatcher) End(reason string) {
	d.mu.Lock()
	d.ends++
	d.mu.Unlock()
	d.finish(reason)
}

func (d *fakeDispatcher) finish(reason string) {
	d.once.Do(func() {
		done := make(chan struct{})
		go func() {
			defer close(done)
			d.events.End(reason)
		}()
		<-done
	})
}

func (d *fakeDispatcher) endCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.ends
}

func (d *fakeDispatcher) Paused() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.paused
}

func (d *fakeDispatcher) Destroyed() bool        { return d.endCount() > 0 }
func (d *fakeDispatcher) Elapsed() time.Duration { return 42 * time.Second }

// start simulates the first audio frame going out.
func (d *fakeDispatcher) start() {
	done := make(chan struct{})
	go func() {
		defer close(done)
		d.events.Start()
	}()
	<-done
}

type fakeAnnouncer struct {
	mu        sync.Mutex
	listening []string
	announced []MessageRef
	retracted []MessageRef
	next      snowflake.ID
}

func (a *fakeAnnouncer) Listening(_ context.Context, title string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.listening = append(a.listening, title)
}

func (a *fakeAnnouncer) Announce(_ context.Context, channelID snowflake.ID, _ Entry) (MessageRef, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.next++
	ref := MessageRef{ChannelID: channelID, MessageID: a.next}
	a.announced = append(a.announced, ref)
	return ref, nil
}

func (a *fakeAnnouncer) Retract(_ context.Context, ref MessageRef) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.retracted = append(a.retracted, ref)
}

type playerFixture struct {
	player    *Player
	store     *PlaylistStore
	settings  *sys.SettingsStore
	source    *fakeSource
	transport *fakeTransport
	announcer *fakeAnnouncer
}

func newPlayerFixture(t *testing.T) *playerFixture {
	t.Helper()
	store, settings := newTestStore(t)
	f := &playerFixture{
		store:     store,
		settings:  settings,
		source:    &fakeSource{},
		transport: &fakeTransport{},
		announcer: &fakeAnnouncer{},
	}
	f.player = NewPlayer(store, settings, f.source, f.transport, WithAnnouncer(f.announcer))
	t.Cleanup(func() { f.player.Disconnect(context.Background(), testGuild) })
	return f
}

// dispatcher waits until the guild's session holds a dispatcher other than
// prev and returns it.
func (f *playerFixture) dispatcher(t *testing.T, prev *fakeDispatcher) *fakeDispatcher {
	t.Helper()
	var d *fakeDispatcher
	require.Eventually(t, func() bool {
		f.player.mu.Lock()
		defer f.player.mu.Unlock()
		s := f.player.sessions[testGuild]
		if s == nil || s.dispatcher == nil {
			return false
		}
		d = s.dispatcher.(*fakeDispatcher)
		return d != prev
	}, 2*time.Second, 5*time.Millisecond)
	return d
}

// playing starts the dispatcher of the current attempt and waits for the
// player to report streaming.
func (f *playerFixture) playing(t *testing.T, prev *fakeDispatcher) *fakeDispatcher {
	t.Helper()
	d := f.dispatcher(t, prev)
	d.start()
	require.Equal(t, StateStreaming, f.player.State(testGuild))
	return d
}

func (f *playerFixture) currentTrack(t *testing.T) string {
	t.Helper()
	cur, ok := f.player.Current(context.Background(), testGuild)
	require.True(t, ok)
	return cur.Entry.Track.ID
}
