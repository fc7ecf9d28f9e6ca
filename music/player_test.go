package music

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/mai/sys"
)

func TestPlayWithEmptyPlaylist(t *testing.T) {
	f := newPlayerFixture(t)

	assert.False(t, f.player.Play(context.Background(), testGuild, testChannel))
	assert.False(t, f.player.IsPlaying(testGuild))
	assert.Equal(t, StateIdle, f.player.State(testGuild))
	assert.Zero(t, f.transport.joins)
}

func TestAddSongStartsIdleGuild(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)

	pos, err := f.player.AddSong(ctx, testGuild, testChannel, testMember, track(1))
	require.NoError(t, err)
	assert.Equal(t, 1, pos)
	assert.True(t, f.player.IsPlaying(testGuild))

	f.playing(t, nil)
	assert.Equal(t, []string{"vid01"}, f.transport.current().playedTracks())
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))
	assert.Equal(t, DefaultVolume, f.transport.current().volume)
	assert.Equal(t, []string{"Song 1"}, f.announcer.listening)
}

func TestAddSongWhilePlaying(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, nil)
	assert.False(t, f.player.Play(ctx, testGuild, testChannel), "second play is rejected")

	pos, err := f.player.AddSong(ctx, testGuild, testChannel, testMember, track(3))
	require.NoError(t, err)
	assert.Equal(t, 2, pos)
	assert.Equal(t, 3, f.store.Len(ctx, GuildOwner(testGuild)))
}

func TestEndOfPlaylistGoesIdle(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)
	assert.Equal(t, "vid02", f.currentTrack(t))

	d.finish("finished")

	assert.Equal(t, StateIdle, f.player.State(testGuild))
	_, ok := f.settings.Get(testGuild, sys.SettingSongIndex)
	assert.False(t, ok, "resume index is reset")
	channel, connected := f.player.Connected(testGuild)
	assert.True(t, connected, "voice connection is kept")
	assert.Equal(t, testChannel, channel)
	assert.Equal(t, 1, f.transport.joins)
}

func TestEndAdvancesAndRepeats(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 3)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))
	repeat, err := f.player.ToggleRepeat(ctx, testGuild)
	require.NoError(t, err)
	require.True(t, repeat)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	d.finish("finished")
	d = f.playing(t, d)
	assert.Equal(t, "vid03", f.currentTrack(t))
	assert.Equal(t, 2, f.settings.Int(testGuild, sys.SettingSongIndex, -1))

	d.finish("finished")
	f.playing(t, d)
	assert.Equal(t, "vid01", f.currentTrack(t), "wraps with repeat on")
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))

	assert.Equal(t, []string{"vid02", "vid03", "vid01"}, f.transport.current().playedTracks())
	assert.Equal(t, 1, f.transport.joins, "existing connection is reused")
}

func TestSkipToPosition(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 5)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d1 := f.playing(t, nil)

	require.True(t, f.player.Skip(ctx, testGuild, 3))
	d2 := f.playing(t, d1)

	assert.Equal(t, 1, d1.endCount())
	assert.Equal(t, "vid03", f.currentTrack(t))
	assert.Equal(t, 2, f.settings.Int(testGuild, sys.SettingSongIndex, -1))

	// The old dispatcher's end was discarded rather than advancing again.
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, []string{"vid01", "vid03"}, f.transport.current().playedTracks())
	assert.Equal(t, 2, f.source.openCount())
	assert.Zero(t, d2.endCount())
}

func TestSkipRejections(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	assert.False(t, f.player.Skip(ctx, testGuild, 0), "no session")

	fillPlaylist(t, f.store, GuildOwner(testGuild), 3)
	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	assert.False(t, f.player.Skip(ctx, testGuild, 1), "current position")
	assert.False(t, f.player.Skip(ctx, testGuild, 4), "past the end")
	assert.False(t, f.player.Skip(ctx, testGuild, -1))
	assert.Zero(t, d.endCount())
	assert.Equal(t, "vid01", f.currentTrack(t))
}

func TestSkipToNext(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 3)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	require.True(t, f.player.Skip(ctx, testGuild, 0))
	d = f.playing(t, d)
	assert.Equal(t, "vid02", f.currentTrack(t))

	require.True(t, f.player.Skip(ctx, testGuild, 3))
	f.playing(t, d)
	assert.Equal(t, "vid03", f.currentTrack(t))
	assert.Equal(t, []string{"vid01", "vid02", "vid03"}, f.transport.current().playedTracks())
}

func TestRemoveCurrentSong(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 3)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	removed, ok := f.player.RemoveSong(ctx, testGuild, 0)
	require.True(t, ok)
	assert.Equal(t, entries[0], removed)

	f.playing(t, d)
	cur, ok := f.player.Current(ctx, testGuild)
	require.True(t, ok)
	assert.Equal(t, entries[1], cur.Entry)
	assert.Equal(t, 1, cur.Position)
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))
	assert.Equal(t, []Entry{entries[1], entries[2]}, f.store.Entries(ctx, GuildOwner(testGuild)))
}

func TestRemoveOtherSong(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 3)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	removed, ok := f.player.RemoveSong(ctx, testGuild, 3)
	require.True(t, ok)
	assert.Equal(t, entries[2], removed)
	assert.Zero(t, d.endCount())
	assert.Equal(t, "vid01", f.currentTrack(t))

	_, ok = f.player.RemoveSong(ctx, testGuild, 9)
	assert.False(t, ok)
	assert.True(t, f.player.IsInRange(ctx, testGuild, 2))
	assert.False(t, f.player.IsInRange(ctx, testGuild, 3))
}

func TestStopKeepsResumeIndex(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 3)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	require.True(t, f.player.Stop(ctx, testGuild))
	assert.False(t, f.player.Stop(ctx, testGuild))
	assert.Equal(t, StateIdle, f.player.State(testGuild))
	assert.Equal(t, 1, d.endCount())
	assert.Equal(t, 1, f.settings.Int(testGuild, sys.SettingSongIndex, -1))

	// A late start from the torn down dispatcher changes nothing.
	d.start()
	assert.Equal(t, StateIdle, f.player.State(testGuild))

	require.True(t, f.player.Play(ctx, testGuild, 0), "falls back to the live connection")
	f.playing(t, d)
	assert.Equal(t, "vid02", f.currentTrack(t))
}

func TestLoad(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))

	assert.ErrorIs(t, f.player.Load(ctx, testGuild, nil), ErrAlreadyLoaded)
	_, ok := f.settings.Get(testGuild, sys.SettingPlaylistID)
	assert.False(t, ok)
	assert.Equal(t, 1, f.settings.Int(testGuild, sys.SettingSongIndex, -1))

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, nil)

	member := MemberOwner(testMember)
	require.NoError(t, f.player.Load(ctx, testGuild, &member))
	assert.Equal(t, member, f.player.ActiveOwner(testGuild))
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))
	assert.False(t, f.player.IsPlaying(testGuild))
	assert.ErrorIs(t, f.player.Load(ctx, testGuild, &member), ErrAlreadyLoaded)

	require.NoError(t, f.player.Load(ctx, testGuild, nil))
	assert.Equal(t, GuildOwner(testGuild), f.player.ActiveOwner(testGuild))
}

func TestSave(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	member := MemberOwner(testMember)

	assert.ErrorIs(t, f.player.Save(ctx, testGuild, GuildOwner(testGuild)), ErrSelfOverwrite)
	assert.ErrorIs(t, f.player.Save(ctx, testGuild, member), ErrEmptyPlaylist)

	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	require.NoError(t, f.player.Save(ctx, testGuild, member))
	assert.Equal(t, member, f.player.ActiveOwner(testGuild))
	assert.Equal(t, entries, f.store.Entries(ctx, member))
	assert.ErrorIs(t, f.player.Save(ctx, testGuild, member), ErrSelfOverwrite)
}

func TestClearStopsPlayback(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	assert.ErrorIs(t, f.player.Clear(ctx, testGuild), ErrPlaylistNotFound)

	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))
	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, nil)

	require.NoError(t, f.player.Clear(ctx, testGuild))
	assert.False(t, f.player.IsPlaying(testGuild))
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))
	assert.False(t, f.store.HasSongs(ctx, GuildOwner(testGuild)))
}

func TestStreamFailuresGoIdle(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	f.source.failAll = true
	fillPlaylist(t, f.store, GuildOwner(testGuild), 3)
	_, err := f.player.ToggleRepeat(ctx, testGuild)
	require.NoError(t, err)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	require.Eventually(t, func() bool {
		return f.player.State(testGuild) == StateIdle
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 3, f.source.openCount(), "every track is tried once")
}

func TestJoinFailureDropsSession(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	f.transport.fail = true
	fillPlaylist(t, f.store, GuildOwner(testGuild), 1)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	require.Eventually(t, func() bool {
		return !f.player.IsPlaying(testGuild)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Zero(t, f.source.openCount())
}

func TestPauseResume(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	assert.False(t, f.player.Pause(testGuild))

	fillPlaylist(t, f.store, GuildOwner(testGuild), 1)
	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	assert.True(t, f.player.Pause(testGuild))
	assert.True(t, f.player.IsPaused(testGuild))
	assert.True(t, d.Paused())
	assert.False(t, f.player.Pause(testGuild))

	assert.True(t, f.player.Resume(testGuild))
	assert.False(t, d.Paused())
	assert.False(t, f.player.Resume(testGuild))
	assert.Equal(t, StateStreaming, f.player.State(testGuild))
}

func TestSetVolume(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)

	assert.ErrorIs(t, f.player.SetVolume(ctx, testGuild, MinVolume-1), ErrVolumeRange)
	assert.ErrorIs(t, f.player.SetVolume(ctx, testGuild, MaxVolume+1), ErrVolumeRange)

	require.NoError(t, f.player.SetVolume(ctx, testGuild, 150))
	assert.Equal(t, 150, f.settings.Int(testGuild, sys.SettingVolume, 0))

	fillPlaylist(t, f.store, GuildOwner(testGuild), 1)
	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, nil)
	assert.Equal(t, 150, f.transport.current().volume, "applied on connect")

	require.NoError(t, f.player.SetVolume(ctx, testGuild, 80))
	assert.Equal(t, 80, f.transport.current().volume)
}

func TestNowPlayingMessageIsReplaced(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingShowPlayingMessage, true))
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingTextChannel, testChannel))
	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)
	require.Len(t, f.announcer.announced, 1)
	first := f.announcer.announced[0]

	d.finish("finished")
	f.playing(t, d)
	require.Len(t, f.announcer.announced, 2)
	assert.Equal(t, []MessageRef{first}, f.announcer.retracted)

	require.True(t, f.player.Stop(ctx, testGuild))
	assert.Equal(t, []MessageRef{first, f.announcer.announced[1]}, f.announcer.retracted)
}

func TestQueueWhileIdle(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	_, ok := f.player.Queue(ctx, testGuild, 1)
	assert.False(t, ok)

	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 12)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 11))

	view, ok := f.player.Queue(ctx, testGuild, 0)
	require.True(t, ok)
	assert.Equal(t, entries[11], view.Current)
	assert.Equal(t, 2, view.Page, "page 0 opens on the current song")

	view, ok = f.player.Queue(ctx, testGuild, 1)
	require.True(t, ok)
	assert.Equal(t, 1, view.Page)
}

func TestRemoveOnlySongWithRepeatGoesIdle(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 1)
	repeat, err := f.player.ToggleRepeat(ctx, testGuild)
	require.NoError(t, err)
	require.True(t, repeat)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	removed, ok := f.player.RemoveSong(ctx, testGuild, 0)
	require.True(t, ok)
	assert.Equal(t, entries[0], removed)

	assert.Equal(t, StateIdle, f.player.State(testGuild))
	assert.Equal(t, 1, d.endCount())
	assert.Zero(t, f.store.Len(ctx, GuildOwner(testGuild)))
	assert.Equal(t, []string{"vid01"}, f.transport.current().playedTracks())
	assert.Equal(t, 1, f.source.openCount())
	_, ok = f.settings.Get(testGuild, sys.SettingSongIndex)
	assert.False(t, ok, "resume index is reset")
}

func TestRemoveLastSongWithRepeatWraps(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	require.NoError(t, f.settings.Set(ctx, testGuild, sys.SettingSongIndex, 1))
	_, err := f.player.ToggleRepeat(ctx, testGuild)
	require.NoError(t, err)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	_, ok := f.player.RemoveSong(ctx, testGuild, 0)
	require.True(t, ok)

	f.playing(t, d)
	assert.Equal(t, "vid01", f.currentTrack(t))
	assert.Equal(t, []Entry{entries[0]}, f.store.Entries(ctx, GuildOwner(testGuild)))
	assert.Equal(t, []string{"vid02", "vid01"}, f.transport.current().playedTracks())
}

func TestRemoveCurrentSongWhileBuffering(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	entries := fillPlaylist(t, f.store, GuildOwner(testGuild), 3)
	gate := make(chan struct{})
	f.source.gate = gate

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	require.Eventually(t, func() bool {
		return f.player.State(testGuild) == StateBuffering
	}, 2*time.Second, 5*time.Millisecond)

	removed, ok := f.player.RemoveSong(ctx, testGuild, 0)
	require.True(t, ok)
	assert.Equal(t, entries[0], removed)
	close(gate)

	f.playing(t, nil)
	assert.Equal(t, "vid02", f.currentTrack(t))
	assert.Equal(t, []string{"vid02"}, f.transport.current().playedTracks())
	assert.Equal(t, []Entry{entries[1], entries[2]}, f.store.Entries(ctx, GuildOwner(testGuild)))
	assert.Equal(t, 0, f.settings.Int(testGuild, sys.SettingSongIndex, -1))
}

func TestLoadThenPlayStartsLoadedPlaylist(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 2)
	member := MemberOwner(testMember)
	_, err := f.store.AddSong(ctx, member, testMember, track(7))
	require.NoError(t, err)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)

	require.NoError(t, f.player.Load(ctx, testGuild, &member))
	assert.False(t, f.player.IsPlaying(testGuild))

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, d)
	assert.Equal(t, "vid07", f.currentTrack(t))
	assert.Equal(t, 1, f.transport.joins, "voice connection is reused")
}

func TestStaleConnectionClosedOnRejoin(t *testing.T) {
	ctx := context.Background()
	f := newPlayerFixture(t)
	fillPlaylist(t, f.store, GuildOwner(testGuild), 1)

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	d := f.playing(t, nil)
	require.True(t, f.player.Stop(ctx, testGuild))

	stale := f.transport.current()
	stale.drop()
	assert.Zero(t, stale.closeCount())

	require.True(t, f.player.Play(ctx, testGuild, testChannel))
	f.playing(t, d)
	assert.Equal(t, 2, f.transport.joins)
	assert.Equal(t, 1, stale.closeCount())
	assert.NotSame(t, stale, f.transport.current())
}
