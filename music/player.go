package music

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"

	"github.com/leeineian/mai/sys"
)

const (
	MinVolume     = 50
	MaxVolume     = 250
	DefaultVolume = 100
)

// Player runs one playback session per guild on top of a PlaylistStore.
type Player struct {
	store     *PlaylistStore
	settings  Settings
	source    Source
	transport Transport
	announcer Announcer
	events    Events

	mu       sync.Mutex
	sessions map[snowflake.ID]*session
	conns    map[snowflake.ID]Conn
}

type PlayerOption func(*Player)

func WithAnnouncer(a Announcer) PlayerOption {
	return func(p *Player) { p.announcer = a }
}

func WithEvents(e Events) PlayerOption {
	return func(p *Player) { p.events = e }
}

func NewPlayer(store *PlaylistStore, settings Settings, source Source, transport Transport, opts ...PlayerOption) *Player {
	p := &Player{
		store:     store,
		settings:  settings,
		source:    source,
		transport: transport,
		announcer: nopAnnouncer{},
		events:    nopEvents{},
		sessions:  make(map[snowflake.ID]*session),
		conns:     make(map[snowflake.ID]Conn),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Player) Store() *PlaylistStore { return p.store }

// ActiveOwner is the owner whose playlist the guild plays. Defaults to the
// guild itself.
func (p *Player) ActiveOwner(guildID snowflake.ID) Owner {
	raw := p.settings.String(guildID, sys.SettingPlaylistID, "")
	if raw == "" {
		return GuildOwner(guildID)
	}
	owner, err := ParseOwner(raw)
	if err != nil {
		return GuildOwner(guildID)
	}
	return owner
}

// isCurrent reports whether s is still the guild's session at generation gen.
// Callers hold p.mu.
func (p *Player) isCurrent(s *session, gen uint64) bool {
	return p.sessions[s.guildID] == s && s.gen == gen
}

// voiceChannel picks the channel to join: the caller's, the bound one, or
// the one the bot already sits in.
func (p *Player) voiceChannel(guildID, channelID snowflake.ID) snowflake.ID {
	if channelID != 0 {
		return channelID
	}
	if raw := p.settings.String(guildID, sys.SettingVoiceChannel, ""); raw != "" {
		if id, err := snowflake.Parse(raw); err == nil {
			return id
		}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if conn := p.conns[guildID]; conn != nil && conn.Connected() {
		return conn.ChannelID()
	}
	return 0
}

// Play starts the active playlist from the stored resume index. It reports
// false when the guild already has a session or nothing can be played.
func (p *Player) Play(ctx context.Context, guildID, channelID snowflake.ID) bool {
	if p.IsPlaying(guildID) {
		return false
	}

	owner := p.ActiveOwner(guildID)
	idx := p.settings.Int(guildID, sys.SettingSongIndex, 0)
	entry, ok := p.store.EntryAt(ctx, owner, idx)
	if !ok {
		if entry, ok = p.store.EntryAt(ctx, owner, 0); !ok {
			return false
		}
	}
	channelID = p.voiceChannel(guildID, channelID)
	if channelID == 0 {
		return false
	}

	p.mu.Lock()
	if p.sessions[guildID] != nil {
		p.mu.Unlock()
		return false
	}
	s := newSession(ctx, guildID, channelID, owner, entry)
	p.sessions[guildID] = s
	gen := s.gen
	p.mu.Unlock()

	go p.connect(s, gen)
	return true
}

// AddSong appends track to the active playlist. With nothing playing it starts
// a session on the new entry and returns the playlist length; otherwise it
// returns how many places after the current song the entry landed.
func (p *Player) AddSong(ctx context.Context, guildID, channelID, requester snowflake.ID, track Track) (int, error) {
	owner := p.ActiveOwner(guildID)
	entry, storeErr := p.store.AddSong(ctx, owner, requester, track)
	p.publish(ctx, Event{Kind: EventAdded, GuildID: guildID, Entry: &entry})

	p.mu.Lock()
	if s := p.sessions[guildID]; s != nil {
		current := s.entry
		p.mu.Unlock()
		return p.store.IndexOf(ctx, owner, entry) - p.store.IndexOf(ctx, owner, current), storeErr
	}
	p.mu.Unlock()

	length := p.store.Len(ctx, owner)
	channelID = p.voiceChannel(guildID, channelID)
	if channelID == 0 {
		return length, storeErr
	}

	p.mu.Lock()
	if p.sessions[guildID] != nil {
		p.mu.Unlock()
		return length, storeErr
	}
	s := newSession(ctx, guildID, channelID, owner, entry)
	p.sessions[guildID] = s
	gen := s.gen
	p.mu.Unlock()

	p.storeIndex(s, p.store.IndexOf(ctx, owner, entry))
	go p.connect(s, gen)
	return length, storeErr
}

// connect joins voice if needed, opens the stream of the session's entry and
// hands it to the connection.
func (p *Player) connect(s *session, gen uint64) {
	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.startedAt = time.Time{}
	s.errored = false
	ctx, entry, channelID := s.ctx, s.entry, s.channelID
	conn := p.conns[s.guildID]
	p.mu.Unlock()

	if conn == nil || !conn.Connected() {
		sys.LogPlayer(sys.MsgPlayerConnecting, s.id, channelID, entry.Track.Title)
		joined, err := p.transport.Join(ctx, s.guildID, channelID)
		if err != nil {
			sys.LogPlayer(sys.MsgPlayerJoinFail, s.id, channelID, err)
			p.abandon(s, gen)
			return
		}

		p.mu.Lock()
		if ctx.Err() != nil {
			p.mu.Unlock()
			joined.Close(context.WithoutCancel(ctx))
			return
		}
		stale := p.conns[s.guildID]
		p.conns[s.guildID] = joined
		current := p.isCurrent(s, gen)
		p.mu.Unlock()
		if stale != nil && stale != joined {
			stale.Close(context.WithoutCancel(ctx))
		}
		if !current {
			return
		}
		conn = joined
	}
	conn.SetVolume(p.settings.Int(s.guildID, sys.SettingVolume, DefaultVolume))

	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	s.state = StateBuffering
	p.mu.Unlock()

	stream, err := p.source.Open(ctx, entry.Track.ID)
	if err != nil {
		sys.LogPlayer(sys.MsgPlayerStreamFail, s.id, entry.Track.Title, err)
		p.finish(s, gen, "stream error: "+err.Error(), true)
		return
	}

	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		stream.Close()
		return
	}
	s.stream = stream
	p.mu.Unlock()

	d, err := conn.Play(stream, DispatcherEvents{
		Start: func() { p.started(s, gen) },
		Error: func(err error) {
			sys.LogPlayer(sys.MsgPlayerDispatchError, s.id, err)
			p.mu.Lock()
			if p.isCurrent(s, gen) {
				s.errored = true
			}
			p.mu.Unlock()
		},
		End: func(reason string) { p.finish(s, gen, reason, false) },
	})
	if err != nil {
		sys.LogPlayer(sys.MsgPlayerStreamFail, s.id, entry.Track.Title, err)
		p.finish(s, gen, "dispatch error: "+err.Error(), true)
		return
	}

	p.mu.Lock()
	if p.isCurrent(s, gen) {
		s.dispatcher = d
	}
	p.mu.Unlock()
}

func (p *Player) started(s *session, gen uint64) {
	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	s.state = StateStreaming
	s.startedAt = time.Now()
	s.failures = 0
	ctx, entry, old := s.ctx, s.entry, s.message
	s.message = MessageRef{}
	p.mu.Unlock()

	sys.LogPlayer(sys.MsgPlayerStarted, s.id, entry.Track.Title)
	p.announcer.Listening(ctx, entry.Track.Title)
	p.publish(ctx, Event{Kind: EventStarted, GuildID: s.guildID, SessionID: s.id, Entry: &entry})

	if !old.IsZero() {
		p.announcer.Retract(ctx, old)
	}
	if !p.settings.Bool(s.guildID, sys.SettingShowPlayingMessage, false) {
		return
	}
	raw := p.settings.String(s.guildID, sys.SettingTextChannel, "")
	channelID, err := snowflake.Parse(raw)
	if raw == "" || err != nil {
		return
	}
	ref, err := p.announcer.Announce(ctx, channelID, entry)
	if err != nil {
		sys.LogPlayer(sys.MsgPlayerAnnounceFail, s.id, err)
		return
	}

	p.mu.Lock()
	keep := p.isCurrent(s, gen)
	if keep {
		s.message = ref
	}
	p.mu.Unlock()
	if !keep {
		p.announcer.Retract(ctx, ref)
	}
}

// finish handles the end of the stream attempt gen, whatever ended it.
func (p *Player) finish(s *session, gen uint64, reason string, failed bool) {
	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	s.state = StateEnding
	if failed || s.errored || s.startedAt.IsZero() {
		s.failures++
	}
	_, stream := s.detach()
	entry := s.entry
	p.mu.Unlock()

	if stream != nil {
		stream.Close()
	}
	sys.LogPlayer(sys.MsgPlayerEnded, s.id, entry.Track.Title, reason)
	p.publish(s.ctx, Event{Kind: EventEnded, GuildID: s.guildID, SessionID: s.id, Entry: &entry, Reason: reason})

	p.advance(s, gen, entry)
}

// advance moves the session from entry to whatever follows it, or lets the
// session go idle. The voice connection is kept either way.
func (p *Player) advance(s *session, gen uint64, from Entry) {
	p.mu.Lock()
	owner, failures := s.owner, s.failures
	p.mu.Unlock()

	list := p.store.Entries(s.ctx, owner)
	repeat := p.settings.Bool(s.guildID, sys.SettingRepeat, false)

	var next Entry
	found := false
	if len(list) > 0 {
		switch i := indexOf(list, from.ID); {
		case i+1 < len(list):
			next, found = list[i+1], true
		case repeat:
			next, found = list[0], true
		}
	}
	if found && failures >= len(list) {
		sys.LogPlayer(sys.MsgPlayerGivingUp, s.id, failures)
		found = false
	}

	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	if found {
		s.entry = next
		s.gen++
		nextGen := s.gen
		p.mu.Unlock()
		p.storeIndex(s, indexOf(list, next.ID))
		go p.connect(s, nextGen)
		return
	}
	delete(p.sessions, s.guildID)
	s.gen++
	s.state = StateIdle
	s.cancel()
	p.mu.Unlock()

	ctx := context.WithoutCancel(s.ctx)
	sys.LogPlayer(sys.MsgPlayerIdle, s.id)
	if _, _, err := p.settings.Reset(ctx, s.guildID, sys.SettingSongIndex); err != nil {
		sys.LogPlayer(sys.MsgPlayerSettingFail, s.id, sys.SettingSongIndex, err)
	}
	p.publish(ctx, Event{Kind: EventStopped, GuildID: s.guildID, SessionID: s.id, Reason: "end of playlist"})
}

// abandon drops a session that could not reach a voice channel.
func (p *Player) abandon(s *session, gen uint64) {
	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return
	}
	delete(p.sessions, s.guildID)
	s.gen++
	s.state = StateIdle
	s.cancel()
	p.mu.Unlock()
	p.publish(context.WithoutCancel(s.ctx), Event{Kind: EventStopped, GuildID: s.guildID, SessionID: s.id, Reason: "voice join failed"})
}

func (p *Player) storeIndex(s *session, index int) {
	if index < 0 {
		return
	}
	if err := p.settings.Set(s.ctx, s.guildID, sys.SettingSongIndex, index); err != nil {
		sys.LogPlayer(sys.MsgPlayerSettingFail, s.id, sys.SettingSongIndex, err)
	}
}

// Skip ends the current song. target 0, or the position right after the
// current one, continues as if the song ended by itself; any other position
// jumps there. The current position is rejected.
func (p *Player) Skip(ctx context.Context, guildID snowflake.ID, target int) bool {
	p.mu.Lock()
	s := p.sessions[guildID]
	if s == nil || s.dispatcher == nil {
		p.mu.Unlock()
		return false
	}
	owner, current, gen := s.owner, s.entry, s.gen
	p.mu.Unlock()

	list := p.store.Entries(ctx, owner)
	if target < 0 || target > len(list) {
		return false
	}
	position := indexOf(list, current.ID) + 1
	if position > 0 && target == position {
		return false
	}

	p.mu.Lock()
	if !p.isCurrent(s, gen) || s.dispatcher == nil {
		p.mu.Unlock()
		return false
	}
	s.state = StateEnding
	s.gen++
	gen = s.gen
	d, stream := s.detach()
	p.mu.Unlock()

	d.End("skipped")
	if stream != nil {
		stream.Close()
	}

	if target == 0 || target == position+1 {
		p.advance(s, gen, current)
		return true
	}

	p.mu.Lock()
	if !p.isCurrent(s, gen) {
		p.mu.Unlock()
		return true
	}
	s.entry = list[target-1]
	s.gen++
	gen = s.gen
	p.mu.Unlock()

	p.storeIndex(s, target-1)
	go p.connect(s, gen)
	return true
}

// RemoveSong removes the song at a 1-based position. 0 means the current
// song, which the session leaves before the entry is deleted: it moves on to
// the entry that followed, or goes idle when nothing is left to play.
func (p *Player) RemoveSong(ctx context.Context, guildID snowflake.ID, position int) (Entry, bool) {
	owner := p.ActiveOwner(guildID)

	p.mu.Lock()
	s := p.sessions[guildID]
	var current Entry
	if s != nil {
		current = s.entry
	}
	p.mu.Unlock()

	list := p.store.Entries(ctx, owner)
	currentPos := 0
	if s != nil {
		currentPos = indexOf(list, current.ID) + 1
	}
	if position == 0 {
		position = currentPos
	}
	if position <= 0 || position > len(list) {
		return Entry{}, false
	}
	if currentPos > 0 && position == currentPos {
		p.leaveEntry(ctx, s, current, list)
	}

	removed, ok, _ := p.store.RemoveSong(ctx, owner, position-1)
	if !ok {
		return Entry{}, false
	}
	p.publish(ctx, Event{Kind: EventRemoved, GuildID: guildID, Entry: &removed})

	p.mu.Lock()
	if s = p.sessions[guildID]; s != nil {
		current = s.entry
	}
	p.mu.Unlock()
	if s != nil {
		p.storeIndex(s, p.store.IndexOf(ctx, owner, current))
	}
	return removed, true
}

// leaveEntry moves s off entry, which is about to be deleted from list. Any
// attempt in flight for entry is superseded, whether or not it already
// reached the voice connection.
func (p *Player) leaveEntry(ctx context.Context, s *session, entry Entry, list []Entry) {
	i := indexOf(list, entry.ID)
	rest := make([]Entry, 0, len(list))
	rest = append(rest, list[:i]...)
	rest = append(rest, list[i+1:]...)

	var next Entry
	found := false
	switch {
	case i < len(rest):
		next, found = rest[i], true
	case len(rest) > 0 && p.settings.Bool(s.guildID, sys.SettingRepeat, false):
		next, found = rest[0], true
	}

	p.mu.Lock()
	if p.sessions[s.guildID] != s || s.entry.ID != entry.ID {
		p.mu.Unlock()
		return
	}
	if !found {
		d, stream, msg := p.release(s)
		p.mu.Unlock()
		p.teardown(ctx, s, d, stream, msg, "removed")
		if _, _, err := p.settings.Reset(context.WithoutCancel(ctx), s.guildID, sys.SettingSongIndex); err != nil {
			sys.LogPlayer(sys.MsgPlayerSettingFail, s.id, sys.SettingSongIndex, err)
		}
		return
	}
	s.gen++
	s.state = StateEnding
	d, stream := s.detach()
	s.entry = next
	s.failures = 0
	gen := s.gen
	p.mu.Unlock()

	if d != nil {
		d.End("removed")
	}
	if stream != nil {
		stream.Close()
	}
	go p.connect(s, gen)
}

func (p *Player) Pause(guildID snowflake.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[guildID]
	if s == nil || s.dispatcher == nil || s.state != StateStreaming {
		return false
	}
	s.dispatcher.Pause()
	s.state = StatePaused
	return true
}

func (p *Player) Resume(guildID snowflake.ID) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	s := p.sessions[guildID]
	if s == nil || s.dispatcher == nil || s.state != StatePaused {
		return false
	}
	s.dispatcher.Resume()
	s.state = StateStreaming
	return true
}

// Stop tears the session down. The playlist and the resume index are kept.
func (p *Player) Stop(ctx context.Context, guildID snowflake.ID) bool {
	p.mu.Lock()
	s := p.sessions[guildID]
	if s == nil {
		p.mu.Unlock()
		return false
	}
	d, stream, msg := p.release(s)
	p.mu.Unlock()

	p.teardown(ctx, s, d, stream, msg, "stopped")
	return true
}

// release drops s from the guild and hands back what is left to close.
// Callers hold p.mu.
func (p *Player) release(s *session) (Dispatcher, io.ReadCloser, MessageRef) {
	delete(p.sessions, s.guildID)
	s.gen++
	s.state = StateIdle
	s.cancel()
	d, stream := s.detach()
	msg := s.message
	s.message = MessageRef{}
	return d, stream, msg
}

func (p *Player) teardown(ctx context.Context, s *session, d Dispatcher, stream io.ReadCloser, msg MessageRef, reason string) {
	if d != nil {
		d.End(reason)
	}
	if stream != nil {
		stream.Close()
	}
	if !msg.IsZero() {
		p.announcer.Retract(ctx, msg)
	}
	sys.LogPlayer(sys.MsgPlayerStopped, s.id)
	p.publish(ctx, Event{Kind: EventStopped, GuildID: s.guildID, SessionID: s.id, Reason: reason})
}

// Disconnect stops playback and leaves the voice channel.
func (p *Player) Disconnect(ctx context.Context, guildID snowflake.ID) bool {
	stopped := p.Stop(ctx, guildID)

	p.mu.Lock()
	conn := p.conns[guildID]
	delete(p.conns, guildID)
	p.mu.Unlock()

	if conn != nil {
		conn.Close(ctx)
	}
	return stopped || conn != nil
}

// Load switches the guild to owner's playlist, or back to the guild's own
// playlist when owner is nil. Playback is stopped and not restarted.
func (p *Player) Load(ctx context.Context, guildID snowflake.ID, owner *Owner) error {
	target := GuildOwner(guildID)
	if owner != nil {
		target = *owner
	}
	active := p.ActiveOwner(guildID)
	if target == active {
		return ErrAlreadyLoaded
	}

	p.Stop(ctx, guildID)
	if err := p.store.Rebind(ctx, active, target); err != nil {
		return err
	}
	if err := p.settings.Set(ctx, guildID, sys.SettingPlaylistID, target.String()); err != nil {
		return fmt.Errorf("bind playlist %s: %w", target, err)
	}
	return p.settings.Set(ctx, guildID, sys.SettingSongIndex, 0)
}

// Save copies the active playlist to dst and makes dst the active one.
func (p *Player) Save(ctx context.Context, guildID snowflake.ID, dst Owner) error {
	active := p.ActiveOwner(guildID)
	if dst == active {
		return ErrSelfOverwrite
	}
	if err := p.store.CopyTo(ctx, active, dst); err != nil {
		return err
	}
	if err := p.settings.Set(ctx, guildID, sys.SettingPlaylistID, dst.String()); err != nil {
		return fmt.Errorf("bind playlist %s: %w", dst, err)
	}

	p.mu.Lock()
	if s := p.sessions[guildID]; s != nil {
		s.owner = dst
	}
	p.mu.Unlock()
	return nil
}

// Clear deletes the active playlist and stops playback.
func (p *Player) Clear(ctx context.Context, guildID snowflake.ID) error {
	if err := p.store.Clear(ctx, p.ActiveOwner(guildID)); err != nil {
		return err
	}
	p.Stop(ctx, guildID)
	return p.settings.Set(ctx, guildID, sys.SettingSongIndex, 0)
}

// SetVolume stores percent and applies it to the live connection, if any.
func (p *Player) SetVolume(ctx context.Context, guildID snowflake.ID, percent int) error {
	if percent < MinVolume || percent > MaxVolume {
		return ErrVolumeRange
	}
	if err := p.settings.Set(ctx, guildID, sys.SettingVolume, percent); err != nil {
		return err
	}

	p.mu.Lock()
	conn := p.conns[guildID]
	p.mu.Unlock()
	if conn != nil {
		conn.SetVolume(percent)
	}
	return nil
}

func (p *Player) ToggleRepeat(ctx context.Context, guildID snowflake.ID) (bool, error) {
	repeat := !p.settings.Bool(guildID, sys.SettingRepeat, false)
	return repeat, p.settings.Set(ctx, guildID, sys.SettingRepeat, repeat)
}

// --- Queries ---

func (p *Player) IsPlaying(guildID snowflake.ID) bool {
	return p.State(guildID) != StateIdle
}

func (p *Player) IsPaused(guildID snowflake.ID) bool {
	return p.State(guildID) == StatePaused
}

func (p *Player) State(guildID snowflake.ID) State {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s := p.sessions[guildID]; s != nil {
		return s.state
	}
	return StateIdle
}

// Connected reports whether the player holds a voice connection for the guild.
func (p *Player) Connected(guildID snowflake.ID) (snowflake.ID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	conn := p.conns[guildID]
	if conn == nil || !conn.Connected() {
		return 0, false
	}
	return conn.ChannelID(), true
}

// Guilds lists the guilds that currently have a session.
func (p *Player) Guilds() []snowflake.ID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]snowflake.ID, 0, len(p.sessions))
	for id := range p.sessions {
		ids = append(ids, id)
	}
	return ids
}

func (p *Player) Current(ctx context.Context, guildID snowflake.ID) (CurrentSong, bool) {
	p.mu.Lock()
	s := p.sessions[guildID]
	if s == nil {
		p.mu.Unlock()
		return CurrentSong{}, false
	}
	cur := CurrentSong{Entry: s.entry, State: s.state}
	if s.dispatcher != nil {
		cur.Elapsed = s.dispatcher.Elapsed()
	}
	owner := s.owner
	p.mu.Unlock()

	cur.Position = p.store.IndexOf(ctx, owner, cur.Entry) + 1
	return cur, true
}

// Queue pages the active playlist around the playing song, or around the
// resume position when nothing plays. page 0 opens the page of that song.
func (p *Player) Queue(ctx context.Context, guildID snowflake.ID, page int) (QueueView, bool) {
	owner := p.ActiveOwner(guildID)

	p.mu.Lock()
	s := p.sessions[guildID]
	var current Entry
	if s != nil {
		current = s.entry
	}
	p.mu.Unlock()

	if s == nil {
		var ok bool
		current, ok = p.store.EntryAt(ctx, owner, p.settings.Int(guildID, sys.SettingSongIndex, 0))
		if !ok {
			if current, ok = p.store.EntryAt(ctx, owner, 0); !ok {
				return QueueView{}, false
			}
		}
	}

	view, ok := p.store.QueueView(ctx, owner, current, page, DefaultPageSize)
	if ok && page == 0 && view.CurrentPage != view.Page {
		view, ok = p.store.QueueView(ctx, owner, current, view.CurrentPage, DefaultPageSize)
	}
	return view, ok
}

// IsInRange reports whether position is a valid 1-based position.
func (p *Player) IsInRange(ctx context.Context, guildID snowflake.ID, position int) bool {
	return position >= 1 && position <= p.store.Len(ctx, p.ActiveOwner(guildID))
}

func (p *Player) publish(ctx context.Context, ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	p.events.Publish(ctx, ev)
}
