package music

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/samber/lo"

	"github.com/leeineian/mai/sys"
)

// PlaylistStore keeps ordered playlists per owner. A playlist is read from the
// database on first access and stays cached; every mutation is applied to the
// cache and then written through while the lock is still held.
type PlaylistStore struct {
	db  *sql.DB
	now func() time.Time

	mu     sync.Mutex
	cache  map[Owner][]Entry
	lastID int64
}

func NewPlaylistStore(db *sql.DB) *PlaylistStore {
	return &PlaylistStore{
		db:    db,
		now:   time.Now,
		cache: make(map[Owner][]Entry),
	}
}

// entries returns the cached slice for owner, loading it if needed.
// Callers hold p.mu.
func (p *PlaylistStore) entries(ctx context.Context, owner Owner) []Entry {
	if list, ok := p.cache[owner]; ok {
		return list
	}

	list, err := p.read(ctx, owner)
	if err != nil {
		// Not cached, so the next access retries.
		sys.LogDatabase(sys.MsgDatabaseReadFail, owner, err)
		return nil
	}
	p.cache[owner] = list
	return list
}

func (p *PlaylistStore) read(ctx context.Context, owner Owner) ([]Entry, error) {
	rows, err := p.db.QueryContext(ctx,
		"SELECT entry_id, info FROM playlist WHERE owner_kind = ? AND owner_id = ? ORDER BY entry_id ASC",
		string(owner.Kind), owner.ID.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []Entry
	for rows.Next() {
		var id int64
		var info string
		if err := rows.Scan(&id, &info); err != nil {
			return nil, err
		}
		entry, err := decodeEntry(id, info)
		if err != nil {
			sys.LogDatabase(sys.MsgDatabaseCorruptRow, id, owner, err)
			continue
		}
		list = append(list, entry)
		p.lastID = max(p.lastID, entry.ID)
	}
	return list, rows.Err()
}

// decodeEntry accepts both entry rows and legacy rows that hold a bare track.
func decodeEntry(rowID int64, info string) (Entry, error) {
	var probe struct {
		Title *string         `json:"title"`
		Song  json.RawMessage `json:"song"`
	}
	if err := json.Unmarshal([]byte(info), &probe); err != nil {
		return Entry{}, err
	}

	var entry Entry
	switch {
	case probe.Title != nil:
		if err := json.Unmarshal([]byte(info), &entry.Track); err != nil {
			return Entry{}, err
		}
	case len(probe.Song) > 0:
		if err := json.Unmarshal([]byte(info), &entry); err != nil {
			return Entry{}, err
		}
	default:
		return Entry{}, fmt.Errorf("row has neither song nor title")
	}
	if entry.Track.ID == "" {
		return Entry{}, fmt.Errorf("row has no track id")
	}
	entry.ID = rowID
	return entry, nil
}

func (p *PlaylistStore) nextID() int64 {
	id := p.now().UnixMilli()
	if id <= p.lastID {
		id = p.lastID + 1
	}
	p.lastID = id
	return id
}

func (p *PlaylistStore) insert(ctx context.Context, q interface {
	ExecContext(context.Context, string, ...any) (sql.Result, error)
}, owner Owner, entry Entry) error {
	info, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx,
		"INSERT OR REPLACE INTO playlist (owner_kind, owner_id, entry_id, info) VALUES (?, ?, ?, ?)",
		string(owner.Kind), owner.ID.String(), entry.ID, string(info))
	return err
}

func (p *PlaylistStore) HasSongs(ctx context.Context, owner Owner) bool {
	return p.Len(ctx, owner) > 0
}

func (p *PlaylistStore) Len(ctx context.Context, owner Owner) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries(ctx, owner))
}

// Entries returns a copy of the playlist.
func (p *PlaylistStore) Entries(ctx context.Context, owner Owner) []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	return slices.Clone(p.entries(ctx, owner))
}

// AddSong appends track and returns the new entry. A failed write is returned
// but the entry stays in the cached playlist.
func (p *PlaylistStore) AddSong(ctx context.Context, owner Owner, requestedBy snowflake.ID, track Track) (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries(ctx, owner)
	entry := Entry{ID: p.nextID(), Track: track, RequestedBy: requestedBy}
	p.cache[owner] = append(list, entry)

	if err := p.insert(ctx, p.db, owner, entry); err != nil {
		sys.LogDatabase(sys.MsgDatabaseWriteFail, owner, err)
		return entry, fmt.Errorf("store entry %d: %w", entry.ID, err)
	}
	return entry, nil
}

// RemoveSong deletes the entry at a zero-based index. Out of range indexes
// report false and change nothing.
func (p *PlaylistStore) RemoveSong(ctx context.Context, owner Owner, index int) (Entry, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries(ctx, owner)
	if index < 0 || index >= len(list) {
		return Entry{}, false, nil
	}
	removed := list[index]
	p.cache[owner] = slices.Delete(slices.Clone(list), index, index+1)

	_, err := p.db.ExecContext(ctx,
		"DELETE FROM playlist WHERE owner_kind = ? AND owner_id = ? AND entry_id = ?",
		string(owner.Kind), owner.ID.String(), removed.ID)
	if err != nil {
		sys.LogDatabase(sys.MsgDatabaseWriteFail, owner, err)
		return removed, true, fmt.Errorf("delete entry %d: %w", removed.ID, err)
	}
	return removed, true, nil
}

func (p *PlaylistStore) EntryAt(ctx context.Context, owner Owner, index int) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries(ctx, owner)
	if index < 0 || index >= len(list) {
		return Entry{}, false
	}
	return list[index], true
}

// IndexOf finds entry by identity. -1 when absent.
func (p *PlaylistStore) IndexOf(ctx context.Context, owner Owner, entry Entry) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return indexOf(p.entries(ctx, owner), entry.ID)
}

// NextEntry returns the entry after current, wrapping to the first one when
// current is last or unknown.
func (p *PlaylistStore) NextEntry(ctx context.Context, owner Owner, current Entry) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return nextOf(p.entries(ctx, owner), current)
}

// PreviousEntry returns the entry before current. False when current is first
// or unknown.
func (p *PlaylistStore) PreviousEntry(ctx context.Context, owner Owner, current Entry) (Entry, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return previousOf(p.entries(ctx, owner), current)
}

func (p *PlaylistStore) QueueView(ctx context.Context, owner Owner, current Entry, page, pageSize int) (QueueView, bool) {
	p.mu.Lock()
	list := slices.Clone(p.entries(ctx, owner))
	p.mu.Unlock()
	return BuildQueueView(list, current, page, pageSize)
}

// CopyTo replaces dst's playlist with src's entries, keeping their ids, and
// moves the cached playlist from src to dst.
func (p *PlaylistStore) CopyTo(ctx context.Context, src, dst Owner) error {
	if src == dst {
		return ErrSameOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	list := p.entries(ctx, src)
	if len(list) == 0 {
		return ErrEmptyPlaylist
	}

	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM playlist WHERE owner_kind = ? AND owner_id = ?",
		string(dst.Kind), dst.ID.String()); err != nil {
		return fmt.Errorf("clear %s: %w", dst, err)
	}
	for _, entry := range list {
		if err := p.insert(ctx, tx, dst, entry); err != nil {
			return fmt.Errorf("copy entry %d to %s: %w", entry.ID, dst, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	p.cache[dst] = slices.Clone(list)
	delete(p.cache, src)
	return nil
}

// Rebind warms dst and drops src from the cache so src is re-read from the
// database next time it is used.
func (p *PlaylistStore) Rebind(ctx context.Context, src, dst Owner) error {
	if src == dst {
		return ErrSameOwner
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries(ctx, dst)
	delete(p.cache, src)
	return nil
}

// Clear deletes owner's playlist. ErrPlaylistNotFound when it was never
// created.
func (p *PlaylistStore) Clear(ctx context.Context, owner Owner) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	cached := len(p.cache[owner]) > 0
	res, err := p.db.ExecContext(ctx, "DELETE FROM playlist WHERE owner_kind = ? AND owner_id = ?",
		string(owner.Kind), owner.ID.String())
	if err != nil {
		return fmt.Errorf("clear %s: %w", owner, err)
	}
	n, _ := res.RowsAffected()
	if !cached && n == 0 {
		return ErrPlaylistNotFound
	}
	delete(p.cache, owner)
	return nil
}

// Evict drops owner's cached playlist.
func (p *PlaylistStore) Evict(owner Owner) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.cache, owner)
}

func indexOf(list []Entry, id int64) int {
	_, i, ok := lo.FindIndexOf(list, func(e Entry) bool { return e.ID == id })
	if !ok {
		return -1
	}
	return i
}

func nextOf(list []Entry, current Entry) (Entry, bool) {
	if len(list) == 0 {
		return Entry{}, false
	}
	i := indexOf(list, current.ID)
	if i < 0 || i+1 >= len(list) {
		return list[0], true
	}
	return list[i+1], true
}

func previousOf(list []Entry, current Entry) (Entry, bool) {
	i := indexOf(list, current.ID)
	if i <= 0 {
		return Entry{}, false
	}
	return list[i-1], true
}
