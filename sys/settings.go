package sys

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"maps"
	"strconv"
	"sync"

	"github.com/disgoorg/snowflake/v2"
)

// SettingKey names one per-guild setting.
type SettingKey string

const (
	SettingRole               SettingKey = "role"
	SettingTextChannel        SettingKey = "textChannel"
	SettingVoiceChannel       SettingKey = "voiceChannel"
	SettingRepeat             SettingKey = "repeat"
	SettingShowPlayingMessage SettingKey = "showPlayingMessage"
	SettingPrefix             SettingKey = "prefix"
	SettingSongIndex          SettingKey = "songIndex"
	SettingPlaylistID         SettingKey = "playlistId"
	SettingVolume             SettingKey = "volume"
)

// SettingsStore keeps every guild's settings in memory and mirrors each change
// to the settings table as one JSON document per guild. Writes hold the lock
// until the row is stored so rows land in mutation order.
type SettingsStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	guilds map[snowflake.ID]map[SettingKey]any
}

// NewSettingsStore loads all stored settings. Unreadable rows are skipped.
func NewSettingsStore(ctx context.Context, db *sql.DB) (*SettingsStore, error) {
	s := &SettingsStore{db: db, guilds: make(map[snowflake.ID]map[SettingKey]any)}

	rows, err := db.QueryContext(ctx, "SELECT guild_id, settings FROM settings")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var gid, blob string
		if err := rows.Scan(&gid, &blob); err != nil {
			return nil, err
		}
		id, err := snowflake.Parse(gid)
		if err != nil {
			LogDatabase(MsgDatabaseCorruptGuild, gid, err)
			continue
		}
		values := make(map[SettingKey]any)
		if err := json.Unmarshal([]byte(blob), &values); err != nil {
			LogDatabase(MsgDatabaseCorruptGuild, gid, err)
			continue
		}
		s.guilds[id] = values
	}
	return s, rows.Err()
}

func (s *SettingsStore) Get(guildID snowflake.ID, key SettingKey) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.guilds[guildID][key]
	return v, ok
}

func (s *SettingsStore) String(guildID snowflake.ID, key SettingKey, def string) string {
	v, ok := s.Get(guildID, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case string:
		return t
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

func (s *SettingsStore) Int(guildID snowflake.ID, key SettingKey, def int) int {
	v, ok := s.Get(guildID, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case int:
		return t
	case int64:
		return int(t)
	case float64:
		return int(t)
	case string:
		if n, err := strconv.Atoi(t); err == nil {
			return n
		}
	}
	return def
}

func (s *SettingsStore) Bool(guildID snowflake.ID, key SettingKey, def bool) bool {
	v, ok := s.Get(guildID, key)
	if !ok {
		return def
	}
	switch t := v.(type) {
	case bool:
		return t
	case string:
		if b, err := strconv.ParseBool(t); err == nil {
			return b
		}
	}
	return def
}

// Snowflake reads a channel or role binding. Ids are stored as strings.
func (s *SettingsStore) Snowflake(guildID snowflake.ID, key SettingKey) (snowflake.ID, bool) {
	raw := s.String(guildID, key, "")
	if raw == "" {
		return 0, false
	}
	id, err := snowflake.Parse(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// Set stores value for key and writes the guild's document through.
func (s *SettingsStore) Set(ctx context.Context, guildID snowflake.ID, key SettingKey, value any) error {
	if id, ok := value.(snowflake.ID); ok {
		value = id.String()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	values, ok := s.guilds[guildID]
	if !ok {
		values = make(map[SettingKey]any)
		s.guilds[guildID] = values
	}
	values[key] = value
	blob, err := json.Marshal(values)
	if err != nil {
		return err
	}

	return s.persist(ctx, guildID, blob)
}

// Reset removes key and returns the value it held.
func (s *SettingsStore) Reset(ctx context.Context, guildID snowflake.ID, key SettingKey) (any, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	prev, had := s.guilds[guildID][key]
	if !had {
		return nil, false, nil
	}
	delete(s.guilds[guildID], key)
	blob, err := json.Marshal(s.guilds[guildID])
	if err != nil {
		return prev, true, err
	}

	return prev, true, s.persist(ctx, guildID, blob)
}

// Delete forgets every setting of a guild.
func (s *SettingsStore) Delete(ctx context.Context, guildID snowflake.ID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.guilds[guildID]; !ok {
		return nil
	}
	delete(s.guilds, guildID)

	_, err := s.db.ExecContext(ctx, "DELETE FROM settings WHERE guild_id = ?", guildID.String())
	return err
}

// All returns a copy of a guild's settings.
func (s *SettingsStore) All(guildID snowflake.ID) map[SettingKey]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.guilds[guildID])
}

func (s *SettingsStore) persist(ctx context.Context, guildID snowflake.ID, blob []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (guild_id, settings) VALUES (?, ?)
		ON CONFLICT(guild_id) DO UPDATE SET settings = excluded.settings, updated_at = CURRENT_TIMESTAMP
	`, guildID.String(), string(blob))
	if err != nil {
		return fmt.Errorf("store settings for guild %s: %w", guildID, err)
	}
	return nil
}
