package music

import "errors"

var (
	ErrSameOwner        = errors.New("source and destination playlist are the same")
	ErrSelfOverwrite    = errors.New("playlist can't overwrite itself")
	ErrAlreadyLoaded    = errors.New("playlist already loaded")
	ErrEmptyPlaylist    = errors.New("playlist has no songs")
	ErrPlaylistNotFound = errors.New("playlist does not exist")
	ErrTrackNotFound    = errors.New("track not found")
	ErrVolumeRange      = errors.New("volume out of range")
)
