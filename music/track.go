package music

import (
	"fmt"
	"time"

	"github.com/disgoorg/snowflake/v2"
)

// Track describes one playable video. Values are produced by a Lookup and
// never mutated afterwards.
type Track struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Duration    int    `json:"duration"`
	Description string `json:"description,omitempty"`
}

// Length returns the track duration.
func (t Track) Length() time.Duration {
	return time.Duration(t.Duration) * time.Second
}

// URL is the watch page of the track.
func (t Track) URL() string {
	return "https://www.youtube.com/watch?v=" + t.ID
}

func (t Track) Thumbnail() string {
	return "https://i.ytimg.com/vi/" + t.ID + "/hqdefault.jpg"
}

// Entry is one queued track. ID is the creation time in milliseconds and is
// the entry's identity; positions shift, ids do not.
type Entry struct {
	ID          int64        `json:"id"`
	Track       Track        `json:"song"`
	RequestedBy snowflake.ID `json:"requestedBy,omitempty"`
}

// FormatDuration renders d as HH:mm:ss.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s/60%60, s%60)
}
