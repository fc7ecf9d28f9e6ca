package proc

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/ppalone/ytsearch"
	"github.com/raitonoberu/ytmusic"
	"github.com/samber/lo"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const (
	searchTimeout  = 2600 * time.Millisecond
	maxSearchItems = 25
)

// Lookup turns user queries into tracks. Search fans out to YouTube Music and
// YouTube in parallel; Resolve prefers the Data API when a key is configured.
type Lookup struct {
	youtube *YouTubeClient

	searchMusic    func(ctx context.Context, q string) ([]music.Track, error)
	searchVideos   func(ctx context.Context, q string) ([]music.Track, error)
	searchFallback func(ctx context.Context, q string, m int) ([]music.Track, error)
	resolve        func(ctx context.Context, id string) (music.Track, error)
}

// NewLookup builds a Lookup. youtube may be nil.
func NewLookup(youtube *YouTubeClient) *Lookup {
	return &Lookup{
		youtube:        youtube,
		searchMusic:    searchYTMusic,
		searchVideos:   searchYouTube,
		searchFallback: ytdlpSearch,
		resolve:        ytdlpResolve,
	}
}

// Resolve fetches full metadata for a video id or URL.
func (l *Lookup) Resolve(ctx context.Context, query string) (music.Track, error) {
	id, ok := ParseVideoID(query)
	if !ok {
		return music.Track{}, fmt.Errorf("%q: %w", query, music.ErrTrackNotFound)
	}
	if l.youtube != nil {
		t, err := l.youtube.Video(ctx, id)
		if err == nil || errors.Is(err, music.ErrTrackNotFound) {
			return t, err
		}
		sys.LogLookup(sys.MsgLookupBackendFail, "YouTube API", id, err)
	}
	return l.resolve(ctx, id)
}

// Find resolves query directly when it names a video, otherwise resolves the
// best search hit.
func (l *Lookup) Find(ctx context.Context, query string) (music.Track, error) {
	if id, ok := ParseVideoID(query); ok {
		t, err := l.Resolve(ctx, query)
		// A one-word query can look like an id.
		if !errors.Is(err, music.ErrTrackNotFound) || id != strings.TrimSpace(query) {
			return t, err
		}
	}
	hits, err := l.Search(ctx, query, 1)
	if err != nil {
		return music.Track{}, err
	}
	if len(hits) == 0 {
		return music.Track{}, fmt.Errorf("%q: %w", query, music.ErrTrackNotFound)
	}
	return l.Resolve(ctx, hits[0].ID)
}

// Search returns at most max tracks, YouTube Music hits first, without
// duplicates.
func (l *Lookup) Search(ctx context.Context, query string, max int) ([]music.Track, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if max <= 0 || max > maxSearchItems {
		max = maxSearchItems
	}

	sctx, cancel := context.WithTimeout(ctx, searchTimeout)
	defer cancel()

	var (
		wg       sync.WaitGroup
		ytm, yt  []music.Track
		backends = []struct {
			name string
			fn   func(context.Context, string) ([]music.Track, error)
			out  *[]music.Track
		}{
			{"YouTube Music", l.searchMusic, &ytm},
			{"YouTube", l.searchVideos, &yt},
		}
	)
	for _, b := range backends {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res, err := b.fn(sctx, query)
			if err != nil {
				sys.LogLookup(sys.MsgLookupBackendFail, b.name, query, err)
				return
			}
			*b.out = res
		}()
	}
	wg.Wait()

	merged := lo.UniqBy(append(ytm, yt...), func(t music.Track) string { return t.ID })
	if len(merged) == 0 {
		sys.LogLookup(sys.MsgLookupFallback, query)
		var err error
		if l.youtube != nil {
			merged, err = l.youtube.Search(ctx, query, max)
		} else {
			merged, err = l.searchFallback(ctx, query, max)
		}
		if err != nil {
			return nil, err
		}
	}
	if len(merged) > max {
		merged = merged[:max]
	}
	return merged, nil
}

func searchYTMusic(ctx context.Context, q string) ([]music.Track, error) {
	type result struct {
		tracks []music.Track
		err    error
	}
	done := make(chan result, 1)
	go func() {
		r, err := ytmusic.TrackSearch(q).Next()
		if err != nil {
			done <- result{err: err}
			return
		}
		out := make([]music.Track, 0, len(r.Tracks))
		for _, v := range r.Tracks {
			if v.VideoID == "" {
				continue
			}
			title := v.Title
			if len(v.Artists) > 0 {
				title += " - " + v.Artists[0].Name
			}
			out = append(out, music.Track{ID: v.VideoID, Title: title, Duration: v.Duration})
		}
		done <- result{tracks: out}
	}()
	// The ytmusic client takes no context.
	select {
	case r := <-done:
		return r.tracks, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func searchYouTube(ctx context.Context, q string) ([]music.Track, error) {
	r, err := ytsearch.NewClient(nil).Search(ctx, q)
	if err != nil {
		return nil, err
	}
	out := make([]music.Track, 0, len(r.Results))
	for _, v := range r.Results {
		if v.VideoID == "" {
			continue
		}
		out = append(out, music.Track{ID: v.VideoID, Title: v.Title})
	}
	return out, nil
}

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// ParseVideoID accepts a bare video id or any of the common YouTube and
// YouTube Music URL shapes.
func ParseVideoID(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if videoIDPattern.MatchString(s) {
		return s, true
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	host = strings.TrimPrefix(host, "m.")

	var id string
	switch host {
	case "youtu.be":
		id = strings.Trim(u.Path, "/")
	case "youtube.com", "music.youtube.com":
		id = u.Query().Get("v")
		if id == "" {
			for _, prefix := range []string{"/shorts/", "/embed/", "/live/"} {
				if rest, ok := strings.CutPrefix(u.Path, prefix); ok {
					id, _, _ = strings.Cut(rest, "/")
					break
				}
			}
		}
	}
	if !videoIDPattern.MatchString(id) {
		return "", false
	}
	return id, true
}

var _ music.Lookup = (*Lookup)(nil)
