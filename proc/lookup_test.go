package proc

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/mai/music"
)

func tracks(ids ...string) []music.Track {
	out := make([]music.Track, len(ids))
	for i, id := range ids {
		out[i] = music.Track{ID: id, Title: "t-" + id}
	}
	return out
}

func newTestLookup() *Lookup {
	l := NewLookup(nil)
	l.searchMusic = func(context.Context, string) ([]music.Track, error) { return nil, nil }
	l.searchVideos = func(context.Context, string) ([]music.Track, error) { return nil, nil }
	l.searchFallback = func(context.Context, string, int) ([]music.Track, error) { return nil, nil }
	l.resolve = func(_ context.Context, id string) (music.Track, error) {
		return music.Track{ID: id, Title: "resolved", Duration: 10}, nil
	}
	return l
}

func TestSearchMergesBackends(t *testing.T) {
	l := newTestLookup()
	l.searchMusic = func(context.Context, string) ([]music.Track, error) {
		return tracks("aaaaaaaaaaa", "bbbbbbbbbbb"), nil
	}
	l.searchVideos = func(context.Context, string) ([]music.Track, error) {
		return tracks("bbbbbbbbbbb", "ccccccccccc"), nil
	}

	got, err := l.Search(context.Background(), "query", 25)
	require.NoError(t, err)
	assert.Equal(t, tracks("aaaaaaaaaaa", "bbbbbbbbbbb", "ccccccccccc"), got)

	got, err = l.Search(context.Background(), "query", 2)
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = l.Search(context.Background(), "   ", 5)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSearchSurvivesOneBackendFailing(t *testing.T) {
	l := newTestLookup()
	l.searchMusic = func(context.Context, string) ([]music.Track, error) {
		return nil, errors.New("consent page")
	}
	l.searchVideos = func(context.Context, string) ([]music.Track, error) {
		return tracks("ccccccccccc"), nil
	}

	got, err := l.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Equal(t, tracks("ccccccccccc"), got)
}

func TestSearchFallsBackWhenEmpty(t *testing.T) {
	l := newTestLookup()
	var asked atomic.Int32
	l.searchFallback = func(_ context.Context, q string, m int) ([]music.Track, error) {
		asked.Add(1)
		assert.Equal(t, 5, m)
		return tracks("ddddddddddd"), nil
	}

	got, err := l.Search(context.Background(), "query", 5)
	require.NoError(t, err)
	assert.Equal(t, tracks("ddddddddddd"), got)
	assert.EqualValues(t, 1, asked.Load())
}

func TestResolvePrefersDataAPI(t *testing.T) {
	l := newTestLookup()
	l.youtube = newYouTubeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("id") == "unknown0000" {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(videosBody))
	})

	got, err := l.Resolve(context.Background(), "https://youtu.be/dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, 213, got.Duration)

	_, err = l.Resolve(context.Background(), "unknown0000")
	assert.ErrorIs(t, err, music.ErrTrackNotFound)

	_, err = l.Resolve(context.Background(), "not a video")
	assert.ErrorIs(t, err, music.ErrTrackNotFound)
}

func TestResolveFallsBackToYtdlp(t *testing.T) {
	l := newTestLookup()
	l.youtube = newYouTubeFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	got, err := l.Resolve(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, "resolved", got.Title)
}

func TestFind(t *testing.T) {
	l := newTestLookup()
	l.searchVideos = func(context.Context, string) ([]music.Track, error) {
		return tracks("eeeeeeeeeee"), nil
	}

	got, err := l.Find(context.Background(), "some song")
	require.NoError(t, err)
	assert.Equal(t, music.Track{ID: "eeeeeeeeeee", Title: "resolved", Duration: 10}, got)

	got, err = l.Find(context.Background(), "https://www.youtube.com/watch?v=dQw4w9WgXcQ&t=1")
	require.NoError(t, err)
	assert.Equal(t, "dQw4w9WgXcQ", got.ID)

	l.resolve = func(_ context.Context, id string) (music.Track, error) {
		if id == "Bohemianrap" {
			return music.Track{}, music.ErrTrackNotFound
		}
		return music.Track{ID: id}, nil
	}
	got, err = l.Find(context.Background(), "Bohemianrap")
	require.NoError(t, err)
	assert.Equal(t, "eeeeeeeeeee", got.ID, "an id-shaped word is searched when it is not a video")

	l.searchVideos = func(context.Context, string) ([]music.Track, error) { return nil, nil }
	_, err = l.Find(context.Background(), "nothing at all")
	assert.ErrorIs(t, err, music.ErrTrackNotFound)
}

func TestParseVideoID(t *testing.T) {
	tests := []struct {
		in   string
		want string
		ok   bool
	}{
		{"dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{" dQw4w9WgXcQ ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://m.youtube.com/watch?v=dQw4w9WgXcQ&list=PL1", "dQw4w9WgXcQ", true},
		{"https://music.youtube.com/watch?v=dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://youtu.be/dQw4w9WgXcQ?si=abc", "dQw4w9WgXcQ", true},
		{"https://youtube.com/shorts/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://www.youtube.com/embed/dQw4w9WgXcQ", "dQw4w9WgXcQ", true},
		{"https://example.com/watch?v=dQw4w9WgXcQ", "", false},
		{"https://www.youtube.com/watch?v=short", "", false},
		{"never gonna give you up", "", false},
	}
	for _, tt := range tests {
		got, ok := ParseVideoID(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestParseYtdlpLine(t *testing.T) {
	got, ok := parseYtdlpLine("dQw4w9WgXcQ\tNever Gonna Give You Up\t213.0\tRick Astley")
	require.True(t, ok)
	assert.Equal(t, music.Track{ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Duration: 213, Description: "Rick Astley"}, got)

	got, ok = parseYtdlpLine("abcdefghijk\tLive\tNA\tNA")
	require.True(t, ok)
	assert.Zero(t, got.Duration)
	assert.Empty(t, got.Description)

	_, ok = parseYtdlpLine("NA\tx\t1")
	assert.False(t, ok)
	_, ok = parseYtdlpLine("just text")
	assert.False(t, ok)
}

func TestIsUnavailable(t *testing.T) {
	assert.True(t, isUnavailable("ERROR: [youtube] abc: Video unavailable"))
	assert.True(t, isUnavailable("ERROR: This video is DRM protected"))
	assert.False(t, isUnavailable("ERROR: unable to download webpage: timed out"))
}

func TestApplyGain(t *testing.T) {
	samples := []int16{1000, -1000, 30000, -30000}
	b := make([]byte, 2*len(samples))
	for i, s := range samples {
		b[2*i] = byte(uint16(s))
		b[2*i+1] = byte(uint16(s) >> 8)
	}

	applyGain(b, 150)

	read := func(i int) int16 { return int16(uint16(b[2*i]) | uint16(b[2*i+1])<<8) }
	assert.Equal(t, int16(1500), read(0))
	assert.Equal(t, int16(-1500), read(1))
	assert.Equal(t, int16(32767), read(2), "clipped")
	assert.Equal(t, int16(-32768), read(3), "clipped")

	applyGain(b[:2], 50)
	assert.Equal(t, int16(750), read(0))
}
