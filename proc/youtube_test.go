package proc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leeineian/mai/music"
)

func newYouTubeFixture(t *testing.T, handler http.HandlerFunc) *YouTubeClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	c := NewYouTubeClient("key", srv.Client())
	c.baseURL = srv.URL
	return c
}

const videosBody = `{"items":[
	{"id":"dQw4w9WgXcQ","snippet":{"title":"Never Gonna Give You Up","description":"Official video"},"contentDetails":{"duration":"PT3M33S"}},
	{"id":"aaaaaaaaaaa","snippet":{"title":"Long Mix"},"contentDetails":{"duration":"PT1H2M"}}
]}`

func TestYouTubeVideo(t *testing.T) {
	c := newYouTubeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/videos", r.URL.Path)
		assert.Equal(t, "key", r.URL.Query().Get("key"))
		assert.Equal(t, "snippet,contentDetails", r.URL.Query().Get("part"))
		if r.URL.Query().Get("id") == "missing0000" {
			_, _ = w.Write([]byte(`{"items":[]}`))
			return
		}
		_, _ = w.Write([]byte(videosBody))
	})

	got, err := c.Video(context.Background(), "dQw4w9WgXcQ")
	require.NoError(t, err)
	assert.Equal(t, music.Track{ID: "dQw4w9WgXcQ", Title: "Never Gonna Give You Up", Duration: 213, Description: "Official video"}, got)

	_, err = c.Video(context.Background(), "missing0000")
	assert.ErrorIs(t, err, music.ErrTrackNotFound)
}

func TestYouTubeSearchFillsDurations(t *testing.T) {
	c := newYouTubeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/search":
			assert.Equal(t, "lofi", r.URL.Query().Get("q"))
			assert.Equal(t, "5", r.URL.Query().Get("maxResults"))
			_, _ = w.Write([]byte(`{"items":[
				{"id":{"videoId":"dQw4w9WgXcQ"},"snippet":{"title":"first"}},
				{"id":{},"snippet":{"title":"a channel"}},
				{"id":{"videoId":"aaaaaaaaaaa"},"snippet":{"title":"second"}}
			]}`))
		case "/videos":
			assert.Equal(t, "dQw4w9WgXcQ,aaaaaaaaaaa", r.URL.Query().Get("id"))
			_, _ = w.Write([]byte(videosBody))
		}
	})

	got, err := c.Search(context.Background(), "lofi", 5)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, 213, got[0].Duration)
	assert.Equal(t, 3720, got[1].Duration)
}

func TestYouTubeSearchKeepsResultsWhenDurationsFail(t *testing.T) {
	c := newYouTubeFixture(t, func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/videos") {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(`{"items":[{"id":{"videoId":"dQw4w9WgXcQ"},"snippet":{"title":"first"}}]}`))
	})

	got, err := c.Search(context.Background(), "x", 0)
	require.NoError(t, err)
	assert.Equal(t, []music.Track{{ID: "dQw4w9WgXcQ", Title: "first"}}, got)
}

func TestYouTubeErrorStatus(t *testing.T) {
	c := newYouTubeFixture(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	_, err := c.Search(context.Background(), "x", 5)
	assert.ErrorContains(t, err, "status 403")
}

func TestParseISO8601Duration(t *testing.T) {
	tests := map[string]int{
		"PT3M33S":   213,
		"PT1H":      3600,
		"PT45S":     45,
		"P1DT1S":    86401,
		"P0D":       0,
		"":          0,
		"3 minutes": 0,
	}
	for in, want := range tests {
		assert.Equal(t, want, parseISO8601Duration(in), in)
	}
}
