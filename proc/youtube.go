package proc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

const youtubeAPIBase = "https://www.googleapis.com/youtube/v3"

// YouTubeClient talks to the YouTube Data API v3.
type YouTubeClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
}

func NewYouTubeClient(apiKey string, client *http.Client) *YouTubeClient {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &YouTubeClient{apiKey: apiKey, baseURL: youtubeAPIBase, http: client}
}

type ytVideosResponse struct {
	Items []struct {
		ID      string `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			Description  string `json:"description"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
		ContentDetails struct {
			Duration string `json:"duration"`
		} `json:"contentDetails"`
	} `json:"items"`
}

type ytSearchResponse struct {
	Items []struct {
		ID struct {
			VideoID string `json:"videoId"`
		} `json:"id"`
		Snippet struct {
			Title        string `json:"title"`
			ChannelTitle string `json:"channelTitle"`
		} `json:"snippet"`
	} `json:"items"`
}

// Videos resolves ids to tracks in one request. Ids the API does not know
// are missing from the result.
func (c *YouTubeClient) Videos(ctx context.Context, ids ...string) (map[string]music.Track, error) {
	val := url.Values{}
	val.Set("part", "snippet,contentDetails")
	val.Set("id", strings.Join(ids, ","))
	val.Set("key", c.apiKey)

	var body ytVideosResponse
	if err := c.get(ctx, "/videos", val, &body); err != nil {
		return nil, err
	}

	out := make(map[string]music.Track, len(body.Items))
	for _, it := range body.Items {
		out[it.ID] = music.Track{
			ID:          it.ID,
			Title:       it.Snippet.Title,
			Duration:    parseISO8601Duration(it.ContentDetails.Duration),
			Description: it.Snippet.Description,
		}
	}
	return out, nil
}

// Video resolves a single id.
func (c *YouTubeClient) Video(ctx context.Context, id string) (music.Track, error) {
	found, err := c.Videos(ctx, id)
	if err != nil {
		return music.Track{}, err
	}
	t, ok := found[id]
	if !ok {
		return music.Track{}, fmt.Errorf("%s: %w", id, music.ErrTrackNotFound)
	}
	return t, nil
}

// Search returns up to limit videos matching query, with durations filled in
// when the follow-up lookup succeeds.
func (c *YouTubeClient) Search(ctx context.Context, query string, limit int) ([]music.Track, error) {
	if limit <= 0 || limit > 25 {
		limit = 10
	}

	val := url.Values{}
	val.Set("part", "snippet")
	val.Set("type", "video")
	val.Set("maxResults", strconv.Itoa(limit))
	val.Set("q", query)
	val.Set("key", c.apiKey)

	var body ytSearchResponse
	if err := c.get(ctx, "/search", val, &body); err != nil {
		return nil, err
	}

	out := make([]music.Track, 0, len(body.Items))
	ids := make([]string, 0, len(body.Items))
	for _, it := range body.Items {
		if it.ID.VideoID == "" {
			continue
		}
		out = append(out, music.Track{ID: it.ID.VideoID, Title: it.Snippet.Title})
		ids = append(ids, it.ID.VideoID)
	}
	if len(ids) == 0 {
		return out, nil
	}

	details, err := c.Videos(ctx, ids...)
	if err != nil {
		sys.LogLookup(sys.MsgLookupDurationFail, err)
		return out, nil
	}
	for i := range out {
		if d, ok := details[out[i].ID]; ok {
			out[i] = d
		}
	}
	return out, nil
}

func (c *YouTubeClient) get(ctx context.Context, path string, val url.Values, into any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path+"?"+val.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("youtube %s status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(into)
}

var isoDuration = regexp.MustCompile(`^P(?:(\d+)D)?(?:T(?:(\d+)H)?(?:(\d+)M)?(?:(\d+)S)?)?$`)

// parseISO8601Duration converts values like PT1H2M3S to seconds. Unknown
// formats (live streams report P0D) yield 0.
func parseISO8601Duration(d string) int {
	m := isoDuration.FindStringSubmatch(d)
	if m == nil {
		return 0
	}
	var total int
	for i, unit := range []int{86400, 3600, 60, 1} {
		if m[i+1] == "" {
			continue
		}
		n, _ := strconv.Atoi(m[i+1])
		total += n * unit
	}
	return total
}
