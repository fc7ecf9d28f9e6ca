package proc

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/lrstanley/go-ytdlp"

	"github.com/leeineian/mai/music"
)

// YtdlpSource streams the best audio format of a video through yt-dlp.
type YtdlpSource struct{}

func NewYtdlpSource() *YtdlpSource { return &YtdlpSource{} }

type ytdlpStream struct {
	*bufio.Reader
	pipe   *io.PipeReader
	cancel context.CancelFunc
}

func (s *ytdlpStream) Close() error {
	s.cancel()
	return s.pipe.Close()
}

// Open starts yt-dlp and returns once the first bytes of audio arrived.
// Cancelling ctx or closing the stream kills the process.
func (s *YtdlpSource) Open(ctx context.Context, trackID string) (io.ReadCloser, error) {
	procCtx, cancel := context.WithCancel(ctx)
	cmd := ytdlp.New().
		Format("bestaudio[ext=webm]/bestaudio").
		Output("-").
		NoSimulate().
		NoPart().
		NoPlaylist().
		NoCheckFormats().
		NoWarnings().
		IgnoreConfig().
		BuildCommand(procCtx, music.Track{ID: trackID}.URL())

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Env = append(os.Environ(), "PYTHONUNBUFFERED=1")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, err
	}

	var started atomic.Bool
	go func() {
		err := cmd.Wait()
		if err != nil {
			msg := strings.ToLower(stderr.String())
			// The reader going away first is the normal way a stream ends.
			if strings.Contains(msg, "broken pipe") || (started.Load() && strings.Contains(err.Error(), "exit status 1")) {
				err = nil
			} else {
				err = fmt.Errorf("yt-dlp: %w: %s", err, lastLine(stderr.String()))
			}
		}
		_ = pw.CloseWithError(err)
	}()

	br := bufio.NewReaderSize(pr, 64*1024)
	peeked := make(chan error, 1)
	go func() {
		_, err := br.Peek(1)
		peeked <- err
	}()

	select {
	case err := <-peeked:
		if err != nil {
			cancel()
			_ = pr.Close()
			if errors.Is(err, io.EOF) {
				err = fmt.Errorf("yt-dlp produced no audio for %s", trackID)
			}
			return nil, err
		}
	case <-ctx.Done():
		cancel()
		_ = pr.CloseWithError(ctx.Err())
		return nil, ctx.Err()
	}
	started.Store(true)
	return &ytdlpStream{Reader: br, pipe: pr, cancel: cancel}, nil
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}

// ytdlpResolve fetches title and duration of a single video.
func ytdlpResolve(ctx context.Context, id string) (music.Track, error) {
	res, err := ytdlp.New().
		Print("%(id)s\t%(title)s\t%(duration)s\t%(uploader)s").
		NoSimulate().
		IgnoreConfig().
		NoWarnings().
		NoPlaylist().
		Run(ctx, "--skip-download", music.Track{ID: id}.URL())
	if err != nil {
		if res != nil && isUnavailable(res.Stderr) {
			return music.Track{}, fmt.Errorf("%s: %w", id, music.ErrTrackNotFound)
		}
		return music.Track{}, err
	}
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseYtdlpLine(l); ok {
			return t, nil
		}
	}
	return music.Track{}, fmt.Errorf("%s: %w", id, music.ErrTrackNotFound)
}

// ytdlpSearch is the last resort when both search backends come back empty.
func ytdlpSearch(ctx context.Context, q string, m int) ([]music.Track, error) {
	res, err := ytdlp.New().
		FlatPlaylist().
		Print("%(id)s\t%(title)s\t%(duration)s\t%(uploader)s").
		PlaylistItems(fmt.Sprintf("1-%d", m)).
		NoWarnings().
		IgnoreConfig().
		Run(ctx, fmt.Sprintf("ytsearch%d:%s", m, q))
	if err != nil {
		return nil, err
	}
	var out []music.Track
	for _, l := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if t, ok := parseYtdlpLine(l); ok {
			out = append(out, t)
		}
	}
	return out, nil
}

// parseYtdlpLine reads "id\ttitle\tduration\tuploader". Durations yt-dlp
// cannot determine print as "NA" and become 0.
func parseYtdlpLine(l string) (music.Track, bool) {
	ps := strings.Split(strings.TrimRight(l, "\r"), "\t")
	if len(ps) < 3 || ps[0] == "" || ps[0] == "NA" {
		return music.Track{}, false
	}
	d, err := strconv.ParseFloat(ps[2], 64)
	if err != nil || d < 0 {
		d = 0
	}
	t := music.Track{ID: ps[0], Title: ps[1], Duration: int(d)}
	if len(ps) > 3 && ps[3] != "NA" {
		t.Description = ps[3]
	}
	return t, true
}

func isUnavailable(stderr string) bool {
	msg := strings.ToLower(stderr)
	for _, s := range []string{"video unavailable", "private video", "not a valid url", "drm", "has been removed"} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

var _ music.Source = (*YtdlpSource)(nil)
