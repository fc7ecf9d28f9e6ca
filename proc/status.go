package proc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/sys"
)

type statusPlayer interface {
	Guilds() []snowflake.ID
	State(guildID snowflake.ID) music.State
	Current(ctx context.Context, guildID snowflake.ID) (music.CurrentSong, bool)
	Queue(ctx context.Context, guildID snowflake.ID, page int) (music.QueueView, bool)
}

// StatusServer exposes read-only playback state over HTTP.
type StatusServer struct {
	player  statusPlayer
	started time.Time
}

func NewStatusServer(player statusPlayer) *StatusServer {
	return &StatusServer{player: player, started: time.Now()}
}

type guildStatus struct {
	GuildID snowflake.ID `json:"guildId"`
	State   music.State  `json:"state"`
}

type currentResponse struct {
	Entry    music.Entry `json:"entry"`
	Position int         `json:"position"`
	Elapsed  int64       `json:"elapsedSeconds"`
	State    music.State `json:"state"`
}

type queueResponse struct {
	Page            int           `json:"page"`
	PageCount       int           `json:"pageCount"`
	FirstPosition   int           `json:"firstPosition"`
	Length          int           `json:"length"`
	TotalDuration   int64         `json:"totalSeconds"`
	CurrentPosition int           `json:"currentPosition"`
	Entries         []music.Entry `json:"entries"`
	Previous        *music.Entry  `json:"previous,omitempty"`
	Next            *music.Entry  `json:"next,omitempty"`
}

func (s *StatusServer) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.HandleHealth)
	r.Route("/guilds", func(r chi.Router) {
		r.Get("/", s.HandleGuilds)
		r.Get("/{guildID}/current", s.HandleCurrent)
		r.Get("/{guildID}/queue", s.HandleQueue)
	})
	return r
}

func (s *StatusServer) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "ok",
		"uptime":   time.Since(s.started).Round(time.Second).String(),
		"sessions": len(s.player.Guilds()),
	})
}

func (s *StatusServer) HandleGuilds(w http.ResponseWriter, _ *http.Request) {
	out := make([]guildStatus, 0)
	for _, id := range s.player.Guilds() {
		out = append(out, guildStatus{GuildID: id, State: s.player.State(id)})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *StatusServer) HandleCurrent(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	cur, ok := s.player.Current(r.Context(), guildID)
	if !ok {
		writeError(w, http.StatusNotFound, "nothing playing")
		return
	}
	writeJSON(w, http.StatusOK, currentResponse{
		Entry:    cur.Entry,
		Position: cur.Position,
		Elapsed:  int64(cur.Elapsed / time.Second),
		State:    cur.State,
	})
}

func (s *StatusServer) HandleQueue(w http.ResponseWriter, r *http.Request) {
	guildID, ok := guildParam(w, r)
	if !ok {
		return
	}
	page := 0
	if v := r.URL.Query().Get("page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid page")
			return
		}
		page = n
	}
	view, ok := s.player.Queue(r.Context(), guildID, page)
	if !ok {
		writeError(w, http.StatusNotFound, "playlist is empty")
		return
	}
	writeJSON(w, http.StatusOK, queueResponse{
		Page:            view.Page,
		PageCount:       view.PageCount,
		FirstPosition:   view.FirstPosition,
		Length:          view.Length,
		TotalDuration:   int64(view.TotalDuration / time.Second),
		CurrentPosition: view.CurrentPosition,
		Entries:         view.Entries,
		Previous:        view.Previous,
		Next:            view.Next,
	})
}

// Serve listens on addr until ctx is done.
func (s *StatusServer) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	sys.LogStatus(sys.MsgStatusListening, addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func guildParam(w http.ResponseWriter, r *http.Request) (snowflake.ID, bool) {
	id, err := snowflake.Parse(chi.URLParam(r, "guildID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid guild id")
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
