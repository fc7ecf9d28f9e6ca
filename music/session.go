package music

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/disgoorg/snowflake/v2"
	"github.com/google/uuid"
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateBuffering
	StateStreaming
	StatePaused
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateBuffering:
		return "buffering"
	case StateStreaming:
		return "streaming"
	case StatePaused:
		return "paused"
	case StateEnding:
		return "ending"
	}
	return "unknown"
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	for st := StateIdle; st <= StateEnding; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", b)
}

// session is the transient playback state of one guild. All fields are
// guarded by Player.mu. gen changes whenever the session moves to another
// stream attempt; callbacks carry the gen they were made for.
type session struct {
	id        string
	guildID   snowflake.ID
	channelID snowflake.ID
	owner     Owner

	entry     Entry
	state     State
	gen       uint64
	startedAt time.Time
	errored   bool
	failures  int

	stream     io.ReadCloser
	dispatcher Dispatcher
	message    MessageRef

	ctx    context.Context
	cancel context.CancelFunc
}

func newSession(ctx context.Context, guildID, channelID snowflake.ID, owner Owner, entry Entry) *session {
	ctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	return &session{
		id:        uuid.NewString()[:8],
		guildID:   guildID,
		channelID: channelID,
		owner:     owner,
		entry:     entry,
		state:     StateConnecting,
		gen:       1,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// detach takes the stream handles out of the session for the caller to
// release outside the lock.
func (s *session) detach() (Dispatcher, io.ReadCloser) {
	d, stream := s.dispatcher, s.stream
	s.dispatcher, s.stream = nil, nil
	return d, stream
}

// CurrentSong describes what a guild is playing.
type CurrentSong struct {
	Entry    Entry
	Position int
	Elapsed  time.Duration
	State    State
}
