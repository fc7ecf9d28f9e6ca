package sys

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fatih/color"
)

// --- Globals & Styles ---

var (
	// Level colors
	infoColor  = color.New()
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed)
	fatalColor = color.New(color.FgRed, color.Bold)
	debugColor = color.New(color.FgHiBlack)

	// Component colors
	databaseColor = color.New()
	voiceColor    = color.New(color.FgMagenta)
	playerColor   = color.New(color.FgCyan)
	statusColor   = color.New(color.FgBlue)
	eventsColor   = color.New(color.FgGreen)
	lookupColor   = color.New(color.FgYellow)

	DefaultTimeFormat = "15:04:05"
	IsSilent          = false
	LogToFile         = false
	Logger            *slog.Logger

	logFile *os.File
	logMu   sync.Mutex
)

const LevelFatal = slog.LevelError + 4

func init() {
	InitLogger(false, false)
}

// InitLogger initializes the global structured logger
func InitLogger(silent bool, saveToFile bool) {
	logMu.Lock()
	defer logMu.Unlock()

	IsSilent = silent
	LogToFile = saveToFile
	level := slog.LevelInfo
	if strings.ToLower(os.Getenv("DEBUG")) == "true" {
		level = slog.LevelDebug
	}

	if logFile != nil {
		_ = logFile.Close()
		logFile = nil
	}

	var writer io.Writer = os.Stdout
	var err error

	if LogToFile {
		logName := GetProjectName() + ".log"
		if exePath, exeErr := os.Executable(); exeErr == nil {
			logName = filepath.Base(exePath) + ".log"
		}

		logFile, err = os.OpenFile(logName, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", logName, err)
		} else {
			writer = io.MultiWriter(os.Stdout, NewStripANSIWriter(logFile))
		}
	}

	color.NoColor = false

	handler := NewBotLogHandler(writer, &BotLogHandlerOptions{
		Silent: IsSilent,
		Level:  level,
	})
	Logger = slog.New(handler)
	slog.SetDefault(Logger)
}

func SetSilentMode(silent bool) {
	InitLogger(silent, LogToFile)
}

// --- Public Logging API ---

func LogInfo(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...))
}

func LogWarn(format string, v ...any) {
	slog.Warn(fmt.Sprintf(format, v...))
}

func LogError(format string, v ...any) {
	slog.Error(fmt.Sprintf(format, v...))
}

// LogFatal logs at fatal level and panics so deferred cleanup in main still runs.
func LogFatal(format string, v ...any) {
	msg := fmt.Sprintf(format, v...)
	slog.Log(context.Background(), LevelFatal, msg)
	panic(msg)
}

func LogDebug(format string, v ...any) {
	slog.Debug(fmt.Sprintf(format, v...))
}

func LogDatabase(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "database"))
}

func LogVoice(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "voice"))
}

func LogPlayer(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "player"))
}

func LogStatus(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "status"))
}

func LogEvents(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "events"))
}

func LogLookup(format string, v ...any) {
	slog.Info(fmt.Sprintf(format, v...), slog.String("component", "lookup"))
}

// --- Custom Slog Handler ---

type BotLogHandlerOptions struct {
	Silent bool
	Level  slog.Leveler
}

type BotLogHandler struct {
	w    io.Writer
	opts *BotLogHandlerOptions
	mu   *sync.Mutex
}

func NewBotLogHandler(w io.Writer, opts *BotLogHandlerOptions) *BotLogHandler {
	if opts == nil {
		opts = &BotLogHandlerOptions{Level: slog.LevelInfo}
	}
	return &BotLogHandler{
		w:    w,
		opts: opts,
		mu:   &sync.Mutex{},
	}
}

func (h *BotLogHandler) Enabled(ctx context.Context, level slog.Level) bool {
	if h.opts.Silent {
		return false
	}
	return level >= h.opts.Level.Level()
}

func (h *BotLogHandler) Handle(ctx context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.opts.Silent {
		return nil
	}

	var levelStr string
	var levelColor *color.Color

	switch {
	case r.Level >= LevelFatal:
		levelStr = "FATAL"
		levelColor = fatalColor
	case r.Level >= slog.LevelError:
		levelStr = "ERROR"
		levelColor = errorColor
	case r.Level >= slog.LevelWarn:
		levelStr = "WARN"
		levelColor = warnColor
	case r.Level >= slog.LevelInfo:
		levelStr = "INFO"
		levelColor = infoColor
	default:
		levelStr = "DEBUG"
		levelColor = debugColor
	}

	component := ""
	r.Attrs(func(a slog.Attr) bool {
		if a.Key == "component" {
			component = strings.ToUpper(a.Value.String())
			return false
		}
		return true
	})

	fmt.Fprintf(h.w, "%s", time.Now().Format(DefaultTimeFormat))

	if component != "" {
		if levelStr != "INFO" {
			fmt.Fprintf(h.w, " %s", levelColor.Sprintf("[%s]", levelStr))
		}
		fmt.Fprintf(h.w, " %s\n", colorizeWithResets(getComponentColor(component), fmt.Sprintf("[%s] %s", component, r.Message)))
		return nil
	}

	fmt.Fprintf(h.w, " %s\n", colorizeWithResets(levelColor, fmt.Sprintf("[%s] %s", levelStr, r.Message)))
	return nil
}

func (h *BotLogHandler) WithAttrs(attrs []slog.Attr) slog.Handler { return h }
func (h *BotLogHandler) WithGroup(name string) slog.Handler       { return h }

func getComponentColor(name string) *color.Color {
	switch name {
	case "DATABASE":
		return databaseColor
	case "VOICE":
		return voiceColor
	case "PLAYER":
		return playerColor
	case "STATUS":
		return statusColor
	case "EVENTS":
		return eventsColor
	case "LOOKUP":
		return lookupColor
	default:
		return color.New(color.FgCyan)
	}
}

// colorizeWithResets re-applies the outer color after every reset code in text,
// so nested colored fragments do not end the surrounding color early.
func colorizeWithResets(c *color.Color, text string) string {
	if !strings.Contains(text, "\x1b[0m") {
		return c.Sprint(text)
	}

	marker := "@@@MSG@@@"
	wrapped := c.Sprint(marker)
	idx := strings.Index(wrapped, marker)
	if idx <= 0 {
		return text
	}
	startSeq := wrapped[:idx]

	return c.Sprint(strings.ReplaceAll(text, "\x1b[0m", "\x1b[0m"+startSeq))
}

func GetLogPath() string {
	logMu.Lock()
	defer logMu.Unlock()
	if logFile == nil {
		return ""
	}
	return logFile.Name()
}

// --- ANSI Stripper ---

type StripANSIWriter struct {
	w  io.Writer
	re *regexp.Regexp
}

func NewStripANSIWriter(w io.Writer) *StripANSIWriter {
	return &StripANSIWriter{
		w:  w,
		re: regexp.MustCompile(`\x1b\[[0-9;]*m`),
	}
}

func (s *StripANSIWriter) Write(p []byte) (n int, err error) {
	_, err = s.w.Write(s.re.ReplaceAll(p, nil))
	return len(p), err
}

// --- Message Constants ---

const (
	// Configuration
	MsgConfigFailedToLoad = "Failed to load config: %v"
	MsgConfigMissingToken = "DISCORD_TOKEN is not set in .env file"

	// Data layer
	MsgDatabaseInitSuccess  = "Database initialized successfully"
	MsgDatabaseTableError   = "Failed to create table: %w"
	MsgDatabasePragmaError  = "Failed to set pragma %s: %w"
	MsgDatabaseCorruptRow   = "Skipping unreadable playlist row %d for %s: %v"
	MsgDatabaseCorruptGuild = "Skipping unreadable settings for guild %s: %v"
	MsgDatabaseWriteFail    = "Failed to persist %s: %v"
	MsgDatabaseReadFail     = "Failed to read playlist %s: %v"

	// Command registry
	MsgLoaderSyncCommands   = "Syncing commands (%s mode)..."
	MsgLoaderUpToDate       = "Commands are up to date. (Hash: %s)"
	MsgLoaderRegistered     = "Registered command: %s"
	MsgLoaderRegisterFail   = "Failed to register commands: %w"
	MsgLoaderPanicRecovered = "Recovered from panic in handler: %v"
	MsgLoaderCleanup        = "Cleared stale commands from %s"
	MsgLoaderInvalidGuild   = "invalid GUILD_ID: %w"
	MsgDaemonStarting       = "Starting..."

	// Bot lifecycle
	MsgBotStarting  = "Starting %s..."
	MsgBotReady     = "%s is ready! (ID: %s) (PID: %d) (%dms)"
	MsgBotShutdown  = "Shutting down %s..."
	MsgGenericError = "%v"

	// Player
	MsgPlayerConnecting    = "[%s] Connecting to channel %s for %q"
	MsgPlayerJoinFail      = "[%s] Failed to join voice channel %s: %v"
	MsgPlayerStreamFail    = "[%s] Stream for %q failed: %v"
	MsgPlayerStarted       = "[%s] Now playing %q"
	MsgPlayerEnded         = "[%s] Finished %q (%s)"
	MsgPlayerDispatchError = "[%s] Dispatcher error: %v"
	MsgPlayerIdle          = "[%s] Reached the end of the playlist"
	MsgPlayerGivingUp      = "[%s] %d tracks failed in a row, going idle"
	MsgPlayerStopped       = "[%s] Session stopped"
	MsgPlayerSettingFail   = "[%s] Failed to store setting %s: %v"
	MsgPlayerAnnounceFail  = "[%s] Failed to announce track: %v"

	// Voice
	MsgVoiceTranscodeFail = "Transcoder finished for %s with error: %v"
	MsgVoiceIdle          = "No listeners left in guild %s, disconnecting in %v"
	MsgVoiceIdleCancel    = "Listener returned in guild %s, idle timer cancelled"
	MsgVoiceIdleFired     = "Idle timeout reached in guild %s, disconnecting"
	MsgVoiceKicked        = "Bot disconnected by external event in guild %s"

	// Status API
	MsgStatusListening   = "Status API listening on %s"
	MsgStatusFail        = "Status API stopped: %v"
	MsgStatusUpdateFail  = "Failed to update presence: %v"
	MsgStatusRetractFail = "Failed to delete now playing message %s: %v"

	// Events
	MsgEventsPublishFail = "Failed to publish %s: %v"
	MsgEventsConnected   = "Publishing player events to channel %s"

	// Lookup
	MsgLookupDurationFail = "YouTube duration lookup failed: %v"
	MsgLookupBackendFail  = "%s search failed for %q: %v"
	MsgLookupFallback     = "No search results for %q, falling back to yt-dlp"

	// Commands
	MsgCommandFail     = "/%s failed in guild %s: %v"
	MsgGuildLeaveClean = "Left guild %s, dropped its settings and session"
)

// User-facing messages
const (
	ErrNotInGuild        = ":x: This command can only be used in a server."
	ErrNotInVoice        = ":x: You must be in a voice channel to use this command!"
	ErrWrongTextChannel  = ":x: You must be in <#%s> to use this command!"
	ErrWrongVoiceChannel = ":x: You must be listening in <#%s> to use this command!"
	ErrDJOnly            = ":x: You must have the DJ role or an administrator to use this command."
	ErrNothingPlaying    = ":x: The bot must be playing to use this command."
	ErrPlaylistEmpty     = ":x: The playlist is empty, add a song with `/music play` first."
	ErrAlreadyPlaying    = ":x: Already playing. Give a song to add it to the playlist."
	ErrAlreadyPaused     = ":x: The song is already paused."
	ErrNotPaused         = ":x: The song is not paused."
	ErrTrackNotFound     = ":x: No video found for `%s`."
	ErrLookupFailed      = ":x: Song lookup failed, try again later."
	ErrOutOfQueue        = ":x: The specified position is outside of the queue length!"
	ErrSkipCurrent       = ":x: That song is already playing."
	ErrSelfOverwrite     = ":x: Can't over-write playlist with itself!"
	ErrNothingToSave     = ":x: There are no song(s) to save!"
	ErrAlreadyLoaded     = ":x: Playlist already loaded!"
	ErrClearMissing      = ":x: The playlist to clear does not exist."
	ErrVolumeRange       = ":x: Volume must be between %d and %d percent."
	ErrSettingsFailed    = ":x: Failed to update settings."
	ErrUnexpected        = ":x: Something went wrong."
	ErrQueueExpired      = ":x: This queue message is no longer valid."

	MsgAddedAt         = ":musical_note: **Added** `%s` to position: `%d`"
	MsgAddedNow        = ":musical_note: **Added** `%s` to be played now."
	MsgResumePlaylist  = ":musical_note: Playing from last playlist."
	MsgStopped         = ":stop_button: Stopped playback."
	MsgDisconnected    = ":wave: Stopped and left the voice channel."
	MsgPaused          = ":pause_button: Paused."
	MsgResumed         = ":arrow_forward: Resumed."
	MsgSkipped         = ":track_next: Skipped."
	MsgSkippedTo       = ":track_next: Skipped to position `%d`."
	MsgRemoved         = ":ballot_box_with_check: The track: `%s` has been removed."
	MsgPlaylistSaved   = ":ballot_box_with_check: Playlist save as `%s's Playlist`."
	MsgPlaylistLoaded  = ":ballot_box_with_check: Loaded `%s's Playlist`."
	MsgPlaylistCleared = ":ballot_box_with_check: Playlist cleared."
	MsgRepeatSet       = ":ballot_box_with_check: The repeat state has been set to `%t`."
	MsgVolumeSet       = ":loud_sound: Volume set to `%d%%`."
	MsgVolumeCurrent   = ":loud_sound: Volume is `%d%%`."
	MsgSettingsHeader  = ":tools: Settings for **%s**"
	MsgSettingsUpdated = ":ballot_box_with_check: Settings updated."
	MsgNowPlayingOn    = ":ballot_box_with_check: Now playing message will now be sent when a song starts."
	MsgNowPlayingOff   = ":ballot_box_with_check: Now playing message will no longer be sent when a song starts."
	MsgQueueEmpty      = "_Empty_"
	MsgQueueFooter     = "Page: %d/%d | Total duration: %s"
	MsgNowPlaying      = ":musical_note: **Now playing** `%s (%s)`"
)
