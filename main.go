package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leeineian/mai/home"
	"github.com/leeineian/mai/music"
	"github.com/leeineian/mai/proc"
	"github.com/leeineian/mai/sys"
)

const pidFile = ".bot.pid"

func main() {
	// LogFatal panics so deferred cleanup runs; turn that into an exit code here.
	defer func() {
		if r := recover(); r != nil {
			if msg, ok := r.(string); ok {
				fmt.Fprintf(os.Stderr, "\n[FATAL] %s\n", msg)
				os.Exit(1)
			}
			panic(r)
		}
	}()

	silent := flag.Bool("silent", false, "Disable all log output")
	skipReg := flag.Bool("skip-reg", false, "Skip command registration")
	flag.Parse()

	cfg, err := sys.LoadConfig()
	if err != nil {
		sys.InitLogger(*silent, false)
		sys.LogFatal(sys.MsgConfigFailedToLoad, err)
	}
	sys.InitLogger(*silent || cfg.Silent, true)
	sys.LogInfo(sys.MsgBotStarting, sys.GetProjectName())

	release := lockPIDFile()
	defer release()

	if err := run(cfg, *silent, *skipReg); err != nil {
		sys.LogFatal(sys.MsgGenericError, err)
	}
}

func run(cfg *sys.Config, silent, skipReg bool) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()
	sys.SetAppContext(ctx)

	if err := sys.InitDatabase(ctx, cfg.DatabasePath); err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer sys.CloseDatabase()

	settings, err := sys.NewSettingsStore(ctx, sys.DB)
	if err != nil {
		return fmt.Errorf("failed to load settings: %w", err)
	}
	store := music.NewPlaylistStore(sys.DB)

	client, err := sys.CreateClient(cfg)
	if err != nil {
		return fmt.Errorf("failed to create Discord client: %w", err)
	}
	defer client.Close(context.Background())

	opts := []music.PlayerOption{music.WithAnnouncer(proc.NewAnnouncer(client))}
	if cfg.RedisURL != "" {
		publisher, err := proc.NewRedisEvents(ctx, cfg.RedisURL)
		if err != nil {
			sys.LogWarn("Player events disabled: %v", err)
		} else {
			defer publisher.Close()
			opts = append(opts, music.WithEvents(publisher))
		}
	}
	player := music.NewPlayer(store, settings, proc.NewYtdlpSource(), proc.NewVoiceTransport(client), opts...)

	var youtube *proc.YouTubeClient
	if cfg.YoutubeAPIKey != "" {
		youtube = proc.NewYouTubeClient(cfg.YoutubeAPIKey, nil)
	}
	home.Setup(home.Deps{
		Player:        player,
		Lookup:        proc.NewLookup(youtube),
		Settings:      settings,
		SearchResults: cfg.SearchResults,
	})

	idle := proc.NewIdleWatcher(player, cfg.IdleTimeout)
	sys.RegisterVoiceStateUpdateHandler(idle.OnVoiceStateUpdate)

	if cfg.StatusAddr != "" {
		status := proc.NewStatusServer(player)
		sys.RegisterDaemon(sys.LogStatus, func(ctx context.Context) (bool, func(), func()) {
			return true, func() {
				if err := status.Serve(ctx, cfg.StatusAddr); err != nil {
					sys.LogError(sys.MsgStatusFail, err)
				}
			}, nil
		})
	}

	if skipReg {
		sys.LogInfo("Skipping command registration as requested.")
	} else {
		if err := sys.RegisterCommands(ctx, client, cfg.GuildID); err != nil {
			sys.LogError(sys.MsgGenericError, err)
		}
	}

	if err := client.OpenGateway(ctx); err != nil {
		return fmt.Errorf("failed to open gateway: %w", err)
	}

	<-ctx.Done()
	if !silent {
		fmt.Println()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sys.LogInfo("Shutting down all daemons...")
	sys.ShutdownDaemons()
	idle.Shutdown()
	for _, guildID := range player.Guilds() {
		player.Disconnect(shutdownCtx, guildID)
	}

	if self, ok := client.Caches.SelfUser(); ok {
		sys.LogInfo(sys.MsgBotShutdown, self.Username)
	} else {
		sys.LogInfo(sys.MsgBotShutdown, sys.GetProjectName())
	}
	return nil
}

// lockPIDFile makes this the only running instance, terminating an older one
// that still holds the lock.
func lockPIDFile() func() {
	f, err := os.OpenFile(pidFile, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		sys.LogFatal("Failed to open PID file: %v", err)
	}

	for {
		err = syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
		if err == nil {
			break
		}
		if err != syscall.EWOULDBLOCK {
			sys.LogFatal("Failed to lock PID file: %v", err)
		}

		var oldPid int
		_, _ = f.Seek(0, 0)
		if _, scanErr := fmt.Fscanf(f, "%d", &oldPid); scanErr != nil || oldPid == os.Getpid() {
			time.Sleep(100 * time.Millisecond)
			continue
		}
		process, procErr := os.FindProcess(oldPid)
		if procErr != nil {
			time.Sleep(100 * time.Millisecond)
			continue
		}

		sys.LogInfo("Killing running instance... (PID: %d)", oldPid)
		_ = process.Signal(syscall.SIGTERM)
		terminated := false
		for range 50 {
			if err := process.Signal(syscall.Signal(0)); err != nil {
				terminated = true
				break
			}
			time.Sleep(100 * time.Millisecond)
		}
		if !terminated {
			sys.LogWarn("Old process %d is stubborn. Sending SIGKILL...", oldPid)
			_ = process.Signal(syscall.SIGKILL)
			time.Sleep(200 * time.Millisecond)
		}
	}

	_ = f.Truncate(0)
	_, _ = f.Seek(0, 0)
	_, _ = fmt.Fprintf(f, "%d", os.Getpid())
	_ = f.Sync()

	return func() {
		_ = syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
		_ = f.Close()
		_ = os.Remove(pidFile)
	}
}
