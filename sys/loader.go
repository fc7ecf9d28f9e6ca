package sys

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/disgoorg/disgo"
	"github.com/disgoorg/disgo/bot"
	"github.com/disgoorg/disgo/cache"
	"github.com/disgoorg/disgo/discord"
	"github.com/disgoorg/disgo/events"
	"github.com/disgoorg/disgo/gateway"
	"github.com/disgoorg/disgo/rest"
	"github.com/disgoorg/disgo/voice"
	"github.com/disgoorg/godave/golibdave"
	"github.com/disgoorg/snowflake/v2"
)

// safeGo runs f in its own goroutine and logs any panic instead of crashing.
func safeGo(f func()) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				LogError(MsgLoaderPanicRecovered, r)
				fmt.Printf("%s\n", debug.Stack())
			}
		}()
		f()
	}()
}

// --- Global State & Setup ---

var AppContext = context.Background()
var StartupTime = time.Now()
var daemonsOnce sync.Once

var (
	registryMu           sync.RWMutex
	commands             []discord.ApplicationCommandCreate
	commandHandlers      = map[string]func(event *events.ApplicationCommandInteractionCreate){}
	autocompleteHandlers = map[string]func(event *events.AutocompleteInteractionCreate){}
	componentHandlers    = map[string]func(event *events.ComponentInteractionCreate){}
	voiceStateHandlers   []func(event *events.GuildVoiceStateUpdate)
	guildLeaveHandlers   []func(event *events.GuildLeave)
	clientReadyCallbacks []func(ctx context.Context, client *bot.Client)
)

func SetAppContext(ctx context.Context) {
	AppContext = ctx
}

// --- Bot Initialization ---

// CreateClient builds the disgo client with the intents, caches and voice
// manager a music bot needs.
func CreateClient(cfg *Config) (*bot.Client, error) {
	return disgo.New(cfg.Token,
		bot.WithGatewayConfigOpts(
			gateway.WithIntents(
				gateway.IntentGuilds,
				gateway.IntentGuildMembers,
				gateway.IntentGuildVoiceStates,
			),
			gateway.WithPresenceOpts(
				gateway.WithListeningActivity("/music play"),
				gateway.WithOnlineStatus(discord.OnlineStatusOnline),
			),
		),
		bot.WithCacheConfigOpts(
			cache.WithCaches(cache.FlagGuilds, cache.FlagMembers, cache.FlagChannels, cache.FlagVoiceStates),
		),
		bot.WithVoiceManagerConfigOpts(
			voice.WithDaveSessionCreateFunc(golibdave.NewSession),
		),
		bot.WithEventListenerFunc(onApplicationCommandInteraction),
		bot.WithEventListenerFunc(onAutocompleteInteraction),
		bot.WithEventListenerFunc(onComponentInteraction),
		bot.WithEventListenerFunc(onVoiceStateUpdate),
		bot.WithEventListenerFunc(onGuildLeave),
		bot.WithEventListenerFunc(onReady),
		bot.WithLogger(slog.Default()),
		bot.WithRestClientConfigOpts(
			rest.WithHTTPClient(&http.Client{
				Timeout: 60 * time.Second,
				Transport: &http.Transport{
					MaxIdleConns:        100,
					MaxIdleConnsPerHost: 50,
					IdleConnTimeout:     90 * time.Second,
				},
			}),
		),
	)
}

// --- Command & Handler Registration ---

func RegisterCommand(cmd discord.SlashCommandCreate, handler func(event *events.ApplicationCommandInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	commands = append(commands, cmd)
	commandHandlers[cmd.CommandName()] = handler
}

func RegisterAutocompleteHandler(cmdName string, handler func(event *events.AutocompleteInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	autocompleteHandlers[cmdName] = handler
}

// RegisterComponentHandler binds a custom id. Keys ending in ":" match every
// custom id with that prefix.
func RegisterComponentHandler(customID string, handler func(event *events.ComponentInteractionCreate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	componentHandlers[customID] = handler
}

func RegisterVoiceStateUpdateHandler(handler func(event *events.GuildVoiceStateUpdate)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	voiceStateHandlers = append(voiceStateHandlers, handler)
}

func RegisterGuildLeaveHandler(handler func(event *events.GuildLeave)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	guildLeaveHandlers = append(guildLeaveHandlers, handler)
}

func OnClientReady(cb func(ctx context.Context, client *bot.Client)) {
	registryMu.Lock()
	defer registryMu.Unlock()
	clientReadyCallbacks = append(clientReadyCallbacks, cb)
}

// RegisteredCommands returns a copy of every registered command definition.
func RegisteredCommands() []discord.ApplicationCommandCreate {
	registryMu.RLock()
	defer registryMu.RUnlock()
	return append([]discord.ApplicationCommandCreate(nil), commands...)
}

// --- Command Syncing ---

func commandHash(cmds []discord.ApplicationCommandCreate) string {
	data, err := json.Marshal(cmds)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// RegisterCommands pushes the command set to Discord when it changed since the
// last run. An empty guildID registers globally, otherwise per guild.
func RegisterCommands(ctx context.Context, client *bot.Client, guildID string) error {
	mode := "guild"
	if guildID == "" {
		mode = "global"
	}
	LogInfo(MsgLoaderSyncCommands, strings.ToUpper(mode))

	cmds := RegisteredCommands()
	hash := commandHash(cmds)
	lastHash, _ := GetBotConfig(ctx, "last_cmd_hash")
	lastMode, _ := GetBotConfig(ctx, "last_reg_mode")
	lastGuild, _ := GetBotConfig(ctx, "last_guild_id")

	upToDate := hash != "" && hash == lastHash && mode == lastMode && guildID == lastGuild
	if upToDate {
		LogInfo(MsgLoaderUpToDate, hash[:8])
		return nil
	}

	var created []discord.ApplicationCommand
	var err error
	if mode == "global" {
		created, err = client.Rest.SetGlobalCommands(client.ApplicationID, cmds)
	} else {
		id, parseErr := snowflake.Parse(guildID)
		if parseErr != nil {
			return fmt.Errorf(MsgLoaderInvalidGuild, parseErr)
		}
		created, err = client.Rest.SetGuildCommands(client.ApplicationID, id, cmds)
	}
	if err != nil {
		return fmt.Errorf(MsgLoaderRegisterFail, err)
	}
	for _, cmd := range created {
		LogInfo(MsgLoaderRegistered, cmd.Name())
	}

	// Leftovers from the previous mode would show up as duplicates.
	if lastMode == "guild" && lastGuild != "" && lastGuild != guildID {
		if id, err := snowflake.Parse(lastGuild); err == nil {
			if _, err := client.Rest.SetGuildCommands(client.ApplicationID, id, []discord.ApplicationCommandCreate{}); err == nil {
				LogInfo(MsgLoaderCleanup, "guild "+lastGuild)
			}
		}
	}
	if lastMode == "global" && mode == "guild" {
		if _, err := client.Rest.SetGlobalCommands(client.ApplicationID, []discord.ApplicationCommandCreate{}); err == nil {
			LogInfo(MsgLoaderCleanup, "global scope")
		}
	}

	_ = SetBotConfig(ctx, "last_reg_mode", mode)
	_ = SetBotConfig(ctx, "last_guild_id", guildID)
	if hash != "" {
		_ = SetBotConfig(ctx, "last_cmd_hash", hash)
	}
	return nil
}

// --- Event Handlers ---

func onReady(event *events.Ready) {
	client := event.Client()
	LogInfo(MsgBotReady, event.User.Username, event.User.ID.String(), os.Getpid(), time.Since(StartupTime).Milliseconds())

	registryMu.RLock()
	callbacks := append([]func(context.Context, *bot.Client){}, clientReadyCallbacks...)
	registryMu.RUnlock()
	for _, cb := range callbacks {
		cb(AppContext, client)
	}
	StartDaemons(AppContext)
}

func onApplicationCommandInteraction(event *events.ApplicationCommandInteractionCreate) {
	registryMu.RLock()
	h, ok := commandHandlers[event.Data.CommandName()]
	registryMu.RUnlock()
	if ok {
		safeGo(func() { h(event) })
	}
}

func onAutocompleteInteraction(event *events.AutocompleteInteractionCreate) {
	registryMu.RLock()
	h, ok := autocompleteHandlers[event.Data.CommandName]
	registryMu.RUnlock()
	if ok {
		safeGo(func() { h(event) })
	}
}

func onComponentInteraction(event *events.ComponentInteractionCreate) {
	if h := componentHandler(event.Data.CustomID()); h != nil {
		safeGo(func() { h(event) })
	}
}

func componentHandler(customID string) func(event *events.ComponentInteractionCreate) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if h, ok := componentHandlers[customID]; ok {
		return h
	}
	for prefix, h := range componentHandlers {
		if strings.HasSuffix(prefix, ":") && strings.HasPrefix(customID, prefix) {
			return h
		}
	}
	return nil
}

func onVoiceStateUpdate(event *events.GuildVoiceStateUpdate) {
	registryMu.RLock()
	handlers := append([]func(*events.GuildVoiceStateUpdate){}, voiceStateHandlers...)
	registryMu.RUnlock()
	for _, h := range handlers {
		safeGo(func() { h(event) })
	}
}

func onGuildLeave(event *events.GuildLeave) {
	registryMu.RLock()
	handlers := append([]func(*events.GuildLeave){}, guildLeaveHandlers...)
	registryMu.RUnlock()
	for _, h := range handlers {
		safeGo(func() { h(event) })
	}
}

// --- Daemon System ---

type daemonEntry struct {
	starter func(ctx context.Context) (bool, func(), func())
	logger  func(format string, v ...any)
}

var (
	registeredDaemons []daemonEntry
	shutdownHooks     []func()
	shutdownMu        sync.Mutex
)

// RegisterDaemon adds a background worker. starter reports whether it should
// run and returns its loop and an optional shutdown hook.
func RegisterDaemon(logger func(format string, v ...any), starter func(ctx context.Context) (bool, func(), func())) {
	registeredDaemons = append(registeredDaemons, daemonEntry{starter: starter, logger: logger})
}

// StartDaemons launches the registered daemons once per process.
func StartDaemons(ctx context.Context) {
	daemonsOnce.Do(func() {
		for _, d := range registeredDaemons {
			ok, run, shutdown := d.starter(ctx)
			if !ok || run == nil {
				continue
			}
			if shutdown != nil {
				shutdownMu.Lock()
				shutdownHooks = append(shutdownHooks, shutdown)
				shutdownMu.Unlock()
			}
			d.logger(MsgDaemonStarting)
			go run()
		}
	})
}

// ShutdownDaemons runs every shutdown hook concurrently and waits for them.
func ShutdownDaemons() {
	shutdownMu.Lock()
	defer shutdownMu.Unlock()

	var wg sync.WaitGroup
	for _, hook := range shutdownHooks {
		wg.Add(1)
		go func() {
			defer wg.Done()
			hook()
		}()
	}
	wg.Wait()
	shutdownHooks = nil
}
