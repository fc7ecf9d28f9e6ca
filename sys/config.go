package sys

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Token         string
	GuildID       string
	DatabasePath  string
	YoutubeAPIKey string
	RedisURL      string
	StatusAddr    string
	IdleTimeout   time.Duration
	SearchResults int
	Silent        bool
}

var GlobalConfig *Config

// LoadConfig initializes the configuration from environment variables.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	dbPath := os.Getenv("DATABASE_PATH")
	if dbPath == "" {
		folder := "."
		if info, err := os.Stat("data"); err == nil && info.IsDir() {
			folder = "./data"
		}
		dbPath = filepath.Join(folder, GetProjectName()+".db")
	}

	silent, _ := strconv.ParseBool(os.Getenv("SILENT"))

	idle := 60 * time.Second
	if v := os.Getenv("IDLE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid IDLE_TIMEOUT: %w", err)
		}
		idle = d
	}

	results := 5
	if v := os.Getenv("SEARCH_RESULTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("invalid SEARCH_RESULTS: %w", err)
		}
		results = n
	}

	cfg := &Config{
		Token:         os.Getenv("DISCORD_TOKEN"),
		GuildID:       os.Getenv("GUILD_ID"),
		DatabasePath:  dbPath,
		YoutubeAPIKey: os.Getenv("YOUTUBE_API_KEY"),
		RedisURL:      os.Getenv("REDIS_URL"),
		StatusAddr:    os.Getenv("STATUS_ADDR"),
		IdleTimeout:   idle,
		SearchResults: results,
		Silent:        silent,
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if cfg.Silent {
		SetSilentMode(true)
	}

	GlobalConfig = cfg
	return cfg, nil
}

// Validate ensures the configuration is valid and meets requirements.
func (c *Config) Validate() error {
	if c.Token == "" {
		return fmt.Errorf(MsgConfigMissingToken)
	}
	if c.GuildID != "" && (len(c.GuildID) < 17 || len(c.GuildID) > 20) {
		return fmt.Errorf("invalid GUILD_ID: must be a valid Snowflake")
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("invalid IDLE_TIMEOUT: must be positive")
	}
	if c.SearchResults < 1 || c.SearchResults > 25 {
		return fmt.Errorf("invalid SEARCH_RESULTS: must be between 1 and 25")
	}
	return nil
}

func GetProjectName() string {
	exePath, err := os.Executable()
	projectName := "mai"
	if err == nil {
		projectName = filepath.Base(exePath)
		projectName = strings.TrimSuffix(projectName, ".exe")

		if projectName == "main" || strings.HasPrefix(projectName, "go_build_") || strings.HasSuffix(projectName, ".test") {
			projectName = "mai"
		}
	}
	return projectName
}
