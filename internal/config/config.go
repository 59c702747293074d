package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

type Config struct {
	// Discord Bot
	DiscordToken string

	// Database
	DatabaseURL string

	// Clash of Clans API
	CocAPIToken   string
	CocAPIBaseURL string
	ClanTag       string

	// Web Server
	WebBind string

	// War defaults
	DefaultTeamSize  int
	AttacksPerMember int
	WarCategoryName  string

	// Auto refresh
	AutoRefreshEnabled  bool
	AutoRefreshInterval int // minutes
	FeedTimeoutSeconds  int
}

func Load() (*Config, error) {
	// Load environment variables from .env if present (non-fatal if missing)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:        os.Getenv("DISCORD_TOKEN"),
		DatabaseURL:         os.Getenv("DATABASE_URL"),
		CocAPIToken:         os.Getenv("COC_API_TOKEN"),
		CocAPIBaseURL:       os.Getenv("COC_API_BASE_URL"),
		ClanTag:             os.Getenv("CLAN_TAG"),
		WebBind:             getEnvDefault("WEB_BIND", "0.0.0.0:3000"),
		DefaultTeamSize:     getEnvInt("DEFAULT_TEAM_SIZE", 10),
		AttacksPerMember:    getEnvInt("MAX_ATTACKS_PER_MEMBER", 2),
		WarCategoryName:     getEnvDefault("WAR_CATEGORY_NAME", "clan wars"),
		AutoRefreshEnabled:  os.Getenv("ENABLE_AUTO_REFRESH") == "true",
		AutoRefreshInterval: getEnvInt("AUTO_REFRESH_INTERVAL_MINUTES", 5),
		FeedTimeoutSeconds:  getEnvInt("FEED_TIMEOUT_SECONDS", 10),
	}

	if cfg.DiscordToken == "" {
		return nil, fmt.Errorf("DISCORD_TOKEN is required")
	}
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if cfg.CocAPIToken == "" {
		return nil, fmt.Errorf("COC_API_TOKEN is required")
	}
	if cfg.ClanTag == "" {
		return nil, fmt.Errorf("CLAN_TAG is required")
	}

	return cfg, nil
}

func getEnvDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return n
}
