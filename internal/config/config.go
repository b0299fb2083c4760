// Package config loads relaychat's runtime configuration from environment
// variables (optionally via a .env file), matching the four knobs spec §6
// names: SERVER_IP, SERVER_PORT, STORAGE_DIR, LOG_LEVEL.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
)

// DefaultPort is the relay server's default listen port (spec §4.6).
const DefaultPort = 8888

// Config holds the resolved runtime configuration.
type Config struct {
	ServerIP   string
	ServerPort int
	StorageDir string
	LogLevel   string
}

// Load reads a .env file if present (like the original implementation's
// load_dotenv(override=True)) and then resolves Config from the process
// environment, applying spec-mandated defaults for anything unset.
func Load() Config {
	if err := godotenv.Overload(); err != nil && !os.IsNotExist(err) {
		log.Warn().Err(err).Msg("config: could not load .env file")
	}

	port := DefaultPort
	if raw := os.Getenv("SERVER_PORT"); raw != "" {
		if p, err := strconv.Atoi(raw); err == nil {
			port = p
		} else {
			log.Warn().Str("SERVER_PORT", raw).Msg("config: invalid SERVER_PORT, using default")
		}
	}

	storageDir := os.Getenv("STORAGE_DIR")
	if storageDir == "" {
		storageDir = "./data"
	}

	logLevel := os.Getenv("LOG_LEVEL")
	if logLevel == "" {
		logLevel = "INFO"
	}

	return Config{
		ServerIP:   envOr("SERVER_IP", "0.0.0.0"),
		ServerPort: port,
		StorageDir: storageDir,
		LogLevel:   logLevel,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
