package config

import (
	"os"
	"strings"

	"github.com/joho/godotenv"
)

type Config struct {
	AppEnv      string
	Port        string
	DatabaseURL string
	Carrier     string
	TariffPath  string
	LogLevel    string
}

// Load reads configuration from the environment. A .env file in the
// working directory, if present, fills in variables that are not already set.
func Load() Config {
	_ = godotenv.Load()

	return Config{
		AppEnv:      getenv("APP_ENV", "development"),
		Port:        getenv("PORT", "8080"),
		DatabaseURL: os.Getenv("DATABASE_URL"),
		Carrier:     getenv("CARRIER", "yupack"),
		TariffPath:  os.Getenv("TARIFF_PATH"),
		LogLevel:    getenv("LOG_LEVEL", "info"),
	}
}

func getenv(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
