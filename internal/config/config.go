package config

import (
	"strings"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Feed     Feed     `mapstructure:"feed"`
	Notifier Notifier `mapstructure:"notifier"`
	Telegram Telegram `mapstructure:"telegram"`
	Logger   Logger   `mapstructure:"logger"`
	Server   Server   `mapstructure:"server"`
	Database Database `mapstructure:"database"`
}

// Feed holds the configuration for the signal feed (REST backfill + live socket).
type Feed struct {
	RestURL        string  `mapstructure:"rest_url"`
	SocketURL      string  `mapstructure:"socket_url"`
	Instrument     string  `mapstructure:"instrument"` // empty = all instruments
	RateLimit      float64 `mapstructure:"rate_limit"`
	RateLimitBurst int     `mapstructure:"rate_limit_burst"`
	ReconnectMinMs int     `mapstructure:"reconnect_min_ms"`
	ReconnectMaxMs int     `mapstructure:"reconnect_max_ms"`
}

// Notifier holds the configuration for the delivery pipeline.
type Notifier struct {
	UserID          string  `mapstructure:"user_id"`
	SoundDebounceMs int     `mapstructure:"sound_debounce_ms"`
	AudioSource     string  `mapstructure:"audio_source"`
	AudioVolume     float64 `mapstructure:"audio_volume"`
}

// Telegram holds the configuration for the optional Telegram channel.
type Telegram struct {
	Enabled bool   `mapstructure:"enabled"`
	Token   string `mapstructure:"token"`
	ChatID  int64  `mapstructure:"chat_id"`
}

// Server holds the configuration for the web server.
type Server struct {
	Port int `mapstructure:"port"`
}

// Database holds the configuration for the database.
type Database struct {
	DSN string `mapstructure:"dsn"`
}

// Logger holds the configuration for the logger.
type Logger struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// LoadConfig reads configuration from file or environment variables.
func LoadConfig(path string) (config Config, err error) {
	viper.AddConfigPath(path)
	viper.SetConfigName("config") // name of config file (without extension)
	viper.SetConfigType("yml")    // or yaml, json

	// Allow environment variables to override config file
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("feed.rate_limit", 10)      // requests per second
	viper.SetDefault("feed.rate_limit_burst", 5) // burst size
	viper.SetDefault("feed.reconnect_min_ms", 1000)
	viper.SetDefault("feed.reconnect_max_ms", 30000)
	viper.SetDefault("notifier.sound_debounce_ms", 500)
	viper.SetDefault("notifier.audio_volume", 1.0)

	err = viper.ReadInConfig()
	if err != nil {
		return
	}

	err = viper.Unmarshal(&config)
	return
}
