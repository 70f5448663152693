package config

import (
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	BotToken      string `envconfig:"BOT_TOKEN" required:"true"`
	WeatherAPIKey string `envconfig:"OPENWEATHER_API_KEY" required:"true"`
	AdminChatID   int64  `envconfig:"ADMIN_CHAT_ID" default:"0"` // 0 disables the feedback relay
	DBPath        string `envconfig:"DB_PATH" default:"./data/meteobot.db"`

	// HomeTZ is the canonical timezone: every daily fire time is interpreted
	// in it, independent of user locale.
	HomeTZ string `envconfig:"HOME_TZ" default:"Europe/Moscow"`

	RainInterval    time.Duration `envconfig:"RAIN_INTERVAL" default:"10m"`
	RainSuppression time.Duration `envconfig:"RAIN_SUPPRESSION" default:"1h"`
	WeatherTimeout  time.Duration `envconfig:"WEATHER_TIMEOUT" default:"10s"`
	// JobTimeout bounds one scheduled fire end to end: provider call with
	// retries plus delivery. Keep it above WEATHER_TIMEOUT times the retry
	// count or retries get cut short.
	JobTimeout time.Duration `envconfig:"JOB_TIMEOUT" default:"30s"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"` // debug|info|warn|error
	HTTPAddr string `envconfig:"HTTP_ADDR" default:":8080"`
}

// Load reads environment variables into Config.
func Load() (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}
