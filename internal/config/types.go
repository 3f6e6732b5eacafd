package config

// Config is the merged runtime configuration. Durations are Go duration
// strings ("500ms", "10s", "1m") and are parsed where they are used.
type Config struct {
	Telegram  TelegramConfig  `json:"telegram"`
	Feed      FeedConfig      `json:"feed"`
	State     StateConfig     `json:"state"`
	Translate TranslateConfig `json:"translate"`
	Delivery  DeliveryConfig  `json:"delivery"`
	Health    HealthConfig    `json:"health"`
	Logging   LoggingConfig   `json:"logging"`
}

type TelegramConfig struct {
	Token    string `json:"token" validate:"required"`
	ChatID   int64  `json:"chat_id" validate:"required"`
	ThreadID int    `json:"thread_id,omitempty" validate:"gte=0"`

	// APIURL overrides the Bot API base URL (local bot API servers, tests).
	APIURL  string `json:"api_url,omitempty" validate:"omitempty,url"`
	Timeout string `json:"timeout,omitempty"`

	Announce       bool   `json:"announce"`
	AnnounceText   string `json:"announce_text,omitempty"`
	DisablePreview bool   `json:"disable_preview,omitempty"`
}

type FeedConfig struct {
	URL string `json:"url" validate:"required,url"`

	// Interval is whole seconds ("60"), a duration ("60s") or a standard 5-field cron spec.
	Interval  string `json:"interval,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
}

// StateConfig selects the dedup mode and where delivery state lives.
//
// An empty path resolves per mode and driver, see StatePath.
type StateConfig struct {
	Dedup       string `json:"dedup" validate:"oneof=set pointer"`
	Driver      string `json:"driver" validate:"oneof=file sqlite memory"`
	Path        string `json:"path,omitempty"`
	BusyTimeout string `json:"busy_timeout,omitempty"`
}

type TranslateConfig struct {
	Enabled   bool   `json:"enabled"`
	Endpoint  string `json:"endpoint,omitempty" validate:"omitempty,url"`
	APIKey    string `json:"api_key,omitempty"`
	Source    string `json:"source,omitempty"`
	Target    string `json:"target,omitempty"`
	Timeout   string `json:"timeout,omitempty"`
	CacheSize int    `json:"cache_size,omitempty" validate:"gte=0"`
}

type DeliveryConfig struct {
	Pacing       string `json:"pacing,omitempty"`
	FloodWaitMax string `json:"flood_wait_max,omitempty"`
}

type HealthConfig struct {
	Addr string `json:"addr,omitempty"`
}

type LoggingConfig struct {
	Level    string             `json:"level"`
	Format   string             `json:"format,omitempty" validate:"omitempty,oneof=auto console json"`
	File     LoggingFileConfig  `json:"file,omitempty"`
	Telegram LoggingTelegramCfg `json:"telegram,omitempty"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path,omitempty"`
}

// LoggingTelegramCfg forwards warn+ records to an operator chat.
// A zero ChatID falls back to telegram.chat_id.
type LoggingTelegramCfg struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id,omitempty"`
	ThreadID   int    `json:"thread_id,omitempty" validate:"gte=0"`
	MinLevel   string `json:"min_level,omitempty"`
	RatePerSec int    `json:"rate_per_sec,omitempty" validate:"gte=0"`
}

const (
	DefaultSetPath     = "./data/delivered.jsonl"
	DefaultPointerPath = "./data/last_link.txt"
	DefaultSQLitePath  = "./data/newsrelay.db"
)

// Default returns the built-in configuration layer.
func Default() *Config {
	return &Config{
		Telegram: TelegramConfig{
			Timeout:  "10s",
			Announce: true,
		},
		Feed: FeedConfig{
			Interval: "60s",
			Timeout:  "20s",
		},
		State: StateConfig{
			Dedup:       "set",
			Driver:      "file",
			BusyTimeout: "5s",
		},
		Translate: TranslateConfig{
			Endpoint:  "https://libretranslate.de/translate",
			Source:    "en",
			Target:    "ru",
			Timeout:   "10s",
			CacheSize: 256,
		},
		Delivery: DeliveryConfig{
			Pacing:       "1s",
			FloodWaitMax: "30s",
		},
		Health: HealthConfig{Addr: ":10000"},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
			Telegram: LoggingTelegramCfg{
				MinLevel:   "warn",
				RatePerSec: 1,
			},
		},
	}
}

// StatePath returns the configured state path or the default for the
// selected dedup mode and driver.
func (c StateConfig) StatePath() string {
	if c.Path != "" {
		return c.Path
	}
	switch {
	case c.Driver == "sqlite":
		return DefaultSQLitePath
	case c.Dedup == "pointer":
		return DefaultPointerPath
	default:
		return DefaultSetPath
	}
}
