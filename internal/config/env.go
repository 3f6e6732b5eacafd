package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
)

// Options is the environment / command-line layer. Every override is a
// string so that "unset" and "empty" leave the lower layers alone.
type Options struct {
	ConfigPath string `short:"c" long:"config" env:"NEWSRELAY_CONFIG" description:"Path to a JSON, YAML or TOML config file"`
	EnvFile    string `long:"env-file" description:"Dotenv file loaded before reading the environment" default:".env"`

	Token    string `long:"bot-token" env:"BOT_TOKEN" description:"Telegram bot token"`
	ChatID   string `long:"chat-id" env:"TELEGRAM_CHAT_ID" description:"Destination chat id"`
	ThreadID string `long:"thread-id" env:"MESSAGE_THREAD_ID" description:"Destination forum topic id"`

	FeedURL  string `long:"rss-url" env:"RSS_URL" description:"Feed URL"`
	Interval string `long:"interval" env:"CHECK_INTERVAL" description:"Poll interval (seconds, duration or cron spec)"`

	Dedup     string `long:"dedup" env:"DEDUP_MODE" description:"Dedup mode: set or pointer"`
	Driver    string `long:"state-driver" env:"STATE_DRIVER" description:"State driver: file, sqlite or memory"`
	StatePath string `long:"state-path" env:"STATE_PATH" description:"Delivery state location"`

	Translate       string `long:"translate" env:"TRANSLATE_ENABLED" description:"Translate titles (true/false)"`
	TranslateAPI    string `long:"translate-api" env:"TRANSLATE_API" description:"LibreTranslate endpoint"`
	TranslateSource string `long:"translate-source" env:"TRANSLATE_SOURCE" description:"Source language"`
	TranslateTarget string `long:"translate-target" env:"TRANSLATE_TARGET" description:"Target language"`

	LogLevel string `long:"log-level" env:"LOG_LEVEL" description:"Log level"`
	Port     string `long:"port" env:"PORT" description:"Liveness listen port or address"`
}

// ParseArgs reads the env/flag layer. A help request is returned as a
// *flags.Error with Type flags.ErrHelp.
func ParseArgs(args []string) (*Options, error) {
	var o Options
	p := flags.NewParser(&o, flags.HelpFlag|flags.PassDoubleDash)
	p.Name = "newsrelay"
	if _, err := p.ParseArgs(args); err != nil {
		return nil, err
	}
	return &o, nil
}

// IsHelp reports whether err is a help request from ParseArgs.
func IsHelp(err error) bool {
	var fe *flags.Error
	return errors.As(err, &fe) && fe.Type == flags.ErrHelp
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment.
// Variables that are already set win. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

// Apply overlays the non-empty options onto cfg.
func (o *Options) Apply(cfg *Config) error {
	if o == nil {
		return nil
	}
	set := func(dst *string, v string) {
		if v = strings.TrimSpace(v); v != "" {
			*dst = v
		}
	}

	set(&cfg.Telegram.Token, o.Token)
	if v := strings.TrimSpace(o.ChatID); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("TELEGRAM_CHAT_ID: invalid chat id %q", o.ChatID)
		}
		cfg.Telegram.ChatID = id
	}
	if v := strings.TrimSpace(o.ThreadID); v != "" {
		id, err := strconv.Atoi(v)
		if err != nil || id < 0 {
			return fmt.Errorf("MESSAGE_THREAD_ID: invalid thread id %q", o.ThreadID)
		}
		cfg.Telegram.ThreadID = id
	}

	set(&cfg.Feed.URL, o.FeedURL)
	set(&cfg.Feed.Interval, o.Interval)

	set(&cfg.State.Dedup, strings.ToLower(o.Dedup))
	set(&cfg.State.Driver, strings.ToLower(o.Driver))
	set(&cfg.State.Path, o.StatePath)

	if v := strings.TrimSpace(o.Translate); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("TRANSLATE_ENABLED: invalid boolean %q", o.Translate)
		}
		cfg.Translate.Enabled = b
	}
	set(&cfg.Translate.Endpoint, o.TranslateAPI)
	set(&cfg.Translate.Source, o.TranslateSource)
	set(&cfg.Translate.Target, o.TranslateTarget)

	set(&cfg.Logging.Level, o.LogLevel)
	if v := strings.TrimSpace(o.Port); v != "" {
		if _, err := strconv.Atoi(v); err == nil {
			v = ":" + v
		}
		cfg.Health.Addr = v
	}
	return nil
}
