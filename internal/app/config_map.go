package app

import (
	"cmp"
	"strings"
	"time"

	"newsrelay/internal/config"
	"newsrelay/internal/feed"
	"newsrelay/internal/notifier"
	"newsrelay/internal/pipeline"
	"newsrelay/internal/storage"
	"newsrelay/internal/translate"
	kit "newsrelay/internal/transport"
	telegram "newsrelay/internal/transport/telegram/adapter"
	logx "newsrelay/pkg/logx"
)

func mapTelegramConfig(cfg *config.Config) (telegram.Config, error) {
	timeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return telegram.Config{}, err
	}
	return telegram.Config{
		Token:   cfg.Telegram.Token,
		APIURL:  cfg.Telegram.APIURL,
		Timeout: timeout,
	}, nil
}

// mapLogConfig routes the Telegram log sink to the delivery chat unless a
// separate operator chat is configured.
func mapLogConfig(cfg *config.Config) logx.Config {
	lt := cfg.Logging.Telegram
	return logx.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Telegram: logx.TelegramConfig{
			Enabled:    lt.Enabled,
			ChatID:     cmp.Or(lt.ChatID, cfg.Telegram.ChatID),
			ThreadID:   lt.ThreadID,
			MinLevel:   lt.MinLevel,
			RatePerSec: lt.RatePerSec,
		},
	}
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	sc := cfg.State
	busy, err := config.ParseDurationOrDefault("state.busy_timeout", sc.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      strings.ToLower(sc.Driver),
		Mode:        storage.Mode(strings.ToLower(sc.Dedup)),
		Path:        sc.StatePath(),
		BusyTimeout: busy,
	}, nil
}

func mapFeedConfig(cfg *config.Config) (feed.Config, error) {
	timeout, err := config.ParseDurationOrDefault("feed.timeout", cfg.Feed.Timeout, 20*time.Second)
	if err != nil {
		return feed.Config{}, err
	}
	return feed.Config{URL: cfg.Feed.URL, UserAgent: cfg.Feed.UserAgent, Timeout: timeout}, nil
}

// mapTranslator returns the Nop translator when translation is off.
func mapTranslator(cfg *config.Config, log logx.Logger) (translate.Translator, error) {
	tc := cfg.Translate
	if !tc.Enabled {
		return translate.Nop{}, nil
	}
	timeout, err := config.ParseDurationOrDefault("translate.timeout", tc.Timeout, 10*time.Second)
	if err != nil {
		return nil, err
	}
	return translate.NewLibre(translate.LibreConfig{
		Endpoint:  tc.Endpoint,
		APIKey:    tc.APIKey,
		Source:    tc.Source,
		Target:    tc.Target,
		Timeout:   timeout,
		CacheSize: tc.CacheSize,
	}, log)
}

func mapNotifierConfig(cfg *config.Config) (notifier.Config, error) {
	pacing, err := config.ParseDurationField("delivery.pacing", cfg.Delivery.Pacing)
	if err != nil {
		return notifier.Config{}, err
	}
	switch {
	case strings.TrimSpace(cfg.Delivery.Pacing) == "":
		pacing = notifier.DefaultPacing
	case pacing == 0:
		pacing = -1 // explicit "0s" turns pacing off
	}
	floodMax, err := config.ParseDurationOrDefault("delivery.flood_wait_max", cfg.Delivery.FloodWaitMax, notifier.DefaultFloodWaitMax)
	if err != nil {
		return notifier.Config{}, err
	}
	sendTimeout, err := config.ParseDurationOrDefault("telegram.timeout", cfg.Telegram.Timeout, 10*time.Second)
	if err != nil {
		return notifier.Config{}, err
	}
	return notifier.Config{
		Target:         kit.ChatTarget{ChatID: cfg.Telegram.ChatID, ThreadID: cfg.Telegram.ThreadID},
		Pacing:         pacing,
		FloodWaitMax:   floodMax,
		SendTimeout:    sendTimeout,
		DisablePreview: cfg.Telegram.DisablePreview,
		AnnounceText:   cmp.Or(strings.TrimSpace(cfg.Telegram.AnnounceText), notifier.DefaultAnnounceText),
	}, nil
}

func mapPipelineConfig(cfg *config.Config) (pipeline.Config, error) {
	sched, err := pipeline.ParseSchedule(cfg.Feed.Interval)
	if err != nil {
		return pipeline.Config{}, err
	}
	return pipeline.Config{
		Schedule:  sched,
		Announce:  cfg.Telegram.Announce,
		Translate: cfg.Translate.Enabled,
	}, nil
}
