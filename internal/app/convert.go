package app

import (
	"time"

	"assetsy/internal/alert"
	"assetsy/internal/config"
	"assetsy/internal/notifier"
	"assetsy/internal/observability"
	"assetsy/internal/pipeline"
	"assetsy/internal/source"
	"assetsy/internal/source/fetch"
	"assetsy/internal/storage"
	"assetsy/internal/task/scheduler"
	telegram "assetsy/internal/transport/telegram/adapter"
	"assetsy/internal/transport/telegram/router"
	logx "assetsy/pkg/logx"
)

// The mappers below assume the config already passed config.Validate, so
// malformed durations fall back to defaults instead of failing.

func telegramConfig(c *config.Config) telegram.Config {
	return telegram.Config{
		Token:       c.Telegram.Token,
		APIURL:      c.Telegram.APIURL,
		PollTimeout: config.Duration(c.Telegram.PollTimeout, 10*time.Second),
	}
}

func routerOptions(c *config.Config) router.Options {
	return router.Options{Workers: c.Telegram.Workers}
}

func logConfig(c *config.Config) logx.Config {
	l := c.Logging
	return logx.Config{
		Level:   l.Level,
		Console: l.Console,
		File:    logx.FileConfig{Enabled: l.File.Enabled, Path: l.File.Path},
		Telegram: logx.TelegramConfig{
			Enabled:    l.Telegram.Enabled,
			ChatID:     l.Telegram.ChatID,
			ThreadID:   l.Telegram.ThreadID,
			MinLevel:   l.Telegram.MinLevel,
			RatePerSec: l.Telegram.RatePerSec,
		},
	}
}

func schedulerConfig(c *config.Config) scheduler.Config {
	return scheduler.Config{Timezone: c.Scheduler.Timezone}
}

// runTimeout bounds one pipeline run; zero means no bound beyond shutdown.
func runTimeout(c *config.Config) time.Duration {
	return config.Duration(c.Scheduler.Timeout, 0)
}

func pipelineConfig(c *config.Config) pipeline.Config {
	return pipeline.Config{
		ExtractTimeout:    config.Duration(c.Pipeline.ExtractTimeout, 0),
		SendTimeout:       config.Duration(c.Pipeline.SendTimeout, 0),
		FanoutConcurrency: c.Pipeline.FanoutConcurrency,
	}
}

func fetchConfig(c *config.Config) fetch.Config {
	f := c.Fetch
	return fetch.Config{
		Driver:      f.Driver,
		UserAgent:   f.UserAgent,
		Timeout:     config.Duration(f.Timeout, 0),
		RemoteURL:   f.WebDriverURL,
		PageLoad:    config.Duration(f.PageLoadTimeout, 0),
		ChromeFlags: f.ChromeFlags,
	}
}

func breakerConfig(c *config.Config) source.BreakerConfig {
	return source.BreakerConfig{
		Enabled:  c.Breaker.Enabled,
		Failures: c.Breaker.Failures,
		Cooldown: config.Duration(c.Breaker.Cooldown, 0),
	}
}

func notifierConfig(c *config.Config) notifier.Config {
	return notifier.Config{
		RatePerSec:  c.Notifier.RatePerSec,
		Burst:       c.Notifier.Burst,
		SendTimeout: config.Duration(c.Notifier.SendTimeout, 0),
	}
}

func alertConfig(c *config.Config) alert.Config {
	return alert.Config{Chats: append([]int64(nil), c.Alerts.Chats...)}
}

func storageConfig(c *config.Config) storage.Config {
	return storage.Config{
		Driver:       c.Storage.Driver,
		Path:         c.Storage.Path,
		BusyTimeout:  config.Duration(c.Storage.BusyTimeout, 0),
		CompactEvery: c.Storage.CompactEvery,
	}
}

func observabilityConfig(c *config.Config) observability.Config {
	o := c.Observability
	return observability.Config{
		Enabled:       o.Enabled,
		Addr:          o.Addr,
		Token:         o.Token,
		AllowInsecure: o.AllowInsecure,
		Pprof:         o.Pprof,
		ReadTimeout:   config.Duration(o.ReadTimeout, 0),
		WriteTimeout:  config.Duration(o.WriteTimeout, 0),
	}
}
