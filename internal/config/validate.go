package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultSchedule is used when scheduler.schedule is empty.
const DefaultSchedule = "1m"

// Validate checks the fields the app cannot recover from. Every problem is
// reported, joined.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error
	add := func(err error) {
		if err != nil {
			errs = append(errs, err)
		}
	}
	dur := func(path, raw string) {
		if _, err := parseDuration(raw); err != nil {
			add(fmt.Errorf("%s: %w", path, err))
		}
	}

	if strings.TrimSpace(cfg.Telegram.Token) == "" {
		add(fmt.Errorf("telegram.token: required (or set %s)", TokenEnv))
	}
	dur("telegram.poll_timeout", cfg.Telegram.PollTimeout)
	if cfg.Telegram.Workers < 0 {
		add(errors.New("telegram.workers: must be >= 0"))
	}

	if !oneOf(cfg.Logging.Level, "", "trace", "debug", "info", "warn", "warning", "error") {
		add(fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.File.Enabled && strings.TrimSpace(cfg.Logging.File.Path) == "" {
		add(errors.New("logging.file.path: required when file logging is enabled"))
	}
	if cfg.Logging.Telegram.Enabled && cfg.Logging.Telegram.ChatID == 0 {
		add(errors.New("logging.telegram.chat_id: required when telegram logging is enabled"))
	}

	if tz := strings.TrimSpace(cfg.Scheduler.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			add(fmt.Errorf("scheduler.timezone: %w", err))
		}
	}
	dur("scheduler.timeout", cfg.Scheduler.Timeout)

	dur("pipeline.extract_timeout", cfg.Pipeline.ExtractTimeout)
	dur("pipeline.send_timeout", cfg.Pipeline.SendTimeout)
	if cfg.Pipeline.FanoutConcurrency < 0 {
		add(errors.New("pipeline.fanout_concurrency: must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Fetch.Driver)) {
	case "", "http", "chrome":
	case "webdriver", "cdp", "chromedp":
		if strings.TrimSpace(cfg.Fetch.WebDriverURL) == "" {
			add(errors.New("fetch.webdriver_url: required for the webdriver driver"))
		}
	default:
		add(fmt.Errorf("fetch.driver: unknown driver %q", cfg.Fetch.Driver))
	}
	dur("fetch.timeout", cfg.Fetch.Timeout)
	dur("fetch.page_load_timeout", cfg.Fetch.PageLoadTimeout)

	if !cfg.Sources.Unity.On() && !cfg.Sources.Fab.On() {
		add(errors.New("sources: at least one source must be enabled"))
	}

	dur("breaker.cooldown", cfg.Breaker.Cooldown)
	dur("notifier.send_timeout", cfg.Notifier.SendTimeout)
	if cfg.Notifier.RatePerSec < 0 || cfg.Notifier.Burst < 0 {
		add(errors.New("notifier: rate_per_sec and burst must be >= 0"))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "sqlite3", "file":
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			add(errors.New("storage.path: required for sqlite and file drivers"))
		}
	case "memory", "mem":
	default:
		add(fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	dur("storage.busy_timeout", cfg.Storage.BusyTimeout)

	dur("observability.read_timeout", cfg.Observability.ReadTimeout)
	dur("observability.write_timeout", cfg.Observability.WriteTimeout)

	return errors.Join(errs...)
}

func oneOf(s string, opts ...string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	for _, o := range opts {
		if s == o {
			return true
		}
	}
	return false
}

// Duration parses a field already accepted by Validate; invalid values fall
// back to def.
func Duration(raw string, def time.Duration) time.Duration {
	d, err := parseDuration(raw)
	if err != nil || d == 0 {
		return def
	}
	return d
}

// parseDuration accepts time.ParseDuration syntax; blank means zero.
func parseDuration(raw string) (time.Duration, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		return 0, fmt.Errorf("invalid duration %q", raw)
	case d < 0:
		return 0, fmt.Errorf("negative duration %q", raw)
	}
	return d, nil
}

// ScheduleOrDefault returns scheduler.schedule, or DefaultSchedule when empty.
func (c SchedulerConfig) ScheduleOrDefault() string {
	if s := strings.TrimSpace(c.Schedule); s != "" {
		return s
	}
	return DefaultSchedule
}
