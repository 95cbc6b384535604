package config

// Config is the on-disk configuration. Durations are Go duration strings
// ("30s", "2m"). Sections marked restart-only are read once at startup.
type Config struct {
	Telegram      TelegramConfig      `json:"telegram"`
	Logging       LoggingConfig       `json:"logging"`
	Scheduler     SchedulerConfig     `json:"scheduler"`
	Pipeline      PipelineConfig      `json:"pipeline"`
	Fetch         FetchConfig         `json:"fetch"`   // restart-only
	Sources       SourcesConfig       `json:"sources"` // restart-only
	Breaker       BreakerConfig       `json:"breaker"` // restart-only
	Notifier      NotifierConfig      `json:"notifier"`
	Alerts        AlertsConfig        `json:"alerts"`
	Storage       StorageConfig       `json:"storage"` // restart-only
	Observability ObservabilityConfig `json:"observability"`
}

// TelegramConfig is restart-only. An empty Token is filled from
// TELEGRAM_BOT_TOKEN.
type TelegramConfig struct {
	Token       string `json:"token"`
	APIURL      string `json:"api_url,omitempty"`
	PollTimeout string `json:"poll_timeout,omitempty"`
	// Workers bounds concurrent command handlers.
	Workers int `json:"workers,omitempty"`
}

type LoggingConfig struct {
	Level    string          `json:"level"`
	Console  bool            `json:"console"`
	File     LoggingFile     `json:"file"`
	Telegram LoggingTelegram `json:"telegram"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

type LoggingTelegram struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id,omitempty"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

// SchedulerConfig controls when the pipeline runs.
//
// Schedule accepts cron ("*/5 * * * *"), durations ("1m") or HH:MM
// intervals ("00:30"). Default "1m".
type SchedulerConfig struct {
	Schedule   string `json:"schedule"`
	RunOnStart bool   `json:"run_on_start"`
	Timezone   string `json:"timezone,omitempty"`
	// Timeout bounds one whole run; "0s" disables it.
	Timeout string `json:"timeout,omitempty"`
}

type PipelineConfig struct {
	ExtractTimeout    string `json:"extract_timeout,omitempty"`
	SendTimeout       string `json:"send_timeout,omitempty"`
	FanoutConcurrency int    `json:"fanout_concurrency,omitempty"`
}

// FetchConfig selects how pages are downloaded. Driver is "http",
// "webdriver" (a remote Chrome DevTools endpoint such as a headless-shell
// container) or "chrome" (launch Chrome locally with ChromeFlags).
type FetchConfig struct {
	Driver          string   `json:"driver"`
	UserAgent       string   `json:"user_agent,omitempty"`
	Timeout         string   `json:"timeout,omitempty"`
	WebDriverURL    string   `json:"webdriver_url,omitempty"`
	PageLoadTimeout string   `json:"page_load_timeout,omitempty"`
	ChromeFlags     []string `json:"chrome_flags,omitempty"`
}

type SourcesConfig struct {
	Unity SourceConfig `json:"unity"`
	Fab   SourceConfig `json:"unreal_fab_marketplace"`
}

// SourceConfig toggles one source. Enabled defaults to true when omitted.
type SourceConfig struct {
	Enabled *bool  `json:"enabled,omitempty"`
	URL     string `json:"url,omitempty"`
}

func (s SourceConfig) On() bool { return s.Enabled == nil || *s.Enabled }

type BreakerConfig struct {
	Enabled  bool   `json:"enabled"`
	Failures uint32 `json:"failures,omitempty"`
	Cooldown string `json:"cooldown,omitempty"`
}

type NotifierConfig struct {
	RatePerSec  int    `json:"rate_per_sec,omitempty"`
	Burst       int    `json:"burst,omitempty"`
	SendTimeout string `json:"send_timeout,omitempty"`
}

// AlertsConfig lists chats told about failing sources.
type AlertsConfig struct {
	Chats []int64 `json:"chats"`
}

// StorageConfig selects the persistence backend.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./assetsy.db" }
type StorageConfig struct {
	Driver       string `json:"driver"`
	Path         string `json:"path"`
	BusyTimeout  string `json:"busy_timeout,omitempty"`  // sqlite
	CompactEvery int    `json:"compact_every,omitempty"` // file
}

// ObservabilityConfig controls the /metrics, /healthz and pprof server.
//
// Bind to loopback, or set a token, or explicitly allow_insecure.
type ObservabilityConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
	ReadTimeout   string `json:"read_timeout,omitempty"`
	WriteTimeout  string `json:"write_timeout,omitempty"`
}
