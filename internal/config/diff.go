package config

import (
	"reflect"
	"sort"
	"strings"

	logx "assetsy/pkg/logx"
)

// restartOnly lists sections applied only at startup.
var restartOnly = map[string]bool{
	"telegram": true,
	"fetch":    true,
	"sources":  true,
	"breaker":  true,
	"storage":  true,
}

// SummarizeConfigChange returns the changed section names, safe attrs for
// logging (tokens are reported only as set/unset), and the changed sections
// that need a restart.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	var (
		changed []string
		attrs   []logx.Field
	)
	mark := func(section string, fields ...logx.Field) {
		changed = append(changed, section)
		attrs = append(attrs, fields...)
	}

	o, n := oldCfg.Telegram, newCfg.Telegram
	if o.Token != n.Token || o.APIURL != n.APIURL || o.PollTimeout != n.PollTimeout || o.Workers != n.Workers {
		mark("telegram",
			logx.Bool("telegram.token_changed", o.Token != n.Token),
			logx.String("telegram.poll_timeout", strings.TrimSpace(n.PollTimeout)),
		)
	}
	if !reflect.DeepEqual(oldCfg.Logging, newCfg.Logging) {
		l := newCfg.Logging
		mark("logging",
			logx.String("logging.level", l.Level),
			logx.Bool("logging.console", l.Console),
			logx.Bool("logging.file_enabled", l.File.Enabled),
			logx.Bool("logging.telegram_enabled", l.Telegram.Enabled),
		)
	}
	if oldCfg.Scheduler != newCfg.Scheduler {
		s := newCfg.Scheduler
		mark("scheduler",
			logx.String("scheduler.schedule", s.ScheduleOrDefault()),
			logx.String("scheduler.timezone", strings.TrimSpace(s.Timezone)),
		)
	}
	if oldCfg.Pipeline != newCfg.Pipeline {
		p := newCfg.Pipeline
		mark("pipeline",
			logx.String("pipeline.extract_timeout", p.ExtractTimeout),
			logx.String("pipeline.send_timeout", p.SendTimeout),
			logx.Int("pipeline.fanout_concurrency", p.FanoutConcurrency),
		)
	}
	if !reflect.DeepEqual(oldCfg.Fetch, newCfg.Fetch) {
		mark("fetch", logx.String("fetch.driver", newCfg.Fetch.Driver))
	}
	if !reflect.DeepEqual(oldCfg.Sources, newCfg.Sources) {
		mark("sources",
			logx.Bool("sources.unity", newCfg.Sources.Unity.On()),
			logx.Bool("sources.fab", newCfg.Sources.Fab.On()),
		)
	}
	if oldCfg.Breaker != newCfg.Breaker {
		mark("breaker", logx.Bool("breaker.enabled", newCfg.Breaker.Enabled))
	}
	if oldCfg.Notifier != newCfg.Notifier {
		mark("notifier",
			logx.Int("notifier.rate_per_sec", newCfg.Notifier.RatePerSec),
			logx.Int("notifier.burst", newCfg.Notifier.Burst),
		)
	}
	if !reflect.DeepEqual(oldCfg.Alerts, newCfg.Alerts) {
		mark("alerts", logx.Int("alerts.chat_count", len(newCfg.Alerts.Chats)))
	}
	if oldCfg.Storage != newCfg.Storage {
		mark("storage",
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.Bool("storage.path_set", strings.TrimSpace(newCfg.Storage.Path) != ""),
		)
	}
	if oldCfg.Observability != newCfg.Observability {
		ob := newCfg.Observability
		mark("observability",
			logx.Bool("observability.enabled", ob.Enabled),
			logx.String("observability.addr", strings.TrimSpace(ob.Addr)),
			logx.Bool("observability.token_set", strings.TrimSpace(ob.Token) != ""),
			logx.Bool("observability.pprof", ob.Pprof),
		)
	}

	sort.Strings(changed)
	var restart []string
	for _, s := range changed {
		if restartOnly[s] {
			restart = append(restart, s)
		}
	}
	return changed, attrs, restart
}
