package observability

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	logx "assetsy/pkg/logx"
)

// NotifyReady tells systemd startup is complete. Outside systemd it is a no-op.
func NotifyReady(log logx.Logger) { notify(log, daemon.SdNotifyReady) }

// NotifyStopping tells systemd shutdown has begun.
func NotifyStopping(log logx.Logger) { notify(log, daemon.SdNotifyStopping) }

func notify(log logx.Logger, state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// RunWatchdog pings the systemd watchdog at half the configured interval
// while healthy reports true. It returns immediately when the watchdog is not
// enabled for this process.
func RunWatchdog(ctx context.Context, log logx.Logger, healthy func() bool) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil || interval <= 0 {
		return
	}
	t := time.NewTicker(interval / 2)
	defer t.Stop()
	log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if healthy != nil && !healthy() {
				log.Warn("skipping watchdog ping: unhealthy")
				continue
			}
			_, _ = daemon.SdNotify(false, daemon.SdNotifyWatchdog)
		}
	}
}
