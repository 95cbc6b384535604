package scheduler

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// 5 or 6 fields (leading seconds), plus descriptors such as @hourly.
var cronParser = cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Schedule is a validated trigger: either a cron expression or a fixed
// interval.
type Schedule struct {
	Expr  string        // cron expression, empty for intervals
	Every time.Duration // interval, zero for cron
	next  cron.Schedule
}

func (s Schedule) IsInterval() bool { return s.Every > 0 }

func (s Schedule) String() string {
	if s.IsInterval() {
		return "every " + s.Every.String()
	}
	return s.Expr
}

// ParseSchedule understands
//
//	"*/5 * * * *", "0 */2 * * * *", "@hourly", "@every 55m"  cron
//	"1m", "2h30m"                                            interval
//	"00:50", "02:30"                                         interval as HH:MM
//
// A "cron:", "interval:" or "every:" prefix skips the guessing.
func ParseSchedule(raw string) (Schedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return Schedule{}, fmt.Errorf("schedule required")
	}
	low := strings.ToLower(s)
	switch {
	case strings.HasPrefix(low, "cron:"):
		return parseCron(strings.TrimSpace(s[len("cron:"):]))
	case strings.HasPrefix(low, "interval:"):
		return parseEvery(strings.TrimSpace(s[len("interval:"):]))
	case strings.HasPrefix(low, "every:"):
		return parseEvery(strings.TrimSpace(s[len("every:"):]))
	case strings.HasPrefix(s, "@"), strings.ContainsAny(s, " \t"):
		return parseCron(s)
	}
	sc, err := parseEvery(s)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid schedule %q: want cron ('*/5 * * * *'), HH:MM ('02:30') or a duration ('1m')", raw)
	}
	return sc, nil
}

func parseCron(expr string) (Schedule, error) {
	if expr == "" {
		return Schedule{}, fmt.Errorf("empty cron expression")
	}
	next, err := cronParser.Parse(expr)
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid cron %q: %w", expr, err)
	}
	return Schedule{Expr: expr, next: next}, nil
}

func parseEvery(v string) (Schedule, error) {
	d, err := hhmm(v)
	if err != nil {
		d, err = time.ParseDuration(v)
	}
	if err != nil {
		return Schedule{}, fmt.Errorf("invalid interval %q", v)
	}
	if d <= 0 {
		return Schedule{}, fmt.Errorf("interval %q must be positive", v)
	}
	return Schedule{Every: d, next: cron.Every(d)}, nil
}

// hhmm reads "H:MM" up to "HHH:MM".
func hhmm(v string) (time.Duration, error) {
	h, m, ok := strings.Cut(v, ":")
	if !ok || len(h) == 0 || len(h) > 3 || len(m) != 2 {
		return 0, fmt.Errorf("not HH:MM")
	}
	hours, err := strconv.ParseUint(h, 10, 16)
	if err != nil {
		return 0, err
	}
	mins, err := strconv.ParseUint(m, 10, 8)
	if err != nil || mins > 59 {
		return 0, fmt.Errorf("bad minutes in %q", v)
	}
	return time.Duration(hours)*time.Hour + time.Duration(mins)*time.Minute, nil
}
