package eventbus

import "time"

// Event types published by the change-detection pipeline and its collaborators.
const (
	TypeRunFinished      = "pipeline.run"
	TypeSourceChanged    = "source.changed"
	TypeSourceFailed     = "source.failed"
	TypeBreakerChanged   = "source.breaker"
	TypeNotifyDelivered  = "notify.delivered"
	TypeNotifyFailed     = "notify.failed"
	TypeSubscriptionEdit = "subscription.edit"
)

// RunFinished summarizes one pipeline pass.
type RunFinished struct {
	RunID   string        `json:"run_id"`
	Took    time.Duration `json:"took"`
	Changed int           `json:"changed"`
	Failed  int           `json:"failed"`
	Aborted bool          `json:"aborted,omitempty"`
}

// SourceChanged is published after a changed snapshot was persisted and fanned out.
type SourceChanged struct {
	RunID     string `json:"run_id"`
	Source    string `json:"source"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// SourceFailed is published when a source could not be processed in a run.
type SourceFailed struct {
	RunID  string `json:"run_id"`
	Source string `json:"source"`
	Stage  string `json:"stage"` // "extract" | "store"
	Error  string `json:"error"`
}

// BreakerChanged is published when a source's failure breaker changes state.
type BreakerChanged struct {
	Source   string    `json:"source"`
	From     string    `json:"from"`
	To       string    `json:"to"`
	Failures uint32    `json:"failures"`
	At       time.Time `json:"at"`
}

// SubscriptionEdit is published by the bot front end on subscribe/unsubscribe.
type SubscriptionEdit struct {
	ChatID int64  `json:"chat_id"`
	Source string `json:"source"`
	Action string `json:"action"` // "add" | "remove"
}
