package pipeline

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"assetsy/internal/core"
	logx "assetsy/pkg/logx"
)

// fanout sends text to every recipient concurrently. Sends are detached from
// run cancellation and bounded by their own timeout; a failed recipient never
// affects the others.
func (p *Pipeline) fanout(ctx context.Context, log logx.Logger, cfg Config, recipients []core.Subscriber, text string) (delivered, failed int) {
	if len(recipients) == 0 {
		return 0, 0
	}
	base := context.WithoutCancel(ctx)
	outcomes := make([]core.Outcome, len(recipients))

	var g errgroup.Group
	g.SetLimit(cfg.FanoutConcurrency)
	for i, r := range recipients {
		g.Go(func() error {
			sctx, cancel := context.WithTimeout(base, cfg.SendTimeout)
			defer cancel()
			outcomes[i] = p.safeSend(sctx, r, text)
			return nil
		})
	}
	_ = g.Wait()

	for _, o := range outcomes {
		if o.OK() {
			delivered++
			continue
		}
		failed++
		log.Warn("delivery failed", logx.Int64("chat_id", int64(o.Recipient)), logx.Err(o.Err))
	}
	return delivered, failed
}

func (p *Pipeline) safeSend(ctx context.Context, r core.Subscriber, text string) (out core.Outcome) {
	defer func() {
		if rec := recover(); rec != nil {
			out = core.Failed(r, fmt.Errorf("panic in sender: %v", rec))
		}
	}()
	return p.deps.Sender.Send(ctx, r, text)
}
