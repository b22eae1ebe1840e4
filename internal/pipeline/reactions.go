package pipeline

import (
	"context"

	"mailengine/internal/eventbus"
)

// Watch subscribes to mail:new and enqueues a bounded incremental indexing
// pass for the affected account+folder, per spec §4.7's "new-mail reaction".
// It runs until ctx is cancelled.
func (p *Pipeline) Watch(ctx context.Context) {
	sub := p.bus.Subscribe(eventbus.TopicMailNew)
	for {
		select {
		case <-ctx.Done():
			return
		case payload := <-sub:
			evt, ok := payload.(eventbus.MailNew)
			if !ok {
				continue
			}
			target := []FetchTarget{{AccountID: evt.AccountID, Folder: evt.Folder}}
			if err := p.StartIndexing(ctx, target, incrementalReindexMax); err != nil {
				p.log.Warn("incremental reindex failed", "account", evt.AccountID, "folder", evt.Folder, "error", err)
			}
		}
	}
}
