package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// Poll sources.
const (
	PollLocal = "local"
	PollCloud = "cloud"
	PollNone  = "none"
)

const (
	defaultInterval     = 300 * time.Second
	defaultFetchTimeout = time.Minute
)

// Poller runs a sync against one source on a fixed interval.
type Poller struct {
	o        *Orchestrator
	source   string
	interval time.Duration
	timeout  time.Duration
}

// NewPoller returns a poller syncing source every interval. Each sync is
// bounded by timeout.
func NewPoller(o *Orchestrator, source string, interval, timeout time.Duration) (*Poller, error) {
	switch source {
	case PollLocal, PollCloud, PollNone:
	default:
		return nil, fmt.Errorf("unknown sync source %q (must be local, cloud or none)", source)
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	if timeout <= 0 {
		timeout = defaultFetchTimeout
	}
	return &Poller{o: o, source: source, interval: interval, timeout: timeout}, nil
}

// Source returns the source being polled.
func (p *Poller) Source() string {
	return p.source
}

// Run syncs immediately and then every interval until ctx is cancelled.
func (p *Poller) Run(ctx context.Context) error {
	if p.source == PollNone {
		log.Ctx(ctx).InfoContext(ctx, "background sync disabled")
		<-ctx.Done()
		return nil
	}
	log.Ctx(ctx).InfoContext(ctx, "starting background sync", slog.String("source", p.source), slog.Duration("interval", p.interval))

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Ctx(ctx).InfoContext(ctx, "stopping background sync")
			return nil
		case <-ticker.C:
			p.runOnce(ctx)
		}
	}
}

func (p *Poller) runOnce(ctx context.Context) types.SyncResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	var res types.SyncResult
	switch p.source {
	case PollLocal:
		res, _ = p.o.SyncLocal(ctx)
	case PollCloud:
		res, _ = p.o.SyncCloud(ctx)
	}
	// failures are logged and recorded by the orchestrator
	return res
}
