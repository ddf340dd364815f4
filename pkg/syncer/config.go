package syncer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/pvs"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
)

// Configured registers the sync flags and returns the orchestrator and the
// background poller. With sync-source=auto the local gateway is preferred
// and the cloud API is used when only it has credentials.
func Configured(local *pvs.Client, cloud *sunpower.Client, db storage.Database, live Broadcaster) (*Orchestrator, *Poller) {
	source := lflag.String("sync-source", "auto", "Source polled in the background (auto, local, cloud or none)")
	interval := lflag.Duration("sync-interval", defaultInterval, "Interval between background syncs")
	timeout := lflag.Duration("sync-fetch-timeout", defaultFetchTimeout, "Maximum duration of a single background sync")
	batchSize := lflag.Int("import-batch-size", DefaultBatchSize, "Number of readings committed per batch during historical imports")

	o := New(local, cloud, db, live)
	p := &Poller{}

	lflag.Do(func() {
		o.SetBatchSize(*batchSize)

		src := *source
		if src == "auto" {
			switch {
			case local.Configured():
				src = PollLocal
			case cloud.Configured():
				src = PollCloud
			default:
				src = PollNone
			}
			ctx := context.Background()
			log.Ctx(ctx).DebugContext(ctx, "resolved sync source", slog.String("source", src))
		}
		np, err := NewPoller(o, src, *interval, *timeout)
		if err != nil {
			panic(fmt.Sprintf("invalid sync-source: %v", err))
		}
		*p = *np
	})

	return o, p
}
