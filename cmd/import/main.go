package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/config"
	"github.com/solaranalyzer/solaranalyzer/pkg/live"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/pvs"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/syncer"
)

const dateLayout = "2006-01-02"

func parseDate(name, v string, def time.Time) time.Time {
	if v == "" {
		return def
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		t, err = time.Parse(dateLayout, v)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -%s %q: expected YYYY-MM-DD or RFC 3339\n", name, v)
		os.Exit(2)
	}
	return t
}

func main() {
	sources := config.Configured()
	local := pvs.Configured(sources)
	cloud := sunpower.Configured(sources)
	s := storage.Configured()
	o, _ := syncer.Configured(local, cloud, s, live.NewManager(0))

	start := lflag.String("start", "", "Start of the import (YYYY-MM-DD or RFC 3339, default 30 days ago)")
	end := lflag.String("end", "", "End of the import (YYYY-MM-DD or RFC 3339, default now)")
	interval := lflag.String("interval", "hour", "Series interval (hour, day, week or month)")
	lflag.Configure()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer s.Close()

	if !cloud.Configured() {
		log.Ctx(ctx).ErrorContext(ctx, "sunpower-access-token and sunpower-site-key are required")
		os.Exit(1)
	}

	now := time.Now()
	to := parseDate("end", *end, now)
	from := parseDate("start", *start, to.AddDate(0, 0, -30))

	log.Ctx(ctx).InfoContext(
		ctx,
		"importing historical data",
		slog.Time("start", from),
		slog.Time("end", to),
		slog.String("interval", *interval),
	)
	res, err := o.ImportHistory(ctx, from, to, *interval)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "import failed", slog.Any("error", err))
		os.Exit(1)
	}
	fmt.Printf("Import %s: %d imported, %d stored, %d duplicates, %d skipped in %d batches\n",
		res.State, res.Imported, res.ReadingsInserted, res.Duplicates, res.Skipped, res.Batches)
}
