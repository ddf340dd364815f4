package statuslog

import (
	"fmt"
	"log/slog"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
)

// Configured returns a writer persisting to db along with the minimum level
// of records it should receive.
func Configured(db storage.Database) (*Writer, *slog.LevelVar) {
	level := lflag.String("log-db-level", "warn", "Minimum level of log records persisted to the database")
	buffer := lflag.Int("log-db-buffer", defaultBuffer, "Number of log entries queued before new ones are dropped")
	batch := lflag.Int("log-db-batch", defaultBatchSize, "Number of log entries written per insert")
	flush := lflag.Duration("log-db-flush", defaultFlushInterval, "Maximum time a log entry waits before being written")

	w := &Writer{}
	lvl := new(slog.LevelVar)

	lflag.Do(func() {
		var l slog.Level
		if err := l.UnmarshalText([]byte(*level)); err != nil {
			panic(fmt.Sprintf("invalid log-db-level %q: %v", *level, err))
		}
		lvl.Set(l)
		w.init(db, Options{
			Buffer:        *buffer,
			BatchSize:     *batch,
			FlushInterval: *flush,
		})
	})

	return w, lvl
}
