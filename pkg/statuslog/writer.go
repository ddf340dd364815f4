// Package statuslog persists application log records through a bounded
// queue drained by a single consumer goroutine.
package statuslog

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/metrics"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

// Options tune the writer. Zero values fall back to the defaults.
type Options struct {
	// Buffer is the capacity of the queue.
	Buffer int
	// BatchSize is the number of entries written per insert.
	BatchSize int
	// FlushInterval bounds how long an entry waits in a partial batch.
	FlushInterval time.Duration
	// WriteTimeout bounds each insert.
	WriteTimeout time.Duration
}

const (
	defaultBuffer        = 1000
	defaultBatchSize     = 100
	defaultFlushInterval = 5 * time.Second
	defaultWriteTimeout  = 10 * time.Second
)

// Writer queues log entries and writes them to the database in batches.
// Emit never blocks: when the queue is full the entry is dropped and counted.
type Writer struct {
	db   storage.Database
	opts Options

	entries chan types.LogEntry
	closing chan struct{}
	done    chan struct{}

	drainCtx    context.Context
	cancelDrain context.CancelFunc

	closed    atomic.Bool
	closeOnce sync.Once
	dropped   atomic.Int64

	// fallback receives write failures. It must not feed back into the writer.
	fallback *slog.Logger
}

// New starts a writer that persists to db.
func New(db storage.Database, opts Options) *Writer {
	w := &Writer{}
	w.init(db, opts)
	return w
}

func (w *Writer) init(db storage.Database, opts Options) {
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = defaultBatchSize
	}
	if opts.FlushInterval <= 0 {
		opts.FlushInterval = defaultFlushInterval
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	w.db = db
	w.opts = opts
	w.entries = make(chan types.LogEntry, opts.Buffer)
	w.closing = make(chan struct{})
	w.done = make(chan struct{})
	w.drainCtx, w.cancelDrain = context.WithCancel(context.Background())
	w.fallback = slog.New(log.NewJSONHandler())

	go w.run()
}

// Emit queues e. It reports false if the entry was dropped.
func (w *Writer) Emit(e types.LogEntry) bool {
	if w.closed.Load() {
		w.drop(1)
		return false
	}
	select {
	case w.entries <- e:
		return true
	default:
		w.drop(1)
		return false
	}
}

// Dropped returns the number of entries that were never persisted.
func (w *Writer) Dropped() int64 {
	return w.dropped.Load()
}

func (w *Writer) drop(n int) {
	w.dropped.Add(int64(n))
	metrics.AddLogEntriesDropped(n)
}

// Close stops accepting entries and waits for the queue to drain. If ctx
// expires first the remaining entries are dropped and ctx's error returned.
func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		w.closed.Store(true)
		close(w.closing)
	})

	var err error
	select {
	case <-w.done:
	case <-ctx.Done():
		w.cancelDrain()
		<-w.done
		err = ctx.Err()
	}
	// anything that raced in after the drain finished
	w.drop(len(w.entries))
	return err
}

func (w *Writer) run() {
	defer close(w.done)

	ticker := time.NewTicker(w.opts.FlushInterval)
	defer ticker.Stop()

	batch := make([]types.LogEntry, 0, w.opts.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		w.write(batch)
		batch = make([]types.LogEntry, 0, w.opts.BatchSize)
	}

	for {
		select {
		case e := <-w.entries:
			batch = append(batch, e)
			if len(batch) >= w.opts.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.closing:
			for {
				select {
				case e := <-w.entries:
					batch = append(batch, e)
					if len(batch) >= w.opts.BatchSize {
						flush()
					}
				default:
					flush()
					return
				}
			}
		}
	}
}

func (w *Writer) write(batch []types.LogEntry) {
	if w.drainCtx.Err() != nil {
		w.drop(len(batch))
		return
	}
	ctx, cancel := context.WithTimeout(w.drainCtx, w.opts.WriteTimeout)
	defer cancel()

	if err := w.db.InsertLogEntries(ctx, batch); err != nil {
		w.fallback.ErrorContext(ctx, "failed to persist log entries", slog.Int("count", len(batch)), slog.Any("error", err))
		w.drop(len(batch))
		return
	}
	metrics.AddLogEntriesWritten(len(batch))
}
