package pipeline

import (
	"context"
	"time"

	"fleet-monitor/geotrack/internal/domain"
	"fleet-monitor/geotrack/internal/metrics"
	"fleet-monitor/geotrack/internal/monitoring"
)

type EventStore interface {
	BatchInsert(ctx context.Context, events []domain.Event) error
}

// DBWriter batches events into the event store, flushing when the batch is full
// or the flush interval elapses.
type DBWriter struct {
	ch         <-chan domain.Event
	db         EventStore
	batchSize  int
	flushEvery time.Duration
	retryDelay time.Duration
}

func NewDBWriter(
	ch <-chan domain.Event,
	db EventStore,
	batchSize int,
	flushMS int,
) *DBWriter {
	if batchSize <= 0 {
		batchSize = 1
	}
	if flushMS <= 0 {
		flushMS = 1000
	}
	return &DBWriter{
		ch:         ch,
		db:         db,
		batchSize:  batchSize,
		flushEvery: time.Duration(flushMS) * time.Millisecond,
		retryDelay: 500 * time.Millisecond,
	}
}

func (w *DBWriter) Run(ctx context.Context) {
	batch := make([]domain.Event, 0, w.batchSize)
	ticker := time.NewTicker(w.flushEvery)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				w.flush(context.WithoutCancel(ctx), batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = make([]domain.Event, 0, w.batchSize)
			}

		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(ctx, batch)
				batch = make([]domain.Event, 0, w.batchSize)
			}

		case <-ctx.Done():
			w.drain(context.WithoutCancel(ctx), batch)
			return
		}
	}
}

// drain stores batch and every event still buffered in the channel.
func (w *DBWriter) drain(ctx context.Context, batch []domain.Event) {
	for {
		select {
		case ev, ok := <-w.ch:
			if !ok {
				w.flush(ctx, batch)
				return
			}
			batch = append(batch, ev)
			if len(batch) >= w.batchSize {
				w.flush(ctx, batch)
				batch = make([]domain.Event, 0, w.batchSize)
			}
		default:
			w.flush(ctx, batch)
			return
		}
	}
}

func (w *DBWriter) flush(ctx context.Context, batch []domain.Event) {
	if len(batch) == 0 {
		return
	}
	err := w.db.BatchInsert(ctx, batch)
	if err != nil {
		monitoring.Logf("event write failed (batch=%d), retrying: %v", len(batch), err)
		time.Sleep(w.retryDelay)
		err = w.db.BatchInsert(ctx, batch)
		if err != nil {
			monitoring.Logf("event write permanently failed (batch=%d): %v", len(batch), err)
			metrics.DBWriteFailures.Add(int64(len(batch)))
			return
		}
	}
	metrics.DBWriteSuccess.Add(int64(len(batch)))
}
