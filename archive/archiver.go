// Package archive batches accepted visitor events into the ClickHouse
// analytics archive off the request path.
package archive

import (
	"context"
	"sync"
	"time"

	"github.com/geminicodes/MapMyVisitors-Cursor/logging"
	"github.com/geminicodes/MapMyVisitors-Cursor/metrics"
	"github.com/geminicodes/MapMyVisitors-Cursor/models"
)

const (
	DefaultBufferSize    = 4096
	DefaultBatchSize     = 500
	DefaultFlushInterval = 5 * time.Second
)

// Sink persists a batch of archived visits and reports how many were written.
type Sink interface {
	InsertVisitorEvents(ctx context.Context, events []models.ArchivedVisit) (int, error)
}

// Publisher accepts visits for archiving without blocking.
type Publisher interface {
	Publish(v models.ArchivedVisit)
}

type Config struct {
	BufferSize    int
	BatchSize     int
	FlushInterval time.Duration
	WriteTimeout  time.Duration
}

type Archiver struct {
	sink      Sink
	cfg       Config
	eventChan chan models.ArchivedVisit
	stopChan  chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

func NewArchiver(sink Sink, cfg Config) *Archiver {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = DefaultFlushInterval
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}

	a := &Archiver{
		sink:      sink,
		cfg:       cfg,
		eventChan: make(chan models.ArchivedVisit, cfg.BufferSize),
		stopChan:  make(chan struct{}),
	}

	a.wg.Add(1)
	go a.run()

	return a
}

// Publish enqueues v, dropping it when the buffer is full.
func (a *Archiver) Publish(v models.ArchivedVisit) {
	select {
	case <-a.stopChan:
		metrics.ArchiveEventsTotal.WithLabelValues(metrics.ArchiveDropped).Inc()
		return
	default:
	}

	select {
	case a.eventChan <- v:
	default:
		metrics.ArchiveEventsTotal.WithLabelValues(metrics.ArchiveDropped).Inc()
		logging.Warn().Str("event_id", v.ID).Msg("Archive buffer full, dropping visitor event")
	}
}

func (a *Archiver) run() {
	defer a.wg.Done()

	ticker := time.NewTicker(a.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]models.ArchivedVisit, 0, a.cfg.BatchSize)
	for {
		select {
		case <-a.stopChan:
			for {
				select {
				case v := <-a.eventChan:
					batch = append(batch, v)
					if len(batch) >= a.cfg.BatchSize {
						batch = a.flush(batch)
					}
				default:
					a.flush(batch)
					return
				}
			}
		case v := <-a.eventChan:
			batch = append(batch, v)
			if len(batch) >= a.cfg.BatchSize {
				batch = a.flush(batch)
			}
		case <-ticker.C:
			batch = a.flush(batch)
		}
	}
}

func (a *Archiver) flush(batch []models.ArchivedVisit) []models.ArchivedVisit {
	if len(batch) == 0 {
		return batch
	}

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.WriteTimeout)
	defer cancel()

	written, err := a.sink.InsertVisitorEvents(ctx, batch)
	if err != nil {
		written = 0
		logging.Error().Err(err).Int("count", len(batch)).Msg("Failed to archive visitor events")
	}
	written = min(max(written, 0), len(batch))
	if written > 0 {
		metrics.ArchiveEventsTotal.WithLabelValues(metrics.ArchiveWritten).Add(float64(written))
	}
	if failed := len(batch) - written; failed > 0 {
		metrics.ArchiveEventsTotal.WithLabelValues(metrics.ArchiveFailed).Add(float64(failed))
	}
	return batch[:0]
}

// Close flushes buffered events and stops the writer. Safe to call twice.
func (a *Archiver) Close() error {
	a.stopOnce.Do(func() { close(a.stopChan) })
	a.wg.Wait()
	return nil
}

// Noop is used when no archive is configured.
type Noop struct{}

func (Noop) Publish(models.ArchivedVisit) {}
