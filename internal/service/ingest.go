package service

import (
	"context"
	"sync/atomic"
	"time"

	"sensor_monitor/internal/logger"
	"sensor_monitor/internal/models"
	"sensor_monitor/internal/repository"
	"sensor_monitor/internal/timeutil"
)

const drainTimeout = 3 * time.Second

// IngestStats counts what happened to enqueued readings.
type IngestStats struct {
	Written uint64 `json:"written"`
	Failed  uint64 `json:"failed"`
	Dropped uint64 `json:"dropped"`
	Queued  int    `json:"queued"`
}

// IngestService persists live readings through a bounded queue so the
// pipeline never waits on the store.
type IngestService struct {
	readings repository.ReadingRepo
	queue    chan models.Reading
	log      *logger.Logger

	written atomic.Uint64
	failed  atomic.Uint64
	dropped atomic.Uint64
}

func NewIngestService(readings repository.ReadingRepo, queueSize int, log *logger.Logger) *IngestService {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if log == nil {
		log = logger.Nop()
	}
	return &IngestService{
		readings: readings,
		queue:    make(chan models.Reading, queueSize),
		log:      log,
	}
}

// Enqueue hands r to the writer. It never blocks; false means the queue was
// full and r was dropped.
func (s *IngestService) Enqueue(r models.Reading) bool {
	select {
	case s.queue <- r:
		return true
	default:
		s.dropped.Add(1)
		return false
	}
}

// Run writes queued readings until ctx is done, then drains what is left
// within a short deadline.
func (s *IngestService) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			s.drain(ctx)
			return
		case r := <-s.queue:
			s.write(ctx, r)
		}
	}
}

func (s *IngestService) drain(parent context.Context) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), drainTimeout)
	defer cancel()
	for {
		select {
		case r := <-s.queue:
			if ctx.Err() != nil {
				s.dropped.Add(1)
				continue
			}
			s.write(ctx, r)
		default:
			return
		}
	}
}

func (s *IngestService) write(ctx context.Context, r models.Reading) {
	r.Timestamp = timeutil.Canonical(r.Timestamp)
	if _, err := s.readings.Append(ctx, r); err != nil {
		s.failed.Add(1)
		s.log.Errorw("ingest_append_failed", "timestamp", r.Timestamp, "error", err)
		return
	}
	s.written.Add(1)
}

func (s *IngestService) Stats() IngestStats {
	return IngestStats{
		Written: s.written.Load(),
		Failed:  s.failed.Load(),
		Dropped: s.dropped.Load(),
		Queued:  len(s.queue),
	}
}
