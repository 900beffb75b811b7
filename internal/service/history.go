package service

import (
	"context"
	"fmt"
	"time"

	"sensor_monitor/internal/models"
	"sensor_monitor/internal/repository"
	"sensor_monitor/internal/timeutil"
)

type HistoryService struct {
	readings repository.ReadingRepo
	maxRange time.Duration
}

// NewHistoryService returns a query service. maxRange <= 0 disables the
// range length check.
func NewHistoryService(readings repository.ReadingRepo, maxRange time.Duration) *HistoryService {
	return &HistoryService{readings: readings, maxRange: maxRange}
}

// Query returns readings with from <= timestamp <= to, oldest first.
func (s *HistoryService) Query(ctx context.Context, from, to string) ([]models.Reading, error) {
	f, err := timeutil.ParseBound(from, false)
	if err != nil {
		return nil, fmt.Errorf("%w: from: %v", ErrInvalidRange, err)
	}
	t, err := timeutil.ParseBound(to, true)
	if err != nil {
		return nil, fmt.Errorf("%w: to: %v", ErrInvalidRange, err)
	}
	if f.After(t) {
		return nil, fmt.Errorf("%w: from must be <= to", ErrInvalidRange)
	}
	if s.maxRange > 0 && t.Sub(f) > s.maxRange {
		return nil, fmt.Errorf("%w: range exceeds %s", ErrInvalidRange, s.maxRange)
	}

	out, err := s.readings.List(ctx, f, t)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDependency, err)
	}
	if out == nil {
		out = []models.Reading{}
	}
	return out, nil
}
