package service

import (
	"sync"

	"sensor_monitor/internal/models"
)

// WindowSize is the number of live samples kept for display. It is fixed.
const WindowSize = 10

// Window is a fixed-capacity FIFO of the most recent live samples.
type Window struct {
	mu      sync.RWMutex
	samples []models.LiveSample
}

func NewWindow() *Window {
	return &Window{samples: make([]models.LiveSample, 0, WindowSize)}
}

// Push appends s, evicting the oldest sample when full.
func (w *Window) Push(s models.LiveSample) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == WindowSize {
		copy(w.samples, w.samples[1:])
		w.samples[len(w.samples)-1] = s
		return
	}
	w.samples = append(w.samples, s)
}

// Snapshot returns a copy, oldest first.
func (w *Window) Snapshot() []models.LiveSample {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]models.LiveSample, len(w.samples))
	copy(out, w.samples)
	return out
}

func (w *Window) Len() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.samples)
}
