package collector

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/han-fei/stackmon/stats/internal/models"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

// fakeSubscriber 记录收到的批次
type fakeSubscriber struct {
	id        string
	connected atomic.Bool

	mu      sync.Mutex
	batches [][]models.ContainerStats
	events  []string
}

func newFakeSubscriber(id string) *fakeSubscriber {
	s := &fakeSubscriber{id: id}
	s.connected.Store(true)
	return s
}

func (s *fakeSubscriber) ID() string      { return s.id }
func (s *fakeSubscriber) Connected() bool { return s.connected.Load() }

func (s *fakeSubscriber) Emit(event string, stack string, stats []models.ContainerStats) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event+":"+stack)
	s.batches = append(s.batches, stats)
}

func (s *fakeSubscriber) received() [][]models.ContainerStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]models.ContainerStats, len(s.batches))
	copy(out, s.batches)
	return out
}

func (s *fakeSubscriber) allStats() []models.ContainerStats {
	var out []models.ContainerStats
	for _, b := range s.received() {
		out = append(out, b...)
	}
	return out
}

// shellOptions 用sh脚本充当生产者
func shellOptions(script string) Options {
	return Options{
		Command:        "/bin/sh",
		Args:           []string{"-c", script},
		SweepInterval:  time.Hour,
		IdleInterval:   time.Hour,
		MaxBufferBytes: 1 << 16,
		StopTimeout:    2 * time.Second,
	}
}

func newTestDirectory(t *testing.T, opts Options) (*Directory, *telemetry.Metrics) {
	t.Helper()
	metrics := telemetry.NewMetrics(nil)
	dir := NewDirectory(opts, zap.NewNop(), metrics)
	t.Cleanup(dir.Close)
	return dir, metrics
}
