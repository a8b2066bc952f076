package senses

import (
	"sync"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"

	"driftwatch/internal/logging"
	"driftwatch/internal/types"
)

// Ingester is the slice of the engine the idle sense needs
type Ingester interface {
	Ingest(events []types.Event) int
}

// IdleSense watches host CPU usage as a proxy for the user stepping away.
// Browser-side idle events only cover the focused tab; a quiet machine means
// nobody is at the keyboard at all, so sustained low CPU emits synthetic idle
// events that feed the active-time split.
type IdleSense struct {
	ingester Ingester

	pollInterval  time.Duration // how often to sample CPU (default 30s)
	idleThreshold float64       // CPU % below which the host counts as quiet (default 5%)
	idleAfter     time.Duration // how long quiet before reporting idle (default 2m)

	mu         sync.Mutex
	cpuHistory []float64
	quietSince time.Time
	idle       bool
	lastReport time.Time

	stopChan chan struct{}
	running  bool
}

// NewIdleSense creates an idle watcher feeding the given ingester
func NewIdleSense(ing Ingester) *IdleSense {
	return &IdleSense{
		ingester:      ing,
		pollInterval:  30 * time.Second,
		idleThreshold: 5.0,
		idleAfter:     2 * time.Minute,
		stopChan:      make(chan struct{}),
	}
}

// Start begins sampling
func (s *IdleSense) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	s.mu.Unlock()

	go s.watchLoop()
	logging.Info("idle-sense", "started (poll=%v, quiet<%.0f%%, idle after %v)",
		s.pollInterval, s.idleThreshold, s.idleAfter)
}

// Stop halts sampling
func (s *IdleSense) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		close(s.stopChan)
		s.running = false
	}
}

func (s *IdleSense) watchLoop() {
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopChan:
			return
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *IdleSense) poll() {
	percents, err := cpu.Percent(0, false)
	if err != nil || len(percents) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Keep the last 3 readings and decide on the average
	s.cpuHistory = append(s.cpuHistory, percents[0])
	if len(s.cpuHistory) > 3 {
		s.cpuHistory = s.cpuHistory[1:]
	}
	if len(s.cpuHistory) < 3 {
		return
	}

	var sum float64
	for _, v := range s.cpuHistory {
		sum += v
	}
	avg := sum / float64(len(s.cpuHistory))
	now := time.Now()

	if avg >= s.idleThreshold {
		if s.idle {
			logging.Debug("idle-sense", "host active again (avg CPU %.1f%%)", avg)
		}
		s.idle = false
		s.quietSince = time.Time{}
		return
	}

	if s.quietSince.IsZero() {
		s.quietSince = now
		return
	}
	if now.Sub(s.quietSince) < s.idleAfter {
		return
	}

	// Report at most once per poll interval while idle
	if s.idle && now.Sub(s.lastReport) < s.pollInterval {
		return
	}
	if !s.idle {
		logging.Debug("idle-sense", "host idle (avg CPU %.1f%% for %v)", avg, now.Sub(s.quietSince))
	}
	s.idle = true
	s.lastReport = now

	s.ingester.Ingest([]types.Event{{
		Type:      types.EventIdle,
		Timestamp: now,
		TabID:     "host",
		SessionID: "host",
		Payload: map[string]any{
			types.PayloadIdleSeconds: s.pollInterval.Seconds(),
		},
	}})
}
