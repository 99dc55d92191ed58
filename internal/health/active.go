package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	defaultInterval           = 30 * time.Second
	defaultTimeout            = 5 * time.Second
	defaultHealthyThreshold   = 1
	defaultUnhealthyThreshold = 3
)

// Prober checks that the upstream API is reachable with the configured credentials.
type Prober interface {
	TestConnection(ctx context.Context) error
}

type Config struct {
	Interval           time.Duration
	Timeout            time.Duration
	HealthyThreshold   int
	UnhealthyThreshold int
}

type Status struct {
	Healthy   bool      `json:"healthy"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Monitor probes the upstream on an interval and flips between healthy and unhealthy
// after consecutive results cross the configured thresholds.
type Monitor struct {
	prober   Prober
	cfg      Config
	onChange func(healthy bool)
	now      func() time.Time

	mu        sync.Mutex
	healthy   bool
	successes int
	failures  int
	lastCheck time.Time
	lastErr   error

	stopOnce sync.Once
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewMonitor starts healthy. onChange is called on every transition.
func NewMonitor(prober Prober, cfg Config, onChange func(healthy bool)) *Monitor {
	if cfg.Interval <= 0 {
		cfg.Interval = defaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.HealthyThreshold <= 0 {
		cfg.HealthyThreshold = defaultHealthyThreshold
	}
	if cfg.UnhealthyThreshold <= 0 {
		cfg.UnhealthyThreshold = defaultUnhealthyThreshold
	}
	return &Monitor{
		prober:   prober,
		cfg:      cfg,
		onChange: onChange,
		now:      time.Now,
		healthy:  true,
	}
}

// Start probes once immediately and then on every interval until Stop or ctx ends.
func (m *Monitor) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.done = make(chan struct{})

	go func() {
		defer close(m.done)
		m.Probe(ctx)

		ticker := time.NewTicker(m.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Probe(ctx)
			}
		}
	}()
}

// Stop ends the probe loop. It matches the server stopper signature.
func (m *Monitor) Stop(ctx context.Context) error {
	if m == nil || m.cancel == nil {
		return nil
	}
	m.stopOnce.Do(m.cancel)
	select {
	case <-m.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Probe runs one check and applies it to the thresholds.
func (m *Monitor) Probe(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()
	err := m.safeProbe(probeCtx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	m.record(err)
	return err
}

func (m *Monitor) safeProbe(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("probe panic: %v", r)
		}
	}()
	if m.prober == nil {
		return errors.New("no prober configured")
	}
	return m.prober.TestConnection(ctx)
}

func (m *Monitor) record(err error) {
	m.mu.Lock()
	m.lastCheck = m.now()
	m.lastErr = err
	changed := false
	if err == nil {
		m.failures = 0
		m.successes++
		if !m.healthy && m.successes >= m.cfg.HealthyThreshold {
			m.healthy = true
			changed = true
		}
	} else {
		m.successes = 0
		m.failures++
		if m.healthy && m.failures >= m.cfg.UnhealthyThreshold {
			m.healthy = false
			changed = true
		}
	}
	healthy := m.healthy
	m.mu.Unlock()

	if changed && m.onChange != nil {
		m.onChange(healthy)
	}
}

func (m *Monitor) Healthy() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.healthy
}

func (m *Monitor) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	status := Status{Healthy: m.healthy, LastCheck: m.lastCheck}
	if m.lastErr != nil {
		status.LastError = m.lastErr.Error()
	}
	return status
}
