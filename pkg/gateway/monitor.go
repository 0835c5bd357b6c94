package gateway

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/sony/gobreaker/v2"
)

// MonitorStatus is the coarse health of the gateway as observed by a Monitor.
type MonitorStatus string

const (
	MonitorStopped   MonitorStatus = "stopped"
	MonitorStarting  MonitorStatus = "starting"
	MonitorRunning   MonitorStatus = "running"
	MonitorUnhealthy MonitorStatus = "unhealthy"
)

// StatusChange is delivered to the Monitor's change callback on every
// status transition.
type StatusChange struct {
	Status    MonitorStatus
	Message   string
	Timestamp time.Time
}

// healthProber is the slice of the client the monitor needs.
type healthProber interface {
	Health(ctx context.Context) (*HealthStatus, error)
}

// Default monitor settings.
const (
	defaultProbeInterval  = 30 * time.Second
	defaultProbeTimeout   = 5 * time.Second
	defaultProbeThreshold = 3
)

// Monitor periodically probes the gateway's health RPC and reports status
// transitions. Consecutive probe failures are tracked by a circuit breaker:
// when it opens the gateway is considered unhealthy, and a successful probe
// in the half-open state marks it running again.
type Monitor struct {
	probe     healthProber
	interval  time.Duration
	timeout   time.Duration
	threshold uint32
	onChange  func(StatusChange)
	logger    *slog.Logger

	breaker *gobreaker.CircuitBreaker[*HealthStatus]

	mu      sync.Mutex
	status  MonitorStatus
	running bool
	done    chan struct{}
}

// MonitorOption configures a Monitor.
type MonitorOption func(*Monitor)

// WithProbeInterval sets how often the health RPC is issued.
func WithProbeInterval(d time.Duration) MonitorOption {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithProbeThreshold sets how many consecutive failures mark the gateway
// unhealthy.
func WithProbeThreshold(n uint32) MonitorOption {
	return func(m *Monitor) {
		if n > 0 {
			m.threshold = n
		}
	}
}

// WithStatusHandler installs the status-change callback.
func WithStatusHandler(fn func(StatusChange)) MonitorOption {
	return func(m *Monitor) { m.onChange = fn }
}

// WithMonitorLogger sets a custom slog.Logger.
func WithMonitorLogger(logger *slog.Logger) MonitorOption {
	return func(m *Monitor) { m.logger = logger }
}

// NewMonitor creates a health monitor probing the given client.
func NewMonitor(client *Client, opts ...MonitorOption) *Monitor {
	return newMonitor(client, opts...)
}

func newMonitor(probe healthProber, opts ...MonitorOption) *Monitor {
	m := &Monitor{
		probe:     probe,
		interval:  defaultProbeInterval,
		timeout:   defaultProbeTimeout,
		threshold: defaultProbeThreshold,
		logger:    slog.Default(),
		status:    MonitorStopped,
	}
	for _, opt := range opts {
		opt(m)
	}

	m.breaker = gobreaker.NewCircuitBreaker[*HealthStatus](gobreaker.Settings{
		Name:        "gateway-health",
		MaxRequests: 1, // allow 1 probe in half-open state
		Timeout:     m.interval,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= m.threshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			m.logger.Warn("gateway health breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
	})
	return m
}

// Status returns the last observed gateway status.
func (m *Monitor) Status() MonitorStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Start launches the probe loop. Calling Start on a running monitor is a
// no-op.
func (m *Monitor) Start() {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	m.running = true
	m.done = make(chan struct{})
	done := m.done
	m.mu.Unlock()

	m.setStatus(MonitorStarting, "monitor started")
	go m.loop(done)
}

// Stop halts the probe loop. Idempotent.
func (m *Monitor) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	close(m.done)
	m.mu.Unlock()

	m.setStatus(MonitorStopped, "monitor stopped")
}

func (m *Monitor) loop(done chan struct{}) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			m.probeOnce()
		}
	}
}

func (m *Monitor) probeOnce() {
	_, err := m.breaker.Execute(func() (*HealthStatus, error) {
		ctx, cancel := context.WithTimeout(context.Background(), m.timeout)
		defer cancel()
		return m.probe.Health(ctx)
	})

	switch {
	case err == nil:
		m.setStatus(MonitorRunning, "gateway healthy")
	case m.breaker.State() == gobreaker.StateOpen:
		m.setStatus(MonitorUnhealthy, "gateway not responding")
	default:
		m.logger.Debug("gateway health probe failed", "error", err)
	}
}

func (m *Monitor) setStatus(status MonitorStatus, message string) {
	m.mu.Lock()
	if m.status == status {
		m.mu.Unlock()
		return
	}
	m.status = status
	onChange := m.onChange
	m.mu.Unlock()

	m.logger.Info("gateway status", "status", string(status), "message", message)
	if onChange != nil {
		onChange(StatusChange{Status: status, Message: message, Timestamp: time.Now()})
	}
}
