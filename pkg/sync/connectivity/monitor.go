// Package connectivity maintains the process-wide reachability state the
// sync orchestrator gates its delivery attempts on.
package connectivity

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// coarse link quality
const (
	QUALITY_GOOD    = "good"
	QUALITY_POOR    = "poor"
	QUALITY_OFFLINE = "offline"
)

const (
	DEFAULT_PROBE_INTERVAL         = 30 * time.Second
	DEFAULT_PROBE_TIMEOUT          = 5 * time.Second
	DEFAULT_POOR_LATENCY_THRESHOLD = 1500 * time.Millisecond
)

type State struct {
	Online  bool   `json:"online"`
	Quality string `json:"quality"`
}

// Prober performs one lightweight round-trip against a known endpoint.
type Prober interface {
	Ping(ctx context.Context) (time.Duration, error)
}

type Config struct {
	Prober               Prober
	ProbeInterval        time.Duration
	ProbeTimeout         time.Duration
	PoorLatencyThreshold time.Duration
	Logger               *slog.Logger
}

// Monitor owns the connectivity state and the periodic quality probe. The
// probe task is tied to the monitor's lifecycle: started by Start, stopped by
// Stop, never duplicated.
type Monitor struct {
	prober               Prober
	probeInterval        time.Duration
	probeTimeout         time.Duration
	poorLatencyThreshold time.Duration
	logger               *slog.Logger

	mu       sync.Mutex
	state    State
	onOnline func()

	probing atomic.Bool

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

func NewMonitor(config Config) *Monitor {
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = DEFAULT_PROBE_INTERVAL
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = DEFAULT_PROBE_TIMEOUT
	}
	if config.PoorLatencyThreshold <= 0 {
		config.PoorLatencyThreshold = DEFAULT_POOR_LATENCY_THRESHOLD
	}
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Monitor{
		prober:               config.Prober,
		probeInterval:        config.ProbeInterval,
		probeTimeout:         config.ProbeTimeout,
		poorLatencyThreshold: config.PoorLatencyThreshold,
		logger:               logger,
		state: State{
			Online:  false,
			Quality: QUALITY_OFFLINE,
		},
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// OnOnline registers the callback fired on every offline to online
// transition. The sync orchestrator subscribes here to trigger a drain.
func (m *Monitor) OnOnline(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onOnline = fn
}

func (m *Monitor) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// SetOnline feeds a reachability transition into the monitor, either from an
// OS/link event or from observed request outcomes. An offline to online
// transition notifies the subscriber.
func (m *Monitor) SetOnline(online bool) {
	m.mu.Lock()
	wasOnline := m.state.Online
	m.state.Online = online
	if online {
		if m.state.Quality == QUALITY_OFFLINE {
			m.state.Quality = QUALITY_GOOD
		}
	} else {
		m.state.Quality = QUALITY_OFFLINE
	}
	callback := m.onOnline
	m.mu.Unlock()

	if online && !wasOnline {
		m.logger.Info("connectivity restored")
		if callback != nil {
			callback()
		}
	} else if !online && wasOnline {
		m.logger.Info("connectivity lost")
	}
}

// Start launches the periodic quality probe. Safe to call once per monitor.
func (m *Monitor) Start() {
	m.startOnce.Do(func() {
		go m.run()
	})
}

// Stop halts the probe task and waits for it to finish.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
		<-m.doneCh
	})
}

func (m *Monitor) run() {
	defer close(m.doneCh)

	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			// while online this tracks quality; while offline it doubles as
			// the recovery probe, so a restored link is noticed without a
			// process restart
			m.ProbeQuality(context.Background())
		}
	}
}

// ProbeQuality performs one round-trip and updates the quality. Probe
// failures degrade the state to offline, they never propagate. At most one
// probe is in flight at a time; an overlapping call reports the last known
// quality.
func (m *Monitor) ProbeQuality(ctx context.Context) string {
	if !m.probing.CompareAndSwap(false, true) {
		return m.State().Quality
	}
	defer m.probing.Store(false)

	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()

	latency, err := m.prober.Ping(ctx)
	if err != nil {
		m.logger.Debug("connectivity probe failed", slog.String("error", err.Error()))
		m.SetOnline(false)
		return QUALITY_OFFLINE
	}

	quality := QUALITY_GOOD
	if latency > m.poorLatencyThreshold {
		quality = QUALITY_POOR
	}

	// a successful probe while offline is a recovery; SetOnline notifies
	// the subscriber on the transition
	m.SetOnline(true)

	m.mu.Lock()
	m.state.Quality = quality
	m.mu.Unlock()

	return quality
}
