package usecase

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/atvirokodosprendimai/surveysync/internal/core/domain"
	"github.com/atvirokodosprendimai/surveysync/internal/core/ports"
)

type ConnectivityMonitorConfig struct {
	Prober ports.Prober
	// Signal is optional; when it reports unreachable no probe is sent.
	Signal       ports.NetworkSignal
	Events       *EventBus
	Clock        ports.Scheduler
	Logger       *slog.Logger
	Interval     time.Duration // default 5s
	ProbeTimeout time.Duration // default 3s
	// Threshold is the number of consecutive observations a new state must
	// hold before a transition is emitted (default 2).
	Threshold int
}

// ConnectivityMonitor combines a passive reachability signal with an active
// heartbeat probe and emits debounced online/offline transitions.
type ConnectivityMonitor struct {
	prober       ports.Prober
	signal       ports.NetworkSignal
	events       *EventBus
	clock        ports.Scheduler
	logger       *slog.Logger
	interval     time.Duration
	probeTimeout time.Duration
	threshold    int

	reachable atomic.Bool
	kick      chan struct{}
	probeMu   sync.Mutex

	mu        sync.Mutex
	online    bool
	candidate bool
	streak    int
	nextSubID int
	subs      map[int]func(bool)

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var _ ports.ConnectivityMonitor = (*ConnectivityMonitor)(nil)

func NewConnectivityMonitor(cfg ConnectivityMonitorConfig) *ConnectivityMonitor {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 3 * time.Second
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 2
	}
	if cfg.Clock == nil {
		cfg.Clock = WallClock{}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	m := &ConnectivityMonitor{
		prober:       cfg.Prober,
		signal:       cfg.Signal,
		events:       cfg.Events,
		clock:        cfg.Clock,
		logger:       cfg.Logger,
		interval:     cfg.Interval,
		probeTimeout: cfg.ProbeTimeout,
		threshold:    cfg.Threshold,
		kick:         make(chan struct{}, 1),
		subs:         make(map[int]func(bool)),
	}
	m.reachable.Store(true)
	return m
}

func (m *ConnectivityMonitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

func (m *ConnectivityMonitor) Subscribe(fn func(online bool)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSubID
	m.nextSubID++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// SetReachable records a passive reachability change from the host and
// schedules an immediate probe. The state itself still changes only through
// debounced observations.
func (m *ConnectivityMonitor) SetReachable(reachable bool) {
	m.reachable.Store(reachable)
	select {
	case m.kick <- struct{}{}:
	default:
	}
}

// Prime takes one undebounced reading. It is used at startup so SyncState
// begins from the monitor's current view instead of a default.
func (m *ConnectivityMonitor) Prime(ctx context.Context) bool {
	observed := m.observe(ctx)
	m.mu.Lock()
	changed := m.online != observed
	m.online = observed
	m.streak = 0
	m.mu.Unlock()
	if changed {
		m.announce(ctx, observed)
	}
	return observed
}

// Check runs one probe and feeds it into the debounce window. It reports the
// current (possibly unchanged) state.
func (m *ConnectivityMonitor) Check(ctx context.Context) bool {
	m.probeMu.Lock()
	defer m.probeMu.Unlock()

	observed := m.observe(ctx)

	m.mu.Lock()
	if observed == m.online {
		m.streak = 0
		m.mu.Unlock()
		return observed
	}
	if m.streak == 0 || m.candidate != observed {
		m.candidate = observed
		m.streak = 1
	} else {
		m.streak++
	}
	changed := m.streak >= m.threshold
	if changed {
		m.online = observed
		m.streak = 0
	}
	current := m.online
	m.mu.Unlock()

	if changed {
		m.announce(ctx, current)
	}
	return current
}

func (m *ConnectivityMonitor) observe(ctx context.Context) bool {
	if !m.reachable.Load() {
		return false
	}
	if m.signal != nil && !m.signal.Reachable() {
		return false
	}
	if m.prober == nil {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	if err := m.prober.Probe(probeCtx); err != nil {
		m.logger.Debug("heartbeat probe failed", "error", err)
		return false
	}
	return true
}

func (m *ConnectivityMonitor) announce(ctx context.Context, online bool) {
	m.logger.Info("connectivity changed", "online", online)

	m.events.Emit(ctx, domain.Event{
		Type:   domain.EventConnectivityChange,
		At:     m.clock.Now(),
		Online: &online,
	})

	m.mu.Lock()
	subs := make([]func(bool), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn(online)
	}
}

func (m *ConnectivityMonitor) Start(parent context.Context) {
	m.runMu.Lock()
	defer m.runMu.Unlock()
	if m.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(parent)
	m.cancel = cancel
	m.Prime(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

func (m *ConnectivityMonitor) Close() error {
	m.runMu.Lock()
	cancel := m.cancel
	m.cancel = nil
	m.runMu.Unlock()
	if cancel != nil {
		cancel()
	}
	m.wg.Wait()
	return nil
}

func (m *ConnectivityMonitor) loop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		case <-m.kick:
		}
		m.Check(ctx)
	}
}
