package usecase

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"SwapQuote/internal/domain/models"
	domrepo "SwapQuote/internal/domain/repository"
	"SwapQuote/internal/service/resilience"
	"SwapQuote/pkg/logger"
	"SwapQuote/pkg/metrics"
)

var (
	ErrDuplicateService = errors.New("health service already registered")
	errProbeTimeout     = errors.New("probe timed out")
)

// MonitorConfig holds the health check cadence and degradation thresholds.
type MonitorConfig struct {
	CheckInterval    time.Duration
	Timeout          time.Duration
	LatencyThreshold time.Duration
	ErrorThreshold   float64
}

func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		CheckInterval:    10 * time.Second,
		Timeout:          5 * time.Second,
		LatencyThreshold: 2 * time.Second,
		ErrorThreshold:   0.1,
	}
}

func (c MonitorConfig) withDefaults() MonitorConfig {
	d := DefaultMonitorConfig()
	if c.CheckInterval <= 0 {
		c.CheckInterval = d.CheckInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = d.Timeout
	}
	if c.LatencyThreshold <= 0 {
		c.LatencyThreshold = d.LatencyThreshold
	}
	if c.ErrorThreshold <= 0 {
		c.ErrorThreshold = d.ErrorThreshold
	}
	return c
}

// HealthListener receives every completed SystemHealth snapshot.
type HealthListener func(models.SystemHealth)

type monitoredService struct {
	name     string
	check    domrepo.HealthChecker
	critical bool
	errors   int
	total    int
}

// HealthMonitor periodically probes registered services and derives a
// system-wide verdict.
type HealthMonitor struct {
	cfg       MonitorConfig
	breakers  *resilience.Registry
	publisher domrepo.HealthPublisher
	log       *logger.Logger
	metrics   domrepo.Metrics
	now       func() time.Time

	mu         sync.Mutex
	services   []*monitoredService
	latest     *models.SystemHealth
	lastStatus models.HealthStatus
	listeners  map[int]HealthListener
	nextID     int

	cycleMu sync.Mutex

	lifeMu  sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

type MonitorOption func(*HealthMonitor)

func WithMonitorLogger(l *logger.Logger) MonitorOption {
	return func(m *HealthMonitor) {
		if l != nil {
			m.log = l
		}
	}
}

func WithMonitorMetrics(r domrepo.Metrics) MonitorOption {
	return func(m *HealthMonitor) {
		if r != nil {
			m.metrics = r
		}
	}
}

func WithMonitorClock(now func() time.Time) MonitorOption {
	return func(m *HealthMonitor) {
		if now != nil {
			m.now = now
		}
	}
}

// WithHealthPublisher ships a snapshot every time the overall status changes.
func WithHealthPublisher(p domrepo.HealthPublisher) MonitorOption {
	return func(m *HealthMonitor) { m.publisher = p }
}

// NewHealthMonitor creates a monitor. Breaker state is read from registry,
// which may be nil.
func NewHealthMonitor(cfg MonitorConfig, registry *resilience.Registry, opts ...MonitorOption) *HealthMonitor {
	m := &HealthMonitor{
		cfg:       cfg.withDefaults(),
		breakers:  registry,
		log:       logger.NewNop(),
		metrics:   metrics.Nop{},
		now:       time.Now,
		listeners: make(map[int]HealthListener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register adds a probe. Services are reported in registration order.
func (m *HealthMonitor) Register(name string, check domrepo.HealthChecker, critical bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.services {
		if s.name == name {
			return fmt.Errorf("%w: %s", ErrDuplicateService, name)
		}
	}
	m.services = append(m.services, &monitoredService{name: name, check: check, critical: critical})
	return nil
}

// Subscribe adds a listener and returns a function that removes it.
func (m *HealthMonitor) Subscribe(fn HealthListener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.listeners, id)
			m.mu.Unlock()
		})
	}
}

// Latest returns the last completed snapshot.
func (m *HealthMonitor) Latest() (models.SystemHealth, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.latest == nil {
		return models.SystemHealth{}, false
	}
	return cloneHealth(*m.latest), true
}

type probeOutcome struct {
	result models.ProbeResult
	err    error
	took   time.Duration
}

// Check runs one monitoring cycle. It never fails; probe errors end up in
// the per-service snapshot. A cycle cut short by ctx is discarded.
func (m *HealthMonitor) Check(ctx context.Context) models.SystemHealth {
	m.cycleMu.Lock()
	defer m.cycleMu.Unlock()

	m.mu.Lock()
	services := make([]*monitoredService, len(m.services))
	copy(services, m.services)
	m.mu.Unlock()

	outcomes := make([]probeOutcome, len(services))
	var wg sync.WaitGroup
	for i, s := range services {
		wg.Add(1)
		go func(i int, s *monitoredService) {
			defer wg.Done()
			outcomes[i] = m.probe(ctx, s)
		}(i, s)
	}
	wg.Wait()

	// an aborted cycle says nothing about the services
	if ctx.Err() != nil {
		latest, _ := m.Latest()
		return latest
	}

	now := m.now()
	health := models.SystemHealth{
		Services:  make([]models.ServiceHealth, 0, len(services)),
		Timestamp: now,
	}

	m.mu.Lock()
	for i, s := range services {
		health.Services = append(health.Services, m.classifyLocked(s, outcomes[i], now))
	}
	health.Status = aggregateStatus(health.Services)
	health.Recommendations = m.recommend(health.Services)

	prev := m.lastStatus
	snap := cloneHealth(health)
	m.latest = &snap
	m.lastStatus = health.Status
	listeners := make([]HealthListener, 0, len(m.listeners))
	for _, l := range m.listeners {
		listeners = append(listeners, l)
	}
	m.mu.Unlock()

	for _, sh := range health.Services {
		m.metrics.RecordServiceHealth(sh.Name, sh.Status)
	}
	m.metrics.RecordSystemHealth(health.Status)

	if prev != health.Status {
		m.onStatusChange(ctx, prev, health)
	}
	for _, l := range listeners {
		m.notify(l, cloneHealth(health))
	}
	return health
}

func (m *HealthMonitor) probe(ctx context.Context, s *monitoredService) probeOutcome {
	pctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	defer cancel()

	started := time.Now()
	done := make(chan probeOutcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: fmt.Errorf("probe panic: %v", r)}
			}
		}()
		res, err := s.check(pctx)
		done <- probeOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		out.took = time.Since(started)
		return out
	case <-pctx.Done():
		return probeOutcome{err: errProbeTimeout, took: time.Since(started)}
	}
}

func (m *HealthMonitor) classifyLocked(s *monitoredService, out probeOutcome, now time.Time) models.ServiceHealth {
	failed := out.err != nil || !out.result.OK
	s.total++
	if failed {
		s.errors++
	}
	rate := float64(s.errors) / float64(s.total)

	latency := out.result.LatencyMs
	if latency <= 0 {
		latency = out.took.Milliseconds()
	}

	sh := models.ServiceHealth{
		Name:          s.name,
		Critical:      s.critical,
		LatencyMs:     latency,
		LastCheckedAt: now,
		ErrorRate:     rate,
		Message:       out.result.Message,
	}
	if out.err != nil {
		sh.Message = out.err.Error()
	}
	if m.breakers != nil {
		if cb, ok := m.breakers.Lookup(s.name); ok {
			sh.CircuitState = string(cb.State())
		}
	}

	switch {
	case failed || rate > 0.5:
		sh.Status = models.StatusDown
	case time.Duration(latency)*time.Millisecond > m.cfg.LatencyThreshold || rate > m.cfg.ErrorThreshold:
		sh.Status = models.StatusDegraded
	default:
		sh.Status = models.StatusHealthy
	}
	return sh
}

// aggregateStatus: down if a critical service is down; degraded if a
// critical service is degraded or more than half of all services are not
// healthy; healthy otherwise.
func aggregateStatus(services []models.ServiceHealth) models.HealthStatus {
	unhealthy := 0
	criticalDegraded := false
	for _, s := range services {
		if s.Status == models.StatusHealthy {
			continue
		}
		unhealthy++
		if !s.Critical {
			continue
		}
		if s.Status == models.StatusDown {
			return models.StatusDown
		}
		criticalDegraded = true
	}
	if criticalDegraded || unhealthy*2 > len(services) {
		return models.StatusDegraded
	}
	return models.StatusHealthy
}

func (m *HealthMonitor) recommend(services []models.ServiceHealth) []string {
	var recs []string
	for _, s := range services {
		if s.Status == models.StatusDown {
			if s.Message != "" {
				recs = append(recs, fmt.Sprintf("%s is unavailable: %s", s.Name, s.Message))
			} else {
				recs = append(recs, fmt.Sprintf("%s is unavailable", s.Name))
			}
		}
		if s.CircuitState == string(resilience.StateOpen) {
			recs = append(recs, fmt.Sprintf("%s circuit is open, awaiting automatic reset", s.Name))
		}
		if s.Status != models.StatusDegraded {
			continue
		}
		if limit := m.cfg.LatencyThreshold.Milliseconds(); s.LatencyMs > limit {
			recs = append(recs, fmt.Sprintf("%s latency %dms exceeds %dms threshold", s.Name, s.LatencyMs, limit))
		}
		if s.ErrorRate > m.cfg.ErrorThreshold {
			recs = append(recs, fmt.Sprintf("%s error rate %.1f%% exceeds %.1f%% threshold", s.Name, s.ErrorRate*100, m.cfg.ErrorThreshold*100))
		}
	}
	if len(recs) == 0 {
		recs = append(recs, "All systems operational")
	}
	return recs
}

func (m *HealthMonitor) onStatusChange(ctx context.Context, prev models.HealthStatus, h models.SystemHealth) {
	fields := []logger.Field{
		logger.String("from", string(prev)),
		logger.String("to", string(h.Status)),
		logger.Strings("recommendations", h.Recommendations),
	}
	if h.Status == models.StatusHealthy {
		m.log.Info("system health changed", fields...)
	} else {
		m.log.Warn("system health changed", fields...)
	}

	if m.publisher == nil {
		return
	}
	if err := m.publisher.PublishHealth(ctx, &h); err != nil {
		m.log.Warn("publish system health failed", logger.Error(err))
	}
}

func (m *HealthMonitor) notify(l HealthListener, h models.SystemHealth) {
	defer func() {
		if r := recover(); r != nil {
			m.log.Error("health listener panicked", logger.Any("panic", r))
		}
	}()
	l(h)
}

// Start runs a cycle immediately and then every CheckInterval. Idempotent.
func (m *HealthMonitor) Start(ctx context.Context) error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if m.running {
		return nil
	}
	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.running = true

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.CheckInterval)
		defer ticker.Stop()
		m.Check(loopCtx)
		for {
			select {
			case <-loopCtx.Done():
				return
			case <-ticker.C:
				m.Check(loopCtx)
			}
		}
	}()
	return nil
}

// Stop halts the loop and waits for an in-flight cycle. Safe to call twice.
func (m *HealthMonitor) Stop() {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	if !m.running {
		return
	}
	m.cancel()
	m.wg.Wait()
	m.running = false
}

func cloneHealth(h models.SystemHealth) models.SystemHealth {
	h.Services = append([]models.ServiceHealth(nil), h.Services...)
	h.Recommendations = append([]string(nil), h.Recommendations...)
	return h
}
