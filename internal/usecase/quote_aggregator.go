package usecase

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"SwapQuote/internal/domain/models"
	domrepo "SwapQuote/internal/domain/repository"
	"SwapQuote/internal/service/quotecache"
	"SwapQuote/internal/service/resilience"
	"SwapQuote/pkg/logger"
	"SwapQuote/pkg/metrics"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownSource   = errors.New("unknown quote source")
	ErrDuplicateSource = errors.New("quote source already registered")
	ErrInvalidParams   = errors.New("invalid quote params")
	ErrSourceDisabled  = errors.New("quote source disabled")
)

var bpsScale = decimal.NewFromInt(10000)

// NoQuoteError means every queried source failed or was skipped.
// Failures holds the per-source reason and is not part of Error().
type NoQuoteError struct {
	Failures map[string]error
}

func (e *NoQuoteError) Error() string {
	if len(e.Failures) == 0 {
		return "no quote source reachable: none enabled"
	}
	return fmt.Sprintf("no quote source reachable (%d attempted)", len(e.Failures))
}

// SourceConfig registers one quote source.
type SourceConfig struct {
	Name        string
	Priority    int
	Enabled     bool
	Fetch       domrepo.QuoteFetcher
	ProbePair   quotecache.Pair
	ProbeAmount decimal.Decimal
}

// AggregatorConfig holds settings shared by all sources.
type AggregatorConfig struct {
	FetchTimeout time.Duration
	Retry        resilience.RetryConfig
	Cache        quotecache.Config
}

type source struct {
	desc        models.SourceDescriptor
	fetch       domrepo.QuoteFetcher
	cache       *quotecache.Cache
	breaker     *resilience.CircuitBreaker
	probePair   quotecache.Pair
	probeAmount decimal.Decimal
}

// QuoteAggregator fans quote requests out to every enabled source and ranks
// the answers.
type QuoteAggregator struct {
	cfg      AggregatorConfig
	breakers *resilience.Registry
	retry    *resilience.RetryPolicy
	store    domrepo.SnapshotStore
	log      *logger.Logger
	metrics  domrepo.Metrics
	now      func() time.Time
	cacheOpt []quotecache.Option

	mu      sync.RWMutex
	sources []*source
	running bool
}

type AggregatorOption func(*QuoteAggregator)

func WithAggregatorLogger(l *logger.Logger) AggregatorOption {
	return func(a *QuoteAggregator) {
		if l != nil {
			a.log = l
		}
	}
}

func WithAggregatorMetrics(m domrepo.Metrics) AggregatorOption {
	return func(a *QuoteAggregator) {
		if m != nil {
			a.metrics = m
		}
	}
}

func WithAggregatorClock(now func() time.Time) AggregatorOption {
	return func(a *QuoteAggregator) {
		if now != nil {
			a.now = now
		}
	}
}

// WithQuoteSnapshots persists every source cache to store.
func WithQuoteSnapshots(store domrepo.SnapshotStore) AggregatorOption {
	return func(a *QuoteAggregator) { a.store = store }
}

// WithRetryOptions passes options to the shared retry policy.
func WithRetryOptions(opts ...resilience.RetryOption) AggregatorOption {
	return func(a *QuoteAggregator) {
		a.retry = resilience.NewRetryPolicy(a.cfg.Retry, opts...)
	}
}

// WithCacheOptions passes extra options to every source cache.
func WithCacheOptions(opts ...quotecache.Option) AggregatorOption {
	return func(a *QuoteAggregator) { a.cacheOpt = append(a.cacheOpt, opts...) }
}

// NewQuoteAggregator creates an aggregator that takes breakers from registry.
func NewQuoteAggregator(cfg AggregatorConfig, registry *resilience.Registry, opts ...AggregatorOption) *QuoteAggregator {
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	a := &QuoteAggregator{
		cfg:      cfg,
		breakers: registry,
		log:      logger.NewNop(),
		metrics:  metrics.Nop{},
		now:      time.Now,
	}
	a.retry = resilience.NewRetryPolicy(cfg.Retry)
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Register adds a source. Names must be unique.
func (a *QuoteAggregator) Register(ctx context.Context, sc SourceConfig) error {
	if sc.Name == "" || sc.Fetch == nil {
		return fmt.Errorf("%w: source needs a name and a fetcher", ErrInvalidParams)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range a.sources {
		if s.desc.Name == sc.Name {
			return fmt.Errorf("%w: %s", ErrDuplicateSource, sc.Name)
		}
	}

	opts := []quotecache.Option{
		quotecache.WithLogger(a.log),
		quotecache.WithMetrics(a.metrics),
		quotecache.WithClock(a.now),
	}
	if a.store != nil {
		opts = append(opts, quotecache.WithSnapshotStore(a.store, ""))
	}
	opts = append(opts, a.cacheOpt...)

	probeAmount := sc.ProbeAmount
	if !probeAmount.IsPositive() {
		probeAmount = decimal.NewFromInt(1)
	}
	s := &source{
		desc:        models.SourceDescriptor{Name: sc.Name, Priority: sc.Priority, Enabled: sc.Enabled},
		fetch:       sc.Fetch,
		cache:       quotecache.New(sc.Name, a.refreshFetcher(sc.Name), a.cfg.Cache, opts...),
		breaker:     a.breakers.Get(sc.Name),
		probePair:   sc.ProbePair,
		probeAmount: probeAmount,
	}
	if a.running {
		if err := s.cache.Start(ctx); err != nil {
			return err
		}
	}

	next := make([]*source, len(a.sources), len(a.sources)+1)
	copy(next, a.sources)
	a.sources = append(next, s)
	return nil
}

// refreshFetcher is what a source's cache uses for predictive refresh. It
// reads the current descriptor on every call, so toggling a source or
// opening its circuit stops background fetches too. Outcomes count on the
// breaker like any other fetch.
func (a *QuoteAggregator) refreshFetcher(name string) domrepo.QuoteFetcher {
	return func(ctx context.Context, in, out string, amount decimal.Decimal) (*models.Quote, error) {
		s := a.lookup(name)
		if s == nil {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		if !s.desc.Enabled {
			return nil, fmt.Errorf("%w: %s", ErrSourceDisabled, name)
		}
		var q *models.Quote
		err := s.breaker.Execute(ctx, func(ctx context.Context) error {
			var err error
			q, err = s.fetch(ctx, in, out, amount)
			if err == nil && q == nil {
				err = resilience.Permanent(errors.New("empty quote"))
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if q.Source == "" {
			cp := *q
			cp.Source = name
			q = &cp
		}
		return q, nil
	}
}

func (a *QuoteAggregator) lookup(name string) *source {
	for _, s := range a.snapshot() {
		if s.desc.Name == name {
			return s
		}
	}
	return nil
}

// Sources lists every registered source ordered by priority then name.
func (a *QuoteAggregator) Sources() []models.SourceDescriptor {
	srcs := a.snapshot()
	out := make([]models.SourceDescriptor, 0, len(srcs))
	for _, s := range srcs {
		out = append(out, s.desc)
	}
	sort.Slice(out, func(i, j int) bool { return lessDescriptor(out[i], out[j]) })
	return out
}

// SetSourceEnabled toggles a source. Disabled sources stay registered.
func (a *QuoteAggregator) SetSourceEnabled(name string, enabled bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i, s := range a.sources {
		if s.desc.Name != name {
			continue
		}
		cp := *s
		cp.desc.Enabled = enabled
		next := make([]*source, len(a.sources))
		copy(next, a.sources)
		next[i] = &cp
		a.sources = next
		a.log.Info("quote source toggled", logger.String("source", name), logger.Bool("enabled", enabled))
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownSource, name)
}

// Cache returns the quote cache of a source.
func (a *QuoteAggregator) Cache(name string) (*quotecache.Cache, bool) {
	if s := a.lookup(name); s != nil {
		return s.cache, true
	}
	return nil, false
}

func (a *QuoteAggregator) snapshot() []*source {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sources
}

type fetchResult struct {
	src       *source
	quote     *models.Quote
	fromCache bool
	err       error
}

// BestQuote queries every enabled source with a non-open circuit, waits for
// all of them and returns the highest net output.
func (a *QuoteAggregator) BestQuote(ctx context.Context, p models.QuoteParams) (*models.BestQuote, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	start := a.now()
	srcs, failures := a.eligible()

	results := a.fanOut(ctx, srcs, p)
	var ok []fetchResult
	for r := range results {
		if r.err != nil {
			failures[r.src.desc.Name] = r.err
			continue
		}
		ok = append(ok, r)
	}
	if len(ok) == 0 {
		return nil, a.noQuote(p, failures)
	}

	sort.Slice(ok, func(i, j int) bool {
		ni, nj := ok[i].quote.NetOut(), ok[j].quote.NetOut()
		if !ni.Equal(nj) {
			return ni.GreaterThan(nj)
		}
		return lessDescriptor(ok[i].src.desc, ok[j].src.desc)
	})

	best := a.buildBest(ok[0], p, start, failures, ok)
	if base, found := a.baseline(); found {
		best.Baseline = base.Name
		for _, r := range ok {
			if r.src.desc.Name == base.Name {
				best.ImprovementBps = improvementBps(best.NetOutAmount, r.quote.NetOut())
				break
			}
		}
	}
	a.metrics.RecordSelection(best.Source, best.ImprovementBps)
	return best, nil
}

// FastestQuote returns the first successful answer and cancels the rest.
func (a *QuoteAggregator) FastestQuote(ctx context.Context, p models.QuoteParams) (*models.BestQuote, error) {
	if err := validateParams(p); err != nil {
		return nil, err
	}
	start := a.now()
	srcs, failures := a.eligible()

	fctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for r := range a.fanOut(fctx, srcs, p) {
		if r.err != nil {
			failures[r.src.desc.Name] = r.err
			continue
		}
		cancel()
		best := a.buildBest(r, p, start, failures, []fetchResult{r})
		if base, found := a.baseline(); found {
			best.Baseline = base.Name
		}
		a.metrics.RecordSelection(best.Source, 0)
		return best, nil
	}
	return nil, a.noQuote(p, failures)
}

// ProbeSource fetches the source's probe pair directly: no cache, no retry
// and no breaker accounting.
func (a *QuoteAggregator) ProbeSource(ctx context.Context, name string) (models.ProbeResult, error) {
	src := a.lookup(name)
	if src == nil {
		return models.ProbeResult{}, fmt.Errorf("%w: %s", ErrUnknownSource, name)
	}

	pctx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
	defer cancel()

	started := time.Now()
	_, err := src.fetch(pctx, src.probePair.Input, src.probePair.Output, src.probeAmount)
	res := models.ProbeResult{OK: err == nil, LatencyMs: time.Since(started).Milliseconds()}
	if err != nil {
		res.Message = err.Error()
	}
	return res, nil
}

// HealthChecker adapts ProbeSource for the health monitor.
func (a *QuoteAggregator) HealthChecker(name string) domrepo.HealthChecker {
	return func(ctx context.Context) (models.ProbeResult, error) {
		return a.ProbeSource(ctx, name)
	}
}

// Start launches every source cache's background loops.
func (a *QuoteAggregator) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.running {
		return nil
	}
	for _, s := range a.sources {
		if err := s.cache.Start(ctx); err != nil {
			return fmt.Errorf("start cache %s: %w", s.desc.Name, err)
		}
	}
	a.running = true
	return nil
}

// Stop halts the caches and writes their final snapshots.
func (a *QuoteAggregator) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.running {
		return nil
	}
	a.running = false
	var errs []error
	for _, s := range a.sources {
		if err := s.cache.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("stop cache %s: %w", s.desc.Name, err))
		}
	}
	return errors.Join(errs...)
}

// eligible returns enabled sources whose circuit is not open. Sources skipped
// for an open circuit are reported as failures.
func (a *QuoteAggregator) eligible() ([]*source, map[string]error) {
	failures := make(map[string]error)
	var out []*source
	for _, s := range a.snapshot() {
		if !s.desc.Enabled {
			continue
		}
		if !s.breaker.CanExecute() {
			failures[s.desc.Name] = &resilience.CircuitOpenError{
				Source:     s.desc.Name,
				RetryAfter: time.Duration(s.breaker.Stats().TimeUntilResetMs) * time.Millisecond,
			}
			a.metrics.RecordFetch(s.desc.Name, "circuit_open", 0)
			continue
		}
		out = append(out, s)
	}
	return out, failures
}

func (a *QuoteAggregator) fanOut(ctx context.Context, srcs []*source, p models.QuoteParams) <-chan fetchResult {
	results := make(chan fetchResult, len(srcs))
	var wg sync.WaitGroup
	for _, s := range srcs {
		wg.Add(1)
		go func(s *source) {
			defer wg.Done()
			results <- a.fetch(ctx, s, p)
		}(s)
	}
	go func() {
		wg.Wait()
		close(results)
	}()
	return results
}

func (a *QuoteAggregator) fetch(ctx context.Context, s *source, p models.QuoteParams) fetchResult {
	name := s.desc.Name
	if q, ok := s.cache.Get(p.InputAsset, p.OutputAsset, p.Amount); ok {
		return fetchResult{src: s, quote: q, fromCache: true}
	}

	started := time.Now()
	var q *models.Quote
	err := resilience.ExecuteResilient(ctx, a.retry, s.breaker, func(ctx context.Context) error {
		actx, cancel := context.WithTimeout(ctx, a.cfg.FetchTimeout)
		defer cancel()
		var err error
		q, err = s.fetch(actx, p.InputAsset, p.OutputAsset, p.Amount)
		if err == nil && q == nil {
			err = resilience.Permanent(errors.New("empty quote"))
		}
		return err
	})
	elapsed := time.Since(started).Seconds()

	if err != nil {
		outcome := "error"
		switch {
		case resilience.IsCircuitOpen(err):
			outcome = "circuit_open"
		case errors.Is(err, context.Canceled):
			outcome = "canceled"
		}
		a.metrics.RecordFetch(name, outcome, elapsed)
		if outcome != "canceled" {
			a.log.Warn("quote source failed", logger.String("source", name), logger.Error(err))
		}
		return fetchResult{src: s, err: err}
	}

	if q.Source == "" {
		cp := *q
		cp.Source = name
		q = &cp
	}
	a.metrics.RecordFetch(name, "ok", elapsed)
	s.cache.Set(p.InputAsset, p.OutputAsset, p.Amount, q)
	return fetchResult{src: s, quote: q}
}

func (a *QuoteAggregator) buildBest(r fetchResult, p models.QuoteParams, start time.Time, failures map[string]error, ok []fetchResult) *models.BestQuote {
	net := r.quote.NetOut()
	minOut := net.Mul(bpsScale.Sub(decimal.NewFromInt(int64(p.SlippageBps)))).Div(bpsScale)
	if minOut.IsNegative() {
		minOut = decimal.Zero
	}

	responded := make([]string, 0, len(ok))
	for _, o := range ok {
		responded = append(responded, o.src.desc.Name)
	}
	sort.Strings(responded)
	failed := make([]string, 0, len(failures))
	for name := range failures {
		failed = append(failed, name)
	}
	sort.Strings(failed)

	return &models.BestQuote{
		ID:           uuid.NewString(),
		Source:       r.src.desc.Name,
		Quote:        *r.quote,
		NetOutAmount: net,
		MinOutAmount: minOut,
		LatencyMs:    a.now().Sub(start).Milliseconds(),
		FromCache:    r.fromCache,
		Responded:    responded,
		Failed:       failed,
	}
}

// baseline is the registered source with the lowest priority, enabled or not.
func (a *QuoteAggregator) baseline() (models.SourceDescriptor, bool) {
	srcs := a.snapshot()
	if len(srcs) == 0 {
		return models.SourceDescriptor{}, false
	}
	base := srcs[0].desc
	for _, s := range srcs[1:] {
		if lessDescriptor(s.desc, base) {
			base = s.desc
		}
	}
	return base, true
}

func (a *QuoteAggregator) noQuote(p models.QuoteParams, failures map[string]error) error {
	parts := make([]string, 0, len(failures))
	for name, err := range failures {
		parts = append(parts, name+": "+err.Error())
	}
	sort.Strings(parts)
	a.log.Error("no quote source reachable",
		logger.String("input", p.InputAsset),
		logger.String("output", p.OutputAsset),
		logger.String("amount", p.Amount.String()),
		logger.String("failures", strings.Join(parts, "; ")))
	return &NoQuoteError{Failures: failures}
}

func validateParams(p models.QuoteParams) error {
	switch {
	case p.InputAsset == "" || p.OutputAsset == "":
		return fmt.Errorf("%w: assets required", ErrInvalidParams)
	case p.InputAsset == p.OutputAsset:
		return fmt.Errorf("%w: input and output must differ", ErrInvalidParams)
	case !p.Amount.IsPositive():
		return fmt.Errorf("%w: amount must be positive", ErrInvalidParams)
	case p.SlippageBps < 0 || p.SlippageBps > 10000:
		return fmt.Errorf("%w: slippage out of range", ErrInvalidParams)
	}
	return nil
}

// improvementBps is floor((best-base)/base*10000); zero when base is not positive.
func improvementBps(best, base decimal.Decimal) int64 {
	if !base.IsPositive() {
		return 0
	}
	return best.Sub(base).Mul(bpsScale).Div(base).Floor().IntPart()
}

func lessDescriptor(a, b models.SourceDescriptor) bool {
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	return a.Name < b.Name
}
