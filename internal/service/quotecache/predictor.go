package quotecache

import (
	"context"
	"sync"

	"SwapQuote/pkg/logger"

	"github.com/shopspring/decimal"
)

type target struct {
	input  string
	output string
	amount decimal.Decimal
}

// Predict runs one predictive refresh: every hot pair at every hot amount,
// plus every pair missed at least PredictionThreshold times at its most
// recent amount. Fetch errors are logged and dropped.
func (c *Cache) Predict(ctx context.Context) {
	if c.fetch == nil {
		return
	}
	targets := c.targets()
	if len(targets) == 0 {
		return
	}

	var wg sync.WaitGroup
	for _, t := range targets {
		wg.Add(1)
		go func(t target) {
			defer wg.Done()
			c.refresh(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (c *Cache) refresh(ctx context.Context, t target) {
	fctx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
	defer cancel()

	q, err := c.fetch(fctx, t.input, t.output, t.amount)
	if err != nil {
		c.log.Debug("predictive refresh failed",
			logger.String("input", t.input),
			logger.String("output", t.output),
			logger.String("amount", t.amount.String()),
			logger.Error(err))
		return
	}
	c.Set(t.input, t.output, t.amount, q)
}

func (c *Cache) targets() []target {
	seen := make(map[string]struct{})
	var out []target
	add := func(in, outAsset string, amount decimal.Decimal) {
		k := Key(in, outAsset, amount)
		if _, ok := seen[k]; ok {
			return
		}
		seen[k] = struct{}{}
		out = append(out, target{input: in, output: outAsset, amount: amount})
	}

	for _, p := range c.cfg.HotPairs {
		for _, a := range c.cfg.HotAmounts {
			add(p.Input, p.Output, a)
		}
	}

	c.mu.Lock()
	for _, s := range c.stats {
		if s.HitCount >= c.cfg.PredictionThreshold {
			add(s.Input, s.Output, s.LastAmount)
		}
	}
	c.mu.Unlock()
	return out
}
