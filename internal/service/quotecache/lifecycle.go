package quotecache

import (
	"context"
	"time"

	"SwapQuote/pkg/logger"
)

// Start restores the last snapshot and launches the prediction and snapshot
// loops. Calling Start on a running cache is a no-op.
func (c *Cache) Start(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if c.running {
		return nil
	}

	if c.store != nil {
		if err := c.RestoreSnapshot(ctx); err != nil {
			c.log.Warn("quote cache snapshot restore failed", logger.Error(err))
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.running = true

	c.wg.Add(1)
	go c.loop(loopCtx, c.cfg.PredictionRefresh, c.Predict)

	if c.store != nil {
		c.wg.Add(1)
		go c.loop(loopCtx, c.cfg.SnapshotInterval, func(ctx context.Context) {
			if err := c.SaveSnapshot(ctx); err != nil {
				c.log.Warn("quote cache snapshot failed", logger.Error(err))
			}
		})
	}
	return nil
}

// Stop halts background loops and writes a final snapshot. Safe to call
// more than once.
func (c *Cache) Stop(ctx context.Context) error {
	c.lifeMu.Lock()
	defer c.lifeMu.Unlock()
	if !c.running {
		return nil
	}
	c.cancel()
	c.wg.Wait()
	c.running = false

	if c.store == nil {
		return nil
	}
	if err := c.SaveSnapshot(ctx); err != nil {
		return err
	}
	c.log.Info("quote cache snapshot saved")
	return nil
}

func (c *Cache) loop(ctx context.Context, every time.Duration, fn func(context.Context)) {
	defer c.wg.Done()
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			fn(ctx)
		}
	}
}
