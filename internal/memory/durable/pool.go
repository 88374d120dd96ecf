package durable

import (
	"context"
	"database/sql"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
)

// poolManager runs the two connection-pool disciplines SPEC_FULL.md names
// for the durable store: a background keep-alive ping (so a connection that
// has gone stale behind a load balancer or sleeping disk is caught before a
// caller hits it) and adaptive scaling of MaxOpenConns between a configured
// [min,max] band driven by observed utilization.
type poolManager struct {
	db     *sql.DB
	cfg    memory.StorageConfig
	cancel context.CancelFunc
	wg     sync.WaitGroup

	current atomic.Int64
}

func startPoolManager(db *sql.DB, cfg memory.StorageConfig) *poolManager {
	min := cfg.AdaptivePool.Min
	if min <= 0 {
		min = 2
	}
	max := cfg.AdaptivePool.Max
	if max <= 0 {
		max = 16
	}
	db.SetMaxOpenConns(max)
	db.SetMaxIdleConns(min)
	db.SetConnMaxLifetime(30 * time.Minute)
	if cfg.Keepalive.Enabled && cfg.Keepalive.StaleAfterS > 0 {
		// Connections idle past stale_after_s are closed, so the next
		// checkout opens a fresh one instead of reusing a stale handle.
		db.SetConnMaxIdleTime(time.Duration(cfg.Keepalive.StaleAfterS) * time.Second)
	}

	pm := &poolManager{db: db, cfg: cfg}
	pm.current.Store(int64(max))

	ctx, cancel := context.WithCancel(context.Background())
	pm.cancel = cancel

	if cfg.Keepalive.Enabled {
		interval := time.Duration(cfg.Keepalive.IntervalS) * time.Second
		if interval <= 0 {
			interval = 30 * time.Second
		}
		pm.wg.Add(1)
		go pm.keepalive(ctx, interval)
	}

	pm.wg.Add(1)
	go pm.scaleLoop(ctx, min, max)

	return pm
}

func (pm *poolManager) keepalive(ctx context.Context, interval time.Duration) {
	defer pm.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := pm.db.PingContext(pctx); err != nil {
				log.Printf("[DURABLE] keep-alive ping failed: %v", err)
			}
			cancel()
		}
	}
}

// scaleLoop adjusts MaxOpenConns toward max when utilization crosses the
// scale-up threshold and toward min when it falls below the scale-down
// threshold, checked every 15 seconds independently of the keep-alive
// interval.
func (pm *poolManager) scaleLoop(ctx context.Context, min, max int) {
	defer pm.wg.Done()
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := pm.db.Stats()
			cur := int(pm.current.Load())
			if cur <= 0 {
				continue
			}
			utilization := float64(stats.InUse) / float64(cur)
			next := cur
			if utilization >= pm.cfg.AdaptivePool.ScaleUp && cur < max {
				next = cur + 1
			} else if utilization <= pm.cfg.AdaptivePool.ScaleDown && cur > min {
				next = cur - 1
			}
			if next != cur {
				pm.db.SetMaxOpenConns(next)
				pm.current.Store(int64(next))
			}
		}
	}
}

func (pm *poolManager) stop() {
	pm.cancel()
	pm.wg.Wait()
}
