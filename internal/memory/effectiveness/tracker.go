// Package effectiveness maintains the append-only per-pattern usage ledger
//: times_retrieved, times_applied, success/failure_when_applied, and
// an incrementally-averaged avg_reward_delta.
package effectiveness

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
)

type jobKind int

const (
	jobRetrieved jobKind = iota
	jobApplied
)

type job struct {
	kind        jobKind
	success     bool
	rewardDelta float64
}

// Tracker serializes effectiveness updates per pattern id through a
// dedicated buffered channel and worker goroutine, so two concurrent
// "applied" reports for the same pattern never race on its
// read-modify-write counters — while reports against different patterns
// proceed fully in parallel.
type Tracker struct {
	store durable.Store

	mu      sync.Mutex
	workers map[memory.PatternID]chan job
	wg      sync.WaitGroup
	closed  bool
}

// New builds a Tracker. Workers are created lazily, one per pattern id seen.
func New(store durable.Store) *Tracker {
	return &Tracker{store: store, workers: make(map[memory.PatternID]chan job)}
}

const queueDepth = 64

func (t *Tracker) queueFor(id memory.PatternID) chan job {
	t.mu.Lock()
	defer t.mu.Unlock()
	if ch, ok := t.workers[id]; ok {
		return ch
	}
	ch := make(chan job, queueDepth)
	t.workers[id] = ch
	t.wg.Add(1)
	go t.run(id, ch)
	return ch
}

func (t *Tracker) run(id memory.PatternID, ch chan job) {
	defer t.wg.Done()
	for j := range ch {
		if err := t.apply(id, j); err != nil {
			log.Printf("[EFFECTIVENESS] update failed for pattern %s: %v", id, err)
		}
	}
}

func (t *Tracker) apply(id memory.PatternID, j job) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	p, err := t.store.GetPattern(ctx, id)
	if err != nil {
		return err
	}
	eff := &p.Effectiveness
	now := time.Now()

	switch j.kind {
	case jobRetrieved:
		eff.TimesRetrieved++
	case jobApplied:
		eff.TimesApplied++
		if j.success {
			eff.SuccessWhenApplied++
		} else {
			eff.FailureWhenApplied++
		}
		n := eff.TimesApplied
		eff.AvgRewardDelta = (eff.AvgRewardDelta*float64(n-1) + j.rewardDelta) / float64(n)
	}
	eff.LastUsed = now

	return t.store.UpdatePatternEffectiveness(ctx, id, *eff)
}

// RecordRetrieval enqueues a times_retrieved increment for id. It never
// blocks the caller on storage latency — the update is applied
// asynchronously by id's worker.
func (t *Tracker) RecordRetrieval(id memory.PatternID) {
	t.enqueue(id, job{kind: jobRetrieved})
}

// RecordApplication enqueues an applied-outcome update for id.
func (t *Tracker) RecordApplication(id memory.PatternID, success bool, rewardDelta float64) {
	t.enqueue(id, job{kind: jobApplied, success: success, rewardDelta: rewardDelta})
}

func (t *Tracker) enqueue(id memory.PatternID, j job) {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return
	}
	ch := t.queueFor(id)
	select {
	case ch <- j:
	default:
		log.Printf("[EFFECTIVENESS] queue full for pattern %s, applying synchronously", id)
		if err := t.apply(id, j); err != nil {
			log.Printf("[EFFECTIVENESS] synchronous update failed for pattern %s: %v", id, err)
		}
	}
}

// Close stops accepting new work and waits for every pattern worker to
// drain its queue.
func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	for _, ch := range t.workers {
		close(ch)
	}
	t.mu.Unlock()
	t.wg.Wait()
}
