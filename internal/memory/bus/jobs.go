package bus

import (
	"context"
	"encoding/json"
	"log"
	"sync/atomic"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	"github.com/loreforge/episodic-memory/internal/memory/extraction"
)

// ExtractionJob is the payload published on SubjectExtraction: just the
// completed episode's id, re-fetched by the worker rather than carried in
// full, since the episode has already been durably written by the time
// extraction runs.
type ExtractionJob struct {
	EpisodeID string `json:"episode_id"`
}

// Dispatcher fans completed-episode pattern extraction out to background
// queue-group workers over the bus, bounding how much extraction work can
// be in flight at once. When that bound is hit, Submit runs extraction
// synchronously in the caller's goroutine instead of queueing further —
// the same saturation-aware fallback the effectiveness tracker uses,
// applied here at the process boundary instead of per-pattern.
type Dispatcher struct {
	bus       *Bus
	store     durable.Store
	extractor *extraction.Extractor

	inFlight    atomic.Int64
	maxInFlight int64
}

// NewDispatcher starts workerCount queue-group subscribers on
// SubjectExtraction, each running extraction against episodes popped off
// the shared queue.
func NewDispatcher(b *Bus, store durable.Store, extractor *extraction.Extractor, workerCount int, maxInFlight int64) (*Dispatcher, error) {
	if workerCount <= 0 {
		workerCount = 1
	}
	if maxInFlight <= 0 {
		maxInFlight = 64
	}
	d := &Dispatcher{bus: b, store: store, extractor: extractor, maxInFlight: maxInFlight}

	for i := 0; i < workerCount; i++ {
		if _, err := b.QueueSubscribe(SubjectExtraction, d.handle); err != nil {
			return nil, err
		}
	}
	return d, nil
}

// Submit enqueues extraction for a just-completed episode, or runs it
// inline if the in-flight bound is already saturated or the bus is
// unreachable. ep is re-fetched by id rather than reused directly so the
// extraction always sees the episode's just-committed durable state.
func (d *Dispatcher) Submit(ctx context.Context, episodeID memory.EpisodeID) error {
	if d.inFlight.Load() >= d.maxInFlight {
		log.Printf("[BUS] extraction queue saturated, running synchronously for episode %s", episodeID)
		return d.extractAndAttach(ctx, episodeID)
	}

	d.inFlight.Add(1)
	job := ExtractionJob{EpisodeID: episodeID.String()}
	if err := d.bus.Publish(SubjectExtraction, job); err != nil {
		d.inFlight.Add(-1)
		log.Printf("[BUS] publish failed, running extraction synchronously for episode %s: %v", episodeID, err)
		return d.extractAndAttach(ctx, episodeID)
	}
	return nil
}

func (d *Dispatcher) handle(msg Message) {
	defer d.inFlight.Add(-1)

	var job ExtractionJob
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		log.Printf("[BUS] malformed extraction job: %v", err)
		return
	}
	id, err := memory.ParseID(job.EpisodeID)
	if err != nil {
		log.Printf("[BUS] malformed episode id in extraction job: %v", err)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := d.extractAndAttach(ctx, id); err != nil {
		log.Printf("[BUS] extraction worker failed for episode %s: %v", id, err)
	}
}

// extractAndAttach runs every extraction kind against the episode and, if
// any pattern was newly attested, writes the ids back onto the episode
// record. Shared by the queue worker and by Submit's saturation/fallback
// paths so both take the same persistence path.
func (d *Dispatcher) extractAndAttach(ctx context.Context, episodeID memory.EpisodeID) error {
	ep, err := d.store.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	newIDs, err := d.extractor.ExtractFromEpisode(ctx, ep)
	if err != nil {
		return err
	}
	if len(newIDs) == 0 {
		return nil
	}
	ep.ExtractedPatternIDs = append(ep.ExtractedPatternIDs, newIDs...)
	return d.store.SaveEpisode(ctx, ep)
}
