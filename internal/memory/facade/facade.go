// Package facade implements the engine's single public entry point. It
// sits above every storage/pipeline package (durable, cache, retrieval,
// extraction, effectiveness, quality, bus) precisely because each of
// those imports the root domain package for its types — an orchestrator
// that also needed to live in that root package would create an import
// cycle, so it lives here instead as the outermost layer.
package facade

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/loreforge/episodic-memory/internal/memory"
	"github.com/loreforge/episodic-memory/internal/memory/bus"
	"github.com/loreforge/episodic-memory/internal/memory/cache"
	"github.com/loreforge/episodic-memory/internal/memory/durable"
	"github.com/loreforge/episodic-memory/internal/memory/effectiveness"
	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
	"github.com/loreforge/episodic-memory/internal/memory/extraction"
	"github.com/loreforge/episodic-memory/internal/memory/keylock"
	"github.com/loreforge/episodic-memory/internal/memory/quality"
	"github.com/loreforge/episodic-memory/internal/memory/retrieval"
)

// Facade is the engine's single public entry point: one struct, one
// constructor, typed capability fields for every collaborator it
// orchestrates.
type Facade struct {
	durable durable.Store
	cache   cache.Store

	retrieval     *retrieval.Pipeline
	extractor     *extraction.Extractor
	effectiveness *effectiveness.Tracker
	assessor      *quality.Assessor
	capacity      *quality.Manager
	dispatcher    *bus.Dispatcher

	locks *keylock.Striped
	cfg   *memory.Config
}

// New wires every collaborator together from cfg. durableStore and
// cacheStore are constructed by the caller (cmd/episodic-memory/main.go)
// so tests can substitute in-memory or temp-file backends; dispatcher may
// be nil, in which case extraction always runs synchronously inline.
func New(cfg *memory.Config, durableStore durable.Store, cacheStore cache.Store, pipeline *retrieval.Pipeline, extractor *extraction.Extractor, dispatcher *bus.Dispatcher) *Facade {
	if cfg == nil {
		cfg = memory.DefaultConfig()
	}
	return &Facade{
		durable:       durableStore,
		cache:         cacheStore,
		retrieval:     pipeline,
		extractor:     extractor,
		effectiveness: effectiveness.New(durableStore),
		assessor:      quality.NewAssessor(cfg.Quality.Threshold),
		capacity:      quality.NewManager(durableStore, cfg.Storage.MaxEpisodesCache),
		dispatcher:    dispatcher,
		locks:         keylock.New(),
		cfg:           cfg,
	}
}

// Close drains the effectiveness tracker's per-pattern workers and closes
// the cache tier. The durable store and bus are owned by the caller
// (cmd/episodic-memory/main.go constructs them), so they are closed there.
func (f *Facade) Close() error {
	f.effectiveness.Close()
	return f.cache.Close()
}

// StartEpisode creates an open episode, writes it durably, caches it, and
// returns its id. Fails InvalidInput if task_description is empty
// or any context tag fails validation.
func (f *Facade) StartEpisode(ctx context.Context, taskDescription string, taskCtx memory.TaskContext, taskType memory.TaskType) (memory.EpisodeID, error) {
	if taskDescription == "" {
		return memory.ZeroID, memerrors.ErrInvalidInput
	}
	tags, err := memory.NormalizeTags(taskCtx.Tags)
	if err != nil {
		return memory.ZeroID, err
	}
	taskCtx.Tags = tags

	ep := &memory.Episode{
		ID:              memory.NewID(),
		TaskDescription: taskDescription,
		TaskType:        taskType,
		Context:         taskCtx,
		StartTime:       time.Now(),
		Tags:            tags,
	}
	if err := ep.Validate(); err != nil {
		return memory.ZeroID, err
	}

	f.locks.Lock(ep.ID)
	defer f.locks.Unlock(ep.ID)

	if err := f.durable.SaveEpisode(ctx, ep); err != nil {
		return memory.ZeroID, err
	}
	if err := f.durable.TouchTags(ctx, tags, ep.StartTime); err != nil {
		log.Printf("[memory] touch tags on start_episode failed: %v", err)
	}
	f.putCache(ep)

	return ep.ID, nil
}

// LogStep appends a step to an open episode, assigning the next
// step_number atomically (serialized per episode_id via the striped
// lock). Fails NotFound if the episode is unknown, Closed if completed.
func (f *Facade) LogStep(ctx context.Context, episodeID memory.EpisodeID, step memory.ExecutionStep) error {
	f.locks.Lock(episodeID)
	defer f.locks.Unlock(episodeID)

	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return err
	}
	if !ep.IsOpen() {
		return memerrors.ErrClosed
	}

	step.StepNumber = len(ep.Steps) + 1
	if step.Timestamp.IsZero() {
		step.Timestamp = time.Now()
	}
	if err := f.durable.AppendStep(ctx, episodeID, step); err != nil {
		return err
	}

	ep.Steps = append(ep.Steps, step)
	f.putCache(ep)
	return nil
}

// CompleteEpisode sets end_time, the outcome, and the computed reward,
// writes the episode back, and dispatches background pattern extraction
// and effectiveness bookkeeping for any patterns it applied.
// Completing an already-complete episode is idempotent: it returns the
// stored episode unchanged.
//
// new_pattern_count (the reward formula's learning_bonus input) is read via
// the extractor's candidate-id preview rather than by running extraction
// itself: extraction's actual upserts are dispatched in the background, and
// running them twice for the same episode would double-apply their
// incremental-mean updates.
func (f *Facade) CompleteEpisode(ctx context.Context, episodeID memory.EpisodeID, outcome memory.Outcome, reflection string) (*memory.Episode, error) {
	f.locks.Lock(episodeID)
	defer f.locks.Unlock(episodeID)

	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	if ep.IsComplete() {
		return ep, nil
	}

	now := time.Now()
	ep.EndTime = &now
	ep.Outcome = &outcome
	ep.Reflection = reflection

	score := f.assessor.Score(ep)
	ep.LowQuality = f.assessor.IsLowQuality(score)

	newCount := 0
	if f.extractor != nil {
		newCount, err = f.extractor.CountNew(ctx, ep)
		if err != nil {
			log.Printf("[memory] new-pattern preview failed for episode %s: %v", episodeID, err)
			newCount = 0
		}
	}
	reward := memory.ComputeReward(ep.Outcome, len(ep.Steps), ep.Context, score, newCount)
	ep.Reward = &reward

	if err := ep.Validate(); err != nil {
		return nil, err
	}
	if err := f.durable.SaveEpisode(ctx, ep); err != nil {
		return nil, err
	}
	f.putCache(ep)

	if !ep.LowQuality && f.extractor != nil {
		f.dispatchExtraction(ctx, ep.ID)
	}
	for _, applied := range ep.AppliedPatterns {
		succeeded := ep.Outcome.Kind == memory.OutcomeSuccess
		f.effectiveness.RecordApplication(applied.PatternID, succeeded, ep.Reward.Total)
	}

	return ep, nil
}

func (f *Facade) dispatchExtraction(ctx context.Context, episodeID memory.EpisodeID) {
	if f.dispatcher != nil {
		if err := f.dispatcher.Submit(ctx, episodeID); err != nil {
			log.Printf("[memory] extraction dispatch failed for episode %s: %v", episodeID, err)
		}
		return
	}
	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		log.Printf("[memory] inline extraction: fetch episode %s failed: %v", episodeID, err)
		return
	}
	newIDs, err := f.extractor.ExtractFromEpisode(ctx, ep)
	if err != nil {
		log.Printf("[memory] inline extraction failed for episode %s: %v", episodeID, err)
		return
	}
	if len(newIDs) == 0 {
		return
	}
	ep.ExtractedPatternIDs = append(ep.ExtractedPatternIDs, newIDs...)
	if err := f.durable.SaveEpisode(ctx, ep); err != nil {
		log.Printf("[memory] inline extraction: attach pattern ids for episode %s failed: %v", episodeID, err)
		return
	}
	f.putCache(ep)
}

// GetEpisode is a cache-first lookup.
func (f *Facade) GetEpisode(ctx context.Context, episodeID memory.EpisodeID) (*memory.Episode, error) {
	if raw, ok := f.cache.Get(cache.ClassEpisode, episodeID.String()); ok {
		var ep memory.Episode
		if err := json.Unmarshal(raw, &ep); err == nil {
			return &ep, nil
		}
	}
	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return nil, err
	}
	f.putCache(ep)
	return ep, nil
}

// Query invokes the retrieval pipeline.
func (f *Facade) Query(ctx context.Context, q retrieval.Query) (*retrieval.Response, error) {
	resp, err := f.retrieval.Run(ctx, q)
	if err != nil {
		return nil, err
	}
	for _, r := range resp.Results {
		for _, pid := range r.Episode.ExtractedPatternIDs {
			f.effectiveness.RecordRetrieval(pid)
		}
	}
	return resp, nil
}

// GetPatterns lists patterns matching filter, excluding ones still below
// the extractor's promotion thresholds for their kind.
func (f *Facade) GetPatterns(ctx context.Context, filter memory.PatternFilter) ([]*memory.Pattern, error) {
	patterns, err := f.durable.ListPatterns(ctx, filter)
	if err != nil {
		return nil, err
	}
	if f.extractor == nil {
		return patterns, nil
	}
	visible := patterns[:0]
	for _, p := range patterns {
		if f.extractor.PatternVisible(p) {
			visible = append(visible, p)
		}
	}
	return visible, nil
}

// RecordPatternApplication ledgers that episodeID applied patternID,
// updating the pattern's effectiveness counters asynchronously.
func (f *Facade) RecordPatternApplication(ctx context.Context, patternID memory.PatternID, episodeID memory.EpisodeID, succeeded bool, rewardDelta float64) error {
	if _, err := f.durable.GetPattern(ctx, patternID); err != nil {
		return err
	}
	f.effectiveness.RecordApplication(patternID, succeeded, rewardDelta)
	return nil
}

// AddRelationship validates and stores a directed edge between two
// distinct episodes.
func (f *Facade) AddRelationship(ctx context.Context, fromID, toID memory.EpisodeID, kind memory.RelationshipKind, reason, createdBy string, priority int, custom map[string]string) (memory.Relationship, error) {
	r := memory.Relationship{
		ID: memory.NewID(), FromEpisodeID: fromID, ToEpisodeID: toID, Kind: kind,
		Reason: reason, CreatedBy: createdBy, Priority: priority, Custom: custom,
		CreatedAt: time.Now(),
	}
	if err := r.Validate(); err != nil {
		return memory.Relationship{}, err
	}
	if err := f.durable.SaveRelationship(ctx, r); err != nil {
		return memory.Relationship{}, err
	}
	f.cache.Delete(cache.ClassEpisode, fromID.String())
	f.cache.Delete(cache.ClassEpisode, toID.String())
	return r, nil
}

// RemoveRelationship deletes a relationship by id.
func (f *Facade) RemoveRelationship(ctx context.Context, id memory.RelationshipID) error {
	return f.durable.DeleteRelationship(ctx, id)
}

// ListRelationships lists relationships touching episodeID in the given
// direction, optionally narrowed by kind.
func (f *Facade) ListRelationships(ctx context.Context, episodeID memory.EpisodeID, dir memory.Direction, kind *memory.RelationshipKind) ([]memory.Relationship, error) {
	return f.durable.ListRelationships(ctx, episodeID, dir, kind)
}

// AddTag adds a normalized tag to an episode. Returns added=false if the
// tag (after normalization) was already present — tag addition is
// idempotent in effect.
func (f *Facade) AddTag(ctx context.Context, episodeID memory.EpisodeID, raw string) (added bool, err error) {
	f.locks.Lock(episodeID)
	defer f.locks.Unlock(episodeID)

	if err := memory.ValidateTag(raw); err != nil {
		return false, err
	}
	tag := memory.NormalizeTag(raw)

	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return false, err
	}
	for _, t := range ep.Tags {
		if t == tag {
			return false, nil
		}
	}
	ep.Tags = append(ep.Tags, tag)
	if err := f.durable.SaveEpisode(ctx, ep); err != nil {
		return false, err
	}
	if err := f.durable.TouchTags(ctx, []string{tag}, time.Now()); err != nil {
		log.Printf("[memory] touch tags on add_tag failed: %v", err)
	}
	f.putCache(ep)
	return true, nil
}

// RemoveTag removes a tag from an episode, if present.
func (f *Facade) RemoveTag(ctx context.Context, episodeID memory.EpisodeID, raw string) (removed bool, err error) {
	f.locks.Lock(episodeID)
	defer f.locks.Unlock(episodeID)

	tag := memory.NormalizeTag(raw)
	ep, err := f.durable.GetEpisode(ctx, episodeID)
	if err != nil {
		return false, err
	}
	idx := -1
	for i, t := range ep.Tags {
		if t == tag {
			idx = i
			break
		}
	}
	if idx == -1 {
		return false, nil
	}
	ep.Tags = append(ep.Tags[:idx], ep.Tags[idx+1:]...)
	if err := f.durable.SaveEpisode(ctx, ep); err != nil {
		return false, err
	}
	f.putCache(ep)
	return true, nil
}

// FindByTags finds episodes matching a tag set under mode all|any.
func (f *Facade) FindByTags(ctx context.Context, tags []string, mode memory.TagMode, limit int) ([]*memory.Episode, error) {
	normalized, err := memory.NormalizeTags(tags)
	if err != nil {
		return nil, err
	}
	return f.durable.ListEpisodes(ctx, durable.EpisodeFilter{Tags: normalized, TagMode: mode, Limit: limit})
}

// EnforceCapacity runs the capacity manager's priority-score demotion
// pass, typically invoked on a periodic schedule by the owning
// process rather than per-request.
func (f *Facade) EnforceCapacity(ctx context.Context) (int, error) {
	return f.capacity.Enforce(ctx, time.Now())
}

func (f *Facade) putCache(ep *memory.Episode) {
	raw, err := json.Marshal(ep)
	if err != nil {
		log.Printf("[memory] marshal episode %s for cache failed: %v", ep.ID, err)
		return
	}
	if err := f.cache.Put(cache.ClassEpisode, ep.ID.String(), raw); err != nil {
		log.Printf("[memory] cache put for episode %s failed: %v", ep.ID, err)
	}
}
