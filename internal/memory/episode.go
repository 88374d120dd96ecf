package memory

import (
	"time"

	memerrors "github.com/loreforge/episodic-memory/internal/memory/errors"
)

// TaskType classifies the kind of work an episode records.
type TaskType string

const (
	TaskTypeCodeGeneration TaskType = "code_generation"
	TaskTypeDebugging      TaskType = "debugging"
	TaskTypeRefactoring    TaskType = "refactoring"
	TaskTypeTesting        TaskType = "testing"
	TaskTypeAnalysis       TaskType = "analysis"
	TaskTypeDocumentation  TaskType = "documentation"
	TaskTypeOther          TaskType = "other"
)

// Complexity is the coarse difficulty bucket an episode's context declares.
type Complexity string

const (
	ComplexitySimple   Complexity = "simple"
	ComplexityModerate Complexity = "moderate"
	ComplexityComplex  Complexity = "complex"
)

// expectedSteps is the baseline step count the reward formula's efficiency
// term measures against.
func (c Complexity) expectedSteps() float64 {
	switch c {
	case ComplexitySimple:
		return 3
	case ComplexityModerate:
		return 7
	case ComplexityComplex:
		return 15
	default:
		return 7
	}
}

// complexityBonus is the {simple:1.0, moderate:1.1, complex:1.3} table the
// reward formula's complexity term looks up.
func (c Complexity) complexityBonus() float64 {
	switch c {
	case ComplexitySimple:
		return 1.0
	case ComplexityModerate:
		return 1.1
	case ComplexityComplex:
		return 1.3
	default:
		return 1.0
	}
}

// TaskContext is the situational metadata attached to an episode at
// start_episode time.
type TaskContext struct {
	Language   string     `json:"language,omitempty"`
	Framework  string     `json:"framework,omitempty"`
	Complexity Complexity `json:"complexity"`
	Domain     string     `json:"domain,omitempty"`
	Tags       []string   `json:"tags,omitempty"`
}

// StepResultKind discriminates an ExecutionStep's outcome.
type StepResultKind string

const (
	StepResultSuccess StepResultKind = "success"
	StepResultError   StepResultKind = "error"
	StepResultTimeout StepResultKind = "timeout"
)

// StepResult is the tagged outcome of one tool invocation.
type StepResult struct {
	Kind    StepResultKind `json:"kind"`
	Output  string         `json:"output,omitempty"`
	Message string         `json:"message,omitempty"`
}

// Success reports whether the step's result is StepResultSuccess, the
// single definition of step success used everywhere a success rate is
// computed.
func (r *StepResult) Success() bool {
	return r != nil && r.Kind == StepResultSuccess
}

// ExecutionStep is one tool invocation within an episode.
type ExecutionStep struct {
	StepNumber int               `json:"step_number"`
	Timestamp  time.Time         `json:"timestamp"`
	Tool       string            `json:"tool"`
	Action     string            `json:"action"`
	Parameters map[string]any    `json:"parameters,omitempty"`
	Result     *StepResult       `json:"result,omitempty"`
	LatencyMS  int64             `json:"latency_ms"`
	Tokens     *int64            `json:"tokens,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// OutcomeKind discriminates an Episode's terminal outcome.
type OutcomeKind string

const (
	OutcomeSuccess OutcomeKind = "success"
	OutcomePartial OutcomeKind = "partial"
	OutcomeFailure OutcomeKind = "failure"
)

// Outcome is the terminal result recorded by complete_episode.
type Outcome struct {
	Kind OutcomeKind `json:"kind"`

	// Success
	Verdict   string   `json:"verdict,omitempty"`
	Artifacts []string `json:"artifacts,omitempty"`

	// Partial
	CompletedItems []string `json:"completed_items,omitempty"`
	FailedItems    []string `json:"failed_items,omitempty"`

	// Failure
	Reason       string `json:"reason,omitempty"`
	ErrorDetails string `json:"error_details,omitempty"`
}

// RewardScore is the six-component reward computed for every completed
// episode. Each component is independently addressable for future
// reinforcement use.
type RewardScore struct {
	Total              float64 `json:"total"`
	Base               float64 `json:"base"`
	Efficiency         float64 `json:"efficiency"`
	ComplexityBonus    float64 `json:"complexity_bonus"`
	QualityMultiplier  float64 `json:"quality_multiplier"`
	LearningBonus      float64 `json:"learning_bonus"`
}

// AppliedPattern records that an episode applied a previously retrieved
// pattern, pending effectiveness feedback once the episode completes.
type AppliedPattern struct {
	PatternID PatternID `json:"pattern_id"`
	AppliedAt time.Time `json:"applied_at"`
}

// SalientFeatureSummary is the compact structured digest the quality
// assessor produces before the first durable write and retrieval reuses for
// cheap prefiltering.
type SalientFeatureSummary struct {
	TaskKeywords []string       `json:"task_keywords,omitempty"`
	ToolsUsed    []string       `json:"tools_used,omitempty"`
	OutcomeKind  OutcomeKind    `json:"outcome_kind,omitempty"`
	FeatureVec   []float32      `json:"feature_vector,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Episode is the atomic unit of recorded agent experience.
type Episode struct {
	ID              EpisodeID              `json:"id"`
	TaskDescription string                 `json:"task_description"`
	TaskType        TaskType               `json:"task_type"`
	Context         TaskContext            `json:"context"`
	StartTime       time.Time              `json:"start_time"`
	EndTime         *time.Time             `json:"end_time,omitempty"`
	Steps           []ExecutionStep        `json:"steps,omitempty"`
	Outcome         *Outcome               `json:"outcome,omitempty"`
	Reward          *RewardScore           `json:"reward,omitempty"`
	Reflection      string                 `json:"reflection,omitempty"`
	ExtractedPatternIDs []PatternID        `json:"extracted_pattern_ids,omitempty"`
	AppliedPatterns []AppliedPattern       `json:"applied_patterns,omitempty"`
	Salient         *SalientFeatureSummary `json:"salient,omitempty"`
	Metadata        map[string]any         `json:"metadata,omitempty"`
	Tags            []string               `json:"tags,omitempty"`

	// LowQuality marks an episode rejected by the quality assessor (
	// ErrLowQuality): stored, but ineligible for retrieval and pattern
	// extraction.
	LowQuality bool `json:"low_quality,omitempty"`
	// Summarized marks an episode whose expanded form has been replaced by
	// a capacity-driven semantic summary. The id is retained.
	Summarized bool `json:"summarized,omitempty"`
}

// IsOpen reports whether the episode has not yet been completed.
func (e *Episode) IsOpen() bool {
	return e.EndTime == nil && e.Outcome == nil && e.Reward == nil
}

// IsComplete reports whether the episode has end_time, outcome, and reward
// all set.
func (e *Episode) IsComplete() bool {
	return e.EndTime != nil && e.Outcome != nil && e.Reward != nil
}

// Validate checks the structural invariants a single episode must satisfy
// on its own. It does not check id stability or ownership rules, which are
// the facade's responsibility across calls rather than a single struct's.
func (e *Episode) Validate() error {
	if e.EndTime != nil && e.EndTime.Before(e.StartTime) {
		return memerrors.ErrInvalidInput
	}
	complete := e.EndTime != nil || e.Outcome != nil || e.Reward != nil
	if complete && !e.IsComplete() {
		return memerrors.ErrInvalidInput
	}
	seen := make(map[string]struct{}, len(e.Tags))
	for _, t := range e.Tags {
		if err := ValidateTag(t); err != nil {
			return err
		}
		if _, dup := seen[t]; dup {
			return memerrors.ErrInvalidInput
		}
		seen[t] = struct{}{}
	}
	for i, s := range e.Steps {
		if s.StepNumber != i+1 {
			return memerrors.ErrInvalidInput
		}
	}
	return nil
}
