// Package council implements the deliberation engine: a query fans out to
// a council of models, their responses are peer-ranked anonymously, the
// rankings are aggregated, and a chairman model synthesizes the final
// answer. Every run leaves a reproducible transcript on disk.
package council

import (
	"context"
	"time"
)

// Mode selects how the chairman synthesizes the council's output.
type Mode string

const (
	ModeConsensus Mode = "consensus"
	ModeDebate    Mode = "debate"
)

// VerdictType selects whether the chairman must emit a binary verdict.
type VerdictType string

const (
	VerdictNone   VerdictType = "none"
	VerdictBinary VerdictType = "binary"
)

// Verdict is the engine's final classification in binary verdict mode.
type Verdict string

const (
	VerdictPass    Verdict = "pass"
	VerdictFail    Verdict = "fail"
	VerdictUnclear Verdict = "unclear"
)

// Raw verdict markers extracted from the chairman's synthesis.
const (
	RawApproved = "APPROVED"
	RawRejected = "REJECTED"
)

// Query is one deliberation request. Immutable once accepted.
type Query struct {
	Prompt              string      `json:"prompt"`
	Mode                Mode        `json:"mode"`
	VerdictType         VerdictType `json:"verdict_type"`
	ConfidenceThreshold float64     `json:"confidence_threshold"`
	IncludeDetails      bool        `json:"include_details"`
}

// Caller is the single-call primitive the engine depends on. Implementations
// must be stateless and safe for concurrent use; the llm package's Registry
// satisfies this interface.
type Caller interface {
	Call(ctx context.Context, model, system, user string) (string, error)
}

// StageTimeouts holds per-stage wall-clock timeouts in milliseconds.
type StageTimeouts struct {
	S1 int64 `json:"s1"`
	S2 int64 `json:"s2"`
	S3 int64 `json:"s3"`
}

// DefaultStageTimeouts returns the timeouts used when the config omits them.
func DefaultStageTimeouts() StageTimeouts {
	return StageTimeouts{S1: 60_000, S2: 60_000, S3: 60_000}
}

// Stage1D returns the Stage 1 timeout as a duration.
func (t StageTimeouts) Stage1D() time.Duration { return time.Duration(t.S1) * time.Millisecond }

// Stage2D returns the Stage 2 timeout as a duration.
func (t StageTimeouts) Stage2D() time.Duration { return time.Duration(t.S2) * time.Millisecond }

// Stage3D returns the Stage 3 timeout as a duration.
func (t StageTimeouts) Stage3D() time.Duration { return time.Duration(t.S3) * time.Millisecond }

// ConfidenceWeights blends the three reviewer-agreement signals.
type ConfidenceWeights struct {
	Rank   float64 `json:"rank"`
	Rubric float64 `json:"rubric"`
	Spread float64 `json:"spread"`
}

// DefaultConfidenceWeights returns the default blend.
func DefaultConfidenceWeights() ConfidenceWeights {
	return ConfidenceWeights{Rank: 0.5, Rubric: 0.3, Spread: 0.2}
}

// Config is the resolved council configuration the engine runs with.
type Config struct {
	Models             []string          `json:"council_models"`
	Chairman           string            `json:"chairman_model"`
	Normalizer         string            `json:"normalizer_model,omitempty"`
	ExcludeSelfVotes   bool              `json:"exclude_self_votes"`
	StyleNormalization bool              `json:"style_normalization"`
	MaxReviewers       int               `json:"max_reviewers,omitempty"`
	Timeouts           StageTimeouts     `json:"per_stage_timeout_ms"`
	Weights            ConfidenceWeights `json:"confidence_weights"`
}

// Validate checks the configuration before Stage 1 may start.
func (c *Config) Validate() error {
	if len(c.Models) < 2 {
		return configErrorf("council needs at least 2 models, got %d", len(c.Models))
	}
	seen := make(map[string]bool, len(c.Models))
	for _, m := range c.Models {
		if m == "" {
			return configErrorf("council model ids must be non-empty")
		}
		if seen[m] {
			return configErrorf("duplicate council model %q", m)
		}
		seen[m] = true
	}
	if len(c.Models) > 26 {
		return configErrorf("council larger than 26 models cannot be labeled A..Z")
	}
	if c.Chairman == "" {
		return configErrorf("chairman_model is required")
	}
	if c.StyleNormalization && c.Normalizer == "" {
		return configErrorf("style_normalization requires normalizer_model")
	}
	if c.MaxReviewers < 0 {
		return configErrorf("max_reviewers must be >= 0")
	}
	if c.Timeouts.S1 <= 0 || c.Timeouts.S2 <= 0 || c.Timeouts.S3 <= 0 {
		return configErrorf("per-stage timeouts must be positive")
	}
	return nil
}

// withDefaults fills zero-valued tunables.
func (c Config) withDefaults() Config {
	if c.Timeouts == (StageTimeouts{}) {
		c.Timeouts = DefaultStageTimeouts()
	}
	if c.Weights == (ConfidenceWeights{}) {
		c.Weights = DefaultConfidenceWeights()
	}
	return c
}

// StageResult records one model's outcome within a stage. Exactly one of
// Value and Error is set. Stage result lists preserve council order.
type StageResult[T any] struct {
	Model     string    `json:"model"`
	Value     *T        `json:"value,omitempty"`
	Error     ErrorKind `json:"error,omitempty"`
	LatencyMS int64     `json:"latency_ms"`
	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at"`
}

// OK reports whether the call produced a value.
func (r StageResult[T]) OK() bool { return r.Error == "" && r.Value != nil }

// RubricDimensions is the fixed evaluation schema, each scored 0-10.
var RubricDimensions = []string{"accuracy", "relevance", "completeness", "conciseness", "clarity"}

// RubricScores holds one reviewer's scores for one response.
type RubricScores struct {
	Accuracy     float64 `json:"accuracy"`
	Relevance    float64 `json:"relevance"`
	Completeness float64 `json:"completeness"`
	Conciseness  float64 `json:"conciseness"`
	Clarity      float64 `json:"clarity"`
}

// clamped bounds every dimension to [0, 10].
func (r RubricScores) clamped() RubricScores {
	return RubricScores{
		Accuracy:     clampScore(r.Accuracy),
		Relevance:    clampScore(r.Relevance),
		Completeness: clampScore(r.Completeness),
		Conciseness:  clampScore(r.Conciseness),
		Clarity:      clampScore(r.Clarity),
	}
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 10 {
		return 10
	}
	return v
}

// Ranking is one reviewer's parsed Stage 2 output. Ordering and Rubric
// reference anonymized labels until aggregation de-anonymizes them.
type Ranking struct {
	Reviewer string                  `json:"reviewer"`
	Ordering []string                `json:"ordering"`
	Rubric   map[string]RubricScores `json:"rubric"`
	Retried  bool                    `json:"retried,omitempty"`
}

// AggregateEntry is the consensus view of one responder.
type AggregateEntry struct {
	Model          string       `json:"model"`
	BordaPoints    int          `json:"borda_points"`
	MeanRubric     RubricScores `json:"mean_rubric"`
	RubricVariance RubricScores `json:"rubric_variance"`
	ReviewerCount  int          `json:"reviewer_count"`
	SelfExcluded   bool         `json:"self_excluded"`
}

// Synthesis is the parsed Stage 3 output.
type Synthesis struct {
	Chairman            string   `json:"chairman"`
	Text                string   `json:"text"`
	Verdict             Verdict  `json:"verdict,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`
	ExtractedVerdictRaw string   `json:"extracted_verdict_raw,omitempty"`
}

// ResponseDetail pairs a model with its (possibly normalized) response text.
type ResponseDetail struct {
	Model      string `json:"model"`
	Text       string `json:"text"`
	Normalized bool   `json:"normalized,omitempty"`
}

// Details carries the per-model arrays included when the query asks for them.
type Details struct {
	Stage1   []StageResult[string]  `json:"stage1"`
	Stage2   []StageResult[Ranking] `json:"stage2"`
	LabelMap map[string]string      `json:"label_map"`
}

// Result is the final user-facing envelope, mirrored into result.json.
type Result struct {
	RequestID     string           `json:"request_id"`
	Mode          Mode             `json:"mode"`
	FinalResponse string           `json:"final_response"`
	Verdict       *Verdict         `json:"verdict"`
	Confidence    *float64         `json:"confidence"`
	CouncilModels []string         `json:"council_models"`
	Chairman      string           `json:"chairman"`
	Stage1Count   int              `json:"stage1_count"`
	Stage2Count   int              `json:"stage2_count"`
	Aggregate     []AggregateEntry `json:"aggregate"`
	StartedAt     time.Time        `json:"started_at"`
	EndedAt       time.Time        `json:"ended_at"`
	Details       *Details         `json:"details,omitempty"`

	// TranscriptDir is where the run was recorded. Not part of the envelope.
	TranscriptDir string `json:"-"`
}
