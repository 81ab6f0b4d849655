package council

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/normanking/council/internal/bus"
	"github.com/normanking/council/internal/transcript"
)

// State names the orchestrator's position in the deliberation pipeline.
type State string

const (
	StateAccepted    State = "accepted"
	StateStage1      State = "stage1"
	StateNormalizing State = "normalizing"
	StateStage2      State = "stage2"
	StateAggregating State = "aggregating"
	StateStage3      State = "stage3"
	StateScoring     State = "scoring"
	StateWriting     State = "writing"
	StateDone        State = "done"
	StateFailed      State = "failed"
)

// requestCeilingSlack pads the hard per-request deadline beyond the sum of
// stage budgets.
const requestCeilingSlack = 5 * time.Second

// defaultConfidenceThreshold applies when the query leaves it zero.
const defaultConfidenceThreshold = 0.6

// Orchestrator drives one deliberation at a time through the staged
// pipeline. It is stateless between runs and safe for concurrent
// Deliberate calls.
type Orchestrator struct {
	caller Caller
	cfg    Config
	events *bus.Bus
	writer *transcript.Writer
	log    zerolog.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithBus publishes stage transitions to the given bus.
func WithBus(b *bus.Bus) Option { return func(o *Orchestrator) { o.events = b } }

// WithTranscripts records every run under the writer's root.
func WithTranscripts(w *transcript.Writer) Option { return func(o *Orchestrator) { o.writer = w } }

// WithLogger sets the orchestrator's logger.
func WithLogger(log zerolog.Logger) Option { return func(o *Orchestrator) { o.log = log } }

// New validates the configuration and builds an orchestrator.
func New(caller Caller, cfg Config, opts ...Option) (*Orchestrator, error) {
	cfg = cfg.withDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{caller: caller, cfg: cfg, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Config returns the resolved configuration the orchestrator runs with.
func (o *Orchestrator) Config() Config { return o.cfg }

// Deliberate runs the full pipeline for one query. The returned error is
// always classifiable via KindOf; partial per-model failures do not fail
// the run as long as the quorum and the chairman hold.
func (o *Orchestrator) Deliberate(ctx context.Context, q Query) (*Result, error) {
	if q.Mode == "" {
		q.Mode = ModeConsensus
	}
	if q.VerdictType == "" {
		q.VerdictType = VerdictNone
	}
	if q.ConfidenceThreshold <= 0 {
		q.ConfidenceThreshold = defaultConfidenceThreshold
	}

	requestID := uuid.NewString()
	startedAt := time.Now().UTC()
	log := o.log.With().Str("request_id", requestID).Logger()

	ceiling := o.cfg.Timeouts.Stage1D() + o.cfg.Timeouts.Stage2D() + o.cfg.Timeouts.Stage3D() + requestCeilingSlack
	ctx, cancel := context.WithTimeout(ctx, ceiling)
	defer cancel()

	var run *transcript.Run
	if o.writer != nil {
		var err error
		run, err = o.writer.Begin(startedAt, requestID[:8])
		if err != nil {
			return nil, o.fail(requestID, runErrorf(ErrKindTranscriptWrite, "begin transcript: %v", err))
		}
		if err := run.Write(transcript.FileRequest, map[string]any{
			"request_id": requestID,
			"query":      q,
			"config":     o.cfg,
			"started_at": startedAt,
		}); err != nil {
			return nil, o.fail(requestID, runErrorf(ErrKindTranscriptWrite, "%v", err))
		}
	}

	o.publish(bus.KindDeliberationStart, requestID, map[string]any{
		"mode":   string(q.Mode),
		"models": o.cfg.Models,
	})
	log.Info().Str("state", string(StateStage1)).Int("council", len(o.cfg.Models)).Msg("deliberation started")

	// Stage 1: fan the query out to the council.
	stage1 := runStage1(ctx, o.caller, o.cfg, q)
	survivors := responders(stage1)
	o.writeStage(run, requestID, transcript.FileStage1, map[string]any{"results": stage1})
	o.publish(bus.KindStage1Complete, requestID, map[string]any{
		"responded": len(survivors),
		"failed":    len(stage1) - len(survivors),
	})
	// An external cancel empties Stage 1 too; report it as what it is
	// rather than as a quorum failure.
	if err := ctx.Err(); err != nil {
		return nil, o.fail(requestID, runErrorf(KindOf(err), "deliberation interrupted: %v", err))
	}
	if err := checkQuorum(stage1); err != nil {
		return nil, o.fail(requestID, err)
	}

	// Optional style normalization before anonymization.
	if o.cfg.StyleNormalization {
		log.Debug().Str("state", string(StateNormalizing)).Msg("normalizing responses")
	}
	normalized := normalizeResponses(ctx, o.caller, o.cfg, log, survivors)

	survivorModels := make([]string, len(normalized))
	for i, n := range normalized {
		survivorModels[i] = n.Model
	}
	labels, err := NewLabelMap(survivorModels)
	if err != nil {
		return nil, o.fail(requestID, runErrorf(ErrKindConfigInvalid, "label assignment: %v", err))
	}

	// Stage 2: anonymized peer ranking.
	assignments, err := assignReviewers(normalized, labels, o.cfg.MaxReviewers)
	if err != nil {
		return nil, o.fail(requestID, runErrorf(ErrKindConfigInvalid, "reviewer assignment: %v", err))
	}
	stage2 := runStage2(ctx, o.caller, o.cfg, q.Prompt, normalized, labels, assignments)
	for _, r := range stage2 {
		if r.OK() {
			o.publish(bus.KindVoteCast, requestID, map[string]any{
				"reviewer": r.Model,
				"retried":  r.Value.Retried,
			})
		}
	}

	// Aggregation de-anonymizes and folds the votes.
	agg := aggregate(normalized, stage2, labels, o.cfg.ExcludeSelfVotes)
	o.writeStage(run, requestID, transcript.FileStage2, map[string]any{
		"results":   stage2,
		"label_map": labels.Table(),
		"aggregate": agg,
	})
	okRankings := responders(stage2)
	o.publish(bus.KindStage2Complete, requestID, map[string]any{
		"rankings": len(okRankings),
		"failed":   len(stage2) - len(okRankings),
	})

	// Scoring inputs are fixed once aggregation is done. Computing the
	// confidence now lets the persisted Synthesis carry the mapped verdict.
	orderings := make([][]string, 0, len(okRankings))
	for _, r := range okRankings {
		ordering := make([]string, 0, len(r.Value.Ordering))
		for _, label := range r.Value.Ordering {
			if model, ok := labels.Delabel(label); ok {
				ordering = append(ordering, model)
			}
		}
		orderings = append(orderings, ordering)
	}
	confidence := scoreConfidence(orderings, agg, o.cfg.Weights)

	// Stage 3: chairman synthesis over attributed responses.
	synthesis, err := runStage3(ctx, o.caller, o.cfg, q, normalized, agg)
	if err != nil {
		return nil, o.fail(requestID, err)
	}

	resultConfidence := confidence
	var verdict *Verdict
	if q.VerdictType == VerdictBinary {
		v, conf := mapVerdict(synthesis.ExtractedVerdictRaw, confidence, q.ConfidenceThreshold)
		verdict = &v
		resultConfidence = conf
		synthesis.Verdict = v
	}
	o.writeStage(run, requestID, transcript.FileStage3, map[string]any{"synthesis": synthesis})
	o.publish(bus.KindStage3Complete, requestID, map[string]any{"chairman": o.cfg.Chairman})

	result := &Result{
		RequestID:     requestID,
		Mode:          q.Mode,
		FinalResponse: synthesis.Text,
		Verdict:       verdict,
		Confidence:    &resultConfidence,
		CouncilModels: o.cfg.Models,
		Chairman:      o.cfg.Chairman,
		Stage1Count:   len(survivors),
		Stage2Count:   len(okRankings),
		Aggregate:     agg,
		StartedAt:     startedAt,
		EndedAt:       time.Now().UTC(),
	}
	if q.IncludeDetails {
		result.Details = &Details{Stage1: stage1, Stage2: stage2, LabelMap: labels.Table()}
	}

	if run != nil {
		result.TranscriptDir = run.Dir()
		o.writeStage(run, requestID, transcript.FileResult, result)
	}

	data := map[string]any{"confidence": resultConfidence, "stage1": len(survivors), "stage2": len(okRankings)}
	if result.Verdict != nil {
		data["verdict"] = string(*result.Verdict)
	}
	o.publish(bus.KindComplete, requestID, data)
	log.Info().
		Str("state", string(StateDone)).
		Float64("confidence", *result.Confidence).
		Int64("duration_ms", result.EndedAt.Sub(result.StartedAt).Milliseconds()).
		Msg("deliberation complete")
	return result, nil
}

// writeStage persists one transcript file. Once the run directory exists,
// a write failure must not cost the user the reply: it is logged, surfaced
// as a council.error event, and the deliberation carries on.
func (o *Orchestrator) writeStage(run *transcript.Run, requestID, name string, v any) {
	if run == nil {
		return
	}
	if err := run.Write(name, v); err != nil {
		o.publish(bus.KindError, requestID, map[string]any{
			"kind":  string(ErrKindTranscriptWrite),
			"file":  name,
			"error": err.Error(),
		})
		o.log.Warn().Str("request_id", requestID).Str("file", name).Err(err).Msg("transcript write failed")
	}
}

// fail publishes and logs a run-level failure, returning the error for the
// caller.
func (o *Orchestrator) fail(requestID string, err error) error {
	o.publish(bus.KindError, requestID, map[string]any{
		"kind":  string(KindOf(err)),
		"error": err.Error(),
	})
	o.log.Error().Str("request_id", requestID).Str("kind", string(KindOf(err))).Err(err).Msg("deliberation failed")
	return err
}

func (o *Orchestrator) publish(kind bus.Kind, requestID string, data map[string]any) {
	if o.events != nil {
		o.events.Publish(bus.NewEvent(kind, requestID, data))
	}
}
