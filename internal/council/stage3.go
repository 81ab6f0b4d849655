package council

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// chairmanRetryBase is the backoff before the single chairman retry.
const chairmanRetryBase = 500 * time.Millisecond

// verdictLine matches the strict marker the chairman is instructed to end
// with. Anything looser (prose mentioning APPROVED, markdown decoration)
// deliberately does not count.
var verdictLine = regexp.MustCompile(`^FINAL_VERDICT:\s*(APPROVED|REJECTED)\s*$`)

var confidenceLine = regexp.MustCompile(`^CONFIDENCE:\s*([0-9]*\.?[0-9]+)\s*$`)

// runStage3 asks the chairman for the synthesis. The chairman is the single
// point of failure of the back half, so a failed call gets one retry after
// a short backoff; a second failure is fatal to the run.
func runStage3(ctx context.Context, caller Caller, cfg Config, q Query, resps []normalizedResponse, agg []AggregateEntry) (Synthesis, error) {
	// The chairman reads the raw responses: normalization exists to blind
	// the reviewers, not to launder what the chairman synthesizes from.
	attributed := make([]attributedText, len(resps))
	for i, r := range resps {
		attributed[i] = attributedText{Model: r.Model, Text: r.Raw}
	}
	prompt := buildStage3Prompt(q.Prompt, attributed, agg, q.Mode, q.VerdictType)

	stageCtx, cancel := context.WithTimeout(ctx, cfg.Timeouts.Stage3D())
	defer cancel()

	var text string
	var err error
	for attempt := 0; attempt < 2; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(chairmanRetryBase):
			case <-stageCtx.Done():
				return Synthesis{}, runErrorf(ErrKindSynthesisFailed, "chairman %s: %v", cfg.Chairman, stageCtx.Err())
			}
		}
		text, err = caller.Call(stageCtx, cfg.Chairman, stage3System, prompt)
		if err == nil && strings.TrimSpace(text) != "" {
			break
		}
	}
	if err != nil {
		return Synthesis{}, runErrorf(ErrKindSynthesisFailed, "chairman %s: %v", cfg.Chairman, err)
	}
	if strings.TrimSpace(text) == "" {
		return Synthesis{}, runErrorf(ErrKindSynthesisFailed, "chairman %s returned empty synthesis", cfg.Chairman)
	}

	syn := Synthesis{Chairman: cfg.Chairman, Text: text}
	if q.VerdictType == VerdictBinary {
		raw, conf := extractVerdict(text)
		syn.ExtractedVerdictRaw = raw
		syn.Confidence = conf
	}
	return syn, nil
}

// extractVerdict scans the synthesis from the last line upward for the
// strict verdict marker, with an optional self-reported confidence above it.
func extractVerdict(text string) (string, *float64) {
	lines := strings.Split(strings.TrimRight(text, "\n \t"), "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		line := strings.TrimSpace(lines[i])
		if line == "" {
			continue
		}
		m := verdictLine.FindStringSubmatch(line)
		if m == nil {
			return "", nil
		}
		var conf *float64
		for j := i - 1; j >= 0; j-- {
			prev := strings.TrimSpace(lines[j])
			if prev == "" {
				continue
			}
			if cm := confidenceLine.FindStringSubmatch(prev); cm != nil {
				if v, err := strconv.ParseFloat(cm[1], 64); err == nil && v >= 0 && v <= 1 {
					conf = &v
				}
			}
			break
		}
		return m[1], conf
	}
	return "", nil
}
