package council

import (
	"context"
	"encoding/json"
	"fmt"
)

// assignReviewers decides which labels each reviewer ranks. With no reviewer
// cap every responder reviews the full set (its own response included,
// unrecognizably anonymized; the self vote is dropped at aggregation). With
// a cap k, each response is assigned to k distinct reviewers, never its own
// author, by round-robin over a shuffled reviewer order so load stays even.
func assignReviewers(resps []normalizedResponse, lm *LabelMap, maxReviewers int) (map[string][]string, error) {
	n := len(resps)
	assignments := make(map[string][]string, n)

	if maxReviewers <= 0 || maxReviewers >= n {
		labels := make([]string, n)
		for i, r := range resps {
			label, ok := lm.Label(r.Model)
			if !ok {
				return nil, fmt.Errorf("no label for responder %s", r.Model)
			}
			labels[i] = label
		}
		for _, r := range resps {
			assignments[r.Model] = append([]string(nil), labels...)
		}
		return assignments, nil
	}

	k := maxReviewers
	if k > n-1 {
		k = n - 1
	}

	perm, err := securePerm(n)
	if err != nil {
		return nil, fmt.Errorf("reviewer shuffle: %w", err)
	}
	rotation := make([]string, n)
	for i, p := range perm {
		rotation[i] = resps[p].Model
	}

	ptr := 0
	for _, r := range resps {
		label, ok := lm.Label(r.Model)
		if !ok {
			return nil, fmt.Errorf("no label for responder %s", r.Model)
		}
		picked := make(map[string]bool, k)
		for len(picked) < k {
			cand := rotation[ptr%n]
			ptr++
			if cand == r.Model || picked[cand] {
				continue
			}
			picked[cand] = true
			assignments[cand] = append(assignments[cand], label)
		}
	}
	return assignments, nil
}

// stage2Reply is the raw JSON contract a reviewer must satisfy.
type stage2Reply struct {
	Ranking []string                      `json:"ranking"`
	Scores  map[string]map[string]float64 `json:"scores"`
}

// parseRanking extracts and validates one reviewer's reply against its
// assigned labels: the ranking must be an exact permutation of the
// assignment, and every label needs a full rubric row. Scores are clamped
// to [0, 10] rather than rejected.
func parseRanking(reviewer, reply string, assigned []string) (Ranking, error) {
	raw, ok := extractJSONObject(reply)
	if !ok {
		return Ranking{}, &parseError{reviewer: reviewer, reason: "no JSON object in reply"}
	}
	var parsed stage2Reply
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("invalid JSON: %v", err)}
	}

	want := make(map[string]bool, len(assigned))
	for _, l := range assigned {
		want[l] = true
	}

	if len(parsed.Ranking) != len(assigned) {
		return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("ranking has %d labels, expected %d", len(parsed.Ranking), len(assigned))}
	}
	seen := make(map[string]bool, len(assigned))
	for _, l := range parsed.Ranking {
		if !want[l] {
			return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("unknown label %q in ranking", l)}
		}
		if seen[l] {
			return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("duplicate label %q in ranking", l)}
		}
		seen[l] = true
	}

	rubric := make(map[string]RubricScores, len(assigned))
	for _, l := range assigned {
		row, ok := parsed.Scores[l]
		if !ok {
			return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("no scores for label %q", l)}
		}
		for _, dim := range RubricDimensions {
			if _, ok := row[dim]; !ok {
				return Ranking{}, &parseError{reviewer: reviewer, reason: fmt.Sprintf("label %q missing dimension %q", l, dim)}
			}
		}
		rubric[l] = RubricScores{
			Accuracy:     row["accuracy"],
			Relevance:    row["relevance"],
			Completeness: row["completeness"],
			Conciseness:  row["conciseness"],
			Clarity:      row["clarity"],
		}.clamped()
	}

	return Ranking{Reviewer: reviewer, Ordering: parsed.Ranking, Rubric: rubric}, nil
}

// runStage2 fans out the ranking round. Each reviewer sees its assigned
// responses in an independently shuffled order so presentation position
// cannot systematically bias any one response. A reply that fails the JSON
// contract is retried once with a terser instruction before the reviewer is
// written off as malformed.
func runStage2(ctx context.Context, caller Caller, cfg Config, question string, resps []normalizedResponse, lm *LabelMap, assignments map[string][]string) []StageResult[Ranking] {
	textByLabel := make(map[string]string, len(resps))
	for _, r := range resps {
		if label, ok := lm.Label(r.Model); ok {
			textByLabel[label] = r.Text
		}
	}

	reviewers := make([]string, 0, len(assignments))
	for _, r := range resps {
		if len(assignments[r.Model]) > 0 {
			reviewers = append(reviewers, r.Model)
		}
	}

	return fanOut(ctx, reviewers, cfg.Timeouts.Stage2D(), func(ctx context.Context, reviewer string) (Ranking, error) {
		assigned := assignments[reviewer]

		perm, err := securePerm(len(assigned))
		if err != nil {
			return Ranking{}, err
		}
		entries := make([]labeledText, len(assigned))
		for i, p := range perm {
			label := assigned[p]
			entries[i] = labeledText{Label: label, Text: textByLabel[label]}
		}

		prompt := buildStage2Prompt(question, entries)
		reply, err := caller.Call(ctx, reviewer, stage2System, prompt)
		if err != nil {
			return Ranking{}, err
		}
		ranking, perr := parseRanking(reviewer, reply, assigned)
		if perr == nil {
			return ranking, nil
		}

		reply, err = caller.Call(ctx, reviewer, stage2System, prompt+stage2RetrySuffix)
		if err != nil {
			return Ranking{}, err
		}
		ranking, perr = parseRanking(reviewer, reply, assigned)
		if perr != nil {
			return Ranking{}, perr
		}
		ranking.Retried = true
		return ranking, nil
	})
}
