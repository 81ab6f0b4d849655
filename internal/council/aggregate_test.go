package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// rankingResult wraps a parsed Ranking the way runStage2 reports it.
func rankingResult(r Ranking) StageResult[Ranking] {
	return StageResult[Ranking]{Model: r.Reviewer, Value: &r}
}

func uniformScores(v float64) RubricScores {
	return RubricScores{Accuracy: v, Relevance: v, Completeness: v, Conciseness: v, Clarity: v}
}

func TestAggregateBordaCounting(t *testing.T) {
	resps := []normalizedResponse{
		{Model: "m1", Text: "a"},
		{Model: "m2", Text: "b"},
		{Model: "m3", Text: "c"},
	}
	lm, err := NewLabelMap([]string{"m1", "m2", "m3"})
	require.NoError(t, err)
	label := func(m string) string {
		l, ok := lm.Label(m)
		require.True(t, ok)
		return l
	}

	// Both reviewers rank m1 > m2 > m3 over the full set.
	ordering := []string{label("m1"), label("m2"), label("m3")}
	rubric := map[string]RubricScores{
		label("m1"): uniformScores(9),
		label("m2"): uniformScores(6),
		label("m3"): uniformScores(3),
	}
	rankings := []StageResult[Ranking]{
		rankingResult(Ranking{Reviewer: "m2", Ordering: ordering, Rubric: rubric}),
		rankingResult(Ranking{Reviewer: "m3", Ordering: ordering, Rubric: rubric}),
	}

	agg := aggregate(resps, rankings, lm, false)
	require.Len(t, agg, 3)

	// 3 items ranked by 2 reviewers: positions award 3, 2, 1 points each.
	assert.Equal(t, "m1", agg[0].Model)
	assert.Equal(t, 6, agg[0].BordaPoints)
	assert.Equal(t, "m2", agg[1].Model)
	assert.Equal(t, 4, agg[1].BordaPoints)
	assert.Equal(t, "m3", agg[2].Model)
	assert.Equal(t, 2, agg[2].BordaPoints)

	assert.InDelta(t, 9, agg[0].MeanRubric.Accuracy, 1e-9)
	assert.InDelta(t, 0, agg[0].RubricVariance.Accuracy, 1e-9)
	assert.Equal(t, 2, agg[0].ReviewerCount)
	assert.False(t, agg[0].SelfExcluded)
}

func TestAggregateSelfVoteExclusion(t *testing.T) {
	resps := []normalizedResponse{
		{Model: "m1", Text: "a"},
		{Model: "m2", Text: "b"},
		{Model: "m3", Text: "c"},
	}
	lm, err := NewLabelMap([]string{"m1", "m2", "m3"})
	require.NoError(t, err)
	label := func(m string) string { l, _ := lm.Label(m); return l }

	// Three reviewers, full rankings over the 3-model council:
	//   m1: m2 > m3 > m1    m2: m2 > m1 > m3    m3: m3 > m2 > m1
	// With exclusion, only each reviewer's own term is dropped; the others
	// keep the points of their original positions (3, 2, 1).
	rankings := []StageResult[Ranking]{
		rankingResult(Ranking{
			Reviewer: "m1",
			Ordering: []string{label("m2"), label("m3"), label("m1")},
			Rubric: map[string]RubricScores{
				label("m1"): uniformScores(4),
				label("m2"): uniformScores(9),
				label("m3"): uniformScores(6),
			},
		}),
		rankingResult(Ranking{
			Reviewer: "m2",
			Ordering: []string{label("m2"), label("m1"), label("m3")},
			Rubric: map[string]RubricScores{
				label("m1"): uniformScores(5),
				label("m2"): uniformScores(10),
				label("m3"): uniformScores(4),
			},
		}),
		rankingResult(Ranking{
			Reviewer: "m3",
			Ordering: []string{label("m3"), label("m2"), label("m1")},
			Rubric: map[string]RubricScores{
				label("m1"): uniformScores(3),
				label("m2"): uniformScores(7),
				label("m3"): uniformScores(8),
			},
		}),
	}

	agg := aggregate(resps, rankings, lm, true)
	byModel := map[string]AggregateEntry{}
	for _, e := range agg {
		byModel[e.Model] = e
	}

	// m2: 3 (from m1) + 2 (from m3); its own top-place 3 is dropped.
	assert.Equal(t, 5, byModel["m2"].BordaPoints)
	// m3: 2 (from m1) + 1 (from m2); its own top-place 3 is dropped.
	assert.Equal(t, 3, byModel["m3"].BordaPoints)
	// m1: 2 (from m2) + 1 (from m3); its own last-place 1 is dropped.
	assert.Equal(t, 3, byModel["m1"].BordaPoints)

	for _, m := range []string{"m1", "m2", "m3"} {
		assert.True(t, byModel[m].SelfExcluded, m)
		assert.Equal(t, 2, byModel[m].ReviewerCount, m)
	}
	// Self rubric rows are dropped too: m2's mean comes from 9 and 7 only.
	assert.InDelta(t, 8, byModel["m2"].MeanRubric.Accuracy, 1e-9)
}

func TestAggregateExclusionFlipChangesOnlySelfTerms(t *testing.T) {
	resps := []normalizedResponse{
		{Model: "m1", Text: "a"},
		{Model: "m2", Text: "b"},
		{Model: "m3", Text: "c"},
	}
	lm, err := NewLabelMap([]string{"m1", "m2", "m3"})
	require.NoError(t, err)
	label := func(m string) string { l, _ := lm.Label(m); return l }

	rankings := []StageResult[Ranking]{
		rankingResult(Ranking{
			Reviewer: "m1",
			Ordering: []string{label("m2"), label("m1"), label("m3")},
			Rubric:   map[string]RubricScores{},
		}),
		rankingResult(Ranking{
			Reviewer: "m2",
			Ordering: []string{label("m1"), label("m2"), label("m3")},
			Rubric:   map[string]RubricScores{},
		}),
		rankingResult(Ranking{
			Reviewer: "m3",
			Ordering: []string{label("m3"), label("m1"), label("m2")},
			Rubric:   map[string]RubricScores{},
		}),
	}

	points := func(excludeSelf bool) map[string]int {
		out := map[string]int{}
		for _, e := range aggregate(resps, rankings, lm, excludeSelf) {
			out[e.Model] = e.BordaPoints
		}
		return out
	}
	with := points(false)
	without := points(true)

	// Flipping exclusion removes exactly each reviewer's own term: m1 sat
	// at position 2 of its own list (2 points), m2 at position 2, m3 at
	// position 1 (3 points). Nothing else moves.
	assert.Equal(t, with["m1"]-2, without["m1"])
	assert.Equal(t, with["m2"]-2, without["m2"])
	assert.Equal(t, with["m3"]-3, without["m3"])
}

func TestAggregateRelabelingInvariance(t *testing.T) {
	models := []string{"m1", "m2", "m3", "m4"}
	resps := make([]normalizedResponse, len(models))
	for i, m := range models {
		resps[i] = normalizedResponse{Model: m, Text: m}
	}

	// A fixed model-level preference per reviewer; only the random label
	// assignment varies between iterations.
	prefs := map[string][]string{
		"m1": {"m2", "m1", "m3", "m4"},
		"m2": {"m2", "m3", "m1", "m4"},
		"m3": {"m3", "m2", "m4", "m1"},
		"m4": {"m2", "m4", "m3", "m1"},
	}

	var first []AggregateEntry
	for i := 0; i < 20; i++ {
		lm, err := NewLabelMap(models)
		require.NoError(t, err)

		rankings := make([]StageResult[Ranking], 0, len(prefs))
		for _, reviewer := range models {
			pref := prefs[reviewer]
			ordering := make([]string, len(pref))
			rubric := map[string]RubricScores{}
			for j, m := range pref {
				l, ok := lm.Label(m)
				require.True(t, ok)
				ordering[j] = l
				rubric[l] = uniformScores(float64(9 - j))
			}
			rankings = append(rankings, rankingResult(Ranking{Reviewer: reviewer, Ordering: ordering, Rubric: rubric}))
		}

		agg := aggregate(resps, rankings, lm, true)
		if first == nil {
			first = agg
			continue
		}
		assert.Equal(t, first, agg, "label assignment must not influence the consensus table")
	}
}

func TestAggregateTieBreaks(t *testing.T) {
	resps := []normalizedResponse{
		{Model: "zeta", Text: "a"},
		{Model: "alpha", Text: "b"},
	}
	lm, err := NewLabelMap([]string{"zeta", "alpha"})
	require.NoError(t, err)
	label := func(m string) string { l, _ := lm.Label(m); return l }

	// Opposite orderings, equal Borda. Accuracy decides.
	rankings := []StageResult[Ranking]{
		rankingResult(Ranking{
			Reviewer: "r-ignored-1",
			Ordering: []string{label("zeta"), label("alpha")},
			Rubric: map[string]RubricScores{
				label("zeta"):  {Accuracy: 5},
				label("alpha"): {Accuracy: 8},
			},
		}),
		rankingResult(Ranking{
			Reviewer: "r-ignored-2",
			Ordering: []string{label("alpha"), label("zeta")},
			Rubric: map[string]RubricScores{
				label("zeta"):  {Accuracy: 5},
				label("alpha"): {Accuracy: 8},
			},
		}),
	}

	agg := aggregate(resps, rankings, lm, false)
	require.Len(t, agg, 2)
	assert.Equal(t, agg[0].BordaPoints, agg[1].BordaPoints)
	assert.Equal(t, "alpha", agg[0].Model, "higher mean accuracy wins the tie")

	// Identical rubric rows too: the model id breaks the final tie.
	for _, r := range rankings {
		r.Value.Rubric[label("zeta")] = RubricScores{Accuracy: 8}
	}
	agg = aggregate(resps, rankings, lm, false)
	assert.Equal(t, "alpha", agg[0].Model, "lexicographic id is the last resort")
}

func TestAggregateIgnoresFailedRankings(t *testing.T) {
	resps := []normalizedResponse{{Model: "m1"}, {Model: "m2"}}
	lm, err := NewLabelMap([]string{"m1", "m2"})
	require.NoError(t, err)

	rankings := []StageResult[Ranking]{
		{Model: "m1", Error: ErrKindMalformed},
		{Model: "m2", Error: ErrKindTimeout},
	}
	agg := aggregate(resps, rankings, lm, true)
	require.Len(t, agg, 2)
	for _, e := range agg {
		assert.Zero(t, e.BordaPoints)
		assert.Zero(t, e.ReviewerCount)
	}
}

func TestVarianceAndMean(t *testing.T) {
	assert.InDelta(t, 2, mean([]float64{1, 2, 3}), 1e-9)
	assert.InDelta(t, 0, mean(nil), 1e-9)
	assert.InDelta(t, 0, variance([]float64{5, 5, 5}), 1e-9)
	// Population variance of {0, 10} around mean 5.
	assert.InDelta(t, 25, variance([]float64{0, 10}), 1e-9)
}
