package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKendallDistance(t *testing.T) {
	tests := []struct {
		name           string
		a, b           []string
		wantDiscordant int
		wantTotal      int
	}{
		{"identical", []string{"x", "y", "z"}, []string{"x", "y", "z"}, 0, 3},
		{"reversed", []string{"x", "y", "z"}, []string{"z", "y", "x"}, 3, 3},
		{"one swap", []string{"x", "y", "z"}, []string{"x", "z", "y"}, 1, 3},
		{"partial overlap", []string{"x", "y", "q"}, []string{"y", "x", "r"}, 1, 1},
		{"no overlap", []string{"x"}, []string{"y"}, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, n := kendallDistance(tt.a, tt.b)
			assert.Equal(t, tt.wantDiscordant, d)
			assert.Equal(t, tt.wantTotal, n)
		})
	}
}

func TestRankAgreement(t *testing.T) {
	same := [][]string{{"a", "b", "c"}, {"a", "b", "c"}, {"a", "b", "c"}}
	assert.InDelta(t, 1, rankAgreement(same), 1e-9)

	opposed := [][]string{{"a", "b", "c"}, {"c", "b", "a"}}
	assert.InDelta(t, 0, rankAgreement(opposed), 1e-9)

	// No comparable pairs anywhere: neutral-high, the spread and rubric
	// terms carry the signal instead.
	disjoint := [][]string{{"a"}, {"b"}}
	assert.InDelta(t, 1, rankAgreement(disjoint), 1e-9)
}

func TestRubricAgreement(t *testing.T) {
	tight := []AggregateEntry{{RubricVariance: uniformScores(0)}}
	assert.InDelta(t, 1, rubricAgreement(tight), 1e-9)

	polarized := []AggregateEntry{{RubricVariance: uniformScores(maxRubricVariance)}}
	assert.InDelta(t, 0, rubricAgreement(polarized), 1e-9)

	// Variance beyond the normalizer clamps instead of going negative.
	extreme := []AggregateEntry{{RubricVariance: uniformScores(25)}}
	assert.InDelta(t, 0, rubricAgreement(extreme), 1e-9)

	assert.InDelta(t, 1, rubricAgreement(nil), 1e-9)
}

func TestBordaSpread(t *testing.T) {
	assert.InDelta(t, 0.5, bordaSpread([]AggregateEntry{{BordaPoints: 10}, {BordaPoints: 5}}), 1e-9)
	assert.InDelta(t, 0, bordaSpread([]AggregateEntry{{BordaPoints: 7}, {BordaPoints: 7}}), 1e-9)
	assert.InDelta(t, 1, bordaSpread([]AggregateEntry{{BordaPoints: 3}}), 1e-9)
	assert.InDelta(t, 0, bordaSpread([]AggregateEntry{{BordaPoints: 0}, {BordaPoints: 0}}), 1e-9)
}

func TestScoreConfidence(t *testing.T) {
	w := DefaultConfidenceWeights()

	t.Run("fewer than two reviewers pins to neutral", func(t *testing.T) {
		agg := []AggregateEntry{{BordaPoints: 3}}
		assert.Equal(t, 0.50, scoreConfidence([][]string{{"a"}}, agg, w))
		assert.Equal(t, 0.50, scoreConfidence(nil, agg, w))
	})

	t.Run("perfect agreement hits the ceiling", func(t *testing.T) {
		orderings := [][]string{{"a", "b"}, {"a", "b"}}
		agg := []AggregateEntry{{Model: "a", BordaPoints: 4}, {Model: "b", BordaPoints: 2}}
		got := scoreConfidence(orderings, agg, w)
		// rank 1.0, rubric 1.0, spread 0.5 under default weights.
		assert.InDelta(t, 0.5*1+0.3*1+0.2*0.5, got, 1e-9)
	})

	t.Run("never below the floor", func(t *testing.T) {
		orderings := [][]string{{"a", "b"}, {"b", "a"}}
		agg := []AggregateEntry{
			{Model: "a", BordaPoints: 3, RubricVariance: uniformScores(maxRubricVariance)},
			{Model: "b", BordaPoints: 3, RubricVariance: uniformScores(maxRubricVariance)},
		}
		got := scoreConfidence(orderings, agg, w)
		assert.GreaterOrEqual(t, got, confidenceFloor)
	})
}

func TestMapVerdict(t *testing.T) {
	tests := []struct {
		name       string
		raw        string
		confidence float64
		want       Verdict
		wantConf   float64
	}{
		{"approved confident", RawApproved, 0.9, VerdictPass, 0.9},
		{"approved below threshold", RawApproved, 0.4, VerdictUnclear, 0.4},
		{"rejected regardless of confidence", RawRejected, 0.2, VerdictFail, 0.2},
		{"no marker", "", 0.95, VerdictUnclear, 0.50},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, c := mapVerdict(tt.raw, tt.confidence, 0.6)
			assert.Equal(t, tt.want, v)
			assert.InDelta(t, tt.wantConf, c, 1e-9)
		})
	}
}
