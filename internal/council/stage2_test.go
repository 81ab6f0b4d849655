package council

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		found bool
	}{
		{"bare object", `{"a": 1}`, `{"a": 1}`, true},
		{"fenced", "Here you go:\n```json\n{\"a\": 1}\n```", `{"a": 1}`, true},
		{"prose around", `Sure! {"a": {"b": 2}} hope that helps`, `{"a": {"b": 2}}`, true},
		{"braces in strings", `{"a": "}{"}`, `{"a": "}{"}`, true},
		{"escaped quote", `{"a": "say \"}\" ok"}`, `{"a": "say \"}\" ok"}`, true},
		{"unbalanced", `{"a": 1`, "", false},
		{"no object", "plain text only", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := extractJSONObject(tt.in)
			assert.Equal(t, tt.found, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseRanking(t *testing.T) {
	assigned := []string{"A", "B"}
	valid := `{"ranking": ["B", "A"], "scores": {
		"A": {"accuracy": 5, "relevance": 6, "completeness": 7, "conciseness": 8, "clarity": 9},
		"B": {"accuracy": 9, "relevance": 9, "completeness": 9, "conciseness": 9, "clarity": 9}}}`

	t.Run("valid with fences", func(t *testing.T) {
		r, err := parseRanking("rev", "```json\n"+valid+"\n```", assigned)
		require.NoError(t, err)
		assert.Equal(t, []string{"B", "A"}, r.Ordering)
		assert.Equal(t, "rev", r.Reviewer)
		assert.InDelta(t, 5, r.Rubric["A"].Accuracy, 1e-9)
	})

	t.Run("scores clamp to range", func(t *testing.T) {
		out := `{"ranking": ["A", "B"], "scores": {
			"A": {"accuracy": 15, "relevance": -3, "completeness": 7, "conciseness": 8, "clarity": 9},
			"B": {"accuracy": 9, "relevance": 9, "completeness": 9, "conciseness": 9, "clarity": 9}}}`
		r, err := parseRanking("rev", out, assigned)
		require.NoError(t, err)
		assert.InDelta(t, 10, r.Rubric["A"].Accuracy, 1e-9)
		assert.InDelta(t, 0, r.Rubric["A"].Relevance, 1e-9)
	})

	rejects := []struct {
		name  string
		reply string
	}{
		{"no json", "I rank B first then A"},
		{"missing label", `{"ranking": ["A"], "scores": {"A": {"accuracy":1,"relevance":1,"completeness":1,"conciseness":1,"clarity":1}}}`},
		{"duplicate label", `{"ranking": ["A", "A"], "scores": {"A": {"accuracy":1,"relevance":1,"completeness":1,"conciseness":1,"clarity":1}}}`},
		{"unknown label", `{"ranking": ["A", "C"], "scores": {}}`},
		{"missing scores row", `{"ranking": ["A", "B"], "scores": {"A": {"accuracy":1,"relevance":1,"completeness":1,"conciseness":1,"clarity":1}}}`},
		{"missing dimension", `{"ranking": ["A", "B"], "scores": {
			"A": {"accuracy":1,"relevance":1,"completeness":1,"conciseness":1,"clarity":1},
			"B": {"accuracy":1,"relevance":1,"completeness":1,"conciseness":1}}}`},
	}
	for _, tt := range rejects {
		t.Run(tt.name, func(t *testing.T) {
			_, err := parseRanking("rev", tt.reply, assigned)
			require.Error(t, err)
			assert.Equal(t, ErrKindMalformed, classifyCallErr(err))
		})
	}
}

func TestAssignReviewersFull(t *testing.T) {
	resps := []normalizedResponse{{Model: "m1"}, {Model: "m2"}, {Model: "m3"}}
	lm, err := NewLabelMap([]string{"m1", "m2", "m3"})
	require.NoError(t, err)

	got, err := assignReviewers(resps, lm, 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for reviewer, labels := range got {
		assert.Len(t, labels, 3, reviewer)
	}
}

func TestAssignReviewersCapped(t *testing.T) {
	models := []string{"m1", "m2", "m3", "m4"}
	resps := make([]normalizedResponse, len(models))
	for i, m := range models {
		resps[i] = normalizedResponse{Model: m}
	}
	lm, err := NewLabelMap(models)
	require.NoError(t, err)

	got, err := assignReviewers(resps, lm, 2)
	require.NoError(t, err)

	// Every response gets exactly 2 distinct reviewers, never its author.
	perLabel := map[string][]string{}
	for reviewer, labels := range got {
		seen := map[string]bool{}
		for _, l := range labels {
			assert.False(t, seen[l], "reviewer %s assigned %s twice", reviewer, l)
			seen[l] = true
			perLabel[l] = append(perLabel[l], reviewer)
		}
	}
	require.Len(t, perLabel, 4)
	for label, reviewers := range perLabel {
		assert.Len(t, reviewers, 2, label)
		author, ok := lm.Delabel(label)
		require.True(t, ok)
		for _, r := range reviewers {
			assert.NotEqual(t, author, r, "author reviewing own response")
		}
	}

	// Round-robin keeps load even: 8 assignments over 4 reviewers.
	total := 0
	for _, labels := range got {
		total += len(labels)
	}
	assert.Equal(t, 8, total)
}

func TestAssignReviewersCapAbovePool(t *testing.T) {
	resps := []normalizedResponse{{Model: "m1"}, {Model: "m2"}}
	lm, err := NewLabelMap([]string{"m1", "m2"})
	require.NoError(t, err)

	// A cap of 5 with 2 responders degrades to everyone-reviews-everything.
	got, err := assignReviewers(resps, lm, 5)
	require.NoError(t, err)
	for _, labels := range got {
		assert.Len(t, labels, 2)
	}
}

func TestRunStage2RetriesMalformedReply(t *testing.T) {
	caller := newScripted(fourAnswers(), fourModels, "final")
	caller.stage2Reply["openai/gpt-5.1"] = "I cannot produce JSON"

	cfg := testConfig(fourModels...)
	o, err := New(caller, cfg)
	require.NoError(t, err)

	res, err := o.Deliberate(context.Background(), Query{Prompt: "q"})
	require.NoError(t, err)

	// The stubborn reviewer burns its retry and is dropped as malformed;
	// the other three rankings still count.
	assert.Equal(t, 3, res.Stage2Count)
	require.NotNil(t, res.Confidence)
	assert.Greater(t, *res.Confidence, 0.5)
}
