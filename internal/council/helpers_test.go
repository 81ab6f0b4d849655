package council

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// scripted is a deterministic Caller for engine tests. Stage 1 answers come
// from a fixed table, Stage 2 replies rank responses by the configured
// quality order, and Stage 3 returns a canned synthesis. Which stage a call
// belongs to is recovered from the system prompt.
type scripted struct {
	mu sync.Mutex

	answers   map[string]string // stage 1 answer per model
	quality   []string          // model ids, best first
	synthesis string

	stage1Err    map[string]error  // models whose stage 1 call fails
	stage2Err    map[string]error  // reviewers whose stage 2 call fails
	stage2Reply  map[string]string // verbatim stage 2 reply override per reviewer
	chairmanErrs int               // leading chairman failures before success

	calls map[string]int // per-stage call counts
}

func newScripted(answers map[string]string, quality []string, synthesis string) *scripted {
	return &scripted{
		answers:     answers,
		quality:     quality,
		synthesis:   synthesis,
		stage1Err:   map[string]error{},
		stage2Err:   map[string]error{},
		stage2Reply: map[string]string{},
		calls:       map[string]int{},
	}
}

var sentinelBlock = regexp.MustCompile(`(?s)<<<RESPONSE ([A-Z]) BEGIN>>>\n(.*?)\n<<<RESPONSE [A-Z] END>>>`)

func (s *scripted) Call(ctx context.Context, model, system, user string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	switch system {
	case stage1System:
		s.calls["stage1"]++
		if err := s.stage1Err[model]; err != nil {
			return "", err
		}
		ans, ok := s.answers[model]
		if !ok {
			return "", fmt.Errorf("no scripted answer for %s", model)
		}
		return ans, nil

	case normalizeSystem:
		s.calls["normalize"]++
		for _, text := range s.answers {
			if strings.Contains(user, text) {
				return "normalized: " + text, nil
			}
		}
		return "", fmt.Errorf("normalizer got unknown text")

	case stage2System:
		s.calls["stage2"]++
		if reply, ok := s.stage2Reply[model]; ok {
			return reply, nil
		}
		if err := s.stage2Err[model]; err != nil {
			return "", err
		}
		return s.rankingReply(user)
	}

	// stage 3
	s.calls["stage3"]++
	if s.chairmanErrs > 0 {
		s.chairmanErrs--
		return "", fmt.Errorf("chairman unavailable")
	}
	return s.synthesis, nil
}

func (s *scripted) callCount(stage string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[stage]
}

// rankingReply reverse-maps the anonymized labels in a Stage 2 prompt back
// to models via their answer text, then ranks them by the quality order.
func (s *scripted) rankingReply(prompt string) (string, error) {
	labelToModel := map[string]string{}
	for _, m := range sentinelBlock.FindAllStringSubmatch(prompt, -1) {
		label, text := m[1], m[2]
		for model, ans := range s.answers {
			if text == ans || text == "normalized: "+ans {
				labelToModel[label] = model
			}
		}
	}
	if len(labelToModel) == 0 {
		return "", fmt.Errorf("no labeled responses found in prompt")
	}

	qualityPos := map[string]int{}
	for i, m := range s.quality {
		qualityPos[m] = i
	}
	labels := make([]string, 0, len(labelToModel))
	for l := range labelToModel {
		labels = append(labels, l)
	}
	for i := 0; i < len(labels); i++ {
		for j := i + 1; j < len(labels); j++ {
			if qualityPos[labelToModel[labels[j]]] < qualityPos[labelToModel[labels[i]]] {
				labels[i], labels[j] = labels[j], labels[i]
			}
		}
	}

	var b strings.Builder
	b.WriteString(`{"ranking": [`)
	for i, l := range labels {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%q", l)
	}
	b.WriteString(`], "scores": {`)
	for i, l := range labels {
		if i > 0 {
			b.WriteString(", ")
		}
		score := 9 - qualityPos[labelToModel[l]]
		fmt.Fprintf(&b, `%q: {"accuracy": %d, "relevance": %d, "completeness": %d, "conciseness": %d, "clarity": %d}`,
			l, score, score, score, score, score)
	}
	b.WriteString("}}")
	return b.String(), nil
}

// testConfig returns a small, fast council configuration.
func testConfig(models ...string) Config {
	return Config{
		Models:           models,
		Chairman:         "google/gemini-3-pro-preview",
		ExcludeSelfVotes: true,
		Timeouts:         StageTimeouts{S1: 2000, S2: 2000, S3: 2000},
		Weights:          DefaultConfidenceWeights(),
	}
}
