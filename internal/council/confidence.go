package council

// maxRubricVariance is the variance of maximally polarized 0/10 scores,
// used to normalize rubric disagreement into [0, 1].
const maxRubricVariance = 6.25

// Confidence clamp bounds. The engine never claims certainty in either
// direction.
const (
	confidenceFloor = 0.05
	confidenceCeil  = 0.99
)

// scoreConfidence blends three agreement signals from the ranking round:
// how similarly reviewers ordered the responses, how tightly their rubric
// scores cluster, and how decisively the winner leads. Fewer than two
// successful reviewers means there is no agreement to measure, so the
// score pins to a neutral 0.50.
func scoreConfidence(orderings [][]string, agg []AggregateEntry, w ConfidenceWeights) float64 {
	if len(orderings) < 2 {
		return 0.50
	}

	cRank := rankAgreement(orderings)
	cRubric := rubricAgreement(agg)
	cSpread := bordaSpread(agg)

	conf := w.Rank*cRank + w.Rubric*cRubric + w.Spread*cSpread
	if conf < confidenceFloor {
		return confidenceFloor
	}
	if conf > confidenceCeil {
		return confidenceCeil
	}
	return conf
}

// rankAgreement is the mean pairwise Kendall agreement across reviewer
// orderings, computed over each pair's common items. 1 means identical
// orders, 0 means full reversal. Pairs sharing fewer than two items carry
// no signal and are skipped.
func rankAgreement(orderings [][]string) float64 {
	var sum float64
	var pairs int
	for i := 0; i < len(orderings); i++ {
		for j := i + 1; j < len(orderings); j++ {
			discordant, total := kendallDistance(orderings[i], orderings[j])
			if total == 0 {
				continue
			}
			sum += 1 - float64(discordant)/float64(total)
			pairs++
		}
	}
	if pairs == 0 {
		return 1
	}
	return sum / float64(pairs)
}

// kendallDistance counts discordant pairs between two orderings over their
// common items, and the number of comparable pairs.
func kendallDistance(a, b []string) (discordant, total int) {
	posB := make(map[string]int, len(b))
	for i, m := range b {
		posB[m] = i
	}
	common := make([]string, 0, len(a))
	for _, m := range a {
		if _, ok := posB[m]; ok {
			common = append(common, m)
		}
	}
	for i := 0; i < len(common); i++ {
		for j := i + 1; j < len(common); j++ {
			total++
			if posB[common[i]] > posB[common[j]] {
				discordant++
			}
		}
	}
	return discordant, total
}

// rubricAgreement maps mean rubric variance to [0, 1], 1 meaning reviewers
// scored in lockstep.
func rubricAgreement(agg []AggregateEntry) float64 {
	var sum float64
	var n int
	for _, e := range agg {
		v := e.RubricVariance
		for _, x := range []float64{v.Accuracy, v.Relevance, v.Completeness, v.Conciseness, v.Clarity} {
			sum += x
			n++
		}
	}
	if n == 0 {
		return 1
	}
	ratio := (sum / float64(n)) / maxRubricVariance
	if ratio > 1 {
		ratio = 1
	}
	return 1 - ratio
}

// bordaSpread measures how far ahead the winner is of the runner-up,
// relative to the winner's score.
func bordaSpread(agg []AggregateEntry) float64 {
	if len(agg) < 2 {
		return 1
	}
	top := float64(agg[0].BordaPoints)
	if top <= 0 {
		return 0
	}
	second := float64(agg[1].BordaPoints)
	return (top - second) / top
}

// mapVerdict turns the chairman's raw marker plus the computed confidence
// into the engine verdict. A missing marker in binary mode is never
// guessed around: the result is unclear at neutral confidence.
func mapVerdict(raw string, confidence, threshold float64) (Verdict, float64) {
	switch raw {
	case RawApproved:
		if confidence >= threshold {
			return VerdictPass, confidence
		}
		return VerdictUnclear, confidence
	case RawRejected:
		return VerdictFail, confidence
	default:
		return VerdictUnclear, 0.50
	}
}
