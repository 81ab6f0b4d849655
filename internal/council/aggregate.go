package council

import "sort"

// rubricAccum collects per-dimension samples for one model.
type rubricAccum struct {
	samples map[string][]float64
}

func newRubricAccum() *rubricAccum {
	return &rubricAccum{samples: make(map[string][]float64, len(RubricDimensions))}
}

func (a *rubricAccum) add(s RubricScores) {
	a.samples["accuracy"] = append(a.samples["accuracy"], s.Accuracy)
	a.samples["relevance"] = append(a.samples["relevance"], s.Relevance)
	a.samples["completeness"] = append(a.samples["completeness"], s.Completeness)
	a.samples["conciseness"] = append(a.samples["conciseness"], s.Conciseness)
	a.samples["clarity"] = append(a.samples["clarity"], s.Clarity)
}

func (a *rubricAccum) mean() RubricScores {
	return RubricScores{
		Accuracy:     mean(a.samples["accuracy"]),
		Relevance:    mean(a.samples["relevance"]),
		Completeness: mean(a.samples["completeness"]),
		Conciseness:  mean(a.samples["conciseness"]),
		Clarity:      mean(a.samples["clarity"]),
	}
}

func (a *rubricAccum) variance() RubricScores {
	return RubricScores{
		Accuracy:     variance(a.samples["accuracy"]),
		Relevance:    variance(a.samples["relevance"]),
		Completeness: variance(a.samples["completeness"]),
		Conciseness:  variance(a.samples["conciseness"]),
		Clarity:      variance(a.samples["clarity"]),
	}
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

// variance is the population variance.
func variance(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	m := mean(xs)
	var sum float64
	for _, x := range xs {
		d := x - m
		sum += d * d
	}
	return sum / float64(len(xs))
}

// aggregate de-anonymizes the parsed rankings and folds them into the
// consensus table. A ranking of k items awards k, k-1, ..., 1 points by
// position. With self-vote exclusion on, only the reviewer's own term is
// dropped from the sum; every other responder keeps the points of its
// original position. The table is sorted best first; ties break on mean
// accuracy, then mean relevance, then model id.
func aggregate(resps []normalizedResponse, rankings []StageResult[Ranking], lm *LabelMap, excludeSelf bool) []AggregateEntry {
	type accum struct {
		borda         int
		reviewerCount int
		selfExcluded  bool
		rubric        *rubricAccum
	}
	byModel := make(map[string]*accum, len(resps))
	for _, r := range resps {
		byModel[r.Model] = &accum{rubric: newRubricAccum()}
	}

	for _, res := range rankings {
		if !res.OK() {
			continue
		}
		rk := *res.Value

		// De-anonymize position by position over the full ranking.
		// Positions are 0-based: the top position scores k, the last 1.
		k := len(rk.Ordering)
		for pos, label := range rk.Ordering {
			model, ok := lm.Delabel(label)
			if !ok {
				continue
			}
			if excludeSelf && model == rk.Reviewer {
				if a := byModel[model]; a != nil {
					a.selfExcluded = true
				}
				continue
			}
			a := byModel[model]
			if a == nil {
				continue
			}
			a.borda += k - pos
			a.reviewerCount++
		}

		for label, scores := range rk.Rubric {
			model, ok := lm.Delabel(label)
			if !ok {
				continue
			}
			if excludeSelf && model == rk.Reviewer {
				continue
			}
			if a := byModel[model]; a != nil {
				a.rubric.add(scores)
			}
		}
	}

	out := make([]AggregateEntry, 0, len(resps))
	for _, r := range resps {
		a := byModel[r.Model]
		out = append(out, AggregateEntry{
			Model:          r.Model,
			BordaPoints:    a.borda,
			MeanRubric:     a.rubric.mean(),
			RubricVariance: a.rubric.variance(),
			ReviewerCount:  a.reviewerCount,
			SelfExcluded:   a.selfExcluded,
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].BordaPoints != out[j].BordaPoints {
			return out[i].BordaPoints > out[j].BordaPoints
		}
		if out[i].MeanRubric.Accuracy != out[j].MeanRubric.Accuracy {
			return out[i].MeanRubric.Accuracy > out[j].MeanRubric.Accuracy
		}
		if out[i].MeanRubric.Relevance != out[j].MeanRubric.Relevance {
			return out[i].MeanRubric.Relevance > out[j].MeanRubric.Relevance
		}
		return out[i].Model < out[j].Model
	})
	return out
}
