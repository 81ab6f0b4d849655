package council

import (
	"crypto/rand"
	"fmt"
	"math/big"
)

const labelAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

// LabelMap is the per-request anonymization table. Labels are assigned by a
// cryptographically random permutation so a reviewer cannot infer authorship
// from position, and the table never appears in any Stage 2 prompt.
type LabelMap struct {
	modelToLabel map[string]string
	labelToModel map[string]string
	labels       []string
}

// NewLabelMap assigns each responder a distinct label drawn from A..Z.
func NewLabelMap(models []string) (*LabelMap, error) {
	if len(models) > len(labelAlphabet) {
		return nil, fmt.Errorf("cannot label %d responders with %d letters", len(models), len(labelAlphabet))
	}
	perm, err := securePerm(len(models))
	if err != nil {
		return nil, fmt.Errorf("label shuffle: %w", err)
	}

	lm := &LabelMap{
		modelToLabel: make(map[string]string, len(models)),
		labelToModel: make(map[string]string, len(models)),
		labels:       make([]string, len(models)),
	}
	for i, model := range models {
		label := string(labelAlphabet[perm[i]])
		lm.modelToLabel[model] = label
		lm.labelToModel[label] = model
		lm.labels[i] = label
	}
	return lm, nil
}

// Label returns the anonymized label for a model.
func (m *LabelMap) Label(model string) (string, bool) {
	l, ok := m.modelToLabel[model]
	return l, ok
}

// Delabel resolves a label back to its model id.
func (m *LabelMap) Delabel(label string) (string, bool) {
	id, ok := m.labelToModel[label]
	return id, ok
}

// Labels returns the labels in responder (council) order.
func (m *LabelMap) Labels() []string {
	out := make([]string, len(m.labels))
	copy(out, m.labels)
	return out
}

// Table returns the model-to-label mapping for the transcript.
func (m *LabelMap) Table() map[string]string {
	out := make(map[string]string, len(m.modelToLabel))
	for k, v := range m.modelToLabel {
		out[k] = v
	}
	return out
}

// securePerm returns a uniform random permutation of [0, n) over the first
// n alphabet positions, Fisher-Yates with crypto/rand.
func securePerm(n int) ([]int, error) {
	perm := make([]int, n)
	for i := range perm {
		perm[i] = i
	}
	for i := n - 1; i > 0; i-- {
		j, err := secureIntn(i + 1)
		if err != nil {
			return nil, err
		}
		perm[i], perm[j] = perm[j], perm[i]
	}
	return perm, nil
}

func secureIntn(n int) (int, error) {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		return 0, err
	}
	return int(v.Int64()), nil
}
