package runner

import (
	"math/rand/v2"
	"sort"

	"github.com/samcharles93/engineprep/internal/buffers"
)

// DefaultSeed makes smoke-test inputs reproducible across runs.
const DefaultSeed = 42

// FillRandom writes uniform [0,1) values into every input host buffer.
func FillRandom(inputs []*buffers.Pair, seed uint64) error {
	rng := rand.New(rand.NewPCG(seed, seed))
	for _, p := range inputs {
		vals := make([]float32, p.Shape.Volume())
		for i := range vals {
			vals[i] = rng.Float32()
		}
		if err := p.SetFloat32(vals); err != nil {
			return err
		}
	}
	return nil
}

// Prediction is one class index with its score.
type Prediction struct {
	Class int
	Score float32
	Label string
}

// TopK returns the k highest scores of row, best first. Ties keep the lower
// class index first. k is clamped to [0, len(row)].
func TopK(row []float32, k int, labels []string) []Prediction {
	idx := make([]int, len(row))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return row[idx[a]] > row[idx[b]] })
	k = max(0, min(k, len(idx)))
	out := make([]Prediction, k)
	for i := 0; i < k; i++ {
		c := idx[i]
		out[i] = Prediction{Class: c, Score: row[c]}
		if c < len(labels) {
			out[i].Label = labels[c]
		}
	}
	return out
}
