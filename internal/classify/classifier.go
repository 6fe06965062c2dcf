// Package classify assigns embeddings to the nearest class prototype.
package classify

import (
	"sort"

	"github.com/hyperjump/pawsort/internal/codec"
	"github.com/hyperjump/pawsort/internal/models"
	"github.com/hyperjump/pawsort/internal/vector"
)

// ClassifyRow scores row against every prototype by dot product. Candidates are sorted by
// descending score, equal scores by ascending class ID, and the first topK are kept.
// The photo is unknown when there is no candidate or the best score is below threshold.
// row and prototypes must be L2-normalized for scores to be cosine similarities.
func ClassifyRow(row []float32, prototypes []models.Prototype, topK int, threshold float32) models.Assignment {
	if len(prototypes) == 0 || topK <= 0 {
		return models.Assignment{BestScore: models.NoScore, Top: []models.Candidate{}}
	}
	cands := make([]models.Candidate, len(prototypes))
	for i, p := range prototypes {
		cands[i] = models.Candidate{ClassID: p.ClassID, Score: vector.Dot(row, p.Vector)}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].Score != cands[j].Score {
			return cands[i].Score > cands[j].Score
		}
		return cands[i].ClassID < cands[j].ClassID
	})
	if topK < len(cands) {
		cands = cands[:topK]
	}
	best := cands[0]
	a := models.Assignment{BestScore: best.Score, Top: cands}
	if best.Score >= threshold {
		a.BestClassID = best.ClassID
	}
	return a
}

// Classifier applies fixed topK and threshold settings.
type Classifier struct {
	TopK      int
	Threshold float32
}

// New returns a classifier.
func New(topK int, threshold float32) *Classifier {
	return &Classifier{TopK: topK, Threshold: threshold}
}

// Row classifies one embedding.
func (c *Classifier) Row(row []float32, prototypes []models.Prototype) models.Assignment {
	return ClassifyRow(row, prototypes, c.TopK, c.Threshold)
}

// Classify classifies every row of a batch, in row order.
func (c *Classifier) Classify(b *codec.Batch, prototypes []models.Prototype) []models.Assignment {
	out := make([]models.Assignment, b.N)
	for i := range out {
		out[i] = c.Row(b.Row(i), prototypes)
	}
	return out
}
