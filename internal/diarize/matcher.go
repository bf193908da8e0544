package diarize

import (
	"math"

	"github.com/murmurlabs/murmur-core/internal/gallery"
)

// CosineSimilarity returns dot(a,b) / (|a|*|b|), clamped to [-1, 1].
// Mismatched dimensions or a zero-norm operand score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim > 1 {
		sim = 1
	}
	if sim < -1 {
		sim = -1
	}
	return sim
}

// Match scores the observed voiceprint against every gallery profile and
// returns the best one when its similarity strictly exceeds threshold.
// Profiles must be ordered by id; on an exact similarity tie the lowest id
// wins, keeping results reproducible.
func Match(observed []float64, profiles []gallery.Profile, threshold float64) (gallery.Profile, float64, bool) {
	var best gallery.Profile
	bestScore := math.Inf(-1)
	found := false
	for _, p := range profiles {
		score := CosineSimilarity(observed, p.Embedding)
		if score > bestScore {
			best = p
			bestScore = score
			found = true
		}
	}
	if !found || bestScore <= threshold {
		return gallery.Profile{}, bestScore, false
	}
	return best, bestScore, true
}

// UpdateEmbedding folds a confidently-matched observation into a profile's
// running voiceprint: updated = (1-weight)*old + weight*observed, then
// L2-normalized. Called only after a match has been resolved, never for
// rejected observations. A degenerate zero-norm result leaves the old
// embedding unchanged.
func UpdateEmbedding(old, observed []float64, weight float64) []float64 {
	if len(old) != len(observed) || len(old) == 0 {
		return append([]float64(nil), old...)
	}
	updated := make([]float64, len(old))
	var norm float64
	for i := range old {
		updated[i] = (1-weight)*old[i] + weight*observed[i]
		norm += updated[i] * updated[i]
	}
	if norm == 0 {
		return append([]float64(nil), old...)
	}
	norm = math.Sqrt(norm)
	for i := range updated {
		updated[i] /= norm
	}
	return updated
}
