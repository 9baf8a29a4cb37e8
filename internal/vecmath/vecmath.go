// Package vecmath provides the small amount of vector arithmetic shared
// by the similarity index, clustering, and novelty scoring.
package vecmath

import "math"

// CosineSimilarity computes the cosine similarity between two embedding
// vectors.
//
// Cosine similarity measures the cosine of the angle between two vectors,
// producing a value between -1 and 1:
//   - 1.0: vectors point in the same direction (identical)
//   - 0.0: vectors are orthogonal (unrelated)
//   - -1.0: vectors point in opposite directions
//
// Returns 0.0 for invalid inputs (empty vectors, zero-magnitude vectors,
// or vectors of different lengths).
func CosineSimilarity(vec1, vec2 []float32) float64 {
	if len(vec1) == 0 || len(vec2) == 0 {
		return 0.0
	}
	if len(vec1) != len(vec2) {
		return 0.0
	}

	var dotProduct float64
	var magnitude1 float64
	var magnitude2 float64

	for i := 0; i < len(vec1); i++ {
		v1 := float64(vec1[i])
		v2 := float64(vec2[i])
		dotProduct += v1 * v2
		magnitude1 += v1 * v1
		magnitude2 += v2 * v2
	}

	if magnitude1 == 0.0 || magnitude2 == 0.0 {
		return 0.0
	}

	return dotProduct / (math.Sqrt(magnitude1) * math.Sqrt(magnitude2))
}

// CosineDistance is 1 - CosineSimilarity.
func CosineDistance(vec1, vec2 []float32) float64 {
	return 1.0 - CosineSimilarity(vec1, vec2)
}

// Centroid computes the average vector of a set of vectors, renormalized
// to unit length so cosine comparisons against it stay meaningful.
// Returns nil for an empty input.
func Centroid(vectors [][]float32) []float32 {
	if len(vectors) == 0 {
		return nil
	}

	size := len(vectors[0])
	centroid := make([]float32, size)

	for _, vec := range vectors {
		for i := 0; i < size && i < len(vec); i++ {
			centroid[i] += vec[i]
		}
	}

	count := float32(len(vectors))
	for i := range centroid {
		centroid[i] /= count
	}

	return Normalize(centroid)
}

// Normalize scales a vector to unit length. A zero vector is returned
// unchanged.
func Normalize(vec []float32) []float32 {
	var magnitude float64
	for _, v := range vec {
		magnitude += float64(v) * float64(v)
	}
	if magnitude == 0 {
		return vec
	}

	magnitude = math.Sqrt(magnitude)
	normalized := make([]float32, len(vec))
	for i, v := range vec {
		normalized[i] = float32(float64(v) / magnitude)
	}
	return normalized
}
