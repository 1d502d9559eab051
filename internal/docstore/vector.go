package docstore

import (
	"encoding/binary"
	"math"
)

// VectorToBlob encodes a vector as little-endian float64 bytes.
func VectorToBlob(vec []float64) []byte {
	if len(vec) == 0 {
		return nil
	}
	blob := make([]byte, len(vec)*8)
	for i, v := range vec {
		binary.LittleEndian.PutUint64(blob[i*8:], math.Float64bits(v))
	}
	return blob
}

// BlobToVector decodes a stored embedding blob; a malformed blob decodes to
// nil rather than a partial vector.
func BlobToVector(blob []byte) []float64 {
	if len(blob) == 0 || len(blob)%8 != 0 {
		return nil
	}
	vec := make([]float64, len(blob)/8)
	for i := range vec {
		vec[i] = math.Float64frombits(binary.LittleEndian.Uint64(blob[i*8:]))
	}
	return vec
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either is empty, zero, or the dimensions differ.
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
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// NormalizeCosine maps cosine similarity from [-1, 1] into [0, 1].
func NormalizeCosine(score float64) float64 {
	if score < -1 {
		score = -1
	} else if score > 1 {
		score = 1
	}
	return (score + 1) / 2
}
