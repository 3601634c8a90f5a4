package store

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"unicode"
)

// embeddingDim is the width of topic vectors.
const embeddingDim = 64

// topicEmbedding hashes the words of text into a fixed-width unit vector.
// Identical topics map to identical vectors, so similarity search over
// stored artifacts groups runs on the same topic without an external model.
func topicEmbedding(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, embeddingDim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		sum := h.Sum32()
		sign := float32(1)
		if sum&1 == 1 {
			sign = -1
		}
		vec[int(sum>>1)%embeddingDim] += sign
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		vec[0] = 1
		return vec, nil
	}
	n := float32(math.Sqrt(norm))
	for i := range vec {
		vec[i] /= n
	}
	return vec, nil
}
