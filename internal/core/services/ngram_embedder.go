package services

import (
	"context"
	"crypto/md5"
	"encoding/binary"
	"math"
	"strings"
)

const ngramDim = 256

// NGramEmbedder is the local fallback for the semantic cache tier: a hashed
// character-trigram frequency vector, L2-normalized. No remote backend
// needed, which keeps the semantic tier alive when the embedding service is
// unreachable.
type NGramEmbedder struct{}

func NewNGramEmbedder() *NGramEmbedder {
	return &NGramEmbedder{}
}

func (e *NGramEmbedder) Name() string { return "ngram" }

func (e *NGramEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	text = strings.ToLower(text)
	if len(text) > 2048 {
		text = text[:2048]
	}

	vec := make([]float32, ngramDim)
	for i := 0; i+3 <= len(text); i++ {
		sum := md5.Sum([]byte(text[i : i+3]))
		bucket := binary.BigEndian.Uint32(sum[:4]) % ngramDim
		vec[bucket]++
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		scale := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= scale
		}
	}
	return vec, nil
}
