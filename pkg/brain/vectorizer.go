package brain

import (
	"hash/fnv"
	"math"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
)

// Vectorizer maps a token sequence to a feature vector. Implementations
// are immutable once built and safe for concurrent use.
type Vectorizer interface {
	Name() string
	Vectorize(tokens []string) Vector
}

const (
	VectorizerTFIDF    = "tfidf"
	VectorizerBOW      = "bow"
	VectorizerChargram = "chargram"
	VectorizerHash     = "hash"

	DefaultVectorizer = VectorizerTFIDF
)

// VectorizerNames lists the available strategies.
func VectorizerNames() []string {
	return []string{VectorizerBOW, VectorizerChargram, VectorizerHash, VectorizerTFIDF}
}

// NewVectorizer builds the named strategy. docs are the tokenized learned
// utterances, in deterministic order; strategies that need no fitting
// ignore them.
func NewVectorizer(name string, docs [][]string) (Vectorizer, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", VectorizerTFIDF:
		return fitTFIDF(docs, true), nil
	case VectorizerBOW:
		return fitTFIDF(docs, false), nil
	case VectorizerChargram:
		return &chargramVectorizer{dims: 384}, nil
	case VectorizerHash:
		return &hashVectorizer{dims: 256}, nil
	default:
		return nil, goerr.Wrap(ErrUnknownVectorizer, "build vectorizer", goerr.V("vectorizer", name))
	}
}

// ValidVectorizer reports whether name selects a known strategy.
func ValidVectorizer(name string) bool {
	_, err := NewVectorizer(name, nil)
	return err == nil
}

type tfidfVectorizer struct {
	vocab  map[string]int
	idf    []float64
	useIDF bool
}

// fitTFIDF fits a vocabulary over docs with smoothed idf
// ln((1+n)/(1+df)) + 1. Vocabulary indices follow sorted token order.
func fitTFIDF(docs [][]string, useIDF bool) *tfidfVectorizer {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, tok := range doc {
			if _, ok := seen[tok]; ok {
				continue
			}
			seen[tok] = struct{}{}
			df[tok]++
		}
	}
	terms := make([]string, 0, len(df))
	for term := range df {
		terms = append(terms, term)
	}
	sort.Strings(terms)

	v := &tfidfVectorizer{
		vocab:  make(map[string]int, len(terms)),
		idf:    make([]float64, len(terms)),
		useIDF: useIDF,
	}
	n := float64(len(docs))
	for i, term := range terms {
		v.vocab[term] = i
		v.idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}
	return v
}

func (v *tfidfVectorizer) Name() string {
	if v.useIDF {
		return VectorizerTFIDF
	}
	return VectorizerBOW
}

func (v *tfidfVectorizer) Vectorize(tokens []string) Vector {
	weights := make(map[int]float64, len(tokens))
	for _, tok := range tokens {
		idx, ok := v.vocab[tok]
		if !ok {
			continue
		}
		weights[idx]++
	}
	if v.useIDF {
		for idx := range weights {
			weights[idx] *= v.idf[idx]
		}
	}
	return sparse(weights)
}

func (v *tfidfVectorizer) VocabularySize() int { return len(v.vocab) }

// chargramVectorizer hashes character trigrams of the normalized sentence
// plus whole tokens into a fixed number of buckets.
type chargramVectorizer struct {
	dims int
}

func (v *chargramVectorizer) Name() string { return VectorizerChargram }

func (v *chargramVectorizer) Vectorize(tokens []string) Vector {
	weights := make(map[int]float64)
	text := strings.Join(tokens, " ")
	if text == "" {
		return Vector{}
	}
	window := "#" + text + "#"
	for i := 0; i+3 <= len(window); i++ {
		weights[bucket(window[i:i+3], v.dims)] += 1
	}
	for _, tok := range tokens {
		weights[bucket("tok:"+tok, v.dims)] += 1.25
	}
	return sparse(weights)
}

// hashVectorizer is signed feature hashing over tokens; longer tokens weigh
// more.
type hashVectorizer struct {
	dims int
}

func (v *hashVectorizer) Name() string { return VectorizerHash }

func (v *hashVectorizer) Vectorize(tokens []string) Vector {
	weights := make(map[int]float64)
	for _, tok := range tokens {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tok))
		sum := h.Sum64()
		sign := 1.0
		if sum&1 == 1 {
			sign = -1
		}
		weights[int(sum%uint64(v.dims))] += sign * float64(1+len(tok)/8)
	}
	return sparse(weights)
}

func bucket(s string, dims int) int {
	h := fnv.New64a()
	_, _ = h.Write([]byte(s))
	return int(h.Sum64() % uint64(dims))
}
