package brain

import (
	"math"
	"regexp"
	"sort"
	"strings"
)

// Vector is a sparse feature vector with strictly increasing indices.
// Arithmetic walks indices in order, so results never depend on map
// iteration order.
type Vector struct {
	Indices []int
	Values  []float64
}

func (v Vector) Len() int { return len(v.Indices) }

// Dot returns the inner product of two vectors.
func (v Vector) Dot(o Vector) float64 {
	var sum float64
	i, j := 0, 0
	for i < len(v.Indices) && j < len(o.Indices) {
		switch {
		case v.Indices[i] == o.Indices[j]:
			sum += v.Values[i] * o.Values[j]
			i++
			j++
		case v.Indices[i] < o.Indices[j]:
			i++
		default:
			j++
		}
	}
	return sum
}

func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Cosine returns the cosine similarity of a and b, 0 when either is empty.
func Cosine(a, b Vector) float64 {
	na, nb := a.Norm(), b.Norm()
	if na == 0 || nb == 0 {
		return 0
	}
	return a.Dot(b) / (na * nb)
}

// sparse turns accumulated weights into an l2-normalized Vector.
func sparse(weights map[int]float64) Vector {
	indices := make([]int, 0, len(weights))
	for idx, w := range weights {
		if w != 0 {
			indices = append(indices, idx)
		}
	}
	sort.Ints(indices)
	v := Vector{Indices: indices, Values: make([]float64, len(indices))}
	for i, idx := range indices {
		v.Values[i] = weights[idx]
	}
	if n := v.Norm(); n > 0 {
		for i := range v.Values {
			v.Values[i] /= n
		}
	}
	return v
}

var (
	tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_'\-]+|[^\s\p{L}\p{N}]`)
	spacePattern = regexp.MustCompile(`\s+`)
)

// Normalize lowercases text and collapses whitespace.
func Normalize(text string) string {
	return strings.TrimSpace(spacePattern.ReplaceAllString(strings.ToLower(text), " "))
}

// Tokenize splits normalized text into word and punctuation tokens.
func Tokenize(text string) []string {
	return tokenPattern.FindAllString(Normalize(text), -1)
}
