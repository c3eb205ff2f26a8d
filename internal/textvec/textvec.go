// Package textvec turns market questions into sparse TF-IDF vectors.
//
// Text is lower-cased and split into runs of two or more word characters. English stop
// words are dropped before n-grams are formed, so "will the fed cut" yields the unigrams
// "fed", "cut" and the bigram "fed cut". Terms seen in fewer than MinDF documents are
// pruned, the MaxFeatures most frequent survivors form the vocabulary, and each row is
// weighted by raw count times smoothed IDF and scaled to unit length.
//
// Rows are kept in input order and aligned with their canonical token key.
package textvec

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/tokenid"
)

var (
	// ErrInsufficientData is returned when fewer than two usable rows remain.
	ErrInsufficientData = errors.New("insufficient data")
	// ErrEmptyVocabulary is returned when pruning leaves no terms at all.
	ErrEmptyVocabulary = errors.New("no terms remain after pruning")
)

var tokenPattern = regexp.MustCompile(`[\p{L}\p{N}_]{2,}`)

// Document is one vectorizer input row.
type Document struct {
	Key  string // Canonical token key
	Text string // Cleaned question
}

// Vector is a sparse row with indices in ascending order.
type Vector struct {
	Indices []int
	Values  []float64
}

// Dot returns the inner product of two sparse vectors.
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

// Norm returns the Euclidean length of the vector.
func (v Vector) Norm() float64 {
	var sum float64
	for _, x := range v.Values {
		sum += x * x
	}
	return math.Sqrt(sum)
}

// Space is a fitted corpus: one row per document plus the vocabulary.
type Space struct {
	Keys       []string
	Rows       []Vector
	Vocabulary []string // Lexically ordered; position is the column index
}

// Len returns the number of rows.
func (s *Space) Len() int {
	return len(s.Rows)
}

// PrepareStats counts what Prepare dropped.
type PrepareStats struct {
	Input         int
	EmptyQuestion int
	EmptyKey      int
	Duplicates    int
}

// Clean collapses whitespace runs to a single space and trims the result.
func Clean(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Prepare builds vectorizer input from catalogue markets. Rows with an empty cleaned
// question or an empty token key are dropped, then rows are deduplicated by key keeping
// the first occurrence.
func Prepare(markets []models.Market) ([]Document, PrepareStats) {
	stats := PrepareStats{Input: len(markets)}
	seen := make(map[string]struct{}, len(markets))
	docs := make([]Document, 0, len(markets))

	for i := range markets {
		text := Clean(markets[i].Question)
		if text == "" {
			stats.EmptyQuestion++
			continue
		}
		key := tokenid.Normalize(markets[i].TokenIDs)
		if key == "" {
			stats.EmptyKey++
			continue
		}
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		docs = append(docs, Document{Key: key, Text: text})
	}

	return docs, stats
}

// Vectorizer holds TF-IDF fitting parameters.
type Vectorizer struct {
	MinDF       int
	MaxFeatures int
	NGramMax    int
}

// DefaultVectorizer returns unigram+bigram settings with min_df 2 and a 200k vocabulary cap.
func DefaultVectorizer() Vectorizer {
	return Vectorizer{MinDF: 2, MaxFeatures: 200000, NGramMax: 2}
}

// Analyze returns the terms of text in order of appearance, n-grams included.
func (v Vectorizer) Analyze(text string) []string {
	words := tokenPattern.FindAllString(strings.ToLower(text), -1)
	tokens := words[:0]
	for _, w := range words {
		if !IsStopWord(w) {
			tokens = append(tokens, w)
		}
	}

	maxN := v.NGramMax
	if maxN < 1 {
		maxN = 1
	}
	terms := make([]string, 0, len(tokens)*maxN)
	terms = append(terms, tokens...)
	for n := 2; n <= maxN; n++ {
		for i := 0; i+n <= len(tokens); i++ {
			terms = append(terms, strings.Join(tokens[i:i+n], " "))
		}
	}
	return terms
}

// Fit learns the vocabulary of docs and returns their weighted rows.
func (v Vectorizer) Fit(docs []Document) (*Space, error) {
	if len(docs) < 2 {
		return nil, fmt.Errorf("%w: %d usable rows, need at least 2", ErrInsufficientData, len(docs))
	}

	counts := make([]map[string]int, len(docs))
	df := make(map[string]int)
	freq := make(map[string]int)
	for i, doc := range docs {
		c := make(map[string]int)
		for _, term := range v.Analyze(doc.Text) {
			c[term]++
		}
		for term, n := range c {
			df[term]++
			freq[term] += n
		}
		counts[i] = c
	}

	minDF := v.MinDF
	if minDF < 1 {
		minDF = 1
	}
	vocab := make([]string, 0, len(df))
	for term, d := range df {
		if d >= minDF {
			vocab = append(vocab, term)
		}
	}
	if len(vocab) == 0 {
		return nil, fmt.Errorf("%w: min_df %d over %d rows", ErrEmptyVocabulary, minDF, len(docs))
	}

	if v.MaxFeatures > 0 && len(vocab) > v.MaxFeatures {
		sort.Slice(vocab, func(i, j int) bool {
			if freq[vocab[i]] != freq[vocab[j]] {
				return freq[vocab[i]] > freq[vocab[j]]
			}
			return vocab[i] < vocab[j]
		})
		vocab = vocab[:v.MaxFeatures]
	}
	sort.Strings(vocab)

	index := make(map[string]int, len(vocab))
	idf := make([]float64, len(vocab))
	n := float64(len(docs))
	for i, term := range vocab {
		index[term] = i
		idf[i] = math.Log((1+n)/(1+float64(df[term]))) + 1
	}

	space := &Space{
		Keys:       make([]string, len(docs)),
		Rows:       make([]Vector, len(docs)),
		Vocabulary: vocab,
	}
	for i, doc := range docs {
		space.Keys[i] = doc.Key
		space.Rows[i] = weigh(counts[i], index, idf)
	}
	return space, nil
}

func weigh(counts map[string]int, index map[string]int, idf []float64) Vector {
	type cell struct {
		col   int
		count int
	}
	cells := make([]cell, 0, len(counts))
	for term, c := range counts {
		if col, ok := index[term]; ok {
			cells = append(cells, cell{col: col, count: c})
		}
	}
	sort.Slice(cells, func(i, j int) bool { return cells[i].col < cells[j].col })

	vec := Vector{Indices: make([]int, len(cells)), Values: make([]float64, len(cells))}
	var sumSq float64
	for i, c := range cells {
		w := float64(c.count) * idf[c.col]
		vec.Indices[i] = c.col
		vec.Values[i] = w
		sumSq += w * w
	}
	if sumSq > 0 {
		norm := math.Sqrt(sumSq)
		for i := range vec.Values {
			vec.Values[i] /= norm
		}
	}
	return vec
}
