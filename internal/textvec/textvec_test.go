package textvec

import (
	"errors"
	"math"
	"reflect"
	"testing"

	"github.com/rewired-gh/polyrelated/internal/models"
)

func TestClean(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"  Will   the Fed\tcut\nrates? ", "Will the Fed cut rates?"},
		{"", ""},
		{"   ", ""},
	}
	for _, tt := range tests {
		if got := Clean(tt.in); got != tt.want {
			t.Errorf("Clean(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestAnalyze(t *testing.T) {
	v := DefaultVectorizer()
	got := v.Analyze("Will the Fed cut rates in March?")
	want := []string{"fed", "cut", "rates", "march", "fed cut", "cut rates", "rates march"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("Analyze() = %v, want %v", got, want)
	}

	// Single characters never form tokens.
	if got := v.Analyze("a b c"); len(got) != 0 {
		t.Errorf("Expected no terms for single characters, got %v", got)
	}

	uni := Vectorizer{NGramMax: 1}
	if got := uni.Analyze("Bitcoin above 100k"); !reflect.DeepEqual(got, []string{"bitcoin", "100k"}) {
		t.Errorf("Unigram Analyze() = %v", got)
	}
}

func TestIsStopWord(t *testing.T) {
	for _, w := range []string{"the", "will", "in", "yourselves"} {
		if !IsStopWord(w) {
			t.Errorf("Expected %q to be a stop word", w)
		}
	}
	for _, w := range []string{"fed", "bitcoin", "election"} {
		if IsStopWord(w) {
			t.Errorf("Did not expect %q to be a stop word", w)
		}
	}
}

func TestPrepare(t *testing.T) {
	markets := []models.Market{
		{ID: "1", Question: "  Will the Fed cut rates? ", TokenIDs: `["2","1"]`},
		{ID: "2", Question: "   ", TokenIDs: `["3"]`},
		{ID: "3", Question: "Will Bitcoin hit 100k?", TokenIDs: "None"},
		{ID: "4", Question: "Duplicate tokens", TokenIDs: `["1","2"]`},
		{ID: "5", Question: "Will Bitcoin hit 150k?", TokenIDs: `["9"]`},
	}

	docs, stats := Prepare(markets)
	if len(docs) != 2 {
		t.Fatalf("Expected 2 documents, got %d", len(docs))
	}
	if docs[0].Key != `["1","2"]` || docs[0].Text != "Will the Fed cut rates?" {
		t.Errorf("Unexpected first document: %+v", docs[0])
	}
	if docs[1].Key != `["9"]` {
		t.Errorf("Unexpected second document: %+v", docs[1])
	}
	want := PrepareStats{Input: 5, EmptyQuestion: 1, EmptyKey: 1, Duplicates: 1}
	if stats != want {
		t.Errorf("Prepare stats = %+v, want %+v", stats, want)
	}
}

func TestFitInsufficientData(t *testing.T) {
	v := DefaultVectorizer()
	for _, docs := range [][]Document{nil, {{Key: "a", Text: "fed rates"}}} {
		if _, err := v.Fit(docs); !errors.Is(err, ErrInsufficientData) {
			t.Errorf("Fit(%d docs) error = %v, want ErrInsufficientData", len(docs), err)
		}
	}
}

func TestFitEmptyVocabulary(t *testing.T) {
	v := DefaultVectorizer()
	docs := []Document{{Key: "a", Text: "apples"}, {Key: "b", Text: "oranges"}}
	if _, err := v.Fit(docs); !errors.Is(err, ErrEmptyVocabulary) {
		t.Errorf("Fit error = %v, want ErrEmptyVocabulary", err)
	}
}

func TestFit(t *testing.T) {
	v := DefaultVectorizer()
	docs := []Document{
		{Key: "a", Text: "Will the Fed cut rates in March?"},
		{Key: "b", Text: "Will the Fed cut rates in June?"},
		{Key: "c", Text: "Will it rain in Paris tomorrow?"},
	}

	space, err := v.Fit(docs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if space.Len() != 3 {
		t.Fatalf("Expected 3 rows, got %d", space.Len())
	}
	if !reflect.DeepEqual(space.Keys, []string{"a", "b", "c"}) {
		t.Errorf("Row order not preserved: %v", space.Keys)
	}

	// min_df 2 keeps only the shared Fed terms, lexically ordered.
	wantVocab := []string{"cut", "cut rates", "fed", "fed cut", "rates"}
	if !reflect.DeepEqual(space.Vocabulary, wantVocab) {
		t.Errorf("Vocabulary = %v, want %v", space.Vocabulary, wantVocab)
	}

	for i := 0; i < 2; i++ {
		if n := space.Rows[i].Norm(); math.Abs(n-1) > 1e-9 {
			t.Errorf("Row %d norm = %f, want 1", i, n)
		}
	}
	if len(space.Rows[2].Indices) != 0 {
		t.Errorf("Expected empty row for unrelated question, got %v", space.Rows[2].Indices)
	}

	if sim := space.Rows[0].Dot(space.Rows[1]); math.Abs(sim-1) > 1e-9 {
		t.Errorf("Expected identical weighted rows for a and b, got similarity %f", sim)
	}
}

func TestFitMaxFeatures(t *testing.T) {
	v := Vectorizer{MinDF: 1, MaxFeatures: 2, NGramMax: 1}
	docs := []Document{
		{Key: "a", Text: "bitcoin bitcoin ethereum"},
		{Key: "b", Text: "bitcoin solana ethereum"},
	}
	space, err := v.Fit(docs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}
	if !reflect.DeepEqual(space.Vocabulary, []string{"bitcoin", "ethereum"}) {
		t.Errorf("Vocabulary = %v", space.Vocabulary)
	}
}

func TestFitSmoothedIDF(t *testing.T) {
	v := Vectorizer{MinDF: 1, NGramMax: 1}
	docs := []Document{
		{Key: "a", Text: "fed fed"},
		{Key: "b", Text: "fed ecb"},
	}
	space, err := v.Fit(docs)
	if err != nil {
		t.Fatalf("Fit failed: %v", err)
	}

	// idf(fed) = ln(3/3)+1 = 1; idf(ecb) = ln(3/2)+1
	idfECB := math.Log(1.5) + 1
	norm := math.Sqrt(1 + idfECB*idfECB)
	row := space.Rows[1]
	if len(row.Values) != 2 {
		t.Fatalf("Expected 2 weights, got %v", row.Values)
	}
	// vocabulary is [ecb fed]
	if math.Abs(row.Values[0]-idfECB/norm) > 1e-9 || math.Abs(row.Values[1]-1/norm) > 1e-9 {
		t.Errorf("Unexpected weights %v", row.Values)
	}
}

func TestVectorDot(t *testing.T) {
	a := Vector{Indices: []int{0, 2, 5}, Values: []float64{1, 2, 3}}
	b := Vector{Indices: []int{2, 3, 5}, Values: []float64{4, 5, 6}}
	if got := a.Dot(b); got != 26 {
		t.Errorf("Dot() = %f, want 26", got)
	}
	if got := a.Dot(Vector{}); got != 0 {
		t.Errorf("Dot with empty = %f, want 0", got)
	}
}
