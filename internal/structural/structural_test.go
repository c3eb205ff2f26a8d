package structural

import (
	"fmt"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/rewired-gh/polyrelated/internal/models"
)

func TestBuild(t *testing.T) {
	markets := []models.Market{
		{ID: "b", Question: "q", EventKey: "e1", EventTitle: "Event One", Category: "politics"},
		{ID: "a", Question: "q", EventKey: "e1", EventTitle: "Event One", Category: "politics"},
		{ID: "c", Question: "q", EventKey: "e2", Category: "politics"},
		{ID: "d", Question: "q", Category: "sports"},
	}

	relations, stats := Build(markets, DefaultOptions())

	if stats.EventPairs != 1 || stats.SectorPairs != 2 {
		t.Errorf("Unexpected stats: %+v", stats)
	}
	if len(relations) != 6 {
		t.Fatalf("Expected 6 relations, got %d", len(relations))
	}

	byPair := make(map[string]models.Relation)
	for _, r := range relations {
		if err := r.Validate(); err != nil {
			t.Errorf("Invalid relation %+v: %v", r, err)
		}
		byPair[r.MarketID+">"+r.RelatedMarketID] = r
	}

	for _, pair := range []string{"a>b", "b>a"} {
		r, ok := byPair[pair]
		if !ok || r.Type != models.RelationEvent || r.Strength != 1.0 || r.Description != "Same event: Event One" {
			t.Errorf("Unexpected event relation for %s: %+v", pair, r)
		}
	}
	for _, pair := range []string{"a>c", "c>a", "b>c", "c>b"} {
		r, ok := byPair[pair]
		if !ok || r.Type != models.RelationSector || r.Strength != 0.7 {
			t.Errorf("Unexpected sector relation for %s: %+v", pair, r)
		}
	}
	if _, ok := byPair["a>d"]; ok {
		t.Error("Markets in different categories must not be related")
	}
}

func TestBuildSectorCap(t *testing.T) {
	var markets []models.Market
	for i := 0; i < 10; i++ {
		markets = append(markets, models.Market{
			ID:       fmt.Sprintf("m%02d", i),
			Question: "q",
			EventKey: fmt.Sprintf("e%d", i),
			Category: "crypto",
		})
	}

	relations, stats := Build(markets, Options{SectorCap: 3, EventStrength: 1, SectorStrength: 0.7})

	perMarket := make(map[string]int)
	for _, r := range relations {
		perMarket[r.MarketID]++
	}
	for id, n := range perMarket {
		if n > 3 {
			t.Errorf("Market %s has %d sector links, cap is 3", id, n)
		}
	}
	if stats.Capped == 0 {
		t.Error("Expected some pairs to be capped")
	}
	if len(relations) != 2*stats.SectorPairs {
		t.Errorf("Expected symmetric rows, got %d rows for %d pairs", len(relations), stats.SectorPairs)
	}
}

func TestBuildDeterministic(t *testing.T) {
	markets := []models.Market{
		{ID: "z", Question: "q", Category: "x"},
		{ID: "y", Question: "q", Category: "x"},
		{ID: "x", Question: "q", Category: "x"},
	}
	first, _ := Build(markets, DefaultOptions())
	second, _ := Build([]models.Market{markets[2], markets[0], markets[1]}, DefaultOptions())
	if fmt.Sprint(first) != fmt.Sprint(second) {
		t.Error("Build output depends on input order")
	}
}

func TestBuildTruncatesDescriptionOnRuneBoundary(t *testing.T) {
	title := "x" + strings.Repeat("é", 300)
	markets := []models.Market{
		{ID: "a", Question: "q", EventKey: "e1", EventTitle: title},
		{ID: "b", Question: "q", EventKey: "e1", EventTitle: title},
	}

	relations, _ := Build(markets, DefaultOptions())
	if len(relations) != 2 {
		t.Fatalf("Expected 2 relations, got %d", len(relations))
	}
	for _, r := range relations {
		if len(r.Description) > maxDescription || !utf8.ValidString(r.Description) {
			t.Errorf("Description not cut cleanly: %d bytes, valid=%v", len(r.Description), utf8.ValidString(r.Description))
		}
		if !strings.HasPrefix(r.Description, "Same event: x") || len(r.Description) != maxDescription-1 {
			t.Errorf("Unexpected description length %d", len(r.Description))
		}
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel"},
		{"héllo", 2, "h"},
		{"héllo", 3, "hé"},
		{"日本", 2, ""},
	}
	for _, tt := range tests {
		if got := truncate(tt.in, tt.n); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.in, tt.n, got, tt.want)
		}
	}
}
