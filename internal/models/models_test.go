package models

import (
	"testing"
)

func TestMarketValidate(t *testing.T) {
	tests := []struct {
		name    string
		market  Market
		wantErr bool
	}{
		{
			name:    "valid market",
			market:  Market{ID: "m1", Question: "Will the Fed cut rates in March?", Volume24hr: 10},
			wantErr: false,
		},
		{
			name:    "empty ID",
			market:  Market{Question: "Will X happen?"},
			wantErr: true,
		},
		{
			name:    "empty question",
			market:  Market{ID: "m1"},
			wantErr: true,
		},
		{
			name:    "negative liquidity",
			market:  Market{ID: "m1", Question: "Will X happen?", Liquidity: -1},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.market.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestMarketTokenKey(t *testing.T) {
	m := Market{ID: "m1", Question: "q", TokenIDs: `["22", "11"]`}
	if got := m.TokenKey(); got != `["11","22"]` {
		t.Errorf("TokenKey() = %s, want [\"11\",\"22\"]", got)
	}

	empty := Market{ID: "m2", Question: "q", TokenIDs: "None"}
	if got := empty.TokenKey(); got != "" {
		t.Errorf("TokenKey() = %q, want empty", got)
	}
}

func TestSimilarityEdgeValidate(t *testing.T) {
	tests := []struct {
		name    string
		edge    SimilarityEdge
		wantErr bool
	}{
		{"valid", SimilarityEdge{SourceKey: "a", NeighborKey: "b", Similarity: 0.4}, false},
		{"self edge", SimilarityEdge{SourceKey: "a", NeighborKey: "a", Similarity: 1}, true},
		{"empty neighbor", SimilarityEdge{SourceKey: "a", Similarity: 0.4}, true},
		{"similarity above one", SimilarityEdge{SourceKey: "a", NeighborKey: "b", Similarity: 1.2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.edge.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRelationValidate(t *testing.T) {
	tests := []struct {
		name     string
		relation Relation
		wantErr  bool
	}{
		{"valid", Relation{MarketID: "a", RelatedMarketID: "b", Type: RelationEvent, Strength: 1}, false},
		{"unknown type", Relation{MarketID: "a", RelatedMarketID: "b", Type: "cousin", Strength: 1}, true},
		{"self relation", Relation{MarketID: "a", RelatedMarketID: "a", Type: RelationSector, Strength: 0.7}, true},
		{"strength out of range", Relation{MarketID: "a", RelatedMarketID: "b", Type: RelationSector, Strength: 2}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.relation.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestParseRelationType(t *testing.T) {
	for _, rt := range RelationTypes {
		got, err := ParseRelationType(string(rt))
		if err != nil || got != rt {
			t.Errorf("ParseRelationType(%s) = %s, %v", rt, got, err)
		}
	}
	if _, err := ParseRelationType("Event"); err == nil {
		t.Error("Expected error for mis-cased relation type")
	}
}
