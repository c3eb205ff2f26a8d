package models

import (
	"errors"
	"fmt"
	"time"
)

// RelationType names the strategy that produced a related market.
type RelationType string

const (
	RelationSimilarity  RelationType = "similarity"
	RelationEvent       RelationType = "event"
	RelationSector      RelationType = "sector"
	RelationCompanyPair RelationType = "company_pair"
	RelationTextFuzzy   RelationType = "text_fuzzy"
)

// RelationTypes lists every known relation type in resolution order.
var RelationTypes = []RelationType{
	RelationSimilarity,
	RelationEvent,
	RelationSector,
	RelationCompanyPair,
	RelationTextFuzzy,
}

// ParseRelationType validates a relation type name.
func ParseRelationType(s string) (RelationType, error) {
	for _, t := range RelationTypes {
		if string(t) == s {
			return t, nil
		}
	}
	return "", fmt.Errorf("unknown relation type: %q", s)
}

// SimilarityEdge is a directed nearest-neighbour link between two token keys.
// Edges are produced in batch over a full snapshot and are not symmetric.
type SimilarityEdge struct {
	SourceKey   string  `json:"source_key"`
	NeighborKey string  `json:"neighbor_key"`
	Similarity  float64 `json:"similarity"` // Cosine similarity in [0, 1]
}

// Validate checks that the edge is well formed.
func (e *SimilarityEdge) Validate() error {
	if e.SourceKey == "" {
		return errors.New("edge source key must not be empty")
	}
	if e.NeighborKey == "" {
		return errors.New("edge neighbor key must not be empty")
	}
	if e.SourceKey == e.NeighborKey {
		return errors.New("edge must not point at its own source")
	}
	if e.Similarity < 0.0 || e.Similarity > 1.0 {
		return errors.New("edge similarity must be between 0.0 and 1.0")
	}
	return nil
}

// Relation is a curated structural relation persisted by the batch build.
type Relation struct {
	MarketID        string       `json:"market_id"`
	RelatedMarketID string       `json:"related_market_id"`
	Type            RelationType `json:"relationship_type"`
	Strength        float64      `json:"strength"`
	Description     string       `json:"description,omitempty"`
}

// Validate checks that the relation is well formed.
func (r *Relation) Validate() error {
	if r.MarketID == "" || r.RelatedMarketID == "" {
		return errors.New("relation market IDs must not be empty")
	}
	if r.MarketID == r.RelatedMarketID {
		return errors.New("relation must not point at its own market")
	}
	if _, err := ParseRelationType(string(r.Type)); err != nil {
		return err
	}
	if r.Strength < 0.0 || r.Strength > 1.0 {
		return errors.New("relation strength must be between 0.0 and 1.0")
	}
	return nil
}

// RelatedResult is one entry of a related-markets answer. Built per query, never stored.
type RelatedResult struct {
	MarketID    string       `json:"market_id"`
	Question    string       `json:"question"`
	EventKey    string       `json:"event_key,omitempty"`
	Category    string       `json:"category,omitempty"`
	Type        RelationType `json:"relationship_type"`
	Strength    float64      `json:"strength"`
	Description string       `json:"description"`
	SharedTerms []string     `json:"shared_terms,omitempty"`
}

// IndexBuild records one completed batch build.
type IndexBuild struct {
	ID         string    `json:"build_id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Rows       int       `json:"rows"`
	Edges      int       `json:"edges"`
	Relations  int       `json:"relations"`
}
