// Package models defines the core domain entities for the polyrelated application.
// These models represent catalogue markets, batch-computed similarity edges, curated
// structural relations, and the per-query related results assembled from them.
// All persisted models include built-in validation to ensure data integrity.
//
// Terminology (matching Polymarket's own naming):
//   - Event: a Polymarket event page, which groups one or more related markets.
//   - Market: a single yes/no question within an event. This is the unit we relate.
//   - Token key: the canonical form of a market's outcome token identifiers, the only
//     join key between markets and similarity edges.
package models

import (
	"errors"
	"time"

	"github.com/rewired-gh/polyrelated/internal/tokenid"
)

// ErrNotFound is returned by catalogue lookups that match nothing.
var ErrNotFound = errors.New("not found")

// Market represents a single prediction market in the catalogue.
type Market struct {
	ID           string    `json:"market_id"`
	Question     string    `json:"question"`
	Slug         string    `json:"market_slug,omitempty"`
	EventKey     string    `json:"event_key,omitempty"`   // Parent event slug; same key = same event
	EventTitle   string    `json:"event_title,omitempty"` // Parent event title for display
	Category     string    `json:"category,omitempty"`    // Lower-cased tag label
	TokenIDs     string    `json:"clob_token_ids,omitempty"`
	Volume24hr   float64   `json:"volume_24hr"`   // 24-hour volume in USD (event-level)
	Liquidity    float64   `json:"liquidity"`     // Current liquidity in USD (event-level)
	OpenInterest float64   `json:"open_interest"` // Open interest in USD (event-level)
	Active       bool      `json:"active"`
	Closed       bool      `json:"closed"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TokenKey returns the canonical token identifier key for the market.
func (m *Market) TokenKey() string {
	return tokenid.Normalize(m.TokenIDs)
}

// Validate checks that all market fields are valid.
func (m *Market) Validate() error {
	if m.ID == "" {
		return errors.New("market ID must not be empty")
	}
	if m.Question == "" {
		return errors.New("market question must not be empty")
	}
	if m.Volume24hr < 0 {
		return errors.New("volume 24hr must not be negative")
	}
	if m.Liquidity < 0 {
		return errors.New("liquidity must not be negative")
	}
	if m.OpenInterest < 0 {
		return errors.New("open interest must not be negative")
	}
	return nil
}
