// Package trending ranks active markets by a weighted popularity score.
//
//	score = w_oi × n(open interest) + w_vol × n(24h volume) + w_liq × n(liquidity)
//
// Each n(x) is log1p(x) / log1p(ceiling), capped at 1, so a handful of whale markets
// cannot flatten the rest of the ranking. Ceilings are 1M open interest, 100K volume and
// 50K liquidity.
package trending

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
)

const (
	maxOpenInterest = 1_000_000
	maxVolume24hr   = 100_000
	maxLiquidity    = 50_000
)

// Weights are the per-metric score weights. They should sum to 1.
type Weights struct {
	OpenInterest float64
	Volume       float64
	Liquidity    float64
}

// DefaultWeights favours open interest, then volume, then liquidity.
var DefaultWeights = Weights{OpenInterest: 0.5, Volume: 0.3, Liquidity: 0.2}

// Entry is one ranked market.
type Entry struct {
	MarketID     string  `json:"market_id"`
	Slug         string  `json:"market_slug,omitempty"`
	Question     string  `json:"question"`
	Category     string  `json:"category,omitempty"`
	Score        float64 `json:"trending_score"`
	OpenInterest float64 `json:"open_interest"`
	Volume24hr   float64 `json:"volume_24h"`
	Liquidity    float64 `json:"liquidity"`
}

// Score returns the trending score of one market in [0, 1].
func Score(openInterest, volume24hr, liquidity float64, w Weights) float64 {
	score := w.OpenInterest*normalize(openInterest, maxOpenInterest) +
		w.Volume*normalize(volume24hr, maxVolume24hr) +
		w.Liquidity*normalize(liquidity, maxLiquidity)
	return math.Min(math.Max(score, 0), 1)
}

func normalize(x, ceiling float64) float64 {
	if x <= 0 {
		return 0
	}
	return math.Min(math.Log1p(x)/math.Log1p(ceiling), 1)
}

// Rank scores markets, drops those below minScore, and returns the top limit by score
// descending. Ties are broken by market ID. limit <= 0 returns everything.
func Rank(markets []models.Market, w Weights, minScore float64, limit int) []Entry {
	entries := make([]Entry, 0, len(markets))
	for i := range markets {
		m := &markets[i]
		score := math.Round(Score(m.OpenInterest, m.Volume24hr, m.Liquidity, w)*1e4) / 1e4
		if score < minScore {
			continue
		}
		entries = append(entries, Entry{
			MarketID:     m.ID,
			Slug:         m.Slug,
			Question:     m.Question,
			Category:     m.Category,
			Score:        score,
			OpenInterest: m.OpenInterest,
			Volume24hr:   m.Volume24hr,
			Liquidity:    m.Liquidity,
		})
	}

	sort.Slice(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].MarketID < entries[j].MarketID
	})
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries
}

// Catalogue lists active markets.
type Catalogue interface {
	ActiveMarkets(ctx context.Context, category string) ([]models.Market, error)
}

// Service serves trending rankings from the catalogue.
type Service struct {
	catalogue Catalogue
	weights   Weights
}

// NewService creates a Service with the default weights.
func NewService(c Catalogue) *Service {
	return &Service{catalogue: c, weights: DefaultWeights}
}

// Trending ranks the active, open markets of category ("" for all).
func (s *Service) Trending(ctx context.Context, category string, minScore float64, limit int) ([]Entry, error) {
	markets, err := s.catalogue.ActiveMarkets(ctx, category)
	if err != nil {
		return nil, fmt.Errorf("failed to load active markets: %w", err)
	}
	entries := Rank(markets, s.weights, minScore, limit)
	logger.Debug("Trending: %d of %d markets in %q ranked", len(entries), len(markets), category)
	return entries, nil
}
