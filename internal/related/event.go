package related

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
)

// MessageEventNotFound is returned when no market carries the event key.
const MessageEventNotFound = "Event not found"

// maxEventMarkets bounds how many markets of one event contribute edges.
const maxEventMarkets = 500

// EventResponse is the answer to a whole-event similarity lookup.
type EventResponse struct {
	EventKey string                 `json:"event_key"`
	Markets  int                    `json:"markets"`
	Related  []models.RelatedResult `json:"related"`
	Count    int                    `json:"count"`
	Message  string                 `json:"message,omitempty"`
}

// SimilarByEvent pools the similarity edges of every market in an event and returns
// the strongest neighbours outside the event.
func (r *Resolver) SimilarByEvent(ctx context.Context, eventKey string, limit int) (*EventResponse, error) {
	limit = r.ClampLimit(limit)
	markets, err := r.store.MarketsByEvent(ctx, eventKey, maxEventMarkets)
	if err != nil {
		return nil, fmt.Errorf("failed to load event markets: %w", err)
	}
	if len(markets) == 0 {
		return &EventResponse{EventKey: eventKey, Related: []models.RelatedResult{}, Message: MessageEventNotFound}, nil
	}

	own := make(map[string]struct{}, len(markets))
	for i := range markets {
		if key := markets[i].TokenKey(); key != "" {
			own[key] = struct{}{}
		}
	}

	best := make(map[string]float64)
	for key := range own {
		edges, err := r.store.EdgesFrom(ctx, key, r.opts.MinSimilarity, limit*2)
		if err != nil {
			return nil, fmt.Errorf("failed to load similarity edges: %w", err)
		}
		for _, e := range edges {
			if _, inside := own[e.NeighborKey]; inside {
				continue
			}
			if e.Similarity > best[e.NeighborKey] {
				best[e.NeighborKey] = e.Similarity
			}
		}
	}

	type scored struct {
		key   string
		score float64
	}
	ranked := make([]scored, 0, len(best))
	for k, v := range best {
		ranked = append(ranked, scored{key: k, score: v})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].key < ranked[j].key
	})

	seen := make(map[string]struct{})
	related := make([]models.RelatedResult, 0, limit)
	for _, c := range ranked {
		if len(related) == limit {
			break
		}
		m, err := r.store.MarketByTokenKey(ctx, c.key)
		if errors.Is(err, models.ErrNotFound) {
			logger.Debug("Similarity neighbour %s of event %s has no catalogue market", c.key, eventKey)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to resolve neighbour: %w", err)
		}
		if _, dup := seen[m.ID]; dup {
			continue
		}
		seen[m.ID] = struct{}{}
		related = append(related, result(m, models.RelationSimilarity, c.score,
			fmt.Sprintf("Text similarity %.2f", c.score)))
	}
	SortResults(related)

	return &EventResponse{EventKey: eventKey, Markets: len(markets), Related: related, Count: len(related)}, nil
}
