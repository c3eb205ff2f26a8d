package related

import (
	"context"
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/storage"
)

func result(m *models.Market, t models.RelationType, strength float64, desc string) models.RelatedResult {
	return models.RelatedResult{
		MarketID:    m.ID,
		Question:    m.Question,
		EventKey:    m.EventKey,
		Category:    m.Category,
		Type:        t,
		Strength:    strength,
		Description: desc,
	}
}

func pool(opts Options, limit int) int {
	return max(opts.CandidatePool, limit)
}

const maxScanPages = 10

// scan feeds pages of fetch to visit until visit reports done, a short page
// arrives or maxScanPages pages were read.
func scan(size int, fetch func(offset int) ([]models.Market, error), visit func(m *models.Market) bool) error {
	for page := 0; page < maxScanPages; page++ {
		markets, err := fetch(page * size)
		if err != nil {
			return err
		}
		for i := range markets {
			if visit(&markets[i]) {
				return nil
			}
		}
		if len(markets) < size {
			return nil
		}
	}
	return nil
}

// similarityStrategy follows stored nearest-neighbour edges.
type similarityStrategy struct {
	catalogue Catalogue
	edges     EdgeStore
	opts      Options
}

func (s *similarityStrategy) Types() []models.RelationType {
	return []models.RelationType{models.RelationSimilarity}
}

func (s *similarityStrategy) Ceiling() float64 { return 1.0 }

func (s *similarityStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	key := q.Source.TokenKey()
	if key == "" {
		return nil, nil
	}

	edges, err := s.edges.EdgesFrom(ctx, key, q.MinSimilarity, pool(s.opts, q.Limit))
	if err != nil {
		return nil, err
	}

	var out []models.RelatedResult
	for _, e := range edges {
		if e.NeighborKey == key {
			continue
		}
		m, err := s.catalogue.MarketByTokenKey(ctx, e.NeighborKey)
		if errors.Is(err, models.ErrNotFound) {
			logger.Debug("Similarity neighbour %s of market %s has no catalogue market", e.NeighborKey, q.Source.ID)
			continue
		}
		if err != nil {
			return nil, err
		}
		if q.Excluded(m.ID) {
			continue
		}
		out = append(out, result(m, models.RelationSimilarity, e.Similarity,
			fmt.Sprintf("Text similarity %.2f", e.Similarity)))
	}
	return out, nil
}

// eventStrategy relates markets of the same event.
type eventStrategy struct {
	catalogue Catalogue
	opts      Options
}

func (s *eventStrategy) Types() []models.RelationType {
	return []models.RelationType{models.RelationEvent}
}

func (s *eventStrategy) Ceiling() float64 { return s.opts.EventConfidence }

func (s *eventStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	if q.Source.EventKey == "" {
		return nil, nil
	}
	markets, err := s.catalogue.MarketsByEvent(ctx, q.Source.EventKey, pool(s.opts, q.Limit)+1)
	if err != nil {
		return nil, err
	}

	label := q.Source.EventTitle
	if label == "" {
		label = q.Source.EventKey
	}
	var out []models.RelatedResult
	for i := range markets {
		if q.Excluded(markets[i].ID) {
			continue
		}
		out = append(out, result(&markets[i], models.RelationEvent, s.opts.EventConfidence, "Same event: "+label))
	}
	return out, nil
}

// sectorStrategy relates markets of the same category in other events.
type sectorStrategy struct {
	catalogue Catalogue
	opts      Options
}

func (s *sectorStrategy) Types() []models.RelationType {
	return []models.RelationType{models.RelationSector}
}

func (s *sectorStrategy) Ceiling() float64 {
	return math.Max(s.opts.SectorConfidence, s.opts.SectorEntityBoost)
}

func (s *sectorStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	if q.Source.Category == "" {
		return nil, nil
	}
	size := pool(s.opts, q.Limit)
	var out []models.RelatedResult
	err := scan(size, func(offset int) ([]models.Market, error) {
		return s.catalogue.MarketsByCategory(ctx, storage.CategoryQuery{
			Category:     q.Source.Category,
			ExcludeID:    q.Source.ID,
			ExcludeEvent: q.Source.EventKey,
			Limit:        size,
			Offset:       offset,
		})
	}, func(m *models.Market) bool {
		if q.Excluded(m.ID) {
			return false
		}
		strength := s.opts.SectorConfidence
		desc := "Same category: " + q.Source.Category
		shared := intersect(q.Entities, ExtractEntities(m.Question))
		if s.opts.SectorEntityOverlap > 0 && len(shared) >= s.opts.SectorEntityOverlap {
			strength = s.opts.SectorEntityBoost
			desc += ", shared entities: " + strings.Join(shared, ", ")
		}
		r := result(m, models.RelationSector, strength, desc)
		r.SharedTerms = shared
		out = append(out, r)
		return len(out) >= size
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// entityStrategy relates markets naming the same well-known entities.
type entityStrategy struct {
	catalogue Catalogue
	opts      Options
}

const maxSearchEntities = 3

func (s *entityStrategy) Types() []models.RelationType {
	return []models.RelationType{models.RelationCompanyPair}
}

func (s *entityStrategy) Ceiling() float64 { return s.opts.EntityMax }

func (s *entityStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	if len(q.Entities) == 0 {
		return nil, nil
	}
	search := q.Entities
	if len(search) > maxSearchEntities {
		search = search[:maxSearchEntities]
	}

	perEntity := max(q.Limit/2, 1)
	size := pool(s.opts, q.Limit)
	seen := make(map[string]struct{})
	var out []models.RelatedResult
	for _, entity := range search {
		found := 0
		err := scan(size, func(offset int) ([]models.Market, error) {
			return s.catalogue.SearchQuestions(ctx, storage.SearchQuery{
				Terms:     []string{entity},
				ExcludeID: q.Source.ID,
				Limit:     size,
				Offset:    offset,
			})
		}, func(m *models.Market) bool {
			if _, dup := seen[m.ID]; dup || q.Excluded(m.ID) {
				return false
			}
			// Substring search over-matches; keep only whole-word entity hits.
			named := ExtractEntities(m.Question)
			if !slices.Contains(named, entity) {
				return false
			}
			seen[m.ID] = struct{}{}

			shared := intersect(q.Entities, named)
			strength := math.Min(s.opts.EntityBase+s.opts.EntityStep*float64(len(shared)), s.opts.EntityMax)
			r := result(m, models.RelationCompanyPair, strength, "Shared entities: "+strings.Join(shared, ", "))
			r.SharedTerms = shared
			out = append(out, r)
			found++
			return found >= perEntity
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

// storedStrategy replays curated relations from the batch build.
type storedStrategy struct {
	catalogue Catalogue
	relations RelationStore
	opts      Options
}

func (s *storedStrategy) Types() []models.RelationType {
	return models.RelationTypes
}

func (s *storedStrategy) Ceiling() float64 { return 1.0 }

func (s *storedStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	relations, err := s.relations.RelationsFor(ctx, q.Source.ID, pool(s.opts, q.Limit))
	if err != nil {
		return nil, err
	}

	var out []models.RelatedResult
	for _, rel := range relations {
		if q.Excluded(rel.RelatedMarketID) {
			continue
		}
		m, err := s.catalogue.MarketByID(ctx, rel.RelatedMarketID)
		if errors.Is(err, models.ErrNotFound) {
			logger.Debug("Stored relation %s -> %s points at a missing market", rel.MarketID, rel.RelatedMarketID)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, result(m, rel.Type, rel.Strength, rel.Description))
	}
	return out, nil
}

// fuzzyStrategy matches question keywords when other strategies came up short.
type fuzzyStrategy struct {
	catalogue Catalogue
	opts      Options
}

func (s *fuzzyStrategy) Types() []models.RelationType {
	return []models.RelationType{models.RelationTextFuzzy}
}

func (s *fuzzyStrategy) Ceiling() float64 {
	return math.Max(s.opts.FuzzyStrong, s.opts.FuzzyMatch)
}

type fuzzyStage struct {
	category   string
	minMatches int
	strength   func(matches int) float64
	label      string
}

func (s *fuzzyStrategy) stages(category string) []fuzzyStage {
	strong := func(matches int) float64 {
		if matches >= 3 {
			return s.opts.FuzzyStrong
		}
		return s.opts.FuzzyMatch
	}
	stages := []fuzzyStage{{category: category, minMatches: 2, strength: strong, label: "Keyword overlap"}}
	if category == "" {
		return stages
	}
	return append(stages,
		fuzzyStage{category: category, minMatches: 1,
			strength: func(int) float64 { return s.opts.FuzzyRelaxed }, label: "Keyword overlap in " + category},
		fuzzyStage{category: "", minMatches: 2,
			strength: func(int) float64 { return s.opts.FuzzyBroad }, label: "Keyword overlap"},
	)
}

func (s *fuzzyStrategy) Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error) {
	if len(q.Keywords) == 0 {
		return nil, nil
	}
	need := q.Limit - q.Have
	if need <= 0 {
		return nil, nil
	}

	taken := make(map[string]struct{})
	fresh := 0
	var out []models.RelatedResult
	for _, stage := range s.stages(q.Source.Category) {
		if fresh >= need {
			break
		}
		type match struct {
			market *models.Market
			shared []string
		}
		var matches []match
		size := pool(s.opts, q.Limit)
		wanted := need - fresh
		err := scan(size, func(offset int) ([]models.Market, error) {
			return s.catalogue.SearchQuestions(ctx, storage.SearchQuery{
				Terms:     q.Keywords,
				Category:  stage.category,
				ExcludeID: q.Source.ID,
				Limit:     size,
				Offset:    offset,
			})
		}, func(m *models.Market) bool {
			if _, ok := taken[m.ID]; ok || q.Excluded(m.ID) {
				return false
			}
			shared := intersect(q.Keywords, ExtractKeywords(m.Question))
			if len(shared) < stage.minMatches {
				return false
			}
			matches = append(matches, match{market: m, shared: shared})
			if !q.Held(m.ID) {
				wanted--
			}
			return wanted <= 0
		})
		if err != nil {
			return nil, err
		}
		sort.SliceStable(matches, func(i, j int) bool {
			if len(matches[i].shared) != len(matches[j].shared) {
				return len(matches[i].shared) > len(matches[j].shared)
			}
			return matches[i].market.ID < matches[j].market.ID
		})

		for _, mt := range matches {
			if fresh >= need {
				break
			}
			taken[mt.market.ID] = struct{}{}
			if !q.Held(mt.market.ID) {
				fresh++
			}
			r := result(mt.market, models.RelationTextFuzzy, stage.strength(len(mt.shared)),
				stage.label+": "+strings.Join(mt.shared, ", "))
			r.SharedTerms = mt.shared
			out = append(out, r)
		}
	}
	return out, nil
}
