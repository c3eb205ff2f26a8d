// Package structural derives curated relations from catalogue structure alone:
// markets of the same event, and markets of the same category in different events.
// Every pair is emitted in both directions. Sector links are capped per market so a
// large category cannot produce a quadratic number of rows.
package structural

import (
	"sort"
	"unicode/utf8"

	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
)

const maxDescription = 500

// Options controls relation strengths and the sector cap.
type Options struct {
	SectorCap      int
	EventStrength  float64
	SectorStrength float64
}

// DefaultOptions returns the stock strengths with a 200-link sector cap.
func DefaultOptions() Options {
	return Options{SectorCap: 200, EventStrength: 1.0, SectorStrength: 0.7}
}

// Stats counts what Build produced and skipped.
type Stats struct {
	EventPairs  int
	SectorPairs int
	Capped      int
}

type pairKey struct {
	a, b string
	t    models.RelationType
}

// Build returns symmetric event and sector relations for markets.
func Build(markets []models.Market, opts Options) ([]models.Relation, Stats) {
	sorted := make([]models.Market, len(markets))
	copy(sorted, markets)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	var stats Stats
	var relations []models.Relation
	seen := make(map[pairKey]struct{})

	emit := func(a, b *models.Market, t models.RelationType, strength float64, desc string) bool {
		if a.ID == "" || b.ID == "" || a.ID == b.ID {
			return false
		}
		lo, hi := a.ID, b.ID
		if hi < lo {
			lo, hi = hi, lo
		}
		key := pairKey{a: lo, b: hi, t: t}
		if _, ok := seen[key]; ok {
			return false
		}
		seen[key] = struct{}{}
		desc = truncate(desc, maxDescription)
		relations = append(relations,
			models.Relation{MarketID: a.ID, RelatedMarketID: b.ID, Type: t, Strength: strength, Description: desc},
			models.Relation{MarketID: b.ID, RelatedMarketID: a.ID, Type: t, Strength: strength, Description: desc},
		)
		return true
	}

	for _, group := range groupBy(sorted, func(m *models.Market) string { return m.EventKey }) {
		for i := range group {
			for j := i + 1; j < len(group); j++ {
				label := group[i].EventTitle
				if label == "" {
					label = group[i].EventKey
				}
				if emit(group[i], group[j], models.RelationEvent, opts.EventStrength, "Same event: "+label) {
					stats.EventPairs++
				}
			}
		}
	}

	counts := make(map[string]int)
	for _, group := range groupBy(sorted, func(m *models.Market) string { return m.Category }) {
		for i := range group {
			a := group[i]
			for j := i + 1; j < len(group); j++ {
				b := group[j]
				if a.EventKey != "" && a.EventKey == b.EventKey {
					continue
				}
				if opts.SectorCap > 0 && (counts[a.ID] >= opts.SectorCap || counts[b.ID] >= opts.SectorCap) {
					stats.Capped++
					continue
				}
				if emit(a, b, models.RelationSector, opts.SectorStrength, "Same category: "+a.Category) {
					counts[a.ID]++
					counts[b.ID]++
					stats.SectorPairs++
				}
			}
		}
	}

	logger.Debug("Structural relations: %d event pairs, %d sector pairs, %d capped",
		stats.EventPairs, stats.SectorPairs, stats.Capped)
	return relations, stats
}

// groupBy buckets markets by a non-empty key, keeping input order within buckets and
// returning buckets in key order.
func groupBy(markets []models.Market, key func(*models.Market) string) [][]*models.Market {
	buckets := make(map[string][]*models.Market)
	for i := range markets {
		k := key(&markets[i])
		if k == "" {
			continue
		}
		buckets[k] = append(buckets[k], &markets[i])
	}
	keys := make([]string, 0, len(buckets))
	for k := range buckets {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([][]*models.Market, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, buckets[k])
	}
	return groups
}

// truncate cuts s to at most n bytes without splitting a rune.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
