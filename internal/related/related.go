// Package related answers "which markets are related to this one?" at query time.
//
// A Resolver runs an ordered cascade of strategies against the catalogue. Each strategy
// proposes candidates with a confidence in [0,1]:
//
//   - similarity: precomputed TF-IDF nearest neighbours above a score threshold
//   - event: markets sharing the source's event
//   - sector: markets sharing the source's category in other events
//   - company_pair: markets naming the same well-known entities
//   - stored: curated relations persisted by the batch build
//   - text_fuzzy: keyword overlap, only while the answer is still short
//
// Results are merged by market ID keeping the highest confidence, ordered by confidence
// with market ID as tie-breaker, and truncated to the requested limit. The source market
// never appears in its own answer.
package related

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/storage"
	"github.com/rewired-gh/polyrelated/internal/tokenid"
)

// MessageSourceNotFound is returned in place of results for an unknown source.
const MessageSourceNotFound = "Source market not found"

// Catalogue is the market lookup surface the resolver needs.
type Catalogue interface {
	MarketByID(ctx context.Context, id string) (*models.Market, error)
	MarketByTokenKey(ctx context.Context, key string) (*models.Market, error)
	MarketsByEvent(ctx context.Context, eventKey string, limit int) ([]models.Market, error)
	MarketsByCategory(ctx context.Context, q storage.CategoryQuery) ([]models.Market, error)
	SearchQuestions(ctx context.Context, q storage.SearchQuery) ([]models.Market, error)
}

// EdgeStore reads batch-computed similarity edges.
type EdgeStore interface {
	EdgesFrom(ctx context.Context, sourceKey string, minScore float64, limit int) ([]models.SimilarityEdge, error)
}

// RelationStore reads curated structural relations.
type RelationStore interface {
	RelationsFor(ctx context.Context, marketID string, limit int) ([]models.Relation, error)
}

// Store bundles every read surface. *storage.Storage satisfies it.
type Store interface {
	Catalogue
	EdgeStore
	RelationStore
}

// Options holds the cascade's tunables. Confidence values are in [0,1].
type Options struct {
	DefaultLimit        int
	MaxLimit            int
	MinSimilarity       float64
	CandidatePool       int // Rows fetched per catalogue query
	EventConfidence     float64
	SectorConfidence    float64
	SectorEntityBoost   float64 // Sector confidence when entity overlap is high
	SectorEntityOverlap int
	EntityBase          float64
	EntityStep          float64
	EntityMax           float64
	FuzzyStrong         float64 // Three or more shared keywords
	FuzzyMatch          float64 // Two shared keywords
	FuzzyRelaxed        float64 // One shared keyword, same category
	FuzzyBroad          float64 // Two shared keywords, any category
}

// DefaultOptions returns the stock confidence ladder.
func DefaultOptions() Options {
	return Options{
		DefaultLimit:        10,
		MaxLimit:            50,
		MinSimilarity:       0.5,
		CandidatePool:       50,
		EventConfidence:     1.0,
		SectorConfidence:    0.7,
		SectorEntityBoost:   0.9,
		SectorEntityOverlap: 2,
		EntityBase:          0.6,
		EntityStep:          0.1,
		EntityMax:           0.9,
		FuzzyStrong:         0.8,
		FuzzyMatch:          0.75,
		FuzzyRelaxed:        0.6,
		FuzzyBroad:          0.5,
	}
}

// Selector identifies the source market. The first non-empty field wins.
type Selector struct {
	MarketID string
	EventKey string // Resolves to the event's lowest-ID market
	TokenIDs string // Raw or canonical token identifiers
}

// Request shapes one resolution.
type Request struct {
	Limit         int                   // Zero means Options.DefaultLimit
	Types         []models.RelationType // Empty means all types
	MinSimilarity *float64              // Nil means Options.MinSimilarity
}

// Response is a resolver answer. A missing source is a normal response with Message set.
type Response struct {
	Source  *models.Market         `json:"source,omitempty"`
	Related []models.RelatedResult `json:"related"`
	Count   int                    `json:"count"`
	Message string                 `json:"message,omitempty"`
}

// Query is what a strategy sees for one resolution.
type Query struct {
	Source        *models.Market
	Limit         int
	Have          int // Results accumulated before this strategy ran
	MinSimilarity float64
	Entities      []string
	Keywords      []string
	exclude       map[string]struct{}
	held          map[string]struct{}
}

// Excluded reports whether a candidate should not be proposed.
func (q *Query) Excluded(id string) bool {
	if id == q.Source.ID {
		return true
	}
	_, ok := q.exclude[id]
	return ok
}

// Held reports whether a market is already in the answer at any strength.
func (q *Query) Held(id string) bool {
	_, ok := q.held[id]
	return ok
}

// Strategy proposes related markets for a source.
type Strategy interface {
	// Types lists the relation types the strategy can emit.
	Types() []models.RelationType
	// Ceiling is the highest confidence the strategy can emit.
	Ceiling() float64
	Propose(ctx context.Context, q *Query) ([]models.RelatedResult, error)
}

// Resolver runs the strategy cascade.
type Resolver struct {
	store     Store
	opts      Options
	primary   []Strategy
	fallbacks []Strategy
}

// New builds a resolver with the stock cascade over store.
func New(store Store, opts Options) *Resolver {
	return &Resolver{
		store: store,
		opts:  opts,
		primary: []Strategy{
			&similarityStrategy{catalogue: store, edges: store, opts: opts},
			&eventStrategy{catalogue: store, opts: opts},
			&sectorStrategy{catalogue: store, opts: opts},
			&entityStrategy{catalogue: store, opts: opts},
			&storedStrategy{catalogue: store, relations: store, opts: opts},
		},
		fallbacks: []Strategy{
			&fuzzyStrategy{catalogue: store, opts: opts},
		},
	}
}

// NewWithStrategies builds a resolver with a custom cascade.
func NewWithStrategies(store Store, opts Options, primary, fallbacks []Strategy) *Resolver {
	return &Resolver{store: store, opts: opts, primary: primary, fallbacks: fallbacks}
}

// Options returns the resolver's configuration.
func (r *Resolver) Options() Options {
	return r.opts
}

// ClampLimit applies the default and maximum limits.
func (r *Resolver) ClampLimit(limit int) int {
	if limit <= 0 {
		limit = r.opts.DefaultLimit
	}
	if r.opts.MaxLimit > 0 && limit > r.opts.MaxLimit {
		limit = r.opts.MaxLimit
	}
	return limit
}

// FindSource resolves a selector to a catalogue market.
func (r *Resolver) FindSource(ctx context.Context, sel Selector) (*models.Market, error) {
	switch {
	case sel.MarketID != "":
		return r.store.MarketByID(ctx, sel.MarketID)
	case sel.EventKey != "":
		markets, err := r.store.MarketsByEvent(ctx, sel.EventKey, 1)
		if err != nil {
			return nil, err
		}
		if len(markets) == 0 {
			return nil, models.ErrNotFound
		}
		return &markets[0], nil
	case sel.TokenIDs != "":
		return r.store.MarketByTokenKey(ctx, tokenid.Normalize(sel.TokenIDs))
	default:
		return nil, errors.New("selector must name a market ID, event key or token IDs")
	}
}

// Resolve returns the markets related to the selected source.
func (r *Resolver) Resolve(ctx context.Context, sel Selector, req Request) (*Response, error) {
	source, err := r.FindSource(ctx, sel)
	if errors.Is(err, models.ErrNotFound) {
		return &Response{Related: []models.RelatedResult{}, Message: MessageSourceNotFound}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find source market: %w", err)
	}

	limit := r.ClampLimit(req.Limit)
	allowed := allowSet(req.Types)
	minSim := r.opts.MinSimilarity
	if req.MinSimilarity != nil {
		minSim = *req.MinSimilarity
	}

	q := &Query{
		Source:        source,
		Limit:         limit,
		MinSimilarity: minSim,
		Entities:      ExtractEntities(source.Question),
		Keywords:      ExtractKeywords(source.Question),
	}
	acc := newAccumulator(source.ID, allowed)

	run := func(s Strategy) error {
		if !allowed.any(s.Types()) {
			return nil
		}
		q.Have = acc.len()
		q.exclude = acc.settled(s)
		q.held = acc.ids()
		results, err := s.Propose(ctx, q)
		if err != nil {
			return fmt.Errorf("failed to resolve %v relations: %w", s.Types(), err)
		}
		acc.add(results)
		return nil
	}

	for _, s := range r.primary {
		if err := run(s); err != nil {
			return nil, err
		}
	}
	for _, s := range r.fallbacks {
		if acc.len() >= limit {
			break
		}
		if err := run(s); err != nil {
			return nil, err
		}
	}

	related := acc.results(limit)
	return &Response{Source: source, Related: related, Count: len(related)}, nil
}

type typeSet map[models.RelationType]struct{}

// allowSet returns nil for "everything".
func allowSet(types []models.RelationType) typeSet {
	if len(types) == 0 {
		return nil
	}
	set := make(typeSet, len(types))
	for _, t := range types {
		set[t] = struct{}{}
	}
	return set
}

func (s typeSet) has(t models.RelationType) bool {
	if s == nil {
		return true
	}
	_, ok := s[t]
	return ok
}

func (s typeSet) any(types []models.RelationType) bool {
	for _, t := range types {
		if s.has(t) {
			return true
		}
	}
	return false
}

// accumulator merges strategy output keeping the strongest entry per market.
type accumulator struct {
	sourceID string
	allowed  typeSet
	best     map[string]models.RelatedResult
}

func newAccumulator(sourceID string, allowed typeSet) *accumulator {
	return &accumulator{sourceID: sourceID, allowed: allowed, best: make(map[string]models.RelatedResult)}
}

func (a *accumulator) len() int {
	return len(a.best)
}

// rank breaks strength ties between relation types; stronger evidence ranks higher.
func rank(t models.RelationType) int {
	switch t {
	case models.RelationEvent:
		return 5
	case models.RelationSimilarity:
		return 4
	case models.RelationSector:
		return 3
	case models.RelationCompanyPair:
		return 2
	case models.RelationTextFuzzy:
		return 1
	}
	return 0
}

// outranks reports whether a should replace b for the same market.
func outranks(a, b models.RelatedResult) bool {
	if a.Strength != b.Strength {
		return a.Strength > b.Strength
	}
	return rank(a.Type) > rank(b.Type)
}

func (a *accumulator) add(results []models.RelatedResult) {
	for _, res := range results {
		if res.MarketID == "" || res.MarketID == a.sourceID || !a.allowed.has(res.Type) {
			continue
		}
		if cur, ok := a.best[res.MarketID]; ok && !outranks(res, cur) {
			continue
		}
		a.best[res.MarketID] = res
	}
}

// settled returns the IDs already held by an entry no proposal of s can replace:
// above its ceiling, or at the ceiling with a type that wins the tie.
func (a *accumulator) settled(s Strategy) map[string]struct{} {
	ceiling := s.Ceiling()
	top := 0
	for _, t := range s.Types() {
		top = max(top, rank(t))
	}
	ids := make(map[string]struct{}, len(a.best))
	for id, res := range a.best {
		if res.Strength > ceiling || (res.Strength == ceiling && rank(res.Type) >= top) {
			ids[id] = struct{}{}
		}
	}
	return ids
}

func (a *accumulator) ids() map[string]struct{} {
	ids := make(map[string]struct{}, len(a.best))
	for id := range a.best {
		ids[id] = struct{}{}
	}
	return ids
}

func (a *accumulator) results(limit int) []models.RelatedResult {
	out := make([]models.RelatedResult, 0, len(a.best))
	for _, res := range a.best {
		out = append(out, res)
	}
	SortResults(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SortResults orders by strength descending, then relation type, then market ID.
func SortResults(results []models.RelatedResult) {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Strength != results[j].Strength {
			return results[i].Strength > results[j].Strength
		}
		if ri, rj := rank(results[i].Type), rank(results[j].Type); ri != rj {
			return ri > rj
		}
		return results[i].MarketID < results[j].MarketID
	})
}
