// Package indexer runs the batch side of the pipeline: it snapshots the catalogue,
// builds TF-IDF nearest-neighbour edges and structural relations, swaps them into the
// store, and announces the finished build.
package indexer

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/rewired-gh/polyrelated/internal/events"
	"github.com/rewired-gh/polyrelated/internal/knn"
	"github.com/rewired-gh/polyrelated/internal/logger"
	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/structural"
	"github.com/rewired-gh/polyrelated/internal/textvec"
)

// Options configures one build.
type Options struct {
	Vectorizer textvec.Vectorizer
	K          int
	Workers    int
	Structural structural.Options
}

// DefaultOptions returns the stock build parameters.
func DefaultOptions() Options {
	return Options{
		Vectorizer: textvec.DefaultVectorizer(),
		K:          knn.DefaultK,
		Workers:    4,
		Structural: structural.DefaultOptions(),
	}
}

// Stats summarises a similarity build.
type Stats struct {
	Prepare textvec.PrepareStats
	Rows    int
	Terms   int
	Edges   int
}

// BuildSimilarityIndex turns a catalogue snapshot into directed top-K similarity edges.
// It fails with textvec.ErrInsufficientData when fewer than two usable rows remain.
func BuildSimilarityIndex(ctx context.Context, markets []models.Market, opts Options) ([]models.SimilarityEdge, Stats, error) {
	docs, prep := textvec.Prepare(markets)
	stats := Stats{Prepare: prep, Rows: len(docs)}
	logger.Info("Prepared %d of %d markets (%d empty questions, %d empty token keys, %d duplicates)",
		len(docs), prep.Input, prep.EmptyQuestion, prep.EmptyKey, prep.Duplicates)

	space, err := opts.Vectorizer.Fit(docs)
	if err != nil {
		return nil, stats, err
	}
	stats.Terms = len(space.Vocabulary)

	edges, err := knn.Build(ctx, space, knn.Options{K: opts.K, Workers: opts.Workers})
	if err != nil {
		return nil, stats, err
	}
	stats.Edges = len(edges)
	return edges, stats, nil
}

// Store is the persistence surface a build needs.
type Store interface {
	AllMarkets(ctx context.Context) ([]models.Market, error)
	ReplaceBuild(ctx context.Context, b *models.IndexBuild, edges []models.SimilarityEdge, relations []models.Relation) error
}

// Publisher announces finished builds.
type Publisher interface {
	PublishIndexBuilt(ctx context.Context, ev events.IndexBuilt) error
}

// Indexer runs full rebuilds against a store.
type Indexer struct {
	store     Store
	publisher Publisher
	opts      Options
	now       func() time.Time
}

// New creates an Indexer. publisher may be nil.
func New(store Store, publisher Publisher, opts Options) *Indexer {
	return &Indexer{store: store, publisher: publisher, opts: opts, now: time.Now}
}

// Run performs one full rebuild. Nothing is written when the similarity build fails.
func (ix *Indexer) Run(ctx context.Context) (*models.IndexBuild, error) {
	build := &models.IndexBuild{ID: uuid.New().String(), StartedAt: ix.now()}
	logger.Info("Starting index build %s", build.ID)

	markets, err := ix.store.AllMarkets(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalogue: %w", err)
	}

	edges, stats, err := BuildSimilarityIndex(ctx, markets, ix.opts)
	if err != nil {
		return nil, fmt.Errorf("failed to build similarity index: %w", err)
	}
	relations, rstats := structural.Build(markets, ix.opts.Structural)

	build.FinishedAt = ix.now()
	build.Rows = stats.Rows
	build.Edges = len(edges)
	build.Relations = len(relations)
	if err := ix.store.ReplaceBuild(ctx, build, edges, relations); err != nil {
		return nil, err
	}

	logger.Info("Index build %s: %d rows, %d terms, %d edges, %d event pairs, %d sector pairs in %v",
		build.ID, stats.Rows, stats.Terms, len(edges), rstats.EventPairs, rstats.SectorPairs,
		build.FinishedAt.Sub(build.StartedAt))

	if ix.publisher != nil {
		ev := events.IndexBuilt{
			BuildID:    build.ID,
			Rows:       build.Rows,
			Edges:      build.Edges,
			Relations:  build.Relations,
			FinishedAt: build.FinishedAt,
		}
		if err := ix.publisher.PublishIndexBuilt(ctx, ev); err != nil {
			// The build is committed at this point.
			logger.Warn("Failed to announce build %s: %v", build.ID, err)
		}
	}
	return build, nil
}
