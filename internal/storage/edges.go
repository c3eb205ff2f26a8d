package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/rewired-gh/polyrelated/internal/models"
)

// ReplaceBuild swaps in the edges and relations of one build and records it, all in a
// single transaction. On any error the previous build stays in place.
func (s *Storage) ReplaceBuild(ctx context.Context, b *models.IndexBuild, edges []models.SimilarityEdge, relations []models.Relation) error {
	if err := validateRelations(relations); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		if err := s.replaceEdges(ctx, tx, b.ID, edges); err != nil {
			return err
		}
		if err := s.replaceRelations(ctx, tx, b.ID, relations); err != nil {
			return err
		}
		return s.recordBuild(ctx, tx, b)
	})
}

// ReplaceEdges swaps the whole similarity edge table for the edges of one build.
func (s *Storage) ReplaceEdges(ctx context.Context, buildID string, edges []models.SimilarityEdge) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.replaceEdges(ctx, tx, buildID, edges)
	})
}

func (s *Storage) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *Storage) replaceEdges(ctx context.Context, tx *sql.Tx, buildID string, edges []models.SimilarityEdge) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM similarity_edges`); err != nil {
		return fmt.Errorf("failed to clear similarity edges: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO similarity_edges
		(source_key, neighbor_key, similarity, build_id) VALUES (?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare edge insert: %w", err)
	}
	defer stmt.Close()

	for i := range edges {
		e := &edges[i]
		if _, err := stmt.ExecContext(ctx, e.SourceKey, e.NeighborKey, e.Similarity, buildID); err != nil {
			return fmt.Errorf("failed to insert edge %s -> %s: %w", e.SourceKey, e.NeighborKey, err)
		}
	}
	return nil
}

// EdgesFrom returns the outgoing edges of a token key scoring at least minScore,
// most similar first.
func (s *Storage) EdgesFrom(ctx context.Context, sourceKey string, minScore float64, limit int) ([]models.SimilarityEdge, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT source_key, neighbor_key, similarity
		FROM similarity_edges WHERE source_key = ? AND similarity >= ?
		ORDER BY similarity DESC, neighbor_key LIMIT ?`), sourceKey, minScore, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity edges: %w", err)
	}
	defer rows.Close()

	var edges []models.SimilarityEdge
	for rows.Next() {
		var e models.SimilarityEdge
		if err := rows.Scan(&e.SourceKey, &e.NeighborKey, &e.Similarity); err != nil {
			return nil, fmt.Errorf("failed to scan similarity edge: %w", err)
		}
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate similarity edges: %w", err)
	}
	return edges, nil
}

// CountEdges returns the number of stored similarity edges.
func (s *Storage) CountEdges(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM similarity_edges`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count similarity edges: %w", err)
	}
	return n, nil
}

// ReplaceRelations swaps the whole curated relation table for the relations of one build.
func (s *Storage) ReplaceRelations(ctx context.Context, buildID string, relations []models.Relation) error {
	if err := validateRelations(relations); err != nil {
		return err
	}
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.replaceRelations(ctx, tx, buildID, relations)
	})
}

func validateRelations(relations []models.Relation) error {
	for i := range relations {
		r := &relations[i]
		if err := r.Validate(); err != nil {
			return fmt.Errorf("invalid relation %s -> %s: %w", r.MarketID, r.RelatedMarketID, err)
		}
	}
	return nil
}

func (s *Storage) replaceRelations(ctx context.Context, tx *sql.Tx, buildID string, relations []models.Relation) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM related_markets`); err != nil {
		return fmt.Errorf("failed to clear related markets: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`INSERT INTO related_markets
		(market_id, related_market_id, relationship_type, strength, description, build_id)
		VALUES (?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return fmt.Errorf("failed to prepare relation insert: %w", err)
	}
	defer stmt.Close()

	for i := range relations {
		r := &relations[i]
		if _, err := stmt.ExecContext(ctx, r.MarketID, r.RelatedMarketID, string(r.Type), r.Strength,
			r.Description, buildID); err != nil {
			return fmt.Errorf("failed to insert relation %s -> %s: %w", r.MarketID, r.RelatedMarketID, err)
		}
	}
	return nil
}

// RelationsFor returns the curated relations of a market, strongest first.
func (s *Storage) RelationsFor(ctx context.Context, marketID string, limit int) ([]models.Relation, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`SELECT market_id, related_market_id, relationship_type,
		strength, description FROM related_markets WHERE market_id = ?
		ORDER BY strength DESC, related_market_id LIMIT ?`), marketID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query related markets: %w", err)
	}
	defer rows.Close()

	var relations []models.Relation
	for rows.Next() {
		var r models.Relation
		var relType string
		if err := rows.Scan(&r.MarketID, &r.RelatedMarketID, &relType, &r.Strength, &r.Description); err != nil {
			return nil, fmt.Errorf("failed to scan related market: %w", err)
		}
		r.Type = models.RelationType(relType)
		relations = append(relations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate related markets: %w", err)
	}
	return relations, nil
}

// RecordBuild stores a completed index build.
func (s *Storage) RecordBuild(ctx context.Context, b *models.IndexBuild) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		return s.recordBuild(ctx, tx, b)
	})
}

func (s *Storage) recordBuild(ctx context.Context, tx *sql.Tx, b *models.IndexBuild) error {
	_, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO index_builds
		(build_id, started_at, finished_at, rows_used, edges, relations) VALUES (?, ?, ?, ?, ?, ?)`),
		b.ID, b.StartedAt.Unix(), b.FinishedAt.Unix(), b.Rows, b.Edges, b.Relations)
	if err != nil {
		return fmt.Errorf("failed to record build %s: %w", b.ID, err)
	}
	return nil
}

// LatestBuild returns the most recently finished build.
func (s *Storage) LatestBuild(ctx context.Context) (*models.IndexBuild, error) {
	var b models.IndexBuild
	var started, finished int64
	err := s.db.QueryRowContext(ctx, `SELECT build_id, started_at, finished_at, rows_used, edges, relations
		FROM index_builds ORDER BY finished_at DESC, build_id DESC LIMIT 1`).
		Scan(&b.ID, &started, &finished, &b.Rows, &b.Edges, &b.Relations)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query latest build: %w", err)
	}
	b.StartedAt = time.Unix(started, 0).UTC()
	b.FinishedAt = time.Unix(finished, 0).UTC()
	return &b, nil
}
