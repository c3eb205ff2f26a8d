package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rewired-gh/polyrelated/internal/models"
)

func newTestStorage(t *testing.T) *Storage {
	t.Helper()
	s, err := New(context.Background(), DriverSQLite, ":memory:")
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func seedMarkets(t *testing.T, s *Storage) {
	t.Helper()
	markets := []models.Market{
		{ID: "m1", Question: "Will the Fed cut rates in March?", EventKey: "fed-march", Category: "finance", TokenIDs: `["11","12"]`, Active: true},
		{ID: "m2", Question: "Will the Fed hike rates in March?", EventKey: "fed-march", Category: "finance", TokenIDs: `["21","22"]`, Active: true},
		{ID: "m3", Question: "Will Bitcoin reach 100%_ gains?", Category: "crypto", TokenIDs: `["31"]`, Active: true, Closed: true},
		{ID: "m4", Question: "Will Ethereum flip Bitcoin?", Category: "crypto", TokenIDs: "None", Active: true, OpenInterest: 10},
	}
	if err := s.UpsertMarkets(context.Background(), markets); err != nil {
		t.Fatalf("UpsertMarkets failed: %v", err)
	}
}

func TestStorage_UpsertAndGetMarket(t *testing.T) {
	s := newTestStorage(t)
	seedMarkets(t, s)
	ctx := context.Background()

	m, err := s.MarketByID(ctx, "m1")
	if err != nil {
		t.Fatalf("MarketByID failed: %v", err)
	}
	if m.Question != "Will the Fed cut rates in March?" || m.EventKey != "fed-march" || !m.Active {
		t.Errorf("Unexpected market: %+v", m)
	}
	if m.UpdatedAt.IsZero() {
		t.Error("Expected UpdatedAt to be set")
	}

	// Upsert overwrites by ID.
	m.Question = "Will the Fed cut rates in April?"
	m.TokenIDs = `["12", "11"]`
	if err := s.UpsertMarkets(ctx, []models.Market{*m}); err != nil {
		t.Fatalf("UpsertMarkets failed: %v", err)
	}
	updated, err := s.MarketByID(ctx, "m1")
	if err != nil {
		t.Fatalf("MarketByID failed: %v", err)
	}
	if updated.Question != "Will the Fed cut rates in April?" {
		t.Errorf("Expected updated question, got %s", updated.Question)
	}

	n, err := s.CountMarkets(ctx)
	if err != nil || n != 4 {
		t.Errorf("CountMarkets() = %d, %v; want 4", n, err)
	}

	if _, err := s.MarketByID(ctx, "missing"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound, got %v", err)
	}
}

func TestStorage_UpsertRejectsInvalid(t *testing.T) {
	s := newTestStorage(t)
	err := s.UpsertMarkets(context.Background(), []models.Market{{ID: "m1"}})
	if err == nil {
		t.Fatal("Expected error for market without question")
	}
	if n, _ := s.CountMarkets(context.Background()); n != 0 {
		t.Errorf("Expected nothing written, got %d markets", n)
	}
}

func TestStorage_MarketByTokenKey(t *testing.T) {
	s := newTestStorage(t)
	seedMarkets(t, s)
	ctx := context.Background()

	m, err := s.MarketByTokenKey(ctx, `["21","22"]`)
	if err != nil {
		t.Fatalf("MarketByTokenKey failed: %v", err)
	}
	if m.ID != "m2" {
		t.Errorf("Expected m2, got %s", m.ID)
	}

	if _, err := s.MarketByTokenKey(ctx, ""); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for empty key, got %v", err)
	}
	if _, err := s.MarketByTokenKey(ctx, `["99"]`); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound for unknown key, got %v", err)
	}
}

func TestStorage_EventAndCategoryLookups(t *testing.T) {
	s := newTestStorage(t)
	seedMarkets(t, s)
	ctx := context.Background()

	byEvent, err := s.MarketsByEvent(ctx, "fed-march", 10)
	if err != nil {
		t.Fatalf("MarketsByEvent failed: %v", err)
	}
	if len(byEvent) != 2 || byEvent[0].ID != "m1" || byEvent[1].ID != "m2" {
		t.Errorf("Unexpected event markets: %+v", byEvent)
	}

	byCategory, err := s.MarketsByCategory(ctx, CategoryQuery{Category: "crypto", Limit: 1})
	if err != nil {
		t.Fatalf("MarketsByCategory failed: %v", err)
	}
	if len(byCategory) != 1 || byCategory[0].ID != "m3" {
		t.Errorf("Unexpected category markets: %+v", byCategory)
	}

	next, err := s.MarketsByCategory(ctx, CategoryQuery{Category: "crypto", Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("MarketsByCategory with offset failed: %v", err)
	}
	if len(next) != 1 || next[0].ID != "m4" {
		t.Errorf("Unexpected second category page: %+v", next)
	}

	otherEvents, err := s.MarketsByCategory(ctx, CategoryQuery{Category: "finance", ExcludeEvent: "fed-march", Limit: 10})
	if err != nil {
		t.Fatalf("MarketsByCategory excluding event failed: %v", err)
	}
	if len(otherEvents) != 0 {
		t.Errorf("Expected same-event markets filtered out, got %+v", otherEvents)
	}

	withoutSelf, err := s.MarketsByCategory(ctx, CategoryQuery{Category: "crypto", ExcludeID: "m3", Limit: 10})
	if err != nil || len(withoutSelf) != 1 || withoutSelf[0].ID != "m4" {
		t.Errorf("Expected only m4 when excluding m3, got %+v, %v", withoutSelf, err)
	}

	none, err := s.MarketsByEvent(ctx, "", 10)
	if err != nil || len(none) != 0 {
		t.Errorf("Expected no markets for empty event key, got %v, %v", none, err)
	}
}

func TestStorage_SearchQuestions(t *testing.T) {
	s := newTestStorage(t)
	seedMarkets(t, s)
	ctx := context.Background()

	tests := []struct {
		name  string
		query SearchQuery
		want  []string
	}{
		{"single term", SearchQuery{Terms: []string{"bitcoin"}, Limit: 10}, []string{"m3", "m4"}},
		{"case insensitive", SearchQuery{Terms: []string{"FED"}, Limit: 10}, []string{"m1", "m2"}},
		{"any term", SearchQuery{Terms: []string{"hike", "ethereum"}, Limit: 10}, []string{"m2", "m4"}},
		{"category filter", SearchQuery{Terms: []string{"rates", "bitcoin"}, Category: "crypto", Limit: 10}, []string{"m3", "m4"}},
		{"exclude id", SearchQuery{Terms: []string{"bitcoin"}, ExcludeID: "m3", Limit: 10}, []string{"m4"}},
		{"wildcards are literal", SearchQuery{Terms: []string{"%_"}, Limit: 10}, []string{"m3"}},
		{"limit", SearchQuery{Terms: []string{"will"}, Limit: 2}, []string{"m1", "m2"}},
		{"offset", SearchQuery{Terms: []string{"will"}, Limit: 2, Offset: 2}, []string{"m3", "m4"}},
		{"more hits first", SearchQuery{Terms: []string{"will", "ethereum", "flip"}, Limit: 10}, []string{"m4", "m1", "m2", "m3"}},
		{"no terms", SearchQuery{Limit: 10}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := s.SearchQuestions(ctx, tt.query)
			if err != nil {
				t.Fatalf("SearchQuestions failed: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("Expected %v, got %d markets", tt.want, len(got))
			}
			for i, id := range tt.want {
				if got[i].ID != id {
					t.Errorf("Position %d: expected %s, got %s", i, id, got[i].ID)
				}
			}
		})
	}
}

func TestStorage_ActiveMarkets(t *testing.T) {
	s := newTestStorage(t)
	seedMarkets(t, s)

	active, err := s.ActiveMarkets(context.Background(), "crypto")
	if err != nil {
		t.Fatalf("ActiveMarkets failed: %v", err)
	}
	if len(active) != 1 || active[0].ID != "m4" {
		t.Errorf("Expected only m4 to be open, got %+v", active)
	}

	all, err := s.ActiveMarkets(context.Background(), "")
	if err != nil || len(all) != 3 {
		t.Errorf("Expected 3 open markets, got %d, %v", len(all), err)
	}
}

func TestStorage_Edges(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	first := []models.SimilarityEdge{
		{SourceKey: "a", NeighborKey: "b", Similarity: 0.9},
		{SourceKey: "a", NeighborKey: "c", Similarity: 0.5},
		{SourceKey: "a", NeighborKey: "d", Similarity: 0.7},
		{SourceKey: "b", NeighborKey: "a", Similarity: 0.9},
	}
	if err := s.ReplaceEdges(ctx, "build-1", first); err != nil {
		t.Fatalf("ReplaceEdges failed: %v", err)
	}

	edges, err := s.EdgesFrom(ctx, "a", 0.5, 10)
	if err != nil {
		t.Fatalf("EdgesFrom failed: %v", err)
	}
	// An edge scoring exactly the threshold is kept.
	if len(edges) != 3 || edges[0].NeighborKey != "b" || edges[1].NeighborKey != "d" || edges[2].NeighborKey != "c" {
		t.Errorf("Unexpected edges: %+v", edges)
	}

	above, err := s.EdgesFrom(ctx, "a", 0.51, 10)
	if err != nil || len(above) != 2 {
		t.Errorf("Expected 2 edges above 0.51, got %+v, %v", above, err)
	}

	limited, err := s.EdgesFrom(ctx, "a", 0, 1)
	if err != nil || len(limited) != 1 {
		t.Errorf("Expected 1 edge with limit, got %d, %v", len(limited), err)
	}

	if err := s.ReplaceEdges(ctx, "build-2", first[3:]); err != nil {
		t.Fatalf("ReplaceEdges failed: %v", err)
	}
	if n, _ := s.CountEdges(ctx); n != 1 {
		t.Errorf("Expected full replacement to leave 1 edge, got %d", n)
	}
}

func TestStorage_Relations(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	relations := []models.Relation{
		{MarketID: "m1", RelatedMarketID: "m2", Type: models.RelationEvent, Strength: 1, Description: "Same event"},
		{MarketID: "m1", RelatedMarketID: "m3", Type: models.RelationSector, Strength: 0.7},
		{MarketID: "m2", RelatedMarketID: "m1", Type: models.RelationEvent, Strength: 1},
	}
	if err := s.ReplaceRelations(ctx, "build-1", relations); err != nil {
		t.Fatalf("ReplaceRelations failed: %v", err)
	}

	got, err := s.RelationsFor(ctx, "m1", 10)
	if err != nil {
		t.Fatalf("RelationsFor failed: %v", err)
	}
	if len(got) != 2 || got[0].RelatedMarketID != "m2" || got[0].Type != models.RelationEvent {
		t.Errorf("Unexpected relations: %+v", got)
	}

	bad := []models.Relation{{MarketID: "x", RelatedMarketID: "x", Type: models.RelationEvent, Strength: 1}}
	if err := s.ReplaceRelations(ctx, "build-2", bad); err == nil {
		t.Error("Expected error for self relation")
	}
	// Failed replacement rolls back.
	if got, _ := s.RelationsFor(ctx, "m2", 10); len(got) != 1 {
		t.Errorf("Expected previous relations to survive, got %+v", got)
	}
}

func TestStorage_Builds(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	if _, err := s.LatestBuild(ctx); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected ErrNotFound before any build, got %v", err)
	}

	now := time.Now()
	for i, id := range []string{"b1", "b2"} {
		b := &models.IndexBuild{
			ID:         id,
			StartedAt:  now.Add(time.Duration(i) * time.Hour),
			FinishedAt: now.Add(time.Duration(i)*time.Hour + time.Minute),
			Rows:       10,
			Edges:      50,
		}
		if err := s.RecordBuild(ctx, b); err != nil {
			t.Fatalf("RecordBuild failed: %v", err)
		}
	}

	latest, err := s.LatestBuild(ctx)
	if err != nil {
		t.Fatalf("LatestBuild failed: %v", err)
	}
	if latest.ID != "b2" || latest.Edges != 50 {
		t.Errorf("Unexpected latest build: %+v", latest)
	}
}

func TestStorage_ReplaceBuild(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	now := time.Now()
	first := &models.IndexBuild{ID: "b1", StartedAt: now, FinishedAt: now, Rows: 2, Edges: 1, Relations: 1}
	err := s.ReplaceBuild(ctx, first,
		[]models.SimilarityEdge{{SourceKey: "a", NeighborKey: "b", Similarity: 0.8}},
		[]models.Relation{{MarketID: "m1", RelatedMarketID: "m2", Type: models.RelationEvent, Strength: 1}})
	if err != nil {
		t.Fatalf("ReplaceBuild failed: %v", err)
	}

	second := &models.IndexBuild{ID: "b2", StartedAt: now.Add(time.Hour), FinishedAt: now.Add(time.Hour)}
	err = s.ReplaceBuild(ctx, second,
		[]models.SimilarityEdge{{SourceKey: "x", NeighborKey: "y", Similarity: 0.9}, {SourceKey: "y", NeighborKey: "x", Similarity: 0.9}},
		[]models.Relation{
			{MarketID: "m3", RelatedMarketID: "m4", Type: models.RelationSector, Strength: 0.7},
			{MarketID: "m3", RelatedMarketID: "m4", Type: "cousin", Strength: 0.7},
		})
	if err == nil {
		t.Fatal("Expected error for invalid relation")
	}

	if n, _ := s.CountEdges(ctx); n != 1 {
		t.Errorf("Expected the first build's edge to survive, got %d edges", n)
	}
	if got, _ := s.RelationsFor(ctx, "m1", 10); len(got) != 1 {
		t.Errorf("Expected the first build's relation to survive, got %+v", got)
	}
	if got, _ := s.RelationsFor(ctx, "m3", 10); len(got) != 0 {
		t.Errorf("Expected no relations from the failed build, got %+v", got)
	}
	latest, err := s.LatestBuild(ctx)
	if err != nil || latest.ID != "b1" {
		t.Errorf("LatestBuild() = %+v, %v; want b1", latest, err)
	}
}

func TestStorage_ReplaceBuildRollsBackOnInsertFailure(t *testing.T) {
	s := newTestStorage(t)
	ctx := context.Background()

	now := time.Now()
	b := &models.IndexBuild{ID: "dup", StartedAt: now, FinishedAt: now}
	if err := s.RecordBuild(ctx, b); err != nil {
		t.Fatalf("RecordBuild failed: %v", err)
	}

	// Reusing a build ID fails on the last write of the transaction.
	err := s.ReplaceBuild(ctx, b, []models.SimilarityEdge{{SourceKey: "a", NeighborKey: "b", Similarity: 0.8}}, nil)
	if err == nil {
		t.Fatal("Expected error for duplicate build ID")
	}
	if n, _ := s.CountEdges(ctx); n != 0 {
		t.Errorf("Expected edges rolled back, got %d", n)
	}
}

func TestRebind(t *testing.T) {
	pg := &Storage{driver: DriverPostgres}
	if got := pg.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Errorf("rebind() = %s", got)
	}
	lite := &Storage{driver: DriverSQLite}
	if got := lite.rebind("a = ?"); got != "a = ?" {
		t.Errorf("rebind() = %s", got)
	}
}

func TestNewUnsupportedDriver(t *testing.T) {
	if _, err := New(context.Background(), "mysql", "dsn"); err == nil {
		t.Error("Expected error for unsupported driver")
	}
}
