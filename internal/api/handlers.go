package api

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/rewired-gh/polyrelated/internal/models"
	"github.com/rewired-gh/polyrelated/internal/related"
)

const (
	defaultTrendingLimit = 20
	maxTrendingLimit     = 100
)

// respondWithError logs the technical error and returns a generic message
func (s *Server) respondWithError(c *gin.Context, err error, userMessage string, fields ...zap.Field) {
	fields = append(fields, zap.String("path", c.Request.URL.Path), zap.Error(err))
	s.logger.Error("Request failed", fields...)
	c.JSON(http.StatusInternalServerError, gin.H{"error": userMessage})
}

// respondWithClientError returns a client error (no logging needed for validation errors)
func respondWithClientError(c *gin.Context, userMessage string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": userMessage})
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) relatedMarkets(c *gin.Context) {
	sel := related.Selector{
		MarketID: strings.TrimSpace(c.Query("market_id")),
		EventKey: strings.TrimSpace(c.Query("event")),
		TokenIDs: strings.TrimSpace(c.Query("token_ids")),
	}
	if sel.MarketID == "" && sel.EventKey == "" && sel.TokenIDs == "" {
		respondWithClientError(c, "one of market_id, event or token_ids is required")
		return
	}

	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondWithClientError(c, err.Error())
		return
	}
	types, err := parseTypes(c.Query("types"))
	if err != nil {
		respondWithClientError(c, err.Error())
		return
	}
	req := related.Request{Limit: s.resolver.ClampLimit(limit), Types: types}
	if raw := c.Query("min_similarity"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 || v > 1 {
			respondWithClientError(c, "min_similarity must be a number between 0 and 1")
			return
		}
		req.MinSimilarity = &v
	}

	key := relatedKey(sel, req)
	if v, ok := s.cached(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}

	resp, err := s.resolver.Resolve(c.Request.Context(), sel, req)
	if err != nil {
		s.respondWithError(c, err, "failed to resolve related markets",
			zap.String("market_id", sel.MarketID), zap.String("event", sel.EventKey))
		return
	}
	if resp.Message == "" {
		s.store(key, resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) similar(c *gin.Context) {
	event := strings.TrimSpace(c.Query("event"))
	if event == "" {
		respondWithClientError(c, "event is required")
		return
	}
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondWithClientError(c, err.Error())
		return
	}
	limit = s.resolver.ClampLimit(limit)

	key := fmt.Sprintf("similar|%s|%d", event, limit)
	if v, ok := s.cached(key); ok {
		c.JSON(http.StatusOK, v)
		return
	}

	resp, err := s.resolver.SimilarByEvent(c.Request.Context(), event, limit)
	if err != nil {
		s.respondWithError(c, err, "failed to find similar markets", zap.String("event", event))
		return
	}
	if resp.Message == "" {
		s.store(key, resp)
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) trendingMarkets(c *gin.Context) {
	limit, err := parseLimit(c.Query("limit"))
	if err != nil {
		respondWithClientError(c, err.Error())
		return
	}
	if limit == 0 {
		limit = defaultTrendingLimit
	}
	if limit > maxTrendingLimit {
		limit = maxTrendingLimit
	}

	minScore := 0.0
	if raw := c.Query("min_score"); raw != "" {
		minScore, err = strconv.ParseFloat(raw, 64)
		if err != nil || minScore < 0 || minScore > 1 {
			respondWithClientError(c, "min_score must be a number between 0 and 1")
			return
		}
	}
	category := strings.ToLower(strings.TrimSpace(c.Query("category")))

	entries, err := s.trending.Trending(c.Request.Context(), category, minScore, limit)
	if err != nil {
		s.respondWithError(c, err, "failed to rank trending markets", zap.String("category", category))
		return
	}
	c.JSON(http.StatusOK, gin.H{"category": category, "markets": entries, "count": len(entries)})
}

// parseLimit accepts an empty string as zero.
func parseLimit(raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, errors.New("limit must be a non-negative integer")
	}
	return n, nil
}

// parseTypes reads a comma-separated relation type list.
func parseTypes(raw string) ([]models.RelationType, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var types []models.RelationType
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		t, err := models.ParseRelationType(part)
		if err != nil {
			return nil, err
		}
		types = append(types, t)
	}
	return types, nil
}

func relatedKey(sel related.Selector, req related.Request) string {
	types := make([]string, len(req.Types))
	for i, t := range req.Types {
		types[i] = string(t)
	}
	sort.Strings(types)
	minSim := "default"
	if req.MinSimilarity != nil {
		minSim = strconv.FormatFloat(*req.MinSimilarity, 'f', -1, 64)
	}
	return fmt.Sprintf("related|%s|%s|%s|%d|%s|%s",
		sel.MarketID, sel.EventKey, sel.TokenIDs, req.Limit, strings.Join(types, ","), minSim)
}
