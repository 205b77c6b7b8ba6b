package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

// ResultRepository owns the test_results table. Records are append-only:
// there is no update or delete path.
type ResultRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewResultRepository(postgres *PostgresService, logger *zap.Logger) *ResultRepository {
	return &ResultRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

// filterColumns maps permitted filter keys to real columns. Any other key
// falls back to a JSONB containment match against the stored document.
var filterColumns = map[string]string{
	"run_id":                 "run_id",
	"persona_set_id":         "persona_set_id",
	"persona_id":             "persona_id",
	"prompt_set_id":          "prompt_set_id",
	"prompt_id":              "prompt_id",
	"website_url":            "website_url",
	"has_citations":          "has_citations",
	"brand_mentioned":        "brand_mentioned",
	"has_geographic_content": "has_geographic_content",
}

// InsertResult stores one successful cell and returns its id, assigning a
// fresh UUID when the record carries none.
func (r *ResultRepository) InsertResult(ctx context.Context, result *domain.TestResult) (string, error) {
	if result.ID == "" {
		result.ID = uuid.NewString()
	}

	doc, err := json.Marshal(result)
	if err != nil {
		return "", apperrors.NewStoreError("failed to encode result", "insert", err)
	}

	query := `
		INSERT INTO test_results (
			id, run_id, persona_set_id, persona_id, prompt_set_id, prompt_id,
			sequence_number, website_url, has_citations, brand_mentioned,
			has_geographic_content, created_at, doc
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = r.db.ExecContext(ctx, query,
		result.ID, result.RunID, result.PersonaSetID, result.PersonaID,
		result.PromptSetID, result.PromptID, result.SequenceNumber,
		result.WebsiteURL, result.HasCitations, result.BrandMentioned,
		result.Flags.HasGeographicContent, result.Timestamp, doc,
	)
	if err != nil {
		return "", apperrors.NewStoreError("failed to insert result", "insert", err)
	}

	r.logger.Debug("result stored",
		zap.String("id", result.ID),
		zap.String("run_id", result.RunID),
		zap.Int("sequence", result.SequenceNumber))
	return result.ID, nil
}

// FindByRunID returns a run's results in sequence order.
func (r *ResultRepository) FindByRunID(ctx context.Context, runID string) ([]*domain.TestResult, error) {
	query := `
		SELECT doc FROM test_results
		WHERE run_id = $1
		ORDER BY sequence_number
	`
	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to query results by run", "find", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// FindBy returns results matching every entry in filter, newest first.
// Column-backed keys use indexed equality; unknown keys match inside the
// JSONB document.
func (r *ResultRepository) FindBy(ctx context.Context, filter map[string]any) ([]*domain.TestResult, error) {
	where, args, err := buildFilter(filter)
	if err != nil {
		return nil, apperrors.NewStoreError("invalid result filter", "find", err)
	}

	query := "SELECT doc FROM test_results" + where + " ORDER BY created_at DESC, sequence_number DESC"
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to query results", "find", err)
	}
	defer rows.Close()
	return scanResults(rows)
}

// Count returns the number of results matching filter.
func (r *ResultRepository) Count(ctx context.Context, filter map[string]any) (int, error) {
	where, args, err := buildFilter(filter)
	if err != nil {
		return 0, apperrors.NewStoreError("invalid result filter", "count", err)
	}

	var count int
	query := "SELECT COUNT(*) FROM test_results" + where
	if err := r.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return 0, apperrors.NewStoreError("failed to count results", "count", err)
	}
	return count, nil
}

// AggregateStats computes summary rates over the matching results in one
// round trip.
func (r *ResultRepository) AggregateStats(ctx context.Context, filter map[string]any) (*domain.AggregateStats, error) {
	where, args, err := buildFilter(filter)
	if err != nil {
		return nil, apperrors.NewStoreError("invalid result filter", "aggregate", err)
	}

	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE has_citations),
		       COUNT(*) FILTER (WHERE has_geographic_content)
		FROM test_results` + where

	stats := &domain.AggregateStats{}
	err = r.db.QueryRowContext(ctx, query, args...).Scan(
		&stats.Total, &stats.WithCitations, &stats.WithGeoContent)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to aggregate results", "aggregate", err)
	}

	if stats.Total > 0 {
		stats.CitationRate = float64(stats.WithCitations) / float64(stats.Total)
		stats.GeoContentRate = float64(stats.WithGeoContent) / float64(stats.Total)
	}
	return stats, nil
}

// buildFilter renders filter into a WHERE clause with positional args. Keys
// are sorted so the generated SQL is deterministic for a given filter.
func buildFilter(filter map[string]any) (string, []any, error) {
	if len(filter) == 0 {
		return "", nil, nil
	}

	keys := make([]string, 0, len(filter))
	for key := range filter {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	clauses := make([]string, 0, len(keys))
	args := make([]any, 0, len(keys))
	for _, key := range keys {
		value := filter[key]
		if column, ok := filterColumns[key]; ok {
			args = append(args, value)
			clauses = append(clauses, fmt.Sprintf("%s = $%d", column, len(args)))
			continue
		}
		// JSONB containment against the stored document.
		probe, err := json.Marshal(map[string]any{key: value})
		if err != nil {
			return "", nil, fmt.Errorf("unencodable filter value for %q: %w", key, err)
		}
		args = append(args, probe)
		clauses = append(clauses, fmt.Sprintf("doc @> $%d", len(args)))
	}

	return " WHERE " + strings.Join(clauses, " AND "), args, nil
}

func scanResults(rows *sql.Rows) ([]*domain.TestResult, error) {
	results := make([]*domain.TestResult, 0)
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.NewStoreError("failed to scan result row", "find", err)
		}
		var result domain.TestResult
		if err := json.Unmarshal(doc, &result); err != nil {
			return nil, apperrors.NewStoreError("failed to decode result document", "find", err)
		}
		results = append(results, &result)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("result iteration failed", "find", err)
	}
	return results, nil
}
