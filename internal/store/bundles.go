package store

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bamarler/geo-optimizer/internal/domain"
	apperrors "github.com/bamarler/geo-optimizer/pkg/errors"
)

// BundleRepository owns persona_sets and prompt_sets. Bundles are saved once
// after generation and resolved by id when a run starts.
type BundleRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

func NewBundleRepository(postgres *PostgresService, logger *zap.Logger) *BundleRepository {
	return &BundleRepository{
		db:     postgres.GetDB(),
		logger: logger,
	}
}

// SavePersonaSet stores the bundle and returns its id, assigning a UUID when
// the set carries none.
func (r *BundleRepository) SavePersonaSet(ctx context.Context, set *domain.PersonaSet) (string, error) {
	if set.ID == "" {
		set.ID = uuid.NewString()
	}

	doc, err := json.Marshal(set)
	if err != nil {
		return "", apperrors.NewStoreError("failed to encode persona set", "save", err)
	}

	query := `
		INSERT INTO persona_sets (id, website_url, doc)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`
	if _, err := r.db.ExecContext(ctx, query, set.ID, set.WebsiteURL, doc); err != nil {
		return "", apperrors.NewStoreError("failed to save persona set", "save", err)
	}

	r.logger.Info("persona set saved",
		zap.String("id", set.ID),
		zap.String("website_url", set.WebsiteURL),
		zap.Int("personas", len(set.Personas)))
	return set.ID, nil
}

// GetPersonaSet resolves a bundle by id. Returns (nil, nil) when absent.
func (r *BundleRepository) GetPersonaSet(ctx context.Context, id string) (*domain.PersonaSet, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM persona_sets WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError("failed to load persona set", "get", err)
	}

	var set domain.PersonaSet
	if err := json.Unmarshal(doc, &set); err != nil {
		return nil, apperrors.NewStoreError("failed to decode persona set", "get", err)
	}
	return &set, nil
}

// ListPersonaSets returns all saved bundles, newest first.
func (r *BundleRepository) ListPersonaSets(ctx context.Context) ([]*domain.PersonaSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM persona_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list persona sets", "list", err)
	}
	defer rows.Close()

	var sets []*domain.PersonaSet
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.NewStoreError("failed to scan persona set", "list", err)
		}
		var set domain.PersonaSet
		if err := json.Unmarshal(doc, &set); err != nil {
			return nil, apperrors.NewStoreError("failed to decode persona set", "list", err)
		}
		sets = append(sets, &set)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("failed to list persona sets", "list", err)
	}
	return sets, nil
}

// SavePromptSet stores the bundle and returns its id.
func (r *BundleRepository) SavePromptSet(ctx context.Context, set *domain.PromptSet) (string, error) {
	if set.ID == "" {
		set.ID = uuid.NewString()
	}

	doc, err := json.Marshal(set)
	if err != nil {
		return "", apperrors.NewStoreError("failed to encode prompt set", "save", err)
	}

	query := `
		INSERT INTO prompt_sets (id, persona_set_id, website_url, doc)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (id) DO UPDATE SET doc = EXCLUDED.doc
	`
	if _, err := r.db.ExecContext(ctx, query, set.ID, set.PersonaSetID, set.WebsiteURL, doc); err != nil {
		return "", apperrors.NewStoreError("failed to save prompt set", "save", err)
	}

	r.logger.Info("prompt set saved",
		zap.String("id", set.ID),
		zap.String("website_url", set.WebsiteURL),
		zap.Int("prompts", len(set.Prompts)))
	return set.ID, nil
}

// GetPromptSet resolves a bundle by id. Returns (nil, nil) when absent.
func (r *BundleRepository) GetPromptSet(ctx context.Context, id string) (*domain.PromptSet, error) {
	var doc []byte
	err := r.db.QueryRowContext(ctx,
		`SELECT doc FROM prompt_sets WHERE id = $1`, id).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, apperrors.NewStoreError("failed to load prompt set", "get", err)
	}

	var set domain.PromptSet
	if err := json.Unmarshal(doc, &set); err != nil {
		return nil, apperrors.NewStoreError("failed to decode prompt set", "get", err)
	}
	return &set, nil
}

// ListPromptSets returns all saved bundles, newest first.
func (r *BundleRepository) ListPromptSets(ctx context.Context) ([]*domain.PromptSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT doc FROM prompt_sets ORDER BY created_at DESC`)
	if err != nil {
		return nil, apperrors.NewStoreError("failed to list prompt sets", "list", err)
	}
	defer rows.Close()

	var sets []*domain.PromptSet
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, apperrors.NewStoreError("failed to scan prompt set", "list", err)
		}
		var set domain.PromptSet
		if err := json.Unmarshal(doc, &set); err != nil {
			return nil, apperrors.NewStoreError("failed to decode prompt set", "list", err)
		}
		sets = append(sets, &set)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.NewStoreError("failed to list prompt sets", "list", err)
	}
	return sets, nil
}
