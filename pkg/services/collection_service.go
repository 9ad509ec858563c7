// Package services contains the business-logic layer: validation, ownership
// checks, and persistence over the relational database.
package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// serviceTimeout bounds each persistence call issued by a service method.
const serviceTimeout = 5 * time.Second

// CollectionService manages collections.
type CollectionService struct {
	db *sql.DB
}

// NewCollectionService creates a new CollectionService
func NewCollectionService(db *sql.DB) *CollectionService {
	return &CollectionService{db: db}
}

// CreateCollectionRequest carries the fields needed to create a collection.
type CreateCollectionRequest struct {
	Name      string `json:"name"`
	UserID    string `json:"user_id"`
	IsPrivate bool   `json:"is_private"`
}

// CreateCollection creates a collection in status "created". The vector index
// name is derived from the collection id.
func (s *CollectionService) CreateCollection(ctx context.Context, req CreateCollectionRequest) (*models.Collection, error) {
	if strings.TrimSpace(req.Name) == "" {
		return nil, NewValidationError("name", "required")
	}
	if req.UserID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	now := time.Now()
	c := &models.Collection{
		ID:        uuid.New().String(),
		Name:      req.Name,
		UserID:    req.UserID,
		Status:    models.CollectionStatusCreated,
		IsPrivate: req.IsPrivate,
		CreatedAt: now,
		UpdatedAt: now,
	}
	c.VectorIndexName = "collection_" + strings.ReplaceAll(c.ID, "-", "_")

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collections (id, name, user_id, vector_index_name, status, is_private, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, 0, $7, $7)`,
		c.ID, c.Name, c.UserID, c.VectorIndexName, c.Status, c.IsPrivate, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create collection: %w", err)
	}
	return c, nil
}

// GetCollection retrieves a collection by id.
func (s *CollectionService) GetCollection(ctx context.Context, collectionID string) (*models.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, user_id, vector_index_name, status, is_private, version, created_at, updated_at
		FROM collections WHERE id = $1`, collectionID)
	return scanCollection(row)
}

// ListCollections returns the user's collections plus public ones, newest
// first.
func (s *CollectionService) ListCollections(ctx context.Context, userID string) ([]models.Collection, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, user_id, vector_index_name, status, is_private, version, created_at, updated_at
		FROM collections
		WHERE user_id = $1 OR NOT is_private
		ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var collections []models.Collection
	for rows.Next() {
		c, err := scanCollection(rows)
		if err != nil {
			return nil, err
		}
		collections = append(collections, *c)
	}
	return collections, rows.Err()
}

// UpdateStatus transitions a collection's lifecycle status.
func (s *CollectionService) UpdateStatus(ctx context.Context, collectionID string, status models.CollectionStatus) error {
	switch status {
	case models.CollectionStatusCreated, models.CollectionStatusProcessing,
		models.CollectionStatusReady, models.CollectionStatusFailed:
	default:
		return NewValidationError("status", fmt.Sprintf("unknown status %q", status))
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE collections SET status = $1, updated_at = now() WHERE id = $2`, status, collectionID)
	if err != nil {
		return fmt.Errorf("failed to update collection status: %w", err)
	}
	return requireRow(res)
}

// DeleteCollection removes a collection and, via cascade, its chunks and
// suggested questions. Only the owner may delete.
func (s *CollectionService) DeleteCollection(ctx context.Context, collectionID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	collection, err := s.GetCollection(ctx, collectionID)
	if err != nil {
		return err
	}
	if collection.UserID != userID {
		return ErrForbidden
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM collections WHERE id = $1`, collectionID)
	if err != nil {
		return fmt.Errorf("failed to delete collection: %w", err)
	}
	return requireRow(res)
}

// scanner covers *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanCollection(row scanner) (*models.Collection, error) {
	var c models.Collection
	err := row.Scan(&c.ID, &c.Name, &c.UserID, &c.VectorIndexName, &c.Status,
		&c.IsPrivate, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan collection: %w", err)
	}
	return &c, nil
}

// requireRow maps a zero-row update/delete to ErrNotFound.
func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
