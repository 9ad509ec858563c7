package services

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// SuggestionService persists follow-up questions generated after searches.
type SuggestionService struct {
	db *sql.DB
}

// NewSuggestionService creates a new SuggestionService
func NewSuggestionService(db *sql.DB) *SuggestionService {
	return &SuggestionService{db: db}
}

// ReplaceSuggestions swaps the collection's suggested questions for the new
// set in one transaction. Blank questions are dropped.
func (s *SuggestionService) ReplaceSuggestions(ctx context.Context, collectionID string, questions []string) ([]models.SuggestedQuestion, error) {
	if collectionID == "" {
		return nil, NewValidationError("collection_id", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM suggested_questions WHERE collection_id = $1`, collectionID); err != nil {
		return nil, fmt.Errorf("failed to clear suggested questions: %w", err)
	}

	now := time.Now()
	var saved []models.SuggestedQuestion
	for _, question := range questions {
		question = strings.TrimSpace(question)
		if question == "" {
			continue
		}
		sq := models.SuggestedQuestion{
			ID:           uuid.New().String(),
			CollectionID: collectionID,
			Question:     question,
			CreatedAt:    now,
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO suggested_questions (id, collection_id, question, created_at)
			VALUES ($1, $2, $3, $4)`,
			sq.ID, sq.CollectionID, sq.Question, sq.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to insert suggested question: %w", err)
		}
		saved = append(saved, sq)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit suggested questions: %w", err)
	}
	return saved, nil
}

// ListSuggestions returns up to limit suggested questions for a collection.
func (s *SuggestionService) ListSuggestions(ctx context.Context, collectionID string, limit int) ([]models.SuggestedQuestion, error) {
	if limit <= 0 {
		limit = 5
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection_id, question, created_at
		FROM suggested_questions WHERE collection_id = $1
		ORDER BY created_at DESC LIMIT $2`, collectionID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list suggested questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var suggestions []models.SuggestedQuestion
	for rows.Next() {
		var sq models.SuggestedQuestion
		if err := rows.Scan(&sq.ID, &sq.CollectionID, &sq.Question, &sq.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan suggested question: %w", err)
		}
		suggestions = append(suggestions, sq)
	}
	return suggestions, rows.Err()
}
