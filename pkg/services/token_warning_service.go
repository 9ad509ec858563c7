package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// TokenWarningService persists token warnings. It implements
// tokens.WarningStore.
type TokenWarningService struct {
	db *sql.DB
}

// NewTokenWarningService creates a new TokenWarningService
func NewTokenWarningService(db *sql.DB) *TokenWarningService {
	return &TokenWarningService{db: db}
}

// SaveWarning stores one warning.
func (s *TokenWarningService) SaveWarning(ctx context.Context, w models.TokenWarning) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO token_warnings (id, session_id, user_id, kind, current_tokens, limit_tokens, percentage, severity, suggested_action, acknowledged, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		w.ID, nullable(w.SessionID), nullable(w.UserID), w.Kind, w.CurrentTokens, w.LimitTokens,
		w.Percentage, w.Severity, w.SuggestedAction, w.Acknowledged, w.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to save token warning: %w", err)
	}
	return nil
}

// AcknowledgeWarning marks a warning acknowledged.
func (s *TokenWarningService) AcknowledgeWarning(ctx context.Context, id string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`UPDATE token_warnings SET acknowledged = TRUE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to acknowledge token warning: %w", err)
	}
	return requireRow(res)
}

// ListWarnings returns a session's warnings, newest first.
func (s *TokenWarningService) ListWarnings(ctx context.Context, sessionID string) ([]models.TokenWarning, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, COALESCE(session_id, ''), COALESCE(user_id, ''), kind, current_tokens, limit_tokens, percentage, severity, suggested_action, acknowledged, created_at
		FROM token_warnings WHERE session_id = $1
		ORDER BY created_at DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list token warnings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var warnings []models.TokenWarning
	for rows.Next() {
		var w models.TokenWarning
		if err := rows.Scan(&w.ID, &w.SessionID, &w.UserID, &w.Kind, &w.CurrentTokens, &w.LimitTokens,
			&w.Percentage, &w.Severity, &w.SuggestedAction, &w.Acknowledged, &w.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan token warning: %w", err)
		}
		warnings = append(warnings, w)
	}
	return warnings, rows.Err()
}

// nullable maps an empty string to SQL NULL.
func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
