package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/pipeline"
)

// PipelineService manages per-user pipelines and their bound LLM parameters.
// It implements pipeline.PipelineStore.
type PipelineService struct {
	db *sql.DB

	// defaultProvider and defaultModel seed the pipeline created on a user's
	// first query when they have no preferred provider.
	defaultProvider string
	defaultModel    string
}

// NewPipelineService creates a new PipelineService
func NewPipelineService(db *sql.DB, defaultProvider, defaultModel string) *PipelineService {
	return &PipelineService{db: db, defaultProvider: defaultProvider, defaultModel: defaultModel}
}

const pipelineColumns = `
	p.id, p.user_id, p.provider, p.model, p.rag_template_id, p.question_template_id,
	p.is_default, p.created_at, p.updated_at,
	lp.id, lp.temperature, lp.max_tokens, lp.top_k, lp.top_p, lp.repetition_penalty`

// GetDefaultPipeline returns the user's default pipeline, or
// pipeline.ErrNoDefaultPipeline when none exists yet.
func (s *PipelineService) GetDefaultPipeline(ctx context.Context, userID string) (*models.Pipeline, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines p
		JOIN llm_parameters lp ON lp.id = p.parameters_id
		WHERE p.user_id = $1 AND p.is_default`, userID)

	pl, err := scanPipeline(row)
	if errors.Is(err, ErrNotFound) {
		return nil, pipeline.ErrNoDefaultPipeline
	}
	return pl, err
}

// GetPipeline retrieves a pipeline by id.
func (s *PipelineService) GetPipeline(ctx context.Context, pipelineID string) (*models.Pipeline, error) {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	row := s.db.QueryRowContext(ctx, `
		SELECT `+pipelineColumns+`
		FROM pipelines p
		JOIN llm_parameters lp ON lp.id = p.parameters_id
		WHERE p.id = $1`, pipelineID)
	return scanPipeline(row)
}

// CreateDefaultPipeline creates the user's default pipeline, bound to their
// preferred provider when one is set, with stock LLM parameters. Safe against
// races: the partial unique index on (user_id) WHERE is_default makes the
// second creator fail, and the existing default is returned instead.
func (s *PipelineService) CreateDefaultPipeline(ctx context.Context, userID string) (*models.Pipeline, error) {
	if userID == "" {
		return nil, NewValidationError("user_id", "required")
	}

	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	provider := s.defaultProvider
	var preferred string
	err := s.db.QueryRowContext(ctx,
		`SELECT preferred_provider FROM users WHERE id = $1`, userID).Scan(&preferred)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to read user preference: %w", err)
	}
	if preferred != "" {
		provider = preferred
	}

	now := time.Now()
	pl := &models.Pipeline{
		ID:       uuid.New().String(),
		UserID:   userID,
		Provider: provider,
		Model:    s.defaultModel,
		Parameters: models.LLMParameters{
			ID:                uuid.New().String(),
			Temperature:       0.7,
			MaxTokens:         1024,
			TopK:              50,
			TopP:              0.95,
			RepetitionPenalty: 1.1,
		},
		IsDefault: true,
		CreatedAt: now,
		UpdatedAt: now,
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO llm_parameters (id, temperature, max_tokens, top_k, top_p, repetition_penalty)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		pl.Parameters.ID, pl.Parameters.Temperature, pl.Parameters.MaxTokens,
		pl.Parameters.TopK, pl.Parameters.TopP, pl.Parameters.RepetitionPenalty)
	if err != nil {
		return nil, fmt.Errorf("failed to create llm parameters: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO pipelines (id, user_id, provider, model, parameters_id, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, TRUE, $6, $6)`,
		pl.ID, pl.UserID, pl.Provider, pl.Model, pl.Parameters.ID, now)
	if err != nil {
		// Lost the race: another request created the default concurrently.
		if existing, getErr := s.GetDefaultPipeline(ctx, userID); getErr == nil {
			return existing, nil
		}
		return nil, fmt.Errorf("failed to create default pipeline: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit default pipeline: %w", err)
	}
	return pl, nil
}

// SetDefault makes the given pipeline the user's default, atomically clearing
// the previous default.
func (s *PipelineService) SetDefault(ctx context.Context, pipelineID, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, serviceTimeout)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET is_default = FALSE, updated_at = now() WHERE user_id = $1 AND is_default`, userID); err != nil {
		return fmt.Errorf("failed to clear default pipeline: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE pipelines SET is_default = TRUE, updated_at = now() WHERE id = $1 AND user_id = $2`, pipelineID, userID)
	if err != nil {
		return fmt.Errorf("failed to set default pipeline: %w", err)
	}
	if err := requireRow(res); err != nil {
		return err
	}
	return tx.Commit()
}

func scanPipeline(row scanner) (*models.Pipeline, error) {
	var pl models.Pipeline
	var ragTemplate, questionTemplate sql.NullString
	err := row.Scan(&pl.ID, &pl.UserID, &pl.Provider, &pl.Model, &ragTemplate, &questionTemplate,
		&pl.IsDefault, &pl.CreatedAt, &pl.UpdatedAt,
		&pl.Parameters.ID, &pl.Parameters.Temperature, &pl.Parameters.MaxTokens,
		&pl.Parameters.TopK, &pl.Parameters.TopP, &pl.Parameters.RepetitionPenalty)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan pipeline: %w", err)
	}
	pl.RAGTemplateID = ragTemplate.String
	pl.QuestionTemplate = questionTemplate.String
	return &pl, nil
}
