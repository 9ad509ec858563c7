package tokens

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/models"
)

// Warning thresholds as fractions of the model's context window.
const (
	ThresholdInfo     = 0.70
	ThresholdWarning  = 0.85
	ThresholdCritical = 0.95

	// ConversationThreshold triggers the conversation-length warning over
	// the last few messages.
	ConversationThreshold = 0.80
	// ConversationWindow is how many trailing messages the length check
	// considers.
	ConversationWindow = 5
)

// WarningStore persists warnings for later retrieval and acknowledgment.
type WarningStore interface {
	SaveWarning(ctx context.Context, w models.TokenWarning) error
	AcknowledgeWarning(ctx context.Context, id string) error
	ListWarnings(ctx context.Context, sessionID string) ([]models.TokenWarning, error)
}

// Tracker samples usage on each LLM call and emits at most one warning per
// call, escalating with the window fraction used.
type Tracker struct {
	store  WarningStore
	logger *slog.Logger
}

// NewTracker creates a Tracker persisting warnings to store. A nil store
// disables persistence (warnings are still returned to the caller).
func NewTracker(store WarningStore) *Tracker {
	return &Tracker{store: store, logger: slog.Default()}
}

// Track records one usage sample. It returns the warning emitted for this
// call, or nil when usage is below every threshold. ContextTokens, when set,
// overrides PromptTokens for window accounting.
func (t *Tracker) Track(ctx context.Context, usage models.TokenUsage, sessionID, userID string) (*models.TokenWarning, error) {
	limit := ContextWindow(usage.Model)
	current := usage.PromptTokens
	if usage.ContextTokens > 0 {
		current = usage.ContextTokens
	}
	fraction := float64(current) / float64(limit)

	var w *models.TokenWarning
	switch {
	case fraction >= ThresholdCritical:
		w = t.newWarning(models.WarningAtLimit, models.SeverityCritical, current, limit, sessionID, userID)
		w.SuggestedAction = models.ActionStartNewSession
	case fraction >= ThresholdWarning:
		w = t.newWarning(models.WarningApproachingLimit, models.SeverityWarning, current, limit, sessionID, userID)
		w.SuggestedAction = models.ActionConsiderNewSession
	case fraction >= ThresholdInfo:
		w = t.newWarning(models.WarningApproachingLimit, models.SeverityInfo, current, limit, sessionID, userID)
	default:
		return nil, nil
	}

	if err := t.persist(ctx, w); err != nil {
		return w, err
	}
	return w, nil
}

// CheckConversation evaluates the trailing-message token sum against the
// model's window and emits a conversation_too_long warning when it exceeds
// 80%. Severity escalates to critical at the 95% threshold.
func (t *Tracker) CheckConversation(ctx context.Context, recentTokens int, model, sessionID, userID string) (*models.TokenWarning, error) {
	limit := ContextWindow(model)
	fraction := float64(recentTokens) / float64(limit)
	if fraction <= ConversationThreshold {
		return nil, nil
	}

	severity := models.SeverityWarning
	if fraction >= ThresholdCritical {
		severity = models.SeverityCritical
	}
	w := t.newWarning(models.WarningConversationTooLong, severity, recentTokens, limit, sessionID, userID)
	w.SuggestedAction = models.ActionStartNewSession

	if err := t.persist(ctx, w); err != nil {
		return w, err
	}
	return w, nil
}

func (t *Tracker) newWarning(kind models.TokenWarningKind, severity models.TokenWarningSeverity,
	current, limit int, sessionID, userID string) *models.TokenWarning {
	return &models.TokenWarning{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		UserID:        userID,
		Kind:          kind,
		CurrentTokens: current,
		LimitTokens:   limit,
		Percentage:    100 * float64(current) / float64(limit),
		Severity:      severity,
		CreatedAt:     time.Now(),
	}
}

func (t *Tracker) persist(ctx context.Context, w *models.TokenWarning) error {
	t.logger.Warn("Token warning emitted",
		"kind", w.Kind,
		"severity", w.Severity,
		"current_tokens", w.CurrentTokens,
		"limit_tokens", w.LimitTokens,
		"session_id", w.SessionID)
	if t.store == nil {
		return nil
	}
	if err := t.store.SaveWarning(ctx, *w); err != nil {
		return fmt.Errorf("failed to persist token warning: %w", err)
	}
	return nil
}
