package conversation

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/manavgup/rag-modulo/pkg/llm"
	"github.com/manavgup/rag-modulo/pkg/models"
	"github.com/manavgup/rag-modulo/pkg/tokens"
)

// Store is the session persistence the manager needs. AddMessagePair must be
// atomic: either both messages land or neither does.
type Store interface {
	GetSession(ctx context.Context, sessionID, userID string) (*models.ConversationSession, error)
	ListMessages(ctx context.Context, sessionID string, limit int) ([]models.ConversationMessage, error)
	AddMessagePair(ctx context.Context, user, assistant models.ConversationMessage) error
}

// SearchFunc answers an (augmented) question against a collection. The
// manager supplies it so this package stays independent of the pipeline.
type SearchFunc func(ctx context.Context, question, collectionID, userID string) (answer string, sourceDocs []string, usage models.TokenUsage, err error)

// Config tunes the manager.
type Config struct {
	ContextTokenBudget int
	ExtractionMethod   ExtractionMethod
	Model              string
}

// Manager orchestrates one conversational turn: context assembly, query
// augmentation, search, and atomic persistence.
type Manager struct {
	store     Store
	counter   tokens.Counter
	tracker   *tokens.Tracker
	extractor *entityExtractor
	cfg       Config
	logger    *slog.Logger
}

// NewManager wires a Manager. generator powers LLM entity extraction and may
// be nil when cfg.ExtractionMethod is fast.
func NewManager(store Store, counter tokens.Counter, tracker *tokens.Tracker,
	generator llm.Generator, params llm.GenerateParams, cfg Config) *Manager {

	if cfg.ContextTokenBudget <= 0 {
		cfg.ContextTokenBudget = 2000
	}
	if cfg.ExtractionMethod == "" {
		cfg.ExtractionMethod = ExtractFast
	}
	return &Manager{
		store:     store,
		counter:   counter,
		tracker:   tracker,
		extractor: newEntityExtractor(generator, params),
		cfg:       cfg,
		logger:    slog.Default(),
	}
}

// TurnResult is the outcome of ProcessMessage.
type TurnResult struct {
	UserMessage      models.ConversationMessage
	AssistantMessage models.ConversationMessage
	AugmentedQuery   string
	Warning          *models.TokenWarning
}

// ProcessMessage runs one conversational turn. The session must exist, belong
// to the user, and be active. The user question and assistant answer are
// persisted atomically after the search succeeds.
func (m *Manager) ProcessMessage(ctx context.Context, sessionID, userID, content string, search SearchFunc) (*TurnResult, error) {
	if err := models.ValidateContent(content); err != nil {
		return nil, err
	}

	session, err := m.store.GetSession(ctx, sessionID, userID)
	if err != nil {
		return nil, err
	}
	if !session.Writable() {
		return nil, fmt.Errorf("session %s is %s and does not accept messages", session.ID, session.Status)
	}

	history, err := m.store.ListMessages(ctx, session.ID, session.MaxMessages)
	if err != nil {
		return nil, fmt.Errorf("failed to load session history: %w", err)
	}

	conversationContext := m.buildContext(history)
	augmented := content
	if NeedsAugmentation(content) && conversationContext != "" {
		entities, err := m.extractor.Extract(ctx, conversationContext, m.cfg.ExtractionMethod)
		if err != nil {
			// Extraction is best-effort; the raw question still works.
			m.logger.Warn("Entity extraction failed", "session_id", session.ID, "error", err)
		} else {
			augmented = AugmentQuery(content, entities)
		}
	}

	start := time.Now()
	answer, sourceDocs, usage, err := search(ctx, augmented, session.CollectionID, userID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	userMessage := models.ConversationMessage{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleUser,
		Type:      messageType(content, len(history)),
		Content:   content,
		Metadata:  models.MessageMetadata{TokenCount: m.counter.Count(content)},
		CreatedAt: now,
	}
	assistantMessage := models.ConversationMessage{
		ID:        uuid.New().String(),
		SessionID: session.ID,
		Role:      models.RoleAssistant,
		Type:      models.MessageTypeAnswer,
		Content:   answer,
		Metadata: models.MessageMetadata{
			SourceDocuments: sourceDocs,
			TokenCount:      m.counter.Count(answer),
			ExecutionTimeMS: time.Since(start).Milliseconds(),
		},
		// Strictly after the user message so timestamp ordering within the
		// pair is deterministic.
		CreatedAt: now.Add(time.Microsecond),
	}
	if err := m.store.AddMessagePair(ctx, userMessage, assistantMessage); err != nil {
		return nil, fmt.Errorf("failed to persist message pair: %w", err)
	}

	result := &TurnResult{
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		AugmentedQuery:   augmented,
	}

	if m.tracker != nil {
		if warning, err := m.trackTokens(ctx, session, history, userMessage, assistantMessage, usage); err != nil {
			m.logger.Warn("Token tracking failed", "session_id", session.ID, "error", err)
		} else {
			result.Warning = warning
		}
	}
	return result, nil
}

// BuildContext exposes the token-windowed context for a session's history.
func (m *Manager) BuildContext(history []models.ConversationMessage) string {
	return m.buildContext(history)
}

func (m *Manager) buildContext(history []models.ConversationMessage) string {
	contents := make([]string, len(history))
	for i, msg := range history {
		contents[i] = fmt.Sprintf("%s: %s", msg.Role, msg.Content)
	}
	window := BuildWindow(m.counter, contents, m.cfg.ContextTokenBudget)
	return strings.Join(window, "\n")
}

// trackTokens samples this turn's usage and checks the trailing conversation
// length. The per-call warning wins when both fire.
func (m *Manager) trackTokens(ctx context.Context, session *models.ConversationSession,
	history []models.ConversationMessage, userMsg, assistantMsg models.ConversationMessage,
	usage models.TokenUsage) (*models.TokenWarning, error) {

	if usage.Model == "" {
		usage.Model = m.cfg.Model
	}
	warning, err := m.tracker.Track(ctx, usage, session.ID, session.UserID)
	if err != nil || warning != nil {
		return warning, err
	}

	recent := append(append([]models.ConversationMessage{}, history...), userMsg, assistantMsg)
	if len(recent) > tokens.ConversationWindow {
		recent = recent[len(recent)-tokens.ConversationWindow:]
	}
	sum := 0
	for _, msg := range recent {
		if msg.Metadata.TokenCount > 0 {
			sum += msg.Metadata.TokenCount
		} else {
			sum += m.counter.Count(msg.Content)
		}
	}
	return m.tracker.CheckConversation(ctx, sum, usage.Model, session.ID, session.UserID)
}

// messageType classifies the user turn: the first message is a question,
// later ambiguous ones are follow-ups.
func messageType(content string, historyLen int) models.MessageType {
	if historyLen > 0 && NeedsAugmentation(content) {
		return models.MessageTypeFollowUp
	}
	return models.MessageTypeQuestion
}
