package tokens

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/manavgup/rag-modulo/pkg/models"
)

type fakeWarningStore struct {
	saved   []models.TokenWarning
	saveErr error
}

func (s *fakeWarningStore) SaveWarning(_ context.Context, w models.TokenWarning) error {
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, w)
	return nil
}

func (s *fakeWarningStore) AcknowledgeWarning(_ context.Context, _ string) error { return nil }

func (s *fakeWarningStore) ListWarnings(_ context.Context, _ string) ([]models.TokenWarning, error) {
	return s.saved, nil
}

func TestEstimateCounter(t *testing.T) {
	counter := EstimateCounter{}

	assert.Equal(t, 0, counter.Count(""))
	assert.Equal(t, 1, counter.Count("abc"))
	assert.Equal(t, 1, counter.Count("abcd"))
	assert.Equal(t, 2, counter.Count("abcde"))
}

func TestContextWindow(t *testing.T) {
	assert.Equal(t, 128000, ContextWindow("gpt-4o-mini"))
	assert.Equal(t, 200000, ContextWindow("claude-sonnet-4-5"))

	// Prefix match for dated releases
	assert.Equal(t, 128000, ContextWindow("gpt-4o-2024-08-06"))

	// Unknown model falls back to the default window
	assert.Equal(t, DefaultContextWindow, ContextWindow("mystery-model"))
}

func TestTracker_Track_BelowThreshold(t *testing.T) {
	store := &fakeWarningStore{}
	tracker := NewTracker(store)

	// 50% of the 4096 default window
	w, err := tracker.Track(context.Background(), models.TokenUsage{
		Model:        "mystery-model",
		PromptTokens: 2048,
	}, "sess-1", "user-1")

	require.NoError(t, err)
	assert.Nil(t, w)
	assert.Empty(t, store.saved)
}

func TestTracker_Track_Escalation(t *testing.T) {
	tests := []struct {
		name     string
		prompt   int
		kind     models.TokenWarningKind
		severity models.TokenWarningSeverity
		action   string
	}{
		{"info at 72%", 2950, models.WarningApproachingLimit, models.SeverityInfo, ""},
		{"warning at 86%", 3523, models.WarningApproachingLimit, models.SeverityWarning, models.ActionConsiderNewSession},
		{"critical at 96%", 3933, models.WarningAtLimit, models.SeverityCritical, models.ActionStartNewSession},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeWarningStore{}
			tracker := NewTracker(store)

			w, err := tracker.Track(context.Background(), models.TokenUsage{
				Model:        "mystery-model", // 4096 window
				PromptTokens: tt.prompt,
			}, "sess-1", "user-1")

			require.NoError(t, err)
			require.NotNil(t, w)
			assert.Equal(t, tt.kind, w.Kind)
			assert.Equal(t, tt.severity, w.Severity)
			assert.Equal(t, tt.action, w.SuggestedAction)
			assert.Equal(t, tt.prompt, w.CurrentTokens)
			assert.Equal(t, 4096, w.LimitTokens)
			assert.NotEmpty(t, w.ID)

			require.Len(t, store.saved, 1)
			assert.Equal(t, w.ID, store.saved[0].ID)
		})
	}
}

func TestTracker_Track_ContextTokensOverridePrompt(t *testing.T) {
	tracker := NewTracker(nil)

	// PromptTokens alone would be below every threshold; ContextTokens wins.
	w, err := tracker.Track(context.Background(), models.TokenUsage{
		Model:         "mystery-model",
		PromptTokens:  100,
		ContextTokens: 3933,
	}, "sess-1", "user-1")

	require.NoError(t, err)
	require.NotNil(t, w)
	assert.Equal(t, models.SeverityCritical, w.Severity)
	assert.Equal(t, 3933, w.CurrentTokens)
}

func TestTracker_Track_PersistErrorStillReturnsWarning(t *testing.T) {
	store := &fakeWarningStore{saveErr: errors.New("db down")}
	tracker := NewTracker(store)

	w, err := tracker.Track(context.Background(), models.TokenUsage{
		Model:        "mystery-model",
		PromptTokens: 4000,
	}, "sess-1", "user-1")

	require.Error(t, err)
	require.NotNil(t, w)
	assert.Equal(t, models.SeverityCritical, w.Severity)
}

func TestTracker_CheckConversation(t *testing.T) {
	t.Run("below threshold", func(t *testing.T) {
		tracker := NewTracker(nil)

		w, err := tracker.CheckConversation(context.Background(), 3000, "mystery-model", "sess-1", "user-1")
		require.NoError(t, err)
		assert.Nil(t, w)
	})

	t.Run("over threshold", func(t *testing.T) {
		store := &fakeWarningStore{}
		tracker := NewTracker(store)

		w, err := tracker.CheckConversation(context.Background(), 3500, "mystery-model", "sess-1", "user-1")
		require.NoError(t, err)
		require.NotNil(t, w)
		assert.Equal(t, models.WarningConversationTooLong, w.Kind)
		assert.Equal(t, models.SeverityWarning, w.Severity)
		assert.Equal(t, models.ActionStartNewSession, w.SuggestedAction)
		assert.Len(t, store.saved, 1)
	})

	t.Run("critical near the window", func(t *testing.T) {
		tracker := NewTracker(nil)

		w, err := tracker.CheckConversation(context.Background(), 4000, "mystery-model", "sess-1", "user-1")
		require.NoError(t, err)
		require.NotNil(t, w)
		assert.Equal(t, models.SeverityCritical, w.Severity)
	})
}
