package services

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidationError_Message(t *testing.T) {
	err := NewValidationError("name", "must not be empty")
	assert.EqualError(t, err, "validation error on field 'name': must not be empty")
}

func TestIsValidationError(t *testing.T) {
	direct := NewValidationError("limit", "out of range")
	assert.True(t, IsValidationError(direct))

	wrapped := fmt.Errorf("create collection: %w", direct)
	assert.True(t, IsValidationError(wrapped))

	assert.False(t, IsValidationError(ErrNotFound))
	assert.False(t, IsValidationError(nil))
}
