package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestIs_MatchesWrappedAppError(t *testing.T) {
	err := fmt.Errorf("load failed: %w", NotFound("Conversation", nil))

	assert.True(t, Is(err, CodeNotFound))
	assert.False(t, Is(err, CodeConflict))
	assert.False(t, Is(fmt.Errorf("plain"), CodeNotFound))
}

func TestAppError_ErrorIncludesCause(t *testing.T) {
	cause := fmt.Errorf("deadline exceeded")
	err := Internal("Failed to list conversations", cause)

	assert.Equal(t, "INTERNAL_ERROR: Failed to list conversations: deadline exceeded", err.Error())
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, http.StatusInternalServerError, err.Status)
}

func TestTooManyRequests_CarriesRetryAfter(t *testing.T) {
	err := TooManyRequests("slow down", 3*time.Second)

	assert.Equal(t, http.StatusTooManyRequests, err.Status)
	assert.Equal(t, 3*time.Second, err.RetryAfter)
}
