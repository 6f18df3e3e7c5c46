package response

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "fixmate/pkg/errors"
)

func newContext() (echo.Context, *httptest.ResponseRecorder) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) Response {
	t.Helper()
	var body Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestError_AppError(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, Error(c, fmt.Errorf("wrapped: %w", apperrors.Forbidden("nope", nil))))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	body := decode(t, rec)
	assert.False(t, body.Success)
	assert.Equal(t, apperrors.CodeForbidden, body.Error.Code)
	assert.Equal(t, "nope", body.Error.Message)
}

func TestError_RetryAfterHeader(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, Error(c, apperrors.TooManyRequests("slow down", 1500*time.Millisecond)))

	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "2", rec.Header().Get("Retry-After"))
}

func TestError_Validation(t *testing.T) {
	type request struct {
		RecipientID string `validate:"required"`
	}
	err := validator.New().Struct(request{})
	c, rec := newContext()

	require.NoError(t, Error(c, err))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "VALIDATION_ERROR", body.Error.Code)
	assert.Equal(t, "recipientid is required", body.Error.Message)
}

func TestError_Unknown(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, Error(c, fmt.Errorf("boom")))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, apperrors.CodeInternal, decode(t, rec).Error.Code)
}

func TestErrorWithDetails(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, ErrorWithDetails(c, apperrors.BadRequest("bad", nil), map[string]string{"draft": "hi"}))

	body := decode(t, rec)
	assert.Equal(t, map[string]interface{}{"draft": "hi"}, body.Error.Details)
}

func TestSuccess(t *testing.T) {
	c, rec := newContext()

	require.NoError(t, Success(c, map[string]int{"unread_total": 3}))

	assert.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.True(t, body.Success)
	assert.NotEmpty(t, body.Timestamp)
}
