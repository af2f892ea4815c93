package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/verdantlabs/gatekeeper/internal/models"
	pkghttp "github.com/verdantlabs/gatekeeper/pkg/http"
)

func TestWriteError(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteError(w, 400, "test_error", "Test message")

	assert.Equal(t, 400, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp pkghttp.ErrorResponse
	err := json.Unmarshal(w.Body.Bytes(), &resp)
	assert.NoError(t, err)
	assert.Equal(t, "test_error", resp.Error)
	assert.Equal(t, "Test message", resp.Message)
	assert.Empty(t, resp.Details)
}

func TestWriteJSON(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteJSON(w, 201, map[string]string{"id": "abc"})

	assert.Equal(t, 201, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))
	assert.JSONEq(t, `{"id":"abc"}`, w.Body.String())
}

func TestWriteNoContent(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteNoContent(w)

	assert.Equal(t, 204, w.Code)
	assert.Empty(t, w.Body.String())
}

func TestWriteBadRequest(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteBadRequest(w, "Invalid input")

	assert.Equal(t, 400, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "bad_request", resp.Error)
	assert.Equal(t, "Invalid input", resp.Message)
}

func TestWriteUnauthorized(t *testing.T) {
	w := httptest.NewRecorder()
	pkghttp.WriteUnauthorized(w, "Invalid credentials")

	assert.Equal(t, 401, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "unauthorized", resp.Error)
}

func TestWriteModelError_Mapping(t *testing.T) {
	tests := []struct {
		err        error
		statusCode int
		errorCode  string
	}{
		{models.ErrWeakPassword, http.StatusBadRequest, "weak_password"},
		{models.ErrInvalidRoles, http.StatusBadRequest, "invalid_role_configuration"},
		{models.ErrEmailNotAllowed, http.StatusForbidden, "email_not_allowed"},
		{models.ErrEmailInUse, http.StatusConflict, "email_in_use"},
		{models.ErrInvalidCredentials, http.StatusUnauthorized, "invalid_credentials"},
		{models.ErrAccountDisabled, http.StatusForbidden, "account_disabled"},
		{models.ErrEmailNotVerified, http.StatusUnauthorized, "email_not_verified"},
		{models.ErrInvalidRefreshToken, http.StatusUnauthorized, "invalid_refresh_token"},
		{models.ErrInvalidTicket, http.StatusUnauthorized, "invalid_ticket"},
		{models.ErrInvalidMFACode, http.StatusUnauthorized, "invalid_mfa_code"},
		{models.ErrNotAnonymous, http.StatusConflict, "not_anonymous"},
		{models.ErrAnonymousDisabled, http.StatusForbidden, "anonymous_disabled"},
		{models.ErrMFADisabled, http.StatusForbidden, "mfa_disabled"},
		{models.ErrForbidden, http.StatusForbidden, "forbidden"},
		{models.ErrNotFound, http.StatusNotFound, "not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.errorCode, func(t *testing.T) {
			w := httptest.NewRecorder()
			pkghttp.WriteModelError(w, tt.err)

			assert.Equal(t, tt.statusCode, w.Code)

			var resp pkghttp.ErrorResponse
			assert.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.errorCode, resp.Error)
		})
	}
}

func TestWriteModelError_WrappedSentinel(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteModelError(w, fmt.Errorf("consume ticket: %w", models.ErrInvalidTicket))

	assert.Equal(t, http.StatusUnauthorized, w.Code)

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "invalid_ticket", resp.Error)
}

func TestWriteModelError_UnknownErrorIsOpaque(t *testing.T) {
	w := httptest.NewRecorder()

	pkghttp.WriteModelError(w, errors.New("pq: connection refused on 10.0.0.5"))

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.NotContains(t, w.Body.String(), "10.0.0.5")

	var resp pkghttp.ErrorResponse
	json.Unmarshal(w.Body.Bytes(), &resp)
	assert.Equal(t, "internal_error", resp.Error)
}
