package httputil

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meridianerp/meridian/pkg/apperrors"
)

func TestWriteAppError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantField  string
	}{
		{
			name:       "validation error carries field",
			err:        apperrors.NewValidation("organization", "organization is required"),
			wantStatus: http.StatusBadRequest,
			wantField:  "organization",
		},
		{
			name:       "wrapped validation error",
			err:        fmt.Errorf("create: %w", apperrors.NewValidation("cost_price", "field is not writable")),
			wantStatus: http.StatusBadRequest,
			wantField:  "cost_price",
		},
		{
			name:       "permission denied",
			err:        apperrors.NewPermissionDenied("missing add_product in organization 3"),
			wantStatus: http.StatusForbidden,
		},
		{
			name:       "not found",
			err:        apperrors.NewNotFound("role", int64(8)),
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "unknown error is opaque 500",
			err:        errors.New("pq: connection reset"),
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteAppError(rec, tt.err)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, tt.wantField, resp.Field)
			if tt.wantStatus == http.StatusInternalServerError {
				assert.Equal(t, "internal server error", resp.Error)
			}
		})
	}
}

func TestWriteScopedErrorCollapsesDenialAndMissing(t *testing.T) {
	for _, err := range []error{
		apperrors.NewPermissionDenied("not a member"),
		apperrors.NewNotFound("product", int64(12)),
	} {
		rec := httptest.NewRecorder()
		WriteScopedError(rec, err)

		assert.Equal(t, http.StatusNotFound, rec.Code)
		var resp ErrorResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		// Identical bodies: existence must not leak across organizations.
		assert.Equal(t, "not found", resp.Error)
	}
}
