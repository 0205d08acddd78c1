package handlers

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/teamhub/teamhub/services"
)

func TestMapServiceErrorToHTTP(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"team not found", services.ErrTeamNotFound, http.StatusNotFound},
		{"invite not found", services.ErrInviteNotFound, http.StatusNotFound},
		{"duplicate pending invite", services.ErrInviteAlreadyPending, http.StatusConflict},
		{"already a member", services.ErrAlreadyTeamMember, http.StatusConflict},
		{"lost accept race", services.ErrInviteNotPending, http.StatusConflict},
		{"concurrent team update", services.ErrTeamUpdateConflict, http.StatusConflict},
		{"expired invite is 400, not 404", services.ErrInviteExpired, http.StatusBadRequest},
		{"missing email", services.ErrEmailRequired, http.StatusBadRequest},
		{"bad credentials", services.ErrInvalidCredentials, http.StatusUnauthorized},
		{"invite permission", services.ErrInvitePermissionRequired, http.StatusForbidden},
		{"foreign invite token", services.ErrInviteOwnershipMismatch, http.StatusForbidden},
		{"uploads disabled", services.ErrAvatarStorageUnavailable, http.StatusServiceUnavailable},
		{"unknown error", assert.AnError, http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)

			mapServiceErrorToHTTP(rec, req, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestReadJSON(t *testing.T) {
	type payload struct {
		Token string `json:"token"`
	}

	t.Run("valid body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":"abc"}`))
		var dst payload
		assert.NoError(t, readJSON(httptest.NewRecorder(), req, &dst))
		assert.Equal(t, "abc", dst.Token)
	})

	t.Run("empty body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
		var dst payload
		assert.EqualError(t, readJSON(httptest.NewRecorder(), req, &dst), "body must not be empty")
	})

	t.Run("unknown field", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"tokn":"abc"}`))
		var dst payload
		assert.ErrorContains(t, readJSON(httptest.NewRecorder(), req, &dst), "unknown key")
	})

	t.Run("trailing garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"token":"abc"}{"token":"def"}`))
		var dst payload
		assert.EqualError(t, readJSON(httptest.NewRecorder(), req, &dst), "body must only contain a single JSON value")
	})
}
