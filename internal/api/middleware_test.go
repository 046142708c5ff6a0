package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func okHandler(t *testing.T, sawAutomation *bool, sawUser *uuid.UUID) http.Handler {
	t.Helper()
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if sawAutomation != nil {
			*sawAutomation = IsAutomation(r.Context())
		}
		if sawUser != nil {
			if id, ok := GetUserID(r.Context()); ok {
				*sawUser = id
			}
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireUserAcceptsIdentityHeader(t *testing.T) {
	auth := Auth{AutomationSecret: "s3cret"}
	userID := uuid.New()

	var seen uuid.UUID
	h := auth.RequireUser(okHandler(t, nil, &seen))

	req := httptest.NewRequest(http.MethodGet, "/doses", nil)
	req.Header.Set("X-User-ID", userID.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, userID, seen)
}

func TestRequireUserRejectsMissingIdentity(t *testing.T) {
	auth := Auth{AutomationSecret: "s3cret"}
	h := auth.RequireUser(okHandler(t, nil, nil))

	req := httptest.NewRequest(http.MethodGet, "/doses", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/doses", nil)
	req.Header.Set("X-User-ID", "not-a-uuid")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireUserAcceptsAutomationSecret(t *testing.T) {
	auth := Auth{AutomationSecret: "s3cret"}

	var automation bool
	h := auth.RequireUser(okHandler(t, &automation, nil))

	req := httptest.NewRequest(http.MethodGet, "/doses", nil)
	req.Header.Set("X-Automation-Key", "s3cret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, automation)
}

func TestRequireAutomation(t *testing.T) {
	auth := Auth{AutomationSecret: "s3cret"}
	h := auth.RequireAutomation(okHandler(t, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/triggers/materialize", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "no secret")

	req = httptest.NewRequest(http.MethodPost, "/triggers/materialize", nil)
	req.Header.Set("X-Automation-Key", "wrong")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "wrong secret")

	req = httptest.NewRequest(http.MethodPost, "/triggers/materialize", nil)
	req.Header.Set("X-User-ID", uuid.New().String())
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code, "end users cannot call batch triggers")

	req = httptest.NewRequest(http.MethodPost, "/triggers/materialize", nil)
	req.Header.Set("X-Automation-Key", "s3cret")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireAutomationWithoutConfiguredSecret(t *testing.T) {
	auth := Auth{}
	h := auth.RequireAutomation(okHandler(t, nil, nil))

	req := httptest.NewRequest(http.MethodPost, "/triggers/materialize", nil)
	req.Header.Set("X-Automation-Key", "")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code, "an empty secret never matches")
}

func TestCanAccessUser(t *testing.T) {
	auth := Auth{AutomationSecret: "s3cret"}
	userID := uuid.New()
	otherID := uuid.New()

	var self, other, automation bool
	h := auth.RequireUser(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		self = canAccessUser(r.Context(), userID)
		other = canAccessUser(r.Context(), otherID)
		automation = IsAutomation(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("X-User-ID", userID.String())
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, self)
	assert.False(t, other, "users only reach their own data")
	assert.False(t, automation)

	req = httptest.NewRequest(http.MethodGet, "/users", nil)
	req.Header.Set("X-Automation-Key", "s3cret")
	h.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, other, "automation reaches any user")
}

func TestRequestIDMiddleware(t *testing.T) {
	var got string
	h := RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = GetRequestID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.NotEmpty(t, got)
	assert.Equal(t, got, rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}
