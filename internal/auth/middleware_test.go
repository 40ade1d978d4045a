package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequireAuth(t *testing.T) {
	ts := newTestTokenService(t)
	token, err := ts.Generate("alice")
	require.NoError(t, err)

	var seen string
	h := RequireAuth(ts)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name        string
		header      string
		cookie      string
		wantStatus  int
		wantSubject string
	}{
		{name: "bearer header", header: "Bearer " + token, wantStatus: http.StatusNoContent, wantSubject: "alice"},
		{name: "lowercase scheme", header: "bearer " + token, wantStatus: http.StatusNoContent, wantSubject: "alice"},
		{name: "cookie", cookie: token, wantStatus: http.StatusNoContent, wantSubject: "alice"},
		{name: "missing", wantStatus: http.StatusUnauthorized},
		{name: "wrong scheme", header: "token " + token, wantStatus: http.StatusUnauthorized},
		{name: "empty bearer", header: "Bearer ", wantStatus: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer nope", wantStatus: http.StatusUnauthorized},
		{name: "bad header beats good cookie", header: "Bearer nope", cookie: token, wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = ""
			req := httptest.NewRequest(http.MethodGet, "/api/runs", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			if tt.cookie != "" {
				req.AddCookie(&http.Cookie{Name: "token", Value: tt.cookie})
			}
			rr := httptest.NewRecorder()

			h.ServeHTTP(rr, req)

			assert.Equal(t, tt.wantStatus, rr.Code)
			assert.Equal(t, tt.wantSubject, seen)
			if tt.wantStatus == http.StatusUnauthorized {
				assert.Contains(t, rr.Body.String(), "unauthorized")
				assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			}
		})
	}
}

func TestSubjectFromContext(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	_, ok := SubjectFromContext(req.Context())
	assert.False(t, ok)

	_, ok = SubjectFromContext(WithSubject(req.Context(), ""))
	assert.False(t, ok)

	s, ok := SubjectFromContext(WithSubject(req.Context(), "bob"))
	assert.True(t, ok)
	assert.Equal(t, "bob", s)
}
