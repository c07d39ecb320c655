package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"grantd.org/internal/auth"
)

func TestExtractBearerToken(t *testing.T) {
	cases := []struct {
		header  string
		want    string
		wantErr bool
	}{
		{"", "", true},
		{"Basic abc", "", true},
		{"Bearer", "", true},
		{"Bearer ", "", true},
		{"Bearer tok123", "tok123", false},
		{"bearer tok123", "tok123", false},
		{"  Bearer tok123  ", "tok123", false},
	}
	for _, tc := range cases {
		got, err := extractBearerToken(tc.header)
		if tc.wantErr {
			if err == nil {
				t.Fatalf("header %q: expected error", tc.header)
			}
			continue
		}
		if err != nil || got != tc.want {
			t.Fatalf("header %q: got (%q, %v), want %q", tc.header, got, err, tc.want)
		}
	}
}

func TestIsPublicPath(t *testing.T) {
	for _, p := range []string{"/healthz", "/readyz", "/metrics", "/openapi.yaml", "/v1/auth/token", "/"} {
		if !isPublicPath(p) {
			t.Fatalf("%s should be public", p)
		}
	}
	for _, p := range []string{"/v1/requests", "/v1/grants", "/v1/audit"} {
		if isPublicPath(p) {
			t.Fatalf("%s must not be public", p)
		}
	}
}

func TestWithAuthSetsUserContext(t *testing.T) {
	t.Setenv("GRANTD_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	token, err := auth.GenerateToken("alice", []string{"member"}, time.Minute)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}

	api := &API{}
	var gotUser string
	var gotRoles []string
	h := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUser, _ = auth.UserIDFromContext(r.Context())
		gotRoles = auth.RolesFromContext(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/pending", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if gotUser != "alice" || len(gotRoles) != 1 || gotRoles[0] != "member" {
		t.Fatalf("unexpected identity: user=%q roles=%v", gotUser, gotRoles)
	}
}

func TestWithAuthRejectsBadToken(t *testing.T) {
	t.Setenv("GRANTD_AUTH_SECRET", "test-secret")
	auth.ResetSecretForTests()
	t.Cleanup(auth.ResetSecretForTests)

	api := &API{}
	h := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("handler must not run")
	}))

	req := httptest.NewRequest(http.MethodGet, "/v1/requests/pending", nil)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
	if rec.Header().Get("WWW-Authenticate") != `Bearer realm="grantd", error="invalid_token"` {
		t.Fatalf("unexpected WWW-Authenticate: %q", rec.Header().Get("WWW-Authenticate"))
	}
}

func TestWithAuthSkipsPublicPaths(t *testing.T) {
	api := &API{}
	called := false
	h := api.withAuth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if !called {
		t.Fatalf("public path must bypass auth")
	}
}
