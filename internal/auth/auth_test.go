package auth

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
)

func TestIssueAndParse(t *testing.T) {
	s := NewSigner("smis", "secret", time.Minute, time.Hour)
	pair, err := s.Issue("u1", "a@example.com")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	claims, err := s.Parse(pair.AccessToken)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if claims.Subject != "u1" || claims.Email != "a@example.com" || claims.Role != RoleUser {
		t.Errorf("unexpected claims %+v", claims)
	}

	other := NewSigner("smis", "different", time.Minute, time.Hour)
	if _, err := other.Parse(pair.AccessToken); err == nil {
		t.Error("token verified with the wrong key")
	}
	wrongIssuer := NewSigner("someone-else", "secret", time.Minute, time.Hour)
	if _, err := wrongIssuer.Parse(pair.AccessToken); err == nil {
		t.Error("token accepted for another issuer")
	}
}

func TestExpiredToken(t *testing.T) {
	s := NewSigner("smis", "secret", time.Minute, time.Hour)
	pair, _ := s.Issue("u1", "a@example.com")
	s.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	if _, err := s.Parse(pair.AccessToken); err == nil {
		t.Error("expired token accepted")
	}
}

func TestBearerAuth(t *testing.T) {
	gin.SetMode(gin.TestMode)
	s := NewSigner("smis", "secret", time.Minute, time.Hour)
	r := gin.New()
	r.GET("/me", BearerAuth(s), func(c *gin.Context) {
		claims, _ := FromContext(c)
		c.String(http.StatusOK, claims.Subject)
	})

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/me", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token: status %d", w.Code)
	}

	pair, _ := s.Issue("u1", "a@example.com")
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	req.Header.Set("Authorization", "Bearer "+pair.AccessToken)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK || w.Body.String() != "u1" {
		t.Errorf("valid token: status %d body %q", w.Code, w.Body.String())
	}
}

func TestSessionLifecycle(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "session.json")
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if _, err := LoadSession(path, now); !errors.Is(err, ErrNoSession) {
		t.Fatalf("expected ErrNoSession before login, got %v", err)
	}
	want := Session{Email: "a@example.com", UserID: "u1", AccessToken: "tok", LoginAt: now}
	if err := SaveSession(path, want); err != nil {
		t.Fatalf("SaveSession failed: %v", err)
	}
	got, err := LoadSession(path, now.Add(time.Hour))
	if err != nil {
		t.Fatalf("LoadSession failed: %v", err)
	}
	if got.UserID != "u1" || got.AccessToken != "tok" || !got.LoginAt.Equal(now) {
		t.Errorf("unexpected session %+v", got)
	}

	if _, err := LoadSession(path, now.Add(25*time.Hour)); !errors.Is(err, ErrNoSession) {
		t.Errorf("expected expired session, got %v", err)
	}

	if err := ClearSession(path); err != nil {
		t.Fatalf("ClearSession failed: %v", err)
	}
	if err := ClearSession(path); err != nil {
		t.Errorf("second ClearSession failed: %v", err)
	}
}
