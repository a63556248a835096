package identity

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func signTestToken(t *testing.T, secret, subject string, expiry time.Duration) string {
	t.Helper()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(expiry)),
	}
	token, errSign := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if errSign != nil {
		t.Fatalf("sign token: %v", errSign)
	}
	return token
}

func TestResolveValidBearerToken(t *testing.T) {
	resolver := NewResolver("test-secret", "")
	token := signTestToken(t, "test-secret", "42", time.Hour)

	got := resolver.Resolve("Bearer "+token, "203.0.113.9")
	if got.Kind != KindUser {
		t.Fatalf("kind = %v, want user", got.Kind)
	}
	if got.UserID != 42 {
		t.Fatalf("user id = %d, want 42", got.UserID)
	}
}

func TestResolveDegradesToAnonymous(t *testing.T) {
	resolver := NewResolver("test-secret", "pepper")

	cases := map[string]string{
		"missing header":  "",
		"guest sentinel":  "Bearer guest",
		"not bearer":      "Basic abc123",
		"garbage token":   "Bearer not-a-jwt",
		"wrong secret":    "Bearer " + signTestToken(t, "other-secret", "42", time.Hour),
		"expired token":   "Bearer " + signTestToken(t, "test-secret", "42", -time.Hour),
		"non-numeric sub": "Bearer " + signTestToken(t, "test-secret", "alice", time.Hour),
	}
	for name, header := range cases {
		got := resolver.Resolve(header, "203.0.113.9")
		if got.Kind != KindAnonymous {
			t.Fatalf("%s: kind = %v, want anonymous", name, got.Kind)
		}
		if got.Key == "" {
			t.Fatalf("%s: anonymous key is empty", name)
		}
	}
}

func TestHashIPStableAndSalted(t *testing.T) {
	a := NewResolver("s", "salt-a")
	b := NewResolver("s", "salt-b")

	if a.HashIP("203.0.113.9") != a.HashIP("203.0.113.9") {
		t.Fatalf("hash for the same IP and salt should be stable")
	}
	if a.HashIP("203.0.113.9") == b.HashIP("203.0.113.9") {
		t.Fatalf("different salts should produce different hashes")
	}
	if a.HashIP("203.0.113.9") == a.HashIP("203.0.113.10") {
		t.Fatalf("different IPs should produce different hashes")
	}
}
