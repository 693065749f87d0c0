package auth

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

func TestJWTService_RoundTrip(t *testing.T) {
	svc := NewJWTService("s3cret", "accounts", time.Hour)
	id := uuid.New()
	token, err := svc.Generate(id, "ada@example.com", RoleAdmin)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	claims, err := svc.Validate(token)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if claims.UserID != id || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims %+v", claims)
	}
}

func TestJWTService_Rejects(t *testing.T) {
	svc := NewJWTService("s3cret", "accounts", time.Hour)
	id := uuid.New()

	other, _ := NewJWTService("other", "accounts", time.Hour).Generate(id, "", RoleViewer)
	wrongIssuer, _ := NewJWTService("s3cret", "elsewhere", time.Hour).Generate(id, "", RoleViewer)
	expired, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accounts",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
		},
	}).SignedString([]byte("s3cret"))
	noExpiry, _ := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		UserID:           id,
		RegisteredClaims: jwt.RegisteredClaims{Issuer: "accounts"},
	}).SignedString([]byte("s3cret"))
	hs512, _ := jwt.NewWithClaims(jwt.SigningMethodHS512, Claims{
		UserID: id,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "accounts",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("s3cret"))

	tests := map[string]string{
		"garbage":      "not-a-token",
		"wrong secret": other,
		"wrong issuer": wrongIssuer,
		"expired":      expired,
		"no expiry":    noExpiry,
		"other alg":    hs512,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := svc.Validate(token); !errors.Is(err, ErrInvalidToken) {
				t.Fatalf("expected ErrInvalidToken, got %v", err)
			}
		})
	}
}
