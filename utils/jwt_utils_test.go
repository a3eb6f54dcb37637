package utils

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer, err := NewTokenIssuer(testSecret, time.Hour)
	if err != nil {
		t.Fatalf("NewTokenIssuer: %v", err)
	}
	token, err := issuer.GenerateJWT("operator")
	if err != nil {
		t.Fatalf("GenerateJWT: %v", err)
	}
	claims, err := issuer.ValidateJWT(token)
	if err != nil {
		t.Fatalf("ValidateJWT: %v", err)
	}
	if claims.Subject != "operator" || claims.Role != RoleAdmin {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer, _ := NewTokenIssuer(testSecret, time.Hour)
	other, _ := NewTokenIssuer(strings.Repeat("x", 32), time.Hour)

	foreign, _ := other.GenerateJWT("operator")
	if _, err := issuer.ValidateJWT(foreign); err == nil {
		t.Error("expected token signed with another secret to be rejected")
	}

	expired, _ := NewTokenIssuer(testSecret, time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _ := expired.GenerateJWT("operator")
	if _, err := issuer.ValidateJWT(old); err == nil {
		t.Error("expected expired token to be rejected")
	}

	if _, err := issuer.ValidateJWT("not.a.token"); err == nil {
		t.Error("expected garbage to be rejected")
	}
}

func TestNewTokenIssuer_ShortSecret(t *testing.T) {
	if _, err := NewTokenIssuer("short", time.Hour); err == nil {
		t.Fatal("expected short secret to be rejected")
	}
}
