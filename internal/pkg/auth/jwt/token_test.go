package jwt

import (
	"testing"
	"time"
)

const testSecret = "unit-test-secret"

func TestGenerateAndParseToken(t *testing.T) {
	payload := &Payload{
		UserID:    42,
		Name:      "ana",
		Avatar:    "avatars/42/pic.webp",
		Moderator: true,
	}

	tokenString, err := GenerateToken(payload, testSecret, IdentityExpiration)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	parsed, err := ParseToken(tokenString, testSecret)
	if err != nil {
		t.Fatalf("ParseToken returned error: %v", err)
	}

	if parsed.UserID != 42 || parsed.Name != "ana" || !parsed.Moderator {
		t.Fatalf("claims did not survive the round trip: %+v", parsed)
	}
	if parsed.Issuer != TokenIssuer {
		t.Fatalf("got issuer %q, want %q", parsed.Issuer, TokenIssuer)
	}
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	tokenString, err := GenerateToken(&Payload{UserID: 1, Name: "ana"}, testSecret, time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := ParseToken(tokenString, "a-different-secret"); err == nil {
		t.Fatal("token signed with another secret was accepted")
	}
}

func TestParseTokenRejectsExpired(t *testing.T) {
	tokenString, err := GenerateToken(&Payload{UserID: 1, Name: "ana"}, testSecret, -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken returned error: %v", err)
	}

	if _, err := ParseToken(tokenString, testSecret); err == nil {
		t.Fatal("expired token was accepted")
	}
}

func TestParseTokenRejectsGarbage(t *testing.T) {
	if _, err := ParseToken("not.a.token", testSecret); err == nil {
		t.Fatal("malformed token was accepted")
	}
}
