package auth

import (
	"testing"
	"time"
)

func TestGenerateAndValidateJWT(t *testing.T) {
	svc := New([]byte("test-secret"))
	token, err := svc.GenerateJWT("u1", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error generating token: %v", err)
	}
	claims, err := svc.ValidateJWT(token)
	if err != nil {
		t.Fatalf("unexpected error validating token: %v", err)
	}
	if claims.UserID != "u1" || claims.Email != "user@example.com" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestValidateJWTRejectsWrongSecret(t *testing.T) {
	svc := New([]byte("secret-a"))
	token, _ := svc.GenerateJWT("u1", "user@example.com")

	other := New([]byte("secret-b"))
	if _, err := other.ValidateJWT(token); err == nil {
		t.Fatal("expected validation to fail under a different secret")
	}
}

func TestBlacklistedTokenFailsValidation(t *testing.T) {
	svc := New([]byte("test-secret"))
	token, err := svc.GenerateJWT("u1", "user@example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	claims, err := svc.ValidateJWT(token)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	svc.BlacklistToken(claims.ID, claims.ExpiresAt.Time)
	if _, err := svc.ValidateJWT(token); err == nil {
		t.Fatal("expected validation to fail once the token is blacklisted")
	}
}

func TestIsBlacklistedExpiresEntries(t *testing.T) {
	svc := New([]byte("test-secret"))
	svc.BlacklistToken("jti-1", time.Now().Add(-time.Minute))
	if svc.IsBlacklisted("jti-1") {
		t.Fatal("expected an already-expired blacklist entry to report false")
	}
}

func TestHashAndCheckPassword(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	if err != nil {
		t.Fatalf("unexpected error hashing: %v", err)
	}
	if !CheckPassword(hash, "correct horse battery staple") {
		t.Fatal("expected the correct password to verify")
	}
	if CheckPassword(hash, "wrong password") {
		t.Fatal("expected an incorrect password to fail verification")
	}
}

func TestGenerateAndVerifyOTP(t *testing.T) {
	secret, qrURL, err := GenerateOTPSecret("user@example.com")
	if err != nil {
		t.Fatalf("unexpected error generating OTP secret: %v", err)
	}
	if secret == "" || qrURL == "" {
		t.Fatal("expected a non-empty secret and QR URL")
	}
	if VerifyOTP(secret, "000000") {
		t.Fatal("did not expect an arbitrary fixed code to validate against a fresh secret")
	}
}

func TestStripBearer(t *testing.T) {
	if got := StripBearer("Bearer abc123"); got != "abc123" {
		t.Fatalf("expected bearer prefix stripped, got %q", got)
	}
	if got := StripBearer("abc123"); got != "abc123" {
		t.Fatalf("expected a bare token to pass through unchanged, got %q", got)
	}
}
