// Package auth implements session-token issuance and verification for
// internal/httpapi's credential-management routes: JWT session tokens
// (HS256), TOTP two-factor enrollment, and bcrypt password hashing.
// Grounded on auth/auth.go, adapted from package-level globals (a
// process-wide JWTSecret, a process-wide blacklist map) to a struct so
// cmd/server can construct one Service per configured secret instead of
// mutating shared state.
package auth

import (
	"crypto/rand"
	"encoding/base32"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
)

const (
	// OTPIssuer names the TOTP issuer shown in authenticator apps.
	OTPIssuer = "quantcoreAI"

	tokenTTL            = 24 * time.Hour
	maxBlacklistEntries = 100_000
)

// Claims is the JWT payload identifying a session's user.
type Claims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// Service issues and validates JWTs against one signing secret, and
// tracks revoked tokens for logout, mirroring auth/auth.go's
// tokenBlacklist sweep-on-insert behavior.
type Service struct {
	secret []byte

	mu        sync.Mutex
	blacklist map[string]time.Time // jti -> expiry
}

// New builds a Service bound to secret. An empty secret still works
// (useful for tests) but must never be used against real credentials.
func New(secret []byte) *Service {
	return &Service{secret: secret, blacklist: make(map[string]time.Time)}
}

// GenerateJWT issues a 24-hour session token, matching auth/auth.go's
// expiry and issuer.
func (s *Service) GenerateJWT(userID, email string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Email:  email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        randomJTI(),
			Issuer:    OTPIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.secret)
}

// ValidateJWT parses and verifies a token, rejecting blacklisted ones.
func (s *Service) ValidateJWT(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	if s.IsBlacklisted(claims.ID) {
		return nil, fmt.Errorf("token has been revoked")
	}
	return claims, nil
}

// BlacklistToken revokes a session token by jti ahead of its natural
// expiry (logout). Sweeps expired entries on every insert so the map
// never grows past maxBlacklistEntries under steady load.
func (s *Service) BlacklistToken(jti string, expiresAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.blacklist) >= maxBlacklistEntries {
		now := time.Now()
		for id, exp := range s.blacklist {
			if exp.Before(now) {
				delete(s.blacklist, id)
			}
		}
	}
	s.blacklist[jti] = expiresAt
}

// IsBlacklisted reports whether jti has been revoked and not yet aged
// out of the window.
func (s *Service) IsBlacklisted(jti string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	exp, ok := s.blacklist[jti]
	if !ok {
		return false
	}
	if time.Now().After(exp) {
		delete(s.blacklist, jti)
		return false
	}
	return true
}

func randomJTI() string {
	buf := make([]byte, 16)
	_, _ = rand.Read(buf)
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf)
}

// HashPassword bcrypt-hashes a plaintext password for storage.
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword verifies a plaintext password against its bcrypt hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// GenerateOTPSecret enrolls a new TOTP secret for accountLabel
// (typically the user's email), returning the base32 secret to persist
// and the otpauth:// URI to render as a QR code.
func GenerateOTPSecret(accountLabel string) (secret string, qrURL string, err error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      OTPIssuer,
		AccountName: accountLabel,
	})
	if err != nil {
		return "", "", fmt.Errorf("generating TOTP secret: %w", err)
	}
	return key.Secret(), key.URL(), nil
}

// VerifyOTP checks a 6-digit code against a previously enrolled secret.
func VerifyOTP(secret, code string) bool {
	return totp.Validate(code, secret)
}

// GetOTPQRCodeURL rebuilds the otpauth:// URI from a stored secret,
// for re-displaying the QR code without re-enrolling.
func GetOTPQRCodeURL(accountLabel, secret string) string {
	v := url.Values{}
	v.Set("secret", secret)
	v.Set("issuer", OTPIssuer)
	return fmt.Sprintf("otpauth://totp/%s:%s?%s", url.PathEscape(OTPIssuer), url.PathEscape(accountLabel), v.Encode())
}

// StripBearer trims an "Authorization: Bearer <token>" header down to
// the raw token, accepting a bare token unchanged.
func StripBearer(header string) string {
	const prefix = "Bearer "
	if strings.HasPrefix(header, prefix) {
		return strings.TrimPrefix(header, prefix)
	}
	return header
}
