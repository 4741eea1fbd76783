package auth

import (
	"context"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func newTestKey(t *testing.T) (*rsa.PrivateKey, string) {
	t.Helper()
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	der, err := x509.MarshalPKIXPublicKey(&key.PublicKey)
	if err != nil {
		t.Fatalf("failed to marshal public key: %v", err)
	}
	pemData := pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: der})
	return key, string(pemData)
}

func signToken(t *testing.T, key *rsa.PrivateKey, method jwt.SigningMethod, claims idTokenClaims) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(method, claims).SignedString(key)
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

func validClaims() idTokenClaims {
	now := time.Now()
	return idTokenClaims{
		Email:         "a@example.com",
		EmailVerified: true,
		Name:          "Alice",
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    "https://issuer.example.com",
			Audience:  jwt.ClaimStrings{"studydesk"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		},
	}
}

func TestJWTVerifier_ValidToken(t *testing.T) {
	key, pemData := newTestKey(t)
	v, err := NewJWTVerifier(JWTVerifierConfig{PublicKeyPEM: pemData, Issuer: "https://issuer.example.com", Audience: "studydesk"})
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}

	u, err := v.VerifyIDToken(context.Background(), signToken(t, key, jwt.SigningMethodRS256, validClaims()))
	if err != nil {
		t.Fatalf("VerifyIDToken failed: %v", err)
	}
	if u.UID != "user-1" || u.Email != "a@example.com" || u.DisplayName != "Alice" || !u.EmailVerified {
		t.Errorf("user = %+v", u)
	}
}

func TestJWTVerifier_Rejections(t *testing.T) {
	key, pemData := newTestKey(t)
	otherKey, _ := newTestKey(t)
	v, err := NewJWTVerifier(JWTVerifierConfig{PublicKeyPEM: pemData, Issuer: "https://issuer.example.com", Audience: "studydesk"})
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}

	expired := validClaims()
	expired.ExpiresAt = jwt.NewNumericDate(time.Now().Add(-time.Hour))

	wrongIssuer := validClaims()
	wrongIssuer.Issuer = "https://evil.example.com"

	wrongAudience := validClaims()
	wrongAudience.Audience = jwt.ClaimStrings{"other"}

	noExpiry := validClaims()
	noExpiry.ExpiresAt = nil

	noSubject := validClaims()
	noSubject.Subject = ""

	tests := []struct {
		name     string
		token    string
		wantCode string
	}{
		{"expired", signToken(t, key, jwt.SigningMethodRS256, expired), "TOKEN_EXPIRED"},
		{"wrong issuer", signToken(t, key, jwt.SigningMethodRS256, wrongIssuer), "INVALID_ID_TOKEN"},
		{"wrong audience", signToken(t, key, jwt.SigningMethodRS256, wrongAudience), "INVALID_ID_TOKEN"},
		{"missing expiry", signToken(t, key, jwt.SigningMethodRS256, noExpiry), "INVALID_ID_TOKEN"},
		{"missing subject", signToken(t, key, jwt.SigningMethodRS256, noSubject), "INVALID_ID_TOKEN"},
		{"other key", signToken(t, otherKey, jwt.SigningMethodRS256, validClaims()), "INVALID_ID_TOKEN"},
		{"garbage", "not-a-token", "INVALID_ID_TOKEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := v.VerifyIDToken(context.Background(), tt.token)
			var pe *ProviderError
			if !errors.As(err, &pe) {
				t.Fatalf("err = %v, want *ProviderError", err)
			}
			if pe.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", pe.Code, tt.wantCode)
			}
		})
	}
}

func TestJWTVerifier_RejectsHS256(t *testing.T) {
	_, pemData := newTestKey(t)
	v, err := NewJWTVerifier(JWTVerifierConfig{PublicKeyPEM: pemData})
	if err != nil {
		t.Fatalf("NewJWTVerifier failed: %v", err)
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, validClaims()).SignedString([]byte("secret"))
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if _, err := v.VerifyIDToken(context.Background(), token); err == nil {
		t.Fatal("expected HS256 token to be rejected")
	}
}

func TestParseRSAPublicKey_Invalid(t *testing.T) {
	for _, in := range []string{"", "not pem", "-----BEGIN CERTIFICATE-----\nAAAA\n-----END CERTIFICATE-----\n"} {
		if _, err := ParseRSAPublicKey(in); err == nil {
			t.Errorf("ParseRSAPublicKey(%q) should fail", in)
		}
	}
}
