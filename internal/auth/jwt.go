package auth

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// idTokenClaims はRS256で署名されたIDトークンのクレーム。
type idTokenClaims struct {
	Email         string `json:"email"`
	EmailVerified bool   `json:"email_verified"`
	Name          string `json:"name"`
	Picture       string `json:"picture"`
	jwt.RegisteredClaims
}

// JWTVerifierConfig はJWTVerifierの設定。
type JWTVerifierConfig struct {
	PublicKeyPEM string
	Issuer       string
	Audience     string
	Leeway       time.Duration
}

// JWTVerifier は公開鍵でRS256署名のIDトークンを検証する。
// 自前の発行者やエミュレーターのトークンをFirebaseを経由せずに検証する場合に使う。
type JWTVerifier struct {
	publicKey *rsa.PublicKey
	options   []jwt.ParserOption
}

// NewJWTVerifier はPEM形式の公開鍵からJWTVerifierを生成する。
func NewJWTVerifier(cfg JWTVerifierConfig) (*JWTVerifier, error) {
	key, err := ParseRSAPublicKey(cfg.PublicKeyPEM)
	if err != nil {
		return nil, err
	}

	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if cfg.Issuer != "" {
		options = append(options, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		options = append(options, jwt.WithAudience(cfg.Audience))
	}
	if cfg.Leeway > 0 {
		options = append(options, jwt.WithLeeway(cfg.Leeway))
	}
	return &JWTVerifier{publicKey: key, options: options}, nil
}

// VerifyIDToken は署名、発行者、対象者、有効期限を検証してアカウント情報を返す。
func (v *JWTVerifier) VerifyIDToken(_ context.Context, idToken string) (*ProviderUser, error) {
	token, err := jwt.ParseWithClaims(idToken, &idTokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		return v.publicKey, nil
	}, v.options...)
	if err != nil {
		code := "INVALID_ID_TOKEN"
		if errors.Is(err, jwt.ErrTokenExpired) {
			code = "TOKEN_EXPIRED"
		}
		return nil, &ProviderError{Code: code, Err: err}
	}

	claims, ok := token.Claims.(*idTokenClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		return nil, &ProviderError{Code: "INVALID_ID_TOKEN", Err: jwt.ErrTokenInvalidClaims}
	}
	return &ProviderUser{
		UID:           claims.Subject,
		Email:         claims.Email,
		DisplayName:   claims.Name,
		PhotoURL:      claims.Picture,
		EmailVerified: claims.EmailVerified,
	}, nil
}

// ParseRSAPublicKey はPEM形式（PUBLIC KEYまたはRSA PUBLIC KEY）のRSA公開鍵を読み込む。
func ParseRSAPublicKey(pemData string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(pemData))
	if block == nil {
		return nil, errors.New("invalid public key: no PEM block")
	}
	switch block.Type {
	case "PUBLIC KEY":
		parsed, err := x509.ParsePKIXPublicKey(block.Bytes)
		if err != nil {
			return nil, err
		}
		publicKey, ok := parsed.(*rsa.PublicKey)
		if !ok {
			return nil, errors.New("invalid public key: not RSA")
		}
		return publicKey, nil
	case "RSA PUBLIC KEY":
		return x509.ParsePKCS1PublicKey(block.Bytes)
	default:
		return nil, errors.New("invalid public key: unsupported PEM type " + block.Type)
	}
}

// compile-time interface check
var _ TokenVerifier = (*JWTVerifier)(nil)
