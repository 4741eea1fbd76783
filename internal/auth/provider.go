package auth

import (
	"context"
	"errors"
	"fmt"
)

// ProviderUser は認証プロバイダーが返すアカウント情報を表す。
type ProviderUser struct {
	UID           string
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
}

// IdentityProvider は認証プロバイダーのインターフェース。
// アカウント作成、パスワード認証、プロフィール更新、トークン失効、パスワード再設定を提供する。
type IdentityProvider interface {
	// SignUp はメールアドレスとパスワードでアカウントを作成する。
	SignUp(ctx context.Context, email, password, displayName string) (*ProviderUser, error)
	// SignInWithPassword はメールアドレスとパスワードで認証する。
	SignInWithPassword(ctx context.Context, email, password string) (*ProviderUser, error)
	// UpdateProfile は表示名とプロフィール画像を更新する。
	UpdateProfile(ctx context.Context, uid, displayName, photoURL string) (*ProviderUser, error)
	// RevokeTokens は発行済みトークンを失効させる。
	RevokeTokens(ctx context.Context, uid string) error
	// SendPasswordReset はパスワード再設定メールを送信する。
	SendPasswordReset(ctx context.Context, email string) error
}

// TokenVerifier はクライアントが取得したIDトークンを検証するインターフェース。
type TokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*ProviderUser, error)
}

// ProviderError は認証プロバイダーが返したエラーコードを保持する。
// Codeはプロバイダーの生のコード（例: EMAIL_EXISTS, INVALID_PASSWORD）。
type ProviderError struct {
	Code string
	Err  error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("identity provider error %s: %v", e.Code, e.Err)
	}
	return "identity provider error " + e.Code
}

func (e *ProviderError) Unwrap() error { return e.Err }

// providerCode はエラーチェーンからプロバイダーのエラーコードを取り出す。
func providerCode(err error) string {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Code
	}
	return ""
}
