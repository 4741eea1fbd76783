package auth

import (
	"fmt"

	"github.com/hitoshi/studydesk/internal/model"
)

// AuthError はサインイン・サインアップ・パスワード再設定の失敗を表す。
// プロバイダーのエラーコードを利用者向けメッセージに変換して保持する。
type AuthError struct {
	Op           string // signup, signin, token, reset, profile
	ProviderCode string
	Err          error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("auth %s failed (%s): %v", e.Op, e.ProviderCode, e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// APIError は利用者向けのエラーに変換する。
func (e *AuthError) APIError() *model.APIError {
	m, ok := providerMessages[e.ProviderCode]
	if !ok {
		m = authMessage{
			code:    model.ErrCodeAuthFailed,
			message: "認証に失敗しました。",
			action:  "しばらく待ってから再度お試しください。",
		}
	}
	return model.NewAuthError(m.code, m.message, m.action)
}

type authMessage struct {
	code    string
	message string
	action  string
}

// providerMessages はプロバイダーのエラーコードから利用者向けメッセージへの対応表。
// 存在しないメールアドレスと誤ったパスワードは区別しない。
var providerMessages = map[string]authMessage{
	"EMAIL_EXISTS": {
		model.ErrCodeAuthEmailExists,
		"このメールアドレスは既に登録されています。",
		"サインインするか、パスワードを再設定してください。",
	},
	"INVALID_PASSWORD": {
		model.ErrCodeAuthInvalidCredentials,
		"メールアドレスまたはパスワードが正しくありません。",
		"入力内容を確認して再度お試しください。",
	},
	"EMAIL_NOT_FOUND": {
		model.ErrCodeAuthInvalidCredentials,
		"メールアドレスまたはパスワードが正しくありません。",
		"入力内容を確認して再度お試しください。",
	},
	"INVALID_LOGIN_CREDENTIALS": {
		model.ErrCodeAuthInvalidCredentials,
		"メールアドレスまたはパスワードが正しくありません。",
		"入力内容を確認して再度お試しください。",
	},
	"WEAK_PASSWORD": {
		model.ErrCodeAuthWeakPassword,
		"パスワードが短すぎます。",
		"6文字以上のパスワードを指定してください。",
	},
	"INVALID_EMAIL": {
		model.ErrCodeAuthInvalidEmail,
		"メールアドレスの形式が正しくありません。",
		"メールアドレスを確認してください。",
	},
	"MISSING_EMAIL": {
		model.ErrCodeAuthInvalidEmail,
		"メールアドレスが入力されていません。",
		"メールアドレスを入力してください。",
	},
	"TOO_MANY_ATTEMPTS_TRY_LATER": {
		model.ErrCodeAuthTooManyAttempts,
		"試行回数が多すぎます。",
		"しばらく待ってから再度お試しください。",
	},
	"USER_DISABLED": {
		model.ErrCodeAuthUserDisabled,
		"このアカウントは無効化されています。",
		"管理者にお問い合わせください。",
	},
	"INVALID_ID_TOKEN": {
		model.ErrCodeAuthInvalidToken,
		"認証トークンが無効です。",
		"再度サインインしてください。",
	},
	"TOKEN_EXPIRED": {
		model.ErrCodeAuthInvalidToken,
		"認証トークンの有効期限が切れています。",
		"再度サインインしてください。",
	},
}

func newAuthError(op string, err error) *AuthError {
	return &AuthError{Op: op, ProviderCode: providerCode(err), Err: err}
}
