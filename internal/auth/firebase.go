package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	firebase "firebase.google.com/go/v4"
	fbauth "firebase.google.com/go/v4/auth"
	"google.golang.org/api/option"
)

const defaultIdentityToolkitURL = "https://identitytoolkit.googleapis.com"

// FirebaseConfig はFirebase認証プロバイダーの設定。
type FirebaseConfig struct {
	ProjectID       string
	CredentialsFile string
	CredentialsJSON string
	APIKey          string // Identity Toolkit REST API用のWeb APIキー

	// テスト用にオーバーライド可能なURLとHTTPクライアント
	IdentityToolkitURL string
	HTTPClient         *http.Client
}

// adminClient はFirebase Admin SDKの認証クライアントのうち利用するメソッド。
type adminClient interface {
	VerifyIDToken(ctx context.Context, idToken string) (*fbauth.Token, error)
	CreateUser(ctx context.Context, user *fbauth.UserToCreate) (*fbauth.UserRecord, error)
	UpdateUser(ctx context.Context, uid string, user *fbauth.UserToUpdate) (*fbauth.UserRecord, error)
	GetUser(ctx context.Context, uid string) (*fbauth.UserRecord, error)
	RevokeRefreshTokens(ctx context.Context, uid string) error
}

// FirebaseProvider はFirebase Authenticationによる認証を提供する。
// アカウント管理とトークン検証はAdmin SDK、パスワード認証と再設定メールは
// Identity Toolkit REST APIを使う。
type FirebaseProvider struct {
	admin      adminClient
	apiKey     string
	toolkitURL string
	httpClient *http.Client
}

// NewFirebaseProvider はFirebaseProviderを生成する。
func NewFirebaseProvider(ctx context.Context, cfg FirebaseConfig) (*FirebaseProvider, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		opts = append(opts, option.WithCredentialsFile(cfg.CredentialsFile))
	case cfg.CredentialsJSON != "":
		opts = append(opts, option.WithCredentialsJSON([]byte(cfg.CredentialsJSON)))
	}

	app, err := firebase.NewApp(ctx, &firebase.Config{ProjectID: cfg.ProjectID}, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase app: %w", err)
	}
	client, err := app.Auth(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize firebase auth client: %w", err)
	}
	return newFirebaseProvider(client, cfg), nil
}

func newFirebaseProvider(admin adminClient, cfg FirebaseConfig) *FirebaseProvider {
	if cfg.IdentityToolkitURL == "" {
		cfg.IdentityToolkitURL = defaultIdentityToolkitURL
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &FirebaseProvider{
		admin:      admin,
		apiKey:     cfg.APIKey,
		toolkitURL: strings.TrimRight(cfg.IdentityToolkitURL, "/"),
		httpClient: cfg.HTTPClient,
	}
}

// SignUp はAdmin SDKでアカウントを作成する。
func (p *FirebaseProvider) SignUp(ctx context.Context, email, password, displayName string) (*ProviderUser, error) {
	params := (&fbauth.UserToCreate{}).Email(email).Password(password)
	if displayName != "" {
		params = params.DisplayName(displayName)
	}
	rec, err := p.admin.CreateUser(ctx, params)
	if err != nil {
		return nil, &ProviderError{Code: adminErrorCode(err), Err: err}
	}
	return fromUserRecord(rec), nil
}

// signInResponse はaccounts:signInWithPasswordのレスポンス。
type signInResponse struct {
	LocalID     string `json:"localId"`
	Email       string `json:"email"`
	DisplayName string `json:"displayName"`
	IDToken     string `json:"idToken"`
	Registered  bool   `json:"registered"`
}

// toolkitErrorResponse はIdentity Toolkit REST APIのエラーレスポンス。
type toolkitErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// SignInWithPassword はIdentity Toolkit REST APIでパスワード認証し、Admin SDKで最新のアカウント情報を取得する。
func (p *FirebaseProvider) SignInWithPassword(ctx context.Context, email, password string) (*ProviderUser, error) {
	// 1. パスワード認証
	var resp signInResponse
	err := p.postToolkit(ctx, "accounts:signInWithPassword", map[string]any{
		"email":             email,
		"password":          password,
		"returnSecureToken": true,
	}, &resp)
	if err != nil {
		return nil, err
	}
	if resp.LocalID == "" {
		return nil, &ProviderError{Code: "INVALID_LOGIN_CREDENTIALS", Err: errors.New("empty localId in response")}
	}

	// 2. プロフィールとメール確認状態を取得
	rec, err := p.admin.GetUser(ctx, resp.LocalID)
	if err != nil {
		return nil, &ProviderError{Code: adminErrorCode(err), Err: err}
	}
	return fromUserRecord(rec), nil
}

// SendPasswordReset はパスワード再設定メールを送信する。
func (p *FirebaseProvider) SendPasswordReset(ctx context.Context, email string) error {
	return p.postToolkit(ctx, "accounts:sendOobCode", map[string]any{
		"requestType": "PASSWORD_RESET",
		"email":       email,
	}, nil)
}

// UpdateProfile は表示名とプロフィール画像を更新する。
func (p *FirebaseProvider) UpdateProfile(ctx context.Context, uid, displayName, photoURL string) (*ProviderUser, error) {
	params := (&fbauth.UserToUpdate{}).DisplayName(displayName).PhotoURL(photoURL)
	rec, err := p.admin.UpdateUser(ctx, uid, params)
	if err != nil {
		return nil, &ProviderError{Code: adminErrorCode(err), Err: err}
	}
	return fromUserRecord(rec), nil
}

// RevokeTokens はリフレッシュトークンを失効させる。
func (p *FirebaseProvider) RevokeTokens(ctx context.Context, uid string) error {
	if err := p.admin.RevokeRefreshTokens(ctx, uid); err != nil {
		return &ProviderError{Code: adminErrorCode(err), Err: err}
	}
	return nil
}

// VerifyIDToken はクライアントSDKが取得したIDトークンを検証する。
func (p *FirebaseProvider) VerifyIDToken(ctx context.Context, idToken string) (*ProviderUser, error) {
	token, err := p.admin.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, &ProviderError{Code: adminErrorCode(err), Err: err}
	}
	u := &ProviderUser{UID: token.UID}
	if v, ok := token.Claims["email"].(string); ok {
		u.Email = v
	}
	if v, ok := token.Claims["name"].(string); ok {
		u.DisplayName = v
	}
	if v, ok := token.Claims["picture"].(string); ok {
		u.PhotoURL = v
	}
	if v, ok := token.Claims["email_verified"].(bool); ok {
		u.EmailVerified = v
	}
	return u, nil
}

// postToolkit はIdentity Toolkit REST APIにPOSTする。outがnilの場合はレスポンス本文を読み捨てる。
func (p *FirebaseProvider) postToolkit(ctx context.Context, method string, body map[string]any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/v1/%s?key=%s", p.toolkitURL, method, url.QueryEscape(p.apiKey))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity toolkit request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("failed to read identity toolkit response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var errResp toolkitErrorResponse
		if json.Unmarshal(raw, &errResp) == nil && errResp.Error.Message != "" {
			return &ProviderError{
				Code: toolkitErrorCode(errResp.Error.Message),
				Err:  fmt.Errorf("%s returned status %d: %s", method, resp.StatusCode, errResp.Error.Message),
			}
		}
		return fmt.Errorf("%s returned status %d", method, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("failed to parse identity toolkit response: %w", err)
	}
	return nil
}

// toolkitErrorCode は"WEAK_PASSWORD : Password should be at least 6 characters"のような
// メッセージから先頭のコード部分を取り出す。
func toolkitErrorCode(message string) string {
	code, _, _ := strings.Cut(message, ":")
	return strings.TrimSpace(code)
}

// adminErrorCode はAdmin SDKのエラーをIdentity Toolkitと同じコード体系に揃える。
func adminErrorCode(err error) string {
	switch {
	case fbauth.IsEmailAlreadyExists(err):
		return "EMAIL_EXISTS"
	case fbauth.IsUserNotFound(err):
		return "EMAIL_NOT_FOUND"
	case fbauth.IsInvalidEmail(err):
		return "INVALID_EMAIL"
	case fbauth.IsIDTokenExpired(err):
		return "TOKEN_EXPIRED"
	case fbauth.IsIDTokenInvalid(err), fbauth.IsIDTokenRevoked(err):
		return "INVALID_ID_TOKEN"
	}
	return ""
}

func fromUserRecord(rec *fbauth.UserRecord) *ProviderUser {
	if rec == nil || rec.UserInfo == nil {
		return &ProviderUser{}
	}
	return &ProviderUser{
		UID:           rec.UID,
		Email:         rec.Email,
		DisplayName:   rec.DisplayName,
		PhotoURL:      rec.PhotoURL,
		EmailVerified: rec.EmailVerified,
	}
}

// compile-time interface check
var (
	_ IdentityProvider = (*FirebaseProvider)(nil)
	_ TokenVerifier    = (*FirebaseProvider)(nil)
)
