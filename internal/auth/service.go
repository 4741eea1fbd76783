// Package auth は認証プロバイダーとの連携、セッション管理、Identity変更通知を提供する。
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/repository"
	"github.com/hitoshi/studydesk/internal/security"
)

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge int // セッション有効期間（秒）

	// Verifier はIDトークンの検証に使う。nilの場合はプロバイダーがTokenVerifierを実装していればそれを使う。
	Verifier TokenVerifier
	// URLGuard はプロフィール画像URLの検証に使う。nilの場合は検証しない。
	URLGuard security.URLGuard
}

// SignUpInput はサインアップの入力。
type SignUpInput struct {
	Email       string
	Password    string
	DisplayName string
	Role        string
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	provider    IdentityProvider
	verifier    TokenVerifier
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	hub         *Hub
	urlGuard    security.URLGuard
	config      ServiceConfig
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	provider IdentityProvider,
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	hub *Hub,
	config ServiceConfig,
) *Service {
	verifier := config.Verifier
	if verifier == nil {
		if v, ok := provider.(TokenVerifier); ok {
			verifier = v
		}
	}
	if hub == nil {
		hub = NewHub()
	}
	return &Service{
		provider:    provider,
		verifier:    verifier,
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		hub:         hub,
		urlGuard:    config.URLGuard,
		config:      config,
		now:         time.Now,
	}
}

// Subscribe はIdentity変更通知を購読する。access.IdentityNotifierを満たす。
func (s *Service) Subscribe(fn func(model.IdentityEvent)) func() {
	return s.hub.Subscribe(fn)
}

// SignUp はアカウントを作成してサインインする。
// 本人が選択できるロールはstudentとtutorのみ。
func (s *Service) SignUp(ctx context.Context, in SignUpInput) (*model.Session, *model.User, error) {
	role := access.ParseRole(in.Role)
	if !role.SelfAssignable() {
		return nil, nil, model.NewInvalidRoleError(in.Role)
	}
	email := normalizeEmail(in.Email)
	if email == "" || in.Password == "" {
		return nil, nil, model.NewInvalidRequestError("メールアドレスとパスワードは必須です")
	}

	// 1. プロバイダーでアカウントを作成
	pu, err := s.provider.SignUp(ctx, email, in.Password, strings.TrimSpace(in.DisplayName))
	if err != nil {
		return nil, nil, newAuthError("signup", err)
	}

	// 2. アプリケーション側の射影をロール付きで作成
	now := s.now()
	user := &model.User{
		ID:            uuid.New().String(),
		ExternalID:    pu.UID,
		Email:         email,
		DisplayName:   pu.DisplayName,
		PhotoURL:      pu.PhotoURL,
		EmailVerified: pu.EmailVerified,
		Role:          role.String(),
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.userRepo.Create(ctx, user); err != nil {
		slog.Error("プロバイダーのアカウント作成後にユーザーを保存できませんでした",
			slog.String("external_id", pu.UID),
			slog.String("error", err.Error()),
		)
		return nil, nil, fmt.Errorf("failed to create user: %w", err)
	}
	slog.Info("new user created",
		slog.String("user_id", user.ID),
		slog.String("role", user.Role),
	)

	// 3. セッションを発行
	session, err := s.startSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// SignIn はメールアドレスとパスワードでサインインする。
func (s *Service) SignIn(ctx context.Context, email, password string) (*model.Session, *model.User, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil, nil, model.NewInvalidRequestError("メールアドレスとパスワードは必須です")
	}

	pu, err := s.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		return nil, nil, newAuthError("signin", err)
	}
	return s.signInProviderUser(ctx, pu, "")
}

// SignInWithToken はクライアントSDKが取得したIDトークンでサインインする。
// 初回サインインで射影が存在しない場合、roleが本人選択可能なロールであればそれを設定する。
func (s *Service) SignInWithToken(ctx context.Context, idToken, role string) (*model.Session, *model.User, error) {
	if s.verifier == nil {
		return nil, nil, fmt.Errorf("token verifier is not configured")
	}
	if strings.TrimSpace(idToken) == "" {
		return nil, nil, model.NewInvalidRequestError("IDトークンは必須です")
	}

	pu, err := s.verifier.VerifyIDToken(ctx, idToken)
	if err != nil {
		return nil, nil, newAuthError("token", err)
	}
	return s.signInProviderUser(ctx, pu, role)
}

// signInProviderUser はプロバイダーで認証済みのアカウントに対してセッションを発行する。
// 射影が存在しない場合は作成し、存在する場合はプロフィールを同期する。
func (s *Service) signInProviderUser(ctx context.Context, pu *ProviderUser, initialRole string) (*model.Session, *model.User, error) {
	user, err := s.userRepo.FindByExternalID(ctx, pu.UID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to find user: %w", err)
	}

	now := s.now()
	if user == nil {
		role := ""
		if r := access.ParseRole(initialRole); r.SelfAssignable() {
			role = r.String()
		}
		user = &model.User{
			ID:            uuid.New().String(),
			ExternalID:    pu.UID,
			Email:         normalizeEmail(pu.Email),
			DisplayName:   pu.DisplayName,
			PhotoURL:      pu.PhotoURL,
			EmailVerified: pu.EmailVerified,
			Role:          role,
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		if err := s.userRepo.Create(ctx, user); err != nil {
			return nil, nil, fmt.Errorf("failed to create user: %w", err)
		}
		slog.Info("new user created on first sign-in",
			slog.String("user_id", user.ID),
			slog.String("role", user.Role),
		)
	} else if user.DisplayName != pu.DisplayName || user.PhotoURL != pu.PhotoURL || user.EmailVerified != pu.EmailVerified {
		user.DisplayName = pu.DisplayName
		user.PhotoURL = pu.PhotoURL
		user.EmailVerified = pu.EmailVerified
		user.UpdatedAt = now
		if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
			slog.Warn("failed to sync user profile",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	session, err := s.startSession(ctx, user)
	if err != nil {
		return nil, nil, err
	}
	return session, user, nil
}

// SignOut はセッションを破棄し、プロバイダーのトークンを失効させる。
// トークン失効の失敗はサインアウトを妨げない。
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("session ID is required")
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("failed to find session: %w", err)
	}
	if err := s.sessionRepo.DeleteByID(ctx, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if session == nil {
		return nil
	}

	if user, err := s.userRepo.FindByID(ctx, session.UserID); err == nil && user != nil {
		if err := s.provider.RevokeTokens(ctx, user.ExternalID); err != nil {
			slog.Warn("failed to revoke provider tokens",
				slog.String("user_id", user.ID),
				slog.String("error", err.Error()),
			)
		}
	}

	s.hub.Publish(model.IdentityEvent{UserID: session.UserID, Kind: model.IdentitySignedOut, At: s.now()})
	slog.Info("user signed out", slog.String("user_id", session.UserID))
	return nil
}

// GetCurrentUser はセッションから現在のユーザーを取得する。
func (s *Service) GetCurrentUser(ctx context.Context, sessionID string) (*model.User, error) {
	if sessionID == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, model.NewUnauthorizedError()
	}

	user, err := s.userRepo.FindByID(ctx, session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUnauthorizedError()
	}
	return user, nil
}

// UpdateProfile は表示名とプロフィール画像を更新する。
func (s *Service) UpdateProfile(ctx context.Context, userID, displayName, photoURL string) (*model.User, error) {
	displayName = strings.TrimSpace(displayName)
	photoURL = strings.TrimSpace(photoURL)
	if photoURL != "" && s.urlGuard != nil {
		if err := s.urlGuard.ValidateImageURL(photoURL); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	}

	user, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	if user == nil {
		return nil, model.NewUserNotFoundError()
	}

	// 1. プロバイダー側を更新
	pu, err := s.provider.UpdateProfile(ctx, user.ExternalID, displayName, photoURL)
	if err != nil {
		return nil, newAuthError("profile", err)
	}

	// 2. 射影を更新
	user.DisplayName = pu.DisplayName
	user.PhotoURL = pu.PhotoURL
	user.UpdatedAt = s.now()
	if err := s.userRepo.UpdateProfile(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to update user profile: %w", err)
	}

	s.hub.Publish(model.IdentityEvent{UserID: user.ID, Kind: model.IdentityProfileUpdated, At: s.now()})
	return user, nil
}

// ResetPassword はパスワード再設定メールを送信する。
// 登録の有無を推測されないよう、未登録のメールアドレスでも成功扱いにする。
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	email = normalizeEmail(email)
	if email == "" {
		return model.NewInvalidRequestError("メールアドレスは必須です")
	}

	err := s.provider.SendPasswordReset(ctx, email)
	if err == nil {
		return nil
	}
	if providerCode(err) == "EMAIL_NOT_FOUND" {
		slog.Info("password reset requested for unknown email")
		return nil
	}
	return newAuthError("reset", err)
}

// startSession はセッションを作成し、サインインを通知する。
func (s *Service) startSession(ctx context.Context, user *model.User) (*model.Session, error) {
	sessionID, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}

	now := s.now()
	session := &model.Session{
		ID:        sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(time.Duration(s.config.SessionMaxAge) * time.Second),
		CreatedAt: now,
	}
	if err := s.sessionRepo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}

	s.hub.Publish(model.IdentityEvent{UserID: user.ID, Kind: model.IdentitySignedIn, At: now})
	return session, nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// compile-time interface check
var _ access.IdentityNotifier = (*Service)(nil)
