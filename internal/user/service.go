// Package user はユーザー管理のドメインロジックを提供する。
package user

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/repository"
)

// EventPublisher はIdentity変更通知の配信インターフェース。
type EventPublisher interface {
	Publish(ev model.IdentityEvent)
}

// Service はユーザー管理のサービス層。
// ロールの取得と、管理者によるロール変更を提供する。
type Service struct {
	userRepo    repository.UserRepository
	sessionRepo repository.SessionRepository
	events      EventPublisher
	now         func() time.Time
}

// NewService はServiceの新しいインスタンスを生成する。
func NewService(
	userRepo repository.UserRepository,
	sessionRepo repository.SessionRepository,
	events EventPublisher,
) *Service {
	return &Service{
		userRepo:    userRepo,
		sessionRepo: sessionRepo,
		events:      events,
		now:         time.Now,
	}
}

// FetchRole はメールアドレスに紐づくロールの生の値を返す。
// ガード評価のたびに呼ばれ、結果はキャッシュしない。
func (s *Service) FetchRole(ctx context.Context, email string) (string, error) {
	email = strings.TrimSpace(email)
	if email == "" {
		return "", nil
	}
	role, err := s.userRepo.FindRoleByEmail(ctx, email)
	if err != nil {
		return "", fmt.Errorf("ロールの取得に失敗しました: %w", err)
	}
	return role, nil
}

// Get は指定IDのユーザーを返す。
func (s *Service) Get(ctx context.Context, userID string) (*model.User, error) {
	u, err := s.userRepo.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ユーザーの取得に失敗しました: %w", err)
	}
	if u == nil {
		return nil, model.NewUserNotFoundError()
	}
	return u, nil
}

// List は管理者向けにユーザー一覧を返す。roleが空の場合は全ロール。
func (s *Service) List(ctx context.Context, role string, page model.PageRequest) (model.Page[*model.User], error) {
	if role != "" {
		parsed := access.ParseRole(role)
		if !parsed.Known() {
			return model.Page[*model.User]{}, model.NewInvalidRoleError(role)
		}
		role = parsed.String()
	}
	items, total, err := s.userRepo.List(ctx, role, page)
	if err != nil {
		return model.Page[*model.User]{}, fmt.Errorf("ユーザー一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// ChangeRole は管理者がユーザーのロールを変更する。ロールが変わる唯一の経路。
// 変更後は既存セッションを破棄し、Identity変更を通知して評価中のガードを無効化する。
func (s *Service) ChangeRole(ctx context.Context, actorID, userID, rawRole string) (*model.User, error) {
	role := access.ParseRole(rawRole)
	if !role.Known() {
		return nil, model.NewInvalidRoleError(rawRole)
	}
	if actorID == userID {
		return nil, model.NewInvalidRequestError("自分自身のロールは変更できません")
	}

	// 1. 対象ユーザーの存在確認
	u, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if access.ParseRole(u.Role) == role {
		return u, nil
	}

	// 2. ロールを更新
	if err := s.userRepo.UpdateRole(ctx, userID, role.String()); err != nil {
		return nil, fmt.Errorf("ロールの更新に失敗しました: %w", err)
	}

	// 3. 既存セッションを破棄
	if s.sessionRepo != nil {
		if err := s.sessionRepo.DeleteByUserID(ctx, userID); err != nil {
			slog.Warn("ロール変更後のセッション削除に失敗しました",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
	}

	// 4. Identity変更を通知
	if s.events != nil {
		s.events.Publish(model.IdentityEvent{UserID: userID, Kind: model.IdentityRoleChanged, At: s.now()})
	}

	slog.Info("ロールを変更しました",
		slog.String("user_id", userID),
		slog.String("actor_id", actorID),
		slog.String("from", u.Role),
		slog.String("to", role.String()),
	)
	u.Role = role.String()
	return u, nil
}
