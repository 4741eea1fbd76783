// Package studysession はチューターが作成する学習セッションのドメインロジックを提供する。
package studysession

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/repository"
	"github.com/hitoshi/studydesk/internal/security"
)

const (
	maxTitleLength       = 255
	maxDescriptionLength = 20000
	maxRejectionReason   = 1000
)

// Tutor はセッション作成者の情報。
type Tutor struct {
	Email string
	Name  string
}

// CreateInput は学習セッション作成の入力。Feeは主通貨単位の文字列（例: "25.00"）。
type CreateInput struct {
	Title             string
	Description       string
	ImageURL          string
	Fee               string
	Capacity          int
	RegistrationStart time.Time
	RegistrationEnd   time.Time
	ClassStart        time.Time
	ClassEnd          time.Time
}

// Service は学習セッションのサービス層。
type Service struct {
	repo      repository.StudySessionRepository
	sanitizer security.HTMLSanitizer
	urlGuard  security.URLGuard
	now       func() time.Time
}

// NewService はServiceを生成する。nowがnilの場合はtime.Nowを使う。
func NewService(
	repo repository.StudySessionRepository,
	sanitizer security.HTMLSanitizer,
	urlGuard security.URLGuard,
	now func() time.Time,
) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{
		repo:      repo,
		sanitizer: sanitizer,
		urlGuard:  urlGuard,
		now:       now,
	}
}

// Create はpending状態の学習セッションを作成する。
func (s *Service) Create(ctx context.Context, tutor Tutor, in CreateInput) (*model.StudySession, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return nil, model.NewInvalidRequestError("タイトルは必須です")
	}
	if utf8.RuneCountInString(title) > maxTitleLength {
		return nil, model.NewInvalidRequestError("タイトルが長すぎます")
	}
	if utf8.RuneCountInString(in.Description) > maxDescriptionLength {
		return nil, model.NewInvalidRequestError("説明が長すぎます")
	}
	if in.Capacity < 0 {
		return nil, model.NewInvalidRequestError("定員は0以上で指定してください")
	}

	fee, err := ParseFee(in.Fee)
	if err != nil {
		return nil, err
	}

	if err := validateSchedule(in); err != nil {
		return nil, err
	}

	imageURL := strings.TrimSpace(in.ImageURL)
	if imageURL != "" {
		if err := s.urlGuard.ValidateImageURL(imageURL); err != nil {
			return nil, model.NewInvalidURLError(err.Error())
		}
	}

	now := s.now()
	session := &model.StudySession{
		ID:                uuid.New().String(),
		TutorEmail:        tutor.Email,
		TutorName:         tutor.Name,
		Title:             title,
		Description:       s.sanitizer.Sanitize(in.Description),
		ImageURL:          imageURL,
		FeeCents:          fee,
		Capacity:          in.Capacity,
		RegistrationStart: in.RegistrationStart,
		RegistrationEnd:   in.RegistrationEnd,
		ClassStart:        in.ClassStart,
		ClassEnd:          in.ClassEnd,
		Status:            model.StudySessionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.repo.Create(ctx, session); err != nil {
		return nil, fmt.Errorf("学習セッションの作成に失敗しました: %w", err)
	}

	slog.Info("学習セッションを作成しました",
		slog.String("session_id", session.ID),
		slog.String("tutor_email", tutor.Email),
		slog.Int64("fee_cents", fee),
	)
	return session, nil
}

func validateSchedule(in CreateInput) error {
	switch {
	case in.RegistrationStart.IsZero() || in.RegistrationEnd.IsZero() ||
		in.ClassStart.IsZero() || in.ClassEnd.IsZero():
		return model.NewInvalidScheduleError("すべての日時を指定してください")
	case !in.RegistrationStart.Before(in.RegistrationEnd):
		return model.NewInvalidScheduleError("登録開始は登録終了より前にしてください")
	case !in.ClassStart.Before(in.ClassEnd):
		return model.NewInvalidScheduleError("授業開始は授業終了より前にしてください")
	case in.RegistrationEnd.After(in.ClassStart):
		return model.NewInvalidScheduleError("登録終了は授業開始以前にしてください")
	}
	return nil
}

// Get は公開中（approved）の学習セッションを取得する。
func (s *Service) Get(ctx context.Context, id string) (*model.StudySession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil || session.Status != model.StudySessionApproved {
		return nil, model.NewStudySessionNotFoundError(id)
	}
	return session, nil
}

// Approve はpendingの学習セッションを承認する。
func (s *Service) Approve(ctx context.Context, id string) (*model.StudySession, error) {
	return s.transition(ctx, id, model.StudySessionPending, model.StudySessionApproved, "", "承認")
}

// Reject はpendingの学習セッションを却下する。
func (s *Service) Reject(ctx context.Context, id, reason string) (*model.StudySession, error) {
	reason = strings.TrimSpace(reason)
	if utf8.RuneCountInString(reason) > maxRejectionReason {
		return nil, model.NewInvalidRequestError("却下理由が長すぎます")
	}
	return s.transition(ctx, id, model.StudySessionPending, model.StudySessionRejected, reason, "却下")
}

// Resubmit は却下された自分の学習セッションをpendingに戻す。
func (s *Service) Resubmit(ctx context.Context, tutorEmail, id string) (*model.StudySession, error) {
	session, err := s.findOwned(ctx, tutorEmail, id)
	if err != nil {
		return nil, err
	}
	if session.Status != model.StudySessionRejected {
		return nil, model.NewInvalidSessionStateError(session.Status, "再申請")
	}
	return s.transition(ctx, id, model.StudySessionRejected, model.StudySessionPending, "", "再申請")
}

// UpdateFee は自分の学習セッションの料金を変更する。既存の予約金額は変わらない。
func (s *Service) UpdateFee(ctx context.Context, tutorEmail, id, rawFee string) (*model.StudySession, error) {
	fee, err := ParseFee(rawFee)
	if err != nil {
		return nil, err
	}
	session, err := s.findOwned(ctx, tutorEmail, id)
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpdateFee(ctx, id, fee); err != nil {
		return nil, fmt.Errorf("料金の更新に失敗しました: %w", err)
	}

	slog.Info("学習セッションの料金を変更しました",
		slog.String("session_id", id),
		slog.Int64("old_fee_cents", session.FeeCents),
		slog.Int64("new_fee_cents", fee),
	)
	session.FeeCents = fee
	return session, nil
}

// ListApproved は公開中の学習セッションを授業開始日時の昇順で返す。
func (s *Service) ListApproved(ctx context.Context, page model.PageRequest) (model.Page[*model.StudySession], error) {
	return s.ListByStatus(ctx, model.StudySessionApproved, page)
}

// ListByStatus は指定状態の学習セッションを返す。
func (s *Service) ListByStatus(ctx context.Context, status model.StudySessionStatus, page model.PageRequest) (model.Page[*model.StudySession], error) {
	switch status {
	case model.StudySessionPending, model.StudySessionApproved, model.StudySessionRejected:
	default:
		return model.Page[*model.StudySession]{}, model.NewInvalidRequestError(fmt.Sprintf("不明な状態です: %s", status))
	}
	items, total, err := s.repo.ListByStatus(ctx, status, page)
	if err != nil {
		return model.Page[*model.StudySession]{}, fmt.Errorf("学習セッション一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// ListByTutor はチューター自身の学習セッションを返す。
func (s *Service) ListByTutor(ctx context.Context, tutorEmail string, page model.PageRequest) (model.Page[*model.StudySession], error) {
	items, total, err := s.repo.ListByTutor(ctx, tutorEmail, page)
	if err != nil {
		return model.Page[*model.StudySession]{}, fmt.Errorf("学習セッション一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// findOwned は指定チューターが所有する学習セッションを取得する。他人のセッションは見つからない扱い。
func (s *Service) findOwned(ctx context.Context, tutorEmail, id string) (*model.StudySession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil || session.TutorEmail != tutorEmail {
		return nil, model.NewStudySessionNotFoundError(id)
	}
	return session, nil
}

// transition は状態を遷移させる。同時更新で状態が変わっていた場合は現在の状態を含むエラーを返す。
func (s *Service) transition(ctx context.Context, id string, from, to model.StudySessionStatus, reason, op string) (*model.StudySession, error) {
	session, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewStudySessionNotFoundError(id)
	}
	if session.Status != from {
		return nil, model.NewInvalidSessionStateError(session.Status, op)
	}

	err = s.repo.UpdateStatus(ctx, id, from, to, reason)
	if errors.Is(err, repository.ErrStateConflict) {
		latest, findErr := s.repo.FindByID(ctx, id)
		if findErr != nil || latest == nil {
			return nil, model.NewStudySessionNotFoundError(id)
		}
		return nil, model.NewInvalidSessionStateError(latest.Status, op)
	}
	if err != nil {
		return nil, fmt.Errorf("学習セッションの状態更新に失敗しました: %w", err)
	}

	slog.Info("学習セッションの状態を変更しました",
		slog.String("session_id", id),
		slog.String("from", string(from)),
		slog.String("to", string(to)),
	)
	session.Status = to
	session.RejectionReason = reason
	session.UpdatedAt = s.now()
	return session, nil
}
