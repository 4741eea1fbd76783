// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

// トランザクション内の条件チェックで検出した業務上の競合。
// 呼び出し側はerrors.Isで判定してユーザー向けエラーに変換する。
var (
	// ErrDuplicate はユニーク制約違反。
	ErrDuplicate = errors.New("duplicate record")
	// ErrSessionNotOpen は学習セッションが未承認または登録期間外。
	ErrSessionNotOpen = errors.New("study session is not open for registration")
	// ErrSessionFull は学習セッションの定員に達している。
	ErrSessionFull = errors.New("study session is full")
	// ErrAlreadyBooked は同じ学生が同じセッションを予約済み。
	ErrAlreadyBooked = errors.New("study session already booked by student")
	// ErrStateConflict は更新時点で状態が想定と異なる。
	ErrStateConflict = errors.New("record state changed")
	// ErrInsufficientStock は資産の在庫不足。
	ErrInsufficientStock = errors.New("insufficient asset stock")
)

// UserRepository はユーザー（Identityの射影とロール）の永続化インターフェース。
type UserRepository interface {
	// FindByID は指定IDのユーザーを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.User, error)

	// FindByExternalID は認証プロバイダーのUIDでユーザーを取得する。見つからない場合はnilを返す。
	FindByExternalID(ctx context.Context, externalID string) (*model.User, error)

	// FindRoleByEmail はメールアドレスに紐づくロールの生の値を返す。
	// 見つからない場合は空文字を返す。
	FindRoleByEmail(ctx context.Context, email string) (string, error)

	// Create はユーザーを作成する。external_idまたはemailが重複する場合はErrDuplicateを返す。
	Create(ctx context.Context, user *model.User) error

	// UpdateProfile は表示名、プロフィール画像、メール確認状態を更新する。
	UpdateProfile(ctx context.Context, user *model.User) error

	// UpdateRole はロールを更新する。
	UpdateRole(ctx context.Context, id, role string) error

	// List はユーザー一覧を作成日時の降順で返す。roleが空の場合は全ロールを対象とする。
	List(ctx context.Context, role string, page model.PageRequest) ([]*model.User, int, error)
}

// SessionRepository はログインセッションの永続化インターフェース。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
	// DeleteByUserID は指定ユーザーの全セッションを削除する。
	DeleteByUserID(ctx context.Context, userID string) error
}

// StudySessionRepository は学習セッションの永続化インターフェース。
type StudySessionRepository interface {
	// FindByID は指定IDの学習セッションを取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.StudySession, error)

	// Create は学習セッションを作成する。
	Create(ctx context.Context, s *model.StudySession) error

	// UpdateFee は料金を更新する。既存の予約金額には影響しない。
	UpdateFee(ctx context.Context, id string, feeCents int64) error

	// UpdateStatus は状態を更新する。fromと現在の状態が一致しない場合はErrStateConflictを返す。
	UpdateStatus(ctx context.Context, id string, from, to model.StudySessionStatus, reason string) error

	// ListByStatus は指定状態の学習セッションを授業開始日時の昇順で返す。
	ListByStatus(ctx context.Context, status model.StudySessionStatus, page model.PageRequest) ([]*model.StudySession, int, error)

	// ListByTutor はチューターの学習セッションを作成日時の降順で返す。
	ListByTutor(ctx context.Context, tutorEmail string, page model.PageRequest) ([]*model.StudySession, int, error)
}

// BookingRepository は予約の永続化インターフェース。
type BookingRepository interface {
	// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Booking, error)

	// Create は学習セッションの受付状態を同一トランザクションで確認して予約を作成する。
	// 未承認・登録期間外はErrSessionNotOpen、定員超過はErrSessionFull、
	// 予約済みはErrAlreadyBookedを返す。
	Create(ctx context.Context, booking *model.Booking, now time.Time) error

	// MarkCompleted は予約の支払い状態をcompletedにし、支払い方法を記録する。
	MarkCompleted(ctx context.Context, id, paymentMethod string) error

	// DeleteByID は予約を削除する。
	DeleteByID(ctx context.Context, id string) error

	// ListByStudent は学生の予約一覧を予約日時の降順で返す。
	ListByStudent(ctx context.Context, studentEmail string, page model.PageRequest) ([]*model.Booking, int, error)

	// ListOrphans はbookedBefore以前に作成され、pendingのまま支払いレコードがない予約を返す。
	ListOrphans(ctx context.Context, bookedBefore time.Time, limit int) ([]*model.Booking, error)
}

// PaymentRepository は支払い台帳の永続化インターフェース。
type PaymentRepository interface {
	// Create は支払いレコードを作成する。
	Create(ctx context.Context, payment *model.Payment) error

	// FindByBookingID は予約に紐づく支払いレコードを取得する。見つからない場合はnilを返す。
	FindByBookingID(ctx context.Context, bookingID string) (*model.Payment, error)

	// MarkRefunded は返金結果を記録する。
	MarkRefunded(ctx context.Context, id, refundID, refundStatus string, at time.Time) error

	// ListByStudent は学生の支払い履歴を作成日時の降順で返す。
	ListByStudent(ctx context.Context, studentEmail string, page model.PageRequest) ([]*model.Payment, int, error)
}

// AssetRepository は資産の永続化インターフェース。
type AssetRepository interface {
	// FindByID は指定IDの資産を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Asset, error)

	// Create は資産を作成する。
	Create(ctx context.Context, asset *model.Asset) error

	// List は資産一覧を名前順で返す。availableOnlyがtrueの場合は在庫のあるもののみ。
	List(ctx context.Context, availableOnly bool, page model.PageRequest) ([]*model.Asset, int, error)
}

// AssetRequestRepository は資産申請の永続化インターフェース。
type AssetRequestRepository interface {
	// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.AssetRequest, error)

	// Create は申請を作成する。
	Create(ctx context.Context, req *model.AssetRequest) error

	// Approve はpendingの申請を承認し、同一トランザクションで在庫を減らす。
	// 状態がpendingでない場合はErrStateConflict、在庫不足はErrInsufficientStockを返す。
	Approve(ctx context.Context, id string, at time.Time) error

	// Reject はpendingの申請を却下する。状態がpendingでない場合はErrStateConflictを返す。
	Reject(ctx context.Context, id string, at time.Time) error

	// MarkReturned はapprovedの申請を返却済みにし、同一トランザクションで在庫を戻す。
	// 状態がapprovedでない場合はErrStateConflictを返す。
	MarkReturned(ctx context.Context, id string, at time.Time) error

	// ListByRequester は申請者の申請一覧を申請日時の降順で返す。
	ListByRequester(ctx context.Context, email string, page model.PageRequest) ([]*model.AssetRequest, int, error)

	// ListByStatus は指定状態の申請一覧を返す。statusが空の場合は全件。
	ListByStatus(ctx context.Context, status model.AssetRequestStatus, page model.PageRequest) ([]*model.AssetRequest, int, error)
}

// TxBeginner はトランザクション開始用のインターフェース。
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}
