package model

import "time"

// StudySessionStatus はチューターが作成した学習セッションの承認状態を表す。
type StudySessionStatus string

const (
	// StudySessionPending は管理者の承認待ち。
	StudySessionPending StudySessionStatus = "pending"
	// StudySessionApproved は承認済みで予約可能。
	StudySessionApproved StudySessionStatus = "approved"
	// StudySessionRejected は却下済み。再申請でpendingに戻せる。
	StudySessionRejected StudySessionStatus = "rejected"
)

// StudySession はチューターが提供する学習セッションを表す。
// FeeCentsは最小通貨単位（セント）で保持する。
type StudySession struct {
	ID                string
	TutorEmail        string
	TutorName         string
	Title             string
	Description       string // サニタイズ済みHTML
	ImageURL          string
	FeeCents          int64
	Capacity          int // 0は無制限
	RegistrationStart time.Time
	RegistrationEnd   time.Time
	ClassStart        time.Time
	ClassEnd          time.Time
	Status            StudySessionStatus
	RejectionReason   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsFree は無料セッションかどうかを返す。
func (s *StudySession) IsFree() bool {
	return s.FeeCents == 0
}

// PaymentStatus は予約の支払い状態を表す。
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// PaymentMethodFree は無料予約に記録する支払い方法タグ。
const PaymentMethodFree = "free"

// Booking は学生による学習セッションの予約を表す。
// AmountCentsは予約時点の料金で固定され、セッション料金の変更に追従しない。
type Booking struct {
	ID            string
	SessionID     string
	StudentEmail  string
	AmountCents   int64
	PaymentStatus PaymentStatus
	PaymentMethod string
	BookedAt      time.Time
}

// Payment は予約と決済トランザクションを結びつける台帳エントリ。
// 予約がキャンセルで削除された後もBookingIDを空にして残る。
type Payment struct {
	ID            string
	BookingID     string
	SessionID     string
	StudentEmail  string
	TransactionID string
	AmountCents   int64
	PaymentMethod string
	RefundID      string
	RefundStatus  string
	RefundedAt    *time.Time
	CreatedAt     time.Time
}
