package booking

import (
	"fmt"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

// 購入ワークフローのステップ名。メトリクスのラベルとログに使う。
const (
	StepIntent  = "intent"
	StepConfirm = "confirm"
	StepBooking = "booking"
	StepPayment = "payment"
)

// IntentCreationError は課金インテントを作成できなかったことを表す（ステップ1）。
// この時点では課金は発生していない。
type IntentCreationError struct {
	Err error
}

func (e *IntentCreationError) Error() string {
	if e.Err == nil {
		return "payment intent has no client secret"
	}
	return fmt.Sprintf("failed to create payment intent: %v", e.Err)
}

func (e *IntentCreationError) Unwrap() error { return e.Err }

// APIError はユーザー向けのエラーを返す。
func (e *IntentCreationError) APIError() *model.APIError {
	return model.NewPaymentIntentFailedError()
}

// CardDeclinedError は決済プロセッサーがカードを拒否したことを表す（ステップ2）。
// Reasonはプロセッサーのメッセージをそのまま保持する。
type CardDeclinedError struct {
	Reason string
	Err    error
}

func (e *CardDeclinedError) Error() string {
	return "card declined: " + e.Reason
}

func (e *CardDeclinedError) Unwrap() error { return e.Err }

// APIError はユーザー向けのエラーを返す。
func (e *CardDeclinedError) APIError() *model.APIError {
	return model.NewCardDeclinedError(e.Reason)
}

// ChargeIncompleteError は確認後の課金ステータスがsucceededでないことを表す。
// 確認呼び出し自体が失敗してステータスが不明な場合はStatusが空になる。
type ChargeIncompleteError struct {
	TransactionID string
	Status        string
	Err           error
}

func (e *ChargeIncompleteError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("payment confirmation failed: %v", e.Err)
	}
	return fmt.Sprintf("payment %s not succeeded: status=%s", e.TransactionID, e.Status)
}

func (e *ChargeIncompleteError) Unwrap() error { return e.Err }

// APIError はユーザー向けのエラーを返す。
func (e *ChargeIncompleteError) APIError() *model.APIError {
	status := e.Status
	if status == "" {
		status = "unknown"
	}
	return model.NewChargeIncompleteError(status)
}

// BookingPersistError は課金成功後に予約を保存できなかったことを表す（ステップ3）。
// 課金済み未予約の状態であり、自動返金は行わない。
type BookingPersistError struct {
	TransactionID string
	Err           error
}

func (e *BookingPersistError) Error() string {
	return fmt.Sprintf("charged but not booked (transaction %s): %v", e.TransactionID, e.Err)
}

func (e *BookingPersistError) Unwrap() error { return e.Err }

// ChargedNotBooked は課金済みで予約が存在しないことを示す。常にtrue。
func (e *BookingPersistError) ChargedNotBooked() bool { return true }

// APIError はユーザー向けのエラーを返す。
func (e *BookingPersistError) APIError() *model.APIError {
	return model.NewChargedNotBookedError(e.TransactionID)
}

// PaymentPersistError は予約作成後に支払いレコードの保存または予約の完了更新に失敗したことを表す（ステップ4）。
type PaymentPersistError struct {
	BookingID     string
	TransactionID string
	Err           error
}

func (e *PaymentPersistError) Error() string {
	return fmt.Sprintf("failed to record payment for booking %s (transaction %s): %v", e.BookingID, e.TransactionID, e.Err)
}

func (e *PaymentPersistError) Unwrap() error { return e.Err }

// APIError はユーザー向けのエラーを返す。
func (e *PaymentPersistError) APIError() *model.APIError {
	return model.NewPaymentRecordFailedError(e.BookingID)
}

// AlreadyStartedError は授業開始後のキャンセルを拒否したことを表す。予約は変更されない。
type AlreadyStartedError struct {
	BookingID  string
	ClassStart time.Time
}

func (e *AlreadyStartedError) Error() string {
	return fmt.Sprintf("booking %s: class already started at %s", e.BookingID, e.ClassStart.Format(time.RFC3339))
}

// APIError はユーザー向けのエラーを返す。
func (e *AlreadyStartedError) APIError() *model.APIError {
	return model.NewAlreadyStartedError(e.ClassStart)
}
