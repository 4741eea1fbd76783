// Package model はドメインモデルを定義する。
package model

import (
	"fmt"
	"time"
)

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, session, booking, payment, asset, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUnauthorized         = "UNAUTHORIZED"
	ErrCodeForbidden            = "FORBIDDEN"
	ErrCodeInvalidRequest       = "INVALID_REQUEST"
	ErrCodeUserNotFound         = "USER_NOT_FOUND"
	ErrCodeInvalidRole          = "INVALID_ROLE"
	ErrCodeStudySessionNotFound = "STUDY_SESSION_NOT_FOUND"
	ErrCodeInvalidSessionState  = "INVALID_SESSION_STATE"
	ErrCodeInvalidFee           = "INVALID_FEE"
	ErrCodeInvalidSchedule      = "INVALID_SCHEDULE"
	ErrCodeInvalidURL           = "INVALID_URL"
	ErrCodeBookingNotFound      = "BOOKING_NOT_FOUND"
	ErrCodeAlreadyStarted       = "ALREADY_STARTED"
	ErrCodeSessionNotOpen       = "SESSION_NOT_OPEN"
	ErrCodeSessionFull          = "SESSION_FULL"
	ErrCodeAlreadyBooked        = "ALREADY_BOOKED"
	ErrCodeDuplicateSubmission  = "DUPLICATE_SUBMISSION"
	ErrCodePaymentIntentFailed  = "PAYMENT_INTENT_FAILED"
	ErrCodeCardDeclined         = "CARD_DECLINED"
	ErrCodeChargeIncomplete     = "CHARGE_INCOMPLETE"
	ErrCodeChargedNotBooked     = "CHARGED_NOT_BOOKED"
	ErrCodePaymentRecordFailed  = "PAYMENT_RECORD_FAILED"
	ErrCodePaymentUnavailable   = "PAYMENT_UNAVAILABLE"
	ErrCodeAssetNotFound        = "ASSET_NOT_FOUND"
	ErrCodeAssetRequestNotFound = "ASSET_REQUEST_NOT_FOUND"
	ErrCodeInsufficientStock    = "INSUFFICIENT_STOCK"
	ErrCodeInvalidAssetReqState = "INVALID_ASSET_REQUEST_STATE"
	ErrCodeAssetNotReturnable   = "ASSET_NOT_RETURNABLE"

	// 認証プロバイダーのエラーを変換したコード
	ErrCodeAuthInvalidCredentials = "AUTH_INVALID_CREDENTIALS"
	ErrCodeAuthEmailExists        = "AUTH_EMAIL_EXISTS"
	ErrCodeAuthWeakPassword       = "AUTH_WEAK_PASSWORD"
	ErrCodeAuthInvalidEmail       = "AUTH_INVALID_EMAIL"
	ErrCodeAuthTooManyAttempts    = "AUTH_TOO_MANY_ATTEMPTS"
	ErrCodeAuthUserDisabled       = "AUTH_USER_DISABLED"
	ErrCodeAuthInvalidToken       = "AUTH_INVALID_TOKEN"
	ErrCodeAuthFailed             = "AUTH_FAILED"

	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// NewUnauthorizedError は未認証エラーを生成する。
func NewUnauthorizedError() *APIError {
	return &APIError{
		Code:     ErrCodeUnauthorized,
		Message:  "認証が必要です。",
		Category: "auth",
		Action:   "ログインしてください。",
	}
}

// NewForbiddenError はロール不一致による認可エラーを生成する。
func NewForbiddenError() *APIError {
	return &APIError{
		Code:     ErrCodeForbidden,
		Message:  "この操作を行う権限がありません。",
		Category: "auth",
		Action:   "権限のあるアカウントでログインし直してください。",
	}
}

// NewInvalidRequestError はリクエスト検証エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}

// NewInvalidRoleError は割り当て不可能なロールが指定された場合のエラーを生成する。
func NewInvalidRoleError(role string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRole,
		Message:  fmt.Sprintf("指定されたロールは使用できません: %s", role),
		Category: "validation",
		Action:   "student、tutor、admin、employee、hr のいずれかを指定してください。",
	}
}

// NewStudySessionNotFoundError は学習セッション未検出エラーを生成する。
func NewStudySessionNotFoundError(sessionID string) *APIError {
	return &APIError{
		Code:     ErrCodeStudySessionNotFound,
		Message:  fmt.Sprintf("指定されたセッションが見つかりません: %s", sessionID),
		Category: "session",
		Action:   "セッションIDを確認してください。",
	}
}

// NewInvalidSessionStateError はセッションの状態遷移が許可されない場合のエラーを生成する。
func NewInvalidSessionStateError(current StudySessionStatus, op string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSessionState,
		Message:  fmt.Sprintf("現在の状態（%s）では%sできません。", current, op),
		Category: "session",
		Action:   "セッションの状態を確認してください。",
	}
}

// NewInvalidFeeError は料金が最小通貨単位の整数に変換できない場合のエラーを生成する。
func NewInvalidFeeError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidFee,
		Message:  fmt.Sprintf("料金が不正です: %s", reason),
		Category: "validation",
		Action:   "0以上、小数点以下2桁までの金額を指定してください。",
	}
}

// NewInvalidScheduleError は登録期間や授業時間の整合性エラーを生成する。
func NewInvalidScheduleError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidSchedule,
		Message:  fmt.Sprintf("日程が不正です: %s", reason),
		Category: "validation",
		Action:   "登録期間と授業時間を確認してください。",
	}
}

// NewInvalidURLError は無効なURLエラーを生成する。
func NewInvalidURLError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidURL,
		Message:  fmt.Sprintf("無効なURLです: %s", reason),
		Category: "validation",
		Action:   "公開されている https:// のURLを指定してください。",
	}
}

// NewBookingNotFoundError は予約未検出エラーを生成する。
// 他人の予約を指定した場合も存在を漏らさないためこのエラーを返す。
func NewBookingNotFoundError(bookingID string) *APIError {
	return &APIError{
		Code:     ErrCodeBookingNotFound,
		Message:  fmt.Sprintf("指定された予約が見つかりません: %s", bookingID),
		Category: "booking",
		Action:   "予約一覧を確認してください。",
	}
}

// NewAlreadyStartedError は授業開始後にキャンセルしようとした場合のエラーを生成する。
func NewAlreadyStartedError(classStart time.Time) *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyStarted,
		Message:  fmt.Sprintf("授業は既に開始しています（開始: %s）。", classStart.Format(time.RFC3339)),
		Category: "booking",
		Action:   "開始後の予約はキャンセルできません。",
	}
}

// NewSessionNotOpenError は学習セッションが予約受付中でない場合のエラーを生成する。
func NewSessionNotOpenError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotOpen,
		Message:  "このセッションは現在予約を受け付けていません。",
		Category: "booking",
		Action:   "登録期間を確認してください。",
	}
}

// NewSessionFullError は定員に達している場合のエラーを生成する。
func NewSessionFullError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionFull,
		Message:  "このセッションは定員に達しています。",
		Category: "booking",
		Action:   "他のセッションを選択してください。",
	}
}

// NewAlreadyBookedError は同じセッションを予約済みの場合のエラーを生成する。
func NewAlreadyBookedError() *APIError {
	return &APIError{
		Code:     ErrCodeAlreadyBooked,
		Message:  "このセッションは既に予約済みです。",
		Category: "booking",
		Action:   "予約一覧を確認してください。",
	}
}

// NewPaymentIntentFailedError は課金インテントを作成できなかった場合のエラーを生成する。
func NewPaymentIntentFailedError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentIntentFailed,
		Message:  "支払いの準備に失敗しました。課金は行われていません。",
		Category: "payment",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewCardDeclinedError はカードが拒否された場合のエラーを生成する。
// reasonは決済プロセッサーのメッセージをそのまま表示する。
func NewCardDeclinedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeCardDeclined,
		Message:  reason,
		Category: "payment",
		Action:   "別のカードを使用するか、カード発行会社にお問い合わせください。",
	}
}

// NewChargeIncompleteError は課金が完了状態にならなかった場合のエラーを生成する。
func NewChargeIncompleteError(status string) *APIError {
	return &APIError{
		Code:     ErrCodeChargeIncomplete,
		Message:  fmt.Sprintf("支払いが完了しませんでした（状態: %s）。予約は作成されていません。", status),
		Category: "payment",
		Action:   "カード情報を確認して再度お試しください。",
	}
}

// NewChargedNotBookedError は課金後に予約を保存できなかった場合のエラーを生成する。
// 再試行では解決しないため、問い合わせ用の取引IDを表示する。
func NewChargedNotBookedError(transactionID string) *APIError {
	return &APIError{
		Code:     ErrCodeChargedNotBooked,
		Message:  fmt.Sprintf("支払いは完了しましたが、予約を保存できませんでした（取引ID: %s）。", transactionID),
		Category: "payment",
		Action:   "再度お支払いせず、取引IDを添えてサポートにお問い合わせください。",
	}
}

// NewPaymentRecordFailedError は予約後に支払いレコードを保存できなかった場合のエラーを生成する。
func NewPaymentRecordFailedError(bookingID string) *APIError {
	return &APIError{
		Code:     ErrCodePaymentRecordFailed,
		Message:  fmt.Sprintf("予約は作成されましたが、支払い記録の保存に失敗しました（予約ID: %s）。", bookingID),
		Category: "payment",
		Action:   "再度お支払いせず、予約IDを添えてサポートにお問い合わせください。",
	}
}

// NewPaymentUnavailableError は決済機能が利用できない場合のエラーを生成する。
func NewPaymentUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodePaymentUnavailable,
		Message:  "現在オンライン決済は利用できません。",
		Category: "payment",
		Action:   "時間をおいて再度お試しください。",
	}
}

// NewDuplicateSubmissionError は同一の支払いリクエストが処理中または処理済みの場合のエラーを生成する。
func NewDuplicateSubmissionError() *APIError {
	return &APIError{
		Code:     ErrCodeDuplicateSubmission,
		Message:  "同じ支払いリクエストが既に送信されています。",
		Category: "payment",
		Action:   "予約一覧で支払い結果を確認してください。",
	}
}

// NewAssetNotFoundError は資産未検出エラーを生成する。
func NewAssetNotFoundError(assetID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssetNotFound,
		Message:  fmt.Sprintf("指定された資産が見つかりません: %s", assetID),
		Category: "asset",
		Action:   "資産IDを確認してください。",
	}
}

// NewAssetRequestNotFoundError は資産申請未検出エラーを生成する。
func NewAssetRequestNotFoundError(requestID string) *APIError {
	return &APIError{
		Code:     ErrCodeAssetRequestNotFound,
		Message:  fmt.Sprintf("指定された申請が見つかりません: %s", requestID),
		Category: "asset",
		Action:   "申請一覧を確認してください。",
	}
}

// NewInsufficientStockError は在庫不足エラーを生成する。
func NewInsufficientStockError(available int) *APIError {
	return &APIError{
		Code:     ErrCodeInsufficientStock,
		Message:  fmt.Sprintf("在庫が不足しています（残り%d）。", available),
		Category: "asset",
		Action:   "数量を減らすか、在庫の補充を待ってください。",
	}
}

// NewInvalidAssetRequestStateError は申請の状態遷移が許可されない場合のエラーを生成する。
func NewInvalidAssetRequestStateError(current AssetRequestStatus) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidAssetReqState,
		Message:  fmt.Sprintf("現在の申請状態（%s）ではこの操作はできません。", current),
		Category: "asset",
		Action:   "申請の状態を確認してください。",
	}
}

// NewAssetNotReturnableError は返却対象外の資産を返却しようとした場合のエラーを生成する。
func NewAssetNotReturnableError() *APIError {
	return &APIError{
		Code:     ErrCodeAssetNotReturnable,
		Message:  "この資産は返却対象ではありません。",
		Category: "asset",
		Action:   "消耗品は返却できません。",
	}
}

// NewAuthError は認証プロバイダーのエラーを変換したエラーを生成する。
func NewAuthError(code, message, action string) *APIError {
	return &APIError{
		Code:     code,
		Message:  message,
		Category: "auth",
		Action:   action,
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterで示された時間が経過してから再度お試しください。",
	}
}
