// Package booking は学習セッションの予約、支払い、キャンセルのワークフローを提供する。
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/hitoshi/studydesk/internal/metrics"
	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/payment"
	"github.com/hitoshi/studydesk/internal/repository"
)

// Payer は支払者（予約する学生）の情報。
type Payer struct {
	Email string
	Name  string
}

// PurchaseRequest は有料セッション購入の入力。
type PurchaseRequest struct {
	SessionID          string
	Payer              Payer
	PaymentMethodToken string
	// IdempotencyKey はクライアントが送信ごとに生成するキー。空の場合は重複検出を行わない。
	// 重複送信の検出にのみ使い、決済プロセッサーには試行ごとのキーを渡す。
	IdempotencyKey string
}

// PurchaseResult は購入完了時の予約と支払いレコード。
type PurchaseResult struct {
	Booking *model.Booking
	Payment *model.Payment
}

// RefundOutcome はキャンセル時の返金結果の種別。
type RefundOutcome string

const (
	// RefundOutcomeRefunded は返金が成功した。
	RefundOutcomeRefunded RefundOutcome = "refunded"
	// RefundOutcomeFailed は返金を試みたが失敗した。予約は削除済み。
	RefundOutcomeFailed RefundOutcome = "refund_failed"
	// RefundOutcomeNotApplicable は無料または未払いのため返金対象外。
	RefundOutcomeNotApplicable RefundOutcome = "not_applicable"
)

// RefundDetail は成功した返金の内容。
type RefundDetail struct {
	ID          string
	AmountCents int64
	Status      string
}

// CancellationResult はキャンセル結果。Outcomeに応じてRefundまたはRefundErrorのどちらかのみが設定される。
type CancellationResult struct {
	BookingID   string
	Outcome     RefundOutcome
	Refund      *RefundDetail
	RefundError string
}

// ServiceConfig は予約サービスの任意設定。
type ServiceConfig struct {
	// Now は現在時刻の取得関数。nilの場合はtime.Now。
	Now func() time.Time
	// Metrics はnilの場合は記録しない。
	Metrics metrics.MetricsCollector
	// Idempotency はnilの場合は冪等キーを検証しない。
	Idempotency IdempotencyGuard
}

// Service は予約ワークフローのサービス層。
type Service struct {
	sessions    repository.StudySessionRepository
	bookings    repository.BookingRepository
	payments    repository.PaymentRepository
	processor   payment.Processor
	metrics     metrics.MetricsCollector
	idempotency IdempotencyGuard
	now         func() time.Time
}

// NewService はServiceを生成する。
func NewService(
	sessions repository.StudySessionRepository,
	bookings repository.BookingRepository,
	payments repository.PaymentRepository,
	processor payment.Processor,
	config ServiceConfig,
) *Service {
	s := &Service{
		sessions:    sessions,
		bookings:    bookings,
		payments:    payments,
		processor:   processor,
		metrics:     config.Metrics,
		idempotency: config.Idempotency,
		now:         config.Now,
	}
	if s.metrics == nil {
		s.metrics = metrics.Nop{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// PurchaseSession は有料セッションを購入する。
// 課金インテント作成、課金確認、予約保存、支払いレコード保存の順に実行し、
// 各ステップの失敗はステップごとの型付きエラーで返す。自動リトライは行わない。
func (s *Service) PurchaseSession(ctx context.Context, req PurchaseRequest) (*PurchaseResult, error) {
	if req.PaymentMethodToken == "" {
		return nil, model.NewInvalidRequestError("カード情報が入力されていません")
	}
	if req.Payer.Email == "" {
		return nil, model.NewUnauthorizedError()
	}

	// 金額は呼び出し時点の料金で固定する
	session, err := s.findOpenSession(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	if session.FeeCents <= 0 {
		return nil, model.NewInvalidFeeError("無料セッションは支払いなしで予約してください")
	}
	amount := session.FeeCents

	if req.IdempotencyKey != "" && s.idempotency != nil {
		ok, err := s.idempotency.Acquire(ctx, req.Payer.Email, req.IdempotencyKey)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, model.NewDuplicateSubmissionError()
		}
	}

	// 課金されていないことが確実な失敗でのみ同じキーでの再送信を許可する
	keepKey := false
	defer func() {
		if keepKey || req.IdempotencyKey == "" || s.idempotency == nil {
			return
		}
		if err := s.idempotency.Release(context.WithoutCancel(ctx), req.Payer.Email, req.IdempotencyKey); err != nil {
			slog.Warn("冪等キーの解放に失敗しました",
				slog.String("session_id", session.ID),
				slog.String("error", err.Error()),
			)
		}
	}()

	// 同じクライアントキーでの再送信は別の試行として課金させる
	attemptKey := uuid.New().String()

	// 1. 課金インテントを作成
	start := time.Now()
	intent, err := s.processor.CreateIntent(ctx, payment.IntentRequest{
		AmountCents:  amount,
		Description:  session.Title,
		ReceiptEmail: req.Payer.Email,
		Metadata: map[string]string{
			"session_id":    session.ID,
			"student_email": req.Payer.Email,
			"attempt_id":    attemptKey,
		},
		IdempotencyKey: attemptKey,
	})
	s.metrics.RecordProcessorLatency(StepIntent, time.Since(start))
	if errors.Is(err, payment.ErrNotConfigured) {
		return nil, model.NewPaymentUnavailableError()
	}
	if err != nil || intent == nil || intent.ClientSecret == "" {
		s.metrics.RecordPurchaseFailure(StepIntent)
		slog.Warn("課金インテントの作成に失敗しました",
			slog.String("session_id", session.ID),
			slog.Int64("amount_cents", amount),
			slog.Any("error", err),
		)
		return nil, &IntentCreationError{Err: err}
	}

	// 2. カードトークンで課金を確認
	start = time.Now()
	conf, err := s.processor.Confirm(ctx, payment.ConfirmRequest{
		IntentID:           intent.ID,
		PaymentMethodToken: req.PaymentMethodToken,
		Billing:            payment.BillingDetails{Name: req.Payer.Name, Email: req.Payer.Email},
		IdempotencyKey:     attemptKey,
	})
	s.metrics.RecordProcessorLatency(StepConfirm, time.Since(start))
	if err != nil {
		s.metrics.RecordPurchaseFailure(StepConfirm)
		var declined *payment.DeclineError
		if errors.As(err, &declined) {
			slog.Info("カードが拒否されました",
				slog.String("session_id", session.ID),
				slog.String("intent_id", intent.ID),
				slog.String("decline_code", declined.DeclineCode),
			)
			return nil, &CardDeclinedError{Reason: declined.Reason, Err: err}
		}
		keepKey = true
		slog.Error("課金の確認に失敗しました",
			slog.String("session_id", session.ID),
			slog.String("intent_id", intent.ID),
			slog.String("error", err.Error()),
		)
		return nil, &ChargeIncompleteError{TransactionID: intent.ID, Err: err}
	}
	if !conf.Succeeded() {
		s.metrics.RecordPurchaseFailure(StepConfirm)
		return nil, &ChargeIncompleteError{TransactionID: conf.TransactionID, Status: conf.Status}
	}
	keepKey = true

	// 課金後の保存はクライアントの切断で中断しない
	persistCtx := context.WithoutCancel(ctx)
	now := s.now()

	// 3. 予約をpendingで保存
	b := &model.Booking{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		StudentEmail:  req.Payer.Email,
		AmountCents:   amount,
		PaymentStatus: model.PaymentStatusPending,
		PaymentMethod: conf.PaymentMethod,
		BookedAt:      now,
	}
	if err := s.bookings.Create(persistCtx, b, now); err != nil {
		s.metrics.RecordPurchaseFailure(StepBooking)
		s.metrics.RecordChargedNotBooked()
		slog.Error("課金済みの予約を保存できませんでした",
			slog.String("session_id", session.ID),
			slog.String("student_email", req.Payer.Email),
			slog.String("transaction_id", conf.TransactionID),
			slog.Int64("amount_cents", amount),
			slog.String("error", err.Error()),
		)
		return nil, &BookingPersistError{TransactionID: conf.TransactionID, Err: err}
	}

	// 4. 支払いレコードを保存して予約をcompletedにする
	p := &model.Payment{
		ID:            uuid.New().String(),
		BookingID:     b.ID,
		SessionID:     session.ID,
		StudentEmail:  req.Payer.Email,
		TransactionID: conf.TransactionID,
		AmountCents:   amount,
		PaymentMethod: conf.PaymentMethod,
		CreatedAt:     now,
	}
	if err := s.payments.Create(persistCtx, p); err != nil {
		return nil, s.paymentPersistFailed(b, conf.TransactionID, err)
	}
	if err := s.bookings.MarkCompleted(persistCtx, b.ID, conf.PaymentMethod); err != nil {
		return nil, s.paymentPersistFailed(b, conf.TransactionID, err)
	}
	b.PaymentStatus = model.PaymentStatusCompleted

	s.metrics.RecordPurchaseCompleted()
	slog.Info("セッションを購入しました",
		slog.String("booking_id", b.ID),
		slog.String("session_id", session.ID),
		slog.String("transaction_id", conf.TransactionID),
		slog.Int64("amount_cents", amount),
	)

	return &PurchaseResult{Booking: b, Payment: p}, nil
}

func (s *Service) paymentPersistFailed(b *model.Booking, transactionID string, err error) error {
	s.metrics.RecordPurchaseFailure(StepPayment)
	slog.Error("支払いレコードの保存に失敗しました",
		slog.String("booking_id", b.ID),
		slog.String("transaction_id", transactionID),
		slog.String("error", err.Error()),
	)
	return &PaymentPersistError{BookingID: b.ID, TransactionID: transactionID, Err: err}
}

// BookFree は無料セッションを予約する。支払いレコードは作成しない。
func (s *Service) BookFree(ctx context.Context, sessionID string, student Payer) (*model.Booking, error) {
	if student.Email == "" {
		return nil, model.NewUnauthorizedError()
	}

	session, err := s.findOpenSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !session.IsFree() {
		return nil, model.NewInvalidFeeError("有料セッションは支払いが必要です")
	}

	now := s.now()
	b := &model.Booking{
		ID:            uuid.New().String(),
		SessionID:     session.ID,
		StudentEmail:  student.Email,
		AmountCents:   0,
		PaymentStatus: model.PaymentStatusCompleted,
		PaymentMethod: model.PaymentMethodFree,
		BookedAt:      now,
	}
	if err := s.bookings.Create(ctx, b, now); err != nil {
		return nil, mapBookingCreateError(err)
	}

	slog.Info("無料セッションを予約しました",
		slog.String("booking_id", b.ID),
		slog.String("session_id", session.ID),
	)
	return b, nil
}

// findOpenSession は予約受付中の学習セッションを取得する。
// 受付状態は予約作成時にリポジトリが再確認する。
func (s *Service) findOpenSession(ctx context.Context, sessionID string) (*model.StudySession, error) {
	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewStudySessionNotFoundError(sessionID)
	}
	now := s.now()
	if session.Status != model.StudySessionApproved ||
		now.Before(session.RegistrationStart) || now.After(session.RegistrationEnd) {
		return nil, model.NewSessionNotOpenError()
	}
	return session, nil
}

func mapBookingCreateError(err error) error {
	switch {
	case errors.Is(err, repository.ErrSessionNotOpen):
		return model.NewSessionNotOpenError()
	case errors.Is(err, repository.ErrSessionFull):
		return model.NewSessionFullError()
	case errors.Is(err, repository.ErrAlreadyBooked):
		return model.NewAlreadyBookedError()
	default:
		return fmt.Errorf("予約の作成に失敗しました: %w", err)
	}
}

// CancelBooking は予約をキャンセルする。
// 支払い済みかつ金額が0より大きい場合は返金を試み、返金の成否に関わらず予約を削除する。
func (s *Service) CancelBooking(ctx context.Context, bookingID, callerEmail string) (*CancellationResult, error) {
	b, err := s.bookings.FindByID(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	// 他人の予約は存在しないものとして扱う
	if b == nil || b.StudentEmail != callerEmail {
		return nil, model.NewBookingNotFoundError(bookingID)
	}

	session, err := s.sessions.FindByID(ctx, b.SessionID)
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	if session == nil {
		return nil, model.NewStudySessionNotFoundError(b.SessionID)
	}

	now := s.now()
	if !now.Before(session.ClassStart) {
		return nil, &AlreadyStartedError{BookingID: b.ID, ClassStart: session.ClassStart}
	}

	result := &CancellationResult{BookingID: b.ID, Outcome: RefundOutcomeNotApplicable}
	if b.PaymentStatus == model.PaymentStatusCompleted && b.AmountCents > 0 {
		s.refund(ctx, b, now, result)
	}

	// 返金の成否に関わらず席を解放する
	if err := s.bookings.DeleteByID(context.WithoutCancel(ctx), b.ID); err != nil {
		slog.Error("予約の削除に失敗しました",
			slog.String("booking_id", b.ID),
			slog.String("refund_outcome", string(result.Outcome)),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("予約の削除に失敗しました: %w", err)
	}

	s.metrics.RecordRefundOutcome(string(result.Outcome))
	slog.Info("予約をキャンセルしました",
		slog.String("booking_id", b.ID),
		slog.String("session_id", b.SessionID),
		slog.String("refund_outcome", string(result.Outcome)),
	)
	return result, nil
}

// refund は元の取引に対して返金し、結果をresultと支払い台帳に記録する。
// 返金は予約の削除と対になるため、クライアントの切断で中断しない。
func (s *Service) refund(ctx context.Context, b *model.Booking, now time.Time, result *CancellationResult) {
	refundCtx := context.WithoutCancel(ctx)

	p, err := s.payments.FindByBookingID(refundCtx, b.ID)
	if err != nil || p == nil {
		result.Outcome = RefundOutcomeFailed
		result.RefundError = refundFailureMessage(b.ID)
		slog.Error("返金対象の支払いレコードを取得できませんでした",
			slog.String("booking_id", b.ID),
			slog.Any("error", err),
		)
		return
	}

	start := time.Now()
	r, err := s.processor.Refund(refundCtx, p.TransactionID, b.AmountCents, b.ID)
	s.metrics.RecordProcessorLatency("refund", time.Since(start))

	if err != nil {
		result.Outcome = RefundOutcomeFailed
		result.RefundError = refundFailureMessage(b.ID)
		slog.Error("返金に失敗しました",
			slog.String("booking_id", b.ID),
			slog.String("transaction_id", p.TransactionID),
			slog.Int64("amount_cents", b.AmountCents),
			slog.String("error", err.Error()),
		)
		if markErr := s.payments.MarkRefunded(refundCtx, p.ID, "", "failed", now); markErr != nil {
			slog.Error("返金失敗の記録に失敗しました",
				slog.String("payment_id", p.ID),
				slog.String("error", markErr.Error()),
			)
		}
		return
	}

	result.Outcome = RefundOutcomeRefunded
	result.Refund = &RefundDetail{ID: r.ID, AmountCents: r.AmountCents, Status: r.Status}
	if markErr := s.payments.MarkRefunded(refundCtx, p.ID, r.ID, r.Status, now); markErr != nil {
		slog.Error("返金結果の記録に失敗しました",
			slog.String("payment_id", p.ID),
			slog.String("refund_id", r.ID),
			slog.String("error", markErr.Error()),
		)
	}
}

// refundFailureMessage は返金失敗時に利用者へ返すメッセージ。内部エラーの内容は含めない。
func refundFailureMessage(bookingID string) string {
	return fmt.Sprintf("予約はキャンセルされましたが、返金を完了できませんでした。予約ID %s を添えてサポートへお問い合わせください。", bookingID)
}

// ListBookings は学生の予約一覧を返す。
func (s *Service) ListBookings(ctx context.Context, studentEmail string, page model.PageRequest) (model.Page[*model.Booking], error) {
	items, total, err := s.bookings.ListByStudent(ctx, studentEmail, page)
	if err != nil {
		return model.Page[*model.Booking]{}, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// ListPayments は学生の支払い履歴を返す。
func (s *Service) ListPayments(ctx context.Context, studentEmail string, page model.PageRequest) (model.Page[*model.Payment], error) {
	items, total, err := s.payments.ListByStudent(ctx, studentEmail, page)
	if err != nil {
		return model.Page[*model.Payment]{}, fmt.Errorf("支払い履歴の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// ReportOrphans はolderThanより前に作成され、支払いレコードのないpending予約を検出してログに出す。
// 検出した予約は修正しない。
func (s *Service) ReportOrphans(ctx context.Context, olderThan time.Duration, limit int) ([]*model.Booking, error) {
	orphans, err := s.bookings.ListOrphans(ctx, s.now().Add(-olderThan), limit)
	if err != nil {
		return nil, fmt.Errorf("孤立予約の取得に失敗しました: %w", err)
	}

	s.metrics.RecordOrphanBookings(len(orphans))
	for _, b := range orphans {
		slog.Warn("支払いレコードのない予約があります",
			slog.String("booking_id", b.ID),
			slog.String("session_id", b.SessionID),
			slog.String("student_email", b.StudentEmail),
			slog.Int64("amount_cents", b.AmountCents),
			slog.Time("booked_at", b.BookedAt),
		)
	}
	return orphans, nil
}
