package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studydesk/internal/booking"
	"github.com/hitoshi/studydesk/internal/middleware"
	"github.com/hitoshi/studydesk/internal/model"
)

// maxIdempotencyKeyLength はIdempotency-Keyヘッダーの最大長。
const maxIdempotencyKeyLength = 255

// BookingServiceInterface は予約ハンドラーが必要とするサービスインターフェース。
type BookingServiceInterface interface {
	PurchaseSession(ctx context.Context, req booking.PurchaseRequest) (*booking.PurchaseResult, error)
	BookFree(ctx context.Context, sessionID string, student booking.Payer) (*model.Booking, error)
	CancelBooking(ctx context.Context, bookingID, callerEmail string) (*booking.CancellationResult, error)
	ListBookings(ctx context.Context, studentEmail string, page model.PageRequest) (model.Page[*model.Booking], error)
	ListPayments(ctx context.Context, studentEmail string, page model.PageRequest) (model.Page[*model.Payment], error)
}

// BookingHandler は学生の予約・支払い・キャンセルのHTTPハンドラー。
type BookingHandler struct {
	service BookingServiceInterface
}

// NewBookingHandler はBookingHandlerを生成する。
func NewBookingHandler(service BookingServiceInterface) *BookingHandler {
	return &BookingHandler{service: service}
}

type purchaseRequest struct {
	PaymentMethodToken string `json:"paymentMethodToken"`
	BillingName        string `json:"billingName"`
}

type bookingResponse struct {
	ID            string    `json:"id"`
	SessionID     string    `json:"sessionId"`
	StudentEmail  string    `json:"studentEmail"`
	Amount        float64   `json:"amount"`
	AmountCents   int64     `json:"amountCents"`
	PaymentStatus string    `json:"paymentStatus"`
	PaymentMethod string    `json:"paymentMethod"`
	BookedAt      time.Time `json:"bookedAt"`
}

type paymentResponse struct {
	ID            string     `json:"id"`
	BookingID     string     `json:"bookingId,omitempty"`
	SessionID     string     `json:"sessionId"`
	TransactionID string     `json:"transactionId"`
	Amount        float64    `json:"amount"`
	AmountCents   int64      `json:"amountCents"`
	PaymentMethod string     `json:"paymentMethod"`
	RefundID      string     `json:"refundId,omitempty"`
	RefundStatus  string     `json:"refundStatus,omitempty"`
	RefundedAt    *time.Time `json:"refundedAt,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

type purchaseResponse struct {
	Booking bookingResponse `json:"booking"`
	Payment paymentResponse `json:"payment"`
}

type refundResponse struct {
	ID          string  `json:"id"`
	Amount      float64 `json:"amount"`
	AmountCents int64   `json:"amountCents"`
	Status      string  `json:"status"`
}

type cancellationResponse struct {
	BookingID   string          `json:"bookingId"`
	Outcome     string          `json:"refundOutcome"`
	Refund      *refundResponse `json:"refund,omitempty"`
	RefundError string          `json:"refundError,omitempty"`
}

// majorUnits は最小通貨単位の金額を主通貨単位の数値にする。正確な値はamountCentsで返す。
func majorUnits(cents int64) float64 {
	return float64(cents) / 100
}

func toBookingResponse(b *model.Booking) bookingResponse {
	return bookingResponse{
		ID:            b.ID,
		SessionID:     b.SessionID,
		StudentEmail:  b.StudentEmail,
		Amount:        majorUnits(b.AmountCents),
		AmountCents:   b.AmountCents,
		PaymentStatus: string(b.PaymentStatus),
		PaymentMethod: b.PaymentMethod,
		BookedAt:      b.BookedAt,
	}
}

func toPaymentResponse(p *model.Payment) paymentResponse {
	return paymentResponse{
		ID:            p.ID,
		BookingID:     p.BookingID,
		SessionID:     p.SessionID,
		TransactionID: p.TransactionID,
		Amount:        majorUnits(p.AmountCents),
		AmountCents:   p.AmountCents,
		PaymentMethod: p.PaymentMethod,
		RefundID:      p.RefundID,
		RefundStatus:  p.RefundStatus,
		RefundedAt:    p.RefundedAt,
		CreatedAt:     p.CreatedAt,
	}
}

// Purchase は有料セッションを購入する。
// Idempotency-Keyヘッダーがある場合は同じキーでの重複送信を409で拒否する。
// POST /api/sessions/{id}/purchase
func (h *BookingHandler) Purchase(w http.ResponseWriter, r *http.Request) {
	student := currentUser(w, r)
	if student == nil {
		return
	}

	var req purchaseRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	key := strings.TrimSpace(r.Header.Get(middleware.IdempotencyKeyHeader))
	if len(key) > maxIdempotencyKeyLength {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("Idempotency-Keyが長すぎます。"))
		return
	}

	name := strings.TrimSpace(req.BillingName)
	if name == "" {
		name = student.DisplayName
	}

	result, err := h.service.PurchaseSession(r.Context(), booking.PurchaseRequest{
		SessionID:          chi.URLParam(r, "id"),
		Payer:              booking.Payer{Email: student.Email, Name: name},
		PaymentMethodToken: req.PaymentMethodToken,
		IdempotencyKey:     key,
	})
	if err != nil {
		handleServiceError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, purchaseResponse{
		Booking: toBookingResponse(result.Booking),
		Payment: toPaymentResponse(result.Payment),
	})
}

// BookFree は無料セッションを予約する。
// POST /api/sessions/{id}/book
func (h *BookingHandler) BookFree(w http.ResponseWriter, r *http.Request) {
	student := currentUser(w, r)
	if student == nil {
		return
	}

	b, err := h.service.BookFree(r.Context(), chi.URLParam(r, "id"), booking.Payer{Email: student.Email, Name: student.DisplayName})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toBookingResponse(b))
}

// ListBookings は学生自身の予約一覧を返す。
// GET /api/bookings
func (h *BookingHandler) ListBookings(w http.ResponseWriter, r *http.Request) {
	student := currentUser(w, r)
	if student == nil {
		return
	}

	page, err := h.service.ListBookings(r.Context(), student.Email, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toBookingResponse))
}

// Cancel は予約をキャンセルする。返金に失敗しても予約は削除され、結果に失敗理由が含まれる。
// DELETE /api/bookings/{id}
func (h *BookingHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	student := currentUser(w, r)
	if student == nil {
		return
	}

	result, err := h.service.CancelBooking(r.Context(), chi.URLParam(r, "id"), student.Email)
	if err != nil {
		handleServiceError(w, err)
		return
	}

	resp := cancellationResponse{
		BookingID:   result.BookingID,
		Outcome:     string(result.Outcome),
		RefundError: result.RefundError,
	}
	if result.Refund != nil {
		resp.Refund = &refundResponse{
			ID:          result.Refund.ID,
			Amount:      majorUnits(result.Refund.AmountCents),
			AmountCents: result.Refund.AmountCents,
			Status:      result.Refund.Status,
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListPayments は学生自身の支払い履歴を返す。
// GET /api/payments
func (h *BookingHandler) ListPayments(w http.ResponseWriter, r *http.Request) {
	student := currentUser(w, r)
	if student == nil {
		return
	}

	page, err := h.service.ListPayments(r.Context(), student.Email, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toPaymentResponse))
}
