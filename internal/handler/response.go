package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/middleware"
	"github.com/hitoshi/studydesk/internal/model"
)

// maxRequestBodySize はJSONリクエストボディの上限（1MB）。
const maxRequestBodySize = 1 << 20

// apiErrorCarrier はユーザー向けAPIErrorを持つ型付きエラー。
// 予約ワークフローや認証プロバイダーのエラーが実装する。
type apiErrorCarrier interface {
	APIError() *model.APIError
}

// pageResponse はページネーション付き一覧の共通レスポンス。
type pageResponse[T any] struct {
	Items      []T `json:"items"`
	TotalPages int `json:"totalPages"`
	TotalItems int `json:"totalItems"`
}

func toPageResponse[S any, T any](page model.Page[S], convert func(S) T) pageResponse[T] {
	items := make([]T, 0, len(page.Items))
	for _, it := range page.Items {
		items = append(items, convert(it))
	}
	return pageResponse[T]{Items: items, TotalPages: page.TotalPages, TotalItems: page.TotalItems}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeAPIErrorResponse は統一エラーフォーマットでエラーレスポンスを書き込む。
func writeAPIErrorResponse(w http.ResponseWriter, statusCode int, apiErr *model.APIError) {
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

// decodeJSON はリクエストボディをvにデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxRequestBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError("リクエストボディが不正です。"))
		return false
	}
	return true
}

// currentUser はガードを通過したリクエストのユーザーを返す。
// 取得できない場合は401を書き込みnilを返す。
func currentUser(w http.ResponseWriter, r *http.Request) *model.User {
	d, ok := access.DecisionFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return nil
	}
	return d.Identity
}

// parsePageRequest はpage・limitクエリを読み取る。
// 数値でない値はデフォルトとして扱い、範囲はPageRequest.Normalizeで丸める。
func parsePageRequest(r *http.Request) model.PageRequest {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	limit, _ := strconv.Atoi(q.Get("limit"))
	return model.PageRequest{Page: page, Limit: limit}.Normalize()
}

// handleServiceError はサービス層のエラーをHTTPレスポンスに変換する。
func handleServiceError(w http.ResponseWriter, err error) {
	var carrier apiErrorCarrier
	if errors.As(err, &carrier) {
		apiErr := carrier.APIError()
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		writeAPIErrorResponse(w, mapAPIErrorToHTTPStatus(apiErr), apiErr)
		return
	}

	// APIError以外のエラーは内部サーバーエラーとして扱う
	slog.Error("internal server error", slog.String("error", err.Error()))
	middleware.WriteInternalServerError(w)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthorized, model.ErrCodeAuthInvalidCredentials, model.ErrCodeAuthInvalidToken:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden, model.ErrCodeAuthUserDisabled:
		return http.StatusForbidden
	case model.ErrCodeUserNotFound, model.ErrCodeStudySessionNotFound, model.ErrCodeBookingNotFound,
		model.ErrCodeAssetNotFound, model.ErrCodeAssetRequestNotFound:
		return http.StatusNotFound
	case model.ErrCodeInvalidRequest, model.ErrCodeInvalidRole, model.ErrCodeInvalidFee,
		model.ErrCodeInvalidSchedule, model.ErrCodeInvalidURL,
		model.ErrCodeAuthWeakPassword, model.ErrCodeAuthInvalidEmail:
		return http.StatusBadRequest
	case model.ErrCodeInvalidSessionState, model.ErrCodeAlreadyStarted, model.ErrCodeSessionNotOpen,
		model.ErrCodeSessionFull, model.ErrCodeAlreadyBooked, model.ErrCodeDuplicateSubmission,
		model.ErrCodeInsufficientStock, model.ErrCodeInvalidAssetReqState, model.ErrCodeAssetNotReturnable,
		model.ErrCodeAuthEmailExists:
		return http.StatusConflict
	case model.ErrCodeCardDeclined:
		return http.StatusPaymentRequired
	case model.ErrCodePaymentIntentFailed, model.ErrCodeChargeIncomplete:
		return http.StatusBadGateway
	case model.ErrCodePaymentUnavailable:
		return http.StatusServiceUnavailable
	case model.ErrCodeAuthTooManyAttempts, model.ErrCodeRateLimitExceeded:
		return http.StatusTooManyRequests
	case model.ErrCodeChargedNotBooked, model.ErrCodePaymentRecordFailed, model.ErrCodeAuthFailed:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}
