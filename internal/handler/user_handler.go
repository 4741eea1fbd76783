package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studydesk/internal/model"
)

// UserServiceInterface はユーザー管理ハンドラーが必要とするサービスインターフェース。
type UserServiceInterface interface {
	// List はロールで絞り込んだユーザー一覧を返す。roleが空の場合は全ユーザー。
	List(ctx context.Context, role string, page model.PageRequest) (model.Page[*model.User], error)
	// ChangeRole は管理者がユーザーのロールを変更する。ロールが変わる唯一の経路。
	ChangeRole(ctx context.Context, actorID, userID, rawRole string) (*model.User, error)
}

// UserHandler は管理者向けユーザー管理のHTTPハンドラー。
type UserHandler struct {
	service UserServiceInterface
}

// NewUserHandler はUserHandlerを生成する。
func NewUserHandler(service UserServiceInterface) *UserHandler {
	return &UserHandler{
		service: service,
	}
}

type changeRoleRequest struct {
	Role string `json:"role"`
}

// List はユーザー一覧を返す。
// GET /api/admin/users?role=&page=&limit=
func (h *UserHandler) List(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.List(r.Context(), r.URL.Query().Get("role"), parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toUserResponse))
}

// ChangeRole はユーザーのロールを変更する。
// PUT /api/admin/users/{id}/role
func (h *UserHandler) ChangeRole(w http.ResponseWriter, r *http.Request) {
	admin := currentUser(w, r)
	if admin == nil {
		return
	}

	var req changeRoleRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	user, err := h.service.ChangeRole(r.Context(), admin.ID, chi.URLParam(r, "id"), req.Role)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toUserResponse(user))
}
