package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studydesk/internal/asset"
	"github.com/hitoshi/studydesk/internal/model"
)

// AssetServiceInterface は資産ハンドラーが必要とするサービスインターフェース。
type AssetServiceInterface interface {
	Create(ctx context.Context, hr asset.Actor, in asset.CreateInput) (*model.Asset, error)
	List(ctx context.Context, availableOnly bool, page model.PageRequest) (model.Page[*model.Asset], error)
	Request(ctx context.Context, employee asset.Actor, assetID string, quantity int, note string) (*model.AssetRequest, error)
	Approve(ctx context.Context, requestID string) (*model.AssetRequest, error)
	Reject(ctx context.Context, requestID string) (*model.AssetRequest, error)
	Return(ctx context.Context, employeeEmail, requestID string) (*model.AssetRequest, error)
	ListMine(ctx context.Context, employeeEmail string, page model.PageRequest) (model.Page[*model.AssetRequest], error)
	ListRequests(ctx context.Context, status model.AssetRequestStatus, page model.PageRequest) (model.Page[*model.AssetRequest], error)
}

// AssetHandler は社員・人事向けの資産管理HTTPハンドラー。
type AssetHandler struct {
	service AssetServiceInterface
}

// NewAssetHandler はAssetHandlerを生成する。
func NewAssetHandler(service AssetServiceInterface) *AssetHandler {
	return &AssetHandler{service: service}
}

type createAssetRequest struct {
	Name       string `json:"name"`
	Kind       string `json:"kind"`
	Quantity   int    `json:"quantity"`
	Returnable bool   `json:"returnable"`
}

type assetRequestRequest struct {
	Quantity int    `json:"quantity"`
	Note     string `json:"note"`
}

type assetResponse struct {
	ID         string    `json:"id"`
	Name       string    `json:"name"`
	Kind       string    `json:"kind"`
	Quantity   int       `json:"quantity"`
	Returnable bool      `json:"returnable"`
	CreatedAt  time.Time `json:"createdAt"`
}

type assetRequestResponse struct {
	ID             string     `json:"id"`
	AssetID        string     `json:"assetId"`
	AssetName      string     `json:"assetName"`
	RequesterEmail string     `json:"requesterEmail"`
	RequesterName  string     `json:"requesterName"`
	Quantity       int        `json:"quantity"`
	Note           string     `json:"note,omitempty"`
	Status         string     `json:"status"`
	RequestedAt    time.Time  `json:"requestedAt"`
	DecidedAt      *time.Time `json:"decidedAt,omitempty"`
	ReturnedAt     *time.Time `json:"returnedAt,omitempty"`
}

func toAssetResponse(a *model.Asset) assetResponse {
	return assetResponse{
		ID:         a.ID,
		Name:       a.Name,
		Kind:       a.Kind,
		Quantity:   a.Quantity,
		Returnable: a.Returnable,
		CreatedAt:  a.CreatedAt,
	}
}

func toAssetRequestResponse(req *model.AssetRequest) assetRequestResponse {
	return assetRequestResponse{
		ID:             req.ID,
		AssetID:        req.AssetID,
		AssetName:      req.AssetName,
		RequesterEmail: req.RequesterEmail,
		RequesterName:  req.RequesterName,
		Quantity:       req.Quantity,
		Note:           req.Note,
		Status:         string(req.Status),
		RequestedAt:    req.RequestedAt,
		DecidedAt:      req.DecidedAt,
		ReturnedAt:     req.ReturnedAt,
	}
}

// List は資産一覧を返す。available=trueの場合は在庫のある資産のみ。
// GET /api/assets
func (h *AssetHandler) List(w http.ResponseWriter, r *http.Request) {
	availableOnly := r.URL.Query().Get("available") == "true"

	page, err := h.service.List(r.Context(), availableOnly, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toAssetResponse))
}

// Request は社員が資産を申請する。
// POST /api/assets/{id}/requests
func (h *AssetHandler) Request(w http.ResponseWriter, r *http.Request) {
	employee := currentUser(w, r)
	if employee == nil {
		return
	}

	var req assetRequestRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Request(r.Context(),
		asset.Actor{Email: employee.Email, Name: employee.DisplayName},
		chi.URLParam(r, "id"), req.Quantity, strings.TrimSpace(req.Note))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetRequestResponse(created))
}

// ListMine は社員自身の申請一覧を返す。
// GET /api/asset-requests/mine
func (h *AssetHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	employee := currentUser(w, r)
	if employee == nil {
		return
	}

	page, err := h.service.ListMine(r.Context(), employee.Email, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toAssetRequestResponse))
}

// Return は承認済みの返却対象資産を返却する。
// POST /api/asset-requests/{id}/return
func (h *AssetHandler) Return(w http.ResponseWriter, r *http.Request) {
	employee := currentUser(w, r)
	if employee == nil {
		return
	}

	returned, err := h.service.Return(r.Context(), employee.Email, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetRequestResponse(returned))
}

// Create は人事が資産を登録する。
// POST /api/hr/assets
func (h *AssetHandler) Create(w http.ResponseWriter, r *http.Request) {
	hr := currentUser(w, r)
	if hr == nil {
		return
	}

	var req createAssetRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	created, err := h.service.Create(r.Context(),
		asset.Actor{Email: hr.Email, Name: hr.DisplayName},
		asset.CreateInput{
			Name:       strings.TrimSpace(req.Name),
			Kind:       strings.TrimSpace(req.Kind),
			Quantity:   req.Quantity,
			Returnable: req.Returnable,
		})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toAssetResponse(created))
}

// ListRequests は人事向けに申請一覧を返す。statusが空の場合はすべての状態。
// GET /api/hr/asset-requests?status=
func (h *AssetHandler) ListRequests(w http.ResponseWriter, r *http.Request) {
	status := model.AssetRequestStatus(r.URL.Query().Get("status"))

	page, err := h.service.ListRequests(r.Context(), status, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toAssetRequestResponse))
}

// Approve は申請を承認し、在庫を減らす。
// POST /api/hr/asset-requests/{id}/approve
func (h *AssetHandler) Approve(w http.ResponseWriter, r *http.Request) {
	approved, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetRequestResponse(approved))
}

// Reject は申請を却下する。
// POST /api/hr/asset-requests/{id}/reject
func (h *AssetHandler) Reject(w http.ResponseWriter, r *http.Request) {
	rejected, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toAssetRequestResponse(rejected))
}
