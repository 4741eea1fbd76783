package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/studysession"
)

// StudySessionServiceInterface は学習セッションハンドラーが必要とするサービスインターフェース。
type StudySessionServiceInterface interface {
	Create(ctx context.Context, tutor studysession.Tutor, in studysession.CreateInput) (*model.StudySession, error)
	Get(ctx context.Context, id string) (*model.StudySession, error)
	Approve(ctx context.Context, id string) (*model.StudySession, error)
	Reject(ctx context.Context, id, reason string) (*model.StudySession, error)
	Resubmit(ctx context.Context, tutorEmail, id string) (*model.StudySession, error)
	UpdateFee(ctx context.Context, tutorEmail, id, rawFee string) (*model.StudySession, error)
	ListApproved(ctx context.Context, page model.PageRequest) (model.Page[*model.StudySession], error)
	ListByStatus(ctx context.Context, status model.StudySessionStatus, page model.PageRequest) (model.Page[*model.StudySession], error)
	ListByTutor(ctx context.Context, tutorEmail string, page model.PageRequest) (model.Page[*model.StudySession], error)
}

// StudySessionHandler は学習セッションの公開一覧、チューター、管理者向けのHTTPハンドラー。
type StudySessionHandler struct {
	service StudySessionServiceInterface
}

// NewStudySessionHandler はStudySessionHandlerを生成する。
func NewStudySessionHandler(service StudySessionServiceInterface) *StudySessionHandler {
	return &StudySessionHandler{service: service}
}

type createStudySessionRequest struct {
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	ImageURL          string    `json:"imageUrl"`
	Fee               string    `json:"fee"`
	Capacity          int       `json:"capacity"`
	RegistrationStart time.Time `json:"registrationStart"`
	RegistrationEnd   time.Time `json:"registrationEnd"`
	ClassStart        time.Time `json:"classStart"`
	ClassEnd          time.Time `json:"classEnd"`
}

type updateFeeRequest struct {
	Fee string `json:"fee"`
}

type rejectStudySessionRequest struct {
	Reason string `json:"reason"`
}

type studySessionResponse struct {
	ID                string    `json:"id"`
	TutorEmail        string    `json:"tutorEmail"`
	TutorName         string    `json:"tutorName"`
	Title             string    `json:"title"`
	Description       string    `json:"description"`
	ImageURL          string    `json:"imageUrl,omitempty"`
	Fee               string    `json:"fee"`
	FeeCents          int64     `json:"feeCents"`
	Free              bool      `json:"free"`
	Capacity          int       `json:"capacity"`
	RegistrationStart time.Time `json:"registrationStart"`
	RegistrationEnd   time.Time `json:"registrationEnd"`
	ClassStart        time.Time `json:"classStart"`
	ClassEnd          time.Time `json:"classEnd"`
	Status            string    `json:"status"`
	RejectionReason   string    `json:"rejectionReason,omitempty"`
}

func toStudySessionResponse(s *model.StudySession) studySessionResponse {
	return studySessionResponse{
		ID:                s.ID,
		TutorEmail:        s.TutorEmail,
		TutorName:         s.TutorName,
		Title:             s.Title,
		Description:       s.Description,
		ImageURL:          s.ImageURL,
		Fee:               studysession.FormatFee(s.FeeCents),
		FeeCents:          s.FeeCents,
		Free:              s.IsFree(),
		Capacity:          s.Capacity,
		RegistrationStart: s.RegistrationStart,
		RegistrationEnd:   s.RegistrationEnd,
		ClassStart:        s.ClassStart,
		ClassEnd:          s.ClassEnd,
		Status:            string(s.Status),
		RejectionReason:   s.RejectionReason,
	}
}

// ListApproved は公開中の学習セッション一覧を返す。
// GET /api/sessions?page=&limit=
func (h *StudySessionHandler) ListApproved(w http.ResponseWriter, r *http.Request) {
	page, err := h.service.ListApproved(r.Context(), parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toStudySessionResponse))
}

// Get は公開中の学習セッション詳細を返す。
// GET /api/sessions/{id}
func (h *StudySessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudySessionResponse(session))
}

// Create はチューターが学習セッションを申請する。
// POST /api/tutor/sessions
func (h *StudySessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	tutor := currentUser(w, r)
	if tutor == nil {
		return
	}

	var req createStudySessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Create(r.Context(),
		studysession.Tutor{Email: tutor.Email, Name: tutor.DisplayName},
		studysession.CreateInput{
			Title:             strings.TrimSpace(req.Title),
			Description:       req.Description,
			ImageURL:          strings.TrimSpace(req.ImageURL),
			Fee:               req.Fee,
			Capacity:          req.Capacity,
			RegistrationStart: req.RegistrationStart,
			RegistrationEnd:   req.RegistrationEnd,
			ClassStart:        req.ClassStart,
			ClassEnd:          req.ClassEnd,
		})
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toStudySessionResponse(session))
}

// ListMine はチューター自身の学習セッション一覧を返す。
// GET /api/tutor/sessions
func (h *StudySessionHandler) ListMine(w http.ResponseWriter, r *http.Request) {
	tutor := currentUser(w, r)
	if tutor == nil {
		return
	}

	page, err := h.service.ListByTutor(r.Context(), tutor.Email, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toStudySessionResponse))
}

// UpdateFee はチューターが自身のセッション料金を変更する。既存の予約金額は変わらない。
// PATCH /api/tutor/sessions/{id}/fee
func (h *StudySessionHandler) UpdateFee(w http.ResponseWriter, r *http.Request) {
	tutor := currentUser(w, r)
	if tutor == nil {
		return
	}

	var req updateFeeRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.UpdateFee(r.Context(), tutor.Email, chi.URLParam(r, "id"), req.Fee)
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudySessionResponse(session))
}

// Resubmit は却下されたセッションを再申請する。
// POST /api/tutor/sessions/{id}/resubmit
func (h *StudySessionHandler) Resubmit(w http.ResponseWriter, r *http.Request) {
	tutor := currentUser(w, r)
	if tutor == nil {
		return
	}

	session, err := h.service.Resubmit(r.Context(), tutor.Email, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudySessionResponse(session))
}

// ListByStatus は管理者向けに状態別のセッション一覧を返す。statusの既定はpending。
// GET /api/admin/sessions?status=
func (h *StudySessionHandler) ListByStatus(w http.ResponseWriter, r *http.Request) {
	status := model.StudySessionStatus(r.URL.Query().Get("status"))
	if status == "" {
		status = model.StudySessionPending
	}

	page, err := h.service.ListByStatus(r.Context(), status, parsePageRequest(r))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPageResponse(page, toStudySessionResponse))
}

// Approve は申請中のセッションを承認する。
// POST /api/admin/sessions/{id}/approve
func (h *StudySessionHandler) Approve(w http.ResponseWriter, r *http.Request) {
	session, err := h.service.Approve(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudySessionResponse(session))
}

// Reject は申請中のセッションを却下する。理由は任意。
// POST /api/admin/sessions/{id}/reject
func (h *StudySessionHandler) Reject(w http.ResponseWriter, r *http.Request) {
	var req rejectStudySessionRequest
	if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
		return
	}

	session, err := h.service.Reject(r.Context(), chi.URLParam(r, "id"), strings.TrimSpace(req.Reason))
	if err != nil {
		handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStudySessionResponse(session))
}
