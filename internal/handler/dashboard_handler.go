package handler

import (
	"net/http"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/model"
)

type dashboardResponse struct {
	Role string       `json:"role"`
	User userResponse `json:"user"`
}

// Dashboard はロール別ダッシュボードの初期表示データを返す。
// RequirePageで対象ロールに認可されたリクエストでのみ呼ばれる。
// GET /dashboard/{role}
func Dashboard(w http.ResponseWriter, r *http.Request) {
	d, ok := access.DecisionFromContext(r.Context())
	if !ok {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
		return
	}

	user := *d.Identity
	user.Role = d.Role.String()
	writeJSON(w, http.StatusOK, dashboardResponse{
		Role: d.Role.String(),
		User: toUserResponse(&user),
	})
}
