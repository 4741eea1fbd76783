package handler

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/studydesk/internal/access"
	"github.com/hitoshi/studydesk/internal/model"
)

var (
	testStudent  = &model.User{ID: "user-student", Email: "student@example.com", DisplayName: "Student", Role: "student"}
	testTutor    = &model.User{ID: "user-tutor", Email: "tutor@example.com", DisplayName: "Tutor", Role: "tutor"}
	testAdmin    = &model.User{ID: "user-admin", Email: "admin@example.com", DisplayName: "Admin", Role: "admin"}
	testEmployee = &model.User{ID: "user-employee", Email: "employee@example.com", DisplayName: "Employee", Role: "employee"}
	testHR       = &model.User{ID: "user-hr", Email: "hr@example.com", DisplayName: "HR", Role: "hr"}
)

// withIdentity はガードを通過した状態のリクエストを作る。
func withIdentity(r *http.Request, u *model.User) *http.Request {
	d := access.Decision{State: access.StateAuthorized, Identity: u, Role: access.ParseRole(u.Role)}
	return r.WithContext(access.ContextWithDecision(r.Context(), d))
}

func jsonRequest(method, target, body string) *http.Request {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func decodeBody[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(bytes.NewReader(w.Body.Bytes())).Decode(&v); err != nil {
		t.Fatalf("failed to decode body %q: %v", w.Body.String(), err)
	}
	return v
}

type errorBody struct {
	Code     string `json:"code"`
	Message  string `json:"message"`
	Category string `json:"category"`
	Action   string `json:"action"`
}

func assertError(t *testing.T, w *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if w.Code != status {
		t.Errorf("status = %d, want %d (body=%s)", w.Code, status, w.Body.String())
	}
	body := decodeBody[errorBody](t, w)
	if body.Code != code {
		t.Errorf("code = %q, want %q", body.Code, code)
	}
}
