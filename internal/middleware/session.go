// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/studydesk/internal/model"
)

// SessionCookieName はログインセッションIDを保持するHttpOnly Cookieの名前。
const SessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// SessionFinder はセッションの検索に必要なインターフェース。
// repository.SessionRepositoryの部分集合として定義する。
type SessionFinder interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
}

// UserFinder はユーザーの検索に必要なインターフェース。
// repository.UserRepositoryの部分集合として定義する。
type UserFinder interface {
	FindByID(ctx context.Context, id string) (*model.User, error)
}

// SessionIdentityResolver はHttpOnly CookieのセッションからIdentityを解決する。
// access.IdentityResolverを満たす。
type SessionIdentityResolver struct {
	sessions SessionFinder
	users    UserFinder
}

// NewSessionIdentityResolver はSessionIdentityResolverを生成する。
func NewSessionIdentityResolver(sessions SessionFinder, users UserFinder) *SessionIdentityResolver {
	return &SessionIdentityResolver{sessions: sessions, users: users}
}

// ResolveIdentity はリクエストのセッションCookieからユーザーを解決する。
// Cookieがない、セッションが期限切れ、ユーザーが存在しない場合はnil, nilを返す。
func (r *SessionIdentityResolver) ResolveIdentity(req *http.Request) (*model.User, error) {
	// 1. CookieからセッションIDを取得
	cookie, err := req.Cookie(SessionCookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	// 2. セッションの有効性を検証
	session, err := r.sessions.FindByID(req.Context(), cookie.Value)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	if session == nil {
		return nil, nil
	}

	// 3. セッションのユーザーを取得
	user, err := r.users.FindByID(req.Context(), session.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// SessionIDFromRequest はリクエストのセッションCookieの値を返す。
func SessionIDFromRequest(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ガードを通過したリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// リクエストログにも同じユーザーIDが記録される。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	noteUserID(ctx, userID)
	return context.WithValue(ctx, userIDContextKey, userID)
}
