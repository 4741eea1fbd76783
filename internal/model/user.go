// Package model はドメインモデルを定義する。
package model

import "time"

// User は認証プロバイダーのIdentityをアプリケーション側で保持する射影。
// Roleは登録時に設定され、管理者操作でのみ変更される。
type User struct {
	ID            string
	ExternalID    string // 認証プロバイダー側のUID
	Email         string
	DisplayName   string
	PhotoURL      string
	EmailVerified bool
	Role          string // 生の値。解釈はaccessパッケージが行う
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Session はユーザーのログインセッションを表す。
type Session struct {
	ID        string
	UserID    string
	UserAgent string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// IdentityEventKind はIdentity変更通知の種類を表す。
type IdentityEventKind string

const (
	IdentitySignedIn       IdentityEventKind = "signed_in"
	IdentitySignedOut      IdentityEventKind = "signed_out"
	IdentityProfileUpdated IdentityEventKind = "profile_updated"
	IdentityRoleChanged    IdentityEventKind = "role_changed"
)

// IdentityEvent は認証サービスが購読者に配信するIdentity変更通知。
type IdentityEvent struct {
	UserID string
	Kind   IdentityEventKind
	At     time.Time
}
