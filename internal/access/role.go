// Package access はIdentityからロールを解決し、ルート単位の認可ガードを提供する。
package access

import "strings"

// Role は認可ロールを表す列挙型。
// 未知の値はすべてRoleUnknownに正規化され、どのルートにも認可されない。
type Role int

const (
	RoleUnknown Role = iota
	RoleStudent
	RoleTutor
	RoleAdmin
	RoleEmployee
	RoleHR
)

// AllRoles は割り当て可能な全ロール。RoleUnknownは含まない。
var AllRoles = []Role{RoleStudent, RoleTutor, RoleAdmin, RoleEmployee, RoleHR}

// ParseRole はバックエンドに保存された生のロール文字列をRoleに変換する。
// 認識できない値はRoleUnknownを返す。
func ParseRole(s string) Role {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "student":
		return RoleStudent
	case "tutor":
		return RoleTutor
	case "admin":
		return RoleAdmin
	case "employee":
		return RoleEmployee
	case "hr":
		return RoleHR
	default:
		return RoleUnknown
	}
}

// String はロールの保存形式を返す。
func (r Role) String() string {
	switch r {
	case RoleStudent:
		return "student"
	case RoleTutor:
		return "tutor"
	case RoleAdmin:
		return "admin"
	case RoleEmployee:
		return "employee"
	case RoleHR:
		return "hr"
	case RoleUnknown:
		return "unknown"
	}
	return "unknown"
}

// Known はRoleUnknown以外の有効なロールかどうかを返す。
func (r Role) Known() bool {
	return r != RoleUnknown
}

// SelfAssignable はサインアップ時に本人が選択できるロールかどうかを返す。
// admin、employee、hrは管理者操作でのみ付与される。
func (r Role) SelfAssignable() bool {
	switch r {
	case RoleStudent, RoleTutor:
		return true
	case RoleAdmin, RoleEmployee, RoleHR, RoleUnknown:
		return false
	}
	return false
}

// DashboardPath はロールごとのダッシュボードのパスを返す。
// RoleUnknownの場合は空文字とfalseを返す。
func (r Role) DashboardPath() (string, bool) {
	switch r {
	case RoleStudent:
		return "/dashboard/student", true
	case RoleTutor:
		return "/dashboard/tutor", true
	case RoleAdmin:
		return "/dashboard/admin", true
	case RoleEmployee:
		return "/dashboard/employee", true
	case RoleHR:
		return "/dashboard/hr", true
	case RoleUnknown:
		return "", false
	}
	return "", false
}
