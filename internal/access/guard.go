package access

import "github.com/hitoshi/studydesk/internal/model"

// State はガード評価の状態を表す。
type State int

const (
	StateAuthLoading State = iota
	StateRoleLoading
	StateUnauthenticated
	StateWrongRole
	StateAuthorized
)

// String はログとメトリクスのラベルに使う状態名を返す。
func (s State) String() string {
	switch s {
	case StateAuthLoading:
		return "auth_loading"
	case StateRoleLoading:
		return "role_loading"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateWrongRole:
		return "wrong_role"
	case StateAuthorized:
		return "authorized"
	}
	return "unknown"
}

// Terminal はこの評価で遷移が終わった状態かどうかを返す。
func (s State) Terminal() bool {
	return s == StateUnauthenticated || s == StateWrongRole || s == StateAuthorized
}

// Guard は1回のガード評価の状態機械。
// AUTH_LOADINGから始まり、Identity解決とロール解決を経て終端状態に至る。
// 1リクエストごとに生成し、使い回さない。
type Guard struct {
	required []Role
	state    State
	identity *model.User
	role     Role
}

// NewGuard は指定ロールのいずれかを要求するGuardをAUTH_LOADING状態で生成する。
// requiredが空の場合は既知のロールであれば認可する。
func NewGuard(required ...Role) *Guard {
	return &Guard{required: required, state: StateAuthLoading}
}

// State は現在の状態を返す。
func (g *Guard) State() State { return g.state }

// Identity は解決済みのIdentityを返す。未解決の場合はnil。
func (g *Guard) Identity() *model.User { return g.identity }

// Role は解決済みのロールを返す。
func (g *Guard) Role() Role { return g.role }

// IdentityResolved はIdentity解決の結果を反映する。
// Identityが存在すればROLE_LOADING、存在しなければUNAUTHENTICATEDに遷移する。
// AUTH_LOADING以外の状態で呼ばれた場合は状態を変えない。
func (g *Guard) IdentityResolved(identity *model.User) State {
	if g.state != StateAuthLoading {
		return g.state
	}
	if identity == nil {
		g.state = StateUnauthenticated
		return g.state
	}
	g.identity = identity
	g.state = StateRoleLoading
	return g.state
}

// RoleResolved はロール取得の結果を反映する。
// 取得エラーと未知のロールはWRONG_ROLEになる。AUTHORIZEDに遷移するのは
// 既知のロールが要求ロールに一致した場合のみ。
// ROLE_LOADING以外の状態で呼ばれた場合は状態を変えない。
func (g *Guard) RoleResolved(raw string, err error) State {
	if g.state != StateRoleLoading {
		return g.state
	}
	if err != nil {
		g.role = RoleUnknown
		g.state = StateWrongRole
		return g.state
	}
	g.role = ParseRole(raw)
	if g.allows(g.role) {
		g.state = StateAuthorized
	} else {
		g.state = StateWrongRole
	}
	return g.state
}

// Invalidate は評価中にIdentityが変化したことを反映する。
// 終端状態であっても認可を取り消し、UNAUTHENTICATEDにする。
func (g *Guard) Invalidate() State {
	g.identity = nil
	g.role = RoleUnknown
	g.state = StateUnauthenticated
	return g.state
}

func (g *Guard) allows(role Role) bool {
	if !role.Known() {
		return false
	}
	if len(g.required) == 0 {
		return true
	}
	for _, r := range g.required {
		if r == role {
			return true
		}
	}
	return false
}
