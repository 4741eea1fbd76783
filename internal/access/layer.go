package access

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/hitoshi/studydesk/internal/middleware"
	"github.com/hitoshi/studydesk/internal/model"
)

const (
	// DefaultSignInPath は未認証時のリダイレクト先。
	DefaultSignInPath = "/signin"
	// DefaultForbiddenPath はロール不一致時のリダイレクト先。
	DefaultForbiddenPath = "/forbidden"

	// 評価中にIdentityが変化した場合に評価をやり直す上限回数
	maxEvaluationAttempts = 2
)

// IdentityResolver はリクエストから認証済みIdentityを解決するインターフェース。
// 未認証の場合はnil, nilを返す。
type IdentityResolver interface {
	ResolveIdentity(r *http.Request) (*model.User, error)
}

// RoleFetcher はメールアドレスをキーにバックエンドのロールを取得するインターフェース。
// ユーザーが存在しない場合は空文字を返す。
type RoleFetcher interface {
	FetchRole(ctx context.Context, email string) (string, error)
}

// IdentityNotifier はIdentity変更通知の購読インターフェース。
// 戻り値の関数で購読を解除する。
type IdentityNotifier interface {
	Subscribe(fn func(model.IdentityEvent)) (unsubscribe func())
}

// DecisionRecorder はガード評価の結果を記録するインターフェース。
type DecisionRecorder interface {
	RecordGuardDecision(state string)
}

// Decision はガード評価の結果。
type Decision struct {
	State    State
	Identity *model.User
	Role     Role
}

// LayerConfig はLayerの設定。
type LayerConfig struct {
	SignInPath    string
	ForbiddenPath string
	Recorder      DecisionRecorder
}

// Layer はセッション・ロール解決の明示的なコンテキストオブジェクト。
// Initで認証サービスのIdentity変更通知を購読し、Teardownで解除する。
// ロールはキャッシュせず、評価のたびに取得し直す。
type Layer struct {
	identities    IdentityResolver
	roles         RoleFetcher
	notifier      IdentityNotifier
	recorder      DecisionRecorder
	signInPath    string
	forbiddenPath string

	mu          sync.Mutex
	initialized bool
	unsubscribe func()
	// inflight は評価中のユーザーごとの世代。評価が残っていないユーザーのエントリは削除する。
	inflight map[string]*evaluationTracker
}

// evaluationTracker はユーザーごとの評価中の件数とIdentity変更の世代を保持する。
type evaluationTracker struct {
	gen   uint64
	count int
}

// NewLayer はLayerを生成する。利用前にInitを呼び出す必要がある。
func NewLayer(identities IdentityResolver, roles RoleFetcher, notifier IdentityNotifier, cfg LayerConfig) *Layer {
	if cfg.SignInPath == "" {
		cfg.SignInPath = DefaultSignInPath
	}
	if cfg.ForbiddenPath == "" {
		cfg.ForbiddenPath = DefaultForbiddenPath
	}
	return &Layer{
		identities:    identities,
		roles:         roles,
		notifier:      notifier,
		recorder:      cfg.Recorder,
		signInPath:    cfg.SignInPath,
		forbiddenPath: cfg.ForbiddenPath,
		inflight:      make(map[string]*evaluationTracker),
	}
}

// Init はIdentity変更通知の購読を開始する。
func (l *Layer) Init() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.initialized {
		return errors.New("access layer already initialized")
	}
	if l.notifier == nil {
		return errors.New("identity notifier is required")
	}
	l.unsubscribe = l.notifier.Subscribe(l.handleIdentityEvent)
	l.initialized = true
	return nil
}

// Teardown は購読を解除する。Teardown後の評価はすべてUNAUTHENTICATEDになる。
func (l *Layer) Teardown() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.unsubscribe != nil {
		l.unsubscribe()
		l.unsubscribe = nil
	}
	l.initialized = false
	l.inflight = make(map[string]*evaluationTracker)
}

// handleIdentityEvent は評価中のユーザーの世代だけを進める。
// 評価中でなければ次の評価が最新の状態を読むため、記録は不要。
func (l *Layer) handleIdentityEvent(ev model.IdentityEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.inflight[ev.UserID]; ok {
		t.gen++
	}
}

// beginEvaluation は評価の開始を登録し、開始時点の世代を返す。
func (l *Layer) beginEvaluation(userID string) (uint64, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.initialized {
		return 0, false
	}
	t, ok := l.inflight[userID]
	if !ok {
		t = &evaluationTracker{}
		l.inflight[userID] = t
	}
	t.count++
	return t.gen, true
}

// endEvaluation は評価の終了を登録し、開始時点から世代が変わっていなければtrueを返す。
func (l *Layer) endEvaluation(userID string, gen uint64) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	t, ok := l.inflight[userID]
	if !ok {
		// Teardownで破棄された
		return false
	}
	t.count--
	if t.count <= 0 {
		delete(l.inflight, userID)
	}
	return l.initialized && t.gen == gen
}

// Evaluate はリクエストに対してガードを評価する。
// requiredが空の場合は既知のロールであれば認可する。
func (l *Layer) Evaluate(r *http.Request, required ...Role) Decision {
	for attempt := 0; attempt < maxEvaluationAttempts; attempt++ {
		g := NewGuard(required...)

		// 1. Identityを解決する
		identity, err := l.identities.ResolveIdentity(r)
		if err != nil {
			slog.Warn("identity resolution failed",
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			identity = nil
		}
		if g.IdentityResolved(identity) == StateUnauthenticated {
			return l.decide(g)
		}

		gen, ok := l.beginEvaluation(identity.ID)
		if !ok {
			slog.Error("access layer used before Init or after Teardown")
			g.Invalidate()
			return l.decide(g)
		}

		// 2. ロールを毎回取得する
		raw, err := l.roles.FetchRole(r.Context(), identity.Email)
		if err != nil {
			slog.Warn("role fetch failed",
				slog.String("user_id", identity.ID),
				slog.String("error", err.Error()),
			)
		}
		g.RoleResolved(raw, err)

		// 3. 評価中にIdentityが変化していなければ確定する
		if l.endEvaluation(identity.ID, gen) {
			return l.decide(g)
		}
		slog.Info("identity changed during guard evaluation",
			slog.String("user_id", identity.ID),
			slog.Int("attempt", attempt+1),
		)
	}

	g := NewGuard(required...)
	g.Invalidate()
	return l.decide(g)
}

func (l *Layer) decide(g *Guard) Decision {
	d := Decision{State: g.State(), Identity: g.Identity(), Role: g.Role()}
	if l.recorder != nil {
		l.recorder.RecordGuardDecision(d.State.String())
	}
	return d
}

// RequirePage はページ用のガードミドルウェアを返す。
// 未認証はサインイン、ロール不一致は禁止ページへ元のパスを付けてリダイレクトする。
func (l *Layer) RequirePage(roles ...Role) func(http.Handler) http.Handler {
	return l.require(roles, func(w http.ResponseWriter, r *http.Request, state State) {
		target := l.forbiddenPath
		if state == StateUnauthenticated {
			target = l.signInPath
		}
		http.Redirect(w, r, redirectWithFrom(target, r), http.StatusFound)
	})
}

// RequireAPI はAPI用のガードミドルウェアを返す。
// 未認証は401、ロール不一致は403を統一エラーフォーマットで返す。
func (l *Layer) RequireAPI(roles ...Role) func(http.Handler) http.Handler {
	return l.require(roles, func(w http.ResponseWriter, r *http.Request, state State) {
		if state == StateUnauthenticated {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewUnauthorizedError())
			return
		}
		middleware.WriteErrorResponse(w, http.StatusForbidden, model.NewForbiddenError())
	})
}

func (l *Layer) require(roles []Role, deny func(http.ResponseWriter, *http.Request, State)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := l.Evaluate(r, roles...)
			if d.State != StateAuthorized {
				deny(w, r, d.State)
				return
			}
			ctx := ContextWithDecision(r.Context(), d)
			ctx = middleware.ContextWithUserID(ctx, d.Identity.ID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// DashboardRedirect は解決済みロールのダッシュボードへリダイレクトする。
// RequirePageを通過したリクエストで使用する。
func (l *Layer) DashboardRedirect(w http.ResponseWriter, r *http.Request) {
	d, ok := DecisionFromContext(r.Context())
	if !ok {
		http.Redirect(w, r, redirectWithFrom(l.signInPath, r), http.StatusFound)
		return
	}
	path, ok := d.Role.DashboardPath()
	if !ok {
		http.Redirect(w, r, redirectWithFrom(l.forbiddenPath, r), http.StatusFound)
		return
	}
	http.Redirect(w, r, path, http.StatusFound)
}

func redirectWithFrom(target string, r *http.Request) string {
	return target + "?from=" + url.QueryEscape(r.URL.RequestURI())
}

type decisionContextKey struct{}

// ContextWithDecision はコンテキストにガード評価結果を注入する。
func ContextWithDecision(ctx context.Context, d Decision) context.Context {
	return context.WithValue(ctx, decisionContextKey{}, d)
}

// DecisionFromContext はコンテキストからAUTHORIZEDのガード評価結果を取得する。
func DecisionFromContext(ctx context.Context) (Decision, bool) {
	d, ok := ctx.Value(decisionContextKey{}).(Decision)
	if !ok || d.State != StateAuthorized || d.Identity == nil {
		return Decision{}, false
	}
	return d, true
}
