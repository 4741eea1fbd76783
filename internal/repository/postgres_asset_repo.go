package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

// PostgresAssetRepo はPostgreSQLを使用した資産リポジトリ。
type PostgresAssetRepo struct {
	db *sql.DB
}

// NewPostgresAssetRepo はPostgresAssetRepoを生成する。
func NewPostgresAssetRepo(db *sql.DB) *PostgresAssetRepo {
	return &PostgresAssetRepo{db: db}
}

const assetColumns = `id, name, kind, quantity, returnable, created_by, created_at, updated_at`

func scanAsset(row rowScanner) (*model.Asset, error) {
	a := &model.Asset{}
	if err := row.Scan(&a.ID, &a.Name, &a.Kind, &a.Quantity, &a.Returnable,
		&a.CreatedBy, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	return a, nil
}

// FindByID は指定IDの資産を取得する。見つからない場合はnilを返す。
func (r *PostgresAssetRepo) FindByID(ctx context.Context, id string) (*model.Asset, error) {
	a, err := scanAsset(r.db.QueryRowContext(ctx,
		`SELECT `+assetColumns+` FROM assets WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("資産の取得に失敗しました: %w", err)
	}
	return a, nil
}

// Create は資産を作成する。
func (r *PostgresAssetRepo) Create(ctx context.Context, a *model.Asset) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO assets (id, name, kind, quantity, returnable, created_by, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		a.ID, a.Name, a.Kind, a.Quantity, a.Returnable, a.CreatedBy, a.CreatedAt, a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("資産の作成に失敗しました: %w", err)
	}
	return nil
}

// List は資産一覧を名前順で返す。availableOnlyがtrueの場合は在庫のあるもののみ。
func (r *PostgresAssetRepo) List(ctx context.Context, availableOnly bool, page model.PageRequest) ([]*model.Asset, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM assets WHERE (NOT $1 OR quantity > 0)`, availableOnly,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("資産数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+assetColumns+` FROM assets
		 WHERE (NOT $1 OR quantity > 0)
		 ORDER BY name, id
		 LIMIT $2 OFFSET $3`,
		availableOnly, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("資産一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var assets []*model.Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("資産のスキャンに失敗しました: %w", err)
		}
		assets = append(assets, a)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("資産一覧の読み取りに失敗しました: %w", err)
	}
	return assets, total, nil
}

// PostgresAssetRequestRepo はPostgreSQLを使用した資産申請リポジトリ。
type PostgresAssetRequestRepo struct {
	db *sql.DB
}

// NewPostgresAssetRequestRepo はPostgresAssetRequestRepoを生成する。
func NewPostgresAssetRequestRepo(db *sql.DB) *PostgresAssetRequestRepo {
	return &PostgresAssetRequestRepo{db: db}
}

const assetRequestSelect = `SELECT r.id, r.asset_id, a.name, r.requester_email, r.requester_name, r.quantity,
	r.note, r.status, r.requested_at, r.decided_at, r.returned_at
	FROM asset_requests r JOIN assets a ON a.id = r.asset_id`

func scanAssetRequest(row rowScanner) (*model.AssetRequest, error) {
	req := &model.AssetRequest{}
	var decidedAt, returnedAt sql.NullTime
	if err := row.Scan(&req.ID, &req.AssetID, &req.AssetName, &req.RequesterEmail, &req.RequesterName,
		&req.Quantity, &req.Note, &req.Status, &req.RequestedAt, &decidedAt, &returnedAt); err != nil {
		return nil, err
	}
	if decidedAt.Valid {
		t := decidedAt.Time
		req.DecidedAt = &t
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		req.ReturnedAt = &t
	}
	return req, nil
}

// FindByID は指定IDの申請を取得する。見つからない場合はnilを返す。
func (r *PostgresAssetRequestRepo) FindByID(ctx context.Context, id string) (*model.AssetRequest, error) {
	req, err := scanAssetRequest(r.db.QueryRowContext(ctx, assetRequestSelect+` WHERE r.id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("資産申請の取得に失敗しました: %w", err)
	}
	return req, nil
}

// Create は申請を作成する。
func (r *PostgresAssetRequestRepo) Create(ctx context.Context, req *model.AssetRequest) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO asset_requests (id, asset_id, requester_email, requester_name, quantity, note, status, requested_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		req.ID, req.AssetID, req.RequesterEmail, req.RequesterName, req.Quantity, req.Note, req.Status, req.RequestedAt,
	)
	if err != nil {
		return fmt.Errorf("資産申請の作成に失敗しました: %w", err)
	}
	return nil
}

// Approve はpendingの申請を承認し、同一トランザクションで在庫を減らす。
func (r *PostgresAssetRequestRepo) Approve(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.AssetRequestPending, model.AssetRequestApproved, -1, "decided_at", at)
}

// Reject はpendingの申請を却下する。
func (r *PostgresAssetRequestRepo) Reject(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.AssetRequestPending, model.AssetRequestRejected, 0, "decided_at", at)
}

// MarkReturned はapprovedの申請を返却済みにし、同一トランザクションで在庫を戻す。
func (r *PostgresAssetRequestRepo) MarkReturned(ctx context.Context, id string, at time.Time) error {
	return r.transition(ctx, id, model.AssetRequestApproved, model.AssetRequestReturned, 1, "returned_at", at)
}

// transition は申請の状態遷移と在庫の増減を1トランザクションで行う。
// stockSignが-1なら申請数量を在庫から引き、1なら戻す。0なら在庫は変更しない。
func (r *PostgresAssetRequestRepo) transition(ctx context.Context, id string, from, to model.AssetRequestStatus, stockSign int, timestampColumn string, at time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 申請をロックして状態を確認
	var (
		assetID  string
		quantity int
		status   model.AssetRequestStatus
	)
	err = tx.QueryRowContext(ctx,
		`SELECT asset_id, quantity, status FROM asset_requests WHERE id = $1 FOR UPDATE`, id,
	).Scan(&assetID, &quantity, &status)
	if err == sql.ErrNoRows {
		return ErrStateConflict
	}
	if err != nil {
		return fmt.Errorf("資産申請のロックに失敗しました: %w", err)
	}
	if status != from {
		return ErrStateConflict
	}

	// 2. 在庫を増減
	if stockSign != 0 {
		var stock int
		if err := tx.QueryRowContext(ctx,
			`SELECT quantity FROM assets WHERE id = $1 FOR UPDATE`, assetID,
		).Scan(&stock); err != nil {
			return fmt.Errorf("資産のロックに失敗しました: %w", err)
		}
		next := stock + stockSign*quantity
		if next < 0 {
			return ErrInsufficientStock
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE assets SET quantity = $2, updated_at = $3 WHERE id = $1`, assetID, next, at,
		); err != nil {
			return fmt.Errorf("在庫の更新に失敗しました: %w", err)
		}
	}

	// 3. 申請の状態を更新
	if _, err := tx.ExecContext(ctx,
		`UPDATE asset_requests SET status = $2, `+timestampColumn+` = $3 WHERE id = $1`, id, to, at,
	); err != nil {
		return fmt.Errorf("資産申請の状態更新に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListByRequester は申請者の申請一覧を申請日時の降順で返す。
func (r *PostgresAssetRequestRepo) ListByRequester(ctx context.Context, email string, page model.PageRequest) ([]*model.AssetRequest, int, error) {
	return r.list(ctx, `r.requester_email = $1`, email, page)
}

// ListByStatus は指定状態の申請一覧を返す。statusが空の場合は全件。
func (r *PostgresAssetRequestRepo) ListByStatus(ctx context.Context, status model.AssetRequestStatus, page model.PageRequest) ([]*model.AssetRequest, int, error) {
	return r.list(ctx, `($1::text = '' OR r.status = $1)`, string(status), page)
}

func (r *PostgresAssetRequestRepo) list(ctx context.Context, where, arg string, page model.PageRequest) ([]*model.AssetRequest, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM asset_requests r WHERE `+where, arg,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("資産申請数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		assetRequestSelect+` WHERE `+where+`
		 ORDER BY r.requested_at DESC, r.id
		 LIMIT $2 OFFSET $3`,
		arg, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("資産申請一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var reqs []*model.AssetRequest
	for rows.Next() {
		req, err := scanAssetRequest(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("資産申請のスキャンに失敗しました: %w", err)
		}
		reqs = append(reqs, req)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("資産申請一覧の読み取りに失敗しました: %w", err)
	}
	return reqs, total, nil
}

// compile-time interface check
var (
	_ AssetRepository        = (*PostgresAssetRepo)(nil)
	_ AssetRequestRepository = (*PostgresAssetRequestRepo)(nil)
)
