package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/studydesk/internal/model"
)

const studySessionColumns = `id, tutor_email, tutor_name, title, description, image_url, fee_cents, capacity,
	registration_start, registration_end, class_start, class_end, status, rejection_reason, created_at, updated_at`

// PostgresStudySessionRepo はPostgreSQLを使用した学習セッションリポジトリ。
type PostgresStudySessionRepo struct {
	db *sql.DB
}

// NewPostgresStudySessionRepo はPostgresStudySessionRepoを生成する。
func NewPostgresStudySessionRepo(db *sql.DB) *PostgresStudySessionRepo {
	return &PostgresStudySessionRepo{db: db}
}

func scanStudySession(row rowScanner) (*model.StudySession, error) {
	s := &model.StudySession{}
	err := row.Scan(&s.ID, &s.TutorEmail, &s.TutorName, &s.Title, &s.Description, &s.ImageURL,
		&s.FeeCents, &s.Capacity, &s.RegistrationStart, &s.RegistrationEnd, &s.ClassStart, &s.ClassEnd,
		&s.Status, &s.RejectionReason, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// FindByID は指定IDの学習セッションを取得する。見つからない場合はnilを返す。
func (r *PostgresStudySessionRepo) FindByID(ctx context.Context, id string) (*model.StudySession, error) {
	s, err := scanStudySession(r.db.QueryRowContext(ctx,
		`SELECT `+studySessionColumns+` FROM study_sessions WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("学習セッションの取得に失敗しました: %w", err)
	}
	return s, nil
}

// Create は学習セッションを作成する。
func (r *PostgresStudySessionRepo) Create(ctx context.Context, s *model.StudySession) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO study_sessions (id, tutor_email, tutor_name, title, description, image_url, fee_cents, capacity,
			registration_start, registration_end, class_start, class_end, status, rejection_reason, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`,
		s.ID, s.TutorEmail, s.TutorName, s.Title, s.Description, s.ImageURL, s.FeeCents, s.Capacity,
		s.RegistrationStart, s.RegistrationEnd, s.ClassStart, s.ClassEnd, s.Status, s.RejectionReason,
		s.CreatedAt, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("学習セッションの作成に失敗しました: %w", err)
	}
	return nil
}

// UpdateFee は料金を更新する。既存の予約金額には影響しない。
func (r *PostgresStudySessionRepo) UpdateFee(ctx context.Context, id string, feeCents int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE study_sessions SET fee_cents = $2, updated_at = now() WHERE id = $1`,
		id, feeCents,
	)
	if err != nil {
		return fmt.Errorf("学習セッションの料金更新に失敗しました: %w", err)
	}
	return nil
}

// UpdateStatus は状態を更新する。fromと現在の状態が一致しない場合はErrStateConflictを返す。
func (r *PostgresStudySessionRepo) UpdateStatus(ctx context.Context, id string, from, to model.StudySessionStatus, reason string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE study_sessions
		 SET status = $3, rejection_reason = $4, updated_at = now()
		 WHERE id = $1 AND status = $2`,
		id, from, to, reason,
	)
	if err != nil {
		return fmt.Errorf("学習セッションの状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return ErrStateConflict
	}
	return nil
}

// ListByStatus は指定状態の学習セッションを授業開始日時の昇順で返す。
func (r *PostgresStudySessionRepo) ListByStatus(ctx context.Context, status model.StudySessionStatus, page model.PageRequest) ([]*model.StudySession, int, error) {
	return r.list(ctx, `status = $1`, `class_start ASC, id`, string(status), page)
}

// ListByTutor はチューターの学習セッションを作成日時の降順で返す。
func (r *PostgresStudySessionRepo) ListByTutor(ctx context.Context, tutorEmail string, page model.PageRequest) ([]*model.StudySession, int, error) {
	return r.list(ctx, `tutor_email = $1`, `created_at DESC, id`, tutorEmail, page)
}

func (r *PostgresStudySessionRepo) list(ctx context.Context, where, orderBy, arg string, page model.PageRequest) ([]*model.StudySession, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM study_sessions WHERE `+where, arg,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("学習セッション数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+studySessionColumns+` FROM study_sessions
		 WHERE `+where+`
		 ORDER BY `+orderBy+`
		 LIMIT $2 OFFSET $3`,
		arg, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("学習セッション一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var sessions []*model.StudySession
	for rows.Next() {
		s, err := scanStudySession(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("学習セッションのスキャンに失敗しました: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("学習セッション一覧の読み取りに失敗しました: %w", err)
	}
	return sessions, total, nil
}

// compile-time interface check
var _ StudySessionRepository = (*PostgresStudySessionRepo)(nil)
