package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

const paymentColumns = `id, booking_id, session_id, student_email, transaction_id, amount_cents, payment_method,
	refund_id, refund_status, refunded_at, created_at`

// PostgresPaymentRepo はPostgreSQLを使用した支払い台帳リポジトリ。
type PostgresPaymentRepo struct {
	db *sql.DB
}

// NewPostgresPaymentRepo はPostgresPaymentRepoを生成する。
func NewPostgresPaymentRepo(db *sql.DB) *PostgresPaymentRepo {
	return &PostgresPaymentRepo{db: db}
}

func scanPayment(row rowScanner) (*model.Payment, error) {
	p := &model.Payment{}
	var (
		bookingID    sql.NullString
		refundID     sql.NullString
		refundStatus sql.NullString
		refundedAt   sql.NullTime
	)
	err := row.Scan(&p.ID, &bookingID, &p.SessionID, &p.StudentEmail, &p.TransactionID,
		&p.AmountCents, &p.PaymentMethod, &refundID, &refundStatus, &refundedAt, &p.CreatedAt)
	if err != nil {
		return nil, err
	}
	p.BookingID = bookingID.String
	p.RefundID = refundID.String
	p.RefundStatus = refundStatus.String
	if refundedAt.Valid {
		t := refundedAt.Time
		p.RefundedAt = &t
	}
	return p, nil
}

// Create は支払いレコードを作成する。同一トランザクションIDの重複はErrDuplicateを返す。
func (r *PostgresPaymentRepo) Create(ctx context.Context, p *model.Payment) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO payments (id, booking_id, session_id, student_email, transaction_id, amount_cents, payment_method, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		p.ID, p.BookingID, p.SessionID, p.StudentEmail, p.TransactionID, p.AmountCents, p.PaymentMethod, p.CreatedAt,
	)
	if isUniqueViolation(err) {
		return ErrDuplicate
	}
	if err != nil {
		return fmt.Errorf("支払いレコードの作成に失敗しました: %w", err)
	}
	return nil
}

// FindByBookingID は予約に紐づく支払いレコードを取得する。見つからない場合はnilを返す。
func (r *PostgresPaymentRepo) FindByBookingID(ctx context.Context, bookingID string) (*model.Payment, error) {
	p, err := scanPayment(r.db.QueryRowContext(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE booking_id = $1
		 ORDER BY created_at DESC LIMIT 1`, bookingID))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("支払いレコードの取得に失敗しました: %w", err)
	}
	return p, nil
}

// MarkRefunded は返金結果を記録する。
func (r *PostgresPaymentRepo) MarkRefunded(ctx context.Context, id, refundID, refundStatus string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE payments SET refund_id = $2, refund_status = $3, refunded_at = $4 WHERE id = $1`,
		id, refundID, refundStatus, at,
	)
	if err != nil {
		return fmt.Errorf("返金結果の記録に失敗しました: %w", err)
	}
	return nil
}

// ListByStudent は学生の支払い履歴を作成日時の降順で返す。
func (r *PostgresPaymentRepo) ListByStudent(ctx context.Context, studentEmail string, page model.PageRequest) ([]*model.Payment, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM payments WHERE student_email = $1`, studentEmail,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("支払い件数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE student_email = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		studentEmail, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("支払い履歴の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	var payments []*model.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("支払いレコードのスキャンに失敗しました: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("支払い履歴の読み取りに失敗しました: %w", err)
	}
	return payments, total, nil
}

// compile-time interface check
var _ PaymentRepository = (*PostgresPaymentRepo)(nil)
