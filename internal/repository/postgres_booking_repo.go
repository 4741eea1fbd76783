package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hitoshi/studydesk/internal/model"
)

const bookingColumns = `id, session_id, student_email, amount_cents, payment_status, payment_method, booked_at`

// PostgresBookingRepo はPostgreSQLを使用した予約リポジトリ。
type PostgresBookingRepo struct {
	db *sql.DB
}

// NewPostgresBookingRepo はPostgresBookingRepoを生成する。
func NewPostgresBookingRepo(db *sql.DB) *PostgresBookingRepo {
	return &PostgresBookingRepo{db: db}
}

func scanBooking(row rowScanner) (*model.Booking, error) {
	b := &model.Booking{}
	err := row.Scan(&b.ID, &b.SessionID, &b.StudentEmail, &b.AmountCents,
		&b.PaymentStatus, &b.PaymentMethod, &b.BookedAt)
	if err != nil {
		return nil, err
	}
	return b, nil
}

// FindByID は指定IDの予約を取得する。見つからない場合はnilを返す。
func (r *PostgresBookingRepo) FindByID(ctx context.Context, id string) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("予約の取得に失敗しました: %w", err)
	}
	return b, nil
}

// Create は学習セッションの受付状態を同一トランザクションで確認して予約を作成する。
// 学習セッション行をFOR UPDATEでロックし、定員判定と挿入の間に他の予約が割り込まないようにする。
func (r *PostgresBookingRepo) Create(ctx context.Context, booking *model.Booking, now time.Time) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// 1. 学習セッションの受付状態を確認
	var (
		status            model.StudySessionStatus
		capacity          int
		registrationStart time.Time
		registrationEnd   time.Time
	)
	err = tx.QueryRowContext(ctx,
		`SELECT status, capacity, registration_start, registration_end
		 FROM study_sessions WHERE id = $1 FOR UPDATE`,
		booking.SessionID,
	).Scan(&status, &capacity, &registrationStart, &registrationEnd)
	if err == sql.ErrNoRows {
		return ErrSessionNotOpen
	}
	if err != nil {
		return fmt.Errorf("学習セッションのロックに失敗しました: %w", err)
	}
	if status != model.StudySessionApproved || now.Before(registrationStart) || now.After(registrationEnd) {
		return ErrSessionNotOpen
	}

	// 2. 定員を確認
	if capacity > 0 {
		var booked int
		if err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM bookings WHERE session_id = $1`, booking.SessionID,
		).Scan(&booked); err != nil {
			return fmt.Errorf("予約数の取得に失敗しました: %w", err)
		}
		if booked >= capacity {
			return ErrSessionFull
		}
	}

	// 3. 予約を作成
	_, err = tx.ExecContext(ctx,
		`INSERT INTO bookings (id, session_id, student_email, amount_cents, payment_status, payment_method, booked_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		booking.ID, booking.SessionID, booking.StudentEmail, booking.AmountCents,
		booking.PaymentStatus, booking.PaymentMethod, booking.BookedAt,
	)
	if isUniqueViolation(err) {
		return ErrAlreadyBooked
	}
	if err != nil {
		return fmt.Errorf("予約の作成に失敗しました: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// MarkCompleted は予約の支払い状態をcompletedにし、支払い方法を記録する。
func (r *PostgresBookingRepo) MarkCompleted(ctx context.Context, id, paymentMethod string) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = $2, payment_method = $3 WHERE id = $1`,
		id, model.PaymentStatusCompleted, paymentMethod,
	)
	if err != nil {
		return fmt.Errorf("予約の支払い状態更新に失敗しました: %w", err)
	}
	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("更新件数の取得に失敗しました: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("booking not found: %s", id)
	}
	return nil
}

// DeleteByID は予約を削除する。支払いレコードのbooking_idはNULLになる。
func (r *PostgresBookingRepo) DeleteByID(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM bookings WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("予約の削除に失敗しました: %w", err)
	}
	return nil
}

// ListByStudent は学生の予約一覧を予約日時の降順で返す。
func (r *PostgresBookingRepo) ListByStudent(ctx context.Context, studentEmail string, page model.PageRequest) ([]*model.Booking, int, error) {
	page = page.Normalize()

	var total int
	if err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM bookings WHERE student_email = $1`, studentEmail,
	).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("予約数の取得に失敗しました: %w", err)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings
		 WHERE student_email = $1
		 ORDER BY booked_at DESC, id
		 LIMIT $2 OFFSET $3`,
		studentEmail, page.Limit, page.Offset(),
	)
	if err != nil {
		return nil, 0, fmt.Errorf("予約一覧の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	bookings, err := collectBookings(rows)
	if err != nil {
		return nil, 0, err
	}
	return bookings, total, nil
}

// ListOrphans はbookedBefore以前に作成され、pendingのまま支払いレコードがない予約を返す。
func (r *PostgresBookingRepo) ListOrphans(ctx context.Context, bookedBefore time.Time, limit int) ([]*model.Booking, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT b.id, b.session_id, b.student_email, b.amount_cents, b.payment_status, b.payment_method, b.booked_at
		 FROM bookings b
		 WHERE b.payment_status = 'pending'
		   AND b.booked_at < $1
		   AND NOT EXISTS (SELECT 1 FROM payments p WHERE p.booking_id = b.id)
		 ORDER BY b.booked_at
		 LIMIT $2`,
		bookedBefore, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("孤立した予約の取得に失敗しました: %w", err)
	}
	defer rows.Close()

	return collectBookings(rows)
}

func collectBookings(rows *sql.Rows) ([]*model.Booking, error) {
	var bookings []*model.Booking
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, fmt.Errorf("予約のスキャンに失敗しました: %w", err)
		}
		bookings = append(bookings, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("予約一覧の読み取りに失敗しました: %w", err)
	}
	return bookings, nil
}

// compile-time interface check
var _ BookingRepository = (*PostgresBookingRepo)(nil)
