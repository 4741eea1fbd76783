package repository

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/hitoshi/studydesk/internal/database"
	"github.com/hitoshi/studydesk/internal/model"
)

// setupIntegrationDB はマイグレーション済みのテスト用DBを返す。
// TEST_DATABASE_URLが未設定またはDBに接続できない場合はスキップする。
func setupIntegrationDB(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := os.Getenv("TEST_DATABASE_URL")
	if dbURL == "" {
		t.Skip("TEST_DATABASE_URL が未設定のためスキップ")
	}

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Fatalf("データベースへの接続に失敗: %v", err)
	}
	if err := db.Ping(); err != nil {
		t.Skipf("テスト用データベースに接続できません（スキップ）: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`
		DROP TABLE IF EXISTS asset_requests, assets, payments, bookings, study_sessions, sessions, users, schema_migrations CASCADE;
	`)
	if err != nil {
		t.Fatalf("クリーンアップに失敗: %v", err)
	}
	if err := database.RunMigrations(dbURL); err != nil {
		t.Fatalf("マイグレーション実行に失敗: %v", err)
	}
	return db
}

func newOpenSession(t *testing.T, repo *PostgresStudySessionRepo, capacity int, now time.Time) *model.StudySession {
	t.Helper()
	s := &model.StudySession{
		ID:                uuid.New().String(),
		TutorEmail:        "tutor@example.com",
		TutorName:         "Tutor",
		Title:             "Go入門",
		FeeCents:          2500,
		Capacity:          capacity,
		RegistrationStart: now.Add(-time.Hour),
		RegistrationEnd:   now.Add(24 * time.Hour),
		ClassStart:        now.Add(48 * time.Hour),
		ClassEnd:          now.Add(50 * time.Hour),
		Status:            model.StudySessionPending,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	ctx := context.Background()
	if err := repo.Create(ctx, s); err != nil {
		t.Fatalf("学習セッション作成に失敗: %v", err)
	}
	if err := repo.UpdateStatus(ctx, s.ID, model.StudySessionPending, model.StudySessionApproved, ""); err != nil {
		t.Fatalf("承認に失敗: %v", err)
	}
	s.Status = model.StudySessionApproved
	return s
}

func newBooking(sessionID, email string, amount int64, now time.Time) *model.Booking {
	return &model.Booking{
		ID:            uuid.New().String(),
		SessionID:     sessionID,
		StudentEmail:  email,
		AmountCents:   amount,
		PaymentStatus: model.PaymentStatusPending,
		BookedAt:      now,
	}
}

func TestPostgresUserRepo_Integration(t *testing.T) {
	db := setupIntegrationDB(t)
	repo := NewPostgresUserRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	user := &model.User{
		ID:         uuid.New().String(),
		ExternalID: "ext-1",
		Email:      "student@example.com",
		Role:       "student",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := repo.Create(ctx, user); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	dup := *user
	dup.ID = uuid.New().String()
	dup.ExternalID = "ext-2"
	if err := repo.Create(ctx, &dup); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate email error = %v, want ErrDuplicate", err)
	}

	role, err := repo.FindRoleByEmail(ctx, "student@example.com")
	if err != nil || role != "student" {
		t.Errorf("FindRoleByEmail = (%q, %v), want (student, nil)", role, err)
	}
	role, err = repo.FindRoleByEmail(ctx, "nobody@example.com")
	if err != nil || role != "" {
		t.Errorf("FindRoleByEmail(unknown) = (%q, %v), want (\"\", nil)", role, err)
	}

	if err := repo.UpdateRole(ctx, user.ID, "tutor"); err != nil {
		t.Fatalf("UpdateRole failed: %v", err)
	}
	got, err := repo.FindByExternalID(ctx, "ext-1")
	if err != nil || got == nil {
		t.Fatalf("FindByExternalID = (%v, %v)", got, err)
	}
	if got.Role != "tutor" {
		t.Errorf("role = %q, want tutor", got.Role)
	}

	users, total, err := repo.List(ctx, "tutor", model.PageRequest{Page: 1, Limit: 10})
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if total != 1 || len(users) != 1 {
		t.Errorf("List = %d items (total %d), want 1", len(users), total)
	}
}

func TestPostgresBookingRepo_Create_Conditions(t *testing.T) {
	db := setupIntegrationDB(t)
	sessions := NewPostgresStudySessionRepo(db)
	bookings := NewPostgresBookingRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newOpenSession(t, sessions, 1, now)

	if err := bookings.Create(ctx, newBooking(s.ID, "a@example.com", 2500, now), now); err != nil {
		t.Fatalf("first booking failed: %v", err)
	}

	t.Run("同じ学生の二重予約", func(t *testing.T) {
		err := bookings.Create(ctx, newBooking(s.ID, "a@example.com", 2500, now), now)
		// 定員1のため定員判定が先に働く
		if !errors.Is(err, ErrSessionFull) && !errors.Is(err, ErrAlreadyBooked) {
			t.Errorf("err = %v, want ErrSessionFull or ErrAlreadyBooked", err)
		}
	})

	t.Run("定員超過", func(t *testing.T) {
		err := bookings.Create(ctx, newBooking(s.ID, "b@example.com", 2500, now), now)
		if !errors.Is(err, ErrSessionFull) {
			t.Errorf("err = %v, want ErrSessionFull", err)
		}
	})

	t.Run("登録期間外", func(t *testing.T) {
		open := newOpenSession(t, sessions, 0, now)
		err := bookings.Create(ctx, newBooking(open.ID, "c@example.com", 2500, now), now.Add(25*time.Hour))
		if !errors.Is(err, ErrSessionNotOpen) {
			t.Errorf("err = %v, want ErrSessionNotOpen", err)
		}
	})

	t.Run("予約済み", func(t *testing.T) {
		open := newOpenSession(t, sessions, 0, now)
		if err := bookings.Create(ctx, newBooking(open.ID, "d@example.com", 0, now), now); err != nil {
			t.Fatalf("booking failed: %v", err)
		}
		err := bookings.Create(ctx, newBooking(open.ID, "d@example.com", 0, now), now)
		if !errors.Is(err, ErrAlreadyBooked) {
			t.Errorf("err = %v, want ErrAlreadyBooked", err)
		}
	})
}

// 料金変更後も予約金額が変わらず、予約削除後も支払い台帳が残ることを検証
func TestPostgresBookingAndPayment_Ledger(t *testing.T) {
	db := setupIntegrationDB(t)
	sessions := NewPostgresStudySessionRepo(db)
	bookings := NewPostgresBookingRepo(db)
	payments := NewPostgresPaymentRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newOpenSession(t, sessions, 0, now)
	b := newBooking(s.ID, "a@example.com", 2500, now)
	if err := bookings.Create(ctx, b, now); err != nil {
		t.Fatalf("booking failed: %v", err)
	}

	p := &model.Payment{
		ID:            uuid.New().String(),
		BookingID:     b.ID,
		SessionID:     s.ID,
		StudentEmail:  "a@example.com",
		TransactionID: "pi_123",
		AmountCents:   2500,
		PaymentMethod: "card",
		CreatedAt:     now,
	}
	if err := payments.Create(ctx, p); err != nil {
		t.Fatalf("payment failed: %v", err)
	}
	if err := bookings.MarkCompleted(ctx, b.ID, "card"); err != nil {
		t.Fatalf("MarkCompleted failed: %v", err)
	}

	if err := sessions.UpdateFee(ctx, s.ID, 9900); err != nil {
		t.Fatalf("UpdateFee failed: %v", err)
	}
	got, err := bookings.FindByID(ctx, b.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = (%v, %v)", got, err)
	}
	if got.AmountCents != 2500 {
		t.Errorf("amount = %d, want 2500", got.AmountCents)
	}
	if got.PaymentStatus != model.PaymentStatusCompleted {
		t.Errorf("payment_status = %q, want completed", got.PaymentStatus)
	}

	if err := payments.MarkRefunded(ctx, p.ID, "re_1", "succeeded", now); err != nil {
		t.Fatalf("MarkRefunded failed: %v", err)
	}
	if err := bookings.DeleteByID(ctx, b.ID); err != nil {
		t.Fatalf("DeleteByID failed: %v", err)
	}

	history, total, err := payments.ListByStudent(ctx, "a@example.com", model.PageRequest{})
	if err != nil {
		t.Fatalf("ListByStudent failed: %v", err)
	}
	if total != 1 || len(history) != 1 {
		t.Fatalf("history = %d (total %d), want 1", len(history), total)
	}
	if history[0].BookingID != "" {
		t.Errorf("booking_id = %q, want empty after delete", history[0].BookingID)
	}
	if history[0].RefundID != "re_1" || history[0].RefundedAt == nil {
		t.Errorf("refund = (%q, %v), want (re_1, non-nil)", history[0].RefundID, history[0].RefundedAt)
	}
}

func TestPostgresBookingRepo_ListOrphans(t *testing.T) {
	db := setupIntegrationDB(t)
	sessions := NewPostgresStudySessionRepo(db)
	bookings := NewPostgresBookingRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	s := newOpenSession(t, sessions, 0, now)
	old := newBooking(s.ID, "old@example.com", 2500, now.Add(-2*time.Hour))
	fresh := newBooking(s.ID, "fresh@example.com", 2500, now)
	for _, b := range []*model.Booking{old, fresh} {
		if err := bookings.Create(ctx, b, now); err != nil {
			t.Fatalf("booking failed: %v", err)
		}
	}

	orphans, err := bookings.ListOrphans(ctx, now.Add(-time.Hour), 10)
	if err != nil {
		t.Fatalf("ListOrphans failed: %v", err)
	}
	if len(orphans) != 1 || orphans[0].ID != old.ID {
		t.Errorf("orphans = %v, want only %s", orphans, old.ID)
	}
}

func TestPostgresAssetRequestRepo_StockTransitions(t *testing.T) {
	db := setupIntegrationDB(t)
	assets := NewPostgresAssetRepo(db)
	requests := NewPostgresAssetRequestRepo(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	asset := &model.Asset{
		ID:         uuid.New().String(),
		Name:       "Laptop",
		Kind:       "device",
		Quantity:   2,
		Returnable: true,
		CreatedBy:  "hr@example.com",
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := assets.Create(ctx, asset); err != nil {
		t.Fatalf("asset create failed: %v", err)
	}

	newRequest := func(qty int) *model.AssetRequest {
		req := &model.AssetRequest{
			ID:             uuid.New().String(),
			AssetID:        asset.ID,
			RequesterEmail: "emp@example.com",
			Quantity:       qty,
			Status:         model.AssetRequestPending,
			RequestedAt:    now,
		}
		if err := requests.Create(ctx, req); err != nil {
			t.Fatalf("request create failed: %v", err)
		}
		return req
	}

	first := newRequest(2)
	if err := requests.Approve(ctx, first.ID, now); err != nil {
		t.Fatalf("Approve failed: %v", err)
	}
	if a, _ := assets.FindByID(ctx, asset.ID); a.Quantity != 0 {
		t.Errorf("quantity after approve = %d, want 0", a.Quantity)
	}

	second := newRequest(1)
	if err := requests.Approve(ctx, second.ID, now); !errors.Is(err, ErrInsufficientStock) {
		t.Errorf("Approve without stock err = %v, want ErrInsufficientStock", err)
	}

	if err := requests.Approve(ctx, first.ID, now); !errors.Is(err, ErrStateConflict) {
		t.Errorf("double approve err = %v, want ErrStateConflict", err)
	}

	if err := requests.MarkReturned(ctx, first.ID, now); err != nil {
		t.Fatalf("MarkReturned failed: %v", err)
	}
	if a, _ := assets.FindByID(ctx, asset.ID); a.Quantity != 2 {
		t.Errorf("quantity after return = %d, want 2", a.Quantity)
	}

	got, err := requests.FindByID(ctx, first.ID)
	if err != nil || got == nil {
		t.Fatalf("FindByID = (%v, %v)", got, err)
	}
	if got.Status != model.AssetRequestReturned || got.ReturnedAt == nil || got.DecidedAt == nil {
		t.Errorf("request = %+v, want returned with timestamps", got)
	}
	if got.AssetName != "Laptop" {
		t.Errorf("asset name = %q, want Laptop", got.AssetName)
	}
}
