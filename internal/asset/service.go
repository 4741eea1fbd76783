// Package asset は会社資産の登録・申請・承認・返却のドメインロジックを提供する。
package asset

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/studydesk/internal/model"
	"github.com/hitoshi/studydesk/internal/repository"
)

const (
	maxNameLength = 255
	maxNoteLength = 1000
)

// Actor は操作者の情報。
type Actor struct {
	Email string
	Name  string
}

// CreateInput は資産登録の入力。
type CreateInput struct {
	Name       string
	Kind       string
	Quantity   int
	Returnable bool
}

// Service は資産管理のサービス層。
type Service struct {
	assets   repository.AssetRepository
	requests repository.AssetRequestRepository
	now      func() time.Time
}

// NewService はServiceを生成する。nowがnilの場合はtime.Nowを使う。
func NewService(assets repository.AssetRepository, requests repository.AssetRequestRepository, now func() time.Time) *Service {
	if now == nil {
		now = time.Now
	}
	return &Service{assets: assets, requests: requests, now: now}
}

// Create はHRが資産を登録する。
func (s *Service) Create(ctx context.Context, hr Actor, in CreateInput) (*model.Asset, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, model.NewInvalidRequestError("資産名は必須です")
	}
	if utf8.RuneCountInString(name) > maxNameLength {
		return nil, model.NewInvalidRequestError("資産名が長すぎます")
	}
	if in.Quantity < 0 {
		return nil, model.NewInvalidRequestError("数量は0以上で指定してください")
	}

	now := s.now()
	a := &model.Asset{
		ID:         uuid.New().String(),
		Name:       name,
		Kind:       strings.TrimSpace(in.Kind),
		Quantity:   in.Quantity,
		Returnable: in.Returnable,
		CreatedBy:  hr.Email,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.assets.Create(ctx, a); err != nil {
		return nil, fmt.Errorf("資産の登録に失敗しました: %w", err)
	}

	slog.Info("資産を登録しました",
		slog.String("asset_id", a.ID),
		slog.Int("quantity", a.Quantity),
	)
	return a, nil
}

// List は資産一覧を返す。availableOnlyがtrueの場合は在庫のあるもののみ。
func (s *Service) List(ctx context.Context, availableOnly bool, page model.PageRequest) (model.Page[*model.Asset], error) {
	items, total, err := s.assets.List(ctx, availableOnly, page)
	if err != nil {
		return model.Page[*model.Asset]{}, fmt.Errorf("資産一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// Request は社員が資産を申請する。申請時点で在庫を超える数量は受け付けない。
// 在庫の確定は承認時に行う。
func (s *Service) Request(ctx context.Context, employee Actor, assetID string, quantity int, note string) (*model.AssetRequest, error) {
	if quantity < 1 {
		return nil, model.NewInvalidRequestError("数量は1以上で指定してください")
	}
	note = strings.TrimSpace(note)
	if utf8.RuneCountInString(note) > maxNoteLength {
		return nil, model.NewInvalidRequestError("備考が長すぎます")
	}

	a, err := s.assets.FindByID(ctx, assetID)
	if err != nil {
		return nil, fmt.Errorf("資産の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAssetNotFoundError(assetID)
	}
	if quantity > a.Quantity {
		return nil, model.NewInsufficientStockError(a.Quantity)
	}

	req := &model.AssetRequest{
		ID:             uuid.New().String(),
		AssetID:        a.ID,
		AssetName:      a.Name,
		RequesterEmail: employee.Email,
		RequesterName:  employee.Name,
		Quantity:       quantity,
		Note:           note,
		Status:         model.AssetRequestPending,
		RequestedAt:    s.now(),
	}
	if err := s.requests.Create(ctx, req); err != nil {
		return nil, fmt.Errorf("資産申請の作成に失敗しました: %w", err)
	}

	slog.Info("資産を申請しました",
		slog.String("request_id", req.ID),
		slog.String("asset_id", a.ID),
		slog.Int("quantity", quantity),
	)
	return req, nil
}

// Approve はpendingの申請を承認し、在庫を減らす。
func (s *Service) Approve(ctx context.Context, requestID string) (*model.AssetRequest, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.AssetRequestPending {
		return nil, model.NewInvalidAssetRequestStateError(req.Status)
	}

	now := s.now()
	err = s.requests.Approve(ctx, requestID, now)
	switch {
	case errors.Is(err, repository.ErrInsufficientStock):
		available := 0
		if a, findErr := s.assets.FindByID(ctx, req.AssetID); findErr == nil && a != nil {
			available = a.Quantity
		}
		return nil, model.NewInsufficientStockError(available)
	case errors.Is(err, repository.ErrStateConflict):
		return nil, s.stateConflict(ctx, requestID)
	case err != nil:
		return nil, fmt.Errorf("資産申請の承認に失敗しました: %w", err)
	}

	slog.Info("資産申請を承認しました",
		slog.String("request_id", requestID),
		slog.String("asset_id", req.AssetID),
		slog.Int("quantity", req.Quantity),
	)
	req.Status = model.AssetRequestApproved
	req.DecidedAt = &now
	return req, nil
}

// Reject はpendingの申請を却下する。
func (s *Service) Reject(ctx context.Context, requestID string) (*model.AssetRequest, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.Status != model.AssetRequestPending {
		return nil, model.NewInvalidAssetRequestStateError(req.Status)
	}

	now := s.now()
	err = s.requests.Reject(ctx, requestID, now)
	if errors.Is(err, repository.ErrStateConflict) {
		return nil, s.stateConflict(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("資産申請の却下に失敗しました: %w", err)
	}

	slog.Info("資産申請を却下しました", slog.String("request_id", requestID))
	req.Status = model.AssetRequestRejected
	req.DecidedAt = &now
	return req, nil
}

// Return は社員が承認済みの返却可能資産を返却する。在庫は同じトランザクションで戻る。
func (s *Service) Return(ctx context.Context, employeeEmail, requestID string) (*model.AssetRequest, error) {
	req, err := s.findRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	if req.RequesterEmail != employeeEmail {
		return nil, model.NewAssetRequestNotFoundError(requestID)
	}
	if req.Status != model.AssetRequestApproved {
		return nil, model.NewInvalidAssetRequestStateError(req.Status)
	}

	a, err := s.assets.FindByID(ctx, req.AssetID)
	if err != nil {
		return nil, fmt.Errorf("資産の取得に失敗しました: %w", err)
	}
	if a == nil {
		return nil, model.NewAssetNotFoundError(req.AssetID)
	}
	if !a.Returnable {
		return nil, model.NewAssetNotReturnableError()
	}

	now := s.now()
	err = s.requests.MarkReturned(ctx, requestID, now)
	if errors.Is(err, repository.ErrStateConflict) {
		return nil, s.stateConflict(ctx, requestID)
	}
	if err != nil {
		return nil, fmt.Errorf("資産の返却に失敗しました: %w", err)
	}

	slog.Info("資産を返却しました",
		slog.String("request_id", requestID),
		slog.String("asset_id", req.AssetID),
	)
	req.Status = model.AssetRequestReturned
	req.ReturnedAt = &now
	return req, nil
}

// ListMine は社員自身の申請一覧を返す。
func (s *Service) ListMine(ctx context.Context, employeeEmail string, page model.PageRequest) (model.Page[*model.AssetRequest], error) {
	items, total, err := s.requests.ListByRequester(ctx, employeeEmail, page)
	if err != nil {
		return model.Page[*model.AssetRequest]{}, fmt.Errorf("資産申請一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

// ListRequests はHR向けに申請一覧を返す。statusが空の場合は全件。
func (s *Service) ListRequests(ctx context.Context, status model.AssetRequestStatus, page model.PageRequest) (model.Page[*model.AssetRequest], error) {
	switch status {
	case "", model.AssetRequestPending, model.AssetRequestApproved, model.AssetRequestRejected, model.AssetRequestReturned:
	default:
		return model.Page[*model.AssetRequest]{}, model.NewInvalidRequestError(fmt.Sprintf("不明な状態です: %s", status))
	}
	items, total, err := s.requests.ListByStatus(ctx, status, page)
	if err != nil {
		return model.Page[*model.AssetRequest]{}, fmt.Errorf("資産申請一覧の取得に失敗しました: %w", err)
	}
	return model.NewPage(items, total, page), nil
}

func (s *Service) findRequest(ctx context.Context, requestID string) (*model.AssetRequest, error) {
	req, err := s.requests.FindByID(ctx, requestID)
	if err != nil {
		return nil, fmt.Errorf("資産申請の取得に失敗しました: %w", err)
	}
	if req == nil {
		return nil, model.NewAssetRequestNotFoundError(requestID)
	}
	return req, nil
}

// stateConflict は同時更新で状態が変わっていた場合に最新の状態を含むエラーを返す。
func (s *Service) stateConflict(ctx context.Context, requestID string) error {
	latest, err := s.requests.FindByID(ctx, requestID)
	if err != nil || latest == nil {
		return model.NewAssetRequestNotFoundError(requestID)
	}
	return model.NewInvalidAssetRequestStateError(latest.Status)
}
