// Package payment は決済プロセッサーとのやり取りを抽象化する。
// 金額はすべて最小通貨単位（セント）の整数で扱う。
package payment

import (
	"context"
	"errors"
	"fmt"
)

// StatusSucceeded は課金が確定したことを示すプロセッサーのステータス。
const StatusSucceeded = "succeeded"

// ErrNotConfigured はプロセッサーが設定されていない環境で決済が呼ばれた場合のエラー。
var ErrNotConfigured = errors.New("payment processor is not configured")

// IntentRequest は課金インテント作成の入力。
// IdempotencyKeyは購入の試行ごとに一意な値とする。プロセッサーは同じキーに最初の結果を返し続ける。
type IntentRequest struct {
	AmountCents    int64
	Currency       string
	Description    string
	ReceiptEmail   string
	Metadata       map[string]string
	IdempotencyKey string
}

// Intent はプロセッサー側の課金インテント。
// ClientSecretはブラウザ側の確認処理に渡すための値で、空の場合は利用できない。
type Intent struct {
	ID           string
	ClientSecret string
	AmountCents  int64
	Currency     string
	Status       string
}

// BillingDetails は支払者の請求先情報。
type BillingDetails struct {
	Name  string
	Email string
}

// ConfirmRequest は課金確認の入力。
// PaymentMethodTokenはブラウザでカード入力をトークン化した値。
type ConfirmRequest struct {
	IntentID           string
	PaymentMethodToken string
	Billing            BillingDetails
	IdempotencyKey     string
}

// Confirmation は課金確認の結果。
type Confirmation struct {
	TransactionID string
	Status        string
	PaymentMethod string
}

// Succeeded は課金が確定したかどうかを返す。
func (c *Confirmation) Succeeded() bool {
	return c != nil && c.Status == StatusSucceeded
}

// Refund は返金結果。
type Refund struct {
	ID          string
	AmountCents int64
	Status      string
}

// Processor は決済プロセッサーのインターフェース。
type Processor interface {
	// CreateIntent は指定金額の課金インテントを作成する。
	CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error)
	// Confirm はカードトークンで課金を確認する。カードが拒否された場合は*DeclineErrorを返す。
	Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error)
	// Refund は元のトランザクションに対して返金する。
	Refund(ctx context.Context, transactionID string, amountCents int64, idempotencyKey string) (*Refund, error)
}

// DeclineError はプロセッサーがカードを拒否したことを表す。
// Reasonはプロセッサーが返した人間向けのメッセージをそのまま保持する。
type DeclineError struct {
	Reason      string
	Code        string
	DeclineCode string
}

func (e *DeclineError) Error() string {
	if e.DeclineCode != "" {
		return fmt.Sprintf("card declined (%s/%s): %s", e.Code, e.DeclineCode, e.Reason)
	}
	return fmt.Sprintf("card declined (%s): %s", e.Code, e.Reason)
}

// Disabled は決済キーが未設定の環境で使うProcessor。すべての操作でErrNotConfiguredを返す。
type Disabled struct{}

func (Disabled) CreateIntent(context.Context, IntentRequest) (*Intent, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Confirm(context.Context, ConfirmRequest) (*Confirmation, error) {
	return nil, ErrNotConfigured
}

func (Disabled) Refund(context.Context, string, int64, string) (*Refund, error) {
	return nil, ErrNotConfigured
}

var _ Processor = Disabled{}
