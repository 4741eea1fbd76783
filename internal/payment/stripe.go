package payment

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/paymentintent"
	"github.com/stripe/stripe-go/v76/refund"
)

// DefaultCurrency は通貨未指定時に使う通貨コード。
const DefaultCurrency = "usd"

// StripeConfig はStripeProcessorの設定。
type StripeConfig struct {
	SecretKey string
	Currency  string
	// APIURL はAPIエンドポイントの上書き。空の場合は本番APIを使う。
	APIURL     string
	HTTPClient *http.Client
}

// StripeProcessor はStripe PaymentIntents APIを使ったProcessor実装。
// トランザクションIDにはPaymentIntentのIDを使う。
type StripeProcessor struct {
	intents  *paymentintent.Client
	refunds  *refund.Client
	currency string
}

// NewStripeProcessor はStripeProcessorを生成する。
// SDKの自動リトライは無効にする。失敗した操作の再実行は利用者の再送信に任せる。
func NewStripeProcessor(cfg StripeConfig) *StripeProcessor {
	backendCfg := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		HTTPClient:        cfg.HTTPClient,
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelWarn},
	}
	if cfg.APIURL != "" {
		backendCfg.URL = stripe.String(strings.TrimRight(cfg.APIURL, "/"))
	}
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, backendCfg)

	currency := strings.ToLower(cfg.Currency)
	if currency == "" {
		currency = DefaultCurrency
	}

	return &StripeProcessor{
		intents:  &paymentintent.Client{B: backend, Key: cfg.SecretKey},
		refunds:  &refund.Client{B: backend, Key: cfg.SecretKey},
		currency: currency,
	}
}

// CreateIntent はカード決済用のPaymentIntentを作成する。
func (p *StripeProcessor) CreateIntent(ctx context.Context, req IntentRequest) (*Intent, error) {
	currency := req.Currency
	if currency == "" {
		currency = p.currency
	}

	params := &stripe.PaymentIntentParams{
		Amount:             stripe.Int64(req.AmountCents),
		Currency:           stripe.String(currency),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
	}
	params.Context = ctx
	if req.Description != "" {
		params.Description = stripe.String(req.Description)
	}
	if req.ReceiptEmail != "" {
		params.ReceiptEmail = stripe.String(req.ReceiptEmail)
	}
	for k, v := range req.Metadata {
		params.AddMetadata(k, v)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey + ":intent")
	}

	pi, err := p.intents.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create payment intent: %w", err)
	}

	return &Intent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		AmountCents:  pi.Amount,
		Currency:     string(pi.Currency),
		Status:       string(pi.Status),
	}, nil
}

// Confirm はカードトークンでPaymentIntentを確認する。
// カードエラーは*DeclineErrorに変換し、Stripeのメッセージをそのまま保持する。
func (p *StripeProcessor) Confirm(ctx context.Context, req ConfirmRequest) (*Confirmation, error) {
	params := &stripe.PaymentIntentConfirmParams{
		PaymentMethod: stripe.String(req.PaymentMethodToken),
	}
	params.Context = ctx
	if req.Billing.Email != "" {
		params.ReceiptEmail = stripe.String(req.Billing.Email)
	}
	if req.Billing.Name != "" {
		params.AddMetadata("payer_name", req.Billing.Name)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey + ":confirm")
	}

	pi, err := p.intents.Confirm(req.IntentID, params)
	if err != nil {
		if declined := asDeclineError(err); declined != nil {
			return nil, declined
		}
		return nil, fmt.Errorf("failed to confirm payment intent: %w", err)
	}

	method := "card"
	if pi.PaymentMethod != nil && pi.PaymentMethod.Type != "" {
		method = string(pi.PaymentMethod.Type)
	}

	return &Confirmation{
		TransactionID: pi.ID,
		Status:        string(pi.Status),
		PaymentMethod: method,
	}, nil
}

// Refund はPaymentIntentに対して返金する。amountCentsが0以下の場合は全額返金。
func (p *StripeProcessor) Refund(ctx context.Context, transactionID string, amountCents int64, idempotencyKey string) (*Refund, error) {
	params := &stripe.RefundParams{
		PaymentIntent: stripe.String(transactionID),
	}
	params.Context = ctx
	if amountCents > 0 {
		params.Amount = stripe.Int64(amountCents)
	}
	if idempotencyKey != "" {
		params.SetIdempotencyKey(idempotencyKey + ":refund")
	}

	r, err := p.refunds.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create refund: %w", err)
	}

	return &Refund{
		ID:          r.ID,
		AmountCents: r.Amount,
		Status:      string(r.Status),
	}, nil
}

// asDeclineError はStripeのカードエラーを*DeclineErrorに変換する。カードエラー以外はnilを返す。
func asDeclineError(err error) *DeclineError {
	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) || stripeErr.Type != stripe.ErrorTypeCard {
		return nil
	}
	return &DeclineError{
		Reason:      stripeErr.Msg,
		Code:        string(stripeErr.Code),
		DeclineCode: string(stripeErr.DeclineCode),
	}
}

// compile-time interface check
var _ Processor = (*StripeProcessor)(nil)
