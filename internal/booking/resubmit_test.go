package booking

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/hitoshi/studydesk/internal/payment"
)

// memGuard はメモリ上の冪等キーガード。
type memGuard struct {
	mu   sync.Mutex
	held map[string]bool
}

func (g *memGuard) Acquire(ctx context.Context, scope, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.held == nil {
		g.held = make(map[string]bool)
	}
	k := scope + ":" + key
	if g.held[k] {
		return false, nil
	}
	g.held[k] = true
	return true, nil
}

func (g *memGuard) Release(ctx context.Context, scope, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.held, scope+":"+key)
	return nil
}

type replayedResponse struct {
	params string
	status int
	body   string
}

// replayingStripe はIdempotency-Keyごとに最初の応答を保存して再送するStripe互換サーバー。
// 同じキーで異なるパラメーターが送られた場合はidempotency_errorを返す。
type replayingStripe struct {
	mu      sync.Mutex
	seen    map[string]replayedResponse
	intents int
	keys    []string
}

func (s *replayingStripe) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	params := r.URL.Path + "?" + r.PostForm.Encode()
	key := r.Header.Get("Idempotency-Key")

	s.mu.Lock()
	defer s.mu.Unlock()
	w.Header().Set("Content-Type", "application/json")
	s.keys = append(s.keys, key)

	if prev, ok := s.seen[key]; ok && key != "" {
		if prev.params != params {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprint(w, `{"error":{"type":"idempotency_error","message":"Keys for idempotent requests can only be used with the same parameters they were first used with."}}`)
			return
		}
		w.WriteHeader(prev.status)
		fmt.Fprint(w, prev.body)
		return
	}

	status, body := s.respond(r)
	if key != "" {
		s.seen[key] = replayedResponse{params: params, status: status, body: body}
	}
	w.WriteHeader(status)
	fmt.Fprint(w, body)
}

func (s *replayingStripe) respond(r *http.Request) (int, string) {
	switch {
	case r.URL.Path == "/v1/payment_intents":
		s.intents++
		id := fmt.Sprintf("pi_%d", s.intents)
		return http.StatusOK, fmt.Sprintf(`{"id":%q,"object":"payment_intent","client_secret":"%s_secret","amount":2500,"currency":"usd","status":"requires_payment_method"}`, id, id)
	case strings.HasSuffix(r.URL.Path, "/confirm"):
		id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/v1/payment_intents/"), "/confirm")
		if r.PostForm.Get("payment_method") == "pm_card_chargeDeclined" {
			return http.StatusPaymentRequired, `{"error":{"type":"card_error","code":"card_declined","decline_code":"generic_decline","message":"Your card was declined."}}`
		}
		return http.StatusOK, fmt.Sprintf(`{"id":%q,"object":"payment_intent","status":"succeeded","amount":2500,"currency":"usd","payment_method":"pm_card_visa"}`, id)
	default:
		return http.StatusNotFound, `{"error":{"type":"invalid_request_error","message":"unknown path"}}`
	}
}

// カード拒否の後、同じIdempotency-Keyで別のカードを使った再送信は新しい試行として課金される
func TestPurchaseSession_ResubmitAfterDeclineWithSameClientKey(t *testing.T) {
	stripeSrv := &replayingStripe{seen: make(map[string]replayedResponse)}
	srv := httptest.NewServer(stripeSrv)
	t.Cleanup(srv.Close)

	f := newFixture(t, openSession("s-1", 2500))
	f.svc.processor = payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:  "sk_test_123",
		APIURL:     srv.URL,
		HTTPClient: srv.Client(),
	})
	f.svc.idempotency = &memGuard{}

	_, err := f.svc.PurchaseSession(context.Background(), PurchaseRequest{
		SessionID: "s-1", Payer: student, PaymentMethodToken: "pm_card_chargeDeclined", IdempotencyKey: "k-1",
	})
	var declined *CardDeclinedError
	if !errors.As(err, &declined) {
		t.Fatalf("first attempt err = %v, want *CardDeclinedError", err)
	}

	result, err := f.svc.PurchaseSession(context.Background(), PurchaseRequest{
		SessionID: "s-1", Payer: student, PaymentMethodToken: "pm_card_visa", IdempotencyKey: "k-1",
	})
	if err != nil {
		t.Fatalf("resubmission failed: %v", err)
	}
	if result.Payment.TransactionID != "pi_2" {
		t.Errorf("transaction id = %q, want a new intent pi_2", result.Payment.TransactionID)
	}
	if f.bookings.count() != 1 || f.payments.count() != 1 {
		t.Errorf("bookings = %d, payments = %d, want 1 and 1", f.bookings.count(), f.payments.count())
	}

	stripeSrv.mu.Lock()
	defer stripeSrv.mu.Unlock()
	for _, k := range stripeSrv.keys {
		if strings.HasPrefix(k, "k-1") {
			t.Errorf("client key reached the processor: %q", k)
		}
	}
}

// 決済完了後は同じキーでの再送信を重複として拒否し、二重課金しない
func TestPurchaseSession_ResubmitAfterSuccessIsDuplicate(t *testing.T) {
	stripeSrv := &replayingStripe{seen: make(map[string]replayedResponse)}
	srv := httptest.NewServer(stripeSrv)
	t.Cleanup(srv.Close)

	f := newFixture(t, openSession("s-1", 2500))
	f.svc.processor = payment.NewStripeProcessor(payment.StripeConfig{
		SecretKey:  "sk_test_123",
		APIURL:     srv.URL,
		HTTPClient: srv.Client(),
	})
	f.svc.idempotency = &memGuard{}

	req := PurchaseRequest{SessionID: "s-1", Payer: student, PaymentMethodToken: "pm_card_visa", IdempotencyKey: "k-1"}
	if _, err := f.svc.PurchaseSession(context.Background(), req); err != nil {
		t.Fatalf("first attempt failed: %v", err)
	}
	_, err := f.svc.PurchaseSession(context.Background(), req)
	if err == nil {
		t.Fatal("expected duplicate submission error")
	}
	if stripeSrv.intents != 1 {
		t.Errorf("intents created = %d, want 1", stripeSrv.intents)
	}
}
