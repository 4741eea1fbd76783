package auth

import (
	"sync"

	"github.com/hitoshi/studydesk/internal/model"
)

// Hub はIdentity変更通知の購読者を管理する。
// 配信は同期的に行い、購読者のコールバックはブロックしないこと。
type Hub struct {
	mu          sync.RWMutex
	nextID      int
	subscribers map[int]func(model.IdentityEvent)
}

// NewHub はHubを生成する。
func NewHub() *Hub {
	return &Hub{subscribers: make(map[int]func(model.IdentityEvent))}
}

// Subscribe は購読を登録し、解除用の関数を返す。解除関数は複数回呼んでもよい。
func (h *Hub) Subscribe(fn func(model.IdentityEvent)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.subscribers[id] = fn
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subscribers, id)
			h.mu.Unlock()
		})
	}
}

// Publish は全購読者に通知を配信する。
func (h *Hub) Publish(ev model.IdentityEvent) {
	h.mu.RLock()
	fns := make([]func(model.IdentityEvent), 0, len(h.subscribers))
	for _, fn := range h.subscribers {
		fns = append(fns, fn)
	}
	h.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// SubscriberCount は現在の購読者数を返す。
func (h *Hub) SubscriberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
