// Package realtime は受け取り手設定の変更通知を配信する。
//
// 変更はRedisのpub/subチャネルで全インスタンスに伝播し、各インスタンス内では
// cskr/pubsubで受け取り手IDごとのトピックに振り分けてSSE接続へ届ける。
// 受信側は届いた設定で手元のコピーを無条件に上書きする（後勝ち）。
// バッファが埋まった購読者への通知は破棄し、他の購読者への配信を止めない。
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cskr/pubsub"
	"github.com/redis/go-redis/v9"

	"github.com/hitoshi/birthday-portal/internal/model"
)

// Channel は変更通知に使用するRedisチャネル名。
const Channel = "recipient_updates"

// TopicAll は全受け取り手の変更を受け取るトピック。
const TopicAll = "*"

// EventType は変更通知の種別。
type EventType string

const (
	// EventUpdated は受け取り手設定が更新されたことを示す。
	EventUpdated EventType = "updated"
	// EventDeleted は受け取り手が削除されたことを示す。
	EventDeleted EventType = "deleted"
)

// Event は変更通知の内容。削除時はRecipientがnilになる。
type Event struct {
	Type        EventType        `json:"type"`
	RecipientID string           `json:"recipient_id"`
	Recipient   *model.Recipient `json:"recipient,omitempty"`
	UpdatedAt   time.Time        `json:"updated_at"`
}

// Publisher は変更通知を発行するインターフェース。
type Publisher interface {
	Publish(ctx context.Context, event Event) error
}

// Subscriber は変更通知を購読するインターフェース。
type Subscriber interface {
	// Subscribe は指定トピックの購読を開始し、受信チャネルと購読解除関数を返す。
	// チャネルの要素は Event 型。
	Subscribe(topic string) (<-chan interface{}, func())
}

// Hub はRedis pub/subとプロセス内配信を仲介する。
type Hub struct {
	client *redis.Client
	ps     *pubsub.PubSub

	mu     sync.Mutex
	topics map[string]map[chan interface{}]struct{}

	subscribers atomic.Int64
	dropped     atomic.Uint64
	closed      atomic.Bool
	ready       chan struct{}
	readyOnce   sync.Once
}

// NewHub はHubを生成する。capacityは購読者ごとのバッファサイズ。
func NewHub(client *redis.Client, capacity int) *Hub {
	return &Hub{
		client: client,
		ps:     pubsub.New(capacity),
		topics: make(map[string]map[chan interface{}]struct{}),
		ready:  make(chan struct{}),
	}
}

// Publish は変更通知をRedisチャネルに発行する。
func (h *Hub) Publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	if err := h.client.Publish(ctx, Channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

// Ready はRedisチャネルの購読が確立すると閉じられるチャネルを返す。
func (h *Hub) Ready() <-chan struct{} {
	return h.ready
}

// Run はRedisチャネルを購読し、受信した通知をプロセス内の購読者へ配信する。
// ctxがキャンセルされるまでブロックし、終了時に全購読者のチャネルを閉じる。
func (h *Hub) Run(ctx context.Context) error {
	sub := h.client.Subscribe(ctx, Channel)
	defer sub.Close()
	defer h.shutdown()

	// 購読確立を待ってから配信を開始する
	if _, err := sub.Receive(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("failed to subscribe %s: %w", Channel, err)
	}
	h.readyOnce.Do(func() { close(h.ready) })
	slog.Info("リアルタイム通知の購読を開始しました", slog.String("channel", Channel))

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			slog.Info("リアルタイム通知の購読を停止しました")
			return nil
		case msg, ok := <-msgs:
			if !ok {
				return nil
			}
			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				slog.Warn("不正な変更通知を破棄しました", slog.String("error", err.Error()))
				continue
			}
			h.deliver(event)
		}
	}
}

// deliver は受け取り手トピックと全体トピックへ非ブロッキングで配信する。
func (h *Hub) deliver(event Event) {
	if n := h.lagging(event.RecipientID, TopicAll); n > 0 {
		h.dropped.Add(uint64(n))
		slog.Warn("受信が滞っている購読者への変更通知を破棄しました",
			slog.String("recipient_id", event.RecipientID),
			slog.Int("subscribers", n),
		)
	}
	h.ps.TryPub(event, event.RecipientID, TopicAll)
}

// lagging はバッファが埋まっている購読者数を返す。
// 配信は別ゴルーチンで非同期に行われるため、破棄数の目安として扱う。
func (h *Hub) lagging(topics ...string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := 0
	for _, topic := range topics {
		for ch := range h.topics[topic] {
			if len(ch) == cap(ch) {
				n++
			}
		}
	}
	return n
}

func (h *Hub) track(topic string, ch chan interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[chan interface{}]struct{})
	}
	h.topics[topic][ch] = struct{}{}
}

func (h *Hub) untrack(topic string, ch chan interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[topic], ch)
	if len(h.topics[topic]) == 0 {
		delete(h.topics, topic)
	}
}

// Subscribe は指定トピックの購読を開始する。
func (h *Hub) Subscribe(topic string) (<-chan interface{}, func()) {
	ch := h.ps.Sub(topic)
	h.track(topic, ch)
	h.subscribers.Add(1)

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			h.untrack(topic, ch)
			h.subscribers.Add(-1)
			if h.closed.Load() {
				return
			}
			// 配信ループが送信待ちで止まらないよう、解除完了まで読み捨てる
			go h.ps.Unsub(ch, topic)
			for range ch {
			}
		})
	}
	return ch, unsubscribe
}

// Subscribers は現在の購読者数を返す。
func (h *Hub) Subscribers() int64 {
	return h.subscribers.Load()
}

// Dropped は受信が滞った購読者向けに破棄した通知の累計を返す。
func (h *Hub) Dropped() uint64 {
	return h.dropped.Load()
}

func (h *Hub) shutdown() {
	if h.closed.CompareAndSwap(false, true) {
		h.ps.Shutdown()
	}
}

// compile-time interface check
var (
	_ Publisher  = (*Hub)(nil)
	_ Subscriber = (*Hub)(nil)
)
