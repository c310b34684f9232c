package handler

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/birthday-portal/internal/realtime"
)

// defaultHeartbeat はプロキシによる切断を防ぐコメント行の送信間隔。
const defaultHeartbeat = 25 * time.Second

// EventsHandler は受け取り手の変更通知をServer-Sent Eventsで配信する。
type EventsHandler struct {
	subscriber realtime.Subscriber
	heartbeat  time.Duration
}

// NewEventsHandler はEventsHandlerを生成する。
func NewEventsHandler(subscriber realtime.Subscriber) *EventsHandler {
	return &EventsHandler{subscriber: subscriber, heartbeat: defaultHeartbeat}
}

// RecipientEvents は指定受け取り手の変更を配信する。
// GET /api/admin/recipients/{id}/events
func (h *EventsHandler) RecipientEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, chi.URLParam(r, "id"))
}

// AllEvents は全受け取り手の変更を配信する。一覧画面用。
// GET /api/admin/events
func (h *EventsHandler) AllEvents(w http.ResponseWriter, r *http.Request) {
	h.stream(w, r, realtime.TopicAll)
}

func (h *EventsHandler) stream(w http.ResponseWriter, r *http.Request, topic string) {
	rc := http.NewResponseController(w)
	// サーバー全体のWriteTimeoutをこの接続だけ解除する
	if err := rc.SetWriteDeadline(time.Time{}); err != nil {
		slog.Debug("write deadline not supported", slog.String("error", err.Error()))
	}

	events, unsubscribe := h.subscriber.Subscribe(topic)
	defer unsubscribe()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, ": connected\n\n")
	if err := rc.Flush(); err != nil {
		slog.Error("streaming not supported", slog.String("error", err.Error()))
		return
	}

	ticker := time.NewTicker(h.heartbeat)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
		case msg, ok := <-events:
			if !ok {
				return
			}
			event, ok := msg.(realtime.Event)
			if !ok {
				continue
			}
			data, err := json.Marshal(event)
			if err != nil {
				slog.Warn("failed to encode event", slog.String("error", err.Error()))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

