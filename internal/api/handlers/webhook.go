package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/trackercap/upcap/internal/crossseed"
	"github.com/trackercap/upcap/internal/domain"
	"github.com/trackercap/upcap/internal/webhook"
)

// WebhookHandler serves /webhook. It must respond under 10ms at the 99th
// percentile under load (spec.md §8 property 8), so the handler itself
// only validates input and enqueues; any slower work (cross-seed
// forwarding) happens on a detached goroutine.
type WebhookHandler struct {
	queue     *webhook.Queue
	forwarder *crossseed.Forwarder
	log       zerolog.Logger
}

func NewWebhookHandler(queue *webhook.Queue, forwarder *crossseed.Forwarder, log zerolog.Logger) *WebhookHandler {
	return &WebhookHandler{queue: queue, forwarder: forwarder, log: log.With().Str("component", "webhook-handler").Logger()}
}

func parseEventType(raw string) (domain.WebhookEventType, bool) {
	switch domain.WebhookEventType(raw) {
	case domain.WebhookAdd, domain.WebhookComplete, domain.WebhookDelete:
		return domain.WebhookEventType(raw), true
	default:
		return "", false
	}
}

// Post handles form-encoded event,hash,name?,tracker? and responds 202.
func (h *WebhookHandler) Post(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		RespondError(w, http.StatusBadRequest, "invalid form body")
		return
	}

	eventType, ok := parseEventType(r.FormValue("event"))
	if !ok {
		RespondError(w, http.StatusBadRequest, "event must be one of add, complete, delete")
		return
	}
	hash := r.FormValue("hash")
	if hash == "" {
		RespondError(w, http.StatusBadRequest, "hash is required")
		return
	}

	event := domain.WebhookEvent{
		EventType:  eventType,
		Hash:       hash,
		Name:       r.FormValue("name"),
		TrackerURL: r.FormValue("tracker"),
		ReceivedAt: time.Now(),
	}
	h.queue.Enqueue(event)

	w.WriteHeader(http.StatusAccepted)

	if eventType == domain.WebhookComplete && h.forwarder != nil {
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer cancel()
			if err := h.forwarder.Forward(ctx, event.Hash, event.Name); err != nil {
				h.log.Warn().Err(err).Str("hash", event.Hash).Msg("cross-seed forward failed")
			}
		}()
	}
}
