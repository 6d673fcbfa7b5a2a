package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/medledger/rxtrack/internal/store"
)

// WatchHandler streams prescription change events over SSE, backed by
// the record store's reactive subscription.
type WatchHandler struct {
	watcher store.Watcher
	logger  *zap.Logger
}

// NewWatchHandler creates a new handler
func NewWatchHandler(watcher store.Watcher, logger *zap.Logger) *WatchHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WatchHandler{watcher: watcher, logger: logger}
}

// Watch handles GET /watch. The stream ends when the client disconnects.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		jsonError(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	ctx := r.Context()
	events, err := h.watcher.Watch(ctx)
	if err != nil {
		h.logger.Error("watch subscription failed", zap.Error(err))
		jsonError(w, "internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, open := <-events:
			if !open {
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				h.logger.Error("encode change event failed", zap.Error(err))
				continue
			}
			fmt.Fprintf(w, "event: prescription_changed\ndata: %s\n\n", payload)
			flusher.Flush()
		}
	}
}
