package gateway

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/dispatch"
)

// EventHandler consumes normalized transport events. Satisfied by
// dispatch.Dispatcher.
type EventHandler interface {
	HandleEvent(ctx context.Context, ev dispatch.Event) error
}

// ConnMetrics receives connection lifecycle signals.
type ConnMetrics interface {
	ConnectionOpened()
	ConnectionClosed()
}

// Handler upgrades HTTP requests to websockets and pumps frames into the
// dispatcher until the client goes away.
type Handler struct {
	log      *zap.Logger
	sessions *Sessions
	events   EventHandler
	metrics  ConnMetrics
	limits   Limits
	upgrader websocket.Upgrader
}

// NewHandler wires a websocket handler. metrics may be nil.
func NewHandler(log *zap.Logger, sessions *Sessions, events EventHandler, metrics ConnMetrics, limits Limits) *Handler {
	return &Handler{
		log:      log,
		sessions: sessions,
		events:   events,
		metrics:  metrics,
		limits:   limits.withDefaults(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// No origin policy yet; connect-time auth is the hook for one.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the response.
		h.log.Debug("websocket upgrade failed", zap.Error(err))
		return
	}

	conn := h.sessions.Attach(ws, h.limits)
	handle := conn.Handle()
	if h.metrics != nil {
		h.metrics.ConnectionOpened()
	}
	h.log.Info("connection attached", zap.String("handle", handle))

	ctx := r.Context()
	_ = h.events.HandleEvent(ctx, dispatch.Event{Route: dispatch.RouteConnect, Handle: handle})

	defer func() {
		_ = h.events.HandleEvent(context.Background(), dispatch.Event{Route: dispatch.RouteDisconnect, Handle: handle})
		h.sessions.Detach(handle)
		if h.metrics != nil {
			h.metrics.ConnectionClosed()
		}
		h.log.Info("connection detached", zap.String("handle", handle))
	}()

	ws.SetReadLimit(h.limits.ReadLimit)
	_ = ws.SetReadDeadline(time.Now().Add(h.limits.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(h.limits.ReadTimeout))
	})

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			if !isExpectedClose(err) {
				h.log.Debug("read failed", zap.String("handle", handle), zap.Error(err))
			}
			return
		}
		_ = ws.SetReadDeadline(time.Now().Add(h.limits.ReadTimeout))

		// Operation failures are signaled to this caller only; clients see
		// either the documented success notification or silence.
		_ = h.events.HandleEvent(ctx, dispatch.Event{
			Route:  dispatch.RouteMessage,
			Handle: handle,
			Body:   data,
		})
	}
}

func isExpectedClose(err error) bool {
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) ||
		errors.Is(err, websocket.ErrCloseSent)
}
