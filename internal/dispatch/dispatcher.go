// Package dispatch resolves inbound transport events to the node's named
// operations and runs them against the directory, the history store and the
// delivery gate.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parley-chat/parley/internal/conversation"
	"github.com/parley-chat/parley/internal/directory"
	"github.com/parley-chat/parley/internal/gate"
	"github.com/parley-chat/parley/internal/history"
)

// Transport event routes.
const (
	RouteConnect    = "connect"
	RouteDisconnect = "disconnect"
	RouteMessage    = "message"
)

// Message actions.
const (
	ActionRegister       = "register"
	ActionSendPrivate    = "sendPrivate"
	ActionFetchHistory   = "fetchHistory"
	ActionFetchDirectory = "fetchDirectory"
)

// Notification event names on the delivery boundary.
const (
	EventRegistered        = "registered"
	EventNewPrivateMessage = "newPrivateMessage"
	EventMessagesResponse  = "allMessagesResponse"
	EventUsersResponse     = "allUsersResponse"
)

// Event is one inbound transport event: a route discriminator, the caller's
// live handle, and the raw frame body for message routes.
type Event struct {
	Route  string
	Handle string
	Body   json.RawMessage
}

// opError tags an operation failure with a stable code for metrics. The
// error is reported only to the dispatcher's caller, never pushed to a
// handle.
type opError struct {
	code string
	err  error
}

func (e *opError) Error() string { return e.err.Error() }
func (e *opError) Unwrap() error { return e.err }

// Dispatcher owns the control flow of the four named operations. All
// collaborators are injected at construction; there is no ambient state.
type Dispatcher struct {
	log       *zap.Logger
	directory directory.Directory
	store     history.Store
	gate      *gate.Gate
	metrics   *Metrics
	nowFn     func() time.Time
}

// Options configures optional dispatcher collaborators.
type Options struct {
	Metrics *Metrics
	// Now overrides the message timestamp clock.
	Now func() time.Time
}

// New wires a dispatcher over its collaborators.
func New(log *zap.Logger, dir directory.Directory, store history.Store, g *gate.Gate, opts Options) *Dispatcher {
	d := &Dispatcher{
		log:       log,
		directory: dir,
		store:     store,
		gate:      g,
		metrics:   opts.Metrics,
		nowFn:     opts.Now,
	}
	if d.nowFn == nil {
		d.nowFn = time.Now
	}
	return d
}

// HandleEvent routes one transport event. The returned error is consumed by
// the transport layer for logging only; success output is pushed through the
// delivery gate, never returned on this path.
func (d *Dispatcher) HandleEvent(ctx context.Context, ev Event) error {
	switch ev.Route {
	case RouteConnect:
		// Hook for connect-time auth; currently nothing to do.
		d.log.Debug("connection opened", zap.String("handle", ev.Handle))
		return nil
	case RouteDisconnect:
		// Records are not purged on disconnect; the stored handle simply
		// goes stale and the gate isolates failed pushes to it.
		d.log.Debug("connection closed", zap.String("handle", ev.Handle))
		return nil
	case RouteMessage:
		return d.handleMessage(ctx, ev)
	default:
		d.log.Debug("ignoring unknown route", zap.String("route", ev.Route))
		return nil
	}
}

func (d *Dispatcher) handleMessage(ctx context.Context, ev Event) error {
	var head struct {
		Action string `json:"action"`
	}
	if err := json.Unmarshal(ev.Body, &head); err != nil {
		return d.finish("parse", time.Now(), &opError{code: "bad_payload", err: fmt.Errorf("parse message body: %w", err)})
	}

	start := time.Now()
	switch head.Action {
	case ActionRegister:
		return d.finish(head.Action, start, d.register(ctx, ev))
	case ActionSendPrivate:
		return d.finish(head.Action, start, d.sendPrivate(ctx, ev))
	case ActionFetchHistory:
		return d.finish(head.Action, start, d.fetchHistory(ctx, ev))
	case ActionFetchDirectory:
		return d.finish(head.Action, start, d.fetchDirectory(ctx, ev))
	default:
		// Unrecognized actions are a deliberate no-op, kept visible in one
		// place and in metrics rather than failing the connection.
		d.metrics.recordUnknownAction()
		d.log.Debug("ignoring unknown action", zap.String("action", head.Action))
		return nil
	}
}

func (d *Dispatcher) finish(op string, start time.Time, err error) error {
	d.metrics.observeLatency(op, time.Since(start))
	if err != nil {
		code := "internal"
		var oerr *opError
		if errors.As(err, &oerr) && oerr.code != "" {
			code = oerr.code
		}
		d.metrics.recordError(code)
		d.log.Warn("operation failed", zap.String("op", op), zap.Error(err))
	}
	return err
}

type registeredNotice struct {
	Event string `json:"event"`
}

func (d *Dispatcher) register(ctx context.Context, ev Event) error {
	var payload struct {
		Identity    string `json:"identity"`
		DisplayName string `json:"displayName"`
	}
	if err := json.Unmarshal(ev.Body, &payload); err != nil {
		return &opError{code: "bad_payload", err: fmt.Errorf("parse register payload: %w", err)}
	}
	if err := conversation.ValidateIdentity(payload.Identity); err != nil {
		return &opError{code: "invalid_identity", err: fmt.Errorf("register %q: %w", payload.Identity, err)}
	}

	record, err := d.directory.Upsert(ctx, directory.Record{
		Identity:    payload.Identity,
		DisplayName: payload.DisplayName,
		Handle:      ev.Handle,
	})
	if err != nil {
		return &opError{code: "store_unavailable", err: fmt.Errorf("upsert identity: %w", err)}
	}

	d.log.Info("identity registered",
		zap.String("identity", record.Identity),
		zap.String("handle", record.Handle))

	// Push failure is isolated; the registration itself already happened.
	_ = d.gate.SendOne(ctx, ev.Handle, registeredNotice{Event: EventRegistered})
	return nil
}

type privateMessageNotice struct {
	Event   string          `json:"event"`
	Message history.Message `json:"message"`
}

// sendPrivate runs the four fail-fast steps in order: resolve the receiver,
// derive the address, persist the record, then fan out. Delivery is only
// attempted once the record is durably written, so anything a client is
// notified of is already queryable via fetchHistory.
func (d *Dispatcher) sendPrivate(ctx context.Context, ev Event) error {
	var payload struct {
		Sender   string `json:"senderIdentity"`
		Receiver string `json:"receiverIdentity"`
		Text     string `json:"text"`
	}
	if err := json.Unmarshal(ev.Body, &payload); err != nil {
		return &opError{code: "bad_payload", err: fmt.Errorf("parse sendPrivate payload: %w", err)}
	}
	if err := conversation.ValidateIdentity(payload.Sender); err != nil {
		return &opError{code: "invalid_identity", err: fmt.Errorf("sender %q: %w", payload.Sender, err)}
	}
	if err := conversation.ValidateIdentity(payload.Receiver); err != nil {
		return &opError{code: "invalid_identity", err: fmt.Errorf("receiver %q: %w", payload.Receiver, err)}
	}

	receiverHandle, err := d.directory.LookupHandle(ctx, payload.Receiver)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return &opError{code: "not_found", err: fmt.Errorf("receiver %q: %w", payload.Receiver, err)}
		}
		return &opError{code: "store_unavailable", err: fmt.Errorf("lookup receiver: %w", err)}
	}

	msg := history.Message{
		ConversationID: conversation.Address(payload.Sender, payload.Receiver),
		Timestamp:      history.FormatTimestamp(d.nowFn()),
		Sender:         payload.Sender,
		Receiver:       payload.Receiver,
		Text:           payload.Text,
	}
	if err := d.store.Append(ctx, msg); err != nil {
		return &opError{code: "store_unavailable", err: fmt.Errorf("append message: %w", err)}
	}

	notice := privateMessageNotice{Event: EventNewPrivateMessage, Message: msg}
	outcomes := d.gate.SendMany(ctx, []string{receiverHandle, ev.Handle}, notice)
	for _, outcome := range outcomes {
		if outcome.Err != nil {
			d.metrics.recordDeliveryFailure()
		}
	}
	return nil
}

type messagesNotice struct {
	Event       string            `json:"event"`
	MessageList []history.Message `json:"messageList"`
}

func (d *Dispatcher) fetchHistory(ctx context.Context, ev Event) error {
	var payload struct {
		Entity1 string `json:"entity1"`
		Entity2 string `json:"entity2"`
	}
	if err := json.Unmarshal(ev.Body, &payload); err != nil {
		return &opError{code: "bad_payload", err: fmt.Errorf("parse fetchHistory payload: %w", err)}
	}
	if err := conversation.ValidateIdentity(payload.Entity1); err != nil {
		return &opError{code: "invalid_identity", err: fmt.Errorf("entity1 %q: %w", payload.Entity1, err)}
	}
	if err := conversation.ValidateIdentity(payload.Entity2); err != nil {
		return &opError{code: "invalid_identity", err: fmt.Errorf("entity2 %q: %w", payload.Entity2, err)}
	}

	messages, err := d.store.ListConversation(ctx, conversation.Address(payload.Entity1, payload.Entity2))
	if err != nil {
		// No error notification goes back to the handle; the caller of the
		// dispatcher is the only one that sees this failure.
		return &opError{code: "store_unavailable", err: fmt.Errorf("read conversation: %w", err)}
	}
	if messages == nil {
		messages = []history.Message{}
	}

	_ = d.gate.SendOne(ctx, ev.Handle, messagesNotice{Event: EventMessagesResponse, MessageList: messages})
	return nil
}

type usersNotice struct {
	Event     string             `json:"event"`
	UsersList []directory.Record `json:"usersList"`
}

func (d *Dispatcher) fetchDirectory(ctx context.Context, ev Event) error {
	records, err := d.directory.List(ctx)
	if err != nil {
		return &opError{code: "store_unavailable", err: fmt.Errorf("list directory: %w", err)}
	}
	if records == nil {
		records = []directory.Record{}
	}

	_ = d.gate.SendOne(ctx, ev.Handle, usersNotice{Event: EventUsersResponse, UsersList: records})
	return nil
}
