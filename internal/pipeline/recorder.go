package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/loqalabs/loqa-translate/internal/eventstore"
	"github.com/loqalabs/loqa-translate/internal/protocol"
)

// Recorder receives lifecycle notifications. Implementations must not block
// the request for long and must tolerate a cancelled context.
type Recorder interface {
	Begin(ctx context.Context, req Request, targets []string)
	Transition(ctx context.Context, requestID string, t Transition, detail string)
}

// Publisher is the subset of the bus client the recorder needs.
type Publisher interface {
	PublishJSON(subject string, v any) error
}

// EventRecorder appends transitions to the event store timeline and
// publishes them on the bus. Either sink may be nil.
type EventRecorder struct {
	store  *eventstore.Store
	bus    Publisher
	logger *slog.Logger
}

func NewEventRecorder(store *eventstore.Store, bus Publisher, log *slog.Logger) *EventRecorder {
	return &EventRecorder{
		store:  store,
		bus:    bus,
		logger: log.With(slog.String("component", "pipeline-recorder")),
	}
}

func (r *EventRecorder) Begin(ctx context.Context, req Request, targets []string) {
	ctx = context.WithoutCancel(ctx)
	if err := r.store.AppendRequest(ctx, req.ID, req.Origin, strings.Join(targets, ","), string(StateReceived)); err != nil {
		r.logger.Warn("record request failed", slog.String("request_id", req.ID), slogError(err))
	}
}

func (r *EventRecorder) Transition(ctx context.Context, requestID string, t Transition, detail string) {
	ctx = context.WithoutCancel(ctx)
	evt := protocol.StateEvent{
		RequestID: requestID,
		From:      string(t.From),
		State:     string(t.To),
		Stage:     string(t.Stage),
		Detail:    detail,
		Timestamp: t.At,
	}
	if t.To == StateFailed {
		evt.FailedStage = string(t.Stage)
	}

	if r.store.Enabled() {
		payload, err := json.Marshal(evt)
		if err != nil {
			r.logger.Warn("encode state event failed", slogError(err))
		} else if err := r.store.AppendEvent(ctx, eventstore.Event{
			RequestID: requestID,
			TraceID:   traceID(ctx),
			Stage:     string(t.Stage),
			Type:      "state." + string(t.To),
			Payload:   payload,
			CreatedAt: t.At,
		}); err != nil {
			r.logger.Warn("record transition failed", slog.String("request_id", requestID), slogError(err))
		}
		if err := r.store.UpdateState(ctx, requestID, string(t.To)); err != nil {
			r.logger.Warn("update request state failed", slog.String("request_id", requestID), slogError(err))
		}
	}

	if r.bus != nil {
		if err := r.bus.PublishJSON(protocol.SubjectRequestState, evt); err != nil {
			r.logger.Warn("publish state event failed", slog.String("request_id", requestID), slogError(err))
		}
	}
}

type nopRecorder struct{}

func (nopRecorder) Begin(context.Context, Request, []string)               {}
func (nopRecorder) Transition(context.Context, string, Transition, string) {}

func slogError(err error) slog.Attr {
	return slog.String("error", err.Error())
}
