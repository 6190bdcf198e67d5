package ws

import (
	"context"
	"encoding/json"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/manpreetbhatti/easel/internal/metrics"
	"github.com/manpreetbhatti/easel/internal/protocol"
	"github.com/manpreetbhatti/easel/internal/room"
)

type handlerFunc func(ctx context.Context, c *Client, data json.RawMessage) error

func (h *Hub) eventHandlers() map[string]handlerFunc {
	return map[string]handlerFunc{
		protocol.EventJoinRoom:    h.onJoinRoom,
		protocol.EventDrawing:     h.onDrawing,
		protocol.EventSavePage:    h.onSavePage,
		protocol.EventClearPage:   h.onClearPage,
		protocol.EventUndo:        h.onSnapshotHistory(protocol.EventRemoteUndo, (*room.Room).ApplyUndo),
		protocol.EventRedo:        h.onSnapshotHistory(protocol.EventRemoteRedo, (*room.Room).ApplyRedo),
		protocol.EventChangePage:  h.onChangePage,
		protocol.EventHistoryUndo: h.onTimelineStep(protocol.EventRemoteUndo, (*room.Room).StepBack),
		protocol.EventHistoryRedo: h.onTimelineStep(protocol.EventRemoteRedo, (*room.Room).StepForward),
	}
}

// handleFrame decodes one inbound frame and dispatches it. Malformed frames
// and unknown events are logged and dropped; the connection stays open.
func (h *Hub) handleFrame(ctx context.Context, c *Client, frame []byte) {
	if c.closed {
		return
	}
	env, err := protocol.Decode(frame)
	if err != nil {
		h.metrics.ObserveEvent("", metrics.StatusInvalid, 0)
		h.logger.Warn("invalid frame", "client_id", c.id, "error", err)
		return
	}
	h.dispatch(ctx, c, env)
}

func (h *Hub) dispatch(ctx context.Context, c *Client, env *protocol.Envelope) {
	handler, ok := h.handlers[env.Event]
	if !ok {
		h.metrics.ObserveEvent(metrics.UnknownEvent, metrics.StatusUnknown, 0)
		h.logger.Debug("ignoring unknown event", "event", env.Event, "client_id", c.id)
		return
	}

	ctx, span := h.tracer.Start(ctx, "easel."+env.Event,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(attribute.String("easel.client_id", c.id)),
	)
	defer span.End()

	start := time.Now()
	if err := handler(ctx, c, env.Data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.metrics.ObserveEvent(env.Event, metrics.StatusInvalid, 0)
		h.logger.Warn("dropping malformed event", "event", env.Event, "client_id", c.id, "error", err)
		return
	}
	h.metrics.ObserveEvent(env.Event, metrics.StatusOK, time.Since(start))
}

func annotate(ctx context.Context, roomID string, page int) {
	trace.SpanFromContext(ctx).SetAttributes(
		attribute.String("easel.room_id", roomID),
		attribute.Int("easel.page_index", page),
	)
}

func (h *Hub) encode(event string, data any) outbound {
	frame, err := protocol.Encode(event, data)
	if err != nil {
		h.logger.Error("failed to encode event", "event", event, "error", err)
		return outbound{event: event}
	}
	return outbound{event: event, frame: frame}
}

func eventRoomState(r *room.Room) outbound {
	view := r.View()
	frame, err := protocol.Encode(protocol.EventRoomState, protocol.RoomState{
		Pages:        view.Pages,
		CurrentPage:  view.CurrentPage,
		PageSnapshot: view.PageSnapshot,
		Versions:     view.Versions,
	})
	if err != nil {
		return outbound{event: protocol.EventRoomState}
	}
	return outbound{event: protocol.EventRoomState, frame: frame}
}

func (h *Hub) onJoinRoom(ctx context.Context, c *Client, data json.RawMessage) error {
	roomID, err := protocol.ParseRoomID(data)
	if err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("easel.room_id", roomID))
	h.join(ctx, c, roomID)
	return nil
}

// onDrawing relays the stroke to everyone else in the room. Strokes are
// never stored.
func (h *Hub) onDrawing(ctx context.Context, c *Client, data json.RawMessage) error {
	var req protocol.Drawing
	if err := protocol.Unmarshal(data, &req); err != nil {
		return err
	}
	trace.SpanFromContext(ctx).SetAttributes(attribute.String("easel.room_id", req.RoomID))

	frame, err := protocol.Relay(protocol.EventRemoteDrawing, req.Payload)
	if err != nil {
		return err
	}
	h.registry.Touch(req.RoomID)
	h.toOthers(req.RoomID, c, outbound{event: protocol.EventRemoteDrawing, frame: frame})
	return nil
}

func (h *Hub) onSavePage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req protocol.SavePage
	if err := protocol.Unmarshal(data, &req); err != nil {
		return err
	}
	annotate(ctx, req.RoomID, req.PageIndex)

	r := h.ensureRoom(ctx, req.RoomID)
	version := r.SavePage(req.PageIndex, req.DataURL)
	h.toOthers(req.RoomID, c, h.encode(protocol.EventPageSaved, protocol.PageSaved{
		PageIndex: req.PageIndex,
		DataURL:   req.DataURL,
		Version:   version,
	}))
	return nil
}

func (h *Hub) onClearPage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req protocol.ClearPage
	if err := protocol.Unmarshal(data, &req); err != nil {
		return err
	}
	annotate(ctx, req.RoomID, req.PageIndex)

	r := h.ensureRoom(ctx, req.RoomID)
	version := r.ClearPage(req.PageIndex)
	h.toOthers(req.RoomID, c, h.encode(protocol.EventPageCleared, protocol.PageCleared{
		PageIndex: req.PageIndex,
		Version:   version,
	}))
	return nil
}

// onSnapshotHistory handles undo and redo sent with the snapshot the client
// computed. The snapshot overwrites the page like a save.
func (h *Hub) onSnapshotHistory(event string, apply func(*room.Room, int, room.Snapshot) uint64) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req protocol.HistoryChange
		if err := protocol.Unmarshal(data, &req); err != nil {
			return err
		}
		annotate(ctx, req.RoomID, req.PageIndex)

		r := h.ensureRoom(ctx, req.RoomID)
		version := apply(r, req.PageIndex, req.Snapshot)
		h.toOthers(req.RoomID, c, h.encode(event, protocol.HistoryApplied{
			PageIndex: req.PageIndex,
			Snapshot:  req.Snapshot,
			Version:   version,
		}))
		return nil
	}
}

// onTimelineStep moves the server-owned page timeline. The result goes to
// every member, the sender included, since the sender does not know the
// resulting snapshot. A step past either end is a no-op.
func (h *Hub) onTimelineStep(event string, step func(*room.Room, int) (room.Snapshot, uint64, bool)) handlerFunc {
	return func(ctx context.Context, c *Client, data json.RawMessage) error {
		var req protocol.HistoryStep
		if err := protocol.Unmarshal(data, &req); err != nil {
			return err
		}
		annotate(ctx, req.RoomID, req.PageIndex)

		r := h.ensureRoom(ctx, req.RoomID)
		snap, version, ok := step(r, req.PageIndex)
		if !ok {
			return nil
		}
		h.toAll(req.RoomID, h.encode(event, protocol.HistoryApplied{
			PageIndex: req.PageIndex,
			Snapshot:  snap,
			Version:   version,
		}))
		return nil
	}
}

func (h *Hub) onChangePage(ctx context.Context, c *Client, data json.RawMessage) error {
	var req protocol.ChangePage
	if err := protocol.Unmarshal(data, &req); err != nil {
		return err
	}
	annotate(ctx, req.RoomID, req.NewPageIndex)

	r := h.ensureRoom(ctx, req.RoomID)
	snap, version := r.ChangePage(req.NewPageIndex, req.PageSnapshot)
	h.toAll(req.RoomID, h.encode(protocol.EventPageChanged, protocol.PageChanged{
		NewPageIndex: req.NewPageIndex,
		PageSnapshot: snap,
		Version:      version,
	}))
	return nil
}
