package protocol

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/manpreetbhatti/easel/internal/room"
)

// Client to server events
const (
	EventJoinRoom    = "join-room"
	EventDrawing     = "drawing"
	EventSavePage    = "save-page"
	EventClearPage   = "clear-page"
	EventUndo        = "undo"
	EventRedo        = "redo"
	EventChangePage  = "change-page"
	EventHistoryUndo = "history-undo"
	EventHistoryRedo = "history-redo"
)

// Server to client events
const (
	EventRoomState     = "room-state"
	EventRemoteDrawing = "remote-drawing"
	EventPageSaved     = "page-saved"
	EventPageCleared   = "page-cleared"
	EventRemoteUndo    = "remote-undo"
	EventRemoteRedo    = "remote-redo"
	EventPageChanged   = "page-changed"
)

var ErrEmptyFrame = errors.New("empty frame")

// Envelope is the frame carried by every websocket text message.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// RoomState is the reply a joining connection gets.
type RoomState struct {
	Pages        []room.Snapshot `json:"pages"`
	CurrentPage  int             `json:"currentPage"`
	PageSnapshot room.Snapshot   `json:"pageSnapshot"`
	Versions     []uint64        `json:"versions"`
}

// Drawing carries one stroke sample. Payload is relayed byte for byte.
type Drawing struct {
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload"`
}

type SavePage struct {
	RoomID    string        `json:"roomId"`
	PageIndex int           `json:"pageIndex"`
	DataURL   room.Snapshot `json:"dataURL"`
}

type PageSaved struct {
	PageIndex int           `json:"pageIndex"`
	DataURL   room.Snapshot `json:"dataURL"`
	Version   uint64        `json:"version"`
}

type ClearPage struct {
	RoomID    string `json:"roomId"`
	PageIndex int    `json:"pageIndex"`
}

type PageCleared struct {
	PageIndex int    `json:"pageIndex"`
	Version   uint64 `json:"version"`
}

// HistoryChange is the body of undo and redo. Snapshot is the state the
// client computed from its local stack.
type HistoryChange struct {
	RoomID    string        `json:"roomId"`
	PageIndex int           `json:"pageIndex"`
	Snapshot  room.Snapshot `json:"snapshot"`
}

// HistoryApplied is the body of remote-undo and remote-redo.
type HistoryApplied struct {
	PageIndex int           `json:"pageIndex"`
	Snapshot  room.Snapshot `json:"snapshot"`
	Version   uint64        `json:"version"`
}

// HistoryStep asks the server to move its own page timeline.
type HistoryStep struct {
	RoomID    string `json:"roomId"`
	PageIndex int    `json:"pageIndex"`
}

type ChangePage struct {
	RoomID       string        `json:"roomId"`
	NewPageIndex int           `json:"newPageIndex"`
	PageSnapshot room.Snapshot `json:"pageSnapshot"`
}

type PageChanged struct {
	NewPageIndex int           `json:"newPageIndex"`
	PageSnapshot room.Snapshot `json:"pageSnapshot"`
	Version      uint64        `json:"version"`
}

// Decode parses a frame into its envelope.
func Decode(frame []byte) (*Envelope, error) {
	if len(frame) == 0 {
		return nil, ErrEmptyFrame
	}
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if env.Event == "" {
		return nil, errors.New("decode envelope: missing event name")
	}
	return &env, nil
}

// Encode builds a frame for event with data as its body.
func Encode(event string, data any) ([]byte, error) {
	body, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: body})
}

// Relay builds a frame whose body is passed through untouched.
func Relay(event string, raw json.RawMessage) ([]byte, error) {
	if len(raw) == 0 {
		raw = json.RawMessage("null")
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// ParseRoomID reads the join-room body, which is the bare room id string.
// An object with a roomId field is accepted too.
func ParseRoomID(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var id string
	if err := json.Unmarshal(data, &id); err == nil {
		return id, nil
	}
	var obj struct {
		RoomID string `json:"roomId"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return "", fmt.Errorf("parse room id: %w", err)
	}
	return obj.RoomID, nil
}

// Unmarshal decodes an event body into v. An empty body leaves v zeroed.
func Unmarshal(data json.RawMessage, v any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode body: %w", err)
	}
	return nil
}
