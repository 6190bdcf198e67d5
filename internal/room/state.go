package room

import (
	"context"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Archive stores the encoded state of evicted rooms so a later join can bring
// them back. Load returns (nil, nil) when nothing is stored for roomID.
// Implementations must be safe for concurrent use.
type Archive interface {
	SaveState(ctx context.Context, roomID string, state []byte) error
	LoadState(ctx context.Context, roomID string) ([]byte, error)
	DeleteState(ctx context.Context, roomID string) error
}

// State is the serializable form of a Room.
type State struct {
	ID          string       `cbor:"1,keyasint"`
	CurrentPage int          `cbor:"2,keyasint"`
	Pages       []PageRecord `cbor:"3,keyasint"`
	CreatedAt   int64        `cbor:"4,keyasint"`
}

// PageRecord is one page of a State.
type PageRecord struct {
	Index    int        `cbor:"1,keyasint"`
	Snapshot Snapshot   `cbor:"2,keyasint"`
	Version  uint64     `cbor:"3,keyasint"`
	History  []Snapshot `cbor:"4,keyasint,omitempty"`
	Redo     []Snapshot `cbor:"5,keyasint,omitempty"`
	Timeline []Snapshot `cbor:"6,keyasint,omitempty"`
	Cursor   int        `cbor:"7,keyasint,omitempty"`
	Tracked  bool       `cbor:"8,keyasint,omitempty"`
}

// Export captures the room's full state.
func (r *Room) Export() *State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	st := &State{
		ID:          r.ID,
		CurrentPage: r.currentPage,
		CreatedAt:   r.createdAt.Unix(),
	}
	for _, i := range r.pages.Indices() {
		snap, version := r.pages.Get(i)
		rec := PageRecord{
			Index:    i,
			Snapshot: snap,
			Version:  version,
			Tracked:  r.history.tracked(i),
			History:  r.history.History(i),
			Redo:     r.history.Redo(i),
		}
		if t, ok := r.timelines[i]; ok {
			rec.Timeline = append([]Snapshot(nil), t.entries...)
			rec.Cursor = t.cursor
		}
		st.Pages = append(st.Pages, rec)
	}
	return st
}

// FromState rebuilds a room from an exported State.
func FromState(st *State, historyLimit, pageWindow int) *Room {
	r := NewRoom(st.ID, historyLimit, pageWindow)
	if st.CreatedAt > 0 {
		r.createdAt = time.Unix(st.CreatedAt, 0)
	}
	r.currentPage = st.CurrentPage
	for _, rec := range st.Pages {
		r.pages.restore(rec.Index, rec.Snapshot, rec.Version)
		if rec.Tracked {
			r.history.restore(rec.Index, rec.History, rec.Redo)
		}
		if len(rec.Timeline) > 0 {
			t := NewTimeline(r.limit)
			t.entries = append([]Snapshot(nil), rec.Timeline...)
			t.cursor = rec.Cursor
			if t.cursor < 0 || t.cursor >= len(t.entries) {
				t.cursor = len(t.entries) - 1
			}
			r.timelines[rec.Index] = t
		}
	}
	return r
}

// EncodeState serializes a State with CBOR.
func EncodeState(st *State) ([]byte, error) {
	data, err := cbor.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode room state: %w", err)
	}
	return data, nil
}

// DecodeState parses data produced by EncodeState.
func DecodeState(data []byte) (*State, error) {
	var st State
	if err := cbor.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decode room state: %w", err)
	}
	return &st, nil
}
