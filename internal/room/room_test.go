package room

import (
	"encoding/json"
	"testing"
)

func TestNewRoomIsBlank(t *testing.T) {
	r := NewRoom("r1", 0, 0)

	view := r.View()
	if len(view.Pages) != 1 {
		t.Fatalf("Expected 1 page, got %d", len(view.Pages))
	}
	if !view.Pages[0].Absent() {
		t.Errorf("Expected page 0 absent, got %v", view.Pages[0])
	}
	if view.CurrentPage != 0 {
		t.Errorf("Expected current page 0, got %d", view.CurrentPage)
	}
	if !view.PageSnapshot.Absent() {
		t.Errorf("Expected absent page snapshot, got %v", view.PageSnapshot)
	}
}

func TestSavePageLastWriteWins(t *testing.T) {
	r := NewRoom("r1", 0, 0)

	v1 := r.SavePage(0, Snapshot("d1"))
	v2 := r.SavePage(0, Snapshot("d2"))
	if v2 <= v1 {
		t.Errorf("Expected version to grow, got %d then %d", v1, v2)
	}

	snap, version := r.Page(0)
	if string(snap) != "d2" {
		t.Errorf("Expected d2, got %v", snap)
	}
	if version != v2 {
		t.Errorf("Expected version %d, got %d", v2, version)
	}
}

func TestClearThenSave(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.SavePage(2, Snapshot("old"))

	r.ClearPage(2)
	if snap, _ := r.Page(2); !snap.Absent() {
		t.Fatalf("Expected page 2 absent after clear, got %v", snap)
	}

	r.SavePage(2, Snapshot("S"))
	if snap, _ := r.Page(2); string(snap) != "S" {
		t.Errorf("Expected S, got %v", snap)
	}

	history, _ := r.History(2)
	if len(history) != 1 || !history[0].Absent() {
		t.Errorf("Expected one absent marker in history, got %v", history)
	}
}

func TestSparsePages(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.SavePage(4, Snapshot("far"))

	view := r.View()
	if len(view.Pages) != 5 {
		t.Fatalf("Expected 5 pages, got %d", len(view.Pages))
	}
	for i := 1; i < 4; i++ {
		if !view.Pages[i].Absent() {
			t.Errorf("Expected hole at %d, got %v", i, view.Pages[i])
		}
	}
	if string(view.Pages[4]) != "far" {
		t.Errorf("Expected far at 4, got %v", view.Pages[4])
	}
}

func TestNegativePageIndex(t *testing.T) {
	r := NewRoom("r1", 0, 0)

	snap, _ := r.ChangePage(-3, Snapshot("neg"))
	if string(snap) != "neg" {
		t.Errorf("Expected neg, got %v", snap)
	}
	if r.CurrentPage() != -3 {
		t.Errorf("Expected cursor -3, got %d", r.CurrentPage())
	}

	view := r.View()
	if len(view.Pages) != 1 {
		t.Errorf("Negative pages should not extend the array view, got %d", len(view.Pages))
	}
	if string(view.PageSnapshot) != "neg" {
		t.Errorf("Expected page snapshot neg, got %v", view.PageSnapshot)
	}
}

func TestChangePageOnlyFillsHoles(t *testing.T) {
	tests := []struct {
		name     string
		stored   Snapshot
		supplied Snapshot
		want     Snapshot
	}{
		{name: "hole filled", stored: nil, supplied: Snapshot("s"), want: Snapshot("s")},
		{name: "stored kept", stored: Snapshot("a"), supplied: Snapshot("s"), want: Snapshot("a")},
		{name: "both absent", stored: nil, supplied: nil, want: nil},
		{name: "empty stored replaced", stored: Snapshot{}, supplied: Snapshot("s"), want: Snapshot("s")},
		{name: "empty stored normalized", stored: Snapshot{}, supplied: nil, want: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRoom("r1", 0, 0)
			if tt.stored != nil {
				r.SavePage(1, tt.stored)
			}
			got, _ := r.ChangePage(1, tt.supplied)
			if !got.Equal(tt.want) {
				t.Errorf("Expected %v, got %v", tt.want, got)
			}
			if stored, _ := r.Page(1); !stored.Equal(tt.want) {
				t.Errorf("Expected stored %v, got %v", tt.want, stored)
			}
		})
	}
}

func TestChangePageIdempotent(t *testing.T) {
	r := NewRoom("r1", 0, 0)

	snap1, v1 := r.ChangePage(3, Snapshot("x"))
	snap2, v2 := r.ChangePage(3, Snapshot("x"))

	if !snap1.Equal(snap2) {
		t.Errorf("Expected same snapshot, got %v and %v", snap1, snap2)
	}
	if v1 != v2 {
		t.Errorf("Expected version unchanged, got %d then %d", v1, v2)
	}
	if r.CurrentPage() != 3 {
		t.Errorf("Expected cursor 3, got %d", r.CurrentPage())
	}

	history, redo := r.History(3)
	if history == nil || redo == nil {
		t.Error("Expected history and redo stacks to exist for page 3")
	}
}

func TestUndoIsOverwrite(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.SavePage(0, Snapshot("a"))

	r.ApplyUndo(0, Snapshot("u"))
	r.ApplyRedo(0, Snapshot("r"))

	if snap, _ := r.Page(0); string(snap) != "r" {
		t.Errorf("Expected last processed snapshot r, got %v", snap)
	}
}

func TestStepBackAndForward(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.SavePage(0, Snapshot("a"))
	r.SavePage(0, Snapshot("b"))

	snap, _, ok := r.StepBack(0)
	if !ok || string(snap) != "a" {
		t.Fatalf("Expected step back to a, got %v (%v)", snap, ok)
	}
	if stored, _ := r.Page(0); string(stored) != "a" {
		t.Errorf("Expected stored a, got %v", stored)
	}

	snap, _, ok = r.StepBack(0)
	if !ok || !snap.Absent() {
		t.Fatalf("Expected step back to blank page, got %v (%v)", snap, ok)
	}

	if _, _, ok = r.StepBack(0); ok {
		t.Error("Expected no further undo")
	}

	snap, _, ok = r.StepForward(0)
	if !ok || string(snap) != "a" {
		t.Fatalf("Expected step forward to a, got %v (%v)", snap, ok)
	}

	r.SavePage(0, Snapshot("c"))
	if _, _, ok = r.StepForward(0); ok {
		t.Error("A new write should discard the redo branch")
	}
}

func TestTimelineLimit(t *testing.T) {
	tl := NewTimeline(2)
	tl.Commit(Snapshot("a"))
	tl.Commit(Snapshot("b"))
	tl.Commit(Snapshot("c"))

	if tl.Len() != 3 {
		t.Fatalf("Expected 3 entries, got %d", tl.Len())
	}
	snap, _ := tl.Back()
	if string(snap) != "b" {
		t.Errorf("Expected b, got %v", snap)
	}
	snap, _ = tl.Back()
	if string(snap) != "a" {
		t.Errorf("Expected a, got %v", snap)
	}
	if _, ok := tl.Back(); ok {
		t.Error("Expected oldest entry to be trimmed")
	}
}

func TestHistoryTrackerCap(t *testing.T) {
	h := NewHistoryTracker(3)
	for i := 0; i < 5; i++ {
		h.MarkCleared(7)
	}
	if got := len(h.History(7)); got != 3 {
		t.Errorf("Expected 3 history entries, got %d", got)
	}
}

func TestSnapshotJSON(t *testing.T) {
	type payload struct {
		Snap Snapshot `json:"snap"`
	}

	data, err := json.Marshal(payload{})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if string(data) != `{"snap":null}` {
		t.Errorf("Expected null snapshot, got %s", data)
	}

	data, _ = json.Marshal(payload{Snap: Snapshot("data:image/png;base64,AAA")})
	if string(data) != `{"snap":"data:image/png;base64,AAA"}` {
		t.Errorf("Expected string snapshot, got %s", data)
	}

	var p payload
	if err := json.Unmarshal([]byte(`{"snap":""}`), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if p.Snap.Absent() {
		t.Error("Empty string should not decode as absent")
	}

	p = payload{Snap: Snapshot("x")}
	if err := json.Unmarshal([]byte(`{"snap":null}`), &p); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !p.Snap.Absent() {
		t.Errorf("Expected absent, got %v", p.Snap)
	}
}

func TestStateRoundTrip(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.SavePage(0, Snapshot("a"))
	r.ClearPage(1)
	r.ChangePage(-2, Snapshot("n"))
	r.SavePage(0, Snapshot("b"))

	data, err := EncodeState(r.Export())
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	st, err := DecodeState(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	restored := FromState(st, 0, 0)

	if restored.CurrentPage() != -2 {
		t.Errorf("Expected cursor -2, got %d", restored.CurrentPage())
	}
	for _, i := range []int{-2, 0, 1} {
		want, wantVersion := r.Page(i)
		got, gotVersion := restored.Page(i)
		if !got.Equal(want) || gotVersion != wantVersion {
			t.Errorf("Page %d: expected %v@%d, got %v@%d", i, want, wantVersion, got, gotVersion)
		}
	}

	history, _ := restored.History(1)
	if len(history) != 1 || !history[0].Absent() {
		t.Errorf("Expected clear marker restored, got %v", history)
	}

	snap, _, ok := restored.StepBack(0)
	if !ok || string(snap) != "a" {
		t.Errorf("Expected timeline restored, got %v (%v)", snap, ok)
	}
}

func TestViewIgnoresPagesPastWindow(t *testing.T) {
	tests := []struct {
		name    string
		index   int
		wantLen int
	}{
		{"inside window", 3, 4},
		{"last slot of window", 7, 8},
		{"at window", 8, 1},
		{"far beyond", 1 << 40, 1},
		{"max int", int(^uint(0) >> 1), 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRoom("r1", 0, 8)
			r.SavePage(tt.index, Snapshot("far"))

			view := r.View()
			if len(view.Pages) != tt.wantLen {
				t.Errorf("Expected %d pages, got %d", tt.wantLen, len(view.Pages))
			}
			if len(view.Versions) != tt.wantLen {
				t.Errorf("Expected %d versions, got %d", tt.wantLen, len(view.Versions))
			}
			if snap, _ := r.Page(tt.index); string(snap) != "far" {
				t.Errorf("Expected page %d stored, got %v", tt.index, snap)
			}
			if got := r.Summary().PageCount; got != tt.wantLen {
				t.Errorf("Expected page count %d, got %d", tt.wantLen, got)
			}
		})
	}
}

func TestCursorPastWindowStillSeesPage(t *testing.T) {
	r := NewRoom("r1", 0, 0)
	r.ChangePage(1<<40, Snapshot("far"))

	view := r.View()
	if len(view.Pages) != 1 {
		t.Errorf("Expected 1 listed page, got %d", len(view.Pages))
	}
	if view.CurrentPage != 1<<40 {
		t.Errorf("Expected cursor %d, got %d", 1<<40, view.CurrentPage)
	}
	if string(view.PageSnapshot) != "far" {
		t.Errorf("Expected page snapshot far, got %v", view.PageSnapshot)
	}
}
