package room

// DefaultHistoryLimit matches the per-page cap the canvas client keeps on its
// own undo stack.
const DefaultHistoryLimit = 100

// HistoryTracker keeps per-page history and redo stacks that mirror the
// client-side stacks. The server never reads them back to decide page
// content.
type HistoryTracker struct {
	limit      int
	histories  map[int][]Snapshot
	redoStacks map[int][]Snapshot
}

func NewHistoryTracker(limit int) *HistoryTracker {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &HistoryTracker{
		limit:      limit,
		histories:  make(map[int][]Snapshot),
		redoStacks: make(map[int][]Snapshot),
	}
}

// Ensure creates both stacks for page i if they do not exist yet.
func (h *HistoryTracker) Ensure(i int) {
	if _, ok := h.histories[i]; !ok {
		h.histories[i] = make([]Snapshot, 0)
	}
	if _, ok := h.redoStacks[i]; !ok {
		h.redoStacks[i] = make([]Snapshot, 0)
	}
}

// MarkCleared appends an absent marker to page i's history.
func (h *HistoryTracker) MarkCleared(i int) {
	h.Ensure(i)
	h.histories[i] = capped(append(h.histories[i], nil), h.limit)
}

// History returns a copy of page i's history stack.
func (h *HistoryTracker) History(i int) []Snapshot {
	return append([]Snapshot(nil), h.histories[i]...)
}

// Redo returns a copy of page i's redo stack.
func (h *HistoryTracker) Redo(i int) []Snapshot {
	return append([]Snapshot(nil), h.redoStacks[i]...)
}

func (h *HistoryTracker) tracked(i int) bool {
	_, ok := h.histories[i]
	return ok
}

func (h *HistoryTracker) restore(i int, history, redo []Snapshot) {
	h.histories[i] = capped(append([]Snapshot{}, history...), h.limit)
	h.redoStacks[i] = capped(append([]Snapshot{}, redo...), h.limit)
}

func capped(s []Snapshot, limit int) []Snapshot {
	if len(s) <= limit {
		return s
	}
	return append(s[:0:0], s[len(s)-limit:]...)
}

// Timeline is the server's own log of committed snapshots for one page.
// Undo and redo move a cursor over the log instead of trusting a snapshot
// computed elsewhere.
type Timeline struct {
	limit   int
	entries []Snapshot
	cursor  int
}

func NewTimeline(limit int) *Timeline {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return &Timeline{
		limit:   limit,
		entries: []Snapshot{nil},
	}
}

// Commit records s as the newest state. Entries past the cursor are
// discarded.
func (t *Timeline) Commit(s Snapshot) {
	t.entries = append(t.entries[:t.cursor+1], s)
	// keep limit undo steps plus the current entry
	if over := len(t.entries) - (t.limit + 1); over > 0 {
		t.entries = append(t.entries[:0:0], t.entries[over:]...)
	}
	t.cursor = len(t.entries) - 1
}

// Back moves the cursor one entry towards the past.
func (t *Timeline) Back() (Snapshot, bool) {
	if t.cursor == 0 {
		return nil, false
	}
	t.cursor--
	return t.entries[t.cursor], true
}

// Forward moves the cursor one entry towards the most recent commit.
func (t *Timeline) Forward() (Snapshot, bool) {
	if t.cursor >= len(t.entries)-1 {
		return nil, false
	}
	t.cursor++
	return t.entries[t.cursor], true
}

// Len returns the number of retained entries.
func (t *Timeline) Len() int {
	return len(t.entries)
}
