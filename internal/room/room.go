package room

import (
	"sync"
	"time"
)

// Room is the authoritative state of one collaboration session: its pages,
// their history bookkeeping and the page cursor shared by every member.
type Room struct {
	ID string

	mu          sync.RWMutex
	pages       *PageStore
	history     *HistoryTracker
	timelines   map[int]*Timeline
	currentPage int
	limit       int

	createdAt  time.Time
	lastActive time.Time
	members    int
}

// View is what a joining connection needs to render the room.
type View struct {
	Pages        []Snapshot
	Versions     []uint64
	CurrentPage  int
	PageSnapshot Snapshot
	Version      uint64
}

// Summary describes a room for listings.
type Summary struct {
	ID          string
	PageCount   int
	CurrentPage int
	Members     int
	CreatedAt   time.Time
	LastActive  time.Time
}

// NewRoom creates an empty room with one absent page and the cursor on it.
// pageWindow bounds the listed page array; 0 means DefaultPageWindow.
func NewRoom(id string, historyLimit, pageWindow int) *Room {
	if historyLimit <= 0 {
		historyLimit = DefaultHistoryLimit
	}
	now := time.Now()
	r := &Room{
		ID:         id,
		pages:      NewPageStore(pageWindow),
		history:    NewHistoryTracker(historyLimit),
		timelines:  make(map[int]*Timeline),
		limit:      historyLimit,
		createdAt:  now,
		lastActive: now,
	}
	r.history.Ensure(0)
	return r
}

func (r *Room) timeline(i int) *Timeline {
	t, ok := r.timelines[i]
	if !ok {
		t = NewTimeline(r.limit)
		r.timelines[i] = t
	}
	return t
}

func (r *Room) write(i int, s Snapshot) uint64 {
	v := r.pages.Set(i, s)
	r.timeline(i).Commit(s)
	return v
}

// View returns the full page array, the cursor and the snapshot under it.
func (r *Room) View() View {
	r.mu.RLock()
	defer r.mu.RUnlock()
	pages, versions := r.pages.All()
	snap, version := r.pages.Get(r.currentPage)
	return View{
		Pages:        pages,
		Versions:     versions,
		CurrentPage:  r.currentPage,
		PageSnapshot: snap,
		Version:      version,
	}
}

// Page returns the snapshot stored at page i and its version.
func (r *Room) Page(i int) (Snapshot, uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.pages.Get(i)
}

// CurrentPage returns the room-wide page cursor.
func (r *Room) CurrentPage() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.currentPage
}

// SavePage overwrites page i with s. Last write wins; there is no version
// check against what the writer last saw.
func (r *Room) SavePage(i int, s Snapshot) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.write(i, s)
}

// ClearPage blanks page i and appends an absent marker to its history.
func (r *Room) ClearPage(i int) uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	v := r.write(i, nil)
	r.history.MarkCleared(i)
	return v
}

// ApplyUndo stores a snapshot the client computed from its own undo stack.
// The server cannot tell it apart from a save.
func (r *Room) ApplyUndo(i int, s Snapshot) uint64 {
	return r.SavePage(i, s)
}

// ApplyRedo is the redo counterpart of ApplyUndo.
func (r *Room) ApplyRedo(i int, s Snapshot) uint64 {
	return r.SavePage(i, s)
}

// ChangePage moves the shared cursor to n. Page n is created if missing;
// supplied only fills a blank page and never replaces stored content.
func (r *Room) ChangePage(n int, supplied Snapshot) (Snapshot, uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, version, wrote := r.pages.Fill(n, supplied)
	if wrote {
		r.timeline(n).Commit(snap)
	}
	r.history.Ensure(n)
	r.currentPage = n
	return snap, version
}

// StepBack moves page i one entry back along the server timeline and stores
// the result. ok is false when there is nothing to undo.
func (r *Room) StepBack(i int) (snap Snapshot, version uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok = r.timeline(i).Back()
	if !ok {
		return nil, 0, false
	}
	return snap, r.pages.Set(i, snap), true
}

// StepForward re-applies the next timeline entry of page i.
func (r *Room) StepForward(i int) (snap Snapshot, version uint64, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	snap, ok = r.timeline(i).Forward()
	if !ok {
		return nil, 0, false
	}
	return snap, r.pages.Set(i, snap), true
}

// History returns copies of page i's history and redo stacks.
func (r *Room) History(i int) (history, redo []Snapshot) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.history.History(i), r.history.Redo(i)
}

// SetMembers records how many connections are in the room's broadcast
// group. Rooms with members are never evicted.
func (r *Room) SetMembers(n int) {
	r.mu.Lock()
	if n != r.members {
		r.members = n
		r.lastActive = time.Now()
	}
	r.mu.Unlock()
}

// Members returns the number of attached connections.
func (r *Room) Members() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members
}

func (r *Room) touch(now time.Time) {
	r.mu.Lock()
	r.lastActive = now
	r.mu.Unlock()
}

func (r *Room) idleSince() (time.Time, int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastActive, r.members
}

// Summary returns listing metadata.
func (r *Room) Summary() Summary {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Summary{
		ID:          r.ID,
		PageCount:   r.pages.Len(),
		CurrentPage: r.currentPage,
		Members:     r.members,
		CreatedAt:   r.createdAt,
		LastActive:  r.lastActive,
	}
}
