package room

import "sort"

// DefaultPageWindow bounds the array view of a room. Pages at or beyond the
// window are stored and addressable by index but are not listed.
const DefaultPageWindow = 1024

type page struct {
	snapshot Snapshot
	version  uint64
}

// PageStore holds a room's page snapshots keyed by page index. Any integer
// index is accepted; indices never written read back as absent.
type PageStore struct {
	pages  map[int]*page
	window int
}

// NewPageStore returns a store holding a single absent page at index 0. The
// array view covers indices below window; window <= 0 means
// DefaultPageWindow.
func NewPageStore(window int) *PageStore {
	if window <= 0 {
		window = DefaultPageWindow
	}
	return &PageStore{
		pages:  map[int]*page{0: {}},
		window: window,
	}
}

func (ps *PageStore) slot(i int) *page {
	p, ok := ps.pages[i]
	if !ok {
		p = &page{}
		ps.pages[i] = p
	}
	return p
}

// Get returns the snapshot stored at i and its version.
func (ps *PageStore) Get(i int) (Snapshot, uint64) {
	p, ok := ps.pages[i]
	if !ok {
		return nil, 0
	}
	return p.snapshot, p.version
}

// Set stores s at i unconditionally and returns the page's new version.
func (ps *PageStore) Set(i int, s Snapshot) uint64 {
	p := ps.slot(i)
	p.snapshot = s
	p.version++
	return p.version
}

// Fill materializes page i. The stored value is only replaced when it is
// blank, and then with s (or absent when s is blank too). It returns the
// stored value, its version and whether a write happened.
func (ps *PageStore) Fill(i int, s Snapshot) (Snapshot, uint64, bool) {
	p := ps.slot(i)
	if !p.snapshot.blank() {
		return p.snapshot, p.version, false
	}
	next := s
	if next.blank() {
		next = nil
	}
	if next.Equal(p.snapshot) {
		return p.snapshot, p.version, false
	}
	p.snapshot = next
	p.version++
	return p.snapshot, p.version, true
}

// Len is the length of the array view: the highest materialized index inside
// the window plus one.
func (ps *PageStore) Len() int {
	n := 0
	for i := range ps.pages {
		// i < window keeps i+1 from overflowing
		if i >= n && i < ps.window {
			n = i + 1
		}
	}
	return n
}

// All returns the array view of pages 0..Len()-1 with holes as absent.
// Negative indices and indices past the window are kept in the store but are
// not part of the view.
func (ps *PageStore) All() ([]Snapshot, []uint64) {
	n := ps.Len()
	snaps := make([]Snapshot, n)
	versions := make([]uint64, n)
	for i, p := range ps.pages {
		if i < 0 || i >= n {
			continue
		}
		snaps[i] = p.snapshot
		versions[i] = p.version
	}
	return snaps, versions
}

// Indices returns every materialized index in ascending order, including
// negative ones.
func (ps *PageStore) Indices() []int {
	idx := make([]int, 0, len(ps.pages))
	for i := range ps.pages {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}

func (ps *PageStore) restore(i int, s Snapshot, version uint64) {
	p := ps.slot(i)
	p.snapshot = s
	p.version = version
}
