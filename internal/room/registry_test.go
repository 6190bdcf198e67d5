package room

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"
)

type memoryArchive struct {
	mu     sync.Mutex
	states map[string][]byte
}

func newMemoryArchive() *memoryArchive {
	return &memoryArchive{states: make(map[string][]byte)}
}

func (m *memoryArchive) SaveState(ctx context.Context, roomID string, state []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[roomID] = state
	return nil
}

func (m *memoryArchive) LoadState(ctx context.Context, roomID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.states[roomID], nil
}

func (m *memoryArchive) DeleteState(ctx context.Context, roomID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.states, roomID)
	return nil
}

type countingObserver struct {
	created  int
	restored int
	evicted  map[string]int
	resident int
}

func (o *countingObserver) RoomCreated(restored bool) {
	o.created++
	if restored {
		o.restored++
	}
}

func (o *countingObserver) RoomEvicted(reason string) {
	if o.evicted == nil {
		o.evicted = make(map[string]int)
	}
	o.evicted[reason]++
}

func (o *countingObserver) ResidentRooms(n int) {
	o.resident = n
}

func TestRegistryEnsure(t *testing.T) {
	reg := NewRegistry(Config{}, nil, nil, nil)
	ctx := context.Background()

	r1 := reg.Ensure(ctx, "test-room")
	if r1 == nil {
		t.Fatal("Room should not be nil")
	}

	r2 := reg.Ensure(ctx, "test-room")
	if r1 != r2 {
		t.Error("Should return same room instance")
	}

	r3 := reg.Ensure(ctx, "other-room")
	if r1 == r3 {
		t.Error("Different ids should have different rooms")
	}

	if reg.Len() != 2 {
		t.Errorf("Expected 2 rooms, got %d", reg.Len())
	}
}

func TestRegistryAcceptsAnyID(t *testing.T) {
	reg := NewRegistry(Config{}, nil, nil, nil)
	for _, id := range []string{"", " ", "room/with/slashes", "💥"} {
		r := reg.Ensure(context.Background(), id)
		if r.ID != id {
			t.Errorf("Expected id %q, got %q", id, r.ID)
		}
	}
}

func TestRegistryConcurrentEnsure(t *testing.T) {
	reg := NewRegistry(Config{}, nil, nil, nil)

	var wg sync.WaitGroup
	rooms := make([]*Room, 50)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rooms[i] = reg.Ensure(context.Background(), "shared")
		}(i)
	}
	wg.Wait()

	for _, r := range rooms {
		if r != rooms[0] {
			t.Fatal("Concurrent Ensure returned different rooms")
		}
	}
}

func TestRegistryCapacityEvictsLRU(t *testing.T) {
	archive := newMemoryArchive()
	obs := &countingObserver{}
	reg := NewRegistry(Config{MaxRooms: 2}, archive, obs, nil)
	ctx := context.Background()

	reg.Ensure(ctx, "a").SavePage(0, Snapshot("A"))
	reg.Ensure(ctx, "b")
	reg.Ensure(ctx, "a") // a is now most recently used
	reg.Ensure(ctx, "c")

	if _, ok := reg.Get("b"); ok {
		t.Error("Expected b to be evicted as least recently used")
	}
	if _, ok := reg.Get("a"); !ok {
		t.Error("Expected a to stay resident")
	}
	if reg.Len() != 2 {
		t.Errorf("Expected 2 resident rooms, got %d", reg.Len())
	}
	if obs.evicted[EvictCapacity] != 1 {
		t.Errorf("Expected 1 capacity eviction, got %d", obs.evicted[EvictCapacity])
	}
	if _, ok := archive.states["b"]; !ok {
		t.Error("Evicted room should be archived")
	}
}

func TestRegistryCapacitySkipsRoomsWithMembers(t *testing.T) {
	reg := NewRegistry(Config{MaxRooms: 1}, nil, nil, nil)
	ctx := context.Background()

	reg.Ensure(ctx, "busy").SetMembers(2)
	reg.Ensure(ctx, "next")

	if _, ok := reg.Get("busy"); !ok {
		t.Error("Room with members must not be evicted")
	}
	if reg.Len() != 2 {
		t.Errorf("Expected registry to exceed capacity, got %d rooms", reg.Len())
	}
}

func TestRegistryEvictIdle(t *testing.T) {
	reg := NewRegistry(Config{IdleTTL: time.Minute}, nil, nil, nil)
	ctx := context.Background()
	base := time.Now()
	reg.now = func() time.Time { return base }

	reg.Ensure(ctx, "idle")
	reg.Ensure(ctx, "occupied").SetMembers(1)

	reg.now = func() time.Time { return base.Add(90 * time.Second) }
	reg.Ensure(ctx, "recent")

	reg.now = func() time.Time { return base.Add(2 * time.Minute) }
	if n := reg.EvictIdle(ctx); n != 1 {
		t.Errorf("Expected 1 eviction, got %d", n)
	}

	if _, ok := reg.Get("idle"); ok {
		t.Error("Idle room should be evicted")
	}
	if _, ok := reg.Get("occupied"); !ok {
		t.Error("Occupied room should stay")
	}
	if _, ok := reg.Get("recent"); !ok {
		t.Error("Recently used room should stay")
	}
}

func TestRegistryEvictIdleDisabled(t *testing.T) {
	reg := NewRegistry(Config{}, nil, nil, nil)
	reg.Ensure(context.Background(), "a")
	if n := reg.EvictIdle(context.Background()); n != 0 {
		t.Errorf("Expected no evictions without TTL, got %d", n)
	}
}

func TestRegistryRestoresFromArchive(t *testing.T) {
	archive := newMemoryArchive()
	obs := &countingObserver{}
	reg := NewRegistry(Config{}, archive, obs, nil)
	ctx := context.Background()

	r := reg.Ensure(ctx, "persisted")
	r.SavePage(0, Snapshot("d1"))
	r.ChangePage(1, nil)

	if err := reg.Evict(ctx, "persisted"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	if err := reg.Evict(ctx, "persisted"); err != ErrRoomNotFound {
		t.Errorf("Expected ErrRoomNotFound, got %v", err)
	}

	restored := reg.Ensure(ctx, "persisted")
	if restored == r {
		t.Fatal("Expected a rebuilt room instance")
	}
	if snap, _ := restored.Page(0); string(snap) != "d1" {
		t.Errorf("Expected d1, got %v", snap)
	}
	if restored.CurrentPage() != 1 {
		t.Errorf("Expected cursor 1, got %d", restored.CurrentPage())
	}
	if obs.restored != 1 {
		t.Errorf("Expected 1 restore, got %d", obs.restored)
	}
}

func TestRegistryPurge(t *testing.T) {
	archive := newMemoryArchive()
	obs := &countingObserver{}
	reg := NewRegistry(Config{}, archive, obs, nil)
	ctx := context.Background()

	reg.Ensure(ctx, "archived").SavePage(0, Snapshot("old"))
	if err := reg.Evict(ctx, "archived"); err != nil {
		t.Fatalf("Evict failed: %v", err)
	}
	reg.Ensure(ctx, "resident").SavePage(0, Snapshot("live"))

	for _, id := range []string{"archived", "resident", "never-seen"} {
		if err := reg.Purge(ctx, id); err != nil {
			t.Errorf("Purge(%s) failed: %v", id, err)
		}
	}

	if len(archive.states) != 0 {
		t.Errorf("Expected empty archive, got %d states", len(archive.states))
	}
	if reg.Len() != 0 {
		t.Errorf("Expected no resident rooms, got %d", reg.Len())
	}
	if obs.evicted[EvictPurge] != 1 {
		t.Errorf("Expected 1 purge eviction, got %d", obs.evicted[EvictPurge])
	}

	if snap, _ := reg.Ensure(ctx, "archived").Page(0); !snap.Absent() {
		t.Errorf("Purged room should come back blank, got %v", snap)
	}
}

func TestRegistryFlush(t *testing.T) {
	archive := newMemoryArchive()
	reg := NewRegistry(Config{}, archive, nil, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		reg.Ensure(ctx, fmt.Sprintf("room-%d", i))
	}
	if err := reg.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(archive.states) != 3 {
		t.Errorf("Expected 3 archived rooms, got %d", len(archive.states))
	}
	if reg.Len() != 3 {
		t.Errorf("Flush should not evict, got %d resident", reg.Len())
	}
}

func TestRegistryList(t *testing.T) {
	reg := NewRegistry(Config{}, nil, nil, nil)
	ctx := context.Background()
	reg.Ensure(ctx, "first")
	reg.Ensure(ctx, "second")

	list := reg.List()
	if len(list) != 2 {
		t.Fatalf("Expected 2 summaries, got %d", len(list))
	}
	if list[0].ID != "second" {
		t.Errorf("Expected most recent room first, got %s", list[0].ID)
	}
}
