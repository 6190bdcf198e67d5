package room

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrRoomNotFound is returned when a room is not resident in the registry.
var ErrRoomNotFound = errors.New("room not found")

// Eviction reasons reported to the Observer.
const (
	EvictCapacity = "capacity"
	EvictIdle     = "idle"
	EvictExplicit = "explicit"
	EvictPurge    = "purge"
)

// Observer receives registry lifecycle events. metrics.Metrics implements it.
type Observer interface {
	RoomCreated(restored bool)
	RoomEvicted(reason string)
	ResidentRooms(n int)
}

// Config bounds the registry.
type Config struct {
	// MaxRooms caps resident rooms; 0 means unbounded.
	MaxRooms       int
	// IdleTTL is how long a room without members stays resident; 0 disables
	// idle eviction.
	IdleTTL        time.Duration
	// HistoryLimit caps per-page history stacks and timelines.
	HistoryLimit   int
	// PageWindow bounds the page array listed to joining connections.
	PageWindow     int
	// ArchiveTimeout bounds each archive call.
	ArchiveTimeout time.Duration
}

// Registry maps room ids to resident rooms. Rooms are created on first
// reference and kept in least-recently-used order; rooms without members are
// evicted when the registry is full or they sit idle past the TTL. Evicted
// rooms are written to the archive, when one is configured, and restored
// from it on the next Ensure.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*list.Element
	lru   *list.List // front = most recently used

	config   Config
	archive  Archive
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

func NewRegistry(config Config, archive Archive, observer Observer, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if config.ArchiveTimeout <= 0 {
		config.ArchiveTimeout = 5 * time.Second
	}
	return &Registry{
		rooms:    make(map[string]*list.Element),
		lru:      list.New(),
		config:   config,
		archive:  archive,
		observer: observer,
		logger:   logger,
		now:      time.Now,
	}
}

// Ensure returns the resident room for id, restoring it from the archive or
// creating an empty one when it is not resident. The room is marked as
// most recently used.
func (reg *Registry) Ensure(ctx context.Context, id string) *Room {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	now := reg.now()
	if el, ok := reg.rooms[id]; ok {
		reg.lru.MoveToFront(el)
		r := el.Value.(*Room)
		r.touch(now)
		return r
	}

	if reg.config.MaxRooms > 0 && reg.lru.Len() >= reg.config.MaxRooms {
		if !reg.evictOneLocked(ctx) {
			reg.logger.Warn("room registry over capacity, all rooms have members",
				"max_rooms", reg.config.MaxRooms,
				"resident", reg.lru.Len())
		}
	}

	r, restored := reg.restoreLocked(ctx, id)
	if r == nil {
		r = NewRoom(id, reg.config.HistoryLimit, reg.config.PageWindow)
	}
	r.touch(now)
	reg.rooms[id] = reg.lru.PushFront(r)

	if reg.observer != nil {
		reg.observer.RoomCreated(restored)
		reg.observer.ResidentRooms(reg.lru.Len())
	}
	reg.logger.Debug("room created", "room_id", id, "restored", restored)
	return r
}

// Get returns a resident room without touching it.
func (reg *Registry) Get(id string) (*Room, bool) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	el, ok := reg.rooms[id]
	if !ok {
		return nil, false
	}
	return el.Value.(*Room), true
}

// Touch marks a resident room as recently used.
func (reg *Registry) Touch(id string) bool {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	el, ok := reg.rooms[id]
	if !ok {
		return false
	}
	reg.lru.MoveToFront(el)
	el.Value.(*Room).touch(reg.now())
	return true
}

// Evict archives and removes a room regardless of its members. Connections
// still in the room's broadcast group keep receiving relays; their next
// state-changing event recreates it.
func (reg *Registry) Evict(ctx context.Context, id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	el, ok := reg.rooms[id]
	if !ok {
		return ErrRoomNotFound
	}
	reg.removeLocked(ctx, el, EvictExplicit)
	return nil
}

// Purge discards a room for good. The resident copy is dropped without being
// archived and the archived copy, if any, is deleted. Like Evict it ignores
// members; their next state-changing event starts from a blank room.
func (reg *Registry) Purge(ctx context.Context, id string) error {
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if el, ok := reg.rooms[id]; ok {
		reg.lru.Remove(el)
		delete(reg.rooms, id)
		if reg.observer != nil {
			reg.observer.RoomEvicted(EvictPurge)
			reg.observer.ResidentRooms(reg.lru.Len())
		}
	}
	if reg.archive == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, reg.config.ArchiveTimeout)
	defer cancel()
	if err := reg.archive.DeleteState(ctx, id); err != nil {
		return fmt.Errorf("delete archived room %s: %w", id, err)
	}
	reg.logger.Info("room purged", "room_id", id)
	return nil
}

// EvictIdle removes every room that has no members and has been idle for
// longer than the configured TTL. It returns the number of evicted rooms.
func (reg *Registry) EvictIdle(ctx context.Context) int {
	if reg.config.IdleTTL <= 0 {
		return 0
	}
	reg.mu.Lock()
	defer reg.mu.Unlock()

	cutoff := reg.now().Add(-reg.config.IdleTTL)
	evicted := 0
	for el := reg.lru.Back(); el != nil; {
		prev := el.Prev()
		lastActive, members := el.Value.(*Room).idleSince()
		if members == 0 && lastActive.Before(cutoff) {
			reg.removeLocked(ctx, el, EvictIdle)
			evicted++
		}
		el = prev
	}
	return evicted
}

// Len returns the number of resident rooms.
func (reg *Registry) Len() int {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	return reg.lru.Len()
}

// List returns summaries of resident rooms, most recently used first.
func (reg *Registry) List() []Summary {
	reg.mu.Lock()
	rooms := make([]*Room, 0, reg.lru.Len())
	for el := reg.lru.Front(); el != nil; el = el.Next() {
		rooms = append(rooms, el.Value.(*Room))
	}
	reg.mu.Unlock()

	out := make([]Summary, len(rooms))
	for i, r := range rooms {
		out[i] = r.Summary()
	}
	return out
}

// Flush archives every resident room without evicting it. Used on shutdown.
func (reg *Registry) Flush(ctx context.Context) error {
	if reg.archive == nil {
		return nil
	}
	reg.mu.Lock()
	rooms := make([]*Room, 0, reg.lru.Len())
	for el := reg.lru.Front(); el != nil; el = el.Next() {
		rooms = append(rooms, el.Value.(*Room))
	}
	reg.mu.Unlock()

	var errs []error
	for _, r := range rooms {
		if err := reg.store(ctx, r); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// evictOneLocked removes the least recently used room without members.
func (reg *Registry) evictOneLocked(ctx context.Context) bool {
	for el := reg.lru.Back(); el != nil; el = el.Prev() {
		if el.Value.(*Room).Members() == 0 {
			reg.removeLocked(ctx, el, EvictCapacity)
			return true
		}
	}
	return false
}

func (reg *Registry) removeLocked(ctx context.Context, el *list.Element, reason string) {
	r := el.Value.(*Room)
	if err := reg.store(ctx, r); err != nil {
		reg.logger.Error("failed to archive room", "room_id", r.ID, "error", err)
	}
	reg.lru.Remove(el)
	delete(reg.rooms, r.ID)

	if reg.observer != nil {
		reg.observer.RoomEvicted(reason)
		reg.observer.ResidentRooms(reg.lru.Len())
	}
	reg.logger.Info("room evicted",
		"room_id", r.ID,
		"reason", reason,
		"remaining", reg.lru.Len())
}

func (reg *Registry) store(ctx context.Context, r *Room) error {
	if reg.archive == nil {
		return nil
	}
	data, err := EncodeState(r.Export())
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, reg.config.ArchiveTimeout)
	defer cancel()
	return reg.archive.SaveState(ctx, r.ID, data)
}

func (reg *Registry) restoreLocked(ctx context.Context, id string) (*Room, bool) {
	if reg.archive == nil {
		return nil, false
	}
	ctx, cancel := context.WithTimeout(ctx, reg.config.ArchiveTimeout)
	defer cancel()

	data, err := reg.archive.LoadState(ctx, id)
	if err != nil {
		reg.logger.Error("failed to load archived room", "room_id", id, "error", err)
		return nil, false
	}
	if data == nil {
		return nil, false
	}
	st, err := DecodeState(data)
	if err != nil {
		reg.logger.Error("discarding unreadable archived room", "room_id", id, "error", err)
		return nil, false
	}
	st.ID = id
	return FromState(st, reg.config.HistoryLimit, reg.config.PageWindow), true
}
