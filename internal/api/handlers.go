package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"runtime"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/manpreetbhatti/easel/internal/db"
	"github.com/manpreetbhatti/easel/internal/room"
	"github.com/manpreetbhatti/easel/internal/ws"
)

type API struct {
	hub      *ws.Hub
	registry *room.Registry
	// nil unless rooms are archived to SQLite
	database *db.Database
	proc     *process.Process
	logger   *slog.Logger
	started  time.Time
}

func New(hub *ws.Hub, registry *room.Registry, database *db.Database, logger *slog.Logger) *API {
	if logger == nil {
		logger = slog.Default()
	}
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("process stats unavailable", "error", err)
	}
	return &API{
		hub:      hub,
		registry: registry,
		database: database,
		proc:     proc,
		logger:   logger,
		started:  time.Now(),
	}
}

func (a *API) jsonResponse(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error("failed to encode JSON response", "error", err)
	}
}

func (a *API) errorResponse(w http.ResponseWriter, status int, message string) {
	a.jsonResponse(w, status, map[string]string{"error": message})
}

func (a *API) HealthHandler(w http.ResponseWriter, r *http.Request) {
	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (a *API) StatsHandler(w http.ResponseWriter, r *http.Request) {
	stats := map[string]interface{}{
		"active_rooms":   a.hub.GetRoomCount(),
		"active_clients": a.hub.GetClientCount(),
		"resident_rooms": a.registry.Len(),
		"goroutines":     runtime.NumGoroutine(),
		"uptime_seconds": int64(time.Since(a.started).Seconds()),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	}

	if a.proc != nil {
		if mem, err := a.proc.MemoryInfoWithContext(r.Context()); err == nil {
			stats["rss_bytes"] = mem.RSS
		}
	}

	if a.database != nil {
		dbStats, err := a.database.GetStats(r.Context())
		if err == nil {
			stats["archived_rooms"] = dbStats["archived_rooms"]
			stats["archived_bytes"] = dbStats["archived_bytes"]
		} else {
			a.logger.Warn("failed to read archive stats", "error", err)
		}
	}

	a.jsonResponse(w, http.StatusOK, stats)
}

// Room handlers

type RoomResponse struct {
	ID          string    `json:"id"`
	PageCount   int       `json:"page_count"`
	CurrentPage int       `json:"current_page"`
	ActiveUsers int       `json:"active_users"`
	CreatedAt   time.Time `json:"created_at"`
	LastActive  time.Time `json:"last_active"`
	Versions    []uint64  `json:"versions,omitempty"`
}

type CreateRoomRequest struct {
	ID string `json:"id"`
}

type PageResponse struct {
	PageIndex    int           `json:"page_index"`
	Version      uint64        `json:"version"`
	Snapshot     room.Snapshot `json:"snapshot"`
	HistoryDepth int           `json:"history_depth"`
	RedoDepth    int           `json:"redo_depth"`
}

func roomResponse(s room.Summary) RoomResponse {
	return RoomResponse{
		ID:          s.ID,
		PageCount:   s.PageCount,
		CurrentPage: s.CurrentPage,
		ActiveUsers: s.Members,
		CreatedAt:   s.CreatedAt,
		LastActive:  s.LastActive,
	}
}

func pagination(r *http.Request) (limit, offset int) {
	limit, _ = strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	offset, _ = strconv.Atoi(r.URL.Query().Get("offset"))
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

// ListRoomsHandler lists resident rooms, most recently used first.
func (a *API) ListRoomsHandler(w http.ResponseWriter, r *http.Request) {
	limit, offset := pagination(r)

	summaries := a.registry.List()
	if offset > len(summaries) {
		offset = len(summaries)
	}
	end := offset + limit
	if end > len(summaries) {
		end = len(summaries)
	}

	response := make([]RoomResponse, 0, end-offset)
	for _, s := range summaries[offset:end] {
		response = append(response, roomResponse(s))
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  response,
		"total":  len(summaries),
		"limit":  limit,
		"offset": offset,
	})
}

// CreateRoomHandler makes a room resident ahead of the first join.
func (a *API) CreateRoomHandler(w http.ResponseWriter, r *http.Request) {
	var req CreateRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.ID == "" {
		a.errorResponse(w, http.StatusBadRequest, "Room ID is required")
		return
	}

	rm := a.registry.Ensure(r.Context(), req.ID)
	a.jsonResponse(w, http.StatusCreated, roomResponse(rm.Summary()))
}

func (a *API) GetRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	rm, ok := a.registry.Get(roomID)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	response := roomResponse(rm.Summary())
	response.Versions = rm.View().Versions
	a.jsonResponse(w, http.StatusOK, response)
}

// DeleteRoomHandler evicts a resident room. Its state goes to the archive
// first, so a later join restores it.
func (a *API) DeleteRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if err := a.registry.Evict(r.Context(), roomID); err != nil {
		if errors.Is(err, room.ErrRoomNotFound) {
			a.errorResponse(w, http.StatusNotFound, "Room not found")
			return
		}
		a.errorResponse(w, http.StatusInternalServerError, "Failed to evict room")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Room evicted"})
}

func (a *API) GetPageHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil {
		a.errorResponse(w, http.StatusBadRequest, "Invalid page index")
		return
	}

	rm, ok := a.registry.Get(roomID)
	if !ok {
		a.errorResponse(w, http.StatusNotFound, "Room not found")
		return
	}

	snap, version := rm.Page(index)
	history, redo := rm.History(index)
	a.jsonResponse(w, http.StatusOK, PageResponse{
		PageIndex:    index,
		Version:      version,
		Snapshot:     snap,
		HistoryDepth: len(history),
		RedoDepth:    len(redo),
	})
}

// ListArchivedHandler lists rooms held in the SQLite archive.
func (a *API) ListArchivedHandler(w http.ResponseWriter, r *http.Request) {
	if a.database == nil {
		a.errorResponse(w, http.StatusNotImplemented, "Archive listing requires the sqlite archive")
		return
	}

	limit, offset := pagination(r)
	rooms, err := a.database.ListArchived(r.Context(), limit, offset)
	if err != nil {
		a.logger.Error("failed to list archived rooms", "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to list archived rooms")
		return
	}
	if rooms == nil {
		rooms = []db.ArchivedRoom{}
	}

	a.jsonResponse(w, http.StatusOK, map[string]interface{}{
		"rooms":  rooms,
		"limit":  limit,
		"offset": offset,
	})
}

// PurgeRoomHandler drops a room from memory and from the archive.
func (a *API) PurgeRoomHandler(w http.ResponseWriter, r *http.Request) {
	roomID := chi.URLParam(r, "id")

	if err := a.registry.Purge(r.Context(), roomID); err != nil {
		a.logger.Error("failed to purge room", "room_id", roomID, "error", err)
		a.errorResponse(w, http.StatusInternalServerError, "Failed to purge room")
		return
	}

	a.jsonResponse(w, http.StatusOK, map[string]string{"message": "Room purged"})
}
