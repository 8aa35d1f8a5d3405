package api

import (
	"context"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/storage"
)

// UserStore is the read surface behind the per-user endpoints.
type UserStore interface {
	GetUser(ctx context.Context, idOrEmail string) (*database.User, error)
	GetDailySummary(ctx context.Context, userID, dateLocal, timezone string) (*database.DailySummary, error)
	ListDetectionsForDay(ctx context.Context, userID, dateLocal, timezone string, limit, offset int) ([]database.DetectionRow, error)
	ListProcessingLogs(ctx context.Context, userID, fromDate, toDate string) ([]database.ProcessingLogRow, error)
}

// ClipArchive resolves archived clips to a download URL. Optional.
type ClipArchive interface {
	URL(ctx context.Context, key string) (string, error)
}

type UserHandler struct {
	store   UserStore
	layout  storage.Layout
	archive ClipArchive // nil when S3 archival is disabled
}

func NewUserHandler(store UserStore, layout storage.Layout, archive ClipArchive) *UserHandler {
	return &UserHandler{store: store, layout: layout, archive: archive}
}

// Routes registers onto the per-user subrouter ({user} already bound).
func (h *UserHandler) Routes(r chi.Router) {
	r.Get("/summary", h.Summary)
	r.Get("/detections", h.Detections)
	r.Get("/logs", h.Logs)
	r.Get("/clips/{name}", h.Clip)
}

func (h *UserHandler) resolveUser(w http.ResponseWriter, r *http.Request) *database.User {
	u, err := h.store.GetUser(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "user not found")
		return nil
	}
	return u
}

// todayFor computes the user's current local date, for the date-param
// default.
func todayFor(u *database.User) string {
	loc, err := time.LoadLocation(u.Timezone)
	if err != nil {
		loc = time.UTC
	}
	return time.Now().In(loc).Format("2006-01-02")
}

func (h *UserHandler) Summary(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}
	date, ok := QueryDate(r, "date", todayFor(u))
	if !ok {
		WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}

	summary, err := h.store.GetDailySummary(r.Context(), u.ID, date, u.Timezone)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("summary query failed")
		WriteError(w, http.StatusInternalServerError, "summary query failed")
		return
	}
	WriteJSON(w, http.StatusOK, summary)
}

type detectionItem struct {
	database.DetectionRow
	ClipName string `json:"clip_name"`
	ClipURL  string `json:"clip_url,omitempty"`
}

func (h *UserHandler) Detections(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}
	date, ok := QueryDate(r, "date", todayFor(u))
	if !ok {
		WriteError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	p := ParsePagination(r)

	rows, err := h.store.ListDetectionsForDay(r.Context(), u.ID, date, u.Timezone, p.Limit, p.Offset)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("detections query failed")
		WriteError(w, http.StatusInternalServerError, "detections query failed")
		return
	}

	items := make([]detectionItem, 0, len(rows))
	for _, d := range rows {
		item := detectionItem{DetectionRow: d, ClipName: filepath.Base(d.ClipPath)}
		if h.archive != nil {
			if url, err := h.archive.URL(r.Context(), u.ID+"/"+item.ClipName); err == nil {
				item.ClipURL = url
			}
		}
		items = append(items, item)
	}

	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id":    u.ID,
		"date_local": date,
		"detections": items,
	})
}

func (h *UserHandler) Logs(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}
	today := todayFor(u)
	weekAgo := time.Now().UTC().AddDate(0, 0, -7).Format("2006-01-02")
	from, okFrom := QueryDate(r, "from", weekAgo)
	to, okTo := QueryDate(r, "to", today)
	if !okFrom || !okTo {
		WriteError(w, http.StatusBadRequest, "from/to must be YYYY-MM-DD")
		return
	}

	logs, err := h.store.ListProcessingLogs(r.Context(), u.ID, from, to)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("logs query failed")
		WriteError(w, http.StatusInternalServerError, "logs query failed")
		return
	}
	WriteJSON(w, http.StatusOK, map[string]any{
		"user_id": u.ID,
		"from":    from,
		"to":      to,
		"logs":    logs,
	})
}

// Clip serves one clip WAV from local disk, redirecting to the archive
// when configured.
func (h *UserHandler) Clip(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}
	name := chi.URLParam(r, "name")
	if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".wav") {
		WriteError(w, http.StatusBadRequest, "invalid clip name")
		return
	}

	path := filepath.Join(h.layout.ClipsDir(u.ID), name)
	if storage.FileExists(path) {
		w.Header().Set("Content-Type", "audio/wav")
		http.ServeFile(w, r, path)
		return
	}

	if h.archive != nil {
		if url, err := h.archive.URL(r.Context(), u.ID+"/"+name); err == nil {
			http.Redirect(w, r, url, http.StatusTemporaryRedirect)
			return
		}
	}
	WriteError(w, http.StatusNotFound, "clip not found")
}
