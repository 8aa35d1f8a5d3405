package api

import (
	"context"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/snarg/laughtrack/internal/database"
	"github.com/snarg/laughtrack/internal/pipeline"
	"github.com/snarg/laughtrack/internal/secrets"
	"github.com/snarg/laughtrack/internal/storage"
)

// CredentialStore persists encrypted upstream credentials.
type CredentialStore interface {
	SetCredential(ctx context.Context, userID, encryptedSecret string) error
}

// Wiper removes all stored rows for one user.
type Wiper interface {
	DeleteUserData(ctx context.Context, userID string) error
}

// ProcessHandler exposes the admin endpoints: manual pipeline triggers,
// credential rotation, and full user data wipes.
type ProcessHandler struct {
	users     pipeline.UserDirectory
	creds     CredentialStore
	wiper     Wiper
	box       *secrets.Box
	newRunner pipeline.RunnerFactory
	layout    storage.Layout
	log       zerolog.Logger

	mu      sync.Mutex
	running map[string]bool
}

func NewProcessHandler(users pipeline.UserDirectory, creds CredentialStore, wiper Wiper, box *secrets.Box, newRunner pipeline.RunnerFactory, layout storage.Layout, log zerolog.Logger) *ProcessHandler {
	return &ProcessHandler{
		users:     users,
		creds:     creds,
		wiper:     wiper,
		box:       box,
		newRunner: newRunner,
		layout:    layout,
		log:       log.With().Str("component", "api").Logger(),
		running:   map[string]bool{},
	}
}

// Routes registers onto the per-user subrouter ({user} already bound).
func (h *ProcessHandler) Routes(r chi.Router) {
	r.Post("/process", h.Trigger)
	r.Put("/credential", h.SetCredential)
	r.Delete("/data", h.Wipe)
}

func (h *ProcessHandler) resolveUser(w http.ResponseWriter, r *http.Request) *database.User {
	u, err := h.users.GetUser(r.Context(), chi.URLParam(r, "user"))
	if err != nil {
		WriteError(w, http.StatusNotFound, "user not found")
		return nil
	}
	return u
}

type ProcessRequest struct {
	Mode string `json:"mode"`
	From string `json:"from,omitempty"`
	To   string `json:"to,omitempty"`
}

// Trigger starts a pipeline run for one user in the background and
// returns 202. Concurrent runs for the same user are rejected; the
// pipeline's overlap checks make a duplicate run harmless but there is
// no point burning upstream quota on one.
func (h *ProcessHandler) Trigger(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}

	req := ProcessRequest{Mode: "update-today"}
	if r.ContentLength > 0 {
		if err := DecodeJSON(r, &req); err != nil {
			WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	}
	if req.Mode == "" {
		req.Mode = "update-today"
	}

	switch req.Mode {
	case "update-today", "nightly", "reconcile":
	case "reprocess":
		if _, err := time.Parse("2006-01-02", req.From); err != nil {
			WriteError(w, http.StatusBadRequest, "reprocess requires from=YYYY-MM-DD")
			return
		}
		if req.To == "" {
			req.To = req.From
		}
		if _, err := time.Parse("2006-01-02", req.To); err != nil {
			WriteError(w, http.StatusBadRequest, "to must be YYYY-MM-DD")
			return
		}
	default:
		WriteError(w, http.StatusBadRequest, "mode must be update-today, nightly, reprocess, or reconcile")
		return
	}

	h.mu.Lock()
	if h.running[u.ID] {
		h.mu.Unlock()
		WriteError(w, http.StatusConflict, "a run is already in progress for this user")
		return
	}
	h.running[u.ID] = true
	h.mu.Unlock()

	go h.runDetached(u, req)

	WriteJSON(w, http.StatusAccepted, map[string]string{
		"status":  "started",
		"user_id": u.ID,
		"mode":    req.Mode,
	})
}

// runDetached executes the requested run outside the request lifecycle.
func (h *ProcessHandler) runDetached(u *database.User, req ProcessRequest) {
	defer func() {
		h.mu.Lock()
		delete(h.running, u.ID)
		h.mu.Unlock()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 6*time.Hour)
	defer cancel()

	runner, cleanup := h.newRunner(u)
	defer cleanup()

	log := h.log.With().Str("user_id", u.ID).Str("mode", req.Mode).Logger()
	log.Info().Msg("manual run started")

	var err error
	switch req.Mode {
	case "update-today":
		err = runner.UpdateToday(ctx, u, pipeline.TriggerManual)
	case "nightly":
		err = runner.Nightly(ctx, u)
	case "reprocess":
		err = runner.Reprocess(ctx, u, req.From, req.To)
	case "reconcile":
		_, err = runner.Reconcile(ctx, u)
	}
	if err != nil {
		log.Error().Err(err).Msg("manual run failed")
		return
	}
	log.Info().Msg("manual run finished")
}

type CredentialRequest struct {
	APIKey string `json:"api_key"`
}

func (h *ProcessHandler) SetCredential(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}

	var req CredentialRequest
	if err := DecodeJSON(r, &req); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}
	if req.APIKey == "" {
		WriteError(w, http.StatusBadRequest, "api_key is required")
		return
	}

	enc, err := h.box.Encrypt(req.APIKey, u.ID)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("credential encryption failed")
		WriteError(w, http.StatusInternalServerError, "credential encryption failed")
		return
	}
	if err := h.creds.SetCredential(r.Context(), u.ID, enc); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("credential store failed")
		WriteError(w, http.StatusInternalServerError, "credential store failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Wipe deletes everything stored for a user: rows first, then the audio
// and clip directories.
func (h *ProcessHandler) Wipe(w http.ResponseWriter, r *http.Request) {
	u := h.resolveUser(w, r)
	if u == nil {
		return
	}

	h.mu.Lock()
	busy := h.running[u.ID]
	h.mu.Unlock()
	if busy {
		WriteError(w, http.StatusConflict, "a run is in progress for this user")
		return
	}

	if err := h.wiper.DeleteUserData(r.Context(), u.ID); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("user data wipe failed")
		WriteError(w, http.StatusInternalServerError, "user data wipe failed")
		return
	}
	for _, dir := range []string{h.layout.AudioDir(u.ID), h.layout.ClipsDir(u.ID)} {
		if err := os.RemoveAll(dir); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("dir", dir).Msg("failed to remove user directory")
		}
	}
	w.WriteHeader(http.StatusNoContent)
}
