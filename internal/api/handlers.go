package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/LeventeLantos/gotta-go/internal/identity"
	"github.com/LeventeLantos/gotta-go/internal/model"
	"github.com/LeventeLantos/gotta-go/internal/repo"
	"github.com/LeventeLantos/gotta-go/internal/service"
	"github.com/LeventeLantos/gotta-go/internal/store"
)

const maxBodyBytes = 1 << 20

var errAccountsDisabled = errors.New("accounts are not configured")

type Items interface {
	List() []model.ScheduledItem
	Len() int
	Capacity() int
	Ready() bool
	Remove(ctx context.Context, id string)
	Update(ctx context.Context, id string, p model.Patch) error
	ClearAll(ctx context.Context)
}

type Sweeper interface {
	Start() bool
	Stop() bool
	IsRunning() bool
	Interval() time.Duration
	Runs() int64
}

type Scheduling interface {
	Schedule(ctx context.Context, caller service.Caller, req service.Request) (model.ScheduledItem, error)
}

type Maintenance interface {
	Current(ctx context.Context) model.Maintenance
	Set(ctx context.Context, caller service.Caller, enabled bool, message string) (model.Maintenance, error)
}

type Identity interface {
	Register(ctx context.Context, email, password, phone string) (string, identity.Session, error)
	Login(ctx context.Context, email, password string) (string, identity.Session, error)
	Guest(ctx context.Context) (string, identity.Session, error)
	Logout(ctx context.Context, token string) error
	Authenticate(ctx context.Context, token string) (identity.Session, error)
	ResetPassword(ctx context.Context, email string) error
	ConfirmReset(ctx context.Context, token, newPassword string) error
	Profile(ctx context.Context, sess identity.Session) (model.Profile, error)
	UpdateEmail(ctx context.Context, uid, newEmail, currentPassword string) error
	UpdatePassword(ctx context.Context, uid, currentPassword, newPassword string) error
	DeleteAccount(ctx context.Context, uid, password string) error
	ListUsers(ctx context.Context) ([]model.Member, error)
	UserCount(ctx context.Context) (int, error)
}

type Deps struct {
	Items       Items
	Sweep       Sweeper
	Scheduling  Scheduling
	Maintenance Maintenance
	// Identity is optional. Without it every request acts as one local,
	// signed-in user and the account endpoints answer 503.
	Identity Identity
}

type Handler struct {
	items       Items
	sweep       Sweeper
	scheduling  Scheduling
	maintenance Maintenance
	identity    Identity
}

func NewHandler(d Deps) *Handler {
	return &Handler{
		items:       d.Items,
		sweep:       d.Sweep,
		scheduling:  d.Scheduling,
		maintenance: d.Maintenance,
		identity:    d.Identity,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

// Ready answers 503 until the item store has finished loading.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	if !h.items.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ready": true})
}

func (h *Handler) ListRecordings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": model.Recordings()})
}

func (h *Handler) ListItems(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"items":    store.Sorted(h.items.List()),
		"capacity": h.items.Capacity(),
	})
}

func (h *Handler) CreateItem(w http.ResponseWriter, r *http.Request) {
	var req service.Request
	if !decodeBody(w, r, &req) {
		return
	}

	item, err := h.scheduling.Schedule(r.Context(), callerFrom(r.Context()), req)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"item": item})
}

func (h *Handler) PatchItem(w http.ResponseWriter, r *http.Request) {
	var p model.Patch
	if !decodeBody(w, r, &p) {
		return
	}
	if err := h.items.Update(r.Context(), r.PathValue("id"), p); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DeleteItem(w http.ResponseWriter, r *http.Request) {
	h.items.Remove(r.Context(), r.PathValue("id"))
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ClearItems(w http.ResponseWriter, r *http.Request) {
	h.items.ClearAll(r.Context())
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) SweepStatus(w http.ResponseWriter, r *http.Request) {
	h.writeSweep(w)
}

func (h *Handler) SweepStart(w http.ResponseWriter, r *http.Request) {
	h.sweep.Start()
	h.writeSweep(w)
}

func (h *Handler) SweepStop(w http.ResponseWriter, r *http.Request) {
	h.sweep.Stop()
	h.writeSweep(w)
}

func (h *Handler) writeSweep(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{
		"running":  h.sweep.IsRunning(),
		"interval": h.sweep.Interval().String(),
		"runs":     h.sweep.Runs(),
	})
}

type credentials struct {
	Email       string `json:"email"`
	Password    string `json:"password"`
	PhoneNumber string `json:"phoneNumber,omitempty"`
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decodeBody(w, r, &c) {
		return
	}
	token, sess, err := h.identity.Register(r.Context(), c.Email, c.Password, c.PhoneNumber)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"token": token, "session": sess})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var c credentials
	if !decodeBody(w, r, &c) {
		return
	}
	token, sess, err := h.identity.Login(r.Context(), c.Email, c.Password)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": sess})
}

func (h *Handler) Guest(w http.ResponseWriter, r *http.Request) {
	token, sess, err := h.identity.Guest(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": token, "session": sess})
}

func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.Logout(r.Context(), bearerToken(r)); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) RequestReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.identity.ResetPassword(r.Context(), body.Email); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"ok": true})
}

func (h *Handler) ConfirmReset(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if err := h.identity.ConfirmReset(r.Context(), body.Token, body.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) Account(w http.ResponseWriter, r *http.Request) {
	p, err := h.identity.Profile(r.Context(), sessionFrom(r.Context()))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) UpdateEmail(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email           string `json:"email"`
		CurrentPassword string `json:"currentPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess := sessionFrom(r.Context())
	if err := h.identity.UpdateEmail(r.Context(), sess.UID, body.Email, body.CurrentPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CurrentPassword string `json:"currentPassword"`
		NewPassword     string `json:"newPassword"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess := sessionFrom(r.Context())
	if err := h.identity.UpdatePassword(r.Context(), sess.UID, body.CurrentPassword, body.NewPassword); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) DeleteAccount(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Password string `json:"password"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	sess := sessionFrom(r.Context())
	if err := h.identity.DeleteAccount(r.Context(), sess.UID, body.Password); err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.identity.ListUsers(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	if users == nil {
		users = []model.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": users})
}

func (h *Handler) UserCount(w http.ResponseWriter, r *http.Request) {
	n, err := h.identity.UserCount(r.Context())
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"count": n})
}

func (h *Handler) GetMaintenance(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.maintenance.Current(r.Context()))
}

func (h *Handler) SetMaintenance(w http.ResponseWriter, r *http.Request) {
	var body model.Maintenance
	if !decodeBody(w, r, &body) {
		return
	}
	v, err := h.maintenance.Set(r.Context(), callerFrom(r.Context()), body.Enabled, body.Message)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var maint *service.MaintenanceError

	switch {
	case errors.Is(err, store.ErrCapacityExceeded):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.As(err, &maint):
		writeErrorJSON(w, http.StatusServiceUnavailable, maint.Message)
	case errors.Is(err, service.ErrDispatchFailed):
		writeErrorJSON(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, service.ErrLoginRequired),
		errors.Is(err, identity.ErrUnauthenticated),
		errors.Is(err, identity.ErrInvalidCredentials):
		writeErrorJSON(w, http.StatusUnauthorized, err.Error())
	case errors.Is(err, service.ErrForbidden):
		writeErrorJSON(w, http.StatusForbidden, err.Error())
	case errors.Is(err, identity.ErrEmailTaken):
		writeErrorJSON(w, http.StatusConflict, err.Error())
	case errors.Is(err, repo.ErrNotFound):
		writeErrorJSON(w, http.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrMaintenanceUnavailable), errors.Is(err, errAccountsDisabled):
		writeErrorJSON(w, http.StatusServiceUnavailable, err.Error())
	case isValidation(err):
		writeErrorJSON(w, http.StatusBadRequest, err.Error())
	default:
		slog.Error("request failed", "err", err)
		writeErrorJSON(w, http.StatusInternalServerError, "internal error")
	}
}

func isValidation(err error) bool {
	for _, target := range []error{
		service.ErrInvalidPhone,
		service.ErrUnknownRecording,
		service.ErrEmptyMessage,
		service.ErrMessageTooLong,
		service.ErrInvalidKind,
		service.ErrNotInFuture,
		store.ErrInvalidStatus,
		identity.ErrInvalidEmail,
		identity.ErrWeakPassword,
		identity.ErrInvalidResetToken,
		identity.ErrGuestAccount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeErrorJSON(w, http.StatusBadRequest, "invalid JSON body")
		return false
	}
	return true
}

func writeErrorJSON(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]any{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
