// Package api is the stateless request/response surface over the lock
// coordinator: CRUD on contacts plus explicit lock and unlock calls.
// Nothing here is broadcast to real-time peers; browsers tell the gateway
// themselves after a successful call.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/pixperk/rolodex/pkg/auth"
	"github.com/pixperk/rolodex/pkg/lock"
	"github.com/pixperk/rolodex/pkg/logging"
	"github.com/pixperk/rolodex/pkg/metrics"
	"github.com/pixperk/rolodex/pkg/types"
)

const (
	IdentityHeader = "X-User-Id"
	maxBodyBytes   = 1 << 20
)

type Handler struct {
	coord  *lock.Coordinator
	auth   auth.Authenticator
	logger hclog.Logger
}

func NewHandler(coord *lock.Coordinator, authn auth.Authenticator, logger hclog.Logger) *Handler {
	return &Handler{
		coord:  coord,
		auth:   authn,
		logger: logging.OrNull(logger),
	}
}

// Register mounts every api route on mux.
func (h *Handler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/contacts", h.list)
	mux.HandleFunc("POST /api/contacts", h.create)
	mux.HandleFunc("GET /api/contacts/{id}", h.get)
	mux.HandleFunc("PUT /api/contacts/{id}", h.update)
	mux.HandleFunc("DELETE /api/contacts/{id}", h.delete)
	mux.HandleFunc("POST /api/contacts/{id}/lock", h.lock)
	mux.HandleFunc("POST /api/contacts/{id}/unlock", h.unlock)
	mux.HandleFunc("POST /api/auth/login", h.login)
}

// body of every write; userId is the fallback when the identity header is absent
type request struct {
	types.Fields
	UserID string `json:"userId"`
}

type message struct {
	Message string `json:"message"`
}

type conflictBody struct {
	Message  string    `json:"message"`
	LockedBy string    `json:"lockedBy"`
	LockedAt time.Time `json:"lockedAt"`
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, err := h.coord.List(r.Context(), types.ListQuery{
		Page:     atoi(q.Get("page")),
		PageSize: atoi(q.Get("limit")),
		Name:     q.Get("name"),
		Phone:    q.Get("phone"),
		Address:  q.Get("address"),
	})
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	h.write(w, "list", http.StatusOK, page)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	req, err := decode(r)
	if err != nil {
		h.fail(w, "create", err)
		return
	}

	rec, err := h.coord.Create(r.Context(), req.Fields)
	if err != nil {
		h.fail(w, "create", err)
		return
	}
	h.write(w, "create", http.StatusCreated, rec)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	rec, err := h.coord.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, "get", err)
		return
	}
	h.write(w, "get", http.StatusOK, rec)
}

func (h *Handler) update(w http.ResponseWriter, r *http.Request) {
	req, identity, err := decodeWithIdentity(r)
	if err != nil {
		h.fail(w, "update", err)
		return
	}

	rec, err := h.coord.MutateIfOwnerOrUnlocked(r.Context(), r.PathValue("id"), identity, req.Fields)
	if err != nil {
		h.fail(w, "update", err)
		return
	}
	h.write(w, "update", http.StatusOK, rec)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	_, identity, err := decodeWithIdentity(r)
	if err != nil {
		h.fail(w, "delete", err)
		return
	}

	if err := h.coord.DeleteIfOwnerOrUnlocked(r.Context(), r.PathValue("id"), identity); err != nil {
		h.fail(w, "delete", err)
		return
	}
	h.write(w, "delete", http.StatusOK, message{Message: "Contact deleted successfully"})
}

func (h *Handler) lock(w http.ResponseWriter, r *http.Request) {
	h.lockCall(w, r, "lock", h.coord.Acquire)
}

func (h *Handler) unlock(w http.ResponseWriter, r *http.Request) {
	h.lockCall(w, r, "unlock", h.coord.Release)
}

func (h *Handler) lockCall(w http.ResponseWriter, r *http.Request, op string, call func(context.Context, string, string) (*types.Record, error)) {
	_, identity, err := decodeWithIdentity(r)
	if err != nil {
		h.fail(w, op, err)
		return
	}

	rec, err := call(r.Context(), r.PathValue("id"), identity)
	if err != nil {
		h.fail(w, op, err)
		return
	}
	h.write(w, op, http.StatusOK, rec)
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var creds struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&creds); err != nil {
		h.write(w, "login", http.StatusBadRequest, message{Message: "invalid request body"})
		return
	}

	user, err := h.auth.Authenticate(creds.Username, creds.Password)
	if err != nil {
		h.write(w, "login", http.StatusUnauthorized, map[string]any{
			"success": false,
			"message": "Invalid username or password",
		})
		return
	}
	h.write(w, "login", http.StatusOK, map[string]any{"success": true, "user": user})
}

// maps coordinator errors onto status codes and bodies
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	if conflict, ok := types.AsLockConflict(err); ok {
		h.write(w, op, http.StatusForbidden, conflictBody{
			Message:  "Contact is locked by another user",
			LockedBy: conflict.Owner,
			LockedAt: conflict.AcquiredAt,
		})
		return
	}

	switch {
	case errors.Is(err, types.ErrNotFound):
		h.write(w, op, http.StatusNotFound, message{Message: "Contact not found"})
	case errors.Is(err, types.ErrNotOwner):
		h.write(w, op, http.StatusForbidden, message{Message: "You cannot unlock a contact locked by another user"})
	case errors.Is(err, types.ErrValidation), errors.Is(err, types.ErrMissingIdentity):
		h.write(w, op, http.StatusBadRequest, message{Message: err.Error()})
	default:
		h.logger.Error("request failed", "op", op, "error", err)
		h.write(w, op, http.StatusInternalServerError, message{Message: "internal server error"})
	}
}

func (h *Handler) write(w http.ResponseWriter, op string, code int, body any) {
	metrics.APIRequestsTotal.WithLabelValues(op, strconv.Itoa(code)).Inc()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Debug("write response", "op", op, "error", err)
	}
}

// reads an optional JSON body; an empty body is an empty request
func decode(r *http.Request) (request, error) {
	var req request
	if r.Body == nil {
		return req, nil
	}
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(&req)
	if err != nil && !errors.Is(err, io.EOF) {
		return req, types.NewValidationError("body", "invalid request body")
	}
	return req, nil
}

func decodeWithIdentity(r *http.Request) (request, string, error) {
	req, err := decode(r)
	if err != nil {
		return req, "", err
	}

	identity := r.Header.Get(IdentityHeader)
	if identity == "" {
		identity = req.UserID
	}
	if identity == "" {
		return req, "", types.ErrMissingIdentity
	}
	return req, identity, nil
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}
