package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/umar/users-api/internal/apperrors"
	"github.com/umar/users-api/internal/database"
	"github.com/umar/users-api/internal/events"
	"github.com/umar/users-api/internal/models"
)

const (
	allowedMethods = "GET, POST, PUT, DELETE"
	maxBodyBytes   = 1 << 20

	msgInvalidID     = "Invalid ID"
	msgNotFound      = "User not found"
	msgMissingFields = "Missing required fields"
	msgInvalidBody   = "Invalid request body"
	msgInternal      = "Internal Server Error"
)

const (
	userColumns    = "id, email, name, username, phone, avatar_url, password"
	selectUsers    = "SELECT " + userColumns + " FROM users"
	selectUserByID = selectUsers + " WHERE id = ?"
	insertUser     = "INSERT INTO users (" + userColumns + ") VALUES (?, ?, ?, ?, ?, ?, ?) RETURNING " + userColumns
	updateUser     = "UPDATE users SET email = ?, name = ?, username = ?, phone = ?, avatar_url = ?, password = ? WHERE id = ? RETURNING " + userColumns
	deleteUser     = "DELETE FROM users WHERE id = ? RETURNING id"
)

// UsersHandler serves the users collection: one HTTP method maps to one
// statement and one database round-trip.
type UsersHandler struct {
	gw       database.Gateway
	notifier events.Notifier
	logger   *slog.Logger
	newID    func() string
}

func NewUsersHandler(gw database.Gateway, notifier events.Notifier, logger *slog.Logger) *UsersHandler {
	if notifier == nil {
		notifier = events.Discard{}
	}
	return &UsersHandler{
		gw:       gw,
		notifier: notifier,
		logger:   logger,
		newID:    uuid.NewString,
	}
}

func (h *UsersHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Only create and update look at the body.
	var body []byte
	if r.Method == http.MethodPost || r.Method == http.MethodPut {
		var err error
		body, err = io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
		if err != nil {
			writeResult(w, Fail(apperrors.ValidationError(msgInvalidBody, err)))
			return
		}
	}

	res := h.Handle(r.Context(), Request{
		Method: r.Method,
		Query:  NormalizeQuery(r.URL.Query()),
		Body:   body,
	})
	writeResult(w, res)
}

func (h *UsersHandler) Handle(ctx context.Context, req Request) Result {
	switch req.Method {
	case http.MethodOptions:
		return Ok(http.StatusNoContent, nil)
	case http.MethodGet:
		return h.get(ctx, req.Query)
	case http.MethodPost:
		return h.create(ctx, req.Body)
	case http.MethodPut:
		return h.update(ctx, req.Query, req.Body)
	case http.MethodDelete:
		return h.delete(ctx, req.Query)
	default:
		return Fail(apperrors.MethodNotAllowedError(req.Method))
	}
}

func (h *UsersHandler) get(ctx context.Context, q Query) Result {
	id, ok := q.Lookup("id")
	if !ok {
		return h.list(ctx)
	}
	if id == "" {
		return Fail(apperrors.ValidationError(msgInvalidID, nil))
	}

	res, err := h.gw.Execute(ctx, selectUserByID, id)
	if err != nil {
		return h.internal(ctx, "failed to get user", err)
	}
	if len(res.Rows) == 0 {
		return Fail(apperrors.NotFoundError(msgNotFound, nil))
	}
	user, err := models.UserFromRow(res.Rows[0])
	if err != nil {
		return h.internal(ctx, "failed to map user row", err)
	}
	return Ok(http.StatusOK, user)
}

func (h *UsersHandler) list(ctx context.Context) Result {
	res, err := h.gw.Execute(ctx, selectUsers)
	if err != nil {
		return h.internal(ctx, "failed to list users", err)
	}

	users := make([]models.User, 0, len(res.Rows))
	for _, row := range res.Rows {
		u, err := models.UserFromRow(row)
		if err != nil {
			return h.internal(ctx, "failed to map user row", err)
		}
		users = append(users, u)
	}
	return Ok(http.StatusOK, users)
}

func (h *UsersHandler) create(ctx context.Context, body []byte) Result {
	in, err := decodeUserInput(body)
	if err != nil {
		return Fail(apperrors.ValidationError(msgInvalidBody, err))
	}
	if !in.HasRequired() {
		return Fail(apperrors.ValidationError(msgMissingFields, nil))
	}

	args := append([]any{h.newID()}, in.Args()...)
	res, err := h.gw.Execute(ctx, insertUser, args...)
	if err != nil {
		return h.internal(ctx, "failed to create user", err)
	}
	if len(res.Rows) == 0 {
		return h.internal(ctx, "failed to create user", errors.New("insert returned no row"))
	}
	user, err := models.UserFromRow(res.Rows[0])
	if err != nil {
		return h.internal(ctx, "failed to map user row", err)
	}

	h.notify(ctx, events.NewEvent(events.TypeUserCreated, user.ID, &user))
	return Ok(http.StatusCreated, user)
}

func (h *UsersHandler) update(ctx context.Context, q Query, body []byte) Result {
	id, appErr := requireID(q)
	if appErr != nil {
		return Fail(appErr)
	}
	in, err := decodeUserInput(body)
	if err != nil {
		return Fail(apperrors.ValidationError(msgInvalidBody, err))
	}

	args := append(in.Args(), id)
	res, err := h.gw.Execute(ctx, updateUser, args...)
	if err != nil {
		return h.internal(ctx, "failed to update user", err)
	}
	if len(res.Rows) == 0 {
		return Fail(apperrors.NotFoundError(msgNotFound, nil))
	}
	user, err := models.UserFromRow(res.Rows[0])
	if err != nil {
		return h.internal(ctx, "failed to map user row", err)
	}

	h.notify(ctx, events.NewEvent(events.TypeUserUpdated, user.ID, &user))
	return Ok(http.StatusOK, user)
}

func (h *UsersHandler) delete(ctx context.Context, q Query) Result {
	id, appErr := requireID(q)
	if appErr != nil {
		return Fail(appErr)
	}

	res, err := h.gw.Execute(ctx, deleteUser, id)
	if err != nil {
		return h.internal(ctx, "failed to delete user", err)
	}
	if len(res.Rows) == 0 {
		return Fail(apperrors.NotFoundError(msgNotFound, nil))
	}

	h.notify(ctx, events.NewEvent(events.TypeUserDeleted, id, nil))
	return Ok(http.StatusNoContent, nil)
}

func requireID(q Query) (string, *apperrors.AppError) {
	id, _ := q.Lookup("id")
	if id == "" {
		return "", apperrors.ValidationError(msgInvalidID, nil)
	}
	return id, nil
}

// internal logs the cause and hides it from the caller.
func (h *UsersHandler) internal(ctx context.Context, msg string, err error) Result {
	h.logger.ErrorContext(ctx, msg, "error", err)
	return Fail(apperrors.InternalError(msgInternal, fmt.Errorf("%s: %w", msg, err)))
}

func (h *UsersHandler) notify(ctx context.Context, e events.Event) {
	if err := h.notifier.Publish(ctx, e); err != nil {
		h.logger.WarnContext(ctx, "failed to publish user event", "type", e.Type, "user_id", e.UserID, "error", err)
	}
}
