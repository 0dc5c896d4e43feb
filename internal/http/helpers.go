package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"tally/internal/auth"
	"tally/internal/core"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

func decodeJSON(r *http.Request, dst any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &core.ValidationError{Field: "body", Reason: err.Error()}
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return &core.ValidationError{Field: "body", Reason: "trailing data after JSON value"}
	}
	return nil
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors to HTTP statuses. Upstream provider
// details never reach the client; they are logged server side only.
func writeError(ctx context.Context, w http.ResponseWriter, err error) {
	var (
		validationErr  *core.ValidationError
		conflictErr    *core.ConflictError
		notFoundErr    *core.NotFoundError
		externalErr    *core.ExternalServiceError
		persistenceErr *core.PersistenceError
	)

	switch {
	case errors.Is(err, auth.ErrUnauthenticated):
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "unauthenticated"})
	case errors.As(err, &validationErr):
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Error: validationErr.Error()})
	case errors.As(err, &conflictErr):
		writeJSON(w, http.StatusConflict, errorResponse{Error: conflictErr.Error()})
	case errors.As(err, &notFoundErr):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: notFoundErr.Error()})
	case errors.As(err, &externalErr):
		slog.ErrorContext(ctx, "Upstream provider error", "op", externalErr.Op, "error", err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "bank provider unavailable"})
	case errors.As(err, &persistenceErr):
		slog.ErrorContext(ctx, "Persistence error", "op", persistenceErr.Op, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "storage failure"})
	default:
		slog.ErrorContext(ctx, "Unhandled error", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
	}
}

// monthFromQuery reads the "month" query parameter, defaulting to the
// current month.
func monthFromQuery(r *http.Request) (core.MonthKey, error) {
	v := r.URL.Query().Get("month")
	if v == "" {
		return core.MonthKeyFor(time.Now().UTC()), nil
	}
	return monthKeyFromString("month", v)
}

func monthFromPath(r *http.Request) (core.MonthKey, error) {
	return monthKeyFromString("month", r.PathValue("month"))
}

func monthKeyFromString(field, v string) (core.MonthKey, error) {
	month, err := core.ParseMonthKey(v)
	if err != nil {
		return "", &core.ValidationError{Field: field, Reason: fmt.Sprintf("want YYYY-MM, got %q", v)}
	}
	return month, nil
}

func dateFromString(field, v string) (core.Date, error) {
	d, err := core.ParseDate(v)
	if err != nil {
		return core.Date{}, &core.ValidationError{Field: field, Reason: fmt.Sprintf("want YYYY-MM-DD, got %q", v)}
	}
	return d, nil
}
