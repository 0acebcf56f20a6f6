package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

const maxBodyBytes = 1 << 20

type errorBody struct {
	Error string `json:"error"`
}

type messageBody struct {
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps the error taxonomy to HTTP statuses.
func statusFor(err error) int {
	switch {
	case errors.Is(err, data.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, data.ErrAuthentication):
		return http.StatusUnauthorized
	case errors.Is(err, data.ErrOwnership):
		return http.StatusForbidden
	case errors.Is(err, data.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, data.ErrConflict), errors.Is(err, data.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("request_id", r.Header.Get(headerRequestID)),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		msg = "internal server error"
	}
	writeJSON(w, status, errorBody{Error: msg})
}

func readBody(r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		return nil, validationf("cannot read request body: %v", err)
	}
	if len(body) > maxBodyBytes {
		return nil, validationf("request body exceeds %d bytes", maxBodyBytes)
	}
	return body, nil
}

// decodeJSON decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeJSON(r *http.Request, v interface{}) error {
	body, err := readBody(r)
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return validationf("malformed JSON body: %v", err)
	}
	return nil
}

// paging reads limit and page query parameters.
func paging(r *http.Request, defLimit, maxLimit int) (limit, page int, err error) {
	limit, page = defLimit, 1
	q := r.URL.Query()
	if v := q.Get("limit"); v != "" {
		limit, err = strconv.Atoi(v)
		if err != nil || limit < 1 || limit > maxLimit {
			return 0, 0, validationf("limit must be between 1 and %d", maxLimit)
		}
	}
	if v := q.Get("page"); v != "" {
		page, err = strconv.Atoi(v)
		if err != nil || page < 1 {
			return 0, 0, validationf("page must be a positive integer")
		}
	}
	return limit, page, nil
}

func pages(total, limit int) int {
	if limit <= 0 {
		return 0
	}
	return (total + limit - 1) / limit
}

func validationf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", data.ErrValidation, fmt.Sprintf(format, args...))
}
