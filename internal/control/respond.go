package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/Rishiwins/attendance-tracker/internal/attendance"
	"github.com/Rishiwins/attendance-tracker/internal/registry"
	"github.com/Rishiwins/attendance-tracker/internal/snapshot"
)

// maxBodyBytes bounds JSON request bodies
const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// errorResponse is the body of every non-2xx JSON response
type errorResponse struct {
	Error  string            `json:"error"`
	Code   string            `json:"code"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps error kinds onto HTTP status codes
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, attendance.ErrInvalidInput),
		errors.Is(err, registry.ErrInvalidInput),
		errors.Is(err, snapshot.ErrUnsupportedFormat):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, attendance.ErrNotFound),
		errors.Is(err, registry.ErrSourceNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, registry.ErrSourceExists):
		return http.StatusConflict, "already_exists"
	case errors.Is(err, attendance.ErrInvalidState):
		return http.StatusConflict, "invalid_state"
	case errors.Is(err, registry.ErrStartFailed):
		return http.StatusBadGateway, "start_failed"
	case errors.Is(err, attendance.ErrStorage):
		return http.StatusServiceUnavailable, "storage_failure"
	default:
		return http.StatusInternalServerError, "internal"
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status, code := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusInternalServerError, http.StatusServiceUnavailable:
		s.logger.Error("control: request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"code", code,
			"error", err,
		)
		msg = "internal error"
		if code == "storage_failure" {
			msg = "attendance storage unavailable"
			w.Header().Set("Retry-After", "5")
		}
	}
	writeJSON(w, status, errorResponse{Error: msg, Code: code})
}

// decode reads a JSON body into dst and validates it
func (s *Server) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		s.writeError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
		return false
	}
	return s.check(w, r, dst)
}

// check runs struct validation and reports field errors
func (s *Server) check(w http.ResponseWriter, r *http.Request, v any) bool {
	err := s.validate.Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		s.writeError(w, r, err)
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		fields[fe.Field()] = rule
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: "validation failed", Code: "invalid_input", Fields: fields})
	return false
}

// newValidator reports fields by their JSON names
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}
