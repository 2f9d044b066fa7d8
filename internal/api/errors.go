package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/darshan-rambhia/eldesmon/internal/collector"
	"github.com/darshan-rambhia/eldesmon/internal/eldes"
	"github.com/darshan-rambhia/eldesmon/internal/store"
)

// errorResponse is the JSON body of every non-2xx answer.
type errorResponse struct {
	Error   string            `json:"error"`
	Message string            `json:"message,omitempty"`
	Fields  map[string]string `json:"fields,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(errorResponse{Error: code, Message: message}); err != nil {
		slog.Debug("writing error response", "path", r.URL.Path, "error", err)
	}
}

// writeUpstreamError maps a sync or control failure onto an HTTP answer.
func writeUpstreamError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound), errors.Is(err, eldes.ErrDeviceNotFound):
		writeError(w, r, http.StatusNotFound, "not_found", err.Error())
	case eldes.IsAuth(err):
		writeError(w, r, http.StatusUnauthorized, "invalid_credentials", "ELDES Cloud rejected the stored credentials")
	case eldes.IsRateLimit(err):
		writeError(w, r, http.StatusTooManyRequests, "rate_limited", "ELDES Cloud rate limit reached, try again later")
	case errors.Is(err, eldes.ErrPartitionNotFound), errors.Is(err, eldes.ErrAmbiguousPartition):
		writeError(w, r, http.StatusBadRequest, "invalid_partition", err.Error())
	case errors.Is(err, collector.ErrDemoCredential):
		writeError(w, r, http.StatusBadRequest, "demo_device", err.Error())
	default:
		var ue *eldes.UpstreamError
		var ce *eldes.ControlError
		if errors.As(err, &ue) || errors.As(err, &ce) {
			writeError(w, r, http.StatusBadGateway, "upstream_error", err.Error())
			return
		}
		slog.Error("request failed", "path", r.URL.Path, "error", err)
		writeError(w, r, http.StatusInternalServerError, "internal_error", "Internal Server Error")
	}
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

func getValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// decodeAndValidate reads a JSON body into v and runs struct validation.
// It writes the 400 itself and reports false when the request is unusable.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, r, http.StatusBadRequest, "invalid_json", err.Error())
		return false
	}

	err := getValidator().Struct(v)
	if err == nil {
		return true
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return false
	}
	fields := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fieldMessage(fe)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusBadRequest)
	_ = json.NewEncoder(w).Encode(errorResponse{Error: "validation_error", Message: "request is invalid", Fields: fields})
	return false
}

func fieldMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "oneof":
		return "must be one of: " + fe.Param()
	case "max":
		return "must be at most " + fe.Param() + " characters"
	case "min", "gte":
		return "must be at least " + fe.Param()
	default:
		return fmt.Sprintf("failed %q", fe.Tag())
	}
}
