package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"gwi.com/chat-history/internal/core"
)

type APIError struct {
	Code    core.Code `json:"code"`
	Message string    `json:"message"`
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func httpStatus(code core.Code) int {
	switch code {
	case core.CodeValidation:
		return http.StatusBadRequest
	case core.CodeUnauthorized:
		return http.StatusUnauthorized
	case core.CodeForbidden:
		return http.StatusForbidden
	case core.CodeNotFound:
		return http.StatusNotFound
	case core.CodeConflict:
		return http.StatusConflict
	case core.CodeNotConfigured:
		return http.StatusServiceUnavailable
	case core.CodeQuotaExceeded:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	code := core.CodeOf(err)
	writeJSON(w, httpStatus(code), APIError{Code: code, Message: core.PublicMessage(err)})
}

// decodeJSON reads the request body into dst and validates it. An empty body
// is accepted only when allowEmpty is set.
func decodeJSON(r *http.Request, dst any, allowEmpty bool) error {
	const op = "api.decodeJSON"
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) && allowEmpty {
			return nil
		}
		return core.E(core.CodeValidation, op, "Invalid request body.", err)
	}
	if err := validate.Struct(dst); err != nil {
		return core.E(core.CodeValidation, op, validationMessage(err), err)
	}
	return nil
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return "Invalid request body."
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			parts = append(parts, fmt.Sprintf("%s is required", fe.Field()))
		case "min", "max":
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", fe.Field(), fe.Tag(), fe.Param()))
		default:
			parts = append(parts, fmt.Sprintf("%s is invalid", fe.Field()))
		}
	}
	return strings.Join(parts, "; ") + "."
}
