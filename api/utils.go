package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/phuslu/log"
	"github.com/yuin/goldmark"

	"trade-insight/auth"
)

const maxJSONBodyBytes = 1 << 20

// getIntParam retrieves an integer query parameter with default value and optional range validation
func getIntParam(r *http.Request, key string, defaultVal int, minVal, maxVal *int) int {
	valStr := r.URL.Query().Get(key)
	if valStr == "" {
		return defaultVal
	}

	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultVal
	}

	if minVal != nil && val < *minVal {
		return defaultVal
	}
	if maxVal != nil && val > *maxVal {
		return defaultVal
	}

	return val
}

func intPtr(v int) *int { return &v }

// writeJSON sends v with the given status
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("Failed to encode response")
	}
}

// respondWithError logs the error and sends {"message": ...}.
// Internal errors are logged but never written to the client.
func respondWithError(w http.ResponseWriter, code int, message string, err error) {
	if err != nil {
		log.Warn().Err(err).Int("status", code).Msg(message)
	} else {
		log.Debug().Int("status", code).Msg(message)
	}
	writeJSON(w, code, map[string]string{"message": message})
}

// decodeAndValidate reads a JSON body into dst and runs its validate tags
func (s *Server) decodeAndValidate(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxJSONBodyBytes))
	if err := dec.Decode(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body", err)
		return false
	}
	if err := s.validate.Struct(dst); err != nil {
		respondWithError(w, http.StatusBadRequest, validationMessage(err), nil)
		return false
	}
	return true
}

// validationMessage names the first failing field
func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "Invalid request"
	}
	fe := verrs[0]
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("Missing %s", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s characters", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", field, fe.Param())
	default:
		return fmt.Sprintf("Invalid %s", field)
	}
}

// requireUser pulls the session user placed by the auth middleware
func requireUser(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, ok := auth.UserID(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized", nil)
	}
	return id, ok
}

// renderMarkdown converts generated advice to HTML for display
func renderMarkdown(src string) string {
	if src == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := goldmark.Convert([]byte(src), &buf); err != nil {
		log.Warn().Err(err).Msg("Failed to render advice markdown")
		return ""
	}
	return buf.String()
}
