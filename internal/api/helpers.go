// Package api implements the HTTP boundary: the streaming chat endpoint,
// the run-trigger endpoint and thread listing. Authentication and RBAC sit
// in front of this service and are not handled here.
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/hashicorp/go-hclog"
)

// maxRequestBody bounds request decoding; chat histories are capped well
// below this by per-message validation.
const maxRequestBody = 4 << 20

// connectorNameRe strips anything outside the allowed connector-name
// alphabet before a caller-supplied string is used for lookups or logging.
var connectorNameRe = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// sanitizeConnectorName reduces a caller-supplied connector name to
// [A-Za-z0-9_-].
func sanitizeConnectorName(s string) string {
	return connectorNameRe.ReplaceAllString(s, "")
}

// decodeJSON decodes a bounded request body.
func decodeJSON(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxRequestBody))
	if err := dec.Decode(into); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// respondJSON writes a JSON response. Encoding failures are logged, not
// recoverable: the status line is already gone.
func respondJSON(w http.ResponseWriter, log hclog.Logger, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil && log != nil {
		log.Error("error encoding response", "error", err)
	}
}

// respondError writes a JSON error body.
func respondError(w http.ResponseWriter, log hclog.Logger, status int, msg string) {
	respondJSON(w, log, status, map[string]string{"error": msg})
}

// queryInt reads an integer query parameter with a default.
func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer", key)
	}
	return n, nil
}

// IntString is an integer that also accepts its stringified form in JSON,
// matching what browser clients send for ids.
type IntString uint

// UnmarshalJSON implements json.Unmarshaler.
func (i *IntString) UnmarshalJSON(data []byte) error {
	var raw interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	switch v := raw.(type) {
	case float64:
		if v < 0 || v != float64(int64(v)) {
			return fmt.Errorf("not a non-negative integer: %v", v)
		}
		*i = IntString(v)
		return nil
	case string:
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("not an integer: %q", v)
		}
		*i = IntString(n)
		return nil
	default:
		return fmt.Errorf("expected integer, got %T", raw)
	}
}
