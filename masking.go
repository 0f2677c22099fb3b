package idapi

import (
	"encoding/json"
	"net/http"
	"strings"
)

// maskValue replaces sensitive values in log output.
const maskValue = "***"

// maskMaxDepth bounds recursion into nested body structures.
const maskMaxDepth = 8

// MaskFunc rewrites headers and body before they reach the log sink. It
// must be pure: the inputs are copies, the originals are never touched.
type MaskFunc func(header http.Header, body []byte) (http.Header, []byte)

// defaultSensitiveFields are field and header names whose values are masked
// by DefaultMask, matched case-insensitively on the lowercased name.
var defaultSensitiveFields = []string{
	"password", "passwd", "pwd",
	"secret", "api_key", "apikey",
	"token", "access_token", "refresh_token", "client_secret",
	"authorization", "proxy-authorization", "cookie", "set-cookie",
	"credential", "credentials",
}

// DefaultMask masks well-known credential headers and, when the body is a
// JSON object, credential-bearing fields at any nesting level. Non-JSON
// bodies pass through unchanged.
func DefaultMask(header http.Header, body []byte) (http.Header, []byte) {
	masked := make(http.Header, len(header))
	for k, vs := range header {
		if isSensitiveField(k) {
			masked[k] = []string{maskValue}
			continue
		}
		vv := make([]string, len(vs))
		copy(vv, vs)
		masked[k] = vv
	}

	if len(body) == 0 {
		return masked, body
	}
	var data any
	if err := json.Unmarshal(body, &data); err != nil {
		return masked, body
	}
	filtered := maskStructured(data, maskMaxDepth)
	out, err := json.Marshal(filtered)
	if err != nil {
		return masked, body
	}
	return masked, out
}

func maskStructured(value any, depth int) any {
	if depth <= 0 {
		return value
	}
	switch v := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			if isSensitiveField(k) {
				out[k] = maskValue
				continue
			}
			out[k] = maskStructured(item, depth-1)
		}
		return out
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = maskStructured(item, depth-1)
		}
		return out
	default:
		return value
	}
}

func isSensitiveField(name string) bool {
	lower := strings.ToLower(name)
	for _, f := range defaultSensitiveFields {
		if lower == f {
			return true
		}
	}
	return false
}
