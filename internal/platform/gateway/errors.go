package gateway

import (
	"fmt"
	"sort"
	"strings"
)

const genericErrorMessage = "Unknown error occurred at the exchange gateway while processing the request. Please try again later."

// Error is a transport error: the gateway replied with something other than
// the expected status for the endpoint. Message carries the remote error
// text extracted from the reply body.
type Error struct {
	Path    string
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("gateway %s: status %d: %s", e.Path, e.Status, e.Message)
}

// ExtractMessage digs the human-readable message out of a gateway error
// body. The gateway is inconsistent about its error envelope, so the shapes
// {"error": {"message": ...}}, {"message": ...}, flat field maps, lists, and
// bare strings are all unwrapped recursively.
func ExtractMessage(v any) string {
	switch err := v.(type) {
	case []any:
		if len(err) > 0 {
			return ExtractMessage(err[0])
		}
	case string:
		if err != "" {
			return err
		}
	case map[string]any:
		if inner, ok := err["error"]; ok {
			return ExtractMessage(inner)
		}
		if msg, ok := err["message"].(string); ok {
			return msg
		}
		keys := make([]string, 0, len(err))
		for k := range err {
			if k == "code" || k == "timestamp" {
				continue
			}
			keys = append(keys, k)
		}
		if len(keys) > 0 {
			sort.Strings(keys)
			parts := make([]string, 0, len(keys))
			for _, k := range keys {
				parts = append(parts, fmt.Sprint(err[k]))
			}
			return strings.Join(parts, "")
		}
	}
	return genericErrorMessage
}
