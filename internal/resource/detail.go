package resource

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
)

type errorBody struct {
	Detail json.RawMessage `json:"detail"`
}

type fieldError struct {
	Loc []any  `json:"loc"`
	Msg string `json:"msg"`
}

// parseDetail extracts a human readable reason from an error response.
// The service answers with {"detail": "..."} or, for schema violations,
// {"detail": [{"loc": [...], "msg": "..."}]}.
func parseDetail(body []byte, status int) string {
	fallback := http.StatusText(status)
	if fallback == "" {
		fallback = "unexpected status"
	}

	var eb errorBody
	if err := json.Unmarshal(body, &eb); err != nil || len(eb.Detail) == 0 {
		if text := strings.TrimSpace(string(body)); text != "" && !bytes.HasPrefix(bytes.TrimSpace(body), []byte("{")) {
			return text
		}
		return fallback
	}

	var s string
	if err := json.Unmarshal(eb.Detail, &s); err == nil {
		if s == "" {
			return fallback
		}
		return s
	}

	var fields []fieldError
	if err := json.Unmarshal(eb.Detail, &fields); err == nil && len(fields) > 0 {
		msgs := make([]string, 0, len(fields))
		for _, f := range fields {
			if f.Msg == "" {
				continue
			}
			if field := fieldName(f.Loc); field != "" {
				msgs = append(msgs, field+": "+f.Msg)
			} else {
				msgs = append(msgs, f.Msg)
			}
		}
		if len(msgs) > 0 {
			return strings.Join(msgs, "; ")
		}
	}

	return strings.TrimSpace(string(eb.Detail))
}

// fieldName drops the leading "body"/"query"/"path" segment from a location path.
func fieldName(loc []any) string {
	parts := make([]string, 0, len(loc))
	for i, p := range loc {
		var s string
		switch v := p.(type) {
		case string:
			s = v
		case float64:
			s = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			continue
		}
		if i == 0 && (s == "body" || s == "query" || s == "path") {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, ".")
}

// countEntries returns the number of elements of a JSON array or keys of a
// JSON object, and 0 for anything else.
func countEntries(raw json.RawMessage) int {
	if len(raw) == 0 {
		return 0
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err == nil {
		return len(list)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return len(obj)
	}
	return 0
}
