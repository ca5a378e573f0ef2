package gateway

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Safe extractors for the weakly-typed payloads the transport delivers.
// Any type mismatch is treated as if the field were absent; a malformed
// message must never take down the whole batch.

func asMap(v any) (map[string]any, bool) {
	m, ok := v.(map[string]any)
	return m, ok
}

func asSlice(v any) ([]any, bool) {
	s, ok := v.([]any)
	return s, ok
}

func asString(v any) (string, bool) {
	s, ok := v.(string)
	return s, ok
}

func asBool(v any) (bool, bool) {
	b, ok := v.(bool)
	return b, ok
}

func asInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, false
		}
		return int(n), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

// normalizeTimestamp converts a transport timestamp into unix seconds.
// Millisecond values (> 10^10) are floored to seconds. Numeric strings
// and stringers convertible to a finite positive number are accepted;
// everything else yields nil.
func normalizeTimestamp(v any) *int64 {
	var f float64
	switch t := v.(type) {
	case nil:
		return nil
	case float64:
		f = t
	case float32:
		f = float64(t)
	case int:
		f = float64(t)
	case int32:
		f = float64(t)
	case int64:
		f = float64(t)
	case uint32:
		f = float64(t)
	case uint64:
		f = float64(t)
	case json.Number:
		parsed, err := t.Float64()
		if err != nil {
			return nil
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return nil
		}
		f = parsed
	case fmt.Stringer:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(t.String()), 64)
		if err != nil {
			return nil
		}
		f = parsed
	default:
		return nil
	}

	if math.IsNaN(f) || math.IsInf(f, 0) || f <= 0 {
		return nil
	}
	if f > 1e10 {
		f = f / 1000
	}
	sec := int64(math.Floor(f))
	return &sec
}

// safeDisconnectCode digs the numeric status code out of a close payload.
// The transport nests it in several shapes depending on the failure.
func safeDisconnectCode(payload map[string]any) *int {
	last, ok := asMap(payload["lastDisconnect"])
	if !ok {
		return nil
	}
	errRec, ok := asMap(last["error"])
	if !ok {
		return nil
	}

	if out, ok := asMap(errRec["output"]); ok {
		if code, ok := asInt(out["statusCode"]); ok {
			return &code
		}
		if inner, ok := asMap(out["payload"]); ok {
			if code, ok := asInt(inner["statusCode"]); ok {
				return &code
			}
		}
	}

	if data, ok := asMap(errRec["data"]); ok {
		if attrs, ok := asMap(data["attrs"]); ok {
			if code, ok := asInt(attrs["code"]); ok {
				return &code
			}
		}
	}

	return nil
}

// safeDisconnectReason extracts the human-readable close reason, if any.
func safeDisconnectReason(payload map[string]any) string {
	last, ok := asMap(payload["lastDisconnect"])
	if !ok {
		return ""
	}
	errRec, ok := asMap(last["error"])
	if !ok {
		return ""
	}
	reason, _ := asString(errRec["message"])
	return reason
}
