package docstore

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Field accessors tolerant of the value forms produced by the different
// store implementations (native Go values in memory, JSON-decoded values
// from Redis).

// Int64Field reads a numeric field, returning 0 when absent.
func Int64Field(s Snapshot, field string) int64 {
	v, ok := s.Fields[field]
	if !ok {
		return 0
	}
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	case json.Number:
		i, err := n.Int64()
		if err != nil {
			return 0
		}
		return i
	case string:
		var num json.Number = json.Number(n)
		i, err := num.Int64()
		if err != nil {
			return 0
		}
		return i
	default:
		return 0
	}
}

// BoolField reads a boolean field, returning (value, present).
func BoolField(s Snapshot, field string) (bool, bool) {
	v, ok := s.Fields[field]
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// StringField reads a string field, returning "" when absent.
func StringField(s Snapshot, field string) string {
	v, ok := s.Fields[field]
	if !ok {
		return ""
	}
	str, _ := v.(string)
	return str
}

// TimeField reads an RFC3339 timestamp or time.Time field. The zero time is
// returned when the field is absent or malformed.
func TimeField(s Snapshot, field string) time.Time {
	v, ok := s.Fields[field]
	if !ok {
		return time.Time{}
	}
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		if err != nil {
			return time.Time{}
		}
		return parsed
	default:
		return time.Time{}
	}
}

// UUIDField reads a UUID field, returning uuid.Nil when absent or malformed.
func UUIDField(s Snapshot, field string) uuid.UUID {
	v, ok := s.Fields[field]
	if !ok {
		return uuid.Nil
	}
	switch id := v.(type) {
	case uuid.UUID:
		return id
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return uuid.Nil
		}
		return parsed
	default:
		return uuid.Nil
	}
}

// UUIDSliceField reads a list-of-UUIDs field (e.g. a likedBy set).
func UUIDSliceField(s Snapshot, field string) []uuid.UUID {
	v, ok := s.Fields[field]
	if !ok {
		return nil
	}
	switch list := v.(type) {
	case []uuid.UUID:
		out := make([]uuid.UUID, len(list))
		copy(out, list)
		return out
	case []string:
		out := make([]uuid.UUID, 0, len(list))
		for _, raw := range list {
			id, err := uuid.Parse(raw)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		return out
	case []any:
		out := make([]uuid.UUID, 0, len(list))
		for _, elem := range list {
			raw, ok := elem.(string)
			if !ok {
				continue
			}
			id, err := uuid.Parse(raw)
			if err != nil {
				continue
			}
			out = append(out, id)
		}
		return out
	default:
		return nil
	}
}

// copyFields deep-copies a field map so snapshots cannot alias store state.
func copyFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch val := v.(type) {
		case []uuid.UUID:
			cp := make([]uuid.UUID, len(val))
			copy(cp, val)
			out[k] = cp
		case []string:
			cp := make([]string, len(val))
			copy(cp, val)
			out[k] = cp
		case []any:
			cp := make([]any, len(val))
			copy(cp, val)
			out[k] = cp
		case map[string]any:
			out[k] = copyFields(val)
		default:
			out[k] = v
		}
	}
	return out
}
