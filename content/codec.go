package content

import (
	"encoding/json"
	"math"
	"strconv"
	"time"
)

// Millis encodes t as unix milliseconds; the zero time encodes as 0.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

// FromMillis is the inverse of Millis.
func FromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func str(a map[string]any, name string) string {
	switch v := a[name].(type) {
	case string:
		return v
	case nil:
		return ""
	case json.Number:
		return v.String()
	}
	return ""
}

func boolean(a map[string]any, name string) bool {
	switch v := a[name].(type) {
	case bool:
		return v
	case string:
		b, _ := strconv.ParseBool(v)
		return b
	}
	return false
}

// millis reads a timestamp attribute that may have been decoded from JSON
// as a float or json.Number.
func millis(a map[string]any, name string) time.Time {
	var ms int64
	switch v := a[name].(type) {
	case int64:
		ms = v
	case int:
		ms = int64(v)
	case float64:
		ms = int64(math.Round(v))
	case json.Number:
		if n, err := v.Int64(); err == nil {
			ms = n
		} else if f, err := v.Float64(); err == nil {
			ms = int64(math.Round(f))
		}
	}
	return FromMillis(ms)
}

func raw(a map[string]any, name string) json.RawMessage {
	s := str(a, name)
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}
