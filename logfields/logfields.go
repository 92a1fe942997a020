package logfields

import "log/slog"

// Canonical log field names shared by every package.
const (
	KeyEntityKey  = "entity_key"
	KeySliceKey   = "slice_key"
	KeyPath       = "path"
	KeyRunID      = "run_id"
	KeyState      = "state"
	KeyDomain     = "domain"
	KeyCount      = "count"
	KeyAttempt    = "attempt"
	KeyOp         = "op"
	KeyDurationMS = "duration_ms"
	KeyError      = "error"
)

func EntityKey(k string) slog.Attr    { return slog.String(KeyEntityKey, k) }
func SliceKey(k string) slog.Attr     { return slog.String(KeySliceKey, k) }
func Path(p string) slog.Attr         { return slog.String(KeyPath, p) }
func RunID(id string) slog.Attr       { return slog.String(KeyRunID, id) }
func State(s string) slog.Attr        { return slog.String(KeyState, s) }
func Domain(d string) slog.Attr       { return slog.String(KeyDomain, d) }
func Count(n int) slog.Attr           { return slog.Int(KeyCount, n) }
func Attempt(n int) slog.Attr         { return slog.Int(KeyAttempt, n) }
func Op(op string) slog.Attr          { return slog.String(KeyOp, op) }
func DurationMS(ms float64) slog.Attr { return slog.Float64(KeyDurationMS, ms) }
func Error(err error) slog.Attr {
	if err == nil {
		return slog.String(KeyError, "")
	}
	return slog.String(KeyError, err.Error())
}
