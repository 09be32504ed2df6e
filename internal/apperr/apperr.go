// Package apperr defines the stable error kinds surfaced by ToolSurface
// results, per spec §7.
package apperr

import "fmt"

// Kind is one of the stable error kinds named in spec §7.
type Kind string

const (
	Duplicate        Kind = "duplicate"
	BadWorkingDir     Kind = "bad_wd"
	CommandNotFound   Kind = "command_not_found"
	PermissionDenied  Kind = "permission_denied"
	SpawnFailed       Kind = "spawn_failed"
	NotFound          Kind = "not_found"
	Ambiguous         Kind = "ambiguous"
	Timeout           Kind = "timeout"
	NotRunning        Kind = "not_running"
	BadStream         Kind = "bad_stream"
	BadTimestamp      Kind = "bad_timestamp"
)

// Error pairs a stable Kind with a human-readable message, the shape
// surfaced to callers as {"error": "..."} in every ToolSurface result
// (spec §4.7, §9 "explicit result variants").
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string { return e.Message }

// New builds an *Error with kind and a formatted message.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Is lets errors.Is match by Kind alone, since callers compare to the
// Kind, not a specific message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// KindOf extracts the Kind from err, if it is an *Error; otherwise
// returns Kind("") and false.
func KindOf(err error) (Kind, bool) {
	e, ok := err.(*Error)
	if !ok {
		return "", false
	}
	return e.Kind, true
}
