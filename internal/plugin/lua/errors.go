package lua

import (
	"errors"
	"fmt"
	"strings"

	lua "github.com/yuin/gopher-lua"
)

// Errors for Lua context operations.
var (
	// ErrContextClosed is returned when operating on a closed context.
	ErrContextClosed = errors.New("lua context is closed")

	// ErrTerminated is returned when a context was force-terminated.
	ErrTerminated = errors.New("lua context terminated")

	// ErrNotFunction is returned when a call target is not a function.
	ErrNotFunction = errors.New("not a lua function")
)

// ScriptError is an unhandled error raised by script code.
type ScriptError struct {
	// Kind classifies the failure: "syntax", "file", "runtime" or "panic".
	Kind string

	// Message is the error value raised by the script.
	Message string

	// Traceback holds the Lua stack trace, one frame per line.
	Traceback []string

	// Cause is the underlying Go error, if any.
	Cause error
}

// Error implements error.
func (e *ScriptError) Error() string {
	return fmt.Sprintf("lua %s error: %s", e.Kind, e.Message)
}

// Unwrap returns the underlying cause.
func (e *ScriptError) Unwrap() error {
	return e.Cause
}

// Lines formats the error as a multi-line report headed by a banner.
// The owner label identifies the plugin the script belongs to.
func (e *ScriptError) Lines(owner string) []string {
	lines := []string{
		"###### LUA EXCEPTION ######",
		"## In " + owner,
		"## Error: " + e.Kind,
	}
	for _, l := range strings.Split(e.Message, "\n") {
		lines = append(lines, "## Message: "+l)
	}
	if len(e.Traceback) > 0 {
		lines = append(lines, "## Traceback:")
		for _, l := range e.Traceback {
			lines = append(lines, "## "+l)
		}
	}
	lines = append(lines, "###### EXCEPTION END ######")
	return lines
}

// newScriptError converts an error returned by gopher-lua into a ScriptError.
// Errors that are already ScriptErrors or not produced by the VM pass through.
func newScriptError(err error, terminated bool) error {
	if err == nil {
		return nil
	}
	var se *ScriptError
	if errors.As(err, &se) {
		return err
	}
	var apiErr *lua.ApiError
	if !errors.As(err, &apiErr) {
		return err
	}

	out := &ScriptError{
		Kind:  apiErrorKind(apiErr.Type),
		Cause: apiErr.Cause,
	}
	if apiErr.Object != nil {
		out.Message = apiErr.Object.String()
	}
	for _, l := range strings.Split(apiErr.StackTrace, "\n") {
		l = strings.TrimSpace(l)
		if l == "" || l == "stack traceback:" {
			continue
		}
		out.Traceback = append(out.Traceback, l)
	}
	if terminated && out.Cause == nil {
		out.Cause = ErrTerminated
	}
	return out
}

func apiErrorKind(t lua.ApiErrorType) string {
	switch t {
	case lua.ApiErrorSyntax:
		return "syntax"
	case lua.ApiErrorFile:
		return "file"
	case lua.ApiErrorPanic:
		return "panic"
	default:
		return "runtime"
	}
}
