// Package errdefs defines the error taxonomy shared by the analysis pipeline.
//
// Callers match categories with errors.Is against the sentinels and recover
// details with errors.As against the typed errors.
package errdefs

import (
	"fmt"
	"strings"

	"gitlab.com/tozd/go/errors"
)

var (
	ErrTypeNotFound    = errors.Base("type not found")
	ErrNotAStruct      = errors.Base("type is not a struct")
	ErrAnalysisFailure = errors.Base("analysis failed")
	ErrToolInvocation  = errors.Base("tool invocation failed")
	ErrSchemaDecode    = errors.Base("rustdoc schema decode failed")
	ErrStructural      = errors.Base("malformed item")
	ErrIO              = errors.Base("io failure")

	// ErrToolchainMissing means the rustup toolchain (or rustup itself) is not installed.
	ErrToolchainMissing = errors.Base("rust toolchain not installed")
	// ErrComponentMissing means the toolchain lacks the rust-src component.
	ErrComponentMissing = errors.Base("rust-src component not installed")
)

// TypeNotFoundError reports a path with no exact match. Ambiguous lists the
// competing targets when the path matched more than one item.
type TypeNotFoundError struct {
	Path      string
	Ambiguous []string
}

func (e *TypeNotFoundError) Error() string {
	if len(e.Ambiguous) > 0 {
		return fmt.Sprintf("type not found: %s is ambiguous (%s)", e.Path, strings.Join(e.Ambiguous, ", "))
	}
	return fmt.Sprintf("type not found: %s (a full module path is required, e.g. alloc::string::String)", e.Path)
}

func (e *TypeNotFoundError) Is(target error) bool { return target == ErrTypeNotFound }

// NotAStructError reports a path that resolved to an item of another kind.
type NotAStructError struct {
	Path string
	Kind string
}

func (e *NotAStructError) Error() string {
	return fmt.Sprintf("type is not a struct: %s is a %s", e.Path, e.Kind)
}

func (e *NotAStructError) Is(target error) bool { return target == ErrNotAStruct }

// StructuralError reports a struct item whose payload could not be extracted.
type StructuralError struct {
	Path   string
	Reason string
}

func (e *StructuralError) Error() string {
	return fmt.Sprintf("malformed struct %s: %s", e.Path, e.Reason)
}

func (e *StructuralError) Is(target error) bool { return target == ErrStructural }

// SchemaError reports an artifact whose top-level shape cannot be trusted.
type SchemaError struct {
	Reason string
	Err    error
}

func (e *SchemaError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("rustdoc schema: %s: %v", e.Reason, e.Err)
	}
	return "rustdoc schema: " + e.Reason
}

func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaDecode || target == ErrAnalysisFailure
}

func (e *SchemaError) Unwrap() error { return e.Err }

// ToolError reports a failed external process. Err carries ErrToolchainMissing
// or ErrComponentMissing when the failure is an installation problem.
type ToolError struct {
	Command  string
	ExitCode int
	Stderr   string
	Err      error
}

func (e *ToolError) Error() string {
	var b strings.Builder
	b.WriteString(e.Command)
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	if e.ExitCode != 0 {
		fmt.Fprintf(&b, " (exit %d)", e.ExitCode)
	}
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		b.WriteString(": ")
		b.WriteString(lastLines(stderr, 5))
	}
	return b.String()
}

func (e *ToolError) Is(target error) bool {
	return target == ErrToolInvocation || target == ErrAnalysisFailure
}

func (e *ToolError) Unwrap() error { return e.Err }

// IOError reports a filesystem failure while locating or reading an artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Is(target error) bool { return target == ErrIO }

func (e *IOError) Unwrap() error { return e.Err }

func lastLines(s string, n int) string {
	lines := strings.Split(s, "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return strings.Join(lines, "\n")
}

// Codes used on the daemon RPC boundary.
const (
	CodeTypeNotFound     = "type_not_found"
	CodeNotAStruct       = "not_a_struct"
	CodeStructural       = "structural"
	CodeToolInvocation   = "tool_invocation"
	CodeToolchainMissing = "toolchain_missing"
	CodeComponentMissing = "component_missing"
	CodeSchemaDecode     = "schema_decode"
	CodeAnalysisFailure  = "analysis_failure"
	CodeIO               = "io"
	CodeInternal         = "internal"
)

// Code classifies err into one of the RPC codes.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrTypeNotFound):
		return CodeTypeNotFound
	case errors.Is(err, ErrNotAStruct):
		return CodeNotAStruct
	case errors.Is(err, ErrStructural):
		return CodeStructural
	case errors.Is(err, ErrComponentMissing):
		return CodeComponentMissing
	case errors.Is(err, ErrToolchainMissing):
		return CodeToolchainMissing
	case errors.Is(err, ErrToolInvocation):
		return CodeToolInvocation
	case errors.Is(err, ErrSchemaDecode):
		return CodeSchemaDecode
	case errors.Is(err, ErrAnalysisFailure):
		return CodeAnalysisFailure
	case errors.Is(err, ErrIO):
		return CodeIO
	default:
		return CodeInternal
	}
}

// FromCode rebuilds a typed error from an RPC code so errors.Is keeps working
// across the daemon boundary.
func FromCode(code, path, kind, msg string) error {
	switch code {
	case CodeTypeNotFound:
		return &TypeNotFoundError{Path: path}
	case CodeNotAStruct:
		return &NotAStructError{Path: path, Kind: kind}
	case CodeStructural:
		return &StructuralError{Path: path, Reason: msg}
	case CodeToolInvocation:
		return &ToolError{Command: "daemon", Err: errors.New(msg)}
	case CodeToolchainMissing:
		return &ToolError{Command: "daemon", Err: errors.Errorf("%w: %s", ErrToolchainMissing, msg)}
	case CodeComponentMissing:
		return &ToolError{Command: "daemon", Err: errors.Errorf("%w: %s", ErrComponentMissing, msg)}
	case CodeSchemaDecode:
		return &SchemaError{Reason: msg}
	case CodeAnalysisFailure:
		return errors.Errorf("%w: %s", ErrAnalysisFailure, msg)
	case CodeIO:
		return &IOError{Op: "daemon", Path: path, Err: errors.New(msg)}
	default:
		return errors.New(msg)
	}
}
