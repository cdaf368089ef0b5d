// Package lnxerrors provides the typed error taxonomy shared by every
// LNXDrive component. Callers wrap a root cause with a Type so that
// retry policies, errno mappers, and audit writers can classify failures
// without parsing message strings.
package lnxerrors

import (
	"errors"
	"fmt"
	"syscall"
)

// Type identifies the broad category a TypedError belongs to.
type Type int

const (
	Unknown Type = iota
	Network
	Throttled
	Auth
	Validation
	Operation
	Timeout
	ResourceBusy
	Filesystem
	Integrity
	InvalidTransition
	NotFound
	AlreadyExists
)

func (t Type) String() string {
	switch t {
	case Network:
		return "NetworkError"
	case Throttled:
		return "ThrottledError"
	case Auth:
		return "AuthError"
	case Validation:
		return "ValidationError"
	case Operation:
		return "OperationError"
	case Timeout:
		return "TimeoutError"
	case ResourceBusy:
		return "ResourceBusyError"
	case Filesystem:
		return "FilesystemError"
	case Integrity:
		return "IntegrityError"
	case InvalidTransition:
		return "InvalidTransitionError"
	case NotFound:
		return "NotFoundError"
	case AlreadyExists:
		return "AlreadyExistsError"
	default:
		return "UnknownError"
	}
}

// Code is the stable, user-facing error code referenced by spec.md §7
// (NETWORK_ERROR, AUTH_ERROR, RATE_LIMITED, ...). It is distinct from Type:
// several codes can share a Type (e.g. a Filesystem error carries
// DISK_FULL or PERMISSION_DENIED).
type Code string

const (
	CodeNetworkError    Code = "NETWORK_ERROR"
	CodeAuthError       Code = "AUTH_ERROR"
	CodeRateLimited     Code = "RATE_LIMITED"
	CodeIntegrity       Code = "INTEGRITY_MISMATCH"
	CodeDiskFull        Code = "DISK_FULL"
	CodePermission      Code = "PERMISSION_DENIED"
	CodeInvalidState    Code = "INVALID_STATE_TRANSITION"
	CodeConflict        Code = "CONFLICT"
	CodeNotFound        Code = "NOT_FOUND"
	CodeAlreadyExists   Code = "ALREADY_EXISTS"
	CodeUnknown         Code = "UNKNOWN_ERROR"
)

// TypedError is a TypeScript-free tagged union: every error that crosses a
// component boundary in LNXDrive is (or wraps) one of these.
type TypedError struct {
	TypeOf  Type
	Code    Code
	Message string
	Err     error
}

func (e *TypedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.TypeOf, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.TypeOf, e.Message)
}

func (e *TypedError) Unwrap() error { return e.Err }

func newTyped(t Type, code Code, message string, err error) error {
	return &TypedError{TypeOf: t, Code: code, Message: message, Err: err}
}

func NewNetworkError(message string, err error) error {
	return newTyped(Network, CodeNetworkError, message, err)
}

func NewThrottledError(message string, err error) error {
	return newTyped(Throttled, CodeRateLimited, message, err)
}

func NewAuthError(message string, err error) error {
	return newTyped(Auth, CodeAuthError, message, err)
}

func NewValidationError(message string, err error) error {
	return newTyped(Validation, CodeUnknown, message, err)
}

func NewOperationError(message string, err error) error {
	return newTyped(Operation, CodeUnknown, message, err)
}

func NewTimeoutError(message string, err error) error {
	return newTyped(Timeout, CodeNetworkError, message, err)
}

func NewResourceBusyError(message string, err error) error {
	return newTyped(ResourceBusy, CodeRateLimited, message, err)
}

// NewFilesystemError wraps a local filesystem failure. A disk-full cause
// (syscall.ENOSPC) gets CodeDiskFull so errnoFor can map it back to
// ENOSPC specifically rather than the generic EACCES every other
// Filesystem-type error maps to, per spec.md §4.G's DiskFull -> ENOSPC
// row.
func NewFilesystemError(message string, err error) error {
	code := CodePermission
	if errors.Is(err, syscall.ENOSPC) {
		code = CodeDiskFull
	}
	return newTyped(Filesystem, code, message, err)
}

func NewIntegrityError(message string, err error) error {
	return newTyped(Integrity, CodeIntegrity, message, err)
}

func NewInvalidTransitionError(message string) error {
	return newTyped(InvalidTransition, CodeInvalidState, message, nil)
}

func NewNotFoundError(message string, err error) error {
	return newTyped(NotFound, CodeNotFound, message, err)
}

func NewAlreadyExistsError(message string, err error) error {
	return newTyped(AlreadyExists, CodeAlreadyExists, message, err)
}

// TypeOf extracts the Type carried by err, walking the wrap chain. Returns
// Unknown if err does not wrap a *TypedError.
func TypeOf(err error) Type {
	var te *TypedError
	if errors.As(err, &te) {
		return te.TypeOf
	}
	return Unknown
}

func Is(err error, t Type) bool { return TypeOf(err) == t }

func IsNetwork(err error) bool      { return Is(err, Network) }
func IsThrottled(err error) bool    { return Is(err, Throttled) }
func IsAuth(err error) bool         { return Is(err, Auth) }
func IsResourceBusy(err error) bool { return Is(err, ResourceBusy) }
func IsNotFound(err error) bool     { return Is(err, NotFound) }
func IsAlreadyExists(err error) bool {
	return Is(err, AlreadyExists)
}

// IsTransient reports whether err is worth retrying: network hiccups,
// throttling, and generic resource-busy conditions. Integrity failures and
// invalid transitions are never transient (spec.md §7).
func IsTransient(err error) bool {
	switch TypeOf(err) {
	case Network, Throttled, ResourceBusy, Timeout:
		return true
	default:
		return false
	}
}

// Explanation is the human-readable, actionable description surfaced to
// users for a given error code (spec.md §7 "user-visible behavior").
type Explanation struct {
	Code       Code
	Summary    string
	Suggestion string
}

var explanations = map[Code]Explanation{
	CodeNetworkError:  {CodeNetworkError, "A network request to OneDrive failed.", "Check your internet connection and retry the sync."},
	CodeAuthError:     {CodeAuthError, "Your OneDrive session has expired.", "Re-authenticate the account."},
	CodeRateLimited:   {CodeRateLimited, "OneDrive is throttling requests from this client.", "Wait for the backoff window to pass; no action needed."},
	CodeIntegrity:     {CodeIntegrity, "Uploaded or downloaded content failed a hash check.", "Retry the transfer; if it persists, report the file."},
	CodeDiskFull:      {CodeDiskFull, "The local cache disk is full.", "Free up disk space or lower the cache size limit."},
	CodePermission:    {CodePermission, "The filesystem denied a read or write.", "Check file permissions under the sync root."},
	CodeInvalidState:  {CodeInvalidState, "An internal state transition was rejected.", "This indicates a bug; please file a report."},
	CodeConflict:      {CodeConflict, "Local and remote versions of a file diverged.", "Resolve the conflict from the conflicts list."},
	CodeNotFound:      {CodeNotFound, "The requested item does not exist.", "Verify the path or remote ID."},
	CodeAlreadyExists: {CodeAlreadyExists, "An item with that name already exists.", "Choose a different name or delete the existing item."},
}

// Explain returns the actionable explanation for a code, falling back to a
// generic unknown-error explanation.
func Explain(code Code) Explanation {
	if e, ok := explanations[code]; ok {
		return e
	}
	return Explanation{Code: CodeUnknown, Summary: "An unexpected error occurred.", Suggestion: "Retry; if it persists, file a report."}
}
