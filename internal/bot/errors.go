package bot

import (
	"errors"
	"fmt"
)

// Errors returned by the registry and the supervisor. Callers match them with
// errors.Is; the wrapped message carries the human-readable detail.
var (
	ErrNotFound           = errors.New("bot not found")
	ErrPathRequired       = errors.New("path required")
	ErrOutOfRange         = errors.New("bot index out of range")
	ErrAlreadyRunning     = errors.New("bot already running")
	ErrNotRunning         = errors.New("bot not running")
	ErrFileMissing        = errors.New("bot file not found")
	ErrEnvironmentMissing = errors.New("virtual environment not found")
	ErrRuntimeMissing     = errors.New("python not found in venv")
	ErrSpawnFailed        = errors.New("error starting bot")
	ErrStopFailed         = errors.New("error stopping bot")
	ErrPersistenceFailed  = errors.New("failed to persist bots")
)

// IsClientError reports whether err is one of the caller-recoverable lifecycle
// errors, as opposed to a persistence failure after a completed transition.
func IsClientError(err error) bool {
	for _, target := range []error{
		ErrNotFound, ErrPathRequired, ErrOutOfRange, ErrAlreadyRunning, ErrNotRunning, ErrFileMissing,
		ErrEnvironmentMissing, ErrRuntimeMissing, ErrSpawnFailed, ErrStopFailed,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// Error pairs a sentinel kind with the operator-facing message.
type Error struct {
	Kind    error
	Message string
}

func (e *Error) Error() string { return e.Message }

func (e *Error) Unwrap() error { return e.Kind }

// Errorf returns an *Error of kind with a formatted message.
func Errorf(kind error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}
