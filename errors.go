package sonarfit

import (
	stderrors "errors"
	"fmt"
	"strings"

	apperrors "github.com/goliatone/go-errors"
)

// Text codes carried on the wire. Hosts switch on these.
const (
	CodeInvalidArgs   = "E_INVALID_ARGS"
	CodeInvalidConfig = "E_INVALID_CONFIG"
	CodeInitFailed    = "E_INIT_FAILED"
	CodeNoAnchor      = "E_NO_ROOT_VC"
	CodePermission    = "E_PERMISSION"
	CodeNoResult      = "E_NO_RESULT"
	CodeCancelled     = "E_CANCELLED"
	CodeStartFailed   = "E_START_FAILED"
	CodeInternal      = "E_INTERNAL"
)

var (
	ErrInvalidArgs = apperrors.New("Invalid arguments", apperrors.CategoryBadInput).
			WithTextCode(CodeInvalidArgs)
	ErrInvalidConfig = apperrors.New("Invalid workout configuration", apperrors.CategoryValidation).
				WithTextCode(CodeInvalidConfig)
	ErrInitFailed = apperrors.New("Failed to initialize SonarFit SDK", apperrors.CategoryExternal).
			WithTextCode(CodeInitFailed)
	ErrNoAnchor = apperrors.New("Cannot find root view controller", apperrors.CategoryExternal).
			WithTextCode(CodeNoAnchor)
	ErrPermission = apperrors.New("Permission denied", apperrors.CategoryExternal).
			WithTextCode(CodePermission)
	ErrNoResult = apperrors.New("Workout completed but no result was returned", apperrors.CategoryExternal).
			WithTextCode(CodeNoResult)
	ErrCancelled = apperrors.New("Workout was cancelled by user", apperrors.CategoryHandler).
			WithTextCode(CodeCancelled)
	ErrStartFailed = apperrors.New("Workout engine failed to start", apperrors.CategoryExternal).
			WithTextCode(CodeStartFailed)
	ErrInternal = apperrors.New("Internal bridge failure", apperrors.CategoryHandler).
			WithTextCode(CodeInternal)
)

// newError clones base so callers never mutate the shared sentinel.
func newError(base *apperrors.Error, message string, source error, metadata map[string]any) *apperrors.Error {
	if base == nil {
		base = ErrInternal
	}
	err := base.Clone()
	if text := strings.TrimSpace(message); text != "" {
		err.Message = text
	}
	if source != nil {
		err.Source = source
	}
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata)
	}
	return err
}

// InvalidArgs reports a payload that is not usable at all.
func InvalidArgs(message string) error {
	return newError(ErrInvalidArgs, message, nil, nil)
}

// InvalidConfig reports a presentWorkout payload that failed decoding.
func InvalidConfig(field, reason string) error {
	return newError(ErrInvalidConfig, "", nil, map[string]any{
		"field":  field,
		"reason": reason,
	})
}

// InitFailed keeps the engine's description when one was supplied.
func InitFailed(source error) error {
	message := ""
	if source != nil {
		message = source.Error()
	}
	return newError(ErrInitFailed, message, source, nil)
}

func NoAnchor() error {
	return newError(ErrNoAnchor, "", nil, nil)
}

// PermissionDenied surfaces the engine's own description verbatim.
func PermissionDenied(source error) error {
	message := ""
	if source != nil {
		message = source.Error()
	}
	return newError(ErrPermission, message, source, nil)
}

func NoResult() error {
	return newError(ErrNoResult, "", nil, nil)
}

func Cancelled() error {
	return newError(ErrCancelled, "", nil, nil)
}

// StartFailed wraps a panic raised by the engine while starting a workout.
func StartFailed(recovered any) error {
	return newError(ErrStartFailed, "", fmt.Errorf("%v", recovered), map[string]any{
		"panic": fmt.Sprint(recovered),
	})
}

// Internal wraps failures of the bridge itself, such as a recovered handler panic.
func Internal(source error) error {
	return newError(ErrInternal, "", source, nil)
}

// CodeOf returns the text code carried by err, or "" for foreign errors.
func CodeOf(err error) string {
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.TextCode
	}
	return ""
}

// IsCode reports whether err carries the given text code.
func IsCode(err error, code string) bool {
	return err != nil && CodeOf(err) == code
}

// MessageOf returns the human readable message of err without its source
// chain.
func MessageOf(err error) string {
	if err == nil {
		return ""
	}
	var ge *apperrors.Error
	if stderrors.As(err, &ge) {
		return ge.Message
	}
	return err.Error()
}
