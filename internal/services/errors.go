package services

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrDeviceUnavailable marks capture hardware that is missing or denied.
	ErrDeviceUnavailable = errors.New("capture device unavailable")
	// ErrTooShort marks a stop request below the minimum capture duration.
	ErrTooShort = errors.New("capture too short")
	// ErrMissingField marks an artifact missing a mandatory reference.
	ErrMissingField = errors.New("missing required field")
	// ErrTransport marks a remote ledger failure that is safe to retry.
	ErrTransport = errors.New("transport error")
	// ErrQuotaExceeded marks an upload withheld by the storage quota.
	ErrQuotaExceeded = errors.New("quota exceeded")
	// ErrTransient marks any other recoverable failure.
	ErrTransient = errors.New("transient failure")
)

// Kind is a coarse classification used for logging and operator diagnostics.
type Kind string

const (
	KindDevice     Kind = "device"
	KindValidation Kind = "validation"
	KindTransport  Kind = "transport"
	KindQuota      Kind = "quota"
	KindTransient  Kind = "transient"
)

// Wrap builds an error message that includes component context while tagging
// it with the provided marker for later classification. The marker should be
// one of the exported sentinel errors above.
func Wrap(marker error, component, operation, message string, err error) error {
	detail := buildDetail(component, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// FailureKind maps an error to its diagnostic classification.
func FailureKind(err error) Kind {
	switch {
	case errors.Is(err, ErrDeviceUnavailable):
		return KindDevice
	case errors.Is(err, ErrTooShort), errors.Is(err, ErrMissingField):
		return KindValidation
	case errors.Is(err, ErrTransport):
		return KindTransport
	case errors.Is(err, ErrQuotaExceeded):
		return KindQuota
	default:
		return KindTransient
	}
}

// Retryable reports whether the delivery worker should keep a record queued
// after this error. Everything except programmer/data errors is retryable;
// quota rejections stay queued until the quota is resolved.
func Retryable(err error) bool {
	return !errors.Is(err, ErrMissingField)
}

func buildDetail(component, operation, message string) string {
	parts := make([]string, 0, 3)
	if component = strings.TrimSpace(component); component != "" {
		parts = append(parts, component)
	}
	if operation = strings.TrimSpace(operation); operation != "" {
		parts = append(parts, operation)
	}
	if message = strings.TrimSpace(message); message != "" {
		parts = append(parts, message)
	}
	if len(parts) == 0 {
		return "service failure"
	}
	return strings.Join(parts, ": ")
}
