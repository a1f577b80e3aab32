package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: network timeouts, provider
	// rate limiting, "try again later" provider codes.
	ErrTransient = errors.New("transient failure")
	// ErrFatal marks provider permanent rejections and other failures that
	// retrying cannot fix.
	ErrFatal = errors.New("fatal failure")
	// ErrValidation marks bad inputs detected before or by the provider.
	ErrValidation = errors.New("validation error")
	// ErrConfiguration marks missing or malformed local configuration.
	ErrConfiguration = errors.New("configuration error")
	// ErrTimeout marks a job that stayed pending past its poll budget. Kept
	// distinct from ErrFatal so the user message can say "timed out" rather
	// than "provider rejected".
	ErrTimeout = errors.New("timeout")
)

// Classification is the retry decision derived from an error.
type Classification int

const (
	ClassFatal Classification = iota
	ClassRetryable
)

// Wrap builds an error that includes stage context while tagging it with the
// provided marker for later classification. The marker should be one of the
// exported sentinel errors above; nil defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	detail := buildDetail(stage, operation, message)
	if marker == nil {
		marker = ErrTransient
	}
	if err != nil {
		return fmt.Errorf("%w: %s: %w", marker, detail, err)
	}
	return fmt.Errorf("%w: %s", marker, detail)
}

// Classify maps an error to a retry decision. Unmarked errors are treated as
// retryable when they look like transport problems and fatal otherwise, so a
// provider client that forgets to tag an error fails safe instead of looping.
func Classify(err error) Classification {
	switch {
	case err == nil:
		return ClassFatal
	case errors.Is(err, ErrFatal),
		errors.Is(err, ErrValidation),
		errors.Is(err, ErrConfiguration),
		errors.Is(err, ErrTimeout):
		return ClassFatal
	case errors.Is(err, ErrTransient):
		return ClassRetryable
	case errors.Is(err, context.DeadlineExceeded):
		return ClassRetryable
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ClassRetryable
	}
	return ClassFatal
}

// FailureReason renders a short human-readable reason for a terminal
// failure, stripping the sentinel prefix from wrapped errors.
func FailureReason(err error) string {
	if err == nil {
		return "unknown failure"
	}
	msg := strings.TrimSpace(err.Error())
	for _, marker := range []error{ErrTransient, ErrFatal, ErrValidation, ErrConfiguration, ErrTimeout} {
		prefix := marker.Error() + ": "
		if strings.HasPrefix(msg, prefix) {
			return strings.TrimSpace(strings.TrimPrefix(msg, prefix))
		}
	}
	return msg
}

// IsTimeout reports whether the error carries the timeout marker.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

func buildDetail(stage, operation, message string) string {
	parts := make([]string, 0, 3)
	if stage = strings.TrimSpace(stage); stage != "" {
		parts = append(parts, stage)
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
