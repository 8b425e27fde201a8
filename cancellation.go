package genqueue

import (
	"context"
	"errors"
	"strings"
)

// cancellationNames is the closed set of error type/name tags
// CancellationDetector recognises, matched against the Name() method of
// errors implementing namedError.
var cancellationNames = map[string]struct{}{
	"AbortError":                    {},
	"CancelError":                   {},
	"CancelledError":                {},
	"CancellationError":             {},
	"AbortedError":                  {},
	"UserCancelledError":            {},
	"RequestCancelledError":         {},
	"CanceledError":                 {},
	"TimeoutError-with-abort-cause": {},
	"DOMException-ABORT_ERR":        {},
}

// cancellationCodes is the closed set of error code/tag strings
// CancellationDetector recognises.
var cancellationCodes = map[string]struct{}{
	"ABORT_ERR":           {},
	"ABORTED":             {},
	"ABORT_ERROR":         {},
	"CANCELLED":           {},
	"CANCELED":            {},
	"USER_CANCELLED":      {},
	"REQUEST_CANCELLED":   {},
	"OPERATION_CANCELLED": {},
	"ERR_CANCELED":        {},
}

// cancellationMessageFragments is the closed set of canonicalised message
// fragments CancellationDetector falls back to when an error carries
// neither a recognised name, code, nor sentinel. Matching is
// case-insensitive substring, against the error's lowercased message.
var cancellationMessageFragments = []string{
	"context canceled",
	"operation was aborted",
	"operation canceled",
	"request cancelled",
	"request canceled",
	"user cancelled",
	"user canceled",
}

// namedError is satisfied by error types that self-report a name/type tag,
// analogous to a JS Error's .name.
type namedError interface {
	Name() string
}

// codedError is satisfied by error types that self-report a code/tag,
// analogous to a DOMException's .code or a platform error's .code.
type codedError interface {
	Code() string
}

// flaggedCancelError is satisfied by error types carrying an explicit
// boolean cancellation flag.
type flaggedCancelError interface {
	IsCancelled() bool
}

// isCancellation recognises every shape in the closed cancellation zoo so
// the same logical cancellation, however it arrives, is classified
// identically regardless of which concrete error type produced it.
func isCancellation(err error) bool {
	if err == nil {
		return false
	}

	if isEnqueueCancelSentinel(err) {
		return true
	}

	if errors.Is(err, context.Canceled) {
		return true
	}

	// walk the cause/Unwrap chain, checking every link against the
	// closed name/code/flag sets.
	for cur := err; cur != nil; cur = errors.Unwrap(cur) {
		if matchesCancellationShape(cur) {
			return true
		}
	}

	return matchesCancellationMessage(err.Error())
}

func matchesCancellationShape(err error) bool {
	var named namedError
	if errors.As(err, &named) {
		if _, ok := cancellationNames[named.Name()]; ok {
			return true
		}
	}

	var coded codedError
	if errors.As(err, &coded) {
		if _, ok := cancellationCodes[coded.Code()]; ok {
			return true
		}
	}

	var flagged flaggedCancelError
	if errors.As(err, &flagged) {
		if flagged.IsCancelled() {
			return true
		}
	}

	return false
}

func matchesCancellationMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, frag := range cancellationMessageFragments {
		if strings.Contains(msg, frag) {
			return true
		}
	}
	return false
}
