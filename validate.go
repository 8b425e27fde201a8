package genqueue

import (
	"math"

	"github.com/google/uuid"
)

// Validator normalises and bounds-checks every enqueue request. It is
// the single normalisation point: nothing downstream re-validates
// priority, timeout, or retry fields.
type Validator struct {
	cfg Config
}

// NewValidator constructs a Validator bound to cfg's defaults/bounds.
func NewValidator(cfg Config) *Validator {
	return &Validator{cfg: cfg}
}

// Validate normalises opts into an Options value, or returns a
// *QueueError with Kind KindInvalidArgument naming the offending field.
func (v *Validator) Validate(opts Options) (Options, error) {
	out := opts

	priority, err := v.normalizePriority(opts.Priority)
	if err != nil {
		return Options{}, err
	}
	out.Priority = priority

	timeout, err := v.normalizeTimeout(opts.TimeoutMs)
	if err != nil {
		return Options{}, err
	}
	out.TimeoutMs = timeout

	maxRetries, err := v.normalizeMaxRetries(opts.MaxRetries)
	if err != nil {
		return Options{}, err
	}
	out.MaxRetries = maxRetries

	if out.RequestID == "" {
		out.RequestID = uuid.NewString()
	}

	return out, nil
}

// normalizePriority implements the closed mapping: a tag
// ("high"|"normal"|"low"), or a finite number clamped to [-100,100].
// Non-finite input coerces to the default bucket (0) rather than being
// rejected outright.
func (v *Validator) normalizePriority(priority any) (int, error) {
	if priority == nil {
		return v.cfg.priorityTag("normal"), nil
	}

	switch p := priority.(type) {
	case string:
		n, ok := v.cfg.PriorityTags[p]
		if !ok {
			return 0, newInvalidArgument("priority")
		}
		return n, nil
	case int:
		return clampPriority(float64(p)), nil
	case int64:
		return clampPriority(float64(p)), nil
	case float64:
		return clampPriority(p), nil
	default:
		return 0, newInvalidArgument("priority")
	}
}

func clampPriority(p float64) int {
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0
	}
	if p > 100 {
		p = 100
	}
	if p < -100 {
		p = -100
	}
	return int(p)
}

// normalizeTimeout enforces a finite positive integer, defaulting from
// config and upper-bounded by config.
func (v *Validator) normalizeTimeout(timeoutMs int64) (int64, error) {
	if timeoutMs == 0 {
		return v.cfg.DefaultTimeoutMs, nil
	}
	if timeoutMs < 0 {
		return 0, newInvalidArgument("timeoutMs")
	}
	if timeoutMs > v.cfg.MaxTimeoutMs {
		return v.cfg.MaxTimeoutMs, nil
	}
	return timeoutMs, nil
}

// normalizeMaxRetries enforces "integer >= 0; default from config".
func (v *Validator) normalizeMaxRetries(maxRetries int) (int, error) {
	if maxRetries < 0 {
		return 0, newInvalidArgument("maxRetries")
	}
	if maxRetries == 0 {
		return v.cfg.DefaultMaxRetries, nil
	}
	return maxRetries, nil
}

// ValidateConcurrency enforces a finite integer >= 1 for
// UpdateConcurrency.
func (v *Validator) ValidateConcurrency(n int) error {
	if n < 1 {
		return newInvalidArgument("concurrency")
	}
	return nil
}
