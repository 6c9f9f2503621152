package models

import "errors"

var (
	// ErrInvalidFeature means a feature value was non-finite or too many were missing.
	// The affected pod skips the tick.
	ErrInvalidFeature = errors.New("invalid feature")
	// ErrModelServiceUnavailable is returned by model clients on timeout,
	// transport failure, open breaker or a 5xx answer.
	ErrModelServiceUnavailable = errors.New("model service unavailable")
	// ErrPodComputeFailure wraps any error or panic raised inside a pod's Compute.
	ErrPodComputeFailure = errors.New("pod compute failure")
	// ErrConfiguration is returned by constructors given unusable parameters.
	ErrConfiguration = errors.New("configuration error")
	ErrUnknownPod    = errors.New("unknown pod")
	ErrDuplicatePod  = errors.New("duplicate pod")
)
