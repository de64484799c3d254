package services

import "errors"

var (
	// ErrNoActiveModel means no active model version exists for the
	// requested (vegetable, target month). A normal, reportable outcome.
	ErrNoActiveModel = errors.New("no active model version for target")

	// ErrFeatureUnavailable means a required lagged aggregate is missing,
	// so the feature vector cannot be built. Never silently defaulted:
	// zero is a price-valid value.
	ErrFeatureUnavailable = errors.New("required feature data unavailable")

	// ErrNoAggregatedData means the requested window holds no usable
	// aggregated data at all.
	ErrNoAggregatedData = errors.New("no aggregated data in window")

	// ErrModelIntegrity means persisted model state is internally
	// inconsistent (e.g. coefficients not matching the feature set).
	// Registration validation makes this unreachable; if seen, it is
	// fatal, not recoverable.
	ErrModelIntegrity = errors.New("model integrity violation")

	// ErrInvalidRecord means a raw record violated an aggregation
	// invariant. The batch is aborted; nothing is written.
	ErrInvalidRecord = errors.New("invalid raw record")
)
