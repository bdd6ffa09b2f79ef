package dashboard

import "errors"

var (
	// ErrSensorNotFound is returned when a sensor ID is not in the store.
	ErrSensorNotFound = errors.New("dashboard: sensor not found")

	// ErrHistoryDisabled is returned by History when no journal is configured.
	ErrHistoryDisabled = errors.New("dashboard: history is disabled")

	// ErrAlreadyStarted is returned by Start on a running service.
	ErrAlreadyStarted = errors.New("dashboard: already started")

	// ErrNotStarted is returned by operations that need a running service.
	ErrNotStarted = errors.New("dashboard: not started")
)
