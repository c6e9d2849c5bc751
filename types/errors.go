package types

import "errors"

// Sentinel errors for the core's error taxonomy. Components wrap one of
// these with fmt.Errorf("...: %w", ...) so callers can classify failures
// with errors.Is without string matching.
var (
	// ErrNotFound is returned when a manifest or package version does not
	// exist at the registry or packages API. Reads tolerate it. Deletes do
	// not return it: a single 404 between successful deletes is tolerated,
	// and a second consecutive one yields ErrRepeatedNotFound.
	ErrNotFound = errors.New("not found")

	// ErrConfiguration marks a fatal, pre-flight configuration problem:
	// mutually exclusive options, missing credentials, unparsable input.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrAuthentication marks a 401 outside of the token exchange flow.
	ErrAuthentication = errors.New("authentication failed")

	// ErrTransport marks a network or 5xx failure that exhausted retries.
	ErrTransport = errors.New("transport error")

	// ErrIntegrityWarning marks a validator finding. Non-fatal by default.
	ErrIntegrityWarning = errors.New("integrity warning")

	// ErrRepeatedNotFound marks two consecutive 404s on DeleteVersion,
	// which escalates a tolerated miss into a fatal run error.
	ErrRepeatedNotFound = errors.New("repeated not found on delete")
)
