package archive

import "fmt"

// InvalidArchiveError reports an archive that cannot be read: no manifest,
// undecodable documents, unsafe entries and the like. It is always raised
// before the store is touched.
type InvalidArchiveError struct {
	Reason string
	Err    error
}

func (e *InvalidArchiveError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid archive: %s: %v", e.Reason, e.Err)
	}
	return "invalid archive: " + e.Reason
}

func (e *InvalidArchiveError) Unwrap() error { return e.Err }

// UnsupportedVersionError reports a manifest whose schema version is not the
// one this build reads.
type UnsupportedVersionError struct {
	Actual string
}

func (e *UnsupportedVersionError) Error() string {
	return fmt.Sprintf("unsupported archive version %q (supported: %s)", e.Actual, SchemaVersion)
}

func invalid(reason string, err error) error {
	return &InvalidArchiveError{Reason: reason, Err: err}
}
