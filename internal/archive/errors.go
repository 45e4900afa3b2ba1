package archive

import "errors"

// Engine error taxonomy. API handlers and the CLI map these onto status
// and exit codes with errors.Is; everything else surfaces as an internal
// failure.
var (
	// ErrNotFound: no archive exists for the requested id or session.
	ErrNotFound = errors.New("archive not found")

	// ErrAlreadyArchived: the session already has an archive. At most one
	// archive exists per session.
	ErrAlreadyArchived = errors.New("session already archived")

	// ErrIntegrity: the stored blob failed its checksum or authentication
	// check. The data is corrupt or tampered with; retrying cannot help.
	ErrIntegrity = errors.New("archive integrity check failed")

	// ErrInvalidTier: unknown retention tier, or a retention mutation not
	// allowed for the archive's tier.
	ErrInvalidTier = errors.New("invalid retention tier")

	// ErrInvalidRequest: the request is structurally unusable, e.g. an
	// archive request without a session.
	ErrInvalidRequest = errors.New("invalid archive request")

	// ErrStorage: a storage dependency failed. Transient; the operation
	// may be retried.
	ErrStorage = errors.New("archive storage failure")
)
