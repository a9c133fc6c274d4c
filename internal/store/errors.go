package store

import "errors"

// Sentinel errors returned by Store operations. Callers match with errors.Is.
var (
	// ErrNotReady is returned by every data operation while the store is
	// uninitialized or after initialization failed.
	ErrNotReady = errors.New("store: not ready")

	ErrNotFound           = errors.New("store: not found")
	ErrUnknownCollection  = errors.New("store: unknown collection")
	ErrUnknownIndex       = errors.New("store: unknown index")
	ErrReservedCollection = errors.New("store: reserved collection name")
	ErrMissingKey         = errors.New("store: record has no key")
	ErrUniqueViolation    = errors.New("store: unique index violation")

	// ErrSchemaDowngrade is returned when the declared schema version is
	// lower than the version already persisted on disk.
	ErrSchemaDowngrade = errors.New("store: schema version is lower than persisted version")

	// ErrSchemaChanged is returned when collections or indexes were added
	// without bumping the schema version.
	ErrSchemaChanged = errors.New("store: schema changed without a version bump")

	// ErrSchemaConflict is returned when a declared collection or index
	// redefines an existing one. Upgrades are additive only.
	ErrSchemaConflict = errors.New("store: schema redefines an existing collection or index")

	// ErrInvalidTransition is returned by guarded queue updates when the row
	// is no longer in the expected status.
	ErrInvalidTransition = errors.New("store: invalid status transition")
)
