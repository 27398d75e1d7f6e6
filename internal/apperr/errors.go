// Package apperr defines the sentinel errors shared across the storage layers.
package apperr

import "errors"

var (
	// ErrNotFound means the requested document or folder has no metadata record.
	ErrNotFound = errors.New("not found")

	// ErrNotModified means the client's If-None-Match already carries the
	// current version.
	ErrNotModified = errors.New("not modified")

	// ErrConflict means a file and a directory collide on the same name.
	ErrConflict = errors.New("conflict")

	// ErrAlreadyExists means an If-None-Match: * create hit an existing document.
	ErrAlreadyExists = errors.New("already exists")

	// ErrVersionMismatch means an If-Match condition did not accept the
	// current version.
	ErrVersionMismatch = errors.New("version mismatch")

	// ErrInvalidPath means the raw path string failed validation.
	ErrInvalidPath = errors.New("invalid path")

	// ErrLedgerInvariant means a ledger statement touched an unexpected number
	// of rows. The file/ledger invariant is already broken at that point, so
	// this is never surfaced to clients as a retriable condition.
	ErrLedgerInvariant = errors.New("ledger invariant violation")
)
