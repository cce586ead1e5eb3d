package snapsync

import "errors"

var (
	// ErrChecksumMismatch reports content whose hash disagrees with the
	// checksum it was requested or stored under. Fatal: it signals
	// corruption or a protocol bug, never a retryable condition.
	ErrChecksumMismatch = errors.New("snapsync: checksum mismatch")

	// ErrAssetNotFound reports a checksum the asset source cannot resolve.
	ErrAssetNotFound = errors.New("snapsync: asset not found")

	// ErrNotCanonical reports content that cannot be canonically serialized
	// for hashing.
	ErrNotCanonical = errors.New("snapsync: content not canonically serializable")

	// ErrUnknownKind reports an object with an unrecognized kind header.
	ErrUnknownKind = errors.New("snapsync: unknown node kind")
)
