package lsm

import "errors"

var (
	// ErrEmptyFile marks a metadata file too short to carry its header.
	// Open paths treat it as "create fresh".
	ErrEmptyFile = errors.New("lsm: empty file")

	// ErrInvalidMagic marks a file whose magic number does not match.
	ErrInvalidMagic = errors.New("lsm: invalid magic number")

	// ErrChecksumMismatch marks a payload whose CRC32 does not match its
	// recorded checksum.
	ErrChecksumMismatch = errors.New("lsm: checksum mismatch")

	// ErrInvalidRunKey marks a run key outside the valid level/timestamp
	// range.
	ErrInvalidRunKey = errors.New("lsm: invalid run key")

	// ErrUnknownRowSize marks a manifest save attempted before the first
	// write recorded the table's row size.
	ErrUnknownRowSize = errors.New("lsm: unknown row size")

	// ErrTableClosed marks an operation against a closed table.
	ErrTableClosed = errors.New("lsm: table closed")
)
