package efi

import "errors"

var (
	// ErrTruncated is returned when a buffer ends before a structure it
	// should contain is complete.
	ErrTruncated = errors.New("efi: truncated data")

	// ErrMalformed is returned when a buffer has enough bytes but their
	// content is inconsistent.
	ErrMalformed = errors.New("efi: malformed data")
)
