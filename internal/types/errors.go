package types

import "errors"

var (
	// ErrInvalidArgument is returned for a malformed policy, mismatched mask
	// dimensions or an unusable category id.
	ErrInvalidArgument = errors.New("invalid argument")

	// ErrIneligibleAnnotation marks annotations with no geometry or a non-positive area.
	ErrIneligibleAnnotation = errors.New("ineligible annotation")

	// ErrDecode is returned when an annotation's geometry cannot be rasterized.
	ErrDecode = errors.New("annotation decode failed")

	// ErrWriteFailure is fatal to a whole run.
	ErrWriteFailure = errors.New("mask write failed")
)
