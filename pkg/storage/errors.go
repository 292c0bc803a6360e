package storage

import "errors"

var (
	// ErrExists indicates the destination key is already taken.
	//
	// The upload adapter treats it as a prefix collision and retries with a
	// new random prefix.
	ErrExists = errors.New("object already exists")

	// ErrInvalidName indicates a client-supplied name that cannot be used
	// as the final path component of a stored file.
	ErrInvalidName = errors.New("invalid file name")

	// ErrClosed indicates the store was used after Close.
	ErrClosed = errors.New("store closed")
)
