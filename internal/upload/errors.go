package upload

import "errors"

var (
	// ErrSessionExists is returned when a session ID is already claimed.
	ErrSessionExists = errors.New("upload session already exists")
	// ErrSessionNotFound is returned when no session matches the ID.
	ErrSessionNotFound = errors.New("upload session not found")
	// ErrSessionExpired is returned when the session TTL has lapsed.
	ErrSessionExpired = errors.New("upload session expired")
	// ErrSessionClosed is returned for mutations on a finished session.
	ErrSessionClosed = errors.New("upload session is no longer active")
	// ErrChunkOutOfRange is returned for chunk indexes outside the session.
	ErrChunkOutOfRange = errors.New("chunk index out of range")
	// ErrChunkTooLarge is returned when a chunk body exceeds its declared size.
	ErrChunkTooLarge = errors.New("chunk exceeds maximum size")
	// ErrChunkSizeMismatch is returned when a chunk body does not match the
	// size the session layout expects for that index.
	ErrChunkSizeMismatch = errors.New("chunk size does not match session layout")
	// ErrChunkIntegrity is returned when a chunk digest does not match the
	// client supplied hash. The chunk is discarded and may be resent.
	ErrChunkIntegrity = errors.New("chunk hash mismatch")
	// ErrIncompleteUpload is returned when finalize runs before every chunk
	// has been received.
	ErrIncompleteUpload = errors.New("upload is missing chunks")
	// ErrContentHashMismatch is returned when the assembled file does not
	// match the hash declared at initiation.
	ErrContentHashMismatch = errors.New("assembled content hash does not match declared hash")
)
