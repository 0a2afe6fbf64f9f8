package realtime

import "errors"

// Error classes surfaced to clients. Each one is reported to the originating
// connection only; none of them ever becomes a room broadcast.
var (
	// ErrAuth means the credential could not be verified. Terminal: the
	// connection is rejected and closed before it reaches any room.
	ErrAuth = errors.New("authentication failed")

	// ErrForbidden means the identity is authenticated but not authorized
	// for the target room or action.
	ErrForbidden = errors.New("forbidden")

	// ErrNotFound means the referenced job or room does not exist.
	ErrNotFound = errors.New("not found")

	// ErrValidation means the payload was malformed and was rejected
	// before any collaborator call.
	ErrValidation = errors.New("invalid payload")
)
