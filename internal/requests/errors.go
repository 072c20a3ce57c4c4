package requests

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound means the request, donor, or donor entry does not exist.
	ErrNotFound = errors.New("blood request not found")

	// ErrDonorNotFound means the donor has no entry on this request.
	ErrDonorNotFound = errors.New("donor not found in this request")

	// ErrDuplicateResponse means the donor already responded to this request.
	ErrDuplicateResponse = errors.New("donor has already responded to this blood request")

	// ErrCapacityExceeded means the request already has the maximum number of
	// active donors.
	ErrCapacityExceeded = errors.New("request already has the maximum number of donors")

	// ErrInvalidTransition means the donor entry is not in a state that allows
	// the attempted operation.
	ErrInvalidTransition = errors.New("donation is not in a state that allows this update")

	// ErrNotRequestOwner means the caller does not own the request.
	ErrNotRequestOwner = errors.New("not authorized to update this request")

	// ErrRequestFulfilled means a confirmation lost the first-verified race.
	ErrRequestFulfilled = errors.New("request has already been fulfilled")

	// ErrNoDonorProfile means the caller has no donor profile.
	ErrNoDonorProfile = errors.New("no donor profile found for this user")

	// ErrOwnRequest means a requester tried to donate to their own request.
	ErrOwnRequest = errors.New("cannot respond to your own blood request")
)

// ValidationError reports a malformed input field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// RateLimitedError reports the daily request-creation cap being hit.
type RateLimitedError struct {
	Limit int
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("daily limit reached: a maximum of %d blood requests may be created per day", e.Limit)
}
