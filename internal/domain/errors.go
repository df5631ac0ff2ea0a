package domain

import (
	"errors"
	"fmt"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors — compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Auction errors
var (
	// ErrAuctionNotFound is returned when no auction matches the given id.
	ErrAuctionNotFound = errors.New("auction not found")

	// ErrAuctionNotActive is returned when a join or bid targets an auction
	// that is not ONGOING, or whose time window has not started / has passed.
	ErrAuctionNotActive = errors.New("auction is not active")
)

// Bid errors
var (
	// ErrBidTooLow is returned by the intake pre-check when the amount does
	// not strictly exceed the current floor (starting bid or highest bid).
	ErrBidTooLow = errors.New("bid must be higher than the current highest bid")

	// ErrBidConflict is returned by settlement when the freshly-read auction
	// row shows the bid no longer beats the highest bid. The pre-check may
	// have passed on stale cache data; this re-check is authoritative.
	ErrBidConflict = errors.New("bid amount must be higher than current highest bid")
)

// Room / presence errors
var (
	// ErrAlreadyInRoom is returned when a user joins an auction they are
	// already a member of via another connection.
	ErrAlreadyInRoom = errors.New("user is already in the auction room")

	// ErrNotInRoom is returned when a bid arrives from a user who has not
	// joined the auction room.
	ErrNotInRoom = errors.New("user is not in the auction room")
)

// User errors
var (
	// ErrUserNotFound is returned when the connection's user id does not
	// resolve to a user record.
	ErrUserNotFound = errors.New("user not found")

	// ErrUnauthorized is returned when no verified user id is available on
	// the connection.
	ErrUnauthorized = errors.New("unauthorized")
)

// Rate limiting errors
var (
	// ErrRateLimited is returned when the connection-level action window is
	// exhausted. Non-fatal: the connection stays open.
	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrThrottleLimited is returned when the tighter bid-submission window
	// is exhausted.
	ErrThrottleLimited = errors.New("bid rate limit exceeded, please wait")
)

// Input errors
var (
	// ErrInvalidPayload is returned for malformed client frames. Rejected
	// immediately, never retried.
	ErrInvalidPayload = errors.New("invalid message payload")
)

// ──────────────────────────────────────────────────────────────────────────────
// Retryable infrastructure errors
// ──────────────────────────────────────────────────────────────────────────────

// RetryableError wraps an infrastructure failure (storage, cache, broker
// unavailable) that should be retried via the broker's delayed-redelivery
// path rather than reported to the client as a domain rejection.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return fmt.Sprintf("retryable: %v", e.Err) }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err so that IsRetryable reports true. Returns nil for nil.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &RetryableError{Err: err}
}

// IsRetryable returns true when err (or any error in its chain) is an
// infrastructure failure eligible for broker-driven redelivery.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// IsNotFound returns true when err is one of the domain "not found" errors.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrAuctionNotFound) || errors.Is(err, ErrUserNotFound)
}

// IsConflict returns true for domain rejections that represent a state
// conflict — terminal per event, reported to the client, never retried.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrAuctionNotActive,
		ErrBidTooLow,
		ErrBidConflict,
		ErrAlreadyInRoom,
		ErrNotInRoom,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsRateLimited returns true for either rate-limit scope.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimited) || errors.Is(err, ErrThrottleLimited)
}
