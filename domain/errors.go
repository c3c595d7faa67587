package domain

import (
	"errors"
	"fmt"
)

// Validation errors
var (
	ErrInvalidIdentifier  = errors.New("identifier must be a 10 digit mobile number")
	ErrInvalidSecret      = errors.New("secret must be at least 6 characters")
	ErrInvalidProfileName = errors.New("profile name must be 1 to 20 characters")
	ErrInvalidAvatar      = errors.New("avatar is not in the catalog")
)

// Account errors
var (
	ErrNotFound               = errors.New("account not found")
	ErrInvalidCredential      = errors.New("invalid credential")
	ErrAlreadyRegistered      = errors.New("mobile number already registered")
	ErrAuthenticationInFlight = errors.New("authentication already in progress")
)

// Session errors
var (
	ErrNotAuthenticated = errors.New("no authenticated session")
	ErrUnknownProfile   = errors.New("unknown profile")
)

// Profile errors
var (
	ErrLimitReached     = errors.New("profile limit reached")
	ErrProtectedProfile = errors.New("profile is protected")
)

// Infrastructure errors
var (
	ErrStoreUnavailable     = errors.New("account store unavailable")
	ErrConflict             = errors.New("account store conflict")
	ErrEvaluatorUnavailable = errors.New("risk evaluator unavailable")
	ErrCacheUnavailable     = errors.New("session cache unavailable")
)

// StoreUnavailable wraps a driver or network failure so it matches ErrStoreUnavailable
func StoreUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
}

// CacheUnavailable wraps a session cache write failure
func CacheUnavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrCacheUnavailable, err)
}

// Retryable reports whether presentation should offer a retry prompt
func Retryable(err error) bool {
	return errors.Is(err, ErrStoreUnavailable) ||
		errors.Is(err, ErrCacheUnavailable) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrAuthenticationInFlight)
}

// Public messages. Login failures share one message so identifiers cannot be enumerated.
const (
	MsgLoginFailed       = "Incorrect mobile number or password. Please try again."
	MsgInvalidMobile     = "Please enter a valid 10-digit mobile number."
	MsgInvalidSecret     = "Password must be at least 6 characters."
	MsgInvalidName       = "Profile name must be between 1 and 20 characters."
	MsgInvalidAvatar     = "Please select a profile picture."
	MsgAlreadyRegistered = "This mobile number is already registered. Please sign in."
	MsgSignInRequired    = "Please sign in to continue."
	MsgUnknownProfile    = "That profile could not be found."
	MsgLimitReached      = "You already have the maximum number of profiles."
	MsgProtectedProfile  = "This profile cannot be changed."
	MsgInFlight          = "A sign-in is already in progress. Please wait."
	MsgRetry             = "Something went wrong on our side. Please try again."
)

// PublicMessage maps an error to the only text presentation is allowed to show
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidCredential):
		return MsgLoginFailed
	case errors.Is(err, ErrInvalidIdentifier):
		return MsgInvalidMobile
	case errors.Is(err, ErrInvalidSecret):
		return MsgInvalidSecret
	case errors.Is(err, ErrInvalidProfileName):
		return MsgInvalidName
	case errors.Is(err, ErrInvalidAvatar):
		return MsgInvalidAvatar
	case errors.Is(err, ErrAlreadyRegistered):
		return MsgAlreadyRegistered
	case errors.Is(err, ErrNotAuthenticated):
		return MsgSignInRequired
	case errors.Is(err, ErrUnknownProfile):
		return MsgUnknownProfile
	case errors.Is(err, ErrLimitReached):
		return MsgLimitReached
	case errors.Is(err, ErrProtectedProfile):
		return MsgProtectedProfile
	case errors.Is(err, ErrAuthenticationInFlight):
		return MsgInFlight
	default:
		return MsgRetry
	}
}
