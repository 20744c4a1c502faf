package places

import (
	"errors"
	"net/http"
)

var (
	// ErrPlaceNotFound is returned when the requested place does not exist.
	ErrPlaceNotFound = errors.New("places: place not found")

	// ErrUserNotFound is returned when the requested user does not exist.
	ErrUserNotFound = errors.New("places: user not found")

	// ErrCreatorNotFound is returned by CreateLinked when the creator id resolves to no user.
	ErrCreatorNotFound = errors.New("places: creator not found")

	// ErrCreatorMissing is returned when a stored place points at a user that no longer exists.
	ErrCreatorMissing = errors.New("places: place creator missing")

	// ErrNotOwner is returned when the requesting user is not the place's creator.
	ErrNotOwner = errors.New("places: requester does not own the place")

	// ErrValidation is returned when caller input is malformed.
	ErrValidation = errors.New("places: invalid input")

	// ErrEmailTaken is returned when registering an email that is already in use.
	ErrEmailTaken = errors.New("places: email already registered")

	// ErrConflict is returned when a record changed between read and write.
	ErrConflict = errors.New("places: record modified concurrently")

	// ErrStoreUnavailable is returned on transport or availability failures of the store.
	ErrStoreUnavailable = errors.New("places: store unavailable")

	// ErrLinkCommitFailed is returned when the create-and-link transaction did not commit.
	// Nothing was written.
	ErrLinkCommitFailed = errors.New("places: create-and-link transaction failed")

	// ErrUnlinkCommitFailed is returned when the delete-and-unlink transaction did not commit.
	// Nothing was removed.
	ErrUnlinkCommitFailed = errors.New("places: delete-and-unlink transaction failed")
)

// Errors reported by Repository implementations.
var (
	ErrRecordNotFound  = errors.New("places: record not found")
	ErrVersionConflict = errors.New("places: record version conflict")
	ErrDuplicate       = errors.New("places: duplicate record")
)

// Fault says whose fault an error is.
type Fault int

const (
	FaultNone Fault = iota
	FaultClient
	FaultServer
)

func (f Fault) String() string {
	switch f {
	case FaultNone:
		return "none"
	case FaultClient:
		return "client"
	default:
		return "server"
	}
}

type errorClass struct {
	err     error
	fault   Fault
	status  int
	message string
}

// classes is checked in order; more specific sentinels come first.
var classes = []errorClass{
	{ErrPlaceNotFound, FaultClient, http.StatusNotFound, "Could not find a place for the provided id."},
	{ErrUserNotFound, FaultClient, http.StatusNotFound, "Could not find a user for the provided id."},
	{ErrCreatorNotFound, FaultClient, http.StatusNotFound, "Could not find a user for the provided creator id."},
	{ErrCreatorMissing, FaultClient, http.StatusNotFound, "Place creator not found."},
	{ErrNotOwner, FaultClient, http.StatusUnauthorized, "You are not allowed to modify this place."},
	{ErrValidation, FaultClient, http.StatusUnprocessableEntity, "Invalid inputs passed, please check your data."},
	{ErrEmailTaken, FaultClient, http.StatusUnprocessableEntity, "A user with this email already exists."},
	{ErrConflict, FaultClient, http.StatusConflict, "The record was changed by someone else, please retry."},
	{ErrLinkCommitFailed, FaultServer, http.StatusInternalServerError, "Creating place failed, please try again."},
	{ErrUnlinkCommitFailed, FaultServer, http.StatusInternalServerError, "Deleting place failed, please try again."},
	{ErrStoreUnavailable, FaultServer, http.StatusInternalServerError, "Something went wrong, please try again later."},
}

const genericMessage = "Something went wrong, please try again later."

func classify(err error) (errorClass, bool) {
	for _, c := range classes {
		if errors.Is(err, c.err) {
			return c, true
		}
	}
	return errorClass{}, false
}

// Classify reports whether err is the caller's fault or the server's.
// Unknown errors are server faults.
func Classify(err error) Fault {
	if err == nil {
		return FaultNone
	}
	if c, ok := classify(err); ok {
		return c.fault
	}
	return FaultServer
}

// Status maps err to an HTTP status code for the web layer.
func Status(err error) int {
	if err == nil {
		return http.StatusOK
	}
	if c, ok := classify(err); ok {
		return c.status
	}
	return http.StatusInternalServerError
}

// PublicMessage returns a message safe to show to the caller.
// Server faults never expose the underlying cause.
func PublicMessage(err error) string {
	if err == nil {
		return ""
	}
	if c, ok := classify(err); ok {
		return c.message
	}
	return genericMessage
}
