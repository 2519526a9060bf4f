package gatekeeper

import (
	"errors"

	"ms-gatekeeper/internal/gatekeeper/qr"
)

// Domain failures. Anything not matching one of these is an internal
// fault (store or verifier unavailable) and is surfaced as-is so callers
// can tell "retry later" from "this request is invalid".
var (
	ErrEventNotFound    = errors.New("event not found")
	ErrTicketNotFound   = errors.New("ticket not found")
	ErrInvalidArgument  = errors.New("invalid argument")
	ErrInvalidSignature = errors.New("invalid signature")
	ErrAlreadyCheckedIn = errors.New("ticket already checked in")

	// ErrMalformedCode originates in the QR codec; re-exported so callers
	// match the whole taxonomy in one place.
	ErrMalformedCode = qr.ErrMalformedCode
)
