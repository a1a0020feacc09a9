package service

import (
	"errors"
	"fmt"
)

// Error kinds returned by the messaging services. Callers match them with errors.Is.
var (
	ErrValidation      = errors.New("validation failed")
	ErrAuthorization   = errors.New("not authorized")
	ErrTransport       = errors.New("message store unavailable")
	ErrProfileNotFound = errors.New("profile not found")
)

// Specific validation failures
var (
	ErrEmptyContent    = fmt.Errorf("%w: message content is empty", ErrValidation)
	ErrContentTooLong  = fmt.Errorf("%w: message content is too long", ErrValidation)
	ErrMissingReceiver = fmt.Errorf("%w: receiver is required", ErrValidation)
	ErrSelfMessage     = fmt.Errorf("%w: cannot message yourself", ErrValidation)
	ErrNoConversation  = fmt.Errorf("%w: no conversation is open", ErrValidation)
)

func transportError(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrTransport, err)
}
