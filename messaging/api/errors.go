package api

import (
	stderrors "errors"

	"campusconnect/backend/messaging/service"
	"campusconnect/backend/pkg/errors"
)

// toAppError maps a service error onto the HTTP error envelope. Authorization
// failures always carry the same message so callers learn nothing about the
// conversation they probed.
func toAppError(err error) *errors.AppError {
	switch {
	case stderrors.Is(err, service.ErrAuthorization):
		return errors.NewForbiddenError(errors.CodeForbidden, "You are not allowed to access this conversation")
	case stderrors.Is(err, service.ErrProfileNotFound):
		return errors.NewNotFoundError(errors.CodeProfileNotFound, "User not found")
	case stderrors.Is(err, service.ErrValidation):
		return errors.NewBadRequestError(errors.CodeValidation, validationMessage(err))
	case stderrors.Is(err, service.ErrTransport):
		return errors.NewServiceUnavailableError(errors.CodeTransport, "Messaging is temporarily unavailable")
	default:
		return errors.FromError(err)
	}
}

func validationMessage(err error) string {
	switch {
	case stderrors.Is(err, service.ErrEmptyContent):
		return "Message content is required"
	case stderrors.Is(err, service.ErrContentTooLong):
		return "Message content is too long"
	case stderrors.Is(err, service.ErrMissingReceiver):
		return "Receiver is required"
	case stderrors.Is(err, service.ErrSelfMessage):
		return "You cannot message yourself"
	default:
		return "Invalid request"
	}
}
