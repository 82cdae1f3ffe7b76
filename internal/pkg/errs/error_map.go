/*
Package errs provides custom error types and application-level error code constants.

This file defines the map from error codes to the CustomError struct, used to standardize
HTTP responses and internal error handling.
*/
package errs

import "net/http"

// errorMap stores the detailed CustomError struct corresponding to every application error code.
// The key is the error code (int), and the value contains the user message and HTTP status code.
var errorMap = map[int]CustomError{
	// 1xxx: General Request Handling Errors
	ErrInvalidParams:        {Code: ErrInvalidParams, Message: "Invalid request parameters."},
	ErrUnsupportedMediaType: {Code: ErrUnsupportedMediaType, Message: "Unsupported request format."},
	ErrInvalidJSONFormat:    {Code: ErrInvalidJSONFormat, Message: "Unsupported request format."},
	ErrExtraContentInBody:   {Code: ErrExtraContentInBody, Message: "Request contains unexpected data."},
	ErrRateLimitExceeded:    {Code: ErrRateLimitExceeded, Message: "Too many requests. Please try again later.", Status: http.StatusTooManyRequests},

	// 2xxx: Session and Message Business Logic Errors
	ErrSessionDateInvalid:   {Code: ErrSessionDateInvalid, Message: "Invalid session date."},
	ErrSessionNotJoined:     {Code: ErrSessionNotJoined, Message: "Join today's session first."},
	ErrSessionStale:         {Code: ErrSessionStale, Message: "This session has ended. Please rejoin today's session."},
	ErrMessageTooLong:       {Code: ErrMessageTooLong, Message: "Message is too long."},
	ErrMessageNotFound:      {Code: ErrMessageNotFound, Message: "Message not found."},
	ErrDeleteForbidden:      {Code: ErrDeleteForbidden, Message: "You can only delete your own messages."},
	ErrMessagePersistFailed: {Code: ErrMessagePersistFailed, Message: "Message could not be sent. Please try again."},

	// 3xxx: User, Identity, and Security Errors
	ErrUnauthorized:      {Code: ErrUnauthorized, Message: "Please sign in to continue.", Status: http.StatusUnauthorized},
	ErrAvatarTypeInvalid: {Code: ErrAvatarTypeInvalid, Message: "Unsupported image type."},
	ErrAvatarTooLarge:    {Code: ErrAvatarTooLarge, Message: "Image is too large."},

	// 5xxx: Internal System Errors
	ErrUnknown:       {Code: ErrUnknown, Message: "Something went wrong. Please try again.", Status: http.StatusInternalServerError},
	ErrStorageFailed: {Code: ErrStorageFailed, Message: "Image upload failed. Please try again."},
}
