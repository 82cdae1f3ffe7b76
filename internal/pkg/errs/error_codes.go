/*
Package errs provides custom error types and application-level error code constants.

These error codes are used to clearly identify specific business or system errors
both internally within the server and in communication with clients.
*/
package errs

// 1xxx: General Request Handling Errors
const (
	// ErrInvalidParams indicates that request parameter validation failed.
	ErrInvalidParams = 1001

	// ErrUnsupportedMediaType indicates that the request header Content-Type is not supported.
	ErrUnsupportedMediaType = 1002

	// ErrInvalidJSONFormat indicates that the request body JSON format is incorrect (e.g., syntax error).
	ErrInvalidJSONFormat = 1003

	// ErrExtraContentInBody indicates that the request body contained extra content after valid JSON data.
	ErrExtraContentInBody = 1004

	// ErrRateLimitExceeded indicates that the request rate has exceeded the set limit.
	ErrRateLimitExceeded = 1005
)

// 2xxx: Session and Message Business Logic Errors
const (
	// ErrSessionDateInvalid indicates that a session date key was missing or not in YYYY-MM-DD form.
	ErrSessionDateInvalid = 2101

	// ErrSessionNotJoined indicates an operation that requires a joined session arrived before join-session.
	ErrSessionNotJoined = 2102

	// ErrSessionStale indicates that the requested session date is no longer today's session.
	ErrSessionStale = 2103

	// ErrMessageTooLong indicates that the message text exceeded the maximum length limit.
	ErrMessageTooLong = 2202

	// ErrMessageNotFound indicates a delete request for a message id not present in the live window.
	ErrMessageNotFound = 2203

	// ErrDeleteForbidden indicates a delete request from a user who is neither the author nor a moderator.
	ErrDeleteForbidden = 2204

	// ErrMessagePersistFailed indicates the persistence collaborator could not assign an id to the message.
	ErrMessagePersistFailed = 2205
)

// 3xxx: User, Identity, and Security Errors
const (
	// ErrUnauthorized indicates a missing or invalid identity token.
	ErrUnauthorized = 3001

	// ErrAvatarTypeInvalid indicates an unsupported profile picture file type.
	ErrAvatarTypeInvalid = 3101

	// ErrAvatarTooLarge indicates the profile picture exceeded the size limit.
	ErrAvatarTooLarge = 3102
)

// 5xxx: Internal System Errors
const (
	// ErrUnknown represents an unclassified, general server internal error.
	ErrUnknown = 5000

	// ErrStorageFailed indicates a failure talking to the object storage service.
	ErrStorageFailed = 5001
)
