package protocol

// ErrorCode identifies transport-level failures reported to a connection
// as general errors.
type ErrorCode uint16

const (
	ErrUnknown         ErrorCode = 0x0000 // Unknown error
	ErrInvalidMessage  ErrorCode = 0x0001 // Malformed message
	ErrUnknownGroup    ErrorCode = 0x0002 // No group with that name
	ErrKindMismatch    ErrorCode = 0x0003 // Message type does not match the group kind
	ErrNotSubscribable ErrorCode = 0x0004 // Group refuses subscriptions
	ErrRateLimited     ErrorCode = 0x0005 // Too many messages
	ErrMissingField    ErrorCode = 0x0006 // Required field absent
	ErrServerError     ErrorCode = 0x0100 // Internal server error
)

// String returns the string representation of the error code.
func (ec ErrorCode) String() string {
	switch ec {
	case ErrUnknown:
		return "Unknown"
	case ErrInvalidMessage:
		return "InvalidMessage"
	case ErrUnknownGroup:
		return "UnknownGroup"
	case ErrKindMismatch:
		return "KindMismatch"
	case ErrNotSubscribable:
		return "NotSubscribable"
	case ErrRateLimited:
		return "RateLimited"
	case ErrMissingField:
		return "MissingField"
	case ErrServerError:
		return "ServerError"
	default:
		return "Unknown"
	}
}

// CodedError builds a general error message prefixed with the code name, e.g.
// "UnknownGroup: no group named todos".
func CodedError(code ErrorCode, message string) Message {
	return GeneralError(code.String() + ": " + message)
}
