package group

import "errors"

// Sentinel errors returned by the server-side group API.
var (
	// ErrDuplicateGroup is returned when registering a name twice.
	ErrDuplicateGroup = errors.New("group: duplicate group name")

	// ErrUnknownID is returned when a list item id does not exist.
	ErrUnknownID = errors.New("group: unknown item id")

	// ErrDuplicateID is returned when inserting an id that is already present.
	ErrDuplicateID = errors.New("group: duplicate item id")

	// ErrIndexOutOfRange is returned for list positions outside the list.
	ErrIndexOutOfRange = errors.New("group: index out of range")

	// ErrInvariant is returned when a list's id index no longer matches its
	// items. It indicates a bug; the operation that detected it is aborted.
	ErrInvariant = errors.New("group: list invariant violated")

	// ErrNotSubscribed is returned when calling a function on a connection
	// that is not subscribed to it.
	ErrNotSubscribed = errors.New("group: connection not subscribed")

	// ErrCallTimeout is returned when a remote call is not answered in time.
	ErrCallTimeout = errors.New("group: call timed out")

	// ErrCallAborted is returned when the called connection unsubscribes or
	// disconnects before answering.
	ErrCallAborted = errors.New("group: call aborted")

	// ErrFunctionPanic wraps a panic recovered from a LocalFunction callable.
	ErrFunctionPanic = errors.New("group: function panicked")
)
