// Package group implements the synchronization engine behind socksync: named,
// typed pieces of server state that remote connections subscribe to.
//
// # Groups
//
// A Group owns a set of subscribed connections and a command handler. The set
// of variants is closed:
//
//   - Variable[T]: a single value, broadcast to every subscriber on change
//   - List: an ordered, id-addressed collection with per-subscriber pages
//   - RemoteFunction: the server calls code running on a subscriber
//   - LocalFunction: a subscriber calls code running on the server
//
// Inbound messages are routed by Registry.Dispatch to the group named in the
// message, which may mutate state, reply to the origin, and notify other
// subscribers through their Connection.
//
// # Origins
//
// HandleCommand receives the originating Connection, or nil when the command
// comes from server code. Server-internal commands are trusted: missing
// fields are ignored silently instead of being reported, and subscription is
// not checked. Commands from a connection that is not subscribed to the group
// are dropped without a reply.
//
// # Pagination
//
// Every List subscriber has a Window, the (page, page size) it last
// requested. A change at index i is delivered to a subscriber only when its
// window covers i; subscribers looking at other pages reconcile the next time
// they request their page.
//
// # Function calls
//
// RemoteFunction.CallBlocking sends a "call" with a fresh call id and blocks
// until the matching "return" arrives, the context ends, the call times out,
// or the connection unsubscribes. CallAll fires a call at every subscriber
// and discards the returns. LocalFunction runs its callable on a separate
// goroutine and replies with a "return" carrying either the value or an error.
//
// # Thread Safety
//
// All groups are safe for concurrent use:
//   - Subscriber sets are guarded by a per-group RWMutex
//   - Variable guards its value with a mutex and broadcasts after unlocking
//   - List holds one mutex across each read-modify-notify sequence, so every
//     subscriber sees deltas in the order they were applied
//   - Connection.Send must not block on network I/O
package group
