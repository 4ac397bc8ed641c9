// Package server serves socksync groups over WebSocket.
//
// The server package accepts WebSocket connections, decodes JSON protocol
// messages and routes them to the groups held in a group.Registry. Every
// socket becomes a Conn, which is the group.Connection the groups see.
//
// # Architecture
//
//   - Server: chi router with the WebSocket endpoint, health, metrics and
//     group listing, plus graceful shutdown
//   - ConnManager: all live connections with limits, idle cleanup and
//     lifecycle hooks
//   - Conn: one socket with a buffered send queue, a read loop and a write
//     loop
//   - DispatchMiddleware: wraps the routing of every inbound message
//
// # Connection Lifecycle
//
// Each connection runs two goroutines:
//   - readLoop: reads text frames, applies the rate limit, decodes and
//     dispatches messages
//   - writeLoop: drains the send queue and sends heartbeat pings
//
// Send never blocks. When the send queue is full the connection is closed
// with ErrSendQueueFull; groups call Send while holding their own locks and
// a slow peer must not stall them. On close the connection is removed from
// every group.
//
// # Subscriptions
//
// "subscribe" and "unsubscribe" are handled by the server itself:
//
//	{"type": "list", "name": "todos", "func": "subscribe"}
//
// A successful subscribe to a var or list is answered with the group's
// current state, as if the peer had sent "get".
//
// # Example Usage
//
//	reg := group.NewRegistry()
//	reg.MustRegister(group.NewVariable("motd", "hello"))
//
//	srv := server.New(server.DefaultServerConfig(), reg)
//	srv.Use(middleware.Prometheus())
//	if err := srv.Run(ctx); err != nil {
//	    log.Fatal(err)
//	}
//
// # Thread Safety
//
//   - Conn.Send is safe for concurrent use and never blocks
//   - Only the write loop writes to the socket
//   - ConnManager uses an RWMutex for the connection map
package server
