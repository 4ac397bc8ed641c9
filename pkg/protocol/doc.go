// Package protocol defines the message format spoken between socksync groups
// and their subscribers.
//
// Every message is a single JSON object sent as one WebSocket text frame. The
// envelope carries the group kind, the group name and the command:
//
//	{"type": "list", "name": "todos", "func": "insert", "index": 0, "id": "a1", "value": "milk"}
//
// # Commands
//
//	kind      func      fields                                   direction
//	var       get       -                                        either
//	var       set       value                                    either
//	list      get       id? page? page_size?                     either
//	list      set_all   items page total_item_count              server -> client
//	list      insert    index value id                           either
//	list      set       id value                                 either
//	list      delete    id                                       either
//	function  call      id args                                  either
//	function  return    id value? error?                         either
//	*         subscribe -                                        client -> server
//	*         unsubscribe -                                      client -> server
//
// # Errors
//
// Errors are reported with the reserved "error" type:
//
//	{"type": "error", "func": "name_error", "group_type": "list", "name": "todos", "id": "zz"}
//	{"type": "error", "func": "general_error", "message": "missing id"}
//
// Decoding enforces the limits in limits.go; a message that exceeds them is
// rejected before it reaches any group.
package protocol
