// Package meander provides WebSocket connection routing and message
// dispatch for Go.
//
// Meander sits behind whatever component performs the WebSocket handshake:
// the transport hands the router an already-upgraded socket, and meander
// resolves the connection path to a resource, wraps the connection
// lifecycle in layered hooks, and routes each inbound frame to a typed
// message handler.
//
// # Key Features
//
//   - Path-template routing with named parameters and nested subroutes
//   - Per-connection resources with shared state down the resource chain
//   - Onion-ordered lifecycle hooks at global and per-resource scope
//   - Envelope and tagged-union message dispatch with strict validation
//   - Connection and room management with a pluggable storage backend
//   - Background worker control bound to the application lifespan
//
// # Quick Start
//
// Declare a resource type, register its handlers once, and add a route:
//
//	type EchoPayload struct {
//	    Text string `json:"text"`
//	}
//
//	var echoHandlers = meander.NewHandlerTable()
//
//	func init() {
//	    meander.On(echoHandlers, "echo", func(ctx context.Context, sock meander.Socket, p *EchoPayload) error {
//	        return sock.SendMedia(ctx, map[string]string{"echo": p.Text})
//	    })
//	}
//
//	type EchoResource struct {
//	    meander.BaseResource
//	}
//
//	router := meander.NewRouter()
//	router.AddRoute("/echo", func() meander.Resource {
//	    r := &EchoResource{}
//	    r.UseHandlers(echoHandlers)
//	    return r
//	})
//
// The transport resolves connections and drives the receive loop:
//
//	conn, err := router.OnConnection(ctx, req, sock)
//	if err != nil || conn == nil {
//	    return
//	}
//	for {
//	    raw, err := readFrame()
//	    if err != nil {
//	        break
//	    }
//	    _ = conn.Dispatch(ctx, raw)
//	}
//	_ = conn.Close(ctx, meander.StatusNormalClosure)
//
// # Message Format
//
// Without a schema, frames use the default envelope: a JSON object with a
// required string "type" and an optional "payload" of any shape:
//
//	{"type": "echo", "payload": {"text": "hi"}}
//
// Resources may instead declare a tagged-union schema, decoding whole
// frames into one of several payload types by a discriminator field.
// Malformed or unrecognized frames never crash a connection; they route to
// the resource's fallback handler.
//
// # Rooms and Broadcast
//
// ConnectionManager tracks connections and rooms behind a Backend
// interface. The default backend is in-process; the natsbackend package
// replaces it with a NATS-backed distributed registry:
//
//	manager := meander.NewConnectionManager()
//	_ = manager.AddConnection(ctx, id, sock)
//	_ = manager.JoinRoom(ctx, id, "lobby")
//	_ = manager.BroadcastToRoom(ctx, "lobby", notice, meander.WithExclude(id))
//
// For more examples see the example directory.
package meander
