// Package wirenet is the client side of a persistent binary protocol session.
//
// A connection owns one websocket at a time, reassembles length-prefixed frames
// from whatever chunks the socket delivers, and routes every decoded frame to
// the handlers registered for its message id. Outgoing messages are Composer
// values whose Go type maps to a message id.
//
// # Quick Start
//
//	import (
//	    "github.com/luciancaetano/wirenet"
//	    "github.com/luciancaetano/wirenet/client"
//	)
//
//	conn, err := client.New(client.NewConfig("wss://game.example/ws", client.DefaultRateLimitConfig(), nil))
//	if err != nil {
//	    return err
//	}
//	defer conn.Dispose()
//
//	conn.RegisterOutgoing(&LoginComposer{}, 2419)
//	client.Handle(conn, 2491, func(ev *wirenet.Event, p *AuthOKParser) error {
//	    ev.Connection.MarkAuthenticated()
//	    return nil
//	}, "login")
//
//	if err := conn.Connect(ctx); err != nil {
//	    return err
//	}
//	conn.Send(&LoginComposer{Ticket: ticket})
//
// # Protocol Format
//
//	[4 bytes: length L (uint32, big-endian)][2 bytes: message id (uint16, big-endian)][L-2 bytes: fields]
//
// Fields are written in the order returned by Composer.MessageArray: int32 and
// int as 4 bytes, int16 and uint16 as 2 bytes, bool as 1 byte, string as a
// uint16 byte length followed by the bytes, []byte as is. Frames may span
// socket deliveries and one delivery may carry many frames.
//
// Maximum frame: 10MB by default. A frame declaring more is dropped by its
// declared length, including bytes that arrive in later deliveries.
//
// # Handshake Gate
//
// MarkAuthenticated starts the gate: from then on sends are queued and incoming
// frames are held instead of dispatched. MarkReady dispatches the held frames
// in arrival order, then writes the queued messages in call order. Anything
// sent or received while that happens lands behind them.
//
// # Failures
//
// Nothing is fatal to the connection. A message that cannot be encoded is
// skipped and the rest of its batch is sent; a malformed frame is dropped and
// decoding resumes at the next boundary; a frame nobody handles is logged and
// dropped; a failing parser or handler stops only that one dispatch. Socket
// open, close and failure are reported through StatusFunc notifications.
//
// # Important
//
//   - One parsed view is shared by every handler bound to an id; treat it as read-only
//   - Handlers run on the socket's read goroutine, one frame at a time; held
//     frames run on the goroutine that calls MarkReady
//   - Dispose is safe from inside a handler
package wirenet
