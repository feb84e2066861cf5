package wirenet

import "context"

// Connection is the client side of a persistent binary protocol session.
//
// A Connection owns one transport at a time, reassembles frames from the bytes
// the transport delivers and routes each decoded frame to the handlers
// registered for its message id. Outgoing messages are described by Composer
// values and are encoded with the connection's Codec.
//
// Between MarkAuthenticated and MarkReady the connection is "gated": outgoing
// batches and incoming frames are queued instead of being written or
// dispatched. MarkReady dispatches the queued frames first and then flushes
// the queued batches, each in the order it was queued.
//
// Example usage:
//
//	conn, err := client.New(client.NewConfig("wss://game.example/ws", nil, nil))
//	if err != nil {
//	    return err
//	}
//
//	conn.RegisterOutgoing(&LoginComposer{}, 2419)
//	conn.RegisterIncoming(2491, NewAuthOKParser, func(ev *wirenet.Event) error {
//	    ev.Connection.MarkAuthenticated()
//	    return nil
//	}, "login")
//
//	if err := conn.Init(ctx, "wss://game.example/ws"); err != nil {
//	    return err
//	}
//	conn.Send(&LoginComposer{Ticket: ticket})
//
//	// Later, once the application has loaded what it needs:
//	conn.MarkReady()
type Connection interface {
	// ID returns the identifier assigned to the current session.
	// A new identifier is generated on every Init.
	ID() string

	// Init opens a new transport to addr. A previous transport, if any, is
	// disposed first. Init returns ErrInvalidAddress for an empty address
	// and an ErrTransport-wrapped error if the transport cannot be opened.
	Init(ctx context.Context, addr string) error

	// Dispose closes the transport, drops every pending message and detaches
	// from transport notifications. It is safe to call in any state and more
	// than once. Operations on a disposed connection are no-ops.
	Dispose()

	// MarkAuthenticated records that credential exchange has started.
	// From now until MarkReady, traffic is queued.
	MarkAuthenticated()

	// MarkReady opens the gate and drains both pending queues.
	MarkReady()

	// IsAuthenticated reports whether MarkAuthenticated was called for the
	// current session.
	IsAuthenticated() bool

	// IsReady reports whether MarkReady was called for the current session.
	IsReady() bool

	// State returns the current lifecycle state.
	State() State

	// Send encodes and writes a batch of composers in order.
	//
	// Composers without a registered id or that fail to encode are logged
	// and skipped; the rest of the batch is still sent. Send returns true
	// when the batch was handled and false when it was queued by the gate,
	// was empty, or the connection is disposed.
	Send(composers ...Composer) bool

	// RegisterOutgoing maps the dynamic type of prototype to a message id.
	// A later registration for the same type replaces the earlier one.
	RegisterOutgoing(prototype Composer, id uint32)

	// RegisterIncoming appends a handler binding for id. Every binding for
	// one id must use parsers of the same shape: a single parser built from
	// the first binding's factory feeds all handlers of that id.
	RegisterIncoming(id uint32, newParser ParserFactory, handler HandlerFunc, owner string) Subscription

	// UnregisterIncoming removes the binding identified by sub. Removing a
	// binding that does not exist is a no-op.
	UnregisterIncoming(id uint32, sub Subscription)

	// UnregisterOwner removes every binding registered with owner.
	UnregisterOwner(owner string)

	// Register performs the registrations described by cfg.
	Register(cfg MessageConfiguration)
}

// Composer is an outgoing message before encoding.
//
// The dynamic Go type of a composer is its identity for id lookup, so
// composers are usually pointer types with one type per message kind.
type Composer interface {
	// MessageArray returns the ordered fields to encode. It is called once,
	// during Send, even when the gate queues the message, and may use the
	// Connection.
	MessageArray() []any
}

// IdentifiedComposer is a Composer that carries its own message id. It is
// used when the type has no registered id, which lets one generic type
// stand for many message kinds.
type IdentifiedComposer interface {
	Composer
	MessageID() uint32
}

// Wrapper is a decoded frame whose payload has not been parsed yet.
// Fields are read sequentially from the start of the payload.
type Wrapper interface {
	ID() uint32
	ReadInt() (int32, error)
	ReadShort() (int16, error)
	ReadBool() (bool, error)
	ReadString() (string, error)
	ReadBytes(n int) ([]byte, error)
	Remaining() int
	Bytes() []byte
}

// Parser turns a Wrapper into typed fields. One fresh parser is created per
// incoming frame and shared by every handler bound to that frame's id.
type Parser interface {
	// Reset clears any state left from construction.
	Reset() error
	// Parse consumes the wrapper.
	Parse(w Wrapper) error
}

// ParserFactory builds a new Parser.
type ParserFactory func() Parser

// Event is handed to every handler bound to an incoming message id.
// All handlers of one dispatch receive the same Event.
type Event struct {
	ID         uint32
	Parser     Parser
	Connection Connection
}

// HandlerFunc handles an incoming message. Returning an error, or panicking,
// is reported as a handler failure.
type HandlerFunc func(ev *Event) error

// Subscription identifies one incoming binding.
type Subscription struct {
	id string
}

// NewSubscription wraps an opaque identifier.
func NewSubscription(id string) Subscription {
	return Subscription{id: id}
}

// String returns the identifier behind the subscription.
func (s Subscription) String() string {
	return s.id
}

// IsZero reports whether s was never issued.
func (s Subscription) IsZero() bool {
	return s.id == ""
}

// Codec frames and unframes messages.
type Codec interface {
	// Encode builds one wire frame for id and fields. Errors wrap
	// ErrEncodingFailure.
	Encode(id uint32, fields []any) ([]byte, error)

	// Decode extracts every complete frame at the front of buf and reports
	// how many bytes were consumed. Incomplete trailing data is left
	// unconsumed. Malformed frames are skipped and reported through err,
	// which wraps ErrDecodingFailure; frames decoded before them are still
	// returned. A malformed frame that extends past buf makes consumed exceed
	// len(buf); the excess is dropped from later input.
	Decode(buf []byte) (frames []Wrapper, consumed int, err error)
}

// Transport is an ordered, reliable, binary byte-stream socket.
type Transport interface {
	// Open connects to addr and starts delivering notifications to events.
	// OnOpen is delivered before Open returns successfully.
	Open(ctx context.Context, addr string, events TransportEvents) error

	// Send writes data. It must be safe for concurrent use.
	Send(data []byte) error

	// Close releases the socket. It must be safe to call more than once.
	Close() error
}

// TransportEvents receives transport notifications. OnData calls for one
// transport never overlap.
type TransportEvents interface {
	OnOpen()
	OnData(data []byte)
	OnClose()
	OnError(err error)
}

// MessageConfiguration describes a set of registrations.
type MessageConfiguration struct {
	// Composers maps outgoing message ids to composer prototypes.
	Composers map[uint32]Composer
	// Events lists incoming bindings, registered in order.
	Events []EventRegistration
}

// EventRegistration is one incoming binding in a MessageConfiguration.
type EventRegistration struct {
	ID        uint32
	NewParser ParserFactory
	Handler   HandlerFunc
	Owner     string
}
