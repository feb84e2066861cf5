// Package dispatch routes decoded frames to their registered handlers.
package dispatch

import (
	"errors"
	"fmt"

	"github.com/luciancaetano/wirenet"
	"github.com/luciancaetano/wirenet/internal/registry"
)

// Resolver returns the bindings registered for an incoming id.
type Resolver interface {
	Bindings(id uint32) []registry.Binding
}

// Config configures a Dispatcher.
type Config struct {
	Logger wirenet.Logger
	// Isolate keeps delivering to the remaining handlers of a message after
	// one of them fails. By default the first failure stops delivery for
	// that message.
	Isolate bool
}

// Dispatcher parses one wrapper per call and invokes its handlers
// synchronously. It holds no per-message state and is safe for concurrent
// use as long as the Resolver is.
type Dispatcher struct {
	resolver Resolver
	logger   wirenet.Logger
	isolate  bool
}

// New returns a Dispatcher resolving bindings through r.
func New(r Resolver, cfg Config) *Dispatcher {
	if cfg.Logger == nil {
		cfg.Logger = wirenet.DefaultLogger()
	}
	return &Dispatcher{
		resolver: r,
		logger:   cfg.Logger,
		isolate:  cfg.Isolate,
	}
}

// Dispatch delivers w to every handler bound to its id.
//
// The returned error wraps ErrUnregisteredMessage or ErrHandlerFailure and is
// informational: it has already been logged.
func (d *Dispatcher) Dispatch(conn wirenet.Connection, w wirenet.Wrapper) error {
	id := w.ID()

	bindings := d.resolver.Bindings(id)
	if len(bindings) == 0 {
		d.logger.Debug("incoming message", "id", id, "type", "UNREGISTERED", "size", len(w.Bytes()))
		return fmt.Errorf("%w: id %d", wirenet.ErrUnregisteredMessage, id)
	}

	parser, err := parse(bindings[0].NewParser, w)
	if err != nil {
		d.logger.Error("error parsing message", "id", id, "type", registry.TypeName(parser), "error", err)
		return err
	}

	name := registry.TypeName(parser)
	d.logger.Debug("incoming message", "id", id, "type", name)

	ev := &wirenet.Event{ID: id, Parser: parser, Connection: conn}

	var errs []error
	for i, b := range bindings {
		if b.Handler == nil {
			continue
		}

		if err := invoke(b.Handler, ev); err != nil {
			err = fmt.Errorf("%w: message %d handler %d (%s): %w", wirenet.ErrHandlerFailure, id, i, name, err)
			d.logger.Error("message handler failed", "id", id, "type", name, "handler", i, "error", err)
			if !d.isolate {
				return err
			}
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

func parse(newParser wirenet.ParserFactory, w wirenet.Wrapper) (p wirenet.Parser, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%w: parser for message %d panicked: %v", wirenet.ErrHandlerFailure, w.ID(), r)
		}
	}()

	if newParser == nil {
		return nil, fmt.Errorf("%w: no parser for message %d", wirenet.ErrHandlerFailure, w.ID())
	}

	p = newParser()
	if p == nil {
		return nil, fmt.Errorf("%w: parser factory for message %d returned nil", wirenet.ErrHandlerFailure, w.ID())
	}
	if err := p.Reset(); err != nil {
		return p, fmt.Errorf("%w: reset: %w", wirenet.ErrHandlerFailure, err)
	}
	if err := p.Parse(w); err != nil {
		return p, fmt.Errorf("%w: parse: %w", wirenet.ErrHandlerFailure, err)
	}
	return p, nil
}

func invoke(handler wirenet.HandlerFunc, ev *wirenet.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return handler(ev)
}
