// Package registry maps composer types to outgoing message ids and incoming
// message ids to handler bindings.
package registry

import (
	"fmt"
	"reflect"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/luciancaetano/wirenet"
)

// Binding is one registered incoming handler.
type Binding struct {
	Subscription wirenet.Subscription
	NewParser    wirenet.ParserFactory
	Handler      wirenet.HandlerFunc
	Owner        string
}

// Registry is safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	outgoing map[reflect.Type]uint32
	incoming map[uint32][]Binding
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		outgoing: make(map[reflect.Type]uint32),
		incoming: make(map[uint32][]Binding),
	}
}

// RegisterOutgoing maps the dynamic type of prototype to id, replacing any
// previous mapping for that type.
func (r *Registry) RegisterOutgoing(prototype wirenet.Composer, id uint32) {
	if prototype == nil {
		return
	}

	r.mu.Lock()
	r.outgoing[reflect.TypeOf(prototype)] = id
	r.mu.Unlock()
}

// ResolveOutgoingID returns the id registered for the type of c.
func (r *Registry) ResolveOutgoingID(c wirenet.Composer) (uint32, error) {
	if c == nil {
		return 0, fmt.Errorf("%w: nil composer", wirenet.ErrUnknownComposer)
	}

	r.mu.RLock()
	id, ok := r.outgoing[reflect.TypeOf(c)]
	r.mu.RUnlock()

	if ok {
		return id, nil
	}
	if ic, ok := c.(wirenet.IdentifiedComposer); ok {
		return ic.MessageID(), nil
	}
	return 0, fmt.Errorf("%w: %s", wirenet.ErrUnknownComposer, TypeName(c))
}

// RegisterIncoming appends a binding for id and returns its subscription.
func (r *Registry) RegisterIncoming(id uint32, newParser wirenet.ParserFactory, handler wirenet.HandlerFunc, owner string) wirenet.Subscription {
	sub := wirenet.NewSubscription(uuid.New().String())

	r.mu.Lock()
	r.incoming[id] = append(r.incoming[id], Binding{
		Subscription: sub,
		NewParser:    newParser,
		Handler:      handler,
		Owner:        owner,
	})
	r.mu.Unlock()

	return sub
}

// UnregisterIncoming removes the binding for id identified by sub, if any.
func (r *Registry) UnregisterIncoming(id uint32, sub wirenet.Subscription) {
	if sub.IsZero() {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	bindings := r.incoming[id]
	i := slices.IndexFunc(bindings, func(b Binding) bool { return b.Subscription == sub })
	if i < 0 {
		return
	}
	r.store(id, slices.Delete(slices.Clone(bindings), i, i+1))
}

// UnregisterOwner removes every binding registered with owner.
func (r *Registry) UnregisterOwner(owner string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, bindings := range r.incoming {
		kept := slices.DeleteFunc(slices.Clone(bindings), func(b Binding) bool { return b.Owner == owner })
		if len(kept) != len(bindings) {
			r.store(id, kept)
		}
	}
}

// store must be called with mu held. Slices handed out by Bindings are never
// modified afterwards, which is why removals always work on a clone.
func (r *Registry) store(id uint32, bindings []Binding) {
	if len(bindings) == 0 {
		delete(r.incoming, id)
		return
	}
	r.incoming[id] = bindings
}

// Bindings returns the bindings for id in registration order. The result is
// empty, not an error, when nothing is registered.
func (r *Registry) Bindings(id uint32) []Binding {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Clip(r.incoming[id])
}

// Register performs every registration in cfg. Outgoing ids are applied
// first, then incoming bindings in order.
func (r *Registry) Register(cfg wirenet.MessageConfiguration) {
	for id, prototype := range cfg.Composers {
		r.RegisterOutgoing(prototype, id)
	}
	for _, ev := range cfg.Events {
		r.RegisterIncoming(ev.ID, ev.NewParser, ev.Handler, ev.Owner)
	}
}

// TypeName returns a readable name for the dynamic type of v, for logs.
func TypeName(v any) string {
	if v == nil {
		return "<nil>"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t.Name() == "" {
		return t.String()
	}
	return t.Name()
}
