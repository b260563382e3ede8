package meander

import (
	"context"
	"fmt"
)

// Resource is a per-connection handler. One instance is created per logical
// connection, or per nested subroute segment within that connection, when a
// route matches; instances are discarded when the connection ends.
//
// Concrete resources embed BaseResource, which supplies default
// implementations along with the per-connection params, shared state,
// subroute registry, hook collection, and handler table.
type Resource interface {
	// OnConnect decides whether the connection should be accepted after the
	// handshake. The default accepts; override to validate or reject.
	OnConnect(ctx context.Context, req *Request, sock Socket, params Params) (bool, error)

	// OnDisconnect runs cleanup when the connection is closed. The default
	// is a no-op.
	OnDisconnect(ctx context.Context, sock Socket, closeCode Status) error

	// OnUnhandled is the fallback for messages that fail decoding or do not
	// map to a registered handler. It receives the raw frame unchanged. The
	// default is a no-op.
	OnUnhandled(ctx context.Context, sock Socket, raw []byte) error

	base() *BaseResource
}

// Factory constructs a resource instance for a matched route or subroute.
// Construction arguments are bound by closing over them.
type Factory func() Resource

// State is the mutable string-keyed mapping shared by reference down a
// resource chain. A child inherits its parent's State unless the parent's
// child context supplies a replacement. Mutation only happens within one
// connection's task, so no locking is required.
type State map[string]any

// ChildContext is supplied by a parent resource to a nested child during
// resolution: arbitrary values delivered to the child, plus an optional
// replacement State. A nil State propagates the parent's state reference.
type ChildContext struct {
	Values map[string]any
	State  State
}

// ChildContextProvider is implemented by resources that want to share
// context or dependencies with their nested subroute resources.
type ChildContextProvider interface {
	ChildContext() ChildContext
}

type subroute struct {
	pattern *Pattern
	factory Factory
}

// BaseResource supplies the Resource plumbing. Embed it by value in concrete
// resource types:
//
//	type RoomResource struct {
//	    meander.BaseResource
//	}
type BaseResource struct {
	params    Params
	state     State
	hooks     *HookCollection
	handlers  *HandlerTable
	subroutes []subroute
	values    map[string]any
}

// OnConnect accepts the connection. Override on the concrete resource to
// validate or reject.
func (b *BaseResource) OnConnect(ctx context.Context, req *Request, sock Socket, params Params) (bool, error) {
	return true, nil
}

// OnDisconnect is a no-op by default.
func (b *BaseResource) OnDisconnect(ctx context.Context, sock Socket, closeCode Status) error {
	return nil
}

// OnUnhandled is a no-op by default.
func (b *BaseResource) OnUnhandled(ctx context.Context, sock Socket, raw []byte) error {
	return nil
}

func (b *BaseResource) base() *BaseResource { return b }

// AddSubroute registers factory to handle the nested path below this
// resource. Subroutes are matched, in registration order, against the
// portion of the connection path left unconsumed by the parent's template.
// Panics on a malformed template or duplicate subroute path.
func (b *BaseResource) AddSubroute(path string, factory Factory) {
	if factory == nil {
		panic("subroute factory must not be nil")
	}
	pattern, err := NewPattern(path)
	if err != nil {
		panic("invalid subroute template \"" + path + "\": " + err.Error())
	}
	for _, existing := range b.subroutes {
		if existing.pattern.String() == pattern.String() {
			panic("subroute already registered for path: " + pattern.String())
		}
	}
	b.subroutes = append(b.subroutes, subroute{pattern: pattern, factory: factory})
}

// UseHooks attaches the hook collection for this resource. Typically the
// collection is declared once per resource type at package level and
// attached in the factory.
func (b *BaseResource) UseHooks(hooks *HookCollection) {
	b.hooks = hooks
}

// UseHandlers attaches the handler table for this resource. Like hooks,
// tables are built once per resource type and shared across instances.
func (b *BaseResource) UseHandlers(table *HandlerTable) {
	b.handlers = table
}

// Params returns the path parameters captured when the connection was
// resolved.
func (b *BaseResource) Params() Params {
	return b.params
}

// State returns the connection-scoped state mapping, creating it lazily.
func (b *BaseResource) State() State {
	if b.state == nil {
		b.state = State{}
	}
	return b.state
}

// SetState replaces the state mapping. A nil mapping panics.
func (b *BaseResource) SetState(state State) {
	if state == nil {
		panic("state must not be nil")
	}
	b.state = state
}

// ContextValue returns a value delivered through the parent's child
// context, or nil.
func (b *BaseResource) ContextValue(key string) any {
	return b.values[key]
}

// applyChildContext delivers a parent's child context to this resource.
func (b *BaseResource) applyChildContext(cc ChildContext) {
	if cc.Values != nil {
		if b.values == nil {
			b.values = map[string]any{}
		}
		for k, v := range cc.Values {
			b.values[k] = v
		}
	}
	if cc.State != nil {
		b.state = cc.State
	}
}

// instantiate runs a factory and verifies the produced resource embeds
// BaseResource. A factory returning nil, or a type that does not embed
// BaseResource, is a definition-time error.
func instantiate(factory Factory) (Resource, error) {
	resource := factory()
	if resource == nil {
		return nil, fmt.Errorf("resource factory returned nil")
	}
	if resource.base() == nil {
		return nil, fmt.Errorf("resource %T does not embed meander.BaseResource", resource)
	}
	return resource, nil
}
