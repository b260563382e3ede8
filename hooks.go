package meander

import (
	"context"
	"errors"
)

// HookEvent names a lifecycle event that hooks can attach to.
type HookEvent string

// Supported lifecycle hook events.
const (
	BeforeConnect    HookEvent = "before_connect"
	AfterConnect     HookEvent = "after_connect"
	BeforeReceive    HookEvent = "before_receive"
	AfterReceive     HookEvent = "after_receive"
	BeforeDisconnect HookEvent = "before_disconnect"
)

var supportedHookEvents = map[HookEvent]bool{
	BeforeConnect:    true,
	AfterConnect:     true,
	BeforeReceive:    true,
	AfterReceive:     true,
	BeforeDisconnect: true,
}

// Hook is a lifecycle callback. Hooks receive the shared HookContext for the
// operation being wrapped; before hooks may mutate it (for example injecting
// default params before OnConnect runs), after hooks observe the handler's
// result or error without being able to suppress it.
type Hook func(ctx context.Context, hctx *HookContext) error

// HookContext is a single mutable record threaded through one full
// hook-wrapped operation: a connect, one receive, or a disconnect. It is
// created fresh per operation and discarded after the matching after hooks
// finish.
type HookContext struct {
	// Event is the lifecycle event currently being processed. It advances
	// from the before event to the after event as the operation progresses.
	Event HookEvent

	// Target is the innermost resource of the resolved chain.
	Target Resource

	// Resource is the resource whose hooks are currently executing. It is
	// nil while global hooks run.
	Resource Resource

	// Request is the connection request. Populated only for connect hooks.
	Request *Request

	// Socket is the transport socket for the connection.
	Socket Socket

	// Params holds the connection's path parameters. Mutable: values added
	// by before_connect hooks are visible to OnConnect and to every
	// later-running hook in the same chain.
	Params Params

	// Raw holds the inbound frame for receive hooks.
	Raw []byte

	// Result reports whether OnConnect accepted the connection. Only
	// meaningful for after_connect hooks.
	Result bool

	// Err holds the error raised by the wrapped handler, if any. After
	// hooks observe it for cleanup and observability; the error re-raises
	// once the chain completes.
	Err error

	// CloseCode is the close code supplied when a disconnect hook fires.
	CloseCode Status
}

// HookCollection is an ordered registry of hooks per lifecycle event,
// attached either to a router (global scope) or to a resource type. A
// collection may chain to a parent collection: iterating yields the parent's
// hooks first, then the collection's own, and later additions to the parent
// remain visible (live inheritance, not a snapshot).
type HookCollection struct {
	parent   *HookCollection
	registry map[HookEvent][]Hook
}

// NewHookCollection creates a hook collection. A non-nil parent chains the
// new collection under it.
func NewHookCollection(parent *HookCollection) *HookCollection {
	return &HookCollection{
		parent:   parent,
		registry: map[HookEvent][]Hook{},
	}
}

// Add registers hook for the given event. Registering an unsupported event
// or a nil hook fails immediately.
func (c *HookCollection) Add(event HookEvent, hook Hook) error {
	if !supportedHookEvents[event] {
		return errors.New("unsupported hook event: " + string(event))
	}
	if hook == nil {
		return errors.New("hook must not be nil")
	}
	c.registry[event] = append(c.registry[event], hook)
	return nil
}

// MustAdd is like Add but panics on error. Intended for package-level hook
// declarations where a failure is a programming mistake.
func (c *HookCollection) MustAdd(event HookEvent, hook Hook) {
	if err := c.Add(event, hook); err != nil {
		panic(err)
	}
}

// hooksFor returns the hooks registered for event, parent hooks first.
func (c *HookCollection) hooksFor(event HookEvent) []Hook {
	if c == nil {
		return nil
	}
	parentHooks := c.parent.hooksFor(event)
	own := c.registry[event]
	if len(parentHooks) == 0 {
		return own
	}
	combined := make([]Hook, 0, len(parentHooks)+len(own))
	combined = append(combined, parentHooks...)
	combined = append(combined, own...)
	return combined
}

// hookManager coordinates hook execution across the global collection and a
// resolved resource chain for the lifetime of one connection.
//
// Execution is onion ordered: a before event runs global hooks, then each
// resource's hooks from the chain root down to the target; the matching
// after event runs in exact reverse, target first and global last. The
// outermost registrant therefore observes both the first before and the
// last after.
type hookManager struct {
	global *HookCollection
	chain  []Resource
}

func newHookManager(global *HookCollection, chain []Resource) *hookManager {
	return &hookManager{
		global: global,
		chain:  chain,
	}
}

type hookLayer struct {
	resource Resource
	hooks    []Hook
}

func (m *hookManager) layers(event HookEvent) []hookLayer {
	layers := []hookLayer{{resource: nil, hooks: m.global.hooksFor(event)}}
	for _, resource := range m.chain {
		layers = append(layers, hookLayer{
			resource: resource,
			hooks:    resource.base().hooks.hooksFor(event),
		})
	}
	return layers
}

// runBefore fires a before event outer-to-inner. The first hook error stops
// the chain and propagates.
func (m *hookManager) runBefore(ctx context.Context, event HookEvent, hctx *HookContext) error {
	hctx.Event = event
	for _, layer := range m.layers(event) {
		hctx.Resource = layer.resource
		for _, hook := range layer.hooks {
			if err := hook(ctx, hctx); err != nil {
				hctx.Resource = nil
				return err
			}
		}
	}
	hctx.Resource = nil
	return nil
}

// runAfter fires an after event inner-to-outer. Every hook runs even when
// the wrapped operation failed; errors returned by after hooks are joined
// and reported, but never prevent the remaining hooks from running.
func (m *hookManager) runAfter(ctx context.Context, event HookEvent, hctx *HookContext) error {
	hctx.Event = event
	layers := m.layers(event)

	// Layers reverse; hooks within one layer keep registration order.
	var joined error
	for i := len(layers) - 1; i >= 0; i-- {
		hctx.Resource = layers[i].resource
		for _, hook := range layers[i].hooks {
			if err := hook(ctx, hctx); err != nil {
				joined = errors.Join(joined, err)
			}
		}
	}
	hctx.Resource = nil
	return joined
}
