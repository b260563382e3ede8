package meander

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Request carries the connection request the external transport hands the
// router: the request path, the mount context under which the transport
// resolved this router, and handshake metadata.
type Request struct {
	// Path is the full request path of the connection attempt.
	Path string

	// MountPath is the mount prefix the transport resolved this router
	// under. It must match the router's own mount prefix (both default to
	// empty).
	MountPath string

	// RemoteAddr is the remote network address of the client.
	RemoteAddr string

	// Header holds the HTTP headers of the upgrade request.
	Header http.Header
}

// Router maps inbound connection paths to resources (possibly nested via
// subroutes), merges path parameters across nesting levels, and drives the
// lifecycle hooks around connect, receive, and disconnect.
type Router struct {
	routes    []*Route
	pathSet   map[string]bool
	nameMap   map[string]*Route
	mountPath string
	mounted   bool

	hooks     *HookCollection
	codec     Codec
	logger    *zap.Logger
	construct Constructor
}

// Constructor builds a resource from a route's factory. Injecting a custom
// constructor lets a dependency-injection layer decorate or replace
// resource construction without changing route registrations.
type Constructor func(factory Factory) (Resource, error)

// RouterOption configures a Router.
type RouterOption func(*Router)

// WithLogger sets the router's logger. Defaults to a no-op logger.
func WithLogger(logger *zap.Logger) RouterOption {
	return func(r *Router) {
		r.logger = logger
	}
}

// WithCodec sets the codec used to decode inbound frames. Defaults to
// JSONCodec.
func WithCodec(codec Codec) RouterOption {
	return func(r *Router) {
		r.codec = codec
	}
}

// WithConstructor injects the resource constructor used when a route
// matches.
func WithConstructor(construct Constructor) RouterOption {
	return func(r *Router) {
		r.construct = construct
	}
}

// WithHooks sets the router's global hook collection. Global hooks wrap
// every connection routed by this router.
func WithHooks(hooks *HookCollection) RouterOption {
	return func(r *Router) {
		r.hooks = hooks
	}
}

// NewRouter creates a router.
func NewRouter(opts ...RouterOption) *Router {
	r := &Router{
		pathSet:   map[string]bool{},
		nameMap:   map[string]*Route{},
		codec:     JSONCodec{},
		logger:    zap.NewNop(),
		construct: instantiate,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.hooks == nil {
		r.hooks = NewHookCollection(nil)
	}
	return r
}

// Hooks returns the router's global hook collection.
func (r *Router) Hooks() *HookCollection {
	return r.hooks
}

// AddRoute registers factory to handle connections for the given path
// template. Routes are tried in registration order; the first match wins.
// Panics on a malformed template, a duplicate canonical path, a duplicate
// route name, or a nil factory.
func (r *Router) AddRoute(path string, factory Factory, opts ...RouteOption) {
	if factory == nil {
		panic("route factory must not be nil")
	}

	pattern, err := NewPattern(path)
	if err != nil {
		panic("invalid route template \"" + path + "\": " + err.Error())
	}

	if r.pathSet[pattern.String()] {
		panic("route already registered for path: " + pattern.String())
	}

	route := &Route{
		pattern: pattern,
		factory: factory,
	}
	for _, opt := range opts {
		opt(route)
	}

	if route.name != "" {
		if _, exists := r.nameMap[route.name]; exists {
			panic("route name already in use: " + route.name)
		}
		r.nameMap[route.name] = route
	}

	r.pathSet[pattern.String()] = true
	r.routes = append(r.routes, route)
}

// Mount binds the base prefix under which this router's routes resolve.
// May be called at most once; a second call panics.
func (r *Router) Mount(prefix string) {
	if r.mounted {
		panic("router is already mounted")
	}
	if prefix != "" && prefix != "/" {
		if prefix[0] != '/' {
			panic("mount prefix must start with a leading slash")
		}
		prefix = strings.TrimSuffix(prefix, "/")
	} else {
		prefix = ""
	}
	r.mountPath = prefix
	r.mounted = true
}

// URLFor reverse-generates a path for a named route. Unknown names yield
// ErrRouteNotFound; missing template parameters yield a
// *MissingParameterError.
func (r *Router) URLFor(name string, params Params) (string, error) {
	route, ok := r.nameMap[name]
	if !ok {
		return "", fmt.Errorf("no route named %q: %w", name, ErrRouteNotFound)
	}
	path, err := route.pattern.Build(params)
	if err != nil {
		return "", err
	}
	return r.mountPath + path, nil
}

// OnConnection resolves a connection request to a resource chain and drives
// the connect lifecycle: before_connect hooks, the target resource's
// OnConnect, then after_connect hooks in reverse. When OnConnect accepts,
// the socket handshake is accepted and a *Conn is returned for the caller
// to feed inbound frames through. When OnConnect declines, the socket is
// closed with a normal close code and OnConnection returns (nil, nil).
//
// A mount mismatch or unmatched path yields ErrRouteNotFound. Any error
// raised while constructing resources or connecting closes the socket
// before it propagates.
func (r *Router) OnConnection(ctx context.Context, req *Request, sock Socket) (*Conn, error) {
	if req.MountPath != r.mountPath {
		return nil, fmt.Errorf("mount context %q does not match %q: %w",
			req.MountPath, r.mountPath, ErrRouteNotFound)
	}

	path := strings.TrimPrefix(req.Path, r.mountPath)
	if path == "" {
		path = "/"
	}

	chain, params, err := r.resolve(path)
	if err != nil {
		r.closeOnError(sock)
		return nil, err
	}
	if chain == nil {
		return nil, fmt.Errorf("no route for path %q: %w", req.Path, ErrRouteNotFound)
	}

	target := chain[len(chain)-1]
	target.base().params = params

	manager := newHookManager(r.hooks, chain)
	hctx := &HookContext{
		Target:  target,
		Request: req,
		Socket:  sock,
		Params:  params,
	}

	if err := manager.runBefore(ctx, BeforeConnect, hctx); err != nil {
		r.closeOnError(sock)
		return nil, err
	}

	accepted, connectErr := target.OnConnect(ctx, req, sock, params)
	hctx.Result = accepted
	hctx.Err = connectErr

	if afterErr := manager.runAfter(ctx, AfterConnect, hctx); afterErr != nil {
		connectErr = joinPreservingFirst(connectErr, afterErr)
	}
	if connectErr != nil {
		r.closeOnError(sock)
		return nil, connectErr
	}

	if !accepted {
		if err := sock.Close(StatusNormalClosure); err != nil {
			r.logger.Warn("failed to close declined connection", zap.Error(err))
		}
		return nil, nil
	}

	if err := sock.Accept(ctx, ""); err != nil {
		r.closeOnError(sock)
		return nil, err
	}

	return &Conn{
		dispatcher: &dispatcher{codec: r.codec, logger: r.logger},
		manager:    manager,
		chain:      chain,
		target:     target,
		sock:       sock,
		logger:     r.logger,
	}, nil
}

func (r *Router) closeOnError(sock Socket) {
	if err := sock.Close(StatusInternalError); err != nil {
		r.logger.Warn("failed to close socket during error unwind", zap.Error(err))
	}
}

// resolve scans the route list in registration order. A full template match
// resolves terminally; a prefix match descends into the resource's
// subroutes against the remaining path. When nested resolution under one
// route fails, later routes are still tried. A nil chain with a nil error
// means nothing matched.
func (r *Router) resolve(path string) ([]Resource, Params, error) {
	for _, route := range r.routes {
		if params, ok := route.pattern.Match(path); ok {
			resource, err := r.construct(route.factory)
			if err != nil {
				return nil, nil, err
			}
			return []Resource{resource}, params, nil
		}

		params, rest, ok := route.pattern.MatchPrefix(path)
		if !ok || rest == "" || rest == "/" {
			continue
		}

		resource, err := r.construct(route.factory)
		if err != nil {
			return nil, nil, err
		}
		resource.base().params = params.clone()

		chain, merged, found, err := r.resolveSubroutes(resource, rest, params)
		if err != nil {
			return nil, nil, err
		}
		if found {
			return append([]Resource{resource}, chain...), merged, nil
		}
	}

	return nil, nil, nil
}

// resolveSubroutes descends one nesting level: it matches rest against
// parent's subroutes, instantiates the child, propagates shared state and
// the parent's child context, and recurses while path remains. Parameters
// declared at deeper levels shadow same-named parameters from outer levels.
func (r *Router) resolveSubroutes(parent Resource, rest string, outer Params) ([]Resource, Params, bool, error) {
	for _, sub := range parent.base().subroutes {
		if params, ok := sub.pattern.Match(rest); ok {
			child, err := r.buildChild(parent, sub.factory)
			if err != nil {
				return nil, nil, false, err
			}
			merged := outer.clone()
			merged.merge(params)
			child.base().params = merged
			return []Resource{child}, merged, true, nil
		}

		params, childRest, ok := sub.pattern.MatchPrefix(rest)
		if !ok || childRest == "" || childRest == "/" {
			continue
		}

		child, err := r.buildChild(parent, sub.factory)
		if err != nil {
			return nil, nil, false, err
		}
		merged := outer.clone()
		merged.merge(params)
		child.base().params = merged

		chain, deepMerged, found, err := r.resolveSubroutes(child, childRest, merged)
		if err != nil {
			return nil, nil, false, err
		}
		if found {
			return append([]Resource{child}, chain...), deepMerged, true, nil
		}
	}

	return nil, nil, false, nil
}

// buildChild constructs a nested resource and applies the parent's child
// context. The child inherits the parent's state reference unless the
// child context supplies a replacement.
func (r *Router) buildChild(parent Resource, factory Factory) (Resource, error) {
	child, err := r.construct(factory)
	if err != nil {
		return nil, err
	}

	var cc ChildContext
	if provider, ok := parent.(ChildContextProvider); ok {
		cc = provider.ChildContext()
	}
	child.base().applyChildContext(cc)
	if cc.State == nil {
		child.base().state = parent.base().State()
	}

	return child, nil
}

// joinPreservingFirst keeps primary as the leading error so callers
// matching with errors.Is still see the handler's own failure first.
func joinPreservingFirst(primary, secondary error) error {
	if primary == nil {
		return secondary
	}
	if secondary == nil {
		return primary
	}
	return fmt.Errorf("%w (after hooks also failed: %v)", primary, secondary)
}
