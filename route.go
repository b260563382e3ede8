package meander

// Route binds a compiled route template to the factory that produces its
// resource, plus an optional name used for reverse URL generation. Routers
// own an ordered list of routes; registration order is significant because
// the first matching template wins when templates overlap.
type Route struct {
	pattern *Pattern
	factory Factory
	name    string
}

// Pattern returns the route's compiled template.
func (r *Route) Pattern() *Pattern {
	return r.pattern
}

// Name returns the route's name, or an empty string for unnamed routes.
func (r *Route) Name() string {
	return r.name
}

// RouteOption configures a route registration.
type RouteOption func(*Route)

// WithName names the route for reverse URL generation via Router.URLFor.
func WithName(name string) RouteOption {
	return func(r *Route) {
		r.name = name
	}
}
