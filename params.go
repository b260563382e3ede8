package meander

// Params holds the path parameters captured while resolving a connection
// path against route templates. Parameters captured at deeper nesting levels
// shadow same-named parameters from outer levels. The mapping is mutable;
// before_connect hooks may inject defaults before OnConnect runs.
type Params map[string]string

// Get returns the value of a parameter by key, or an empty string if the key
// doesn't exist.
func (p Params) Get(key string) string {
	return p[key]
}

// Has reports whether the parameter is present.
func (p Params) Has(key string) bool {
	_, ok := p[key]
	return ok
}

// merge copies other's entries over p's, letting deeper captures shadow
// outer ones.
func (p Params) merge(other Params) {
	for k, v := range other {
		p[k] = v
	}
}

// clone returns an independent copy of p.
func (p Params) clone() Params {
	out := make(Params, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}
