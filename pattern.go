package meander

import (
	"errors"
	"strings"

	"github.com/grafana/regexp"
)

// Pattern represents a compiled route template. Templates are segment based:
// static segments ('/users') and named parameter segments ('/{id}'). A
// pattern compiles once at registration time and is immutable thereafter.
//
// Patterns match in two modes: Match requires the whole path to be consumed
// (terminal routes), while MatchPrefix consumes a leading portion of the
// path and returns the unmatched remainder (used while traversing into
// nested subroutes).
type Pattern struct {
	str      string
	segments []segment
	full     *regexp.Regexp
	prefix   *regexp.Regexp
}

type segmentKind int

const (
	staticSegment segmentKind = iota
	paramSegment
)

type segment struct {
	kind segmentKind
	// literal text for static segments, parameter name for param segments
	value string
}

// NewPattern compiles a route template. The template must begin with a
// leading slash; a trailing slash is normalized away (the root template is
// "/"). Parameter segments use the form '{name}'. An empty parameter name,
// a parameter not spanning its whole segment, or a duplicate parameter name
// within one template is an error.
func NewPattern(templateStr string) (*Pattern, error) {
	canonical, err := canonicalPath(templateStr)
	if err != nil {
		return nil, err
	}

	segments, err := parseSegments(canonical)
	if err != nil {
		return nil, err
	}

	fullRegExp, prefixRegExp, err := regExpsFromSegments(segments)
	if err != nil {
		return nil, err
	}

	return &Pattern{
		str:      canonical,
		segments: segments,
		full:     fullRegExp,
		prefix:   prefixRegExp,
	}, nil
}

// Match compares path to the pattern, requiring the entire path to be
// consumed. On success it returns the named parameters captured from the
// path.
func (p *Pattern) Match(path string) (Params, bool) {
	matches := p.full.FindStringSubmatch(path)
	if len(matches) == 0 {
		return nil, false
	}
	return p.paramsFromMatches(matches), true
}

// MatchPrefix compares a leading portion of path to the pattern. On success
// it returns the captured parameters and the unmatched remainder of the
// path. A prefix match must end on a segment boundary; matching "/rooms/4"
// against the template "/rooms/{id}" leaves an empty remainder, while
// "/rooms/4/members" leaves "/members".
func (p *Pattern) MatchPrefix(path string) (Params, string, bool) {
	loc := p.prefix.FindStringSubmatchIndex(path)
	if loc == nil {
		return nil, "", false
	}
	end := loc[1]
	if end < len(path) && path[end] != '/' {
		return nil, "", false
	}

	keys := p.prefix.SubexpNames()
	params := make(Params, len(keys))
	for i := 1; i < len(keys); i++ {
		if keys[i] == "" {
			continue
		}
		start, stop := loc[i*2], loc[i*2+1]
		if start >= 0 && stop >= 0 {
			params[keys[i]] = path[start:stop]
		}
	}

	return params, path[end:], true
}

// Build creates a path from the pattern by substituting params into the
// template's parameter segments. A missing parameter yields a
// *MissingParameterError.
func (p *Pattern) Build(params Params) (string, error) {
	path := ""
	for _, seg := range p.segments {
		switch seg.kind {
		case staticSegment:
			path += "/" + seg.value
		case paramSegment:
			value, ok := params[seg.value]
			if !ok {
				return "", &MissingParameterError{Name: seg.value}
			}
			path += "/" + value
		}
	}
	if path == "" {
		path = "/"
	}
	return path, nil
}

// ParamNames returns the ordered parameter names declared by the template.
func (p *Pattern) ParamNames() []string {
	var names []string
	for _, seg := range p.segments {
		if seg.kind == paramSegment {
			names = append(names, seg.value)
		}
	}
	return names
}

// String returns the canonical template string.
func (p *Pattern) String() string {
	return p.str
}

func (p *Pattern) paramsFromMatches(matches []string) Params {
	keys := p.full.SubexpNames()
	params := make(Params, len(keys))
	for i := 1; i < len(keys); i++ {
		if keys[i] != "" {
			params[keys[i]] = matches[i]
		}
	}
	return params
}

// canonicalPath normalizes a route template: the template must start with a
// slash, and a trailing slash is stripped (except for the root template).
func canonicalPath(path string) (string, error) {
	if path == "" || path[0] != '/' {
		return "", errors.New("pattern must start with a leading slash")
	}
	if path != "/" {
		path = strings.TrimSuffix(path, "/")
	}
	return path, nil
}

func parseSegments(canonical string) ([]segment, error) {
	if canonical == "/" {
		return nil, nil
	}

	parts := strings.Split(canonical[1:], "/")
	segments := make([]segment, 0, len(parts))
	seen := map[string]bool{}

	for _, part := range parts {
		if part == "" {
			return nil, errors.New("pattern contains an empty segment")
		}

		if strings.HasPrefix(part, "{") || strings.HasSuffix(part, "}") {
			if !strings.HasPrefix(part, "{") || !strings.HasSuffix(part, "}") {
				return nil, errors.New("malformed parameter segment: " + part)
			}
			name := part[1 : len(part)-1]
			if name == "" {
				return nil, errors.New("parameter segments must have a name")
			}
			if strings.ContainsAny(name, "{}") {
				return nil, errors.New("malformed parameter segment: " + part)
			}
			if seen[name] {
				return nil, errors.New("duplicate parameter name: " + name)
			}
			seen[name] = true
			segments = append(segments, segment{kind: paramSegment, value: name})
			continue
		}

		if strings.ContainsAny(part, "{}") {
			return nil, errors.New("malformed segment: " + part)
		}
		segments = append(segments, segment{kind: staticSegment, value: part})
	}

	return segments, nil
}

// regExpsFromSegments compiles the full-match and prefix-match expressions
// for a template. RE2 has no lookahead, so the prefix expression stops at
// the end of the template and MatchPrefix verifies the boundary itself.
func regExpsFromSegments(segments []segment) (*regexp.Regexp, *regexp.Regexp, error) {
	body := ""
	for _, seg := range segments {
		switch seg.kind {
		case staticSegment:
			body += "\\/" + regexp.QuoteMeta(seg.value)
		case paramSegment:
			body += "\\/(?P<" + seg.value + ">[^\\/]+)"
		}
	}

	full, err := regexp.Compile("^" + body + "\\/?$")
	if err != nil {
		return nil, nil, err
	}
	prefix, err := regexp.Compile("^" + body)
	if err != nil {
		return nil, nil, err
	}

	return full, prefix, nil
}
