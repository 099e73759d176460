// Package rewrite forwards inbound path patterns to external applications.
//
// A pattern is made of literal segments, ":name" for a single segment and a
// trailing ":name*" that captures zero or more segments. The destination is
// an absolute URL whose path and query may reference the captured params.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidPattern is wrapped by every Compile failure.
var ErrInvalidPattern = errors.New("invalid rewrite pattern")

var paramRef = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)(\*?)`)

type segment struct {
	literal  string
	param    string
	catchAll bool
}

// Rule is a compiled rewrite.
type Rule struct {
	Source      string
	Destination string

	segments []segment
	dest     *url.URL
}

// Compile parses a source pattern and its destination.
func Compile(source, destination string) (*Rule, error) {
	if !strings.HasPrefix(source, "/") {
		return nil, fmt.Errorf("%w: source %q must start with /", ErrInvalidPattern, source)
	}

	r := &Rule{Source: source, Destination: destination}
	params := make(map[string]bool)
	parts := splitPath(source)
	for i, part := range parts {
		if !strings.HasPrefix(part, ":") {
			r.segments = append(r.segments, segment{literal: part})
			continue
		}
		m := paramRef.FindStringSubmatch(part)
		if m == nil || m[0] != part {
			return nil, fmt.Errorf("%w: bad param %q in %q", ErrInvalidPattern, part, source)
		}
		name, catchAll := m[1], m[2] == "*"
		if catchAll && i != len(parts)-1 {
			return nil, fmt.Errorf("%w: catch-all %q must be the last segment of %q", ErrInvalidPattern, part, source)
		}
		if params[name] {
			return nil, fmt.Errorf("%w: duplicate param %q in %q", ErrInvalidPattern, name, source)
		}
		params[name] = true
		r.segments = append(r.segments, segment{param: name, catchAll: catchAll})
	}

	dest, err := url.Parse(destination)
	if err != nil {
		return nil, fmt.Errorf("%w: destination %q: %v", ErrInvalidPattern, destination, err)
	}
	if (dest.Scheme != "http" && dest.Scheme != "https") || dest.Host == "" {
		return nil, fmt.Errorf("%w: destination %q must be an absolute http(s) URL", ErrInvalidPattern, destination)
	}
	for _, m := range paramRef.FindAllStringSubmatch(dest.Path+"?"+dest.RawQuery, -1) {
		if !params[m[1]] {
			return nil, fmt.Errorf("%w: destination %q references unknown param %q", ErrInvalidPattern, destination, m[1])
		}
	}
	r.dest = dest
	return r, nil
}

// Prefix is the literal path before the first param.
func (r *Rule) Prefix() string {
	var b strings.Builder
	for _, s := range r.segments {
		if s.param != "" {
			break
		}
		b.WriteString("/")
		b.WriteString(s.literal)
	}
	if b.Len() == 0 {
		return "/"
	}
	return b.String()
}

// Match reports whether the escaped path matches and returns the captured
// params, still escaped.
func (r *Rule) Match(path string) (map[string]string, bool) {
	parts := splitPath(path)
	params := make(map[string]string)
	for i, s := range r.segments {
		if s.catchAll {
			rest := strings.Join(parts[i:], "/")
			if rest != "" && strings.HasSuffix(path, "/") {
				rest += "/"
			}
			params[s.param] = rest
			return params, true
		}
		if i >= len(parts) {
			return nil, false
		}
		switch {
		case s.param != "":
			params[s.param] = parts[i]
		case s.literal != parts[i]:
			return nil, false
		}
	}
	if len(parts) != len(r.segments) {
		return nil, false
	}
	return params, true
}

// Target builds the destination URL for an inbound escaped path and raw
// query. The inbound query is appended to any query on the destination.
func (r *Rule) Target(path, rawQuery string) (*url.URL, bool) {
	params, ok := r.Match(path)
	if !ok {
		return nil, false
	}

	u := *r.dest
	escaped := expandPath(r.dest.Path, params)
	if p, err := url.PathUnescape(escaped); err == nil {
		u.Path = p
		u.RawPath = escaped
	} else {
		u.Path = escaped
		u.RawPath = ""
	}
	if u.Path == "" {
		u.Path = "/"
	}

	q := substitute(r.dest.RawQuery, params)
	switch {
	case q == "":
		u.RawQuery = rawQuery
	case rawQuery != "":
		u.RawQuery = q + "&" + rawQuery
	default:
		u.RawQuery = q
	}
	return &u, true
}

// expandPath escapes the literal parts of tmpl and splices in the already
// escaped param values.
func expandPath(tmpl string, params map[string]string) string {
	var b strings.Builder
	last := 0
	for _, loc := range paramRef.FindAllStringSubmatchIndex(tmpl, -1) {
		b.WriteString(escapePath(tmpl[last:loc[0]]))
		b.WriteString(params[tmpl[loc[2]:loc[3]]])
		last = loc[1]
	}
	b.WriteString(escapePath(tmpl[last:]))
	return b.String()
}

func escapePath(s string) string {
	return (&url.URL{Path: s}).EscapedPath()
}

// substitute fills param references in a raw query. Values arrive path
// escaped and are re-escaped as query components so they cannot add pairs.
func substitute(s string, params map[string]string) string {
	return paramRef.ReplaceAllStringFunc(s, func(ref string) string {
		v := params[strings.TrimSuffix(strings.TrimPrefix(ref, ":"), "*")]
		if u, err := url.PathUnescape(v); err == nil {
			v = u
		}
		return url.QueryEscape(v)
	})
}

func splitPath(p string) []string {
	p = strings.TrimPrefix(p, "/")
	p = strings.TrimSuffix(p, "/")
	if p == "" {
		return nil
	}
	return strings.Split(p, "/")
}
