// Package purl parses and formats Package URLs for the two ecosystems this
// engine understands: npm and PyPI.
package purl

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"sort"
	"strings"
)

// Ecosystem identifies how a package is located and named on disk.
type Ecosystem string

const (
	NPM  Ecosystem = "npm"
	PyPI Ecosystem = "pypi"
)

// ErrInvalidPURL is returned when a string fails the pkg:<ecosystem>/... grammar.
var ErrInvalidPURL = errors.New("purl: invalid package URL")

// ErrUnsupportedEcosystem is returned for a syntactically valid PURL whose
// ecosystem this engine doesn't crawl.
var ErrUnsupportedEcosystem = errors.New("purl: unsupported ecosystem")

// purlPattern matches "pkg:<type>/<namespace>/<name>@<version>" with an
// optional scoped namespace and optional "?key=value&..." qualifiers,
// modeled on the named-capture-group style of the docker/distribution
// reference.regexp grammar (hostname/component/tag/digest groups), adapted
// to the purl spec's own grammar instead of image references.
var purlPattern = regexp.MustCompile(`^pkg:(?P<type>[a-zA-Z][a-zA-Z0-9.+-]*)/(?P<rest>[^?]+)(?:\?(?P<qualifiers>.*))?$`)

// PURL is a parsed Package URL. String() reproduces the canonical form.
type PURL struct {
	Ecosystem  Ecosystem
	Namespace  string // npm scope including '@', e.g. "@types"; empty for pypi
	Name       string
	Version    string
	Qualifiers url.Values
}

// Parse validates and decomposes s. Namespaces are only meaningful for npm
// (scoped packages); pypi PURLs never carry one.
func Parse(s string) (PURL, error) {
	m := purlPattern.FindStringSubmatch(s)
	if m == nil {
		return PURL{}, fmt.Errorf("%w: %q", ErrInvalidPURL, s)
	}
	groups := namedGroups(purlPattern, m)

	ecosystem := Ecosystem(strings.ToLower(groups["type"]))
	switch ecosystem {
	case NPM, PyPI:
	default:
		return PURL{}, fmt.Errorf("%w: %q", ErrUnsupportedEcosystem, ecosystem)
	}

	rest := groups["rest"]
	at := strings.LastIndex(rest, "@")
	if at <= 0 || at == len(rest)-1 {
		return PURL{}, fmt.Errorf("%w: missing @version in %q", ErrInvalidPURL, s)
	}
	namePart, version := rest[:at], rest[at+1:]

	var namespace, name string
	if ecosystem == NPM {
		// Scoped packages are "@scope/name"; unscoped are just "name". The
		// rest segment can therefore contain at most one '/'.
		if strings.HasPrefix(namePart, "@") {
			idx := strings.Index(namePart, "/")
			if idx < 0 {
				return PURL{}, fmt.Errorf("%w: malformed scoped npm name %q", ErrInvalidPURL, namePart)
			}
			namespace = namePart[:idx]
			name = namePart[idx+1:]
		} else {
			name = namePart
		}
	} else {
		name = namePart
	}
	if name == "" {
		return PURL{}, fmt.Errorf("%w: empty name in %q", ErrInvalidPURL, s)
	}

	var qualifiers url.Values
	if q := groups["qualifiers"]; q != "" {
		parsed, err := url.ParseQuery(q)
		if err != nil {
			return PURL{}, fmt.Errorf("%w: bad qualifiers in %q: %v", ErrInvalidPURL, s, err)
		}
		qualifiers = parsed
	}

	return PURL{
		Ecosystem:  ecosystem,
		Namespace:  namespace,
		Name:       name,
		Version:    version,
		Qualifiers: qualifiers,
	}, nil
}

func namedGroups(re *regexp.Regexp, m []string) map[string]string {
	out := make(map[string]string, len(m))
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		out[name] = m[i]
	}
	return out
}

// String reproduces the canonical textual form, qualifiers included in
// stable sorted-key order.
func (p PURL) String() string {
	var sb strings.Builder
	sb.WriteString("pkg:")
	sb.WriteString(string(p.Ecosystem))
	sb.WriteString("/")
	if p.Namespace != "" {
		sb.WriteString(p.Namespace)
		sb.WriteString("/")
	}
	sb.WriteString(p.Name)
	sb.WriteString("@")
	sb.WriteString(p.Version)
	if len(p.Qualifiers) > 0 {
		sb.WriteString("?")
		sb.WriteString(encodeQualifiersSorted(p.Qualifiers))
	}
	return sb.String()
}

func encodeQualifiersSorted(q url.Values) string {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var parts []string
	for _, k := range keys {
		for _, v := range q[k] {
			parts = append(parts, url.QueryEscape(k)+"="+url.QueryEscape(v))
		}
	}
	return strings.Join(parts, "&")
}

// Base returns p with qualifiers stripped — the form that identifies the
// on-disk package.
func (p PURL) Base() PURL {
	p.Qualifiers = nil
	return p
}

// HasQualifiers reports whether p carries any qualifiers.
func (p PURL) HasQualifiers() bool {
	return len(p.Qualifiers) > 0
}

// IsPURL reports whether s looks like a PURL rather than a bare UUID,
// matching the "pkg:" prefix rule from rollback selector.
func IsPURL(s string) bool {
	return strings.HasPrefix(s, "pkg:")
}
