package dom

import (
	"strings"

	"golang.org/x/net/html"
)

type declaration struct {
	prop  string
	value string
}

type declarations []declaration

// parseStyle splits an inline style attribute into ordered declarations.
// Property names are lower-cased; values keep their spelling.
func parseStyle(s string) declarations {
	var out declarations
	for _, part := range strings.Split(s, ";") {
		prop, value, ok := strings.Cut(part, ":")
		if !ok {
			continue
		}
		prop = strings.ToLower(strings.TrimSpace(prop))
		value = strings.TrimSpace(value)
		if prop == "" {
			continue
		}
		out = out.set(prop, value)
	}
	return out
}

func (ds declarations) get(prop string) string {
	prop = strings.ToLower(prop)
	for _, d := range ds {
		if d.prop == prop {
			return d.value
		}
	}
	return ""
}

func (ds declarations) set(prop, value string) declarations {
	prop = strings.ToLower(prop)
	for i, d := range ds {
		if d.prop != prop {
			continue
		}
		if value == "" {
			return append(ds[:i:i], ds[i+1:]...)
		}
		ds[i].value = value
		return ds
	}
	if value == "" {
		return ds
	}
	return append(ds, declaration{prop: prop, value: value})
}

func (ds declarations) String() string {
	parts := make([]string, 0, len(ds))
	for _, d := range ds {
		parts = append(parts, d.prop+": "+d.value+";")
	}
	return strings.Join(parts, " ")
}

// Style returns the inline value of a style property, or "".
func Style(n *html.Node, prop string) string {
	if n == nil || n.Type != html.ElementNode {
		return ""
	}
	return parseStyle(Attr(n, "style")).get(prop)
}
