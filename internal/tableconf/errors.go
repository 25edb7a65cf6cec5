package tableconf

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// Error is a validation failure at one location of the document.
type Error struct {
	Path       string
	Expected   string
	Actual     string
	Suggestion string
	Line       int
}

func (e *Error) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "validation error in %s: %s", e.Path, e.Expected)
	if e.Actual != "" {
		fmt.Fprintf(&b, ", got %s", e.Actual)
	}
	if e.Suggestion != "" {
		fmt.Fprintf(&b, ". Suggestion: %s", e.Suggestion)
	}
	if e.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", e.Line)
	}
	return b.String()
}

func fail(path string, n *yaml.Node, expected, suggestion string) *Error {
	e := &Error{Path: path, Expected: expected, Suggestion: suggestion}
	if n != nil {
		e.Actual = describe(n)
		e.Line = n.Line
	}
	return e
}

func missing(path, field string, parent *yaml.Node) *Error {
	e := &Error{Path: path, Expected: fmt.Sprintf("missing required field '%s'", field)}
	if parent != nil {
		e.Line = parent.Line
	}
	return e
}

// describe names the YAML type of n, with the value for short scalars.
func describe(n *yaml.Node) string {
	switch n.Kind {
	case yaml.MappingNode:
		return "mapping"
	case yaml.SequenceNode:
		return "list"
	case yaml.AliasNode:
		return "alias"
	}
	var kind string
	switch n.ShortTag() {
	case "!!str":
		kind = "string"
	case "!!int":
		kind = "integer"
	case "!!float":
		kind = "float"
	case "!!bool":
		kind = "boolean"
	case "!!null":
		return "null"
	default:
		kind = strings.TrimPrefix(n.ShortTag(), "!!")
	}
	if len(n.Value) <= 40 {
		return fmt.Sprintf("%s %q", kind, n.Value)
	}
	return kind
}
