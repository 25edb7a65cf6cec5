package graphql

import "github.com/vektah/gqlparser/v2/ast"

// selector flattens selection sets, expanding fragments of one document.
type selector struct {
	doc *ast.QueryDocument
}

func newSelector(doc *ast.QueryDocument) selector { return selector{doc: doc} }

func (s selector) fields(set ast.SelectionSet) []*ast.Field {
	return s.collect(set, nil, map[string]bool{})
}

func (s selector) collect(set ast.SelectionSet, out []*ast.Field, seen map[string]bool) []*ast.Field {
	for _, sel := range set {
		switch v := sel.(type) {
		case *ast.Field:
			out = append(out, v)
		case *ast.InlineFragment:
			out = s.collect(v.SelectionSet, out, seen)
		case *ast.FragmentSpread:
			if seen[v.Name] {
				continue
			}
			seen[v.Name] = true
			if fr := s.doc.Fragments.ForName(v.Name); fr != nil {
				out = s.collect(fr.SelectionSet, out, seen)
			}
		}
	}
	return out
}

// project keeps only the selected keys of v, renamed to their aliases. An
// empty selection keeps v whole.
func (s selector) project(v any, set ast.SelectionSet) any {
	if len(set) == 0 {
		return v
	}
	switch t := v.(type) {
	case map[string]any:
		fs := s.fields(set)
		out := make(map[string]any, len(fs))
		for _, f := range fs {
			val, ok := t[f.Name]
			if !ok {
				continue
			}
			out[f.Alias] = s.project(val, f.SelectionSet)
		}
		return out
	case []map[string]any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.project(item, set)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = s.project(item, set)
		}
		return out
	}
	return v
}
