package schema

import "fmt"

type Issue struct {
	Table   string `json:"table"`
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field == "" {
		return fmt.Sprintf("%s: %s", i.Table, i.Message)
	}
	return fmt.Sprintf("%s.%s: %s", i.Table, i.Field, i.Message)
}

// Lint checks every table and the relationships between them.
func Lint(tables []*Table) []Issue {
	var issues []Issue
	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		if _, dup := byName[t.Name]; dup {
			issues = append(issues, Issue{Table: t.Name, Code: "table_duplicate", Message: "table registered twice"})
		}
		byName[t.Name] = t
		issues = append(issues, lintTable(t)...)
	}

	for _, t := range tables {
		for _, r := range t.Relationships {
			target, ok := byName[r.Target]
			if !ok {
				issues = append(issues, Issue{
					Table: t.Name, Field: r.Name, Code: "relationship_target_unknown",
					Message: fmt.Sprintf("relationship target %q is not a registered table", r.Target),
				})
				continue
			}
			if r.TargetColumn != "" && !target.HasColumn(r.TargetColumn) {
				issues = append(issues, Issue{
					Table: t.Name, Field: r.Name, Code: "relationship_target_column_unknown",
					Message: fmt.Sprintf("table %q has no column %q", r.Target, r.TargetColumn),
				})
			}
		}
	}
	return issues
}

func lintTable(t *Table) []Issue {
	var issues []Issue
	if t.Name == "" {
		issues = append(issues, Issue{Code: "table_name_empty", Message: "table name is empty"})
	}
	if len(t.Columns) == 0 {
		issues = append(issues, Issue{Table: t.Name, Code: "no_columns", Message: "table has no columns"})
	}
	if len(t.PrimaryKey) == 0 {
		issues = append(issues, Issue{Table: t.Name, Code: "no_primary_key", Message: "table has no primary key"})
	}
	for _, pk := range t.PrimaryKey {
		if !t.HasColumn(pk) {
			issues = append(issues, Issue{Table: t.Name, Field: pk, Code: "primary_key_unknown", Message: "primary key column does not exist"})
		}
	}
	for _, r := range t.Relationships {
		if r.Cardinality != One && r.Cardinality != Many {
			issues = append(issues, Issue{
				Table: t.Name, Field: r.Name, Code: "cardinality_unknown",
				Message: fmt.Sprintf("unknown cardinality %q (allowed: one|many)", r.Cardinality),
			})
		}
		if r.Column == "" || !t.HasColumn(r.Column) {
			issues = append(issues, Issue{
				Table: t.Name, Field: r.Name, Code: "relationship_column_unknown",
				Message: fmt.Sprintf("relationship column %q does not exist", r.Column),
			})
		}
		if r.Name != "" && t.HasColumn(r.Name) {
			issues = append(issues, Issue{
				Table: t.Name, Field: r.Name, Code: "relationship_shadows_column",
				Message: "relationship name collides with a column",
			})
		}
	}
	return issues
}
