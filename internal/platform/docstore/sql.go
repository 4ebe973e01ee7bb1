package docstore

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var reservedColumns = map[string]string{
	FieldID:        "id",
	FieldVersion:   "version",
	FieldCreatedAt: "created_at",
	FieldUpdatedAt: "updated_at",
}

// sqlBuilder accumulates positional arguments while SQL fragments are compiled.
type sqlBuilder struct {
	args []any
}

func (b *sqlBuilder) arg(v any) string {
	b.args = append(b.args, v)
	return "$" + strconv.Itoa(len(b.args))
}

func pathLiteral(parts []string) string {
	return "'{" + strings.Join(parts, ",") + "}'"
}

// fieldExpr returns the SQL expression for field, cast to match sample, and
// the value to bind for comparisons against it.
func fieldExpr(field string, sample any) (string, any, error) {
	if col, ok := reservedColumns[field]; ok {
		return col, sample, nil
	}
	parts, err := splitPath(field)
	if err != nil {
		return "", nil, err
	}
	expr := "(body #>> " + pathLiteral(parts) + ")"
	v := canonical(sample)
	switch v.(type) {
	case time.Time:
		expr += "::timestamptz"
	case float64:
		expr += "::double precision"
	case bool:
		expr += "::boolean"
	}
	return expr, v, nil
}

func (b *sqlBuilder) where(f Filter) (string, error) {
	if f.IsZero() {
		return "TRUE", nil
	}
	if len(f.And) > 0 || len(f.Or) > 0 {
		children, joiner := f.And, " AND "
		if len(f.Or) > 0 {
			children, joiner = f.Or, " OR "
		}
		parts := make([]string, 0, len(children))
		for _, child := range children {
			frag, err := b.where(child)
			if err != nil {
				return "", err
			}
			parts = append(parts, frag)
		}
		return "(" + strings.Join(parts, joiner) + ")", nil
	}

	switch f.Op {
	case OpEq, OpGte, OpLte, OpLt:
		if f.Value == nil && f.Op == OpEq {
			expr, _, err := fieldExpr(f.Field, "")
			if err != nil {
				return "", err
			}
			return expr + " IS NULL", nil
		}
		expr, v, err := fieldExpr(f.Field, f.Value)
		if err != nil {
			return "", err
		}
		return expr + " " + sqlOperator(f.Op) + " " + b.arg(v), nil
	case OpIn, OpNotIn:
		values, _ := f.Value.([]any)
		if len(values) == 0 {
			if f.Op == OpIn {
				return "FALSE", nil
			}
			return "TRUE", nil
		}
		expr, _, err := fieldExpr(f.Field, values[0])
		if err != nil {
			return "", err
		}
		placeholders := make([]string, 0, len(values))
		for _, v := range values {
			placeholders = append(placeholders, b.arg(canonicalFor(f.Field, v)))
		}
		list := "(" + strings.Join(placeholders, ", ") + ")"
		if f.Op == OpIn {
			return expr + " IN " + list, nil
		}
		return "(" + expr + " IS NULL OR " + expr + " NOT IN " + list + ")", nil
	case OpContainsFold:
		expr, _, err := fieldExpr(f.Field, "")
		if err != nil {
			return "", err
		}
		needle, _ := canonical(f.Value).(string)
		return expr + " ILIKE " + b.arg("%"+escapeLike(needle)+"%"), nil
	}
	return "", fmt.Errorf("docstore: unsupported operator %q", f.Op)
}

func canonicalFor(field string, v any) any {
	if _, ok := reservedColumns[field]; ok {
		return v
	}
	return canonical(v)
}

func sqlOperator(op Op) string {
	switch op {
	case OpGte:
		return ">="
	case OpLte:
		return "<="
	case OpLt:
		return "<"
	}
	return "="
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func (b *sqlBuilder) orderBy(fields []SortField) (string, error) {
	clauses := make([]string, 0, len(fields)+2)
	for _, sf := range fields {
		expr, ok := reservedColumns[sf.Field]
		if !ok {
			parts, err := splitPath(sf.Field)
			if err != nil {
				return "", err
			}
			expr = "(body #> " + pathLiteral(parts) + ")"
		}
		if sf.Desc {
			expr += " DESC"
		}
		clauses = append(clauses, expr)
	}
	clauses = append(clauses, "created_at", "id")
	return strings.Join(clauses, ", "), nil
}

// patchExpr folds the patch into a chain of jsonb_set calls over body.
func (b *sqlBuilder) patchExpr(p Patch) (string, error) {
	expr := "body"
	for _, path := range sortedKeys(p.Set) {
		parts, err := splitPath(path)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(p.Set[path])
		if err != nil {
			return "", fmt.Errorf("docstore: encode %s: %w", path, err)
		}
		expr = fmt.Sprintf("jsonb_set(%s, %s::text[], %s::jsonb, true)", expr, b.arg(parts), b.arg(string(raw)))
	}
	for _, path := range sortedKeys(p.Push) {
		parts, err := splitPath(path)
		if err != nil {
			return "", err
		}
		raw, err := json.Marshal(p.Push[path])
		if err != nil {
			return "", fmt.Errorf("docstore: encode %s: %w", path, err)
		}
		pathArg := b.arg(parts)
		expr = fmt.Sprintf("jsonb_set(%[1]s, %[2]s::text[], COALESCE(%[1]s #> %[2]s::text[], '[]'::jsonb) || jsonb_build_array(%[3]s::jsonb), true)",
			expr, pathArg, b.arg(string(raw)))
	}
	return expr, nil
}
