package docstore

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Op is a comparison operator on a single field.
type Op string

const (
	OpEq           Op = "eq"
	OpIn           Op = "in"
	OpNotIn        Op = "nin"
	OpGte          Op = "gte"
	OpLte          Op = "lte"
	OpLt           Op = "lt"
	OpContainsFold Op = "icontains"
)

// Filter is either a leaf comparison (Field set) or a conjunction/disjunction
// of child filters. The zero Filter matches every document.
type Filter struct {
	Field string
	Op    Op
	Value any
	And   []Filter
	Or    []Filter
}

// IsZero reports whether the filter matches everything.
func (f Filter) IsZero() bool {
	return f.Field == "" && len(f.And) == 0 && len(f.Or) == 0
}

// Eq matches documents whose field equals v.
func Eq(field string, v any) Filter { return Filter{Field: field, Op: OpEq, Value: v} }

// In matches documents whose field equals one of vs.
func In(field string, vs ...any) Filter { return Filter{Field: field, Op: OpIn, Value: vs} }

// NotIn matches documents whose field is absent or not one of vs.
func NotIn(field string, vs ...any) Filter { return Filter{Field: field, Op: OpNotIn, Value: vs} }

// Gte matches documents whose field is >= v.
func Gte(field string, v any) Filter { return Filter{Field: field, Op: OpGte, Value: v} }

// Lte matches documents whose field is <= v.
func Lte(field string, v any) Filter { return Filter{Field: field, Op: OpLte, Value: v} }

// Lt matches documents whose field is < v.
func Lt(field string, v any) Filter { return Filter{Field: field, Op: OpLt, Value: v} }

// ContainsFold matches a case-insensitive substring.
func ContainsFold(field, s string) Filter {
	return Filter{Field: field, Op: OpContainsFold, Value: s}
}

// And combines filters; zero filters are dropped.
func And(fs ...Filter) Filter {
	kept := compact(fs)
	switch len(kept) {
	case 0:
		return Filter{}
	case 1:
		return kept[0]
	}
	return Filter{And: kept}
}

// Or matches when any of the filters matches.
func Or(fs ...Filter) Filter {
	kept := compact(fs)
	switch len(kept) {
	case 0:
		return Filter{}
	case 1:
		return kept[0]
	}
	return Filter{Or: kept}
}

func compact(fs []Filter) []Filter {
	out := make([]Filter, 0, len(fs))
	for _, f := range fs {
		if !f.IsZero() {
			out = append(out, f)
		}
	}
	return out
}

// ByID matches a single document id.
func ByID(id string) Filter { return Eq(FieldID, id) }

// ByIDAndVersion matches a document only at the given version.
func ByIDAndVersion(id string, version int64) Filter {
	return And(Eq(FieldID, id), Eq(FieldVersion, version))
}

// SortField orders query results.
type SortField struct {
	Field string
	Desc  bool
}

// Query selects a page of documents.
type Query struct {
	Filter Filter
	Sort   []SortField
	Skip   int
	Limit  int
}

// Patch describes a partial update. Set replaces the value at each path,
// including single array elements ("operations.2"). Push appends to the array
// at each path.
type Patch struct {
	Set  map[string]any
	Push map[string]any
}

// SetField records a replacement.
func (p *Patch) SetField(path string, v any) {
	if p.Set == nil {
		p.Set = make(map[string]any)
	}
	p.Set[path] = v
}

// PushField records an append.
func (p *Patch) PushField(path string, v any) {
	if p.Push == nil {
		p.Push = make(map[string]any)
	}
	p.Push[path] = v
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return len(p.Set) == 0 && len(p.Push) == 0
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

var segmentPattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// splitPath validates and splits a dot path.
func splitPath(path string) ([]string, error) {
	if path == "" {
		return nil, fmt.Errorf("%w: empty path", ErrInvalidPath)
	}
	parts := strings.Split(path, ".")
	for _, p := range parts {
		if !segmentPattern.MatchString(p) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
		}
	}
	return parts, nil
}
