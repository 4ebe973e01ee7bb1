package docstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWhereCompilesCastsByValueType(t *testing.T) {
	due := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	b := &sqlBuilder{}
	where, err := b.where(And(
		Eq("status", widgetStatus("OPEN")),
		Lt("dueDate", due),
		Gte("quantity", 3),
		Eq(FieldVersion, int64(4)),
	))
	require.NoError(t, err)
	assert.Equal(t,
		"((body #>> '{status}') = $1 AND (body #>> '{dueDate}')::timestamptz < $2 AND (body #>> '{quantity}')::double precision >= $3 AND version = $4)",
		where)
	assert.Equal(t, []any{"OPEN", due, float64(3), int64(4)}, b.args)
}

func TestWhereInAndNotIn(t *testing.T) {
	b := &sqlBuilder{}
	where, err := b.where(Or(In("status", "A", "B"), NotIn("priority", "LOW")))
	require.NoError(t, err)
	assert.Equal(t,
		"((body #>> '{status}') IN ($1, $2) OR ((body #>> '{priority}') IS NULL OR (body #>> '{priority}') NOT IN ($3)))",
		where)

	empty, err := (&sqlBuilder{}).where(In("status"))
	require.NoError(t, err)
	assert.Equal(t, "FALSE", empty)
}

func TestWhereContainsFoldEscapesWildcards(t *testing.T) {
	b := &sqlBuilder{}
	where, err := b.where(ContainsFold("productName", "50%_off"))
	require.NoError(t, err)
	assert.Equal(t, "(body #>> '{productName}') ILIKE $1", where)
	assert.Equal(t, []any{`%50\%\_off%`}, b.args)
}

func TestWhereRejectsBadPath(t *testing.T) {
	_, err := (&sqlBuilder{}).where(Eq("a b", 1))
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestPatchExprChainsJSONBSet(t *testing.T) {
	var patch Patch
	patch.SetField("operations.1.status", "STARTED")
	patch.PushField("statusHistory", map[string]string{"to": "RELEASED"})

	b := &sqlBuilder{}
	expr, err := b.patchExpr(patch)
	require.NoError(t, err)
	assert.Equal(t,
		"jsonb_set(jsonb_set(body, $1::text[], $2::jsonb, true), $3::text[], COALESCE(jsonb_set(body, $1::text[], $2::jsonb, true) #> $3::text[], '[]'::jsonb) || jsonb_build_array($4::jsonb), true)",
		expr)
	assert.Equal(t, []string{"operations", "1", "status"}, b.args[0])
	assert.Equal(t, `"STARTED"`, b.args[1])
	assert.Equal(t, `{"to":"RELEASED"}`, b.args[3])
}

func TestOrderByAppendsStableTiebreak(t *testing.T) {
	order, err := (&sqlBuilder{}).orderBy([]SortField{{Field: "priority"}, {Field: FieldCreatedAt, Desc: true}})
	require.NoError(t, err)
	assert.Equal(t, "(body #> '{priority}'), created_at DESC, created_at, id", order)
}
