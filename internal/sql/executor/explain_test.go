package executor_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/willibrandon/tusk-sub004/internal/sql/diag"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor"
	"github.com/willibrandon/tusk-sub004/internal/sql/executor/executortest"
)

const planJSON = `[{"Plan": {"Node Type": "Hash Join", "Join Type": "Inner", "Startup Cost": 1.5,
 "Total Cost": 30.25, "Plan Rows": 12, "Plan Width": 36, "Hash Cond": "(o.user_id = u.id)",
 "Plans": [
  {"Node Type": "Seq Scan", "Relation Name": "orders", "Alias": "o", "Startup Cost": 0,
   "Total Cost": 20, "Plan Rows": 100, "Plan Width": 12, "Actual Rows": 98, "Actual Loops": 1},
  {"Node Type": "Index Scan", "Relation Name": "users", "Index Name": "users_pkey", "Alias": "u",
   "Startup Cost": 0.15, "Total Cost": 8.17, "Plan Rows": 1, "Plan Width": 24, "Filter": "(active)"}
 ]},
 "Planning Time": 0.21, "Execution Time": 1.75}]`

func TestExplainOptions_Statement(t *testing.T) {
	stmt, err := executor.DefaultExplainOptions().Statement("SELECT 1;")
	require.NoError(t, err)
	require.Equal(t, "EXPLAIN (ANALYZE false, VERBOSE false, COSTS true, FORMAT JSON) SELECT 1", stmt)

	stmt, err = executor.ExplainOptions{
		Analyze: true, Verbose: true, Buffers: true, Timing: true, Settings: true, Format: executor.ExplainYAML,
	}.Statement("  SELECT * FROM t  ")
	require.NoError(t, err)
	require.Equal(t,
		"EXPLAIN (ANALYZE true, VERBOSE true, COSTS false, BUFFERS true, TIMING true, SETTINGS true, FORMAT YAML) SELECT * FROM t",
		stmt)

	// Timing is only valid together with analyze.
	stmt, err = executor.ExplainOptions{Timing: true}.Statement("SELECT 1")
	require.NoError(t, err)
	require.NotContains(t, stmt, "TIMING")
	require.Contains(t, stmt, "FORMAT TEXT")

	_, err = executor.ExplainOptions{Format: "html"}.Statement("SELECT 1")
	require.ErrorIs(t, err, executor.ErrExplainFormat)
}

func TestParsePlan(t *testing.T) {
	plan, err := executor.ParsePlan([]byte(planJSON))
	require.NoError(t, err)

	root := plan.Root
	require.Equal(t, "Hash Join", root.NodeType)
	require.Equal(t, "Inner", root.JoinType)
	require.Equal(t, 30.25, root.TotalCost)
	require.Equal(t, "(o.user_id = u.id)", root.Extra["Hash Cond"])
	require.NotContains(t, root.Extra, "Node Type")
	require.Len(t, root.Plans, 2)

	scan := root.Plans[0]
	require.Equal(t, "orders", scan.RelationName)
	require.NotNil(t, scan.ActualRows)
	require.Equal(t, 98.0, *scan.ActualRows)
	require.Nil(t, scan.ActualTotalTime)

	require.Equal(t, "users_pkey", root.Plans[1].IndexName)
	require.Equal(t, "(active)", root.Plans[1].Filter)

	require.Equal(t, 0.21, *plan.PlanningTime)
	require.Equal(t, 1.75, *plan.ExecutionTime)

	var visited []string
	var depths []int
	root.Walk(func(n *executor.PlanNode, depth int) {
		visited = append(visited, n.NodeType)
		depths = append(depths, depth)
	})
	require.Equal(t, []string{"Hash Join", "Seq Scan", "Index Scan"}, visited)
	require.Equal(t, []int{0, 1, 1}, depths)
}

func TestParsePlan_Invalid(t *testing.T) {
	_, err := executor.ParsePlan([]byte(`{"Plan": 1}`))
	require.Error(t, err)

	_, err = executor.ParsePlan([]byte(`[]`))
	require.ErrorContains(t, err, "no plan")
}

func TestExplain_JSON(t *testing.T) {
	stmt, err := executor.DefaultExplainOptions().Statement("SELECT * FROM orders")
	require.NoError(t, err)

	p := executortest.NewProvider().On(stmt, executortest.Script{
		Columns: []executor.ColumnDescriptor{{Name: "QUERY PLAN", TypeOID: 114, TypeName: "json", Ordinal: 1}},
		Rows:    [][]any{{[]byte(planJSON)}},
		Tag:     executor.Tag{Text: "EXPLAIN"},
	})
	e := executor.New(p, nil, nil, nil)

	// A row limit of 1 would truncate a text plan; explain ignores it.
	opts := executor.Interactive()
	opts.RowLimit = 1

	out, err := e.Explain(context.Background(), "main", "SELECT * FROM orders", executor.DefaultExplainOptions(), opts)
	require.NoError(t, err)
	require.Equal(t, executor.StatusSuccess, out.Status)
	require.NotNil(t, out.Plan)
	assert.Equal(t, "Hash Join", out.Plan.Root.NodeType)
	assert.Len(t, out.Plan.Root.Plans, 2)
}

func TestExplain_TextRows(t *testing.T) {
	eo := executor.ExplainOptions{Costs: true, Format: executor.ExplainText}
	stmt, err := eo.Statement("SELECT 1")
	require.NoError(t, err)

	p := executortest.NewProvider().On(stmt, executortest.Script{
		Columns: []executor.ColumnDescriptor{{Name: "QUERY PLAN", TypeOID: 25, TypeName: "text", Ordinal: 1}},
		Rows:    [][]any{{"Result  (cost=0.00..0.01 rows=1 width=4)"}, {"  Output: 1"}},
	})
	e := executor.New(p, nil, nil, nil)

	opts := executor.Interactive()
	opts.RowLimit = 1
	out, err := e.Explain(context.Background(), "main", "SELECT 1", eo, opts)
	require.NoError(t, err)
	require.Equal(t, executor.StatusSuccess, out.Status)
	require.False(t, out.Truncated)
	require.Len(t, out.Rows, 2)
	require.Nil(t, out.Plan)
}

func TestExplain_UnparseablePlan(t *testing.T) {
	stmt, err := executor.DefaultExplainOptions().Statement("SELECT 1")
	require.NoError(t, err)

	p := executortest.NewProvider().On(stmt, executortest.Script{
		Columns: []executor.ColumnDescriptor{{Name: "QUERY PLAN", TypeOID: 25, TypeName: "text", Ordinal: 1}},
		Rows:    [][]any{{"not a plan"}},
	})
	e := executor.New(p, nil, nil, nil)

	out, err := e.Explain(context.Background(), "main", "SELECT 1", executor.DefaultExplainOptions(), executor.Interactive())
	require.NoError(t, err)
	require.Equal(t, executor.StatusError, out.Status)
	require.Equal(t, diag.KindInternal, out.Diagnostics.Kind)
}

func TestExplain_Errors(t *testing.T) {
	e := executor.New(executortest.NewProvider(), nil, nil, nil)

	_, err := e.Explain(context.Background(), "main", "  ", executor.DefaultExplainOptions(), executor.Interactive())
	require.ErrorIs(t, err, executor.ErrEmptyStatement)

	_, err = e.Explain(context.Background(), "main", "SELECT 1", executor.ExplainOptions{Format: "csv"}, executor.Interactive())
	require.ErrorIs(t, err, executor.ErrExplainFormat)
}
