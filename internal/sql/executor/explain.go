package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/willibrandon/tusk-sub004/internal/logger"
	"github.com/willibrandon/tusk-sub004/internal/sql/diag"
	"github.com/willibrandon/tusk-sub004/internal/sql/value"
)

// ExplainFormat is the EXPLAIN output format.
type ExplainFormat string

const (
	ExplainText ExplainFormat = "text"
	ExplainJSON ExplainFormat = "json"
	ExplainXML  ExplainFormat = "xml"
	ExplainYAML ExplainFormat = "yaml"
)

var ErrExplainFormat = errors.New("executor: unsupported explain format")

// ExplainOptions maps to the EXPLAIN option list. Timing is only sent with
// Analyze since the server rejects it otherwise.
type ExplainOptions struct {
	Analyze  bool
	Verbose  bool
	Costs    bool
	Buffers  bool
	Timing   bool
	Settings bool
	Format   ExplainFormat
}

// DefaultExplainOptions returns costs on, JSON format.
func DefaultExplainOptions() ExplainOptions {
	return ExplainOptions{Costs: true, Format: ExplainJSON}
}

// Statement returns the EXPLAIN statement for sql.
func (o ExplainOptions) Statement(sql string) (string, error) {
	format := o.Format
	if format == "" {
		format = ExplainText
	}
	switch format {
	case ExplainText, ExplainJSON, ExplainXML, ExplainYAML:
	default:
		return "", fmt.Errorf("%w: %q", ErrExplainFormat, o.Format)
	}

	opts := []string{
		"ANALYZE " + onOff(o.Analyze),
		"VERBOSE " + onOff(o.Verbose),
		"COSTS " + onOff(o.Costs),
	}
	if o.Buffers {
		opts = append(opts, "BUFFERS true")
	}
	if o.Analyze {
		opts = append(opts, "TIMING "+onOff(o.Timing))
	}
	if o.Settings {
		opts = append(opts, "SETTINGS true")
	}
	opts = append(opts, "FORMAT "+strings.ToUpper(string(format)))

	sql = strings.TrimRight(strings.TrimSpace(sql), ";")
	return "EXPLAIN (" + strings.Join(opts, ", ") + ") " + sql, nil
}

func onOff(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// Plan is a parsed JSON plan. Times are in milliseconds and only present
// with ANALYZE (execution) or when the server reports them (planning).
type Plan struct {
	Root          *PlanNode `json:"plan"`
	PlanningTime  *float64  `json:"planning_time,omitempty"`
	ExecutionTime *float64  `json:"execution_time,omitempty"`
}

// PlanNode is one node of the plan tree. Fields without a dedicated member
// land in Extra.
type PlanNode struct {
	NodeType     string  `json:"Node Type"`
	RelationName string  `json:"Relation Name,omitempty"`
	Schema       string  `json:"Schema,omitempty"`
	Alias        string  `json:"Alias,omitempty"`
	IndexName    string  `json:"Index Name,omitempty"`
	JoinType     string  `json:"Join Type,omitempty"`
	StartupCost  float64 `json:"Startup Cost"`
	TotalCost    float64 `json:"Total Cost"`
	PlanRows     float64 `json:"Plan Rows"`
	PlanWidth    int     `json:"Plan Width"`

	ActualStartupTime *float64 `json:"Actual Startup Time,omitempty"`
	ActualTotalTime   *float64 `json:"Actual Total Time,omitempty"`
	ActualRows        *float64 `json:"Actual Rows,omitempty"`
	ActualLoops       *float64 `json:"Actual Loops,omitempty"`

	Filter string      `json:"Filter,omitempty"`
	Plans  []*PlanNode `json:"Plans,omitempty"`

	Extra map[string]any `json:"-"`
}

var planNodeKeys = map[string]struct{}{
	"Node Type": {}, "Relation Name": {}, "Schema": {}, "Alias": {}, "Index Name": {},
	"Join Type": {}, "Startup Cost": {}, "Total Cost": {}, "Plan Rows": {}, "Plan Width": {},
	"Actual Startup Time": {}, "Actual Total Time": {}, "Actual Rows": {}, "Actual Loops": {},
	"Filter": {}, "Plans": {},
}

func (n *PlanNode) UnmarshalJSON(data []byte) error {
	type plain PlanNode
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}

	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for k, raw := range all {
		if _, ok := planNodeKeys[k]; ok {
			continue
		}
		var v any
		if err := json.Unmarshal(raw, &v); err != nil {
			return err
		}
		if p.Extra == nil {
			p.Extra = make(map[string]any)
		}
		p.Extra[k] = v
	}

	*n = PlanNode(p)
	return nil
}

// Walk visits n and its children depth first.
func (n *PlanNode) Walk(fn func(node *PlanNode, depth int)) {
	n.walk(fn, 0)
}

func (n *PlanNode) walk(fn func(*PlanNode, int), depth int) {
	fn(n, depth)
	for _, c := range n.Plans {
		c.walk(fn, depth+1)
	}
}

// ParsePlan parses EXPLAIN (FORMAT JSON) output.
func ParsePlan(data []byte) (*Plan, error) {
	var docs []struct {
		Plan          *PlanNode `json:"Plan"`
		PlanningTime  *float64  `json:"Planning Time"`
		ExecutionTime *float64  `json:"Execution Time"`
	}
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("executor: parse plan: %w", err)
	}
	if len(docs) == 0 || docs[0].Plan == nil {
		return nil, errors.New("executor: parse plan: no plan in output")
	}

	return &Plan{
		Root:          docs[0].Plan,
		PlanningTime:  docs[0].PlanningTime,
		ExecutionTime: docs[0].ExecutionTime,
	}, nil
}

// Explain runs EXPLAIN for sql and, for the JSON format, attaches the parsed
// plan. Rows are never truncated.
func (e *Executor) Explain(ctx context.Context, connectionID, sql string, eo ExplainOptions, opts Options) (*Outcome, error) {
	if strings.TrimSpace(sql) == "" {
		return nil, ErrEmptyStatement
	}
	stmt, err := eo.Statement(sql)
	if err != nil {
		return nil, err
	}

	opts.RowLimit = 0
	out, err := e.Execute(ctx, connectionID, stmt, nil, opts)
	if err != nil || out.Status != StatusSuccess || eo.Format != ExplainJSON {
		return out, err
	}

	data, err := planDocument(out.Rows)
	if err == nil {
		out.Plan, err = ParsePlan(data)
	}
	if err != nil {
		e.log.Warn("executor: explain output not understood", logger.Ctx{"query": out.QueryID, "err": err})
		out.Status = StatusError
		out.Diagnostics = diag.Internal(err.Error())
	}
	return out, nil
}

func planDocument(rows []Row) ([]byte, error) {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil, errors.New("executor: explain returned no rows")
	}

	switch v := rows[0][0].(type) {
	case value.JSON:
		return json.Marshal(v.Doc)
	case value.Text:
		return []byte(v), nil
	case value.Unknown:
		return []byte(v.Text), nil
	}
	return nil, fmt.Errorf("executor: explain returned %s", rows[0][0].Kind())
}
