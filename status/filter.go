package status

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/cel-go/cel"

	"github.com/xraph/jobq"
	"github.com/xraph/jobq/job"
)

// jobFilter is a compiled CEL predicate over a job. The zero value
// matches everything.
type jobFilter struct {
	prog cel.Program
}

// compileFilter compiles expr against the job variable:
//
//	job.type, job.queue, job.state, job.priority (strings)
//	job.attempts, job.max_attempts, job.created_ms (ints)
//	job.payload (decoded JSON)
//
// An empty expression yields a filter that matches every job.
func compileFilter(expr string) (jobFilter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return jobFilter{}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("job", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return jobFilter{}, err
	}
	ast, iss := env.Compile(expr)
	if iss != nil && iss.Err() != nil {
		return jobFilter{}, jobq.Configuration(fmt.Errorf("filter %q: %w", expr, iss.Err()))
	}
	if out := ast.OutputType(); !out.IsExactType(cel.BoolType) && !out.IsExactType(cel.DynType) {
		return jobFilter{}, jobq.Configuration(fmt.Errorf("filter %q must evaluate to bool, not %s", expr, out))
	}
	prog, err := env.Program(ast)
	if err != nil {
		return jobFilter{}, jobq.Configuration(fmt.Errorf("filter %q: %w", expr, err))
	}
	return jobFilter{prog: prog}, nil
}

// Match reports whether j satisfies the filter. Evaluation errors, such as
// a missing payload field, count as no match.
func (f jobFilter) Match(j *job.Job) bool {
	if f.prog == nil {
		return true
	}
	var payload any
	_ = json.Unmarshal(j.Payload, &payload)

	out, _, err := f.prog.Eval(map[string]any{
		"job": map[string]any{
			"id":           j.ID.String(),
			"type":         j.Name,
			"queue":        j.Queue,
			"state":        string(j.State),
			"priority":     j.Priority.String(),
			"attempts":     int64(j.Attempts),
			"max_attempts": int64(j.MaxRetries),
			"payload":      payload,
			"created_ms":   j.CreatedAt.UnixMilli(),
		},
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
