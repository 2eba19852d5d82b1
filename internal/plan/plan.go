package plan

import (
	"fmt"

	"github.com/Kocoro-lab/clinicflow/internal/schema"
)

// Step is one proposed function call. Function is not validated here; the
// executor decides at run time whether it names a known operation.
type Step struct {
	Function  schema.FunctionName    `json:"function"`
	Arguments map[string]interface{} `json:"arguments"`
}

// CloneArguments returns a shallow copy of the step arguments so that
// execution never mutates the parsed plan.
func (s Step) CloneArguments() map[string]interface{} {
	out := make(map[string]interface{}, len(s.Arguments)+2)
	for k, v := range s.Arguments {
		out[k] = v
	}
	return out
}

// Plan is the ordered list of steps proposed for a single request.
type Plan struct {
	Steps []Step `json:"steps"`
}

// Len returns the number of steps.
func (p *Plan) Len() int {
	if p == nil {
		return 0
	}
	return len(p.Steps)
}

// Decode converts the loosely typed object produced by Extract into a Plan.
//
// An absent or null "steps" field yields an empty plan. A "steps" value that
// is not a list, or a step whose "arguments" is not an object, is reported as
// ErrMalformedPlan. Steps that are not objects, or that carry no string
// "function", decode with an empty function name and fail later as unknown.
func Decode(obj map[string]interface{}) (*Plan, error) {
	p := &Plan{Steps: []Step{}}
	raw, ok := obj["steps"]
	if !ok || raw == nil {
		return p, nil
	}

	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: steps must be a list, got %T", ErrMalformedPlan, raw)
	}

	for i, item := range list {
		m, ok := item.(map[string]interface{})
		if !ok {
			p.Steps = append(p.Steps, Step{Arguments: map[string]interface{}{}})
			continue
		}

		step := Step{Arguments: map[string]interface{}{}}
		switch fn := m["function"].(type) {
		case string:
			step.Function = schema.FunctionName(fn)
		case nil:
		default:
			step.Function = schema.FunctionName(fmt.Sprint(fn))
		}

		switch args := m["arguments"].(type) {
		case map[string]interface{}:
			for k, v := range args {
				step.Arguments[k] = v
			}
		case nil:
		default:
			return nil, fmt.Errorf("%w: step %d arguments must be an object, got %T", ErrMalformedPlan, i, args)
		}

		p.Steps = append(p.Steps, step)
	}
	return p, nil
}

// Parse runs Extract followed by Decode.
func Parse(raw string) (*Plan, error) {
	obj, err := Extract(raw)
	if err != nil {
		return nil, err
	}
	return Decode(obj)
}
