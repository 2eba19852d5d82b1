package policy

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/rego"
	"go.uber.org/zap"
)

// Engine decides whether a validated plan step may be dispatched.
type Engine interface {
	Evaluate(ctx context.Context, input *StepInput) (*Decision, error)
	IsEnabled() bool
	Mode() Mode
}

// StepInput is the document exposed to rego as `input`.
type StepInput struct {
	RequestID string                 `json:"request_id,omitempty"`
	StepIndex int                    `json:"step_index"`
	Function  string                 `json:"function"`
	Arguments map[string]interface{} `json:"arguments"`
	Context   map[string]string      `json:"context"`
	// Executed lists functions already run in this plan, in order.
	Executed []string `json:"executed"`
}

// Decision represents the policy evaluation result
type Decision struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason,omitempty"`
	// DryRun is set when the policy denied but the deny was only logged.
	DryRun bool `json:"dry_run,omitempty"`
}

// OPAEngine implements Engine using OPA rego
type OPAEngine struct {
	config Config
	logger *zap.Logger

	mu       sync.RWMutex
	compiled *rego.PreparedEvalQuery
}

// NewOPAEngine creates an engine and loads policies from config.Path when
// enabled. In fail-open mode a load failure disables the engine instead of
// returning an error.
func NewOPAEngine(config Config, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mode == "" {
		config.Mode = ModeEnforce
	}
	e := &OPAEngine{config: config, logger: logger}
	if !config.Enabled || config.Mode == ModeOff {
		return e, nil
	}
	if err := e.LoadPolicies(); err != nil {
		if config.FailClosed {
			return nil, fmt.Errorf("failed to load policies in fail-closed mode: %w", err)
		}
		logger.Warn("Failed to load policies, running in fail-open mode", zap.Error(err))
	}
	return e, nil
}

// NewOPAEngineFromModules compiles the given rego sources (module name to
// source). Intended for embedded policies and tests.
func NewOPAEngineFromModules(config Config, modules map[string]string, logger *zap.Logger) (*OPAEngine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Mode == "" {
		config.Mode = ModeEnforce
	}
	config.Enabled = true
	e := &OPAEngine{config: config, logger: logger}
	if err := e.compile(modules); err != nil {
		return nil, err
	}
	return e, nil
}

// LoadPolicies loads and compiles all .rego files under the configured path.
func (e *OPAEngine) LoadPolicies() error {
	modules := make(map[string]string)
	err := filepath.Walk(e.config.Path, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".rego") {
			return nil
		}
		content, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read policy file %s: %w", path, err)
		}
		rel, _ := filepath.Rel(e.config.Path, path)
		modules[rel] = string(content)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk policy directory: %w", err)
	}
	if len(modules) == 0 {
		return fmt.Errorf("no policy files found in %s", e.config.Path)
	}
	return e.compile(modules)
}

func (e *OPAEngine) compile(modules map[string]string) error {
	names := make([]string, 0, len(modules))
	for name := range modules {
		names = append(names, name)
	}
	sort.Strings(names)

	opts := []func(*rego.Rego){rego.Query(DecisionQuery)}
	for _, name := range names {
		opts = append(opts, rego.Module(name, modules[name]))
	}

	compiled, err := rego.New(opts...).PrepareForEval(context.Background())
	if err != nil {
		return fmt.Errorf("failed to compile policies: %w", err)
	}

	e.mu.Lock()
	e.compiled = &compiled
	e.mu.Unlock()

	e.logger.Info("Step policies compiled",
		zap.Int("policy_count", len(modules)),
		zap.String("decision_query", DecisionQuery),
		zap.String("mode", string(e.config.Mode)),
	)
	return nil
}

// IsEnabled reports whether steps are evaluated at all.
func (e *OPAEngine) IsEnabled() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.config.Enabled && e.config.Mode != ModeOff && e.compiled != nil
}

// Mode returns the configured enforcement mode.
func (e *OPAEngine) Mode() Mode { return e.config.Mode }

// Evaluate runs the decision query for one step.
func (e *OPAEngine) Evaluate(ctx context.Context, input *StepInput) (*Decision, error) {
	e.mu.RLock()
	compiled := e.compiled
	e.mu.RUnlock()

	if !e.config.Enabled || e.config.Mode == ModeOff || compiled == nil {
		return &Decision{Allow: true, Reason: "policy engine disabled or no policies loaded"}, nil
	}

	doc, err := toDocument(input)
	if err != nil {
		return e.failure("input conversion failed"), err
	}

	results, err := compiled.Eval(ctx, rego.EvalInput(doc))
	if err != nil {
		e.logger.Error("Policy evaluation failed", zap.Error(err))
		return e.failure("policy evaluation error"), err
	}

	decision := parseResults(results)
	if !decision.Allow {
		if e.config.Mode == ModeDryRun {
			e.logger.Info("Policy would deny step (dry-run)",
				zap.String("function", input.Function),
				zap.Int("step", input.StepIndex),
				zap.String("reason", decision.Reason),
			)
			decision.Allow = true
			decision.DryRun = true
		}
	}
	return decision, nil
}

func (e *OPAEngine) failure(reason string) *Decision {
	return &Decision{Allow: !e.config.FailClosed, Reason: reason}
}

func toDocument(input *StepInput) (map[string]interface{}, error) {
	data, err := json.Marshal(input)
	if err != nil {
		return nil, err
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// parseResults accepts either {"allow": bool, "reason": string} or a bare
// boolean. Anything else is a deny.
func parseResults(results rego.ResultSet) *Decision {
	decision := &Decision{Allow: false, Reason: "no matching policy rules"}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return decision
	}

	switch v := results[0].Expressions[0].Value.(type) {
	case map[string]interface{}:
		if allow, ok := v["allow"].(bool); ok {
			decision.Allow = allow
		}
		if reason, ok := v["reason"].(string); ok {
			decision.Reason = reason
		}
	case bool:
		decision.Allow = v
		if v {
			decision.Reason = "allowed by policy"
		} else {
			decision.Reason = "denied by policy"
		}
	}
	return decision
}
