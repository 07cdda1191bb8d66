package automation

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/larder/internal/domain"
)

// Gate decides whether an action may execute without approval.
// Rule conditions are CEL expressions compiled once at load time.
type Gate struct {
	mu    sync.RWMutex
	env   *cel.Env
	rules map[string]*compiledRule
}

type compiledRule struct {
	rule    domain.AutomationRule
	program cel.Program
}

// Decision is the outcome of a gate check.
type Decision struct {
	RequiresApproval bool
	Reason           string
}

// NewGate compiles the automation rules. Invalid expressions are rejected.
func NewGate(rules []domain.AutomationRule) (*Gate, error) {
	// Variables visible to rule conditions
	env, err := cel.NewEnv(
		cel.Variable("action_id", cel.StringType),
		cel.Variable("category", cel.StringType),
		cel.Variable("kind", cel.StringType),
		cel.Variable("priority", cel.StringType),
		cel.Variable("priority_rank", cel.IntType),
		cel.Variable("cost_min", cel.DoubleType),
		cel.Variable("cost_max", cel.DoubleType),
		cel.Variable("quantity", cel.DoubleType),
		cel.Variable("entity_id", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	g := &Gate{env: env}
	if err := g.ReloadRules(rules); err != nil {
		return nil, err
	}
	return g, nil
}

// ReloadRules atomically replaces the rule set.
func (g *Gate) ReloadRules(rules []domain.AutomationRule) error {
	compiled := make(map[string]*compiledRule, len(rules))
	for _, r := range rules {
		if r.Category == "" {
			return fmt.Errorf("%w: automation rule without category", domain.ErrInvalidConfig)
		}
		if _, dup := compiled[r.Category]; dup {
			return fmt.Errorf("%w: duplicate automation rule for %q", domain.ErrInvalidConfig, r.Category)
		}
		c, err := g.compile(r)
		if err != nil {
			return err
		}
		compiled[r.Category] = c
	}

	g.mu.Lock()
	g.rules = compiled
	g.mu.Unlock()
	return nil
}

// Rules returns the loaded rules.
func (g *Gate) Rules() []domain.AutomationRule {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := make([]domain.AutomationRule, 0, len(g.rules))
	for _, c := range g.rules {
		out = append(out, c.rule)
	}
	return out
}

// Check evaluates the rule of the recommendation's category.
// A category without a rule requires approval. A condition that fails to
// evaluate also requires approval.
func (g *Gate) Check(rec domain.Recommendation, params domain.ExecutionParams) Decision {
	g.mu.RLock()
	c, ok := g.rules[rec.Category]
	g.mu.RUnlock()

	if !ok {
		return Decision{RequiresApproval: true, Reason: fmt.Sprintf("no automation rule for category %q", rec.Category)}
	}
	if c.rule.RequiresApproval {
		return Decision{RequiresApproval: true, Reason: fmt.Sprintf("category %q always requires approval", rec.Category)}
	}
	if c.program == nil {
		return Decision{}
	}

	entityID := params.EntityID
	if entityID == "" {
		entityID = rec.EntityID
	}
	out, _, err := c.program.Eval(map[string]any{
		"action_id":     rec.ActionID,
		"category":      rec.Category,
		"kind":          rec.Kind,
		"priority":      string(rec.Priority),
		"priority_rank": int64(rec.Priority.Rank()),
		"cost_min":      rec.Cost.Min,
		"cost_max":      rec.Cost.Max,
		"quantity":      params.Quantity,
		"entity_id":     entityID,
	})
	if err != nil {
		return Decision{RequiresApproval: true, Reason: fmt.Sprintf("condition evaluation error: %v", err)}
	}
	if out == types.True {
		return Decision{RequiresApproval: true, Reason: fmt.Sprintf("condition matched: %s", c.rule.Condition)}
	}
	return Decision{}
}

func (g *Gate) compile(r domain.AutomationRule) (*compiledRule, error) {
	if r.Condition == "" {
		return &compiledRule{rule: r}, nil
	}

	ast, issues := g.env.Compile(r.Condition)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("%w: rule %s: %v", domain.ErrInvalidConfig, r.Category, issues.Err())
	}
	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("%w: rule %s: condition must return bool, got %s", domain.ErrInvalidConfig, r.Category, ast.OutputType())
	}

	program, err := g.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", r.Category, err)
	}
	return &compiledRule{rule: r, program: program}, nil
}
