// Package rules evaluates the boolean guards attached to workflow transitions.
package rules

import (
	"errors"
	"fmt"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// ErrNotBoolean is returned when a guard produces a non-boolean value.
var ErrNotBoolean = errors.New("expression did not evaluate to a boolean")

// Evaluator decides whether a guard holds for the given environment.
type Evaluator interface {
	Evaluate(expression string, env map[string]interface{}) (bool, error)
}

// ExprEvaluator evaluates guards with expr-lang/expr and keeps compiled
// programs keyed by their source text.
type ExprEvaluator struct {
	mu    sync.RWMutex
	cache map[string]*vm.Program
}

// NewExprEvaluator creates an evaluator with an empty program cache.
func NewExprEvaluator() *ExprEvaluator {
	return &ExprEvaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Compile type-checks expression against env and caches the program.
// The engine calls it at construction so a broken guard fails fast.
func (e *ExprEvaluator) Compile(expression string, env map[string]interface{}) error {
	_, err := e.program(expression, env)
	return err
}

// Evaluate runs expression against env.
func (e *ExprEvaluator) Evaluate(expression string, env map[string]interface{}) (bool, error) {
	program, err := e.program(expression, env)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, fmt.Errorf("run %q: %w", expression, err)
	}
	ok, isBool := result.(bool)
	if !isBool {
		return false, fmt.Errorf("%w: %q gave %T", ErrNotBoolean, expression, result)
	}
	return ok, nil
}

// Len returns the number of cached programs.
func (e *ExprEvaluator) Len() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

func (e *ExprEvaluator) program(expression string, env map[string]interface{}) (*vm.Program, error) {
	e.mu.RLock()
	program, ok := e.cache[expression]
	e.mu.RUnlock()
	if ok {
		return program, nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if program, ok = e.cache[expression]; ok {
		return program, nil
	}
	program, err := expr.Compile(expression, expr.Env(env), expr.AsBool())
	if err != nil {
		return nil, fmt.Errorf("compile %q: %w", expression, err)
	}
	e.cache[expression] = program
	return program, nil
}
