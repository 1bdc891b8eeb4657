package expr

import (
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
)

// cel-go's type registry is not safe for concurrent environment creation
// or compilation; serialize both behind one mutex.
var celMu sync.Mutex

// Environment is a thread-safe CEL environment with the flag condition
// library preloaded.
type Environment struct {
	env *cel.Env
}

// NewEnvironment creates a new [Environment]. Extra options extend the
// condition library.
func NewEnvironment(opts ...cel.EnvOption) (*Environment, error) {
	celMu.Lock()
	defer celMu.Unlock()

	env, err := cel.NewEnv(append(opts, cel.Lib(&lib{}))...)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}

	return &Environment{env: env}, nil
}

// Compile type-checks a condition and returns its program. Conditions must
// produce a boolean; callers check the result type at evaluation.
//
//nolint:ireturn // Following CEL's function signature.
func (e *Environment) Compile(expression string) (cel.Program, error) {
	celMu.Lock()
	defer celMu.Unlock()

	ast, issues := e.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile expression: %w", issues.Err())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("create program: %w", err)
	}

	return program, nil
}
