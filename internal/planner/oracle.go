package planner

import "context"

// Oracle turns free text into a raw plan document. Its output is untrusted
// and always goes through Normalize before anything runs.
type Oracle interface {
	Plan(ctx context.Context, command string) ([]byte, error)
}

// OracleFunc adapts a function to the Oracle interface.
type OracleFunc func(ctx context.Context, command string) ([]byte, error)

func (f OracleFunc) Plan(ctx context.Context, command string) ([]byte, error) {
	return f(ctx, command)
}
