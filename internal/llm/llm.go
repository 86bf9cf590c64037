// Package llm provides the structured-text generation capability used by the
// pipeline stages, and an adapter for OpenAI-compatible chat endpoints.
package llm

import "context"

// Generator produces free-form text for a system context and a prompt.
type Generator interface {
	Call(ctx context.Context, system, prompt string) (string, error)
}

// GeneratorFunc adapts a function to Generator.
type GeneratorFunc func(ctx context.Context, system, prompt string) (string, error)

// Call implements Generator.
func (f GeneratorFunc) Call(ctx context.Context, system, prompt string) (string, error) {
	return f(ctx, system, prompt)
}

// Component names for call sites.
const (
	ComponentIdentify  = "identify"
	ComponentAssemble  = "assemble"
	ComponentJudge     = "judge"
	ComponentRecovery  = "recovery"
	ComponentCuriosity = "curiosity"
	ComponentRaw       = "raw"
)

type componentKey struct{}

// WithComponent labels calls made with ctx for logging and metrics.
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey{}, component)
}

// ComponentFrom returns the component label on ctx, or ComponentRaw.
func ComponentFrom(ctx context.Context) string {
	if c, ok := ctx.Value(componentKey{}).(string); ok && c != "" {
		return c
	}
	return ComponentRaw
}

// Recovery returns a recovery function that re-asks gen under system, for use
// with retry.Parser.
func Recovery(gen Generator, system string) func(ctx context.Context, prompt string) (string, error) {
	return func(ctx context.Context, prompt string) (string, error) {
		return gen.Call(WithComponent(ctx, ComponentRecovery), system, prompt)
	}
}
