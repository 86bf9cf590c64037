// Package llmtest provides a scripted Generator for tests.
package llmtest

import (
	"context"
	"fmt"
	"sync"

	"github.com/MLenaBleile/sandy/internal/llm"
)

// Call is one recorded generator call.
type Call struct {
	Component string
	System    string
	Prompt    string
}

type response struct {
	text string
	err  error
}

// Generator replays queued responses. Responses queued for a component are
// used first; otherwise the shared queue is consumed in order. An exhausted
// queue returns an error.
type Generator struct {
	mu          sync.Mutex
	shared      []response
	byComponent map[string][]response
	calls       []Call
}

// New returns a generator with texts queued on the shared queue.
func New(texts ...string) *Generator {
	g := &Generator{byComponent: make(map[string][]response)}
	for _, t := range texts {
		g.shared = append(g.shared, response{text: t})
	}
	return g
}

// Push queues a response on the shared queue.
func (g *Generator) Push(text string) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shared = append(g.shared, response{text: text})
	return g
}

// PushError queues an error on the shared queue.
func (g *Generator) PushError(err error) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.shared = append(g.shared, response{err: err})
	return g
}

// On queues responses for calls labelled with component.
func (g *Generator) On(component string, texts ...string) *Generator {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, t := range texts {
		g.byComponent[component] = append(g.byComponent[component], response{text: t})
	}
	return g
}

// Call implements llm.Generator.
func (g *Generator) Call(ctx context.Context, system, prompt string) (string, error) {
	component := llm.ComponentFrom(ctx)
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls = append(g.calls, Call{Component: component, System: system, Prompt: prompt})

	if q := g.byComponent[component]; len(q) > 0 {
		g.byComponent[component] = q[1:]
		return q[0].text, q[0].err
	}
	if len(g.shared) == 0 {
		return "", fmt.Errorf("llmtest: no scripted response for %s call", component)
	}
	r := g.shared[0]
	g.shared = g.shared[1:]
	return r.text, r.err
}

// Calls returns the recorded calls.
func (g *Generator) Calls() []Call {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]Call(nil), g.calls...)
}

// CallCount returns the number of calls, optionally only for one component.
func (g *Generator) CallCount(component ...string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(component) == 0 {
		return len(g.calls)
	}
	n := 0
	for _, c := range g.calls {
		if c.Component == component[0] {
			n++
		}
	}
	return n
}
