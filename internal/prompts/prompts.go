// Package prompts renders the generation prompts used by each pipeline stage.
package prompts

import (
	"strings"
	"text/template"
)

// Persona is the system context for identification, assembly and curiosity calls.
const Persona = `You are Sandy, a patient maker of knowledge sandwiches. A sandwich is a bounded triple:
two related concepts (the bread) and a third concept (the filling) whose meaning or value
is genuinely constrained by the relationship between them. You are content, dryly witty,
and philosophically serious about structure. You never force a sandwich that is not there.`

const (
	// IdentifyRecoverySystem is the system context for identifier recovery calls.
	IdentifyRecoverySystem = "You are Sandy, examining content for sandwich potential."

	// IdentifyRecovery asks for a strict re-emission of identification output.
	IdentifyRecovery = `Your previous response could not be parsed. Please respond ONLY with a valid JSON object with exactly these keys: "candidates" (list of objects with bread_top, bread_bottom, filling, structure_type, confidence, rationale), "no_sandwich_reason" (string or null). No other text.`

	// AssembleRecovery asks for a strict re-emission of assembly output.
	AssembleRecovery = `Your previous response could not be parsed. Please respond ONLY with a valid JSON object with exactly these keys: "name" (string), "description" (string), "containment_argument" (string), "sandy_commentary" (string). No other text.`

	// JudgeSystem is the system context for the judge call and its recovery.
	JudgeSystem = "You are a rigorous evaluator of knowledge sandwiches."

	// JudgeRecovery asks for a strict re-emission of judge scores.
	JudgeRecovery = `Your previous response could not be parsed. Please respond ONLY with a valid JSON object with exactly these keys: bread_compat_score (float 0-1), containment_score (float 0-1), specificity_score (float 0-1), rationale (string). No other text.`
)

var identifyTmpl = template.Must(template.New("identify").Parse(`Examine the content below for sandwich structures.

For each candidate, name two related concepts from the content that act as bread (bread_top,
bread_bottom) and one concept that sits between them as filling, bounded by both. Classify the
structure as one of: bound, dialectic, epistemic, temporal, perspectival, conditional,
stochastic, optimization, negotiation, definitional. Give a confidence between 0 and 1 and a
one-sentence rationale.

Return at most three candidates, best first. If the content holds no real structure, return an
empty list and say why.

Respond with JSON only:
{"candidates": [{"bread_top": "...", "bread_bottom": "...", "filling": "...", "structure_type": "...", "confidence": 0.0, "rationale": "..."}], "no_sandwich_reason": null}

CONTENT:
{{.Content}}`))

var assembleTmpl = template.Must(template.New("assemble").Parse(`Assemble a sandwich from these ingredients.

Bread (top): {{.AnchorA}}
Bread (bottom): {{.AnchorB}}
Filling: {{.Filling}}
Structure type: {{.StructureType}}

Source excerpt:
{{.Snippet}}

Give the sandwich a short memorable name, a description of two or three sentences, a
containment argument explaining why the filling is genuinely bounded by both pieces of bread
rather than merely near them, and a line of your own commentary.

Respond with JSON only:
{"name": "...", "description": "...", "containment_argument": "...", "sandy_commentary": "..."}`))

var judgeTmpl = template.Must(template.New("judge").Parse(`Evaluate this sandwich.

Name: {{.Name}}
Bread (top): {{.AnchorA}}
Bread (bottom): {{.AnchorB}}
Filling: {{.Filling}}
Structure type: {{.StructureType}}
Description: {{.Description}}
Containment argument: {{.ContainmentArgument}}

Score each dimension from 0 to 1:
- bread_compat_score: do the two pieces of bread form a coherent, related pair?
- containment_score: is the filling genuinely constrained by both pieces of bread?
- specificity_score: is the sandwich specific and informative rather than generic?

Respond with JSON only:
{"bread_compat_score": 0.0, "containment_score": 0.0, "specificity_score": 0.0, "rationale": "..."}`))

var curiosityTmpl = template.Must(template.New("curiosity").Parse(`Name one topic you are curious about right now, something likely to contain a tension,
a trade-off, or a quantity bounded by two forces. Avoid these recent topics: {{.Recent}}.

Respond with the topic alone, as a short search phrase.`))

// AssembleInput are the fields rendered into the assembly prompt.
type AssembleInput struct {
	AnchorA       string
	AnchorB       string
	Filling       string
	StructureType string
	Snippet       string
}

// JudgeInput are the fields rendered into the judge prompt.
type JudgeInput struct {
	Name                string
	AnchorA             string
	AnchorB             string
	Filling             string
	StructureType       string
	Description         string
	ContainmentArgument string
}

func render(t *template.Template, data any) (string, error) {
	var sb strings.Builder
	if err := t.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Identify renders the identification prompt for content.
func Identify(content string) (string, error) {
	return render(identifyTmpl, struct{ Content string }{content})
}

// Assemble renders the assembly prompt.
func Assemble(in AssembleInput) (string, error) {
	return render(assembleTmpl, in)
}

// Judge renders the validator's judge prompt.
func Judge(in JudgeInput) (string, error) {
	return render(judgeTmpl, in)
}

// Curiosity renders the foraging prompt, steering away from recent topics.
func Curiosity(recent []string) (string, error) {
	topics := "none yet"
	if len(recent) > 0 {
		topics = strings.Join(recent, ", ")
	}
	return render(curiosityTmpl, struct{ Recent string }{topics})
}
