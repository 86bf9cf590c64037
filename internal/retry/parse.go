package retry

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/MLenaBleile/sandy/internal/errs"
)

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*\\n?(.*?)\\n?```")

// ExtractJSON pulls a JSON object out of text that may be surrounded by prose.
// It tries a direct parse, then a fenced code block, then the first
// brace-balanced substring.
func ExtractJSON(text string) (map[string]any, error) {
	text = strings.TrimSpace(text)
	if m, ok := decodeObject(text); ok {
		return m, nil
	}
	if match := fencedBlock.FindStringSubmatch(text); match != nil {
		if m, ok := decodeObject(strings.TrimSpace(match[1])); ok {
			return m, nil
		}
	}
	if span, ok := balancedObject(text); ok {
		if m, ok := decodeObject(span); ok {
			return m, nil
		}
	}
	return nil, errs.Parse("could not extract valid JSON from generation output", text)
}

func decodeObject(s string) (map[string]any, bool) {
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil || m == nil {
		return nil, false
	}
	return m, true
}

// balancedObject returns the substring from the first '{' to its matching '}'.
// Braces inside JSON strings are ignored.
func balancedObject(text string) (string, bool) {
	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1], true
			}
		}
	}
	return "", false
}

// RecoveryFunc issues one stricter generation call and returns its raw text.
type RecoveryFunc func(ctx context.Context, prompt string) (string, error)

// Parser extracts required fields from generation output, with an optional
// single recovery call.
type Parser struct {
	Recover RecoveryFunc
	Prompt  string
	Logger  *zap.Logger
	// NonBlank counts a required field whose value is blank after trimming
	// as missing.
	NonBlank bool
}

// Parse extracts an object from raw containing every required field. When
// that fails and a recovery path is configured, it makes exactly one recovery
// call and parses its output. Missing fields are never filled in.
func (p Parser) Parse(ctx context.Context, raw string, required []string) (map[string]any, error) {
	parsed, err := ExtractJSON(raw)
	missing := required
	if err == nil {
		missing = p.missingFields(parsed, required)
		if len(missing) == 0 {
			return parsed, nil
		}
	}

	if p.Recover == nil || p.Prompt == "" {
		if parsed != nil {
			return nil, missingError(raw, missing)
		}
		return nil, errs.Parse("could not extract valid JSON from generation output", raw)
	}

	if p.Logger != nil {
		p.Logger.Warn("parse failed, retrying with stricter prompt", zap.Strings("missing", missing))
	}
	retryText, err := p.Recover(ctx, p.Prompt)
	if err != nil {
		return nil, err
	}
	parsed, err = ExtractJSON(retryText)
	if err != nil {
		pe := errs.Parse("could not extract valid JSON after recovery", raw)
		pe.Context["recovery_output"] = retryText
		return nil, pe
	}
	if missing = p.missingFields(parsed, required); len(missing) > 0 {
		pe := missingError(raw, missing)
		pe.Context["recovery_output"] = retryText
		return nil, pe
	}
	return parsed, nil
}

// ParseWithRecovery is Parser{Recover: recoverFn, Prompt: prompt}.Parse.
func ParseWithRecovery(ctx context.Context, raw string, required []string, recoverFn RecoveryFunc, prompt string) (map[string]any, error) {
	return Parser{Recover: recoverFn, Prompt: prompt}.Parse(ctx, raw, required)
}

func (p Parser) missingFields(m map[string]any, required []string) []string {
	var missing []string
	for _, f := range required {
		if _, ok := m[f]; !ok || (p.NonBlank && String(m, f) == "") {
			missing = append(missing, f)
		}
	}
	return missing
}

func missingError(raw string, missing []string) *errs.ParseError {
	pe := errs.Parse(fmt.Sprintf("missing required fields: %v", missing), raw)
	pe.Context["missing"] = missing
	return pe
}

// String returns m[key] as trimmed text. Numbers and booleans are formatted;
// nil and absent keys give "".
func String(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(v)
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

// Float returns m[key] as a float64, accepting JSON numbers and numeric strings.
func Float(m map[string]any, key string) (float64, error) {
	switch v := m[key].(type) {
	case float64:
		return v, nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return 0, fmt.Errorf("field %s: %w", key, err)
		}
		return f, nil
	case nil:
		return 0, fmt.Errorf("field %s: missing", key)
	default:
		return 0, fmt.Errorf("field %s: unexpected type %T", key, v)
	}
}
